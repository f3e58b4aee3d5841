package server

import (
	"bufio"
	"net"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestLocationConstructors(t *testing.T) {
	tests := []struct {
		loc  Location
		kind LocationKind
	}{
		{MainMenuLocation(), MainMenu},
		{RoomLocation("lobby"), InRoom},
		{DMLocation(9), InDM},
	}

	for _, tt := range tests {
		if tt.loc.Kind != tt.kind {
			t.Errorf("Expected %s, got %s", tt.kind, tt.loc.Kind)
		}
		if tt.loc.Room != "" && tt.loc.Peer != 0 {
			t.Errorf("Location %+v has both a room and a peer", tt.loc)
		}
	}

	if !RoomLocation("lobby").InRoom("lobby") || RoomLocation("lobby").InRoom("Lobby") {
		t.Error("InRoom must match the exact room name")
	}
	if !DMLocation(9).InDMWith(9) || DMLocation(9).InDMWith(8) || RoomLocation("9").InDMWith(0) {
		t.Error("InDMWith mismatch")
	}
}

func TestSessionStateTransitions(t *testing.T) {
	s, _ := newTestSession(t)

	if st := s.State(); st.LoggedIn() || st.Location.Kind != Unauthenticated {
		t.Fatalf("Expected new session to be unauthenticated, got %+v", st)
	}
	if s.moveTo(RoomLocation("lobby")) {
		t.Error("Unauthenticated session must not move into a room")
	}

	s.bind(3, "alice")
	st := s.State()
	if st.UserID != 3 || st.Username != "alice" || st.Location.Kind != MainMenu {
		t.Errorf("Unexpected state after bind: %+v", st)
	}

	s.moveTo(RoomLocation("lobby"))
	s.moveTo(DMLocation(4))
	if loc := s.State().Location; loc.Room != "" || loc.Peer != 4 {
		t.Errorf("Moving to a DM must clear the room: %+v", loc)
	}

	s.moveTo(MainMenuLocation())
	if loc := s.State().Location; loc.Room != "" || loc.Peer != 0 || loc.Kind != MainMenu {
		t.Errorf("Back must clear room and peer: %+v", loc)
	}
}

func TestSessionConcurrentSend(t *testing.T) {
	s, peer := newTestSession(t)

	const writers = 10
	lines := make(chan string, writers)
	go func() {
		reader := bufio.NewReader(peer)
		peer.SetReadDeadline(time.Now().Add(ioTimeout))
		for i := 0; i < writers*2; i++ {
			line, err := reader.ReadString('\n')
			if err != nil {
				close(lines)
				return
			}
			lines <- strings.TrimSuffix(line, "\n")
		}
		close(lines)
	}()

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Send("header", "body")
		}()
	}

	// Each Send is written as a unit: header is always followed by body.
	var prev string
	count := 0
	for line := range lines {
		if line == "body" && prev != "header" {
			t.Errorf("Interleaved write: %q after %q", line, prev)
		}
		prev = line
		count++
	}
	wg.Wait()

	if count != writers*2 {
		t.Errorf("Expected %d lines, got %d", writers*2, count)
	}
}

func TestSessionCloseOnce(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	s := newSession(serverConn, time.Second, nil)
	if err := s.Close(); err != nil {
		t.Fatalf("First close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Second close should be a no-op, got %v", err)
	}
}
