package server

import (
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

type LocationKind int

const (
	Unauthenticated LocationKind = iota
	MainMenu
	InRoom
	InDM
)

func (k LocationKind) String() string {
	switch k {
	case Unauthenticated:
		return "unauthenticated"
	case MainMenu:
		return "main-menu"
	case InRoom:
		return "room"
	case InDM:
		return "dm"
	default:
		return "unknown"
	}
}

// Location is where a session currently is. Room is set only for InRoom
// and Peer only for InDM; build values with the constructors below.
type Location struct {
	Kind LocationKind
	Room string
	Peer int64
}

func MainMenuLocation() Location {
	return Location{Kind: MainMenu}
}

func RoomLocation(room string) Location {
	return Location{Kind: InRoom, Room: room}
}

func DMLocation(peer int64) Location {
	return Location{Kind: InDM, Peer: peer}
}

func (l Location) InRoom(room string) bool {
	return l.Kind == InRoom && l.Room == room
}

func (l Location) InDMWith(peer int64) bool {
	return l.Kind == InDM && l.Peer == peer
}

// SessionState is a consistent copy of a session's mutable fields.
type SessionState struct {
	UserID   int64
	Username string
	Location Location
}

func (st SessionState) LoggedIn() bool {
	return st.Location.Kind != Unauthenticated
}

// Session is the server side of one client connection. The owning
// connection goroutine is the only writer of its state; other goroutines
// read it through State.
type Session struct {
	ID         uuid.UUID
	Conn       net.Conn
	RemoteAddr string

	limiter      *rate.Limiter
	writeTimeout time.Duration

	mu       sync.RWMutex
	userID   int64
	username string
	location Location

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newSession(conn net.Conn, writeTimeout time.Duration, limiter *rate.Limiter) *Session {
	return &Session{
		ID:           uuid.New(),
		Conn:         conn,
		RemoteAddr:   conn.RemoteAddr().String(),
		limiter:      limiter,
		writeTimeout: writeTimeout,
	}
}

func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SessionState{
		UserID:   s.userID,
		Username: s.username,
		Location: s.location,
	}
}

// bind attaches the logged-in identity and moves to the main menu.
func (s *Session) bind(userID int64, username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = userID
	s.username = username
	s.location = MainMenuLocation()
}

// moveTo replaces the location of a logged-in session. It reports false
// for a session that has not logged in.
func (s *Session) moveTo(loc Location) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.location.Kind == Unauthenticated {
		return false
	}
	s.location = loc
	return true
}

// Send writes each text as a newline-terminated block. Safe for
// concurrent use.
func (s *Session) Send(texts ...string) error {
	var b strings.Builder
	for _, text := range texts {
		b.WriteString(text)
		b.WriteByte('\n')
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.writeTimeout > 0 {
		s.Conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	_, err := s.Conn.Write([]byte(b.String()))
	return err
}

// Close closes the connection once; the owning goroutine then sees a
// read error and tears the session down.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.Conn.Close()
	})
	return err
}
