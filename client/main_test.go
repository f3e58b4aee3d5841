package main

import (
	"bufio"
	"bytes"
	"net"
	"strings"
	"testing"
	"time"
)

func TestRunForwardsLines(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	defer listener.Close()

	received := make(chan []string, 1)
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		conn.Write([]byte("welcome\n"))

		var lines []string
		reader := bufio.NewReader(conn)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				break
			}
			lines = append(lines, strings.TrimSpace(line))
			if strings.TrimSpace(line) == "/exit" {
				conn.Write([]byte("bye\n"))
				break
			}
		}
		received <- lines
	}()

	var out bytes.Buffer
	in := strings.NewReader("/help\n/exit\nnever sent\n")
	if err := run(listener.Addr().String(), in, &out); err != nil {
		t.Fatalf("run: %v", err)
	}

	lines := <-received
	if strings.Join(lines, ",") != "/help,/exit" {
		t.Errorf("Expected [/help /exit], got %v", lines)
	}
	if !strings.Contains(out.String(), "welcome") || !strings.Contains(out.String(), "bye") {
		t.Errorf("Expected server output to be copied, got %q", out.String())
	}
}

func TestRunStopsOnExitInAnyCase(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	defer listener.Close()

	received := make(chan []string, 1)
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		var lines []string
		reader := bufio.NewReader(conn)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				break
			}
			lines = append(lines, strings.TrimSpace(line))
			if strings.EqualFold(strings.TrimSpace(line), "/exit") {
				// Keep listening briefly to catch lines sent after it.
				conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
			}
		}
		received <- lines
	}()

	var out bytes.Buffer
	in := strings.NewReader("hello\n/EXIT\nnever sent\n")
	if err := run(listener.Addr().String(), in, &out); err != nil {
		t.Fatalf("run: %v", err)
	}

	lines := <-received
	if strings.Join(lines, ",") != "hello,/EXIT" {
		t.Errorf("Expected [hello /EXIT], got %v", lines)
	}
}
