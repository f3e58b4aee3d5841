package server

import (
	"bufio"
	"context"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"linechat/db"
	"linechat/protocol"
)

const ioTimeout = 5 * time.Second

// setupTestServer starts a server on a loopback port backed by a
// temporary SQLite database.
func setupTestServer(t *testing.T, configure func(*ServerConfig)) (*Server, *db.DB, string) {
	t.Helper()

	database, err := db.New(filepath.Join(t.TempDir(), "test.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}

	config := &ServerConfig{
		Host:            "127.0.0.1",
		WriteTimeout:    ioTimeout,
		MessageRate:     1000,
		MessageBurst:    1000,
		AllowMultiLogin: true,
	}
	if configure != nil {
		configure(config)
	}

	srv := New(database, config, zap.NewNop())

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	go srv.Serve(listener)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), ioTimeout)
		defer cancel()
		srv.Shutdown(ctx, "test finished")
		database.Close()
	})

	return srv, database, listener.Addr().String()
}

type testClient struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader
}

// dial connects and consumes the welcome banner.
func dial(t *testing.T, addr string) *testClient {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, ioTimeout)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	c := &testClient{t: t, conn: conn, reader: bufio.NewReader(conn)}
	c.expect("Or '/login <username> <password>'")
	return c
}

func (c *testClient) send(line string) {
	c.t.Helper()
	c.conn.SetWriteDeadline(time.Now().Add(ioTimeout))
	if _, err := c.conn.Write([]byte(line + "\n")); err != nil {
		c.t.Fatalf("Failed to send %q: %v", line, err)
	}
}

func (c *testClient) readLine() (string, error) {
	c.conn.SetReadDeadline(time.Now().Add(ioTimeout))
	line, err := c.reader.ReadString('\n')
	return strings.TrimSuffix(line, "\n"), err
}

// readUntil returns every line read up to and including the first one
// containing substr.
func (c *testClient) readUntil(substr string) []string {
	c.t.Helper()
	var lines []string
	for {
		line, err := c.readLine()
		if err != nil {
			c.t.Fatalf("Waiting for %q: %v (read so far: %q)", substr, err, lines)
		}
		lines = append(lines, line)
		if strings.Contains(line, substr) {
			return lines
		}
	}
}

func (c *testClient) expect(substr string) string {
	c.t.Helper()
	lines := c.readUntil(substr)
	return lines[len(lines)-1]
}

// expectNothingContaining syncs with the server through /help and fails
// if any line before the help footer contains substr.
func (c *testClient) expectNothingContaining(substr string) {
	c.t.Helper()
	c.send(protocol.CmdHelp)
	for _, line := range c.readUntil("  /exit                   - Logout") {
		if strings.Contains(line, substr) {
			c.t.Errorf("Unexpected line %q", line)
		}
	}
}

func (c *testClient) expectClosed() {
	c.t.Helper()
	for {
		if _, err := c.readLine(); err != nil {
			return
		}
	}
}

func (c *testClient) register(username, password string) {
	c.t.Helper()
	c.send("/register " + username + " " + password)
	c.expect(protocol.MsgRegistered)
}

func (c *testClient) login(username, password string) {
	c.t.Helper()
	c.send("/login " + username + " " + password)
	c.expect(protocol.LoginOK(username))
	c.expect("Please type a command:")
}

// signup registers and logs in.
func (c *testClient) signup(username, password string) {
	c.t.Helper()
	c.register(username, password)
	c.login(username, password)
}

// join enters room and returns the lines shown while joining.
func (c *testClient) join(room string) []string {
	c.t.Helper()
	c.send("/join " + room)
	return c.readUntil(protocol.MsgChatPrompt)
}

func (c *testClient) dm(username string) []string {
	c.t.Helper()
	c.send("/dm " + username)
	return c.readUntil(protocol.MsgChatPrompt)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(ioTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func containsLine(lines []string, substr string) bool {
	for _, line := range lines {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}
