package server

import (
	"bufio"
	"errors"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ServeControl answers management commands on a local socket until the
// listener is closed. Requests are single lines:
//
//	stats            -> OK|connections=N,users=a;b
//	shutdown|reason  -> OK|Shutting down, then ShutdownRequested fires
func (s *Server) ServeControl(listener net.Listener) {
	s.logger.Info("control socket listening", zap.String("addr", listener.Addr().String()))

	var backoff acceptBackoff
	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			delay := backoff.next()
			s.logger.Warn("control accept failed", zap.Error(err), zap.Duration("retry_in", delay))
			time.Sleep(delay)
			continue
		}
		backoff.reset()

		go s.handleControlCommand(conn)
	}
}

func (s *Server) handleControlCommand(conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		return
	}

	parts := strings.SplitN(strings.TrimSpace(line), "|", 2)

	switch parts[0] {
	case "stats":
		conn.Write([]byte("OK|" + s.GetStats() + "\n"))

	case "shutdown":
		reason := "maintenance"
		if len(parts) == 2 && parts[1] != "" {
			reason = parts[1]
		}
		conn.Write([]byte("OK|Shutting down\n"))
		s.logger.Info("shutdown requested over control socket", zap.String("reason", reason))

		select {
		case s.shutdownRequests <- reason:
		default:
		}

	default:
		conn.Write([]byte("ERROR|Unknown command\n"))
	}
}
