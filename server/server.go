package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"linechat/models"
	"linechat/protocol"
)

// Store is the persistence gateway used by the server.
type Store interface {
	CreateUser(ctx context.Context, username, password string) error
	Authenticate(ctx context.Context, username, password string) (int64, bool, error)
	UsernameOf(ctx context.Context, id int64) (string, error)
	LookupUserID(ctx context.Context, username string) (int64, bool, error)
	EnsureRoom(ctx context.Context, name string) (int64, error)
	RecordMessage(ctx context.Context, msg models.Message) (*models.Message, error)
	RoomHistory(ctx context.Context, room string) ([]models.HistoryEntry, error)
	DMHistory(ctx context.Context, a, b int64) ([]models.HistoryEntry, error)
}

type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration // 0 disables the idle timeout
	WriteTimeout    time.Duration
	MaxLineLength   int
	MessageRate     float64
	MessageBurst    int
	AllowMultiLogin bool
}

func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

type Server struct {
	store    Store
	config   *ServerConfig
	logger   *zap.Logger
	registry *Registry

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	listener net.Listener
	closing  bool
	wg       sync.WaitGroup

	shutdownRequests chan string
}

func New(store Store, config *ServerConfig, logger *zap.Logger) *Server {
	if config.MaxLineLength <= 0 {
		config.MaxLineLength = 1024
	}
	if config.MessageRate <= 0 {
		config.MessageRate = 5
	}
	if config.MessageBurst <= 0 {
		config.MessageBurst = 10
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		store:            store,
		config:           config,
		logger:           logger,
		registry:         NewRegistry(),
		ctx:              ctx,
		cancel:           cancel,
		shutdownRequests: make(chan string, 1),
	}
}

// Registry exposes the live sessions.
func (s *Server) Registry() *Registry {
	return s.registry
}

func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.config.Addr())
	if err != nil {
		return err
	}
	return s.Serve(listener)
}

// Serve accepts connections on listener until Shutdown is called, then
// returns ErrServerClosed.
func (s *Server) Serve(listener net.Listener) error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		listener.Close()
		return ErrServerClosed
	}
	s.listener = listener
	s.mu.Unlock()

	s.logger.Info("linechat server started", zap.String("addr", listener.Addr().String()))

	var backoff acceptBackoff
	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.Lock()
			closing := s.closing
			s.mu.Unlock()
			if closing {
				return ErrServerClosed
			}

			delay := backoff.next()
			s.logger.Warn("accept failed", zap.Error(err), zap.Duration("retry_in", delay))
			time.Sleep(delay)
			continue
		}
		backoff.reset()

		s.mu.Lock()
		if s.closing {
			s.mu.Unlock()
			conn.Close()
			return ErrServerClosed
		}
		s.wg.Add(1)
		s.mu.Unlock()

		go func() {
			defer s.wg.Done()
			s.handleConnection(conn)
		}()
	}
}

// acceptBackoff paces retries after failed Accept calls: 5ms doubling up
// to one second.
type acceptBackoff struct {
	delay time.Duration
}

func (b *acceptBackoff) next() time.Duration {
	if b.delay == 0 {
		b.delay = 5 * time.Millisecond
	} else {
		b.delay *= 2
	}
	if b.delay > time.Second {
		b.delay = time.Second
	}
	return b.delay
}

func (b *acceptBackoff) reset() {
	b.delay = 0
}

// Addr returns the listening address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) handleConnection(conn net.Conn) {
	limiter := rate.NewLimiter(rate.Limit(s.config.MessageRate), s.config.MessageBurst)
	session := newSession(conn, s.config.WriteTimeout, limiter)
	log := s.logger.With(
		zap.String("conn_id", session.ID.String()),
		zap.String("remote", session.RemoteAddr),
	)

	s.registry.Add(session)
	defer s.teardown(session, log)

	// Shutdown cancels before it snapshots the registry, so a session
	// added after the snapshot sees the cancellation here.
	if s.ctx.Err() != nil {
		return
	}

	log.Info("client connected")

	if err := session.Send(protocol.Welcome()); err != nil {
		log.Debug("failed to send welcome", zap.Error(err))
		return
	}

	// The buffer holds the longest accepted line plus its terminator, so
	// an overlong line never grows memory past it.
	reader := bufio.NewReaderSize(conn, s.config.MaxLineLength+2)
	discarding := false
	for {
		if s.config.ReadTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		}
		frame, err := reader.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			if !discarding {
				discarding = true
				if err := session.Send(protocol.MsgTooLong); err != nil {
					log.Debug("failed to send reply", zap.Error(err))
					return
				}
			}
			continue
		}
		line := string(frame)
		if discarding {
			// Tail of an overlong line.
			discarding = false
			line = ""
		}

		if err != nil {
			// A final unterminated line is still a frame.
			if errors.Is(err, io.EOF) && strings.TrimSpace(line) != "" {
				s.handleLine(session, log, line)
			}
			s.logReadError(session, log, err)
			return
		}

		if line == "" {
			continue
		}
		if err := s.handleLine(session, log, line); err != nil {
			return
		}
	}
}

// handleLine runs one client line. A non-nil result ends the connection.
func (s *Server) handleLine(session *Session, log *zap.Logger, line string) error {
	err := s.dispatch(s.ctx, session, line)
	if err == nil {
		return nil
	}

	var ue *userError
	if errors.As(err, &ue) {
		if sendErr := session.Send(ue.reply); sendErr != nil {
			log.Debug("failed to send reply", zap.Error(sendErr))
			return sendErr
		}
		return nil
	}

	if errors.Is(err, errExit) {
		return err
	}

	log.Error("closing connection after failure", zap.Error(err))
	session.Send(protocol.MsgInternalError)
	return err
}

func (s *Server) logReadError(session *Session, log *zap.Logger, err error) {
	var netErr net.Error
	switch {
	case errors.Is(err, io.EOF):
		log.Info("client closed connection")
	case errors.As(err, &netErr) && netErr.Timeout():
		log.Info("client idle, disconnecting", zap.Duration("timeout", s.config.ReadTimeout))
		session.Send(protocol.MsgIdleTimeout)
	case errors.Is(err, net.ErrClosed):
		log.Debug("connection closed")
	default:
		log.Warn("read failed", zap.Error(err))
	}
}

// teardown runs exactly once per connection, on every exit path.
func (s *Server) teardown(session *Session, log *zap.Logger) {
	s.registry.Remove(session.ID)
	session.Close()

	if st := session.State(); st.LoggedIn() {
		log.Info("client disconnected", zap.String("user", st.Username))
	} else {
		log.Info("client disconnected")
	}
}

// Shutdown stops accepting, tells every client why, closes every
// connection and waits for the connection goroutines until ctx is done.
func (s *Server) Shutdown(ctx context.Context, reason string) error {
	s.mu.Lock()
	alreadyClosing := s.closing
	s.closing = true
	if s.listener != nil {
		s.listener.Close()
	}
	s.mu.Unlock()

	if !alreadyClosing {
		s.logger.Info("shutting down", zap.String("reason", reason), zap.Int("sessions", s.registry.Len()))
		s.cancel()
		for _, session := range s.registry.Snapshot() {
			session.Send(protocol.ShuttingDown(reason))
			session.Close()
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ShutdownRequested delivers the reason of a shutdown asked for over the
// control socket.
func (s *Server) ShutdownRequested() <-chan string {
	return s.shutdownRequests
}

// GetStats returns server statistics as a formatted string
func (s *Server) GetStats() string {
	return "connections=" + strconv.Itoa(s.registry.Len()) + ",users=" + strings.Join(s.registry.Usernames(), ";")
}
