package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"linechat/db"
	"linechat/models"
	"linechat/protocol"
)

// dispatch parses one client line and runs the matching handler.
func (s *Server) dispatch(ctx context.Context, session *Session, raw string) error {
	if len(strings.TrimRight(raw, "\r\n")) > s.config.MaxLineLength {
		return replyErr(ErrProtocol, protocol.MsgTooLong)
	}
	if !utf8.ValidString(raw) {
		return replyErr(ErrProtocol, protocol.MsgInvalidEncoding)
	}

	line, err := protocol.ParseLine(raw)
	if err != nil {
		if errors.Is(err, protocol.ErrEmptyLine) {
			return nil
		}
		return replyErr(ErrProtocol, protocol.MsgUnknownCommand)
	}

	if !line.IsCommand() {
		return s.handleChat(ctx, session, line.Text)
	}

	switch line.Command {
	case protocol.CmdRegister:
		return s.handleRegister(ctx, session, line.Args[0], line.Args[1])
	case protocol.CmdLogin:
		return s.handleLogin(ctx, session, line.Args[0], line.Args[1])
	case protocol.CmdJoin:
		return s.handleJoin(ctx, session, line.Args[0])
	case protocol.CmdDM:
		return s.handleDM(ctx, session, line.Args[0])
	case protocol.CmdHelp:
		return session.Send(protocol.Help())
	case protocol.CmdBack:
		return s.handleBack(session)
	case protocol.CmdExit:
		return s.handleExit(session)
	default:
		return replyErr(ErrProtocol, protocol.MsgUnknownCommand)
	}
}

func (s *Server) handleRegister(ctx context.Context, session *Session, username, password string) error {
	err := s.store.CreateUser(ctx, username, password)
	switch {
	case err == nil:
		s.logger.Info("user registered", zap.String("user", username), zap.String("remote", session.RemoteAddr))
		return session.Send(protocol.MsgRegistered)
	case errors.Is(err, db.ErrUserExists):
		return replyErr(ErrAuth, protocol.MsgRegisterFailed)
	case errors.Is(err, db.ErrPasswordTooLong):
		return replyErr(ErrAuth, "Registration failed. Password too long.")
	default:
		return fmt.Errorf("register %q: %w", username, err)
	}
}

func (s *Server) handleLogin(ctx context.Context, session *Session, username, password string) error {
	if st := session.State(); st.LoggedIn() {
		return replyErr(ErrIllegalState, protocol.AlreadyLoggedIn(st.Username))
	}

	userID, ok, err := s.store.Authenticate(ctx, username, password)
	if err != nil {
		return fmt.Errorf("authenticate %q: %w", username, err)
	}
	if !ok {
		s.logger.Info("login failed", zap.String("remote", session.RemoteAddr))
		return replyErr(ErrAuth, protocol.MsgLoginFailed)
	}

	if !s.registry.Claim(session, userID, username, !s.config.AllowMultiLogin) {
		return replyErr(ErrAuth, protocol.MsgLoggedInElsewhere)
	}

	s.logger.Info("user logged in",
		zap.String("user", username),
		zap.String("conn_id", session.ID.String()),
	)
	return session.Send(protocol.LoginOK(username), protocol.MainMenu())
}

func (s *Server) handleJoin(ctx context.Context, session *Session, room string) error {
	if !session.State().LoggedIn() {
		return replyErr(ErrIllegalState, protocol.MsgLoginFirst)
	}

	if _, err := s.store.EnsureRoom(ctx, room); err != nil {
		return fmt.Errorf("ensure room %q: %w", room, err)
	}
	session.moveTo(RoomLocation(room))

	history, err := s.store.RoomHistory(ctx, room)
	if err != nil {
		return fmt.Errorf("room history %q: %w", room, err)
	}

	body := protocol.MsgNoRoomHistory
	if len(history) > 0 {
		body = protocol.History(history)
	}
	return session.Send(protocol.JoinedRoom(room), body, protocol.MsgChatPrompt)
}

func (s *Server) handleDM(ctx context.Context, session *Session, username string) error {
	st := session.State()
	if !st.LoggedIn() {
		return replyErr(ErrIllegalState, protocol.MsgLoginFirst)
	}

	peerID, ok, err := s.store.LookupUserID(ctx, username)
	if err != nil {
		return fmt.Errorf("lookup %q: %w", username, err)
	}
	if !ok {
		return replyErr(ErrNotFound, protocol.UserNotFound(username))
	}
	session.moveTo(DMLocation(peerID))

	history, err := s.store.DMHistory(ctx, st.UserID, peerID)
	if err != nil {
		return fmt.Errorf("dm history %d/%d: %w", st.UserID, peerID, err)
	}

	body := protocol.MsgNoDMHistory
	if len(history) > 0 {
		body = protocol.History(history)
	}
	return session.Send(protocol.StartingDM(username), body, protocol.MsgChatPrompt)
}

func (s *Server) handleBack(session *Session) error {
	if !session.moveTo(MainMenuLocation()) {
		return replyErr(ErrIllegalState, protocol.MsgLoginFirst)
	}
	return session.Send(protocol.MainMenu())
}

func (s *Server) handleExit(session *Session) error {
	if err := session.Send(protocol.MsgGoodbye); err != nil {
		return err
	}
	return errExit
}

// handleChat persists a plain line for the current room or DM and routes
// it to the sessions that should see it live.
func (s *Server) handleChat(ctx context.Context, session *Session, text string) error {
	st := session.State()
	if st.Location.Kind != InRoom && st.Location.Kind != InDM {
		return replyErr(ErrIllegalState, protocol.MsgNotInChat)
	}
	if !session.limiter.Allow() {
		return replyErr(ErrProtocol, protocol.MsgTooFast)
	}

	msg := models.Message{
		SenderID:  st.UserID,
		Content:   text,
		Timestamp: time.Now().UTC(),
	}
	routed := RoutedMessage{Content: text}

	switch st.Location.Kind {
	case InRoom:
		roomID, err := s.store.EnsureRoom(ctx, st.Location.Room)
		if err != nil {
			return fmt.Errorf("resolve room %q: %w", st.Location.Room, err)
		}
		msg.RoomID = &roomID

	case InDM:
		peer := st.Location.Peer
		peerName, err := s.store.UsernameOf(ctx, peer)
		if err != nil {
			return fmt.Errorf("resolve peer %d: %w", peer, err)
		}
		msg.ReceiverID = &peer
		routed.PeerName = peerName
	}

	if err := msg.Validate(); err != nil {
		return fmt.Errorf("route message: %w", err)
	}
	stored, err := s.store.RecordMessage(ctx, msg)
	if err != nil {
		return fmt.Errorf("record message: %w", err)
	}
	routed.Timestamp = stored.Timestamp

	s.deliver(Route(session, routed, s.registry.Snapshot()))
	return nil
}
