package server

import "errors"

// Kinds of user-triggered failures. They are reported to the client and
// the connection stays open.
var (
	ErrProtocol     = errors.New("protocol error")
	ErrAuth         = errors.New("authentication error")
	ErrNotFound     = errors.New("not found")
	ErrIllegalState = errors.New("illegal state")
)

var (
	ErrServerClosed = errors.New("server closed")

	// errExit ends the connection loop after /exit.
	errExit = errors.New("client exit")
)

// userError carries the line sent back to the client.
type userError struct {
	kind  error
	reply string
}

func (e *userError) Error() string {
	return e.kind.Error() + ": " + e.reply
}

func (e *userError) Unwrap() error {
	return e.kind
}

func replyErr(kind error, reply string) error {
	return &userError{kind: kind, reply: reply}
}
