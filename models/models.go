package models

import (
	"errors"
	"time"
)

// ErrInvalidTarget is returned for a message that does not name exactly
// one of a room or a receiver.
var ErrInvalidTarget = errors.New("message must target exactly one of room or receiver")

type User struct {
	ID           int64
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

type Room struct {
	ID   int64
	Name string
}

// Message is a persisted chat line. Exactly one of RoomID and ReceiverID
// is set.
type Message struct {
	ID         int64
	SenderID   int64
	Content    string
	RoomID     *int64
	ReceiverID *int64
	Timestamp  time.Time
}

func (m Message) Validate() error {
	if (m.RoomID == nil) == (m.ReceiverID == nil) {
		return ErrInvalidTarget
	}
	return nil
}

// HistoryEntry is one line of room or DM history as shown to a client.
type HistoryEntry struct {
	Username  string
	Content   string
	Timestamp time.Time
}
