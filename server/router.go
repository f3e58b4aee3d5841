package server

import (
	"time"

	"go.uber.org/zap"

	"linechat/protocol"
)

// RoutedMessage is a chat line that has already been persisted.
type RoutedMessage struct {
	Content   string
	Timestamp time.Time
	// PeerName is the DM peer's username; unused for rooms.
	PeerName string
}

// Delivery is one line bound for one session.
type Delivery struct {
	Target *Session
	Line   string
}

// Route decides who receives msg sent by sender, given a registry
// snapshot. Room messages go to every session in the same room, sender
// included. A DM is echoed to the sender and delivered to each of the
// peer's sessions that is currently in a DM with the sender.
func Route(sender *Session, msg RoutedMessage, snapshot []*Session) []Delivery {
	from := sender.State()

	switch from.Location.Kind {
	case InRoom:
		room := from.Location.Room
		line := protocol.RoomLine(msg.Timestamp, from.Username, room, msg.Content)

		var deliveries []Delivery
		for _, target := range snapshot {
			if target.State().Location.InRoom(room) {
				deliveries = append(deliveries, Delivery{Target: target, Line: line})
			}
		}
		return deliveries

	case InDM:
		peer := from.Location.Peer
		deliveries := []Delivery{{
			Target: sender,
			Line:   protocol.DMToLine(msg.Timestamp, msg.PeerName, msg.Content),
		}}

		line := protocol.DMFromLine(msg.Timestamp, from.Username, msg.Content)
		for _, target := range snapshot {
			if target == sender {
				continue
			}
			st := target.State()
			if st.LoggedIn() && st.UserID == peer && st.Location.InDMWith(from.UserID) {
				deliveries = append(deliveries, Delivery{Target: target, Line: line})
			}
		}
		return deliveries

	default:
		return nil
	}
}

// deliver writes every delivery independently. A failed write closes
// only the failing target, whose own goroutine then tears it down.
func (s *Server) deliver(deliveries []Delivery) {
	for _, d := range deliveries {
		if err := d.Target.Send(d.Line); err != nil {
			s.logger.Warn("delivery failed, closing target",
				zap.String("conn_id", d.Target.ID.String()),
				zap.String("remote", d.Target.RemoteAddr),
				zap.Error(err),
			)
			d.Target.Close()
		}
	}
}
