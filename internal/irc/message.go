package irc

import (
	"context"
	"time"
)

// KindMessage tags inbound chat messages handed to the Dispatcher
const KindMessage = "message"

// Dispatcher is the host framework's entry point for inbound events
type Dispatcher interface {
	Dispatch(ctx context.Context, kind string, msg *Message) error
}

// DispatcherFunc adapts a function to Dispatcher
type DispatcherFunc func(ctx context.Context, kind string, msg *Message) error

func (f DispatcherFunc) Dispatch(ctx context.Context, kind string, msg *Message) error {
	return f(ctx, kind, msg)
}

// Message is the envelope for one inbound chat message
type Message struct {
	ID string
	// Source is the full nick!user@host of the sender
	Source string
	Nick   string
	// Target is the room, or our own nick for private messages
	Target     string
	Body       string
	Private    bool
	ReceivedAt time.Time

	Session *Session
}

// Reply answers in the room the message came from, or privately to the
// sender for private messages
func (m *Message) Reply(body string) error {
	target := m.Target
	if m.Private {
		target = m.Nick
	}
	return m.Session.Send(target, body)
}
