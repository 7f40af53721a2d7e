// Package chat holds the transport-neutral shapes exchanged between the chat
// binding and the dialog machines: inbound events and outbound replies.
package chat

import "github.com/boddenberg/fenix-agent-go/internal/command"

// EventKind is the kind of inbound event.
type EventKind string

const (
	EventStart    EventKind = "start"
	EventText     EventKind = "text"
	EventPhoto    EventKind = "photo"
	EventLocation EventKind = "location"
	EventCommand  EventKind = "command"
	EventCancel   EventKind = "cancel"
)

// Event is one inbound message or button press for a conversation.
type Event struct {
	ChatID    int64
	MessageID int
	Username  string
	FirstName string
	Kind      EventKind

	Text        string
	PhotoFileID string
	Lat, Lng    float64
	Command     command.Command
}

// SessionKey identifies the conversation the event belongs to.
func (e Event) SessionKey() int64 { return e.ChatID }
