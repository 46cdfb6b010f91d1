package domain

import "time"

// EventKind classifies an inbound event.
type EventKind string

const (
	KindCommand EventKind = "command"
	KindText    EventKind = "text"
	KindPhoto   EventKind = "photo"
)

// PhotoRef points at an image attached to an inbound message. FileID is
// opaque and only meaningful to the channel that produced it.
type PhotoRef struct {
	FileID string
}

// InboundEvent is one message received by a channel.
type InboundEvent struct {
	Kind      EventKind
	Channel   string
	ChatID    string // opaque to the router
	MessageID int
	SenderID  string
	Command   string // command name without the leading slash
	Text      string
	Photo     *PhotoRef
	Timestamp time.Time
}

type OutboundMessage struct {
	Channel string
	ChatID  string
	Content string
}
