// Package stream delivers agent replies to live client connections, either
// as a paced character stream or as a single response event.
package stream

import "context"

// EventType names an outbound event.
type EventType string

// Outbound event types.
const (
	EventTyping      EventType = "typing"
	EventStreamStart EventType = "stream_start"
	EventStreamChunk EventType = "stream_chunk"
	EventStreamEnd   EventType = "stream_end"
	EventResponse    EventType = "response"
	EventError       EventType = "error"
	EventPong        EventType = "pong"
)

// Event is one message sent to a client.
type Event struct {
	Type    EventType `json:"type"`
	Content string    `json:"content,omitempty"`
}

// Conn is a live client connection.
type Conn interface {
	Send(ctx context.Context, ev Event) error
	Close(reason string) error
}
