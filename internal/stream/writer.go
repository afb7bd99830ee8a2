package stream

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// WriterConn renders events as plain text, for terminal sessions.
type WriterConn struct {
	mu     sync.Mutex
	w      io.Writer
	prefix string
}

// NewWriterConn writes replies to w, each starting with prefix.
func NewWriterConn(w io.Writer, prefix string) *WriterConn {
	return &WriterConn{w: w, prefix: prefix}
}

// Send writes the event's text. Typing indicators and pongs are not shown.
func (c *WriterConn) Send(_ context.Context, ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	switch ev.Type {
	case EventStreamStart:
		_, err = io.WriteString(c.w, c.prefix)
	case EventStreamChunk:
		_, err = io.WriteString(c.w, ev.Content)
	case EventStreamEnd:
		_, err = io.WriteString(c.w, "\n")
	case EventResponse:
		// A failed stream may have left a partial line.
		_, err = fmt.Fprintf(c.w, "\n%s%s\n", c.prefix, ev.Content)
	case EventError:
		_, err = fmt.Fprintln(c.w, ev.Content)
	}
	return err
}

// Close is a no-op; the writer belongs to the caller.
func (c *WriterConn) Close(string) error { return nil }
