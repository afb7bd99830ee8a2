package stream

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errConnClosed = errors.New("connection closed")

// recordingConn records sent events. When failAt is positive, the failAt-th
// send (1-based) and every later one fails, unless allowResponse lets the
// fallback response through.
type recordingConn struct {
	mu            sync.Mutex
	events        []Event
	sends         int
	failAt        int
	allowResponse bool
	closed        []string
}

func (c *recordingConn) Send(_ context.Context, ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sends++
	if c.failAt > 0 && c.sends >= c.failAt && !(c.allowResponse && ev.Type == EventResponse) {
		return errConnClosed
	}
	c.events = append(c.events, ev)
	return nil
}

func (c *recordingConn) Close(reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = append(c.closed, reason)
	return nil
}

func (c *recordingConn) types() []EventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]EventType, len(c.events))
	for i, ev := range c.events {
		out[i] = ev.Type
	}
	return out
}

func (c *recordingConn) count(t EventType) int {
	n := 0
	for _, got := range c.types() {
		if got == t {
			n++
		}
	}
	return n
}

func newTestDeliverer(reg *Registry) (*Deliverer, *[]time.Duration) {
	d := NewDeliverer(reg, Pacing{Base: 10 * time.Millisecond}, nil)
	var slept []time.Duration
	d.sleep = func(_ context.Context, dur time.Duration) error {
		slept = append(slept, dur)
		return nil
	}
	return d, &slept
}

func TestPacingDelay(t *testing.T) {
	t.Parallel()

	p := Pacing{Base: 30 * time.Millisecond}
	assert.Equal(t, 240*time.Millisecond, p.Delay('.'))
	assert.Equal(t, 240*time.Millisecond, p.Delay('!'))
	assert.Equal(t, 240*time.Millisecond, p.Delay('?'))
	assert.Equal(t, 120*time.Millisecond, p.Delay(','))
	assert.Equal(t, 120*time.Millisecond, p.Delay(';'))
	assert.Equal(t, 120*time.Millisecond, p.Delay(':'))
	assert.Equal(t, 45*time.Millisecond, p.Delay(' '))
	assert.Equal(t, 30*time.Millisecond, p.Delay('a'))
	assert.Zero(t, Pacing{}.Delay('.'))
}

func TestDeliverStreamsOneChunkPerCharacter(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(nil)
	conn := &recordingConn{}
	reg.Register("s1", conn)
	d, slept := newTestDeliverer(reg)

	out := d.Deliver(context.Background(), "s1", "Hi, né.")
	assert.Equal(t, OutcomeStreamed, out)

	types := conn.types()
	require.Len(t, types, 2+7)
	assert.Equal(t, EventStreamStart, types[0])
	assert.Equal(t, EventStreamEnd, types[len(types)-1])

	var b strings.Builder
	for _, ev := range conn.events[1 : len(conn.events)-1] {
		assert.Equal(t, EventStreamChunk, ev.Type)
		b.WriteString(ev.Content)
	}
	assert.Equal(t, "Hi, né.", b.String())
	assert.Equal(t, 0, conn.count(EventResponse))

	assert.Equal(t, []time.Duration{
		10 * time.Millisecond, 10 * time.Millisecond, 40 * time.Millisecond, 15 * time.Millisecond,
		10 * time.Millisecond, 10 * time.Millisecond, 80 * time.Millisecond,
	}, *slept)
}

func TestDeliverFallsBackToSingleResponse(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(nil)
	conn := &recordingConn{failAt: 4, allowResponse: true}
	reg.Register("s1", conn)
	d, _ := newTestDeliverer(reg)

	out := d.Deliver(context.Background(), "s1", "Goodnight")
	assert.Equal(t, OutcomeFallback, out)

	assert.Equal(t, 1, conn.count(EventResponse))
	assert.Equal(t, 0, conn.count(EventStreamEnd))
	last := conn.events[len(conn.events)-1]
	assert.Equal(t, Event{Type: EventResponse, Content: "Goodnight"}, last)
	assert.True(t, reg.Has("s1"))
}

func TestDeliverFailedFallbackUnregisters(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(nil)
	conn := &recordingConn{failAt: 1}
	reg.Register("s1", conn)
	d, _ := newTestDeliverer(reg)

	out := d.Deliver(context.Background(), "s1", "hello")
	assert.Equal(t, OutcomeFailed, out)
	assert.False(t, reg.Has("s1"))
}

func TestDeliverWithoutConnectionIsDropped(t *testing.T) {
	t.Parallel()

	d, _ := newTestDeliverer(NewRegistry(nil))
	assert.Equal(t, OutcomeDropped, d.Deliver(context.Background(), "nobody", "hello"))
}

func TestStreamStopsOnCanceledContext(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(nil)
	conn := &recordingConn{}
	d := NewDeliverer(reg, Pacing{Base: time.Hour}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := d.DeliverTo(ctx, conn, "abc")
	assert.Equal(t, OutcomeFallback, out)
	assert.Equal(t, []EventType{EventStreamStart, EventStreamChunk, EventResponse}, conn.types())
}

func TestOutcomeString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "streamed", OutcomeStreamed.String())
	assert.Equal(t, "unknown", Outcome(42).String())
}
