package stream

import (
	"context"
	"log/slog"
	"time"
)

// DefaultBaseDelay is the pause after an ordinary character.
const DefaultBaseDelay = 30 * time.Millisecond

// Pacing maps each streamed character to the pause that follows it.
type Pacing struct {
	Base time.Duration
}

// Delay returns the pause after r: longest after sentence ends, medium after
// clause punctuation, slightly longer after a space.
func (p Pacing) Delay(r rune) time.Duration {
	switch r {
	case '.', '!', '?':
		return p.Base * 8
	case ',', ';', ':':
		return p.Base * 4
	case ' ':
		return p.Base * 3 / 2
	default:
		return p.Base
	}
}

// Outcome reports how a reply was delivered.
type Outcome int

const (
	// OutcomeDropped means the session had no live connection.
	OutcomeDropped Outcome = iota
	// OutcomeStreamed means the paced stream completed.
	OutcomeStreamed
	// OutcomeFallback means streaming failed and the single response event went out.
	OutcomeFallback
	// OutcomeFailed means the fallback failed too.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDropped:
		return "dropped"
	case OutcomeStreamed:
		return "streamed"
	case OutcomeFallback:
		return "fallback"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Deliverer pushes replies to live connections.
type Deliverer struct {
	registry *Registry
	pacing   Pacing
	sleep    func(ctx context.Context, d time.Duration) error
	logger   *slog.Logger
}

// NewDeliverer creates a Deliverer over registry.
func NewDeliverer(registry *Registry, pacing Pacing, logger *slog.Logger) *Deliverer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Deliverer{
		registry: registry,
		pacing:   pacing,
		sleep:    sleepContext,
		logger:   logger,
	}
}

// Deliver sends text to the session's live connection. Without one the reply
// is dropped silently. A connection that cannot take the fallback either is
// unregistered.
func (d *Deliverer) Deliver(ctx context.Context, sessionID, text string) Outcome {
	conn, ok := d.registry.Get(sessionID)
	if !ok {
		d.logger.Debug("No live connection, reply dropped", "session_id", sessionID)
		return OutcomeDropped
	}
	out := d.DeliverTo(ctx, conn, text)
	if out == OutcomeFailed {
		d.registry.Unregister(sessionID, conn)
	}
	d.logger.Debug("Reply delivered", "session_id", sessionID, "outcome", out.String(), "chars", len(text))
	return out
}

// DeliverTo streams text to conn and falls back to one response event when
// any stream step fails. A failed stream is never ended with stream_end.
func (d *Deliverer) DeliverTo(ctx context.Context, conn Conn, text string) Outcome {
	err := d.Stream(ctx, conn, text)
	if err == nil {
		return OutcomeStreamed
	}
	d.logger.Warn("Streaming failed, sending full response", "error", err)

	if err := conn.Send(context.WithoutCancel(ctx), Event{Type: EventResponse, Content: text}); err != nil {
		d.logger.Warn("Fallback response failed", "error", err)
		return OutcomeFailed
	}
	return OutcomeFallback
}

// Stream sends stream_start, one stream_chunk per character with the pacing
// delay after each, and stream_end.
func (d *Deliverer) Stream(ctx context.Context, conn Conn, text string) error {
	if err := conn.Send(ctx, Event{Type: EventStreamStart}); err != nil {
		return err
	}
	for _, r := range text {
		if err := conn.Send(ctx, Event{Type: EventStreamChunk, Content: string(r)}); err != nil {
			return err
		}
		if delay := d.pacing.Delay(r); delay > 0 {
			if err := d.sleep(ctx, delay); err != nil {
				return err
			}
		}
	}
	return conn.Send(ctx, Event{Type: EventStreamEnd})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
