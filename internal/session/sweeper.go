package session

import (
	"context"
	"sort"
	"time"
)

// DefaultSweepInterval is how often RunIdleSweeper checks for idle sessions.
const DefaultSweepInterval = 5 * time.Minute

// LivenessFunc reports whether a session still has a live connection.
type LivenessFunc func(sessionID string) bool

// SweepIdle removes sessions that have been inactive for longer than ttl and
// have no live connection. A session whose turn is running is never removed.
func (m *Manager) SweepIdle(ctx context.Context, ttl time.Duration, live LivenessFunc) []string {
	cutoff := m.now().Add(-ttl)

	m.mu.RLock()
	candidates := make(map[string]*entry)
	for id, e := range m.sessions {
		if e.idleSince(cutoff) && len(e.turn) == 0 {
			candidates[id] = e
		}
	}
	m.mu.RUnlock()

	var removed []string
	for id, e := range candidates {
		if live != nil && live(id) {
			continue
		}
		if m.removeIfIdle(ctx, id, e, cutoff) {
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)
	return removed
}

// removeIfIdle drops e only if it is still registered, still idle and no turn
// holds its token.
func (m *Manager) removeIfIdle(ctx context.Context, id string, e *entry, cutoff time.Time) bool {
	m.mu.Lock()
	if m.sessions[id] != e || !e.idleSince(cutoff) {
		m.mu.Unlock()
		return false
	}
	select {
	case e.turn <- struct{}{}:
	default:
		m.mu.Unlock()
		return false
	}
	delete(m.sessions, id)
	m.mu.Unlock()

	defer func() { <-e.turn }()
	m.logger.Info("Idle session removed", "session_id", id)
	m.purgeHeld(ctx, id)
	return true
}

// RunIdleSweeper periodically calls SweepIdle until ctx is done.
func (m *Manager) RunIdleSweeper(ctx context.Context, ttl, interval time.Duration, live LivenessFunc) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	m.logger.Info("Idle session sweeper started", "interval", interval, "ttl", ttl)

	for {
		select {
		case <-ticker.C:
			if removed := m.SweepIdle(ctx, ttl, live); len(removed) > 0 {
				m.logger.Info("Idle sessions removed", "count", len(removed))
			}
		case <-ctx.Done():
			m.logger.Info("Idle session sweeper shutting down", "reason", ctx.Err())
			return
		}
	}
}
