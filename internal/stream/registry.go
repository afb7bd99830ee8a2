package stream

import (
	"log/slog"
	"sync"
)

// Registry tracks the live connection of each session. A session has at most
// one connection; registering a new one closes the old.
type Registry struct {
	mu     sync.RWMutex
	active map[string]Conn
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		active: make(map[string]Conn),
		logger: logger,
	}
}

// Get returns the live connection for a session.
func (r *Registry) Get(sessionID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.active[sessionID]
	return c, ok
}

// Has reports whether the session has a live connection.
func (r *Registry) Has(sessionID string) bool {
	_, ok := r.Get(sessionID)
	return ok
}

// Register makes conn the session's live connection.
func (r *Registry) Register(sessionID string, conn Conn) {
	r.mu.Lock()
	existing, exists := r.active[sessionID]
	r.active[sessionID] = conn
	r.mu.Unlock()

	if exists && existing != conn {
		_ = existing.Close("session replaced")
		r.logger.Info("Connection replaced", "session_id", sessionID)
	}
	r.logger.Info("Connection registered", "session_id", sessionID)
}

// Unregister removes conn if it is still the session's live connection. A
// stale connection leaves its replacement in place.
func (r *Registry) Unregister(sessionID string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.active[sessionID]; ok && current == conn {
		delete(r.active, sessionID)
		r.logger.Info("Connection unregistered", "session_id", sessionID)
	}
}

// CloseAll closes and forgets every connection. Hijacked WebSocket
// connections are not closed by http.Server.Shutdown, so the server calls
// this while stopping.
func (r *Registry) CloseAll(reason string) {
	r.mu.Lock()
	conns := r.active
	r.active = make(map[string]Conn)
	r.mu.Unlock()

	for id, conn := range conns {
		_ = conn.Close(reason)
		r.logger.Info("Connection closed", "session_id", id, "reason", reason)
	}
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.active)
}
