// Package identity provides session identifier primitives.
package identity

import (
	"context"
	"net"
	"net/http"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// SessionHeaderName lets HTTP clients pass a session identifier without a body.
const SessionHeaderName = "X-AMMA-Session-ID"

type contextKey int

const sessionIDKey contextKey = iota

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// NewSessionID mints a fresh session identifier.
func NewSessionID() string {
	return uuid.NewString()
}

// SanitizeSessionID trims id and reports whether it is an acceptable
// session identifier.
func SanitizeSessionID(id string) (string, bool) {
	id = strings.TrimSpace(id)
	if id == "" || !sessionIDPattern.MatchString(id) {
		return "", false
	}
	return id, true
}

// ResolveSessionID returns the sanitized id, or a newly minted one when id is
// empty. A non-empty invalid id is rejected.
func ResolveSessionID(id string) (string, bool) {
	if strings.TrimSpace(id) == "" {
		return NewSessionID(), true
	}
	return SanitizeSessionID(id)
}

// WithSessionID stores the session identifier in ctx.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

// SessionIDFromContext extracts the session identifier from ctx.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return ""
}

// SessionIDFromRequest reads the session identifier from the header or the
// session_id query parameter.
func SessionIDFromRequest(r *http.Request) string {
	sid := r.Header.Get(SessionHeaderName)
	if sid == "" {
		sid = r.URL.Query().Get("session_id")
	}
	return sid
}

// IPFromRequest returns a normalized remote IP for request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
