package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/amma-stories/amma/internal/session"
)

// Greeting and typing texts.
const (
	GreetingInput  = "hey"
	GreetingTyping = "AMMA is preparing to greet you..."
	ThinkingTyping = "AMMA is thinking..."
)

// Sessions runs turns for the WebSocket handler.
type Sessions interface {
	IsFresh(sessionID string) bool
	ApplyTurn(ctx context.Context, sessionID, text string) (session.Turn, error)
}

// HandlerConfig configures the WebSocket handler.
type HandlerConfig struct {
	AllowedOrigins []string
	IsDev          bool
	WriteTimeout   time.Duration
	ReadLimit      int64
}

// Handler serves a session over a WebSocket.
type Handler struct {
	sessions  Sessions
	registry  *Registry
	deliverer *Deliverer
	cfg       HandlerConfig
	logger    *slog.Logger
}

// NewHandler creates a WebSocket handler.
func NewHandler(sessions Sessions, registry *Registry, deliverer *Deliverer, cfg HandlerConfig, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		sessions:  sessions,
		registry:  registry,
		deliverer: deliverer,
		cfg:       cfg,
		logger:    logger,
	}
}

// wsConn adapts websocket.Conn to Conn. Every event is one JSON text frame.
type wsConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
}

func (c *wsConn) Send(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if c.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.writeTimeout)
		defer cancel()
	}
	return c.ws.Write(ctx, websocket.MessageText, data)
}

func (c *wsConn) Close(reason string) error {
	return c.ws.Close(websocket.StatusNormalClosure, reason)
}

// inbound is a client message. Clients may also send plain text.
type inbound struct {
	Type    string `json:"type,omitempty"`
	Message string `json:"message"`
}

// Serve upgrades the request and runs the session until the client leaves.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request, sessionID string) {
	log := h.logger.With("session_id", sessionID)
	log.Info("WebSocket connection request", "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		log.Error("Failed to accept WebSocket", "error", err)
		return
	}
	if h.cfg.ReadLimit > 0 {
		ws.SetReadLimit(h.cfg.ReadLimit)
	}

	conn := &wsConn{ws: ws, writeTimeout: h.cfg.WriteTimeout}
	defer func() {
		if err := conn.Close("session ended"); err != nil {
			log.Debug("Failed to close WebSocket", "error", err)
		}
	}()

	h.registry.Register(sessionID, conn)
	defer h.registry.Unregister(sessionID, conn)

	ctx := r.Context()

	if h.sessions.IsFresh(sessionID) {
		h.typing(ctx, conn, GreetingTyping)
		if !h.runTurn(ctx, conn, sessionID, GreetingInput) {
			return
		}
	}

	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				log.Debug("WebSocket closed by client")
			} else {
				log.Debug("WebSocket read ended", "error", err)
			}
			return
		}

		msg := parseInbound(data)
		if msg.Type == "ping" {
			if err := conn.Send(ctx, Event{Type: EventPong}); err != nil {
				log.Debug("Failed to send pong", "error", err)
			}
			continue
		}
		if msg.Message == "" {
			continue
		}

		h.typing(ctx, conn, ThinkingTyping)
		if !h.runTurn(ctx, conn, sessionID, msg.Message) {
			return
		}
	}
}

func parseInbound(data []byte) inbound {
	var msg inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		msg = inbound{Message: string(data)}
	}
	msg.Message = strings.TrimSpace(msg.Message)
	return msg
}

func (h *Handler) typing(ctx context.Context, conn Conn, text string) {
	if err := conn.Send(ctx, Event{Type: EventTyping, Content: text}); err != nil {
		h.logger.Debug("Failed to send typing indicator", "error", err)
	}
}

// runTurn applies one turn and delivers the reply. It returns false when the
// connection's context has ended and the loop should stop.
func (h *Handler) runTurn(ctx context.Context, conn Conn, sessionID, text string) (keepGoing bool) {
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("Turn panicked", "session_id", sessionID, "panic", rec)
			h.sendError(ctx, conn, fmt.Errorf("%v", rec))
			keepGoing = ctx.Err() == nil
		}
	}()

	turn, err := h.sessions.ApplyTurn(ctx, sessionID, text)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		h.sendError(ctx, conn, err)
		return true
	}
	h.deliverer.Deliver(ctx, sessionID, turn.Reply)
	return ctx.Err() == nil
}

func (h *Handler) sendError(ctx context.Context, conn Conn, err error) {
	if sendErr := conn.Send(ctx, Event{Type: EventError, Content: "Error: " + err.Error()}); sendErr != nil {
		h.logger.Debug("Failed to send error event", "error", sendErr)
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.cfg.IsDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.cfg.AllowedOrigins)
	return false
}
