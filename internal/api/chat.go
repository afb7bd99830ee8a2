package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/amma-stories/amma/internal/identity"
)

const defaultMaxRequestBodySize = 1 << 20

// ChatRequest is the POST /chat body.
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

// ChatResponse is the POST /chat reply.
type ChatResponse struct {
	Response  string `json:"response"`
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

// ChatHandler runs turns for stateless HTTP clients.
type ChatHandler struct {
	sessions    Sessions
	limiter     *RateLimiter
	maxBodySize int64
	logger      *slog.Logger
}

// NewChatHandler creates a chat handler. limiter may be nil to disable rate
// limiting.
func NewChatHandler(sessions Sessions, limiter *RateLimiter, maxBodySize int64, logger *slog.Logger) *ChatHandler {
	if maxBodySize <= 0 {
		maxBodySize = defaultMaxRequestBodySize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatHandler{
		sessions:    sessions,
		limiter:     limiter,
		maxBodySize: maxBodySize,
		logger:      logger,
	}
}

// HandleChat handles POST /chat.
func (h *ChatHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	if h.limiter != nil && !h.limiter.Allow(identity.IPFromRequest(r)) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	message := strings.TrimSpace(req.Message)
	if message == "" {
		Error(w, http.StatusBadRequest, "message is required")
		return
	}

	requested := req.SessionID
	if requested == "" {
		requested = identity.SessionIDFromRequest(r)
	}
	sessionID, ok := identity.ResolveSessionID(requested)
	if !ok {
		Error(w, http.StatusBadRequest, "invalid session_id")
		return
	}

	turn, err := h.sessions.ApplyTurn(r.Context(), sessionID, message)
	if err != nil {
		h.logger.Error("Chat turn failed", "session_id", sessionID, "error", err)
		Error(w, http.StatusInternalServerError, err.Error())
		return
	}

	JSON(w, http.StatusOK, ChatResponse{
		Response:  turn.Reply,
		SessionID: sessionID,
		Status:    "success",
	})
}
