package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/amma-stories/amma/internal/identity"
	"github.com/amma-stories/amma/internal/middleware"
)

// StreamHandler upgrades a request into a streaming session.
type StreamHandler interface {
	Serve(w http.ResponseWriter, r *http.Request, sessionID string)
}

// RouterConfig wires the HTTP surface.
type RouterConfig struct {
	Sessions       Sessions
	Connections    ConnectionCounter
	Stream         StreamHandler
	Archive        StoryArchive // nil disables the stories route and readiness check
	Limiter        *RateLimiter // nil disables rate limiting
	AllowedOrigins []string
	MaxRequestBody int64
	Frontend       http.Handler // served at GET /; nil omits it
	RequestLogging bool
	Logger         *slog.Logger
}

// NewRouter builds the chi router for the service.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	health := NewHealthHandler(cfg.Archive)
	chat := NewChatHandler(cfg.Sessions, cfg.Limiter, cfg.MaxRequestBody, logger)
	sessions := NewSessionsHandler(cfg.Sessions, cfg.Connections, cfg.Archive, logger)

	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	if cfg.RequestLogging {
		r.Use(chiMiddleware.Logger)
	}
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	r.Get("/health", health.Health)
	r.Get("/health/ready", health.Ready)

	r.Post("/chat", chat.HandleChat)

	r.Get("/sessions", sessions.List)
	r.Delete("/sessions/{session_id}", sessions.Delete)
	r.Get("/sessions/{session_id}/stories", sessions.Stories)

	r.Get("/ws/{session_id}", func(w http.ResponseWriter, req *http.Request) {
		id, ok := identity.SanitizeSessionID(chi.URLParam(req, "session_id"))
		if !ok {
			Error(w, http.StatusBadRequest, "invalid session_id")
			return
		}
		cfg.Stream.Serve(w, req, id)
	})

	if cfg.Frontend != nil {
		r.Handle("/*", cfg.Frontend)
	}

	return r
}
