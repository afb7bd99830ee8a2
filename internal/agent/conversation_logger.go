package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/amma-stories/amma/internal/identity"
)

// Conversation log event types.
const (
	EventUserMessage      = "chat_user_message"
	EventAssistantMessage = "chat_assistant_message"
	EventGraphRoute       = "graph_route"
	EventTurnError        = "turn_error"
	EventSessionRemoved   = "session_removed"
)

// DefaultMaxOpenFiles bounds the per-session log files kept open at once.
const DefaultMaxOpenFiles = 64

// ConversationLogConfig controls NDJSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
	MaxOpenFiles  int
}

// ConversationLogEvent is one line of a conversation log.
type ConversationLogEvent struct {
	Timestamp  string         `json:"ts"`
	SessionID  string         `json:"session_id"`
	Channel    string         `json:"channel,omitempty"`
	Direction  string         `json:"direction,omitempty"`
	EventType  string         `json:"event_type"`
	ContentRaw string         `json:"content_raw,omitempty"`
	Content    string         `json:"content,omitempty"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// ConversationLogger records conversation events without blocking the caller.
type ConversationLogger interface {
	Log(event ConversationLogEvent)
	Close() error
}

type noopConversationLogger struct{}

func (noopConversationLogger) Log(ConversationLogEvent) {}
func (noopConversationLogger) Close() error             { return nil }

// NopConversationLogger returns a logger that discards everything.
func NopConversationLogger() ConversationLogger { return noopConversationLogger{} }

type fileConversationLogger struct {
	cfg     ConversationLogConfig
	logger  *slog.Logger
	queue   chan ConversationLogEvent
	files   *lru.Cache[string, *os.File]
	global  *os.File
	dropped atomic.Int64

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
	done      chan struct{}
}

// NewConversationLogger starts the background writer. When neither the
// per-session nor the global log is enabled it returns a no-op logger.
func NewConversationLogger(cfg ConversationLogConfig, logger *slog.Logger) (ConversationLogger, error) {
	if !cfg.Enabled && !cfg.GlobalEnabled {
		return noopConversationLogger{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.Enabled {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create conversation log dir: %w", err)
		}
	}
	if cfg.GlobalEnabled {
		if err := os.MkdirAll(filepath.Dir(cfg.GlobalPath), 0o755); err != nil {
			return nil, fmt.Errorf("create global conversation log dir: %w", err)
		}
	}

	if cfg.MaxOpenFiles <= 0 {
		cfg.MaxOpenFiles = DefaultMaxOpenFiles
	}

	l := &fileConversationLogger{
		cfg:    cfg,
		logger: logger,
		queue:  make(chan ConversationLogEvent, cfg.QueueSize),
		done:   make(chan struct{}),
	}
	files, err := lru.NewWithEvict[string, *os.File](cfg.MaxOpenFiles, l.closeFile)
	if err != nil {
		return nil, fmt.Errorf("create conversation log file cache: %w", err)
	}
	l.files = files
	go l.run()
	return l, nil
}

func (l *fileConversationLogger) Log(event ConversationLogEvent) {
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if event.Content == "" && event.ContentRaw != "" {
		event.Content = cleanForReadability(event.ContentRaw)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- event:
	default:
		n := l.dropped.Add(1)
		l.logger.Warn("Conversation log queue full, event dropped", "session_id", event.SessionID, "dropped_total", n)
	}
}

func (l *fileConversationLogger) Close() error {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		close(l.queue)
		l.mu.Unlock()
	})
	<-l.done
	return nil
}

func (l *fileConversationLogger) run() {
	defer close(l.done)
	defer l.closeFiles()

	for event := range l.queue {
		line, err := json.Marshal(event)
		if err != nil {
			l.logger.Warn("Failed to marshal conversation log event", "error", err)
			continue
		}
		line = append(line, '\n')

		if l.cfg.Enabled && event.SessionID != "" {
			path := l.sessionPath(event.SessionID)
			l.writeSession(path, line)
			if event.EventType == EventSessionRemoved {
				l.files.Remove(path)
			}
		}
		if l.cfg.GlobalEnabled {
			l.writeGlobal(line)
		}
	}
}

func (l *fileConversationLogger) sessionPath(sessionID string) string {
	return filepath.Join(l.cfg.Dir, fileSafe(sessionID)+".ndjson")
}

// writeSession appends to a per-session file. Only the most recently used
// files stay open; evicted ones are reopened in append mode on demand.
func (l *fileConversationLogger) writeSession(path string, line []byte) {
	f, ok := l.files.Get(path)
	if !ok {
		var err error
		if f, err = openAppend(path); err != nil {
			l.logger.Warn("Failed to open conversation log", "path", path, "error", err)
			return
		}
		l.files.Add(path, f)
	}
	if _, err := f.Write(line); err != nil {
		l.logger.Warn("Failed to write conversation log", "path", path, "error", err)
	}
}

func (l *fileConversationLogger) writeGlobal(line []byte) {
	if l.global == nil {
		f, err := openAppend(l.cfg.GlobalPath)
		if err != nil {
			l.logger.Warn("Failed to open conversation log", "path", l.cfg.GlobalPath, "error", err)
			return
		}
		l.global = f
	}
	if _, err := l.global.Write(line); err != nil {
		l.logger.Warn("Failed to write conversation log", "path", l.cfg.GlobalPath, "error", err)
	}
}

func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}

func (l *fileConversationLogger) closeFile(path string, f *os.File) {
	if err := f.Close(); err != nil {
		l.logger.Warn("Failed to close conversation log", "path", path, "error", err)
	}
}

func (l *fileConversationLogger) closeFiles() {
	l.files.Purge()
	if l.global != nil {
		l.closeFile(l.cfg.GlobalPath, l.global)
		l.global = nil
	}
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

func fileSafe(id string) string {
	return unsafeFileChars.ReplaceAllString(id, "_")
}

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)

// cleanForReadability strips terminal escapes and control characters so log
// lines stay readable.
func cleanForReadability(s string) string {
	s = ansiPattern.ReplaceAllString(s, "")
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

// RouteLogger returns a graph observer that records every routing decision
// for the session stored in the context.
func RouteLogger(log ConversationLogger) Observer {
	return func(ctx context.Context, step Step) {
		log.Log(ConversationLogEvent{
			SessionID: identity.SessionIDFromContext(ctx),
			Channel:   "graph",
			EventType: EventGraphRoute,
			Meta: map[string]any{
				"step":   step.Index,
				"node":   string(step.Node),
				"next":   string(step.Route.Next),
				"reason": step.Route.Reason,
			},
		})
	}
}
