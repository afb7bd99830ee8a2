// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port            string
	GRPCPort        string // empty disables the gRPC health endpoint
	FrontendURL     string
	AllowedOrigins  []string
	LogLevel        slog.Level
	DBPath          string
	ArchiveEnabled  bool
	PromptsFile     string
	MaxGraphSteps   int
	SessionIdleTTL  time.Duration // 0 keeps sessions until deleted
	Model           ModelConfig
	Stream          StreamConfig
	RateLimit       RateLimitConfig
	MaxRequestBody  int64
	ConversationLog ConversationLogConfig
}

// ModelConfig selects and tunes the language model backend.
type ModelConfig struct {
	Spec             string // "provider/model"
	MaxTokens        int
	Temperature      float64
	Timeout          time.Duration // per call; 0 disables
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	AnthropicAPIKey  string
	AnthropicBaseURL string
	GoogleAPIKey     string
}

// StreamConfig controls paced delivery to live connections.
type StreamConfig struct {
	BaseDelay    time.Duration
	WriteTimeout time.Duration
}

// RateLimitConfig bounds chat requests per client address.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
	MaxOpenFiles  int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	googleKey := getEnv("GOOGLE_API_KEY", "")
	if googleKey == "" {
		googleKey = getEnv("GEMINI_API_KEY", "")
	}

	cfg := &Config{
		Port:           getEnv("PORT", "8001"),
		GRPCPort:       getEnv("GRPC_PORT", ""),
		FrontendURL:    getEnv("FRONTEND_URL", ""),
		AllowedOrigins: getEnvList("ALLOWED_ORIGINS", []string{"*"}),
		LogLevel:       parseLevel(getEnv("LOG_LEVEL", "info")),
		DBPath:         getEnv("DB_PATH", "./data/amma.db"),
		ArchiveEnabled: getEnvBool("ARCHIVE_ENABLED", true),
		PromptsFile:    getEnv("PROMPTS_FILE", ""),
		MaxGraphSteps:  getEnvInt("MAX_GRAPH_STEPS", 25),
		SessionIdleTTL: getEnvDuration("SESSION_IDLE_TTL", 0),
		Model: ModelConfig{
			Spec:             getEnv("MODEL", "openai/gpt-4o-mini"),
			MaxTokens:        getEnvInt("MODEL_MAX_TOKENS", 2048),
			Temperature:      getEnvFloat("MODEL_TEMPERATURE", 0.7),
			Timeout:          getEnvDuration("MODEL_TIMEOUT", 2*time.Minute),
			OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),
			OpenAIBaseURL:    getEnv("OPENAI_BASE_URL", ""),
			AnthropicAPIKey:  getEnv("ANTHROPIC_API_KEY", ""),
			AnthropicBaseURL: getEnv("ANTHROPIC_BASE_URL", ""),
			GoogleAPIKey:     googleKey,
		},
		Stream: StreamConfig{
			BaseDelay:    getEnvDuration("STREAM_BASE_DELAY", 30*time.Millisecond),
			WriteTimeout: getEnvDuration("STREAM_WRITE_TIMEOUT", 5*time.Second),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 30),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		MaxRequestBody: int64(getEnvInt("MAX_REQUEST_BODY_BYTES", 1<<20)),
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", false),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
			MaxOpenFiles:  getEnvInt("CONVERSATION_LOG_MAX_OPEN_FILES", 64),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.ArchiveEnabled && c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty when ARCHIVE_ENABLED is set")
	}
	if c.Model.Spec == "" {
		return fmt.Errorf("MODEL cannot be empty")
	}
	if c.Model.MaxTokens <= 0 {
		return fmt.Errorf("MODEL_MAX_TOKENS must be > 0")
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 2 {
		return fmt.Errorf("MODEL_TEMPERATURE must be between 0 and 2")
	}
	if c.MaxGraphSteps < 2 {
		return fmt.Errorf("MAX_GRAPH_STEPS must be >= 2")
	}
	if c.Stream.BaseDelay < 0 {
		return fmt.Errorf("STREAM_BASE_DELAY cannot be negative")
	}
	if c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
	}
	if c.MaxRequestBody <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_BYTES must be > 0")
	}
	if c.ConversationLog.Enabled && c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.Enabled && c.ConversationLog.MaxOpenFiles <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_MAX_OPEN_FILES must be > 0")
	}
	if c.ConversationLog.GlobalEnabled && c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
