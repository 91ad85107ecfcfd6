package api

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the server configuration, loaded from environment variables.
type Config struct {
	ListenAddr      string
	DBPath          string
	SeedPath        string // optional YAML seed applied at startup
	APIKey          string // when set, /api routes require "Authorization: Bearer <key>"
	ShutdownTimeout time.Duration
	LogFormat       string // "json" (default) or "text"
	LogLevel        string // "debug", "info" (default), "warn", "error"

	RateLimitWrite int // mutating requests per client per minute (default: 600)

	CORSAllowedOrigins []string // allowed browser origins for /api; empty = disabled

	EventBuffer     int           // per-stream event queue length (default: 64)
	EventKeepalive  time.Duration // SSE keepalive comment interval (default: 25s)
	PubSubProject   string        // Google Cloud project; empty disables Pub/Sub publishing
	PubSubTopic     string
	PubSubCredsFile string
	WebhookURL      string // receives every event as a signed POST; empty disables
	WebhookSecret   string
}

// LoadConfig reads configuration from environment variables with sensible defaults.
func LoadConfig() Config {
	cfg := Config{
		ListenAddr:      ":8080",
		DBPath:          "./data/board.db",
		ShutdownTimeout: 30 * time.Second,
		LogFormat:       "json",
		LogLevel:        "info",

		RateLimitWrite: 600,

		EventBuffer:    64,
		EventKeepalive: 25 * time.Second,
		PubSubTopic:    "board-events",
	}

	if v := os.Getenv("BOARDSYNC_SERVER_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("BOARDSYNC_SERVER_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("BOARDSYNC_SERVER_SEED"); v != "" {
		cfg.SeedPath = v
	}
	if v := os.Getenv("BOARDSYNC_SERVER_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("BOARDSYNC_SERVER_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ShutdownTimeout = d
		}
	}
	if v := os.Getenv("BOARDSYNC_SERVER_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("BOARDSYNC_SERVER_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	if v := os.Getenv("BOARDSYNC_SERVER_RATE_LIMIT_WRITE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RateLimitWrite = n
		}
	}

	if v := os.Getenv("BOARDSYNC_SERVER_EVENT_BUFFER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.EventBuffer = n
		}
	}
	if v := os.Getenv("BOARDSYNC_SERVER_EVENT_KEEPALIVE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.EventKeepalive = d
		}
	}
	if v := os.Getenv("BOARDSYNC_SERVER_PUBSUB_PROJECT"); v != "" {
		cfg.PubSubProject = v
	}
	if v := os.Getenv("BOARDSYNC_SERVER_PUBSUB_TOPIC"); v != "" {
		cfg.PubSubTopic = v
	}
	if v := os.Getenv("BOARDSYNC_SERVER_PUBSUB_CREDENTIALS"); v != "" {
		cfg.PubSubCredsFile = v
	}

	if v := os.Getenv("BOARDSYNC_SERVER_WEBHOOK_URL"); v != "" {
		cfg.WebhookURL = v
	}
	if v := os.Getenv("BOARDSYNC_SERVER_WEBHOOK_SECRET"); v != "" {
		cfg.WebhookSecret = v
	}

	if v := os.Getenv("BOARDSYNC_SERVER_CORS_ALLOWED_ORIGINS"); v != "" {
		origins := strings.Split(v, ",")
		for _, o := range origins {
			o = strings.TrimSpace(o)
			if o != "" {
				cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, o)
			}
		}
	}

	return cfg
}
