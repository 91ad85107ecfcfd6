// Package config resolves client settings for boardsync.
//
// Priority, highest first: command-line flags (applied by the caller),
// BOARDSYNC_* environment variables, a .env file in the working directory,
// ~/.config/boardsync/config.json, defaults. The config file may contain
// comments and trailing commas.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/tidwall/jsonc"

	"github.com/marcus/boardsync/internal/channel"
)

const (
	configFile = "config.json"
	lockFile   = "config.json.lock"

	DefaultServerURL       = "http://localhost:8080"
	DefaultTransport       = TransportSSE
	DefaultLogLevel        = "warn"
	DefaultRefreshInterval = 0
)

// Event channel transports.
const (
	TransportSSE    = "sse"
	TransportPubSub = "pubsub"
	TransportNone   = "none"
)

// ErrUnknownKey is returned by Get and Set for keys that do not exist.
var ErrUnknownKey = errors.New("unknown config key")

// PubSubConfig holds Google Cloud Pub/Sub settings for the pubsub transport.
type PubSubConfig struct {
	Project         string `json:"project,omitempty"`
	Topic           string `json:"topic,omitempty"`
	Subscription    string `json:"subscription,omitempty"`
	CredentialsFile string `json:"credentials_file,omitempty"`
}

// Config is the client config stored at ~/.config/boardsync/config.json.
type Config struct {
	ServerURL       string       `json:"server_url,omitempty"`
	APIKey          string       `json:"api_key,omitempty"`
	ProjectID       string       `json:"project_id,omitempty"`
	SprintID        string       `json:"sprint_id,omitempty"`
	UserID          string       `json:"user_id,omitempty"`
	Transport       string       `json:"transport,omitempty"`
	PubSub          PubSubConfig `json:"pubsub,omitempty"`
	RefreshInterval string       `json:"refresh_interval,omitempty"`
	LogLevel        string       `json:"log_level,omitempty"`
}

// field binds a dotted config key to its environment variable and storage.
type field struct {
	key   string
	env   string
	ref   func(c *Config) *string
	check func(v string) error
}

var fields = []field{
	{"server_url", "BOARDSYNC_SERVER_URL", func(c *Config) *string { return &c.ServerURL }, checkURL},
	{"api_key", "BOARDSYNC_API_KEY", func(c *Config) *string { return &c.APIKey }, nil},
	{"project_id", "BOARDSYNC_PROJECT", func(c *Config) *string { return &c.ProjectID }, nil},
	{"sprint_id", "BOARDSYNC_SPRINT", func(c *Config) *string { return &c.SprintID }, nil},
	{"user_id", "BOARDSYNC_USER", func(c *Config) *string { return &c.UserID }, nil},
	{"transport", "BOARDSYNC_TRANSPORT", func(c *Config) *string { return &c.Transport }, checkTransport},
	{"pubsub.project", "BOARDSYNC_PUBSUB_PROJECT", func(c *Config) *string { return &c.PubSub.Project }, nil},
	{"pubsub.topic", "BOARDSYNC_PUBSUB_TOPIC", func(c *Config) *string { return &c.PubSub.Topic }, nil},
	{"pubsub.subscription", "BOARDSYNC_PUBSUB_SUBSCRIPTION", func(c *Config) *string { return &c.PubSub.Subscription }, nil},
	{"pubsub.credentials_file", "BOARDSYNC_PUBSUB_CREDENTIALS", func(c *Config) *string { return &c.PubSub.CredentialsFile }, nil},
	{"refresh_interval", "BOARDSYNC_REFRESH_INTERVAL", func(c *Config) *string { return &c.RefreshInterval }, checkDuration},
	{"log_level", "BOARDSYNC_LOG_LEVEL", func(c *Config) *string { return &c.LogLevel }, checkLevel},
}

func lookup(key string) (field, bool) {
	for _, f := range fields {
		if f.key == key {
			return f, true
		}
	}
	return field{}, false
}

// Keys returns every settable key in sorted order.
func Keys() []string {
	keys := make([]string, len(fields))
	for i, f := range fields {
		keys[i] = f.key
	}
	sort.Strings(keys)
	return keys
}

// EnvVar returns the environment variable that overrides key.
func EnvVar(key string) string {
	f, _ := lookup(key)
	return f.env
}

// Dir returns the config directory, creating it if necessary.
// BOARDSYNC_CONFIG_DIR overrides the default ~/.config/boardsync.
func Dir() (string, error) {
	dir := os.Getenv("BOARDSYNC_CONFIG_DIR")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("get home dir: %w", err)
		}
		dir = filepath.Join(home, ".config", "boardsync")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	return dir, nil
}

// Path returns the config file path.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFile), nil
}

// LoadFile reads a config file. A missing file yields an empty config.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(jsonc.ToJSON(data), &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

// SaveFile writes cfg to path using atomic write (temp file + rename).
func SaveFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "config-*.json.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	// The file may hold an API key.
	if err := os.Chmod(tmpName, 0600); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// Load resolves the effective config: file, then .env, then environment,
// then defaults.
func Load() (*Config, error) {
	if err := LoadDotenv(".env"); err != nil {
		return nil, err
	}
	path, err := Path()
	if err != nil {
		return nil, err
	}
	cfg, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// LoadDotenv loads variables from a .env file without overriding variables
// already set in the environment. A missing file is not an error.
func LoadDotenv(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides fields from BOARDSYNC_* environment variables.
func (c *Config) ApplyEnv() error {
	for _, f := range fields {
		v, ok := os.LookupEnv(f.env)
		if !ok || v == "" {
			continue
		}
		if f.check != nil {
			if err := f.check(v); err != nil {
				return fmt.Errorf("%s: %w", f.env, err)
			}
		}
		*f.ref(c) = v
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.ServerURL == "" {
		c.ServerURL = DefaultServerURL
	}
	if c.Transport == "" {
		c.Transport = DefaultTransport
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.PubSub.Subscription == "" && c.PubSub.Topic != "" {
		c.PubSub.Subscription = c.PubSub.Topic + "-sub"
	}
}

// Get returns the value stored under key.
func (c *Config) Get(key string) (string, error) {
	f, ok := lookup(key)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return *f.ref(c), nil
}

// Set validates value and stores it under key. An empty value clears it.
func (c *Config) Set(key, value string) error {
	f, ok := lookup(key)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	value = strings.TrimSpace(value)
	if value != "" && f.check != nil {
		if err := f.check(value); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	*f.ref(c) = value
	return nil
}

// Update applies fn to the stored config file under an exclusive lock.
// Environment overrides are not written back.
func Update(fn func(c *Config) error) error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	return withLock(filepath.Join(dir, lockFile), func() error {
		path := filepath.Join(dir, configFile)
		cfg, err := LoadFile(path)
		if err != nil {
			return err
		}
		if err := fn(cfg); err != nil {
			return err
		}
		return SaveFile(path, cfg)
	})
}

// Interval returns the periodic refresh interval, or zero when disabled.
func (c *Config) Interval() time.Duration {
	if c.RefreshInterval == "" {
		return DefaultRefreshInterval
	}
	d, err := time.ParseDuration(c.RefreshInterval)
	if err != nil || d < 0 {
		return DefaultRefreshInterval
	}
	return d
}

// Level returns the slog level for LogLevel.
func (c *Config) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelWarn
	}
	return l
}

// ChannelPubSub returns the Pub/Sub settings for the event channel.
func (c *Config) ChannelPubSub() channel.PubSubConfig {
	return channel.PubSubConfig{
		Project:         c.PubSub.Project,
		Topic:           c.PubSub.Topic,
		Subscription:    c.PubSub.Subscription,
		CredentialsFile: c.PubSub.CredentialsFile,
	}
}

// RequireProject returns an error when no project is configured.
func (c *Config) RequireProject() error {
	if c.ProjectID == "" {
		return fmt.Errorf("no project: pass --project, set BOARDSYNC_PROJECT, or run 'boardsync config set project_id <id>'")
	}
	return nil
}

func checkURL(v string) error {
	if !strings.HasPrefix(v, "http://") && !strings.HasPrefix(v, "https://") {
		return fmt.Errorf("must start with http:// or https://")
	}
	return nil
}

func checkTransport(v string) error {
	switch v {
	case TransportSSE, TransportPubSub, TransportNone:
		return nil
	}
	return fmt.Errorf("must be one of %s, %s, %s", TransportSSE, TransportPubSub, TransportNone)
}

func checkDuration(v string) error {
	d, err := time.ParseDuration(v)
	if err != nil {
		return err
	}
	if d < 0 {
		return fmt.Errorf("must not be negative")
	}
	return nil
}

func checkLevel(v string) error {
	var l slog.Level
	return l.UnmarshalText([]byte(v))
}
