package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// isolate points the config dir at a temp dir and clears BOARDSYNC_* vars.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("BOARDSYNC_CONFIG_DIR", filepath.Join(dir, "cfg"))
	for _, f := range fields {
		t.Setenv(f.env, "")
	}
	return dir
}

func TestLoadFile_Missing(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.ServerURL != "" {
		t.Errorf("ServerURL = %q, want empty", cfg.ServerURL)
	}
}

func TestLoadFile_Comments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data := `{
  // where the API lives
  "server_url": "https://board.example.com",
  "project_id": "p1", /* default project */
  "pubsub": {"topic": "board-events",},
}`
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.ServerURL != "https://board.example.com" || cfg.ProjectID != "p1" || cfg.PubSub.Topic != "board-events" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadFile_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"server_url": 3}`), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestSaveFile_Roundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.json")
	in := &Config{ServerURL: "http://x:1", APIKey: "k", PubSub: PubSubConfig{Project: "gcp"}}
	if err := SaveFile(path, in); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("perm = %o, want 600", perm)
	}
	out, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if *out != *in {
		t.Errorf("roundtrip = %+v, want %+v", out, in)
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("leftover temp files: %d entries", len(entries))
	}
}

func TestLoad_Precedence(t *testing.T) {
	isolate(t)
	t.Chdir(t.TempDir())

	if err := Update(func(c *Config) error {
		c.ServerURL = "http://file:1"
		c.ProjectID = "file-project"
		c.LogLevel = "info"
		return nil
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	t.Setenv("BOARDSYNC_PROJECT", "env-project")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServerURL != "http://file:1" {
		t.Errorf("ServerURL = %q, want file value", cfg.ServerURL)
	}
	if cfg.ProjectID != "env-project" {
		t.Errorf("ProjectID = %q, want env value", cfg.ProjectID)
	}
	if cfg.Transport != TransportSSE {
		t.Errorf("Transport = %q, want default", cfg.Transport)
	}
	if cfg.Level() != slog.LevelInfo {
		t.Errorf("Level = %v", cfg.Level())
	}
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)
	t.Chdir(t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ServerURL != DefaultServerURL || cfg.Transport != DefaultTransport || cfg.LogLevel != DefaultLogLevel {
		t.Errorf("defaults = %+v", cfg)
	}
	if cfg.Interval() != 0 {
		t.Errorf("Interval = %v, want 0", cfg.Interval())
	}
	if err := cfg.RequireProject(); err == nil {
		t.Error("RequireProject with no project should fail")
	}
}

func TestLoad_Dotenv(t *testing.T) {
	isolate(t)
	wd := t.TempDir()
	t.Chdir(wd)
	env := "BOARDSYNC_USER=u-dotenv\nBOARDSYNC_SERVER_URL=http://dotenv:2\n"
	if err := os.WriteFile(filepath.Join(wd, ".env"), []byte(env), 0600); err != nil {
		t.Fatal(err)
	}
	// Real environment wins over .env.
	t.Setenv("BOARDSYNC_SERVER_URL", "http://real:3")
	// godotenv only fills unset variables; isolate set this one to "".
	os.Unsetenv("BOARDSYNC_USER")
	t.Cleanup(func() { os.Unsetenv("BOARDSYNC_USER") })

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.UserID != "u-dotenv" {
		t.Errorf("UserID = %q, want value from .env", cfg.UserID)
	}
	if cfg.ServerURL != "http://real:3" {
		t.Errorf("ServerURL = %q, want real env", cfg.ServerURL)
	}
}

func TestLoad_InvalidEnv(t *testing.T) {
	isolate(t)
	t.Chdir(t.TempDir())
	t.Setenv("BOARDSYNC_TRANSPORT", "carrier-pigeon")
	if _, err := Load(); err == nil {
		t.Error("expected error for invalid transport")
	}
}

func TestGetSet(t *testing.T) {
	tests := []struct {
		key     string
		value   string
		wantErr bool
	}{
		{"server_url", "https://api.example.com", false},
		{"server_url", "ftp://nope", true},
		{"transport", "pubsub", false},
		{"transport", "smoke", true},
		{"refresh_interval", "30s", false},
		{"refresh_interval", "-1s", true},
		{"refresh_interval", "soon", true},
		{"log_level", "debug", false},
		{"log_level", "loud", true},
		{"pubsub.subscription", "board-sub", false},
		{"sprint_id", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			var c Config
			err := c.Set(tt.key, tt.value)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Set err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			got, err := c.Get(tt.key)
			if err != nil || got != tt.value {
				t.Errorf("Get = %q, %v", got, err)
			}
		})
	}
}

func TestGetSet_UnknownKey(t *testing.T) {
	var c Config
	if _, err := c.Get("colour"); !errors.Is(err, ErrUnknownKey) {
		t.Errorf("Get err = %v", err)
	}
	if err := c.Set("colour", "blue"); !errors.Is(err, ErrUnknownKey) {
		t.Errorf("Set err = %v", err)
	}
}

func TestKeys(t *testing.T) {
	keys := Keys()
	if len(keys) != len(fields) {
		t.Fatalf("len = %d", len(keys))
	}
	for i := 1; i < len(keys); i++ {
		if keys[i-1] > keys[i] {
			t.Errorf("keys not sorted: %v", keys)
		}
	}
	if EnvVar("project_id") != "BOARDSYNC_PROJECT" {
		t.Errorf("EnvVar(project_id) = %q", EnvVar("project_id"))
	}
}

func TestUpdate_KeepsOtherFields(t *testing.T) {
	isolate(t)
	if err := Update(func(c *Config) error { return c.Set("api_key", "secret") }); err != nil {
		t.Fatal(err)
	}
	if err := Update(func(c *Config) error { return c.Set("project_id", "p9") }); err != nil {
		t.Fatal(err)
	}
	path, _ := Path()
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.APIKey != "secret" || cfg.ProjectID != "p9" {
		t.Errorf("cfg = %+v", cfg)
	}

	boom := errors.New("boom")
	if err := Update(func(c *Config) error { c.ProjectID = "lost"; return boom }); !errors.Is(err, boom) {
		t.Errorf("Update err = %v", err)
	}
	cfg, _ = LoadFile(path)
	if cfg.ProjectID != "p9" {
		t.Errorf("failed update was written: %q", cfg.ProjectID)
	}
}

func TestInterval(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"15s", 15 * time.Second},
		{"garbage", 0},
		{"-5s", 0},
	}
	for _, tt := range tests {
		c := Config{RefreshInterval: tt.in}
		if got := c.Interval(); got != tt.want {
			t.Errorf("Interval(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestChannelPubSub(t *testing.T) {
	c := Config{PubSub: PubSubConfig{Project: "gcp", Topic: "ev"}}
	c.applyDefaults()
	ps := c.ChannelPubSub()
	if ps.Project != "gcp" || ps.Topic != "ev" || ps.Subscription != "ev-sub" {
		t.Errorf("ChannelPubSub = %+v", ps)
	}
}
