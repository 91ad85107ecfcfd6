package cmd

import (
	"bytes"
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/marcus/boardsync/internal/api"
	"github.com/marcus/boardsync/internal/config"
	"github.com/marcus/boardsync/internal/models"
	"github.com/marcus/boardsync/internal/output"
	"github.com/marcus/boardsync/internal/serverdb"
)

// testEnv is a reference server seeded with one project, with cfg and
// output pointed at it.
type testEnv struct {
	t     *testing.T
	store *serverdb.ServerDB
	url   string
	out   *bytes.Buffer
}

// newTestEnv seeds project p1 (key WP) with:
//
//	s1 "Sprint 1" ACTIVE, s2 "Sprint 2" PLANNED
//	T1 WP-1 "Fix login"    To Do        backlog
//	T2 WP-2 "Write docs"   In Progress  s1
//	T3 WP-3 "Ship billing" Done         s1
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("BOARDSYNC_CONFIG_DIR", filepath.Join(dir, "cfg"))

	dbPath := filepath.Join(dir, "board.db")
	store, err := serverdb.Open(dbPath)
	if err != nil {
		t.Fatalf("open server db: %v", err)
	}
	srv, err := api.NewServer(api.Config{
		ListenAddr:     ":0",
		DBPath:         dbPath,
		RateLimitWrite: 100000,
		EventBuffer:    16,
		EventKeepalive: time.Minute,
	}, store)
	if err != nil {
		t.Fatalf("create server: %v", err)
	}
	httpSrv := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
		httpSrv.Close()
		store.Close()
	})

	env := &testEnv{t: t, store: store, url: httpSrv.URL}
	env.seed()

	prevCfg := cfg
	cfg = &config.Config{
		ServerURL: httpSrv.URL,
		ProjectID: "p1",
		Transport: config.TransportNone,
		LogLevel:  "error",
	}
	prevOut := output.Stdout
	env.out = &bytes.Buffer{}
	output.Stdout = env.out
	t.Cleanup(func() {
		cfg = prevCfg
		output.Stdout = prevOut
	})
	return env
}

func (env *testEnv) seed() {
	t := env.t
	t.Helper()
	if _, err := env.store.CreateProject("p1", "Web Platform", "WP"); err != nil {
		t.Fatal(err)
	}
	for _, s := range []models.Sprint{
		{ID: "s1", ProjectID: "p1", Name: "Sprint 1", Status: models.SprintActive},
		{ID: "s2", ProjectID: "p1", Name: "Sprint 2"},
	} {
		if _, err := env.store.CreateSprint(s); err != nil {
			t.Fatal(err)
		}
	}
	for _, tk := range []models.Ticket{
		{ID: "T1", ProjectID: "p1", Title: "Fix login", Status: models.StatusUnstarted},
		{ID: "T2", ProjectID: "p1", Title: "Write docs", Status: models.StatusInProgress, SprintID: models.StringPtr("s1")},
		{ID: "T3", ProjectID: "p1", Title: "Ship billing", Status: models.StatusComplete, SprintID: models.StringPtr("s1")},
	} {
		if _, err := env.store.CreateTicket(tk); err != nil {
			t.Fatal(err)
		}
	}
}

func (env *testEnv) ticket(id string) *models.Ticket {
	env.t.Helper()
	tk, err := env.store.GetTicket(id)
	if err != nil || tk == nil {
		env.t.Fatalf("get ticket %s: %v", id, err)
	}
	return tk
}

func (env *testEnv) sprint(id string) *models.Sprint {
	env.t.Helper()
	s, err := env.store.GetSprint(id)
	if err != nil || s == nil {
		env.t.Fatalf("get sprint %s: %v", id, err)
	}
	return s
}

// run sets flags on c and calls its RunE. Flags are reset when the test ends.
func run(t *testing.T, c *cobra.Command, flags map[string]string, args ...string) error {
	t.Helper()
	t.Cleanup(func() { resetFlags(c) })
	for name, val := range flags {
		if err := c.Flags().Set(name, val); err != nil {
			t.Fatalf("set --%s: %v", name, err)
		}
	}
	return c.RunE(c, args)
}

func resetFlags(c *cobra.Command) {
	c.Flags().VisitAll(func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	})
}
