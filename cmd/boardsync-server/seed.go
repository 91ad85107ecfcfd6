package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/marcus/boardsync/internal/api"
	"github.com/marcus/boardsync/internal/serverdb"
)

func runSeed(args []string) {
	fs := pflag.NewFlagSet("seed", pflag.ExitOnError)
	file := fs.StringP("file", "f", "", "path to a YAML seed file")
	dbPath := fs.String("db", "", "path to board.db (default: from BOARDSYNC_SERVER_DB_PATH or ./data/board.db)")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: boardsync-server seed --file seed.yaml [--db path]

Loads projects, sprints and tickets from a YAML file. Projects that
already exist are skipped.`)
		fs.PrintDefaults()
	}
	fs.Parse(args)

	if *file == "" {
		fs.Usage()
		os.Exit(1)
	}

	store := openDB(*dbPath)
	defer store.Close()

	if err := applySeed(store, *file); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func openDB(dbPath string) *serverdb.ServerDB {
	if dbPath == "" {
		dbPath = api.LoadConfig().DBPath
	}
	store, err := serverdb.Open(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: open database: %v\n", err)
		os.Exit(1)
	}
	return store
}

func applySeed(store *serverdb.ServerDB, path string) error {
	seed, err := serverdb.LoadSeed(path)
	if err != nil {
		return err
	}
	stats, err := store.Apply(seed)
	if err != nil {
		return fmt.Errorf("apply seed: %w", err)
	}
	slog.Info("seed applied", "path", path,
		"projects", stats.Projects, "sprints", stats.Sprints, "tickets", stats.Tickets, "skipped", stats.Skipped)
	return nil
}
