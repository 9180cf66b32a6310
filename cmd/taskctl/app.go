package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/songmopx/planeveryday.org/internal/config"
	"github.com/songmopx/planeveryday.org/internal/platform/logging"
	"github.com/songmopx/planeveryday.org/internal/storage"
	"github.com/songmopx/planeveryday.org/internal/task"
	"github.com/songmopx/planeveryday.org/internal/tracker"
)

// app holds what every subcommand needs. It is opened before a subcommand
// runs and flushed after.
type app struct {
	dataDir  string
	timezone string
	asJSON   bool

	out   io.Writer
	store *storage.SQLiteStore
	tr    *tracker.Tracker
}

func (a *app) open(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if a.dataDir != "" {
		cfg.DataDir = a.dataDir
	}
	loc := cfg.Location()
	if a.timezone != "" {
		if loc, err = time.LoadLocation(a.timezone); err != nil {
			return fmt.Errorf("timezone %q: %w", a.timezone, err)
		}
	}

	a.out = cmd.OutOrStdout()
	logger := logging.NewLoggerTo(cmd.ErrOrStderr(), "taskctl", cfg.LogLevel)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("data dir: %w", err)
	}
	a.store, err = storage.OpenSQLite(cfg.DatabasePath())
	if err != nil {
		return err
	}

	gw := storage.NewGateway(a.store, nil, cfg.RemoteTimeout, logger)
	a.tr, err = tracker.New(task.NewCalendar(task.NewSystemClock(), loc), task.NewUUIDGenerator(), gw, tracker.Options{Logger: logger})
	if err != nil {
		return errors.Join(err, a.store.Close())
	}
	if _, err := a.tr.Load(cmd.Context()); err != nil {
		return errors.Join(err, a.store.Close())
	}
	return nil
}

func (a *app) close(ctx context.Context) error {
	if a.store == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	err := a.tr.Flush(ctx)
	return errors.Join(err, a.store.Close())
}

// print writes v as indented JSON when --json is set, otherwise calls text.
func (a *app) print(v any, text func(w io.Writer)) error {
	if a.asJSON {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(a.out)
	return nil
}
