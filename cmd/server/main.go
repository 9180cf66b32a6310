package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	gcs "cloud.google.com/go/storage"
	"github.com/go-chi/chi/v5"
	"google.golang.org/api/option"

	"github.com/songmopx/planeveryday.org/internal/config"
	"github.com/songmopx/planeveryday.org/internal/httpapi"
	"github.com/songmopx/planeveryday.org/internal/platform/auth"
	"github.com/songmopx/planeveryday.org/internal/platform/logging"
	"github.com/songmopx/planeveryday.org/internal/platform/server"
	"github.com/songmopx/planeveryday.org/internal/storage"
	"github.com/songmopx/planeveryday.org/internal/task"
	"github.com/songmopx/planeveryday.org/internal/tracker"
)

const serviceName = "planeveryday"

func main() {
	ctx := context.Background()
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Errorf("config error: %w", err))
	}

	logger := logging.NewLogger(serviceName, cfg.LogLevel)
	slog.SetDefault(logger)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		panic(fmt.Errorf("data dir error: %w", err))
	}
	local, err := storage.OpenSQLite(cfg.DatabasePath())
	if err != nil {
		panic(fmt.Errorf("local store init error: %w", err))
	}
	defer local.Close()

	remote, cleanup, err := newRemote(ctx, cfg)
	if err != nil {
		panic(fmt.Errorf("remote store init error: %w", err))
	}
	defer cleanup()

	gateway := storage.NewGateway(local, remote, cfg.RemoteTimeout, logger)
	cal := task.NewCalendar(task.NewSystemClock(), cfg.Location())

	tr, err := tracker.New(cal, task.NewUUIDGenerator(), gateway, tracker.Options{Logger: logger})
	if err != nil {
		panic(fmt.Errorf("tracker init error: %w", err))
	}
	if _, err := tr.Load(ctx); err != nil {
		panic(fmt.Errorf("initial load error: %w", err))
	}

	verifier, err := auth.NewVerifier(auth.Config{
		Mode:     cfg.Auth.Mode,
		JWKSURL:  cfg.Auth.JWKSURL,
		Audience: cfg.Auth.Audience,
		Issuer:   cfg.Auth.Issuer,
	})
	if err != nil {
		panic(fmt.Errorf("auth verifier error: %w", err))
	}

	session := auth.NewSession()
	session.OnChange(tr.OnIdentityChange)

	router := server.NewRouter(serviceName, logger, cfg.RequestTimeout, func(r chi.Router) {
		httpapi.RegisterRoutes(r, tr, session, verifier, logger)
	})
	httpapi.RegisterStream(router, tr, session, verifier, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	// Event streams only end when their subscription closes.
	srv.RegisterOnShutdown(tr.Events().Close)

	if err := server.Run(ctx, srv, logger, tr.Flush); err != nil && !errors.Is(err, http.ErrServerClosed) {
		panic(err)
	}
}

func newRemote(ctx context.Context, cfg config.Config) (storage.Store, func(), error) {
	var opts []option.ClientOption
	if cfg.Firestore.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.Firestore.CredentialsFile))
	}

	switch cfg.RemoteStore {
	case config.RemoteFirestore:
		if cfg.Firestore.EmulatorHost != "" {
			if err := os.Setenv("FIRESTORE_EMULATOR_HOST", cfg.Firestore.EmulatorHost); err != nil {
				return nil, nil, fmt.Errorf("set FIRESTORE_EMULATOR_HOST: %w", err)
			}
		}

		client, err := firestore.NewClientWithDatabase(ctx, cfg.GCPProjectID, cfg.Firestore.Database, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("firestore client: %w", err)
		}
		cleanup := func() {
			_ = client.Close()
		}
		return storage.NewFirestoreStore(client), cleanup, nil
	case config.RemoteGCS:
		client, err := gcs.NewClient(ctx, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("storage client: %w", err)
		}
		cleanup := func() {
			_ = client.Close()
		}
		return storage.NewGCSStore(client, cfg.Storage.Bucket), cleanup, nil
	default:
		return nil, func() {}, nil
	}
}
