package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"workbench/internal/api"
	"workbench/pkg/config"
	"workbench/pkg/db"
	"workbench/pkg/logging"
	"workbench/pkg/settings/storage"
	"workbench/pkg/version"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the settings and timeline HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts.configPath, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.address)")
	return cmd
}

// run serves until ctx is cancelled, the server fails or a shutdown is
// requested over the API.
func run(ctx context.Context, configPath, addr string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if addr != "" {
		cfg.Server.Address = addr
	}

	cleanupLogs, err := logging.Init(&cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer cleanupLogs()

	slog.Info("Workbench Started", "version", version.Version)

	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	tl, closeTimeline, err := openTimeline(ctx, a)
	if err != nil {
		return err
	}
	defer closeTimeline()

	var host storage.Storage
	if cfg.Settings.HostDB != "" {
		hostDB, err := db.Init(cfg.Settings.HostDB)
		if err != nil {
			return fmt.Errorf("failed to open storage host database: %w", err)
		}
		defer hostDB.Close()
		host = storage.NewSQLite("hosted", hostDB)
	}

	srv := api.NewServer(cfg.Server.Address,
		api.NewSettingsHandler(a.engine),
		api.NewStorageHandler(host),
		api.NewTimelineHandler(tl),
		api.NewPeerRelay(a.hub),
		api.NewAlertHandler(a.alerts),
		cancel,
	)
	return runServerLifecycle(ctx, srv)
}

func runServerLifecycle(ctx context.Context, srv *http.Server) error {
	slog.Info("Starting server", "addr", srv.Addr)
	serverErrors := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("Shutting down server...")
	case err := <-serverErrors:
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
