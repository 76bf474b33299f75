package main

import (
	"context"
	"fmt"
	"log/slog"

	"workbench/pkg/alert"
	"workbench/pkg/config"
	"workbench/pkg/db"
	"workbench/pkg/peer"
	"workbench/pkg/probe"
	"workbench/pkg/request"
	"workbench/pkg/settings"
	"workbench/pkg/settings/storage"
	"workbench/pkg/store"
)

// app holds the services every command shares.
type app struct {
	cfg      *config.Config
	state    store.Store
	alerts   *alert.Manager
	hub      *peer.Hub
	registry *storage.Registry
	engine   *settings.Engine
	provider *config.UnifiedProvider
}

// openApp opens the database, builds the storage registry and loads the
// settings engine. Close releases everything.
func openApp(ctx context.Context, cfg *config.Config) (*app, error) {
	dbConn, err := db.Init(cfg.DB.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	a := &app{
		cfg:      cfg,
		state:    store.NewSQLiteStore(dbConn),
		alerts:   alert.NewManager(slog.Default()),
		hub:      peer.NewHub(),
		registry: newRegistry(cfg, dbConn),
	}
	a.engine = settings.New(a.registry, settings.Options{
		AppNamespace:     cfg.Settings.AppNamespace,
		CoreNamespace:    cfg.Settings.CoreNamespace,
		CoreKeys:         cfg.Settings.CoreKeys,
		WriteStorageType: storage.Type(cfg.Settings.WriteStorage),
		SaveDelay:        cfg.Settings.SaveDelay.Std(),
		ReloadDelay:      cfg.Settings.ReloadDelay.Std(),
		MaxStorageFails:  cfg.Settings.MaxStorageFails,
		Transport:        a.hub,
		State:            a.state,
		Alerts:           a.alerts,
	})

	if err := a.engine.Init(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize settings: %w", err)
	}

	probes := append([]probe.Probe{{
		Name:     "Database",
		Check:    dbConn.PingContext,
		Critical: true,
	}}, probe.Storages(a.registry.Storages())...)
	if err := probe.AnalyzeResults(probe.Run(ctx, probes, probe.DefaultTimeout)); err != nil {
		a.Close()
		return nil, fmt.Errorf("startup checks failed: %w", err)
	}

	if err := a.engine.Load(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	a.provider = config.NewProvider(cfg, a.engine)
	return a, nil
}

// newRegistry lists the storages, highest priority first: the admin file,
// the remote host, the TOML file and the local database.
func newRegistry(cfg *config.Config, d *db.DB) *storage.Registry {
	reg := storage.NewRegistry()
	if cfg.Settings.AdminFile != "" {
		reg.Add(storage.NewAdminFile("admin", cfg.Settings.AdminFile))
	}
	if cfg.Settings.RemoteURL != "" {
		client := request.New(
			request.WithTimeout(cfg.Request.Timeout.Std()),
			request.WithRetry(cfg.Request.Retries, cfg.Request.Backoff.BaseDelay.Std()),
			request.WithBackoff(cfg.Request.Backoff.BaseDelay.Std(), cfg.Request.Backoff.MaxDelay.Std()),
		)
		reg.Add(storage.NewRemote("remote", cfg.Settings.RemoteURL, client))
	}
	if cfg.Settings.TOMLFile != "" {
		reg.Add(storage.NewTOMLFile("file", cfg.Settings.TOMLFile))
	}
	reg.Add(storage.NewSQLite("local", d))
	return reg
}

// Close flushes pending settings and releases the database.
func (a *app) Close() {
	if a.engine != nil {
		if a.engine.IsLoaded() {
			ctx, cancel := context.WithTimeout(context.Background(), probe.DefaultTimeout)
			if err := a.engine.Flush(ctx); err != nil {
				slog.Warn("Settings: final save failed", "error", err)
			}
			cancel()
		}
		a.engine.Close()
	}
	a.hub.Close()
	if err := a.state.Close(); err != nil {
		slog.Warn("Failed to close database", "error", err)
	}
}
