package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/workpulse/graphsync/internal/api"
	"github.com/workpulse/graphsync/internal/config"
	"github.com/workpulse/graphsync/internal/engine"
	"github.com/workpulse/graphsync/internal/graph"
	"github.com/workpulse/graphsync/internal/provider"
	"github.com/workpulse/graphsync/internal/provider/clickup"
	"github.com/workpulse/graphsync/internal/provider/github"
	"github.com/workpulse/graphsync/internal/stats"
)

func main() {
	cfgPath := flag.String("config", "configs/graphsync.yaml", "Path to YAML config")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	// ── Load config ──────────────────────────────────────────────────────────
	loader, err := config.NewLoader(*cfgPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	cfg := loader.Config()
	if err := config.Validate(cfg); err != nil {
		slog.Error("config validation failed", "err", err)
		os.Exit(1)
	}

	// ── Graph store ──────────────────────────────────────────────────────────
	store, err := graph.Open(graph.Options{
		Path:       cfg.Store.Path,
		InMemory:   cfg.Store.InMemory,
		SyncWrites: cfg.Store.SyncWrites,
	})
	if err != nil {
		slog.Error("failed to open graph store", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	// ── Provider registry ─────────────────────────────────────────────────────
	registry, err := buildRegistry(cfg)
	if err != nil {
		slog.Error("failed to build provider registry", "err", err)
		os.Exit(1)
	}
	slog.Info("providers registered", "all", registry.Names(), "enabled", registry.Enabled())

	// ── Engine ────────────────────────────────────────────────────────────────
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	collector := stats.NewCollector()
	eng := engine.New(ctx, store, collector, cfg.Engine)

	// Registrations are fixed for this process; a config rewrite on disk
	// only signals that a restart is pending.
	stopWatch, err := loader.Watch(func() {
		slog.Warn("config file changed on disk; restart required to apply")
	})
	if err != nil {
		slog.Warn("config watcher unavailable", "err", err)
	} else {
		defer stopWatch()
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	handler := api.New(registry, eng, collector)
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutS) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutS) * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down…")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()
	_ = srv.Shutdown(shutCtx)
	eng.Shutdown() // drain lanes before the store closes
	cancel()
	slog.Info("goodbye")
}

// buildRegistry wires the fixed set of provider variants from config.
func buildRegistry(cfg *config.Config) (*provider.Registry, error) {
	registry := provider.NewRegistry()
	for _, pc := range cfg.Providers {
		conf := provider.Config{
			Name:    pc.Name,
			Enabled: pc.Enabled,
			Secret:  []byte(pc.Secret),
			Events:  pc.Events,
		}
		var p provider.Provider
		switch pc.Name {
		case "clickup":
			p = clickup.New(conf)
		case "github":
			p = github.New(conf)
		default:
			return nil, fmt.Errorf("no implementation for provider %q", pc.Name)
		}
		if err := registry.Register(p); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
