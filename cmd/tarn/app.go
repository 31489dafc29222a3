package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/tarnlabs/tarn/internal/bridge"
	"github.com/tarnlabs/tarn/internal/config"
	"github.com/tarnlabs/tarn/internal/embedding"
	"github.com/tarnlabs/tarn/internal/store"
)

// app bundles the wired components every subcommand needs.
type app struct {
	cfg     config.Config
	db      *store.SQLiteDB
	adapter *embedding.Adapter
	bridge  *bridge.Bridge
	log     *slog.Logger
}

// newApp loads configuration, opens the store, and wires the bridge. Logging
// goes to stderr; stdout belongs to the serving transports.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	level := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	db, err := store.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	client := embedding.NewOllamaClient(cfg.Ollama.BaseURL)
	adapter := embedding.NewAdapter(client, cfg.Embedding.Model, cfg.Embedding.Dimension, log)

	b := bridge.New(db, adapter, log)
	if err := b.InitTables(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing tables: %w", err)
	}

	if !cfg.Embedding.SkipModelLoad {
		status := b.InitializeModel(ctx)
		log.Info("embedding model probed", "loaded", status.Loaded, "dimension", status.Dimension)
	}

	return &app{cfg: cfg, db: db, adapter: adapter, bridge: b, log: log}, nil
}

func (a *app) close() {
	if err := a.db.Close(); err != nil {
		a.log.Warn("closing store", "error", err)
	}
}
