package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/audiolibrelab/pocketrec/internal/audio"
	"github.com/audiolibrelab/pocketrec/internal/catalog"
	"github.com/audiolibrelab/pocketrec/internal/config"
	"github.com/audiolibrelab/pocketrec/internal/export"
	"github.com/audiolibrelab/pocketrec/internal/observe"
	"github.com/audiolibrelab/pocketrec/internal/play"
	"github.com/audiolibrelab/pocketrec/internal/session"
	"github.com/audiolibrelab/pocketrec/internal/storage"
)

// OpenStore builds the recording catalog on the configured storage backend.
// The returned closer releases backend connections.
func OpenStore(ctx context.Context, cfg *config.Config, metrics *observe.Metrics) (*catalog.Store, func(), error) {
	var kv catalog.KVStore
	closer := func() {}

	switch cfg.Storage.Backend {
	case "postgres":
		pgkv, pool, err := storage.OpenPostgresKV(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open postgres storage: %w", err)
		}
		kv = pgkv
		closer = pool.Close
	case "file", "":
		kv = storage.NewFileKV(cfg.Storage.KVFile)
	default:
		return nil, nil, fmt.Errorf("unknown storage backend: %s", cfg.Storage.Backend)
	}

	slog.Debug("Catalog storage opened", "backend", cfg.Storage.Backend, "directory", cfg.Storage.RecordingsDirectory)

	store := catalog.New(storage.LocalFiles{}, kv, catalog.Config{
		Directory: cfg.Storage.RecordingsDirectory,
		Metrics:   metrics,
	})
	return store, closer, nil
}

// NewFromConfig wires capture, session, catalog and playback for cfg
func NewFromConfig(ctx context.Context, cfg *config.Config, metrics *observe.Metrics) (*PocketRecService, error) {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}

	store, closeStore, err := OpenStore(ctx, cfg, metrics)
	if err != nil {
		return nil, err
	}

	capture, err := audio.NewCapture(cfg)
	if err != nil {
		closeStore()
		return nil, err
	}

	controller := session.NewController(capture, store, session.Config{
		Quality:      audio.Quality(cfg.Recording.Quality),
		PollInterval: cfg.Recording.PollInterval(),
		Metrics:      metrics,
	})

	return New(cfg, Dependencies{
		Recorder: controller,
		Catalog:  store,
		Playback: play.New(cfg.Playback),
		Exporter: export.New(cfg.Capture),
		Closers:  []func(){closeStore},
	}), nil
}
