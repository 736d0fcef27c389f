package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/quarry-search/quarry/internal/chunk"
	"github.com/quarry-search/quarry/internal/config"
	"github.com/quarry-search/quarry/internal/embed"
	qerrors "github.com/quarry-search/quarry/internal/errors"
	"github.com/quarry-search/quarry/internal/index"
	"github.com/quarry-search/quarry/internal/router"
	"github.com/quarry-search/quarry/internal/store"
)

// app wires the engine for one workspace root: config, registry,
// router, embedder, and pipeline. Commands build exactly what they
// need from it and close it when done.
type app struct {
	root     string
	dataDir  string
	cfg      *config.Config
	registry *store.Registry
	router   *router.Router
	embedder embed.Embedder
	pipeline *index.Pipeline
	breaker  *qerrors.CircuitBreaker
}

// newApp loads configuration and opens the storage and embedding
// stack for a workspace root. With offline set, the deterministic
// static embedder replaces the configured provider.
func newApp(ctx context.Context, root string, offline bool) (*app, error) {
	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}
	if offline {
		cfg.Embeddings.Provider = "static"
	}

	embedder, err := embed.NewFromConfig(cfg.Embeddings)
	if err != nil {
		return nil, err
	}

	// The store needs a fixed dimension before the first collection is
	// created; probe the provider when the config leaves it unset.
	dims := cfg.Embeddings.Dimensions
	if dims == 0 {
		dims = embedder.Dimensions()
	}
	if dims == 0 {
		probe, probeErr := embedder.Embed(ctx, "quarry")
		if probeErr != nil {
			embedder.Close()
			return nil, fmt.Errorf("embedding provider unavailable: %w", probeErr)
		}
		dims = len(probe)
	}

	dataDir := config.DataDir(root)
	registry, err := store.NewRegistry(filepath.Join(dataDir, "registry.db"))
	if err != nil {
		embedder.Close()
		return nil, err
	}

	rt := router.New(registry, router.Options{
		DataDir: dataDir,
		Store: store.Options{
			Dimensions: dims,
			Metric:     cfg.Store.Metric,
			M:          cfg.Store.M,
			EfSearch:   cfg.Store.EfSearch,
		},
	})

	breaker := qerrors.NewCircuitBreaker("embed",
		qerrors.WithMaxFailures(cfg.Indexing.BreakerFailures))
	pipeline := index.NewPipeline(newChunker(), embedder, rt, breaker)

	return &app{
		root:     root,
		dataDir:  dataDir,
		cfg:      cfg,
		registry: registry,
		router:   rt,
		embedder: embedder,
		pipeline: pipeline,
		breaker:  breaker,
	}, nil
}

// coordinator builds the indexing coordinator for this workspace.
func (a *app) coordinator() *index.Coordinator {
	return index.NewCoordinator(a.root, index.Config{
		DataDir:         a.dataDir,
		Workers:         a.cfg.Indexing.Workers,
		Intensity:       a.cfg.Indexing.Intensity,
		MaxFileSize:     a.cfg.Indexing.MaxFileSize,
		ExcludePatterns: a.cfg.Paths.Exclude,
	}, a.pipeline, a.router)
}

func newChunker() chunk.Chunker {
	return chunk.NewCodeChunker()
}

func (a *app) Close() {
	a.router.Close()
	a.registry.Close()
	a.embedder.Close()
}
