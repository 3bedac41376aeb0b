// Package app builds the service's object graph from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	gstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/mlsdata/transfermkt-ingest/internal/api"
	"github.com/mlsdata/transfermkt-ingest/internal/catalog"
	"github.com/mlsdata/transfermkt-ingest/internal/clock/system"
	"github.com/mlsdata/transfermkt-ingest/internal/config"
	"github.com/mlsdata/transfermkt-ingest/internal/fetch"
	"github.com/mlsdata/transfermkt-ingest/internal/history"
	"github.com/mlsdata/transfermkt-ingest/internal/orchestrator"
	pubsubpublisher "github.com/mlsdata/transfermkt-ingest/internal/publisher/pubsub"
	"github.com/mlsdata/transfermkt-ingest/internal/scrape"
	"github.com/mlsdata/transfermkt-ingest/internal/storage"
	"github.com/mlsdata/transfermkt-ingest/internal/storage/gcs"
	"github.com/mlsdata/transfermkt-ingest/internal/storage/local"
	"github.com/mlsdata/transfermkt-ingest/internal/storage/memory"
	"github.com/mlsdata/transfermkt-ingest/internal/watermark"
)

// App contains the application's dependencies.
type App struct {
	Cfg     config.Config
	Logger  *zap.Logger
	Store   storage.ObjectStore
	Catalog *catalog.Catalog
	Ledger  *watermark.Manager
	Runner  *orchestrator.Runner
	History *history.RunStore

	gcsClient    *gstorage.Client
	pubsubClient *pubsub.Client
}

// New wires every service from the configuration. Optional services
// (Pub/Sub, Postgres) stay nil when disabled.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	a := &App{Cfg: cfg, Logger: logger}

	store, err := a.buildStore(ctx)
	if err != nil {
		return nil, err
	}
	a.Store = store

	a.Catalog = catalog.New(catalog.Config{
		Competition: cfg.Loader.Competition,
		LeagueName:  cfg.Loader.LeagueName,
	})

	profiles, ok := a.Catalog.Lookup("club_profiles")
	if !ok {
		return nil, fmt.Errorf("catalog is missing club_profiles")
	}
	entities := catalog.NewChain(cfg.Loader.Teams, store, profiles.Folder(cfg.Storage.RawPrefix), logger)

	a.Ledger = watermark.NewManager(watermark.ManagerConfig{
		Store:         store,
		Catalog:       a.Catalog,
		Entities:      entities,
		Clock:         system.New(),
		Logger:        logger,
		RawPrefix:     cfg.Storage.RawPrefix,
		ControlPrefix: cfg.Storage.ControlPrefix,
	})

	var publisher orchestrator.Publisher
	if cfg.PubSub.Enabled {
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("create pubsub client: %w", err)
		}
		a.pubsubClient = client
		publisher = pubsubpublisher.New(client.Topic(cfg.PubSub.TopicName))
	}

	if cfg.DB.Enabled {
		runs, err := history.NewRunStore(ctx, history.Config{DSN: cfg.DB.DSN})
		if err != nil {
			return nil, fmt.Errorf("connect run history: %w", err)
		}
		a.History = runs
	}

	scraper := scrape.New(scrape.Config{
		UserAgent:   cfg.API.UserAgent,
		Timeout:     cfg.RequestTimeout(),
		Competition: cfg.Loader.Competition,
		LeagueName:  cfg.Loader.LeagueName,
		Clock:       system.New(),
	})

	var recorder orchestrator.RunRecorder
	if a.History != nil {
		recorder = a.History
	}
	a.Runner = orchestrator.NewRunner(orchestrator.Config{
		Store:      store,
		Catalog:    a.Catalog,
		Ledger:     a.Ledger,
		NewFetcher: func() orchestrator.Fetcher { return a.newFetchClient() },
		Scraper:    scraper,
		Publisher:  publisher,
		History:    recorder,
		Clock:      system.New(),
		Logger:     logger,
		Workers:    cfg.Loader.Workers,
		RawPrefix:  cfg.Storage.RawPrefix,
	})

	return a, nil
}

func (a *App) buildStore(ctx context.Context) (storage.ObjectStore, error) {
	switch a.Cfg.Storage.Provider {
	case "gcs":
		client, err := gstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create storage client: %w", err)
		}
		a.gcsClient = client
		store, err := gcs.New(ctx, client, gcs.Config{Bucket: a.Cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("open gcs bucket: %w", err)
		}
		return store, nil
	case "local":
		store, err := local.New(local.Config{BaseDir: a.Cfg.Storage.LocalBaseDir})
		if err != nil {
			return nil, fmt.Errorf("open local store: %w", err)
		}
		return store, nil
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown storage provider: %s", a.Cfg.Storage.Provider)
	}
}

func (a *App) newFetchClient() *fetch.Client {
	return fetch.New(fetch.Config{
		BaseURL:           a.Cfg.API.BaseURL,
		ProbePath:         a.Cfg.API.ProbePath,
		UserAgent:         a.Cfg.API.UserAgent,
		Timeout:           a.Cfg.RequestTimeout(),
		MaxRetries:        a.Cfg.API.MaxRetries,
		RetryDelay:        a.Cfg.RetryDelay(),
		BackoffMultiplier: a.Cfg.API.BackoffMultiplier,
		RateLimitDelay:    a.Cfg.RateLimitDelay(),
	}, a.Logger)
}

// Serve runs the status HTTP server until the context is canceled or a
// termination signal arrives.
func (a *App) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var runs api.RunSource
	if a.History != nil {
		runs = a.History
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.Cfg.Server.Port),
		Handler:           api.NewServer(a.Ledger, runs, a.Logger).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("http server started", zap.Int("port", a.Cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	a.Logger.Info("http server stopped")
	return nil
}

// Prune trims each source folder in the store down to the configured
// number of newest payloads.
func (a *App) Prune(ctx context.Context) error {
	keep := a.Cfg.Storage.FilesToKeep
	if keep <= 0 {
		keep = 1
	}
	var errs []error
	for _, src := range a.Catalog.Sources() {
		folder := src.Folder(a.Cfg.Storage.RawPrefix)
		if err := storage.PruneOldObjects(ctx, a.Store, folder, keep); err != nil {
			errs = append(errs, fmt.Errorf("prune %s: %w", folder, err))
			continue
		}
		a.Logger.Info("pruned source folder", zap.String("folder", folder), zap.Int("keep", keep))
	}
	return errors.Join(errs...)
}

// Close releases external clients.
func (a *App) Close() {
	if a.History != nil {
		a.History.Close()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.Logger.Warn("closing pubsub client failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.Logger.Warn("closing storage client failed", zap.Error(err))
		}
	}
}
