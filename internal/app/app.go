// Package app wires configuration, storage, adapters and services for the
// server and the CLI.
package app

import (
	"context"
	"fmt"
	"io"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"affsync/internal/delivery"
	"affsync/internal/domain"
	"affsync/internal/infrastructure"
	"affsync/internal/infrastructure/network"
	"affsync/internal/usecase"
	"affsync/pkg/config"
	"affsync/pkg/logger"
	"affsync/pkg/metrics"
)

// App holds the wired services of one process
type App struct {
	Config   *config.Config
	Logger   *logger.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Records  *usecase.RecordService
	Sync     *usecase.SyncService
	Operator *usecase.OperatorService

	db *sqlx.DB
}

// Option adjusts how New builds the App
type Option func(*options)

type options struct {
	logOutput io.Writer
}

// WithLogOutput sends log lines to w instead of stdout
func WithLogOutput(w io.Writer) Option {
	return func(o *options) {
		o.logOutput = w
	}
}

// New builds an App from cfg. Close releases the database.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	log := logger.New(cfg.Logging.Level)
	if o.logOutput != nil {
		log.SetOutput(o.logOutput)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	a := &App{
		Config:   cfg,
		Logger:   log,
		Registry: registry,
		Metrics:  m,
	}

	repo, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}

	images, err := newImageCache(cfg.Images, log, m)
	if err != nil {
		a.Close()
		return nil, err
	}

	var brands domain.BrandLookup
	if cfg.Brand.APIKey != "" {
		brands = infrastructure.NewBrandLookupClient(cfg.Brand, log, m)
	} else {
		log.Info("Brand lookup disabled, no API key configured")
	}

	adapters := network.NewAdapters(cfg, log, m)
	networks := make([]domain.Network, 0, len(adapters))
	for _, adapter := range adapters {
		networks = append(networks, adapter.Network())
	}

	a.Records = usecase.NewRecordService(repo, log, m, cfg.Sync.PruneBatchSize)
	policy := usecase.NewAdvertiserPolicy(images, brands, cfg.Images.LogoFolder, log)
	reconcile := usecase.NewReconcileService(a.Records, log, cfg.Sync.ReconcileChunkSize)
	tracker := usecase.NewSyncTracker(networks)

	a.Sync = usecase.NewSyncService(adapters, a.Records, policy, reconcile, tracker, images, usecase.SyncOptions{
		LogoLookupQuota:    cfg.Sync.LogoLookupQuota,
		CacheProductImages: cfg.Sync.CacheProductImages,
		ProductFolder:      cfg.Images.ProductFolder,
	}, log, m)
	a.Operator = usecase.NewOperatorService(a.Records, images, cfg.Images.LogoFolder, log)

	log.WithFields(map[string]any{
		"store":    cfg.Store.Driver,
		"images":   cfg.Images.Backend,
		"networks": networks,
	}).Info("Application wired")

	return a, nil
}

// Router builds the HTTP surface over the app's services
func (a *App) Router() *delivery.HTTPRouter {
	handlers := delivery.NewHTTPHandlers(a.Sync, a.Operator, a.Logger, a.Config.Sync.HistoryLimit)

	opts := delivery.RouterOptions{RequestTimeout: a.Config.Server.RequestTimeout}
	if a.Config.Images.Backend == "local" {
		opts.UploadsPrefix = a.Config.Images.LocalURLPrefix
		opts.UploadsDir = a.Config.Images.LocalDir
	}
	return delivery.NewHTTPRouter(handlers, a.Logger, a.Metrics, a.Registry, opts)
}

func (a *App) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

func (a *App) openStore(ctx context.Context) (domain.RecordRepository, error) {
	if a.Config.Store.Driver == "memory" {
		a.Logger.Warn("Using in-memory record store, data is lost on exit")
		return infrastructure.NewMemoryRepository(a.Logger), nil
	}

	db, err := infrastructure.OpenDatabase(ctx, a.Config.Store)
	if err != nil {
		return nil, err
	}
	a.db = db
	return infrastructure.NewSQLRepository(db, a.Config.Store.Driver, a.Logger), nil
}

// newImageCache writes to S3 when configured, keeping the local directory
// as the upload fallback
func newImageCache(cfg config.ImagesConfig, log *logger.Logger, m *metrics.Metrics) (*infrastructure.ImageCache, error) {
	local := infrastructure.NewFilesystemObjectStore(cfg.LocalDir, cfg.LocalURLPrefix)
	if cfg.Backend != "s3" {
		return infrastructure.NewImageCache(local, nil, cfg, log, m), nil
	}

	s3, err := infrastructure.NewS3ObjectStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 image store: %w", err)
	}
	return infrastructure.NewImageCache(s3, local, cfg, log, m), nil
}
