// Package app builds the long-lived services from configuration and owns
// their shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	gcsstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/api"
	"github.com/JakeFAU/listing-crawler/internal/clock/system"
	"github.com/JakeFAU/listing-crawler/internal/config"
	"github.com/JakeFAU/listing-crawler/internal/crawler"
	collyfetcher "github.com/JakeFAU/listing-crawler/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/listing-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/listing-crawler/internal/id/uuid"
	"github.com/JakeFAU/listing-crawler/internal/island"
	"github.com/JakeFAU/listing-crawler/internal/listing"
	"github.com/JakeFAU/listing-crawler/internal/pipeline"
	"github.com/JakeFAU/listing-crawler/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/listing-crawler/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/listing-crawler/internal/publisher/pubsub"
	gcsstore "github.com/JakeFAU/listing-crawler/internal/storage/gcs"
	localstore "github.com/JakeFAU/listing-crawler/internal/storage/local"
	memorystore "github.com/JakeFAU/listing-crawler/internal/storage/memory"
	postgresstore "github.com/JakeFAU/listing-crawler/internal/storage/postgres"
	redisstore "github.com/JakeFAU/listing-crawler/internal/storage/redis"
	"github.com/JakeFAU/listing-crawler/internal/uploads"
)

// App holds the services shared by the CLI commands.
type App struct {
	cfg          config.Config
	logger       *zap.Logger
	clock        crawler.Clock
	store        crawler.PropertyStore
	publisher    crawler.Publisher
	orchestrator *pipeline.Orchestrator
	ingestor     *pipeline.Ingestor
	uploads      *uploads.Root
	closers      []func() error
}

// New wires every service described by cfg. It fails fast, closing whatever
// was already opened.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger, clock: system.New()}
	if err := a.init(ctx); err != nil {
		if cerr := a.Close(); cerr != nil {
			logger.Warn("close after failed init", zap.Error(cerr))
		}
		return nil, err
	}
	logger.Info("application services initialized",
		zap.String("storage", cfg.Storage.Provider),
		zap.String("pubsub", cfg.PubSub.Provider),
		zap.String("enrich_mode", cfg.Crawler.EnrichMode),
		zap.Bool("headless", cfg.Headless.Enabled),
	)
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	var err error
	if a.store, err = a.buildStore(ctx); err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	if a.publisher, err = a.buildPublisher(ctx); err != nil {
		return fmt.Errorf("init publisher: %w", err)
	}
	fetcher, err := a.buildFetcher()
	if err != nil {
		return fmt.Errorf("init fetcher: %w", err)
	}
	if a.orchestrator, err = a.buildOrchestrator(fetcher); err != nil {
		return fmt.Errorf("init orchestrator: %w", err)
	}
	topic := ""
	if a.publisher != nil {
		topic = a.cfg.PubSub.TopicName
	}
	a.ingestor, err = pipeline.NewIngestor(a.orchestrator, a.store, a.publisher, topic, a.clock, a.logger.Named("ingest"))
	if err != nil {
		return fmt.Errorf("init ingestor: %w", err)
	}
	if a.uploads, err = uploads.New(a.cfg.Uploads.Dir); err != nil {
		return fmt.Errorf("init uploads: %w", err)
	}
	return nil
}

func (a *App) buildStore(ctx context.Context) (crawler.PropertyStore, error) {
	switch a.cfg.Storage.Provider {
	case config.StorageMemory:
		return memorystore.NewStore(), nil
	case config.StorageFile:
		return localstore.New(localstore.Config{DataDir: a.cfg.Storage.DataDir})
	case config.StorageGCS:
		client, err := gcsstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		return gcsstore.New(client, gcsstore.Config{
			Bucket:      a.cfg.Storage.GCSBucket,
			Object:      a.cfg.Storage.GCSObject,
			MaxAttempts: a.cfg.Storage.MaxCASAttempts,
		})
	case config.StoragePostgres:
		store, err := postgresstore.New(ctx, postgresstore.Config{
			DSN:      a.cfg.DB.DSN,
			Table:    a.cfg.DB.Table,
			MaxConns: int32(a.cfg.DB.MaxConns), //nolint:gosec // validated small pool size
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { store.Close(); return nil })
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return store, nil
	case config.StorageRedis:
		store, err := redisstore.New(redisstore.Config{
			Addr:        a.cfg.Redis.Addr,
			Password:    a.cfg.Redis.Password,
			DB:          a.cfg.Redis.DB,
			Key:         a.cfg.Redis.Key,
			MaxAttempts: a.cfg.Storage.MaxCASAttempts,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage provider %q", a.cfg.Storage.Provider)
	}
}

func (a *App) buildPublisher(ctx context.Context) (crawler.Publisher, error) {
	switch a.cfg.PubSub.Provider {
	case config.PubSubNone, "":
		return nil, nil
	case config.PubSubMemory:
		return memorypublisher.New(), nil
	case config.PubSubGCP:
		client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client: %w", err)
		}
		pub, err := pubsubpublisher.New(client, a.cfg.PubSub.TopicName)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		a.closers = append(a.closers, pub.Close)
		return pub, nil
	default:
		return nil, fmt.Errorf("unknown pubsub provider %q", a.cfg.PubSub.Provider)
	}
}

func (a *App) buildFetcher() (crawler.Fetcher, error) {
	var fetcher crawler.Fetcher
	if a.cfg.Headless.Enabled {
		hf, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       1,
			NavigationTimeout: time.Duration(a.cfg.Headless.NavTimeoutSec) * time.Second,
		}, collyfetcher.NewIdentityPool(a.cfg.HTTP.UserAgents))
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { hf.Close(); return nil })
		fetcher = hf
	} else {
		fetcher = collyfetcher.New(collyfetcher.Config{
			UserAgents:  a.cfg.HTTP.UserAgents,
			Timeout:     a.cfg.FetchTimeout(),
			MaxBodySize: a.cfg.HTTP.MaxBodyBytes,
		})
	}
	var limiter *ratelimit.Limiter
	if a.cfg.HTTP.RequestsPerSecond > 0 {
		limiter = ratelimit.New(ratelimit.Config{DefaultRPS: a.cfg.HTTP.RequestsPerSecond, DefaultBurst: 1})
	}
	return ratelimit.Wrap(fetcher, limiter), nil
}

func (a *App) buildOrchestrator(fetcher crawler.Fetcher) (*pipeline.Orchestrator, error) {
	mode, err := pipeline.ParseEnrichMode(a.cfg.Crawler.EnrichMode)
	if err != nil {
		return nil, err
	}
	normalizer, err := listing.NewNormalizer(listing.Config{
		Origin:              a.cfg.Crawler.Origin,
		DefaultCity:         a.cfg.Crawler.DefaultCity,
		DefaultState:        a.cfg.Crawler.DefaultState,
		DefaultPropertyType: a.cfg.Crawler.DefaultPropertyType,
		MaxImages:           a.cfg.Crawler.MaxImages,
	}, a.clock)
	if err != nil {
		return nil, err
	}
	return pipeline.New(pipeline.Config{
		SearchURL:       a.cfg.Crawler.SearchURL,
		MaxListings:     a.cfg.Crawler.MaxListings,
		Delay:           a.cfg.Delay(),
		Mode:            mode,
		FallbackDataset: a.cfg.Crawler.FallbackDataset,
	}, pipeline.Dependencies{
		Fetcher:    fetcher,
		Extractor:  island.New(island.WithBlockMarkers(a.cfg.Crawler.BlockMarkers)),
		Normalizer: normalizer,
		Retry: crawler.NewExponentialRetryPolicy(
			a.cfg.HTTP.MaxRetries,
			time.Duration(a.cfg.HTTP.BackoffInitialMs)*time.Millisecond,
			time.Duration(a.cfg.HTTP.BackoffMaxMs)*time.Millisecond,
		),
		Pacer: crawler.TimerPacer{},
		Clock: a.clock,
		IDs:   uuid.New(),
	}, a.logger.Named("crawler"))
}

// Config returns the configuration the app was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the root logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Store returns the property store.
func (a *App) Store() crawler.PropertyStore {
	return a.store
}

// Publisher returns the run publisher, nil when notifications are off.
func (a *App) Publisher() crawler.Publisher {
	return a.publisher
}

// Ingestor returns the run-and-merge service.
func (a *App) Ingestor() *pipeline.Ingestor {
	return a.ingestor
}

// APIServer builds the HTTP API over the app's services.
func (a *App) APIServer() (*api.Server, error) {
	return api.NewServer(a.ingestor, a.store, a.uploads, a.clock, api.Config{
		CORSOrigin:          a.cfg.Server.CORSOrigin,
		ScrapeRatePerMinute: a.cfg.Server.ScrapeRatePerMinute,
		RequestTimeout:      a.cfg.RequestTimeout(),
		DiskWarningBytes:    a.cfg.Uploads.DiskWarningBytes,
	}, a.logger.Named("api"))
}

// HTTPServer wraps the API in an http.Server listening on server.port.
func (a *App) HTTPServer() (*http.Server, error) {
	srv, err := a.APIServer()
	if err != nil {
		return nil, err
	}
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}, nil
}

// Close releases clients in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Ingest runs one crawl and merges the result.
func (a *App) Ingest(ctx context.Context) (pipeline.IngestResult, error) {
	return a.ingestor.Ingest(ctx)
}
