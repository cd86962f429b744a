package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
	"github.com/JakeFAU/listing-crawler/internal/island"
	"github.com/JakeFAU/listing-crawler/internal/listing"
	"github.com/JakeFAU/listing-crawler/internal/metrics"
	"github.com/JakeFAU/listing-crawler/internal/queue/memory"
)

// EnrichMode selects how each listing stub becomes a Property.
type EnrichMode string

// Enrich modes.
const (
	// ModeEnrich fetches the detail page and skips the item when that fails.
	ModeEnrich EnrichMode = "enrich"
	// ModeShallow maps the stub without fetching the detail page.
	ModeShallow EnrichMode = "shallow"
	// ModeEnrichOrShallow enriches and falls back to the shallow record.
	ModeEnrichOrShallow EnrichMode = "enrich_or_shallow"
)

// ParseEnrichMode validates a configured mode name.
func ParseEnrichMode(s string) (EnrichMode, error) {
	switch m := EnrichMode(s); m {
	case ModeEnrich, ModeShallow, ModeEnrichOrShallow:
		return m, nil
	case "":
		return ModeEnrich, nil
	default:
		return "", fmt.Errorf("unknown enrich mode %q", s)
	}
}

// Limits on listings processed per run.
const (
	DefaultMaxListings = 8
	MaxListingsLimit   = 10
)

// Search result array locations, tried in order.
var listResultPaths = [][]string{
	island.Path("props.pageProps.searchPageState.cat1.searchResults.listResults"),
	island.Path("cat1.searchResults.listResults"),
}

// Config controls Orchestrator behavior.
type Config struct {
	SearchURL   string
	MaxListings int
	// Delay is paused after every processed item, failures included.
	Delay           time.Duration
	Mode            EnrichMode
	FallbackDataset bool
}

// Dependencies are the collaborators of an Orchestrator. Retry, Pacer and
// IDs fall back to no retries, a timer pacer and an error when nil.
type Dependencies struct {
	Fetcher    crawler.Fetcher
	Extractor  *island.Extractor
	Normalizer *listing.Normalizer
	Retry      crawler.RetryPolicy
	Pacer      crawler.Pacer
	Clock      crawler.Clock
	IDs        crawler.IDGenerator
}

// Orchestrator executes crawl runs.
type Orchestrator struct {
	cfg        Config
	fetcher    crawler.Fetcher
	extractor  *island.Extractor
	normalizer *listing.Normalizer
	enricher   *listing.Enricher
	retry      crawler.RetryPolicy
	pacer      crawler.Pacer
	clock      crawler.Clock
	ids        crawler.IDGenerator
	logger     *zap.Logger
}

// New constructs an Orchestrator.
func New(cfg Config, deps Dependencies, logger *zap.Logger) (*Orchestrator, error) {
	if cfg.SearchURL == "" {
		return nil, errors.New("search url is required")
	}
	if cfg.MaxListings <= 0 {
		cfg.MaxListings = DefaultMaxListings
	}
	if cfg.MaxListings > MaxListingsLimit {
		return nil, fmt.Errorf("max listings %d exceeds limit %d", cfg.MaxListings, MaxListingsLimit)
	}
	mode, err := ParseEnrichMode(string(cfg.Mode))
	if err != nil {
		return nil, err
	}
	cfg.Mode = mode
	if deps.Fetcher == nil || deps.Extractor == nil || deps.Normalizer == nil {
		return nil, errors.New("fetcher, extractor and normalizer are required")
	}
	if deps.Clock == nil || deps.IDs == nil {
		return nil, errors.New("clock and id generator are required")
	}
	if deps.Retry == nil {
		deps.Retry = crawler.NoRetry{}
	}
	if deps.Pacer == nil {
		deps.Pacer = crawler.TimerPacer{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	enricher, err := listing.NewEnricher(deps.Fetcher, deps.Extractor, deps.Normalizer)
	if err != nil {
		return nil, fmt.Errorf("build enricher: %w", err)
	}
	return &Orchestrator{
		cfg:        cfg,
		fetcher:    deps.Fetcher,
		extractor:  deps.Extractor,
		normalizer: deps.Normalizer,
		enricher:   enricher,
		retry:      deps.Retry,
		pacer:      deps.Pacer,
		clock:      deps.Clock,
		ids:        deps.IDs,
		logger:     logger,
	}, nil
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config {
	return o.cfg
}

// Run performs one crawl pass. A failure to fetch or extract the search page
// is returned as an error unless the fallback dataset is enabled, in which
// case a degraded report is returned instead. Per-item failures never abort
// the run.
func (o *Orchestrator) Run(ctx context.Context) (crawler.RunReport, error) {
	runID, err := o.ids.NewID()
	if err != nil {
		return crawler.RunReport{}, fmt.Errorf("generate run id: %w", err)
	}
	report := crawler.RunReport{
		RunID:      runID,
		Source:     crawler.SourceLive,
		StartedAt:  o.clock.Now().UTC(),
		Properties: []crawler.Property{},
	}
	logger := o.logger.With(zap.String("run_id", runID))

	entries, err := o.searchEntries(ctx)
	if err != nil {
		if ctx.Err() == nil && o.cfg.FallbackDataset {
			logger.Warn("search page failed, serving fallback dataset", zap.Error(err))
			o.fillFallback(&report, err)
			metrics.ObserveRun("fallback")
			return report, nil
		}
		logger.Error("search page failed", zap.Error(err))
		metrics.ObserveRun("failed")
		return crawler.RunReport{}, fmt.Errorf("run %s: %w", runID, err)
	}

	report.Found = len(entries)
	if len(entries) > o.cfg.MaxListings {
		entries = entries[:o.cfg.MaxListings]
	}
	logger.Info("search page parsed",
		zap.Int("found", report.Found),
		zap.Int("capped", len(entries)),
		zap.String("mode", string(o.cfg.Mode)),
	)

	q := memory.NewQueue[json.RawMessage](len(entries))
	for _, entry := range entries {
		if err := q.Enqueue(ctx, entry); err != nil {
			return crawler.RunReport{}, fmt.Errorf("run %s: %w", runID, err)
		}
	}
	q.Close()

	if err := o.drain(ctx, q, &report, logger); err != nil {
		metrics.ObserveRun("failed")
		return crawler.RunReport{}, fmt.Errorf("run %s: %w", runID, err)
	}

	report.Duration = o.clock.Now().Sub(report.StartedAt)
	outcome := "live"
	if report.Found == 0 {
		outcome = "empty"
	}
	metrics.ObserveRun(outcome)
	logger.Info("run finished",
		zap.Int("found", report.Found),
		zap.Int("processed", report.Processed),
		zap.Int("enriched", report.Enriched),
		zap.Int("shallow", report.Shallow),
		zap.Int("failed", report.Failed),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

// drain is the single worker consuming the run queue.
func (o *Orchestrator) drain(
	ctx context.Context,
	q *memory.Queue[json.RawMessage],
	report *crawler.RunReport,
	logger *zap.Logger,
) error {
	for {
		entry, err := q.Dequeue(ctx)
		if errors.Is(err, memory.ErrClosed) {
			return nil
		}
		if err != nil {
			return err //nolint:wrapcheck
		}

		report.Processed++
		prop, status, err := o.processEntry(ctx, entry, logger)
		switch status {
		case statusEnriched:
			report.Enriched++
		case statusShallow:
			report.Shallow++
		default:
			report.Failed++
		}
		metrics.ObserveItem(string(status))
		if err == nil {
			report.Properties = append(report.Properties, prop)
		}

		o.pacer.Pause(ctx, o.cfg.Delay)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr //nolint:wrapcheck
		}
	}
}

type itemStatus string

const (
	statusEnriched itemStatus = "enriched"
	statusShallow  itemStatus = "shallow"
	statusFailed   itemStatus = "failed"
)

func (o *Orchestrator) processEntry(
	ctx context.Context,
	entry json.RawMessage,
	logger *zap.Logger,
) (crawler.Property, itemStatus, error) {
	var stub crawler.ListingStub
	if err := json.Unmarshal(entry, &stub); err != nil {
		logger.Warn("listing entry skipped", zap.Error(err))
		return crawler.Property{}, statusFailed, fmt.Errorf("decode listing: %w", err)
	}
	id := stub.ID()
	if id == "" {
		logger.Warn("listing entry skipped", zap.Error(crawler.ErrMissingID))
		return crawler.Property{}, statusFailed, crawler.ErrMissingID
	}

	if o.cfg.Mode == ModeShallow {
		return o.normalizer.Normalize(stub), statusShallow, nil
	}

	prop, err := o.enricher.Enrich(ctx, stub)
	observeFetch("detail", err)
	if err == nil {
		return prop, statusEnriched, nil
	}
	if o.cfg.Mode == ModeEnrichOrShallow && ctx.Err() == nil {
		logger.Warn("enrichment failed, using search result",
			zap.String("listing_id", id),
			zap.Error(err),
		)
		return o.normalizer.Normalize(stub), statusShallow, nil
	}
	logger.Warn("listing skipped", zap.String("listing_id", id), zap.Error(err))
	return crawler.Property{}, statusFailed, err
}

// searchEntries fetches and extracts the search page, returning the raw
// listing entries. A page without a listing array yields no entries.
func (o *Orchestrator) searchEntries(ctx context.Context) ([]json.RawMessage, error) {
	resp, err := o.fetchSearch(ctx)
	if err != nil {
		return nil, err
	}
	payload, err := o.extractor.Extract(string(resp.Body))
	observeFetch("search", err)
	if err != nil {
		return nil, fmt.Errorf("search page %s: %w", o.cfg.SearchURL, err)
	}
	for _, path := range listResultPaths {
		var entries []json.RawMessage
		found, err := payload.Decode(&entries, path...)
		if err != nil {
			// Something that is not an array sits at the path; try the next one.
			o.logger.Debug("listing array not decodable", zap.Strings("path", path), zap.Error(err))
			continue
		}
		if found {
			return entries, nil
		}
	}
	return nil, nil
}

func (o *Orchestrator) fetchSearch(ctx context.Context) (crawler.FetchResponse, error) {
	req := crawler.FetchRequest{URL: o.cfg.SearchURL, Method: http.MethodGet}
	for attempt := 1; ; attempt++ {
		resp, err := o.fetcher.Fetch(ctx, req)
		if err == nil {
			return resp, nil
		}
		if !o.retry.ShouldRetry(err, attempt) {
			observeFetch("search", err)
			return crawler.FetchResponse{}, fmt.Errorf("fetch search page: %w", err)
		}
		backoff := o.retry.Backoff(attempt)
		o.logger.Warn("search fetch failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		metrics.ObserveFetch("search", "retry")
		o.pacer.Pause(ctx, backoff)
	}
}

// observeFetch records the outcome of a fetch-and-extract step.
func observeFetch(kind string, err error) {
	if err == nil {
		metrics.ObserveFetch(kind, "ok")
		return
	}
	var failure *crawler.ExtractionFailure
	if errors.As(err, &failure) {
		metrics.ObserveExtractionFailure(string(failure.Reason))
	}
	metrics.ObserveFetch(kind, "error")
}
