package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
	"github.com/JakeFAU/listing-crawler/internal/metrics"
)

// Runner produces one crawl run.
type Runner interface {
	Run(ctx context.Context) (crawler.RunReport, error)
}

// IngestResult describes one ingest pass.
type IngestResult struct {
	Report          crawler.RunReport
	NewProperties   int
	TotalProperties int
	// Merged is false for degraded runs, whose properties are never persisted.
	Merged    bool
	MessageID string
}

// RunEvent is the payload published after an ingest pass.
type RunEvent struct {
	RunID           string            `json:"run_id"`
	Source          crawler.RunSource `json:"source"`
	Degraded        bool              `json:"degraded"`
	NewProperties   int               `json:"new_properties"`
	TotalProperties int               `json:"total_properties"`
	Found           int               `json:"found"`
	Processed       int               `json:"processed"`
	Failed          int               `json:"failed"`
	FinishedAt      string            `json:"finished_at"`
}

// Ingestor runs crawls and merges their output into the store. Calls are
// serialized so two runs never interleave.
type Ingestor struct {
	mu        sync.Mutex
	runner    Runner
	store     crawler.PropertyStore
	publisher crawler.Publisher
	topic     string
	clock     crawler.Clock
	logger    *zap.Logger
}

// NewIngestor constructs an Ingestor. publisher may be nil.
func NewIngestor(
	runner Runner,
	store crawler.PropertyStore,
	publisher crawler.Publisher,
	topic string,
	clock crawler.Clock,
	logger *zap.Logger,
) (*Ingestor, error) {
	if runner == nil || store == nil {
		return nil, errors.New("runner and store are required")
	}
	if clock == nil {
		return nil, errors.New("clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingestor{
		runner:    runner,
		store:     store,
		publisher: publisher,
		topic:     topic,
		clock:     clock,
		logger:    logger,
	}, nil
}

// Store returns the backing store.
func (i *Ingestor) Store() crawler.PropertyStore {
	return i.store
}

// Ingest performs one run and merges live results. A run failure is
// returned unchanged; a publish failure is only logged.
func (i *Ingestor) Ingest(ctx context.Context) (IngestResult, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	report, err := i.runner.Run(ctx)
	if err != nil {
		return IngestResult{}, fmt.Errorf("crawl run: %w", err)
	}
	result := IngestResult{Report: report}
	logger := i.logger.With(zap.String("run_id", report.RunID))

	if report.Degraded {
		current, err := i.store.Load(ctx)
		if err != nil {
			return IngestResult{}, fmt.Errorf("load properties: %w", err)
		}
		result.TotalProperties = len(current)
		logger.Warn("degraded run not merged", zap.String("reason", report.FallbackReason))
	} else {
		var added int
		merged, err := i.store.Update(ctx, func(current []crawler.Property) ([]crawler.Property, error) {
			next := crawler.Merge(current, report.Properties)
			added = len(next) - len(current)
			return next, nil
		})
		if err != nil {
			return IngestResult{}, fmt.Errorf("merge properties: %w", err)
		}
		result.Merged = true
		result.NewProperties = added
		result.TotalProperties = len(merged)
		metrics.ObservePropertiesAdded(added)
		logger.Info("properties merged",
			zap.Int("new", added),
			zap.Int("total", len(merged)),
		)
	}

	result.MessageID = i.publish(ctx, result, logger)
	return result, nil
}

func (i *Ingestor) publish(ctx context.Context, result IngestResult, logger *zap.Logger) string {
	if i.publisher == nil || i.topic == "" {
		return ""
	}
	r := result.Report
	event := RunEvent{
		RunID:           r.RunID,
		Source:          r.Source,
		Degraded:        r.Degraded,
		NewProperties:   result.NewProperties,
		TotalProperties: result.TotalProperties,
		Found:           r.Found,
		Processed:       r.Processed,
		Failed:          r.Failed,
		FinishedAt:      i.clock.Now().UTC().Format(time.RFC3339),
	}
	id, err := i.publisher.Publish(ctx, i.topic, event)
	if err != nil {
		logger.Warn("publish run event failed", zap.String("topic", i.topic), zap.Error(err))
		return ""
	}
	logger.Debug("run event published", zap.String("topic", i.topic), zap.String("message_id", id))
	return id
}
