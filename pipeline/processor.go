// Package pipeline ties extraction, persistence, and enrichment into the
// article processing flow.
package pipeline

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"threatlens/core"
	"threatlens/extract"
	"threatlens/metrics"
	"threatlens/storage"
	"threatlens/threat"
)

// ProcessorConfig tunes article processing
type ProcessorConfig struct {
	// MaxConcurrentEnrichments caps how many indicators from one article are
	// enriched at once
	MaxConcurrentEnrichments int
}

// DefaultProcessorConfig returns sane defaults
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{MaxConcurrentEnrichments: 8}
}

// Validate checks the configuration
func (c *ProcessorConfig) Validate() error {
	if c.MaxConcurrentEnrichments <= 0 {
		return errors.New("MaxConcurrentEnrichments must be greater than 0")
	}
	return nil
}

// EnrichedIndicator is the per-indicator outcome of processing an article.
// Err is set when enrichment could not run at all; a degraded or unavailable
// verdict is not an error.
type EnrichedIndicator struct {
	Indicator  *core.Indicator
	Enrichment *core.Enrichment
	Err        error
}

// Processor runs the full article pipeline: extract indicators, record
// sightings, enrich, score.
type Processor struct {
	extractor   *extract.Extractor
	store       storage.Store
	coordinator *threat.Coordinator
	config      ProcessorConfig
	logger      *zap.SugaredLogger
}

// NewProcessor wires the pipeline together
func NewProcessor(extractor *extract.Extractor, store storage.Store, coordinator *threat.Coordinator, config ProcessorConfig, logger *zap.SugaredLogger) (*Processor, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if extractor == nil || store == nil || coordinator == nil {
		return nil, errors.New("extractor, store and coordinator are required")
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Processor{
		extractor:   extractor,
		store:       store,
		coordinator: coordinator,
		config:      config,
		logger:      logger,
	}, nil
}

// Process extracts every indicator from the article text, attributes one
// sighting per (indicator, article) pair, and enriches each indicator
// concurrently. One indicator failing never aborts the others; processing
// stops early only when ctx is cancelled.
func (p *Processor) Process(ctx context.Context, articleID, text string) ([]EnrichedIndicator, error) {
	started := time.Now()

	candidates := p.extractor.Extract(text)
	for _, c := range candidates {
		metrics.IndicatorsExtracted.WithLabelValues(string(c.Type)).Inc()
	}
	if len(candidates) == 0 {
		metrics.ArticlesProcessed.WithLabelValues("empty").Inc()
		p.logger.Debugw("Article yielded no indicators", "article_id", articleID)
		return nil, nil
	}

	results := make([]EnrichedIndicator, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.MaxConcurrentEnrichments)
	for i, c := range candidates {
		g.Go(func() error {
			results[i] = p.processOne(gctx, articleID, c)
			// Only cancellation propagates; indicator failures are isolated
			// in the result slot.
			return gctx.Err()
		})
	}
	err := g.Wait()

	outcome := "ok"
	if err != nil {
		outcome = "aborted"
	} else {
		for _, r := range results {
			if r.Err != nil {
				outcome = "partial"
				break
			}
		}
	}
	metrics.ArticlesProcessed.WithLabelValues(outcome).Inc()
	p.logger.Infow("Article processed",
		"article_id", articleID,
		"indicators", len(candidates),
		"outcome", outcome,
		"duration", time.Since(started))

	if err != nil {
		return results, err
	}
	return results, nil
}

// processOne persists and enriches a single extracted indicator
func (p *Processor) processOne(ctx context.Context, articleID string, candidate extract.Candidate) EnrichedIndicator {
	indicator, err := core.NewIndicator(candidate.Type, candidate.Value, articleID)
	if err != nil {
		return EnrichedIndicator{Err: err}
	}

	stored, err := p.store.UpsertIndicator(ctx, indicator)
	if err != nil {
		p.logger.Errorw("Indicator upsert failed", "key", indicator.Key(), "error", err)
		return EnrichedIndicator{Indicator: indicator, Err: err}
	}

	recorded, err := p.store.RecordSighting(ctx, stored.Key(), articleID)
	if err != nil {
		// The sighting is attribution metadata; enrichment still runs.
		p.logger.Warnw("Sighting record failed", "key", stored.Key(), "article_id", articleID, "error", err)
	} else if recorded {
		stored.Sightings++
		stored.LastSeen = time.Now().UTC()
	}

	enrichment, err := p.coordinator.Enrich(ctx, stored)
	if err != nil {
		return EnrichedIndicator{Indicator: stored, Err: err}
	}
	return EnrichedIndicator{Indicator: stored, Enrichment: enrichment}
}
