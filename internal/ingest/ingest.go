package ingest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ajsai47/AI-Calendar/internal/fetchers"
	"github.com/ajsai47/AI-Calendar/internal/models"
)

// EventStore is the upsert sink the aggregator writes batches into.
// Upserts are keyed on platformId; on collision all externally-sourced
// fields are overwritten while moderation state is preserved.
type EventStore interface {
	UpsertEvents(ctx context.Context, events []models.CanonicalEvent) error
}

// ImageMirror copies a remote event image into local object storage and
// returns the rewritten public URL.
type ImageMirror interface {
	Mirror(ctx context.Context, key, srcURL string) (string, error)
}

// RunSummary describes one completed ingestion run for downstream
// consumers.
type RunSummary struct {
	RunID       string                `json:"runId"`
	Stats       models.IngestionStats `json:"stats"`
	CompletedAt time.Time             `json:"completedAt"`
}

// Notifier publishes a run-completed summary after each ingestion run.
type Notifier interface {
	PublishRunCompleted(ctx context.Context, summary RunSummary) error
}

// Aggregator orchestrates one ingestion run: fan out to all fetchers,
// collect partial successes, filter and deduplicate, then batch-upsert
// into storage. No failure mode escapes Run; everything lands in the
// returned stats.
type Aggregator struct {
	fetchers  []fetchers.Fetcher
	store     EventStore
	mirror    ImageMirror // optional
	notifier  Notifier    // optional
	batchSize int

	now func() time.Time
}

// NewAggregator creates an aggregator. mirror and notifier may be nil;
// batchSize falls back to 100 when non-positive.
func NewAggregator(store EventStore, fs []fetchers.Fetcher, mirror ImageMirror, notifier Notifier, batchSize int) *Aggregator {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Aggregator{
		fetchers:  fs,
		store:     store,
		mirror:    mirror,
		notifier:  notifier,
		batchSize: batchSize,
		now:       time.Now,
	}
}

// fetchOutcome captures one fetcher's result, success or failure,
// so partial-failure semantics stay first-class instead of hiding in
// per-branch error handling.
type fetchOutcome struct {
	name   string
	events []models.CanonicalEvent
	err    error
}

// collectAll runs every fetcher concurrently and waits for all of them,
// recording each outcome independently. A rejected fetcher never
// short-circuits its siblings.
func (a *Aggregator) collectAll(ctx context.Context) []fetchOutcome {
	outcomes := make([]fetchOutcome, len(a.fetchers))
	var wg sync.WaitGroup

	for i, f := range a.fetchers {
		wg.Add(1)
		go func(i int, f fetchers.Fetcher) {
			defer wg.Done()
			events, err := f.Fetch(ctx)
			outcomes[i] = fetchOutcome{name: f.Name(), events: events, err: err}
		}(i, f)
	}
	wg.Wait()

	return outcomes
}

// normalizeURL canonicalizes an event URL for cross-source dedup:
// lowercase with trailing slashes stripped.
func normalizeURL(u string) string {
	return strings.TrimRight(strings.ToLower(u), "/")
}

// Run executes one complete ingestion run and returns aggregate stats.
func (a *Aggregator) Run(ctx context.Context) *models.IngestionStats {
	runID := uuid.New().String()
	started := a.now()
	stats := &models.IngestionStats{Errors: []string{}}

	log.Info().Str("run_id", runID).Int("fetchers", len(a.fetchers)).Msg("Ingestion run starting")

	var all []models.CanonicalEvent
	for _, outcome := range a.collectAll(ctx) {
		if outcome.err != nil {
			msg := fmt.Sprintf("%s fetch failed: %v", outcome.name, outcome.err)
			log.Error().Str("run_id", runID).Str("source", outcome.name).Err(outcome.err).Msg("Source fetch failed")
			stats.Errors = append(stats.Errors, msg)
			continue
		}
		log.Info().Str("run_id", runID).Str("source", outcome.name).Int("events", len(outcome.events)).Msg("Source fetch complete")
		all = append(all, outcome.events...)
	}

	// Drop past events. The AIC fetcher's past-event fallback is
	// intentionally overridden here so stale events never accumulate in
	// the store.
	now := a.now()
	future := all[:0:0]
	for _, ev := range all {
		if ev.StartAt.Before(now) {
			stats.Skipped++
			continue
		}
		future = append(future, ev)
	}

	// Cross-source dedup by normalized URL, first-encountered wins in
	// fetch order.
	seen := make(map[string]bool, len(future))
	deduped := future[:0:0]
	for _, ev := range future {
		key := normalizeURL(ev.URL)
		if seen[key] {
			stats.Skipped++
			continue
		}
		seen[key] = true
		deduped = append(deduped, ev)
	}

	if a.mirror != nil {
		a.mirrorImages(ctx, runID, deduped)
	}

	if len(deduped) == 0 {
		log.Info().Str("run_id", runID).Msg("No events to upsert")
	}

	for offset := 0; offset < len(deduped); offset += a.batchSize {
		end := offset + a.batchSize
		if end > len(deduped) {
			end = len(deduped)
		}
		batch := deduped[offset:end]

		if err := a.store.UpsertEvents(ctx, batch); err != nil {
			msg := fmt.Sprintf("batch upsert failed (offset %d): %v", offset, err)
			log.Error().Str("run_id", runID).Int("offset", offset).Err(err).Msg("Batch upsert failed")
			stats.Errors = append(stats.Errors, msg)
			continue
		}
		stats.Inserted += len(batch)
	}

	log.Info().
		Str("run_id", runID).
		Int("inserted", stats.Inserted).
		Int("skipped", stats.Skipped).
		Int("errors", len(stats.Errors)).
		Dur("duration", a.now().Sub(started)).
		Msg("Ingestion run complete")

	if a.notifier != nil {
		summary := RunSummary{RunID: runID, Stats: *stats, CompletedAt: a.now()}
		if err := a.notifier.PublishRunCompleted(ctx, summary); err != nil {
			// Notification is best-effort; a broken broker must not fail
			// the run.
			log.Error().Str("run_id", runID).Err(err).Msg("Failed to publish run summary")
		}
	}

	return stats
}

// mirrorImages rewrites event image URLs to mirrored copies. A failed
// mirror keeps the original URL; hotlinking beats a broken image.
func (a *Aggregator) mirrorImages(ctx context.Context, runID string, events []models.CanonicalEvent) {
	mirrored := 0
	for i := range events {
		if events[i].ImageURL == "" {
			continue
		}
		newURL, err := a.mirror.Mirror(ctx, events[i].PlatformID, events[i].ImageURL)
		if err != nil {
			log.Warn().Str("run_id", runID).Str("platform_id", events[i].PlatformID).Err(err).Msg("Image mirror failed")
			continue
		}
		events[i].ImageURL = newURL
		mirrored++
	}
	if mirrored > 0 {
		log.Info().Str("run_id", runID).Int("mirrored", mirrored).Msg("Mirrored event images")
	}
}
