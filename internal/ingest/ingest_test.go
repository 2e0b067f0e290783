package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ajsai47/AI-Calendar/internal/fetchers"
	"github.com/ajsai47/AI-Calendar/internal/models"
)

type fakeFetcher struct {
	name   string
	events []models.CanonicalEvent
	err    error
}

func (f *fakeFetcher) Name() string { return f.name }

func (f *fakeFetcher) Fetch(ctx context.Context) ([]models.CanonicalEvent, error) {
	return f.events, f.err
}

// fakeStore records upserted batches keyed by platform id. failBatches
// marks call indices (0-based) that should fail.
type fakeStore struct {
	mu          sync.Mutex
	calls       int
	batches     [][]models.CanonicalEvent
	byPlatform  map[string]models.CanonicalEvent
	failBatches map[int]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		byPlatform:  make(map[string]models.CanonicalEvent),
		failBatches: make(map[int]bool),
	}
}

func (s *fakeStore) UpsertEvents(ctx context.Context, events []models.CanonicalEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	call := s.calls
	s.calls++
	if s.failBatches[call] {
		return errors.New("storage unavailable")
	}

	s.batches = append(s.batches, events)
	for _, ev := range events {
		s.byPlatform[ev.PlatformID] = ev
	}
	return nil
}

func futureEvent(id, url string, start time.Time) models.CanonicalEvent {
	return models.CanonicalEvent{
		PlatformID: id,
		Platform:   models.PlatformLuma,
		Title:      "Event " + id,
		URL:        url,
		Format:     models.FormatMeetup,
		StartAt:    start,
	}
}

func newTestAggregator(store EventStore, fs []fetchers.Fetcher, batchSize int, now time.Time) *Aggregator {
	a := NewAggregator(store, fs, nil, nil, batchSize)
	a.now = func() time.Time { return now }
	return a
}

func TestRun_Scenario(t *testing.T) {
	// Three fetchers return 10, 8, and 5 raw records; 2 of the AIC
	// records duplicate Luma URLs; 3 records are past-dated.
	// Expected: inserted=18, skipped=5, errors empty.
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(24 * time.Hour)
	past := now.Add(-time.Hour)

	var lumaEvents []models.CanonicalEvent
	for i := 0; i < 10; i++ {
		lumaEvents = append(lumaEvents, futureEvent(
			fmt.Sprintf("luma-%d", i), fmt.Sprintf("https://lu.ma/ev%d", i), future))
	}

	var meetupEvents []models.CanonicalEvent
	for i := 0; i < 8; i++ {
		start := future
		if i < 3 {
			start = past
		}
		meetupEvents = append(meetupEvents, futureEvent(
			fmt.Sprintf("meetup-%d", i), fmt.Sprintf("https://www.meetup.com/g/events/%d/", i), start))
	}

	var aicEvents []models.CanonicalEvent
	for i := 0; i < 5; i++ {
		url := fmt.Sprintf("https://lu.ma/aic%d", i)
		if i < 2 {
			// Duplicates of Luma URLs, differing only by trailing slash.
			url = fmt.Sprintf("https://lu.ma/ev%d/", i)
		}
		aicEvents = append(aicEvents, futureEvent(fmt.Sprintf("aic-%d", i), url, future))
	}

	store := newFakeStore()
	agg := newTestAggregator(store, []fetchers.Fetcher{
		&fakeFetcher{name: "luma", events: lumaEvents},
		&fakeFetcher{name: "meetup", events: meetupEvents},
		&fakeFetcher{name: "aic", events: aicEvents},
	}, 100, now)

	stats := agg.Run(context.Background())

	if stats.Inserted != 18 {
		t.Errorf("inserted = %d, want 18", stats.Inserted)
	}
	if stats.Skipped != 5 {
		t.Errorf("skipped = %d, want 5", stats.Skipped)
	}
	if len(stats.Errors) != 0 {
		t.Errorf("errors = %v, want none", stats.Errors)
	}
	if len(store.byPlatform) != 18 {
		t.Errorf("stored records = %d, want 18", len(store.byPlatform))
	}
}

func TestRun_PartialFailureIsolation(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)

	store := newFakeStore()
	agg := newTestAggregator(store, []fetchers.Fetcher{
		&fakeFetcher{name: "luma", err: errors.New("connection refused")},
		&fakeFetcher{name: "meetup", events: []models.CanonicalEvent{
			futureEvent("meetup-1", "https://www.meetup.com/a/events/1/", future),
			futureEvent("meetup-2", "https://www.meetup.com/a/events/2/", future),
		}},
		&fakeFetcher{name: "aic", events: []models.CanonicalEvent{
			futureEvent("aic-1", "https://lu.ma/x", future),
		}},
	}, 100, now)

	stats := agg.Run(context.Background())

	if len(stats.Errors) != 1 {
		t.Fatalf("errors = %v, want exactly one", stats.Errors)
	}
	if stats.Inserted != 3 {
		t.Errorf("inserted = %d, want 3 (siblings unaffected)", stats.Inserted)
	}
}

func TestRun_DedupTrailingSlash(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)

	store := newFakeStore()
	agg := newTestAggregator(store, []fetchers.Fetcher{
		&fakeFetcher{name: "luma", events: []models.CanonicalEvent{
			futureEvent("luma-foo", "https://lu.ma/foo", future),
			futureEvent("aic-foo", "https://lu.ma/foo/", future),
		}},
	}, 100, now)

	stats := agg.Run(context.Background())

	if stats.Inserted != 1 {
		t.Errorf("inserted = %d, want 1", stats.Inserted)
	}
	if stats.Skipped != 1 {
		t.Errorf("skipped = %d, want 1", stats.Skipped)
	}
	// First encountered in fetch order survives.
	if _, ok := store.byPlatform["luma-foo"]; !ok {
		t.Error("first-encountered record should survive dedup")
	}
	if _, ok := store.byPlatform["aic-foo"]; ok {
		t.Error("later duplicate should not be upserted")
	}
}

func TestRun_PastEventExcluded(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	store := newFakeStore()
	agg := newTestAggregator(store, []fetchers.Fetcher{
		&fakeFetcher{name: "luma", events: []models.CanonicalEvent{
			futureEvent("luma-past", "https://lu.ma/past", now.Add(-time.Hour)),
			futureEvent("luma-future", "https://lu.ma/future", now.Add(time.Hour)),
		}},
	}, 100, now)

	stats := agg.Run(context.Background())

	if stats.Inserted != 1 {
		t.Errorf("inserted = %d, want 1", stats.Inserted)
	}
	if stats.Skipped != 1 {
		t.Errorf("skipped = %d, want 1", stats.Skipped)
	}
	if _, ok := store.byPlatform["luma-past"]; ok {
		t.Error("past event should not reach the upsert batch")
	}
}

func TestRun_BatchFailureIsolation(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)

	var events []models.CanonicalEvent
	for i := 0; i < 7; i++ {
		events = append(events, futureEvent(
			fmt.Sprintf("luma-%d", i), fmt.Sprintf("https://lu.ma/b%d", i), future))
	}

	store := newFakeStore()
	store.failBatches[1] = true // second batch of three fails

	agg := newTestAggregator(store, []fetchers.Fetcher{
		&fakeFetcher{name: "luma", events: events},
	}, 3, now)

	stats := agg.Run(context.Background())

	// Batches of 3+3+1; the middle one fails.
	if stats.Inserted != 4 {
		t.Errorf("inserted = %d, want 4", stats.Inserted)
	}
	if len(stats.Errors) != 1 {
		t.Fatalf("errors = %v, want exactly one", stats.Errors)
	}
	if want := "offset 3"; !strings.Contains(stats.Errors[0], want) {
		t.Errorf("error %q should mention %q", stats.Errors[0], want)
	}
}

func TestRun_Idempotence(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)

	events := []models.CanonicalEvent{
		futureEvent("luma-1", "https://lu.ma/one", future),
		futureEvent("meetup-1", "https://www.meetup.com/g/events/1/", future),
	}

	store := newFakeStore()
	agg := newTestAggregator(store, []fetchers.Fetcher{
		&fakeFetcher{name: "luma", events: events},
	}, 100, now)

	first := agg.Run(context.Background())
	second := agg.Run(context.Background())

	if first.Inserted != second.Inserted || first.Skipped != second.Skipped {
		t.Errorf("repeated run stats differ: first=%+v second=%+v", first, second)
	}
	// Identical upstream data collides on platformId: stored state is
	// unchanged in size after the second run.
	if len(store.byPlatform) != 2 {
		t.Errorf("stored records = %d, want 2 after repeated runs", len(store.byPlatform))
	}
}

func TestRun_EmptyContributionIsNotAnError(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	store := newFakeStore()
	agg := newTestAggregator(store, []fetchers.Fetcher{
		&fakeFetcher{name: "luma"},
		&fakeFetcher{name: "meetup"},
	}, 100, now)

	stats := agg.Run(context.Background())

	if len(stats.Errors) != 0 {
		t.Errorf("errors = %v, want none for empty contributions", stats.Errors)
	}
	if stats.Inserted != 0 || stats.Skipped != 0 {
		t.Errorf("stats = %+v, want all zero", stats)
	}
	if store.calls != 0 {
		t.Errorf("store called %d times, want 0 for empty run", store.calls)
	}
}

type fakeMirror struct {
	fail bool
}

func (m *fakeMirror) Mirror(ctx context.Context, key, srcURL string) (string, error) {
	if m.fail {
		return "", errors.New("bucket unreachable")
	}
	return "https://cdn.example.com/" + key, nil
}

func TestRun_ImageMirrorRewrite(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)

	ev := futureEvent("luma-img", "https://lu.ma/img", future)
	ev.ImageURL = "https://images.lu.ma/cover.png"

	store := newFakeStore()
	agg := NewAggregator(store, []fetchers.Fetcher{
		&fakeFetcher{name: "luma", events: []models.CanonicalEvent{ev}},
	}, &fakeMirror{}, nil, 100)
	agg.now = func() time.Time { return now }

	agg.Run(context.Background())

	stored := store.byPlatform["luma-img"]
	if stored.ImageURL != "https://cdn.example.com/luma-img" {
		t.Errorf("image url = %q, want mirrored url", stored.ImageURL)
	}
}

func TestRun_ImageMirrorFailureKeepsOriginal(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)

	ev := futureEvent("luma-img", "https://lu.ma/img", future)
	ev.ImageURL = "https://images.lu.ma/cover.png"

	store := newFakeStore()
	agg := NewAggregator(store, []fetchers.Fetcher{
		&fakeFetcher{name: "luma", events: []models.CanonicalEvent{ev}},
	}, &fakeMirror{fail: true}, nil, 100)
	agg.now = func() time.Time { return now }

	stats := agg.Run(context.Background())

	stored := store.byPlatform["luma-img"]
	if stored.ImageURL != "https://images.lu.ma/cover.png" {
		t.Errorf("image url = %q, want original kept on mirror failure", stored.ImageURL)
	}
	if len(stats.Errors) != 0 {
		t.Errorf("mirror failure should not count as a run error, got %v", stats.Errors)
	}
}
