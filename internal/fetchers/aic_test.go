package fetchers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ajsai47/AI-Calendar/internal/config"
	"github.com/ajsai47/AI-Calendar/internal/models"
)

func aicConfig(baseURL string) config.AICConfig {
	return config.AICConfig{
		BaseURL:   baseURL,
		Chapter:   "portland",
		Community: "aic-portland",
		Limit:     50,
	}
}

func aicEventJSON(id, title, start, format, lat, lng string) string {
	return fmt.Sprintf(`{
		"platformId": %q,
		"title": %q,
		"startAt": %q,
		"format": %q,
		"url": "https://lu.ma/%s",
		"geoLatitude": %q,
		"geoLongitude": %q,
		"isFeatured": true,
		"timezone": "America/Los_Angeles"
	}`, id, title, start, format, id, lat, lng)
}

func TestAICFetcher_UpcomingEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/events" {
			http.NotFound(w, r)
			return
		}
		q := r.URL.Query()
		if q.Get("chapter") != "portland" {
			t.Errorf("chapter = %q, want portland", q.Get("chapter"))
		}
		if q.Get("upcoming") != "true" {
			t.Errorf("upcoming = %q, want true on first query", q.Get("upcoming"))
		}
		if q.Get("limit") != "50" {
			t.Errorf("limit = %q, want 50", q.Get("limit"))
		}
		fmt.Fprintf(w, `{"events": [%s], "totalCount": 1}`,
			aicEventJSON("abc", "AI Builders Night", "2026-06-20T18:00:00Z", "summit", "45.52", "-122.68"))
	}))
	defer srv.Close()

	f := NewAICFetcher(aicConfig(srv.URL), testRegion())

	events, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}

	ev := events[0]
	if ev.PlatformID != "aic-abc" {
		t.Errorf("platform id = %q, want aic-abc", ev.PlatformID)
	}
	if ev.Platform != models.PlatformLuma {
		t.Errorf("platform = %q, events originate on Luma", ev.Platform)
	}
	if ev.CommunitySlug != "aic-portland" {
		t.Errorf("community = %q, want aic-portland", ev.CommunitySlug)
	}
	if ev.Format != models.FormatSummit {
		t.Errorf("format = %q, want Summit", ev.Format)
	}
	if !ev.IsFeatured {
		t.Error("isFeatured should carry through")
	}
	if ev.City != "Portland" || ev.Country != "US" {
		t.Errorf("city/country = %q/%q, want Portland/US", ev.City, ev.Country)
	}
	if ev.Latitude == nil || *ev.Latitude != 45.52 {
		t.Errorf("latitude = %v, want 45.52", ev.Latitude)
	}
}

func TestAICFetcher_PastEventsFallback(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Query().Get("upcoming") == "true" {
			fmt.Fprint(w, `{"events": [], "totalCount": 0}`)
			return
		}
		fmt.Fprintf(w, `{"events": [%s], "totalCount": 1}`,
			aicEventJSON("old", "Last Month's Summit", "2026-05-01T18:00:00Z", "summit", "45.52", "-122.68"))
	}))
	defer srv.Close()

	f := NewAICFetcher(aicConfig(srv.URL), testRegion())

	events, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if calls != 2 {
		t.Errorf("API calls = %d, want upcoming then past", calls)
	}
	if len(events) != 1 || events[0].PlatformID != "aic-old" {
		t.Fatalf("expected the past event from the fallback query, got %+v", events)
	}
}

func TestAICFetcher_CoordinateFilter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"events": [%s, %s, %s], "totalCount": 3}`,
			aicEventJSON("near", "In Town", "2026-06-20T18:00:00Z", "meetup", "45.52", "-122.68"),
			aicEventJSON("far", "Bay Area Event", "2026-06-20T18:00:00Z", "meetup", "37.77", "-122.42"),
			aicEventJSON("nocoords", "Mystery Location", "2026-06-20T18:00:00Z", "meetup", "", ""))
	}))
	defer srv.Close()

	f := NewAICFetcher(aicConfig(srv.URL), testRegion())

	events, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(events) != 1 || events[0].PlatformID != "aic-near" {
		t.Fatalf("only the in-region event should survive, got %+v", events)
	}
}

func TestAICFetcher_UnknownFormatDefaultsToMeetup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"events": [%s], "totalCount": 1}`,
			aicEventJSON("x", "Odd Format", "2026-06-20T18:00:00Z", "rave", "45.52", "-122.68"))
	}))
	defer srv.Close()

	f := NewAICFetcher(aicConfig(srv.URL), testRegion())

	events, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(events) != 1 || events[0].Format != models.FormatMeetup {
		t.Errorf("unknown format should default to Meetup, got %+v", events)
	}
}

func TestAICFetcher_APIErrorPropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := NewAICFetcher(aicConfig(srv.URL), testRegion())

	if _, err := f.Fetch(context.Background()); err == nil {
		t.Error("API failure should surface an error, there is no other source")
	}
}
