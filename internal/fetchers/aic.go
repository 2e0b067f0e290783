package fetchers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/ajsai47/AI-Calendar/internal/config"
	"github.com/ajsai47/AI-Calendar/internal/geo"
	"github.com/ajsai47/AI-Calendar/internal/models"
)

// aicFormatMap translates AIC format strings into canonical formats.
// Unknown formats fall back to Meetup.
var aicFormatMap = map[string]models.EventFormat{
	"meetup":    models.FormatMeetup,
	"workshop":  models.FormatWorkshop,
	"hackathon": models.FormatHackathon,
	"summit":    models.FormatSummit,
	"forum":     models.FormatMeetup,
	"online":    models.FormatOnline,
	"social":    models.FormatSocial,
}

type aicEvent struct {
	PlatformID   string `json:"platformId"`
	URL          string `json:"url"`
	Format       string `json:"format"`
	ImageURL     string `json:"imageUrl"`
	LumaID       string `json:"lumaId"`
	Link         string `json:"link"`
	Title        string `json:"title"`
	StartAt      string `json:"startAt"`
	EndAt        string `json:"endAt"`
	Visibility   string `json:"visibility"`
	ChapterID    string `json:"chapterId"`
	IsFeatured   bool   `json:"isFeatured"`
	NumRsvps     int    `json:"numRsvps"`
	Timezone     string `json:"timezone"`
	GeoLatitude  string `json:"geoLatitude"`
	GeoLongitude string `json:"geoLongitude"`
}

type aicEventsResponse struct {
	Events     []aicEvent `json:"events"`
	TotalCount int        `json:"totalCount"`
}

// AICFetcher pulls chapter events from the AI Collective platform's
// public API. All results are attributed to one fixed community slug,
// and the platform label stays "luma" since the events originate there.
type AICFetcher struct {
	cfg    config.AICConfig
	region geo.Region
	client *http.Client
}

// NewAICFetcher creates an AI Collective fetcher for the configured chapter.
func NewAICFetcher(cfg config.AICConfig, region geo.Region) *AICFetcher {
	return &AICFetcher{
		cfg:    cfg,
		region: region,
		client: newHTTPClient(),
	}
}

// Name identifies this source in logs and stats.
func (f *AICFetcher) Name() string { return "aic" }

// Fetch queries upcoming chapter events. When there are none it
// re-queries for recent past events so the calendar is never empty --
// a product fallback, not an error path. Only the coordinate tier of
// the geo filter applies because this source reliably supplies
// coordinates.
func (f *AICFetcher) Fetch(ctx context.Context) ([]models.CanonicalEvent, error) {
	data, err := f.fetchFromAPI(ctx, true)
	if err != nil {
		return nil, err
	}

	if len(data.Events) == 0 {
		data, err = f.fetchFromAPI(ctx, false)
		if err != nil {
			return nil, err
		}
		log.Info().Int("events", len(data.Events)).Msg("AIC: no upcoming events, fetched past events")
	} else {
		log.Info().Int("events", len(data.Events)).Msg("AIC: fetched upcoming events")
	}

	results := make([]models.CanonicalEvent, 0, len(data.Events))
	filtered := 0
	for _, ev := range data.Events {
		if !f.inRegion(ev) {
			filtered++
			continue
		}
		mapped, ok := f.mapEvent(ev)
		if !ok {
			continue
		}
		results = append(results, mapped)
	}

	if filtered > 0 {
		log.Info().Int("filtered", filtered).Msg("AIC: filtered out non-regional events")
	}

	return results, nil
}

func (f *AICFetcher) fetchFromAPI(ctx context.Context, upcoming bool) (*aicEventsResponse, error) {
	u := fmt.Sprintf("%s/events?chapter=%s&upcoming=%t&limit=%d",
		f.cfg.BaseURL, url.QueryEscape(f.cfg.Chapter), upcoming, f.cfg.Limit)

	var resp aicEventsResponse
	if err := getJSON(ctx, f.client, u, &resp); err != nil {
		return nil, fmt.Errorf("aic events query: %w", err)
	}
	return &resp, nil
}

// inRegion applies only the coordinate tier: events without parseable
// coordinates cannot be confirmed regional and are excluded.
func (f *AICFetcher) inRegion(ev aicEvent) bool {
	lat, latErr := strconv.ParseFloat(ev.GeoLatitude, 64)
	lng, lngErr := strconv.ParseFloat(ev.GeoLongitude, 64)
	if latErr != nil || lngErr != nil {
		return false
	}
	return f.region.Contains(geo.Candidate{Latitude: &lat, Longitude: &lng})
}

func (f *AICFetcher) mapEvent(ev aicEvent) (models.CanonicalEvent, bool) {
	if ev.Title == "" {
		return models.CanonicalEvent{}, false
	}
	startAt, ok := parseTime(ev.StartAt)
	if !ok {
		return models.CanonicalEvent{}, false
	}

	format := models.FormatMeetup
	if ev.Format != "" {
		if mapped, known := aicFormatMap[strings.ToLower(ev.Format)]; known {
			format = mapped
		}
	}

	eventURL := ev.URL
	if eventURL == "" {
		eventURL = ev.Link
	}

	var lat, lng *float64
	if v, err := strconv.ParseFloat(ev.GeoLatitude, 64); err == nil {
		lat = &v
	}
	if v, err := strconv.ParseFloat(ev.GeoLongitude, 64); err == nil {
		lng = &v
	}

	timezone := ev.Timezone
	if timezone == "" {
		timezone = "America/Los_Angeles"
	}

	raw, err := json.Marshal(ev)
	if err != nil {
		raw = nil
	}

	return models.CanonicalEvent{
		PlatformID:    "aic-" + ev.PlatformID,
		Platform:      models.PlatformLuma,
		CommunitySlug: f.cfg.Community,
		Title:         ev.Title,
		URL:           eventURL,
		ImageURL:      ev.ImageURL,
		Format:        format,
		StartAt:       startAt,
		EndAt:         parseTimePtr(ev.EndAt),
		City:          "Portland",
		Country:       "US",
		Latitude:      lat,
		Longitude:     lng,
		Timezone:      timezone,
		IsFeatured:    ev.IsFeatured,
		PlatformData:  raw,
	}, true
}
