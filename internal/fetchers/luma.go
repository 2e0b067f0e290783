package fetchers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/ajsai47/AI-Calendar/internal/config"
	"github.com/ajsai47/AI-Calendar/internal/geo"
	"github.com/ajsai47/AI-Calendar/internal/models"
)

// lumaFormatMap translates Luma event_type values into canonical formats.
// Unknown types fall back to Meetup.
var lumaFormatMap = map[string]models.EventFormat{
	"independent": models.FormatMeetup,
	"meetup":      models.FormatMeetup,
	"workshop":    models.FormatWorkshop,
	"hackathon":   models.FormatHackathon,
	"conference":  models.FormatSummit,
	"course":      models.FormatWorkshop,
	"online":      models.FormatOnline,
}

type lumaGeoAddressInfo struct {
	City        string `json:"city"`
	CityState   string `json:"city_state"`
	Address     string `json:"address"`
	FullAddress string `json:"full_address"`
}

type lumaGeoAddressJSON struct {
	City        string `json:"city"`
	Description string `json:"description"`
}

type lumaCoordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type lumaEventPayload struct {
	APIID          string              `json:"api_id"`
	Name           string              `json:"name"`
	Description    string              `json:"description"`
	URL            string              `json:"url"`
	StartAt        string              `json:"start_at"`
	EndAt          string              `json:"end_at"`
	Timezone       string              `json:"timezone"`
	CoverURL       string              `json:"cover_url"`
	EventType      string              `json:"event_type"`
	LocationType   string              `json:"location_type"`
	GeoAddressInfo *lumaGeoAddressInfo `json:"geo_address_info"`
	GeoAddressJSON *lumaGeoAddressJSON `json:"geo_address_json"`
	Coordinate     *lumaCoordinate     `json:"coordinate"`
}

type lumaEntry struct {
	APIID string           `json:"api_id"`
	Event lumaEventPayload `json:"event"`
}

type lumaDiscoverResponse struct {
	// Entries are kept raw so the original payload can be stored verbatim
	// in platformData.
	Entries    []json.RawMessage `json:"entries"`
	HasMore    bool              `json:"has_more"`
	NextCursor string            `json:"next_cursor"`
}

type lumaResolveResponse struct {
	Data struct {
		Calendar struct {
			APIID string `json:"api_id"`
		} `json:"calendar"`
	} `json:"data"`
}

// taggedLumaEntry pairs a decoded entry with its raw payload and the
// community slug of the calendar it came from (when known).
type taggedLumaEntry struct {
	entry     lumaEntry
	raw       json.RawMessage
	community string
}

// LumaFetcher pulls events from Luma's public discover feeds and named
// community calendars. No authentication is required.
type LumaFetcher struct {
	cfg    config.LumaConfig
	region geo.Region
	client *http.Client
}

// NewLumaFetcher creates a Luma fetcher for the given sources and region.
func NewLumaFetcher(cfg config.LumaConfig, region geo.Region) *LumaFetcher {
	return &LumaFetcher{
		cfg:    cfg,
		region: region,
		client: newHTTPClient(),
	}
}

// Name identifies this source in logs and stats.
func (f *LumaFetcher) Name() string { return "luma" }

// Fetch pulls all configured discover feeds and calendars, deduplicates
// entries across feeds by native event id, applies the geo filter and
// maps survivors into canonical records. Individual feed failures are
// logged and skipped; an error is returned only when every feed failed.
func (f *LumaFetcher) Fetch(ctx context.Context) ([]models.CanonicalEvent, error) {
	tagged, errs := f.fetchAllSources(ctx)
	log.Info().Int("entries", len(tagged)).Msg("Luma: unique entries to process")

	results := make([]models.CanonicalEvent, 0, len(tagged))
	geoFiltered := 0

	for _, te := range tagged {
		ev, ok := f.mapEntry(te)
		if !ok {
			continue
		}
		if !f.inRegion(te.entry.Event) {
			geoFiltered++
			continue
		}
		results = append(results, ev)
	}

	if geoFiltered > 0 {
		log.Info().Int("filtered", geoFiltered).Msg("Luma: filtered out non-regional events")
	}

	if len(results) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return results, nil
}

// fetchAllSources walks every configured source, deduplicating entries
// by api_id since the same event can appear in both a category feed and
// a place feed.
func (f *LumaFetcher) fetchAllSources(ctx context.Context) ([]taggedLumaEntry, []error) {
	var tagged []taggedLumaEntry
	var errs []error
	seen := make(map[string]bool)

	for _, src := range f.cfg.Sources {
		var raws []json.RawMessage
		var err error
		community := ""

		switch src.Type {
		case "category":
			raws, err = f.fetchPaginated(ctx, fmt.Sprintf(
				"%s/discover/get-paginated-events?discover_category_slug=%s",
				f.cfg.BaseURL, url.QueryEscape(src.Slug)))
		case "place":
			raws, err = f.fetchPaginated(ctx, fmt.Sprintf(
				"%s/discover/get-paginated-events?discover_place_slug=%s",
				f.cfg.BaseURL, url.QueryEscape(src.Slug)))
		case "calendar":
			community = src.Community
			var calendarID string
			calendarID, err = f.resolveCalendarSlug(ctx, src.Slug)
			if err == nil && calendarID == "" {
				log.Warn().Str("slug", src.Slug).Msg("Luma: could not resolve calendar slug")
				continue
			}
			if err == nil {
				raws, err = f.fetchPaginated(ctx, fmt.Sprintf(
					"%s/calendar/get-items?calendar_api_id=%s",
					f.cfg.BaseURL, url.QueryEscape(calendarID)))
			}
		default:
			log.Warn().Str("type", src.Type).Str("slug", src.Slug).Msg("Luma: unknown source type")
			continue
		}

		if err != nil {
			log.Error().Err(err).Str("type", src.Type).Str("slug", src.Slug).Msg("Luma: source fetch failed")
			errs = append(errs, fmt.Errorf("luma %s/%s: %w", src.Type, src.Slug, err))
			continue
		}

		log.Info().Str("type", src.Type).Str("slug", src.Slug).Int("entries", len(raws)).Msg("Luma: fetched source")

		for _, raw := range raws {
			var entry lumaEntry
			if err := json.Unmarshal(raw, &entry); err != nil {
				continue
			}
			if entry.Event.APIID == "" || seen[entry.Event.APIID] {
				continue
			}
			seen[entry.Event.APIID] = true
			tagged = append(tagged, taggedLumaEntry{entry: entry, raw: raw, community: community})
		}
	}

	return tagged, errs
}

// fetchPaginated follows server-assigned cursors until the feed is
// exhausted or the page cap is reached. Pages are fetched sequentially
// because each cursor comes from the previous response.
func (f *LumaFetcher) fetchPaginated(ctx context.Context, feedURL string) ([]json.RawMessage, error) {
	var all []json.RawMessage
	cursor := ""

	for page := 0; page < f.cfg.MaxPages; page++ {
		u, err := url.Parse(feedURL)
		if err != nil {
			return nil, fmt.Errorf("bad feed url: %w", err)
		}
		q := u.Query()
		q.Set("pagination_limit", fmt.Sprintf("%d", f.cfg.PageLimit))
		if cursor != "" {
			q.Set("pagination_cursor", cursor)
		}
		u.RawQuery = q.Encode()

		var resp lumaDiscoverResponse
		if err := getJSON(ctx, f.client, u.String(), &resp); err != nil {
			return nil, err
		}

		all = append(all, resp.Entries...)

		if !resp.HasMore || resp.NextCursor == "" {
			break
		}
		cursor = resp.NextCursor
	}

	return all, nil
}

// resolveCalendarSlug turns a public calendar slug (e.g. "genai-collective")
// into its calendar_api_id. An empty id with nil error means the slug did
// not resolve.
func (f *LumaFetcher) resolveCalendarSlug(ctx context.Context, slug string) (string, error) {
	var resp lumaResolveResponse
	u := fmt.Sprintf("%s/url?url=%s", f.cfg.BaseURL, url.QueryEscape(slug))
	if err := getJSON(ctx, f.client, u, &resp); err != nil {
		return "", err
	}
	return resp.Data.Calendar.APIID, nil
}

func (f *LumaFetcher) inRegion(ev lumaEventPayload) bool {
	cand := geo.Candidate{}

	if ev.GeoAddressInfo != nil {
		cand.City = ev.GeoAddressInfo.City
		if cand.City == "" {
			cand.City = ev.GeoAddressInfo.CityState
		}
		cand.Address = ev.GeoAddressInfo.FullAddress
		if cand.Address == "" {
			cand.Address = ev.GeoAddressInfo.Address
		}
	}
	if ev.GeoAddressJSON != nil {
		if cand.City == "" {
			cand.City = ev.GeoAddressJSON.City
		}
		if cand.Address == "" {
			cand.Address = ev.GeoAddressJSON.Description
		}
	}
	if ev.Coordinate != nil {
		lat, lng := ev.Coordinate.Latitude, ev.Coordinate.Longitude
		cand.Latitude = &lat
		cand.Longitude = &lng
	}

	return f.region.Contains(cand)
}

// mapEntry maps one discover entry into a canonical record. Records
// missing a title or a parseable start time are dropped as feed noise.
func (f *LumaFetcher) mapEntry(te taggedLumaEntry) (models.CanonicalEvent, bool) {
	ev := te.entry.Event

	if ev.Name == "" {
		return models.CanonicalEvent{}, false
	}
	startAt, ok := parseTime(ev.StartAt)
	if !ok {
		return models.CanonicalEvent{}, false
	}

	eventURL := fmt.Sprintf("https://lu.ma/event/%s", ev.APIID)
	if ev.URL != "" {
		if strings.HasPrefix(ev.URL, "http") {
			eventURL = ev.URL
		} else {
			eventURL = "https://lu.ma/" + ev.URL
		}
	}

	format := models.FormatMeetup
	if ev.EventType != "" {
		if mapped, known := lumaFormatMap[strings.ToLower(ev.EventType)]; known {
			format = mapped
		}
	}
	// An explicit online location overrides the declared event type:
	// format is a presentation category, delivery mode wins.
	if ev.LocationType == "online" {
		format = models.FormatOnline
	}

	var address, city string
	var lat, lng *float64
	if ev.GeoAddressInfo != nil {
		address = ev.GeoAddressInfo.FullAddress
		if address == "" {
			address = ev.GeoAddressInfo.Address
		}
		city = ev.GeoAddressInfo.City
	}
	if ev.GeoAddressJSON != nil {
		if address == "" {
			address = ev.GeoAddressJSON.Description
		}
		if city == "" {
			city = ev.GeoAddressJSON.City
		}
	}
	if ev.Coordinate != nil {
		la, ln := ev.Coordinate.Latitude, ev.Coordinate.Longitude
		lat, lng = &la, &ln
	}

	return models.CanonicalEvent{
		PlatformID:    "luma-" + ev.APIID,
		Platform:      models.PlatformLuma,
		CommunitySlug: te.community,
		Title:         ev.Name,
		Description:   ev.Description,
		URL:           eventURL,
		ImageURL:      ev.CoverURL,
		Format:        format,
		StartAt:       startAt,
		EndAt:         parseTimePtr(ev.EndAt),
		FormattedAddr: address,
		City:          city,
		Latitude:      lat,
		Longitude:     lng,
		Timezone:      ev.Timezone,
		PlatformData:  te.raw,
	}, true
}
