package fetchers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/ajsai47/AI-Calendar/internal/config"
	"github.com/ajsai47/AI-Calendar/internal/models"
)

const meetupUserAgent = "Mozilla/5.0 (compatible; AI-Calendar/1.0; +https://aicalendar.dev)"

var nextDataRe = regexp.MustCompile(`<script id="__NEXT_DATA__" type="application/json">([\s\S]*?)</script>`)

type meetupVenue struct {
	Name    string   `json:"name"`
	Address string   `json:"address"`
	City    string   `json:"city"`
	State   string   `json:"state"`
	Country string   `json:"country"`
	Lat     *float64 `json:"lat"`
	Lng     *float64 `json:"lng"`
}

type meetupGroupRef struct {
	URLName  string `json:"urlname"`
	Timezone string `json:"timezone"`
}

type meetupEvent struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	EventURL    string          `json:"eventUrl"`
	DateTime    string          `json:"dateTime"`
	EndTime     string          `json:"endTime"`
	Going       int             `json:"going"`
	ImageURL    string          `json:"imageUrl"`
	EventType   string          `json:"eventType"`
	Venue       *meetupVenue    `json:"venue"`
	Group       *meetupGroupRef `json:"group"`
}

type meetupGqlResponse struct {
	Data *struct {
		GroupByURLName *struct {
			Timezone       string `json:"timezone"`
			UpcomingEvents struct {
				Edges []struct {
					Node meetupEvent `json:"node"`
				} `json:"edges"`
			} `json:"upcomingEvents"`
		} `json:"groupByUrlname"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// parsedEvents is the outcome of digging event data out of a scraped
// page: either a concrete list was found, or nothing usable was present.
// The distinction keeps the fallback's shape-guessing explicit.
type parsedEvents struct {
	Events []meetupEvent
	Found  bool
}

// MeetupFetcher pulls upcoming events for a fixed set of community
// groups. The public GraphQL API is tried first; when it is rate-limited
// or restricted the group's public event-listing page is scraped
// instead, since the HTML stays reachable when the API is not.
type MeetupFetcher struct {
	cfg    config.MeetupConfig
	client *http.Client
}

// NewMeetupFetcher creates a Meetup fetcher for the configured groups.
func NewMeetupFetcher(cfg config.MeetupConfig) *MeetupFetcher {
	return &MeetupFetcher{
		cfg:    cfg,
		client: newHTTPClient(),
	}
}

// Name identifies this source in logs and stats.
func (f *MeetupFetcher) Name() string { return "meetup" }

// Fetch iterates all configured groups, isolating per-group failures.
// Groups are pre-selected as regional so no geo filter is applied.
// An error is returned only when every group failed.
func (f *MeetupFetcher) Fetch(ctx context.Context) ([]models.CanonicalEvent, error) {
	var all []models.CanonicalEvent
	var errs []error

	for _, group := range f.cfg.Groups {
		events, err := f.fetchGroup(ctx, group.URLName)
		if err != nil {
			log.Error().Err(err).Str("group", group.URLName).Msg("Meetup: group fetch failed")
			errs = append(errs, fmt.Errorf("meetup %s: %w", group.URLName, err))
			continue
		}
		log.Info().Str("group", group.URLName).Int("events", len(events)).Msg("Meetup: fetched group")

		for _, ev := range events {
			mapped, ok := f.mapEvent(ev, group)
			if !ok {
				continue
			}
			all = append(all, mapped)
		}
	}

	if len(all) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return all, nil
}

// fetchGroup tries the GraphQL API first and falls back to scraping the
// public event-listing page when the API fails or returns nothing.
func (f *MeetupFetcher) fetchGroup(ctx context.Context, urlname string) ([]meetupEvent, error) {
	events, err := f.fetchGroupGql(ctx, urlname)
	if err == nil && len(events) > 0 {
		return events, nil
	}
	if err != nil {
		log.Warn().Err(err).Str("group", urlname).Msg("Meetup: GraphQL failed, trying HTML fallback")
	}

	return f.fetchGroupHTML(ctx, urlname)
}

// fetchGroupGql queries the public GraphQL endpoint for a group's
// upcoming events.
func (f *MeetupFetcher) fetchGroupGql(ctx context.Context, urlname string) ([]meetupEvent, error) {
	query := `
	query ($urlname: String!, $first: Int!) {
	  groupByUrlname(urlname: $urlname) {
	    timezone
	    upcomingEvents(input: { first: $first }) {
	      edges {
	        node {
	          id
	          title
	          description
	          eventUrl
	          dateTime
	          endTime
	          going
	          imageUrl
	          eventType
	          venue { name address city state country lat lng }
	          group { urlname timezone }
	        }
	      }
	    }
	  }
	}`

	payload, err := json.Marshal(map[string]interface{}{
		"query": query,
		"variables": map[string]interface{}{
			"urlname": urlname,
			"first":   f.cfg.EventsPerGroup,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", f.cfg.GraphQLURL, bytes.NewBuffer(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("GraphQL returned status %d", resp.StatusCode)
	}

	var gql meetupGqlResponse
	if err := json.Unmarshal(body, &gql); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if len(gql.Errors) > 0 {
		msgs := make([]string, 0, len(gql.Errors))
		for _, e := range gql.Errors {
			msgs = append(msgs, e.Message)
		}
		return nil, fmt.Errorf("GraphQL errors: %s", strings.Join(msgs, ", "))
	}
	if gql.Data == nil || gql.Data.GroupByURLName == nil {
		return nil, nil
	}

	groupTz := gql.Data.GroupByURLName.Timezone
	events := make([]meetupEvent, 0, len(gql.Data.GroupByURLName.UpcomingEvents.Edges))
	for _, edge := range gql.Data.GroupByURLName.UpcomingEvents.Edges {
		ev := edge.Node
		if ev.Group == nil {
			ev.Group = &meetupGroupRef{}
		}
		if ev.Group.Timezone == "" {
			ev.Group.Timezone = groupTz
		}
		events = append(events, ev)
	}
	return events, nil
}

// fetchGroupHTML scrapes the group's public events page and extracts the
// embedded __NEXT_DATA__ blob.
func (f *MeetupFetcher) fetchGroupHTML(ctx context.Context, urlname string) ([]meetupEvent, error) {
	pageURL := fmt.Sprintf("%s/%s/events/", f.cfg.BaseURL, urlname)

	req, err := http.NewRequestWithContext(ctx, "GET", pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", meetupUserAgent)
	req.Header.Set("Accept", "text/html")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch events page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("events page returned status %d", resp.StatusCode)
	}

	html, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read events page: %w", err)
	}

	parsed, err := parseEmbeddedEvents(html, urlname, f.cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	if !parsed.Found {
		log.Warn().Str("group", urlname).Msg("Meetup: no event data in scraped page")
		return nil, nil
	}
	return parsed.Events, nil
}

// parseEmbeddedEvents extracts events from a scraped Meetup page. It
// looks for a direct upcoming-events list first; failing that it scans
// the embedded Apollo object cache for "Event:"-prefixed entries and
// accepts only those carrying the minimum fields (id, title, start).
func parseEmbeddedEvents(html []byte, urlname, baseURL string) (parsedEvents, error) {
	m := nextDataRe.FindSubmatch(html)
	if m == nil {
		return parsedEvents{}, errors.New("could not find __NEXT_DATA__ in page")
	}

	var nextData struct {
		Props struct {
			PageProps struct {
				UpcomingEvents json.RawMessage            `json:"upcomingEvents"`
				ApolloState    map[string]json.RawMessage `json:"__APOLLO_STATE__"`
			} `json:"pageProps"`
		} `json:"props"`
	}
	if err := json.Unmarshal(m[1], &nextData); err != nil {
		return parsedEvents{}, fmt.Errorf("failed to parse __NEXT_DATA__: %w", err)
	}

	// Direct list of upcoming events, when the page shape provides one.
	if len(nextData.Props.PageProps.UpcomingEvents) > 0 {
		var direct []meetupEvent
		if err := json.Unmarshal(nextData.Props.PageProps.UpcomingEvents, &direct); err == nil && len(direct) > 0 {
			return parsedEvents{Events: direct, Found: true}, nil
		}
	}

	// Generic Apollo cache scan.
	if nextData.Props.PageProps.ApolloState != nil {
		var events []meetupEvent
		for key, raw := range nextData.Props.PageProps.ApolloState {
			if !strings.HasPrefix(key, "Event:") {
				continue
			}
			var ev meetupEvent
			if err := json.Unmarshal(raw, &ev); err != nil {
				continue
			}
			if ev.ID == "" || ev.Title == "" || ev.DateTime == "" {
				continue
			}
			if ev.EventURL == "" {
				ev.EventURL = fmt.Sprintf("%s/%s/events/%s/", baseURL, urlname, ev.ID)
			}
			events = append(events, ev)
		}
		if len(events) > 0 {
			return parsedEvents{Events: events, Found: true}, nil
		}
	}

	return parsedEvents{}, nil
}

func formatVenueAddress(v *meetupVenue) string {
	if v == nil {
		return ""
	}
	parts := make([]string, 0, 4)
	for _, p := range []string{v.Address, v.City, v.State, v.Country} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// mapEvent maps a Meetup event into a canonical record. Missing venue
// city defaults to the configured home city and missing country to the
// home country, since the groups themselves are regional.
func (f *MeetupFetcher) mapEvent(ev meetupEvent, group config.MeetupGroup) (models.CanonicalEvent, bool) {
	if ev.Title == "" {
		return models.CanonicalEvent{}, false
	}
	startAt, ok := parseTime(ev.DateTime)
	if !ok {
		return models.CanonicalEvent{}, false
	}

	eventURL := ev.EventURL
	if eventURL == "" {
		eventURL = fmt.Sprintf("%s/%s/events/%s/", f.cfg.BaseURL, group.URLName, ev.ID)
	}

	format := models.FormatMeetup
	if ev.EventType == "ONLINE" {
		format = models.FormatOnline
	}

	city := f.cfg.HomeCity
	country := f.cfg.HomeCountry
	venue := ""
	var lat, lng *float64
	if ev.Venue != nil {
		venue = ev.Venue.Name
		if ev.Venue.City != "" {
			city = ev.Venue.City
		}
		if ev.Venue.Country != "" {
			country = ev.Venue.Country
		}
		lat, lng = ev.Venue.Lat, ev.Venue.Lng
	}

	timezone := f.cfg.DefaultTimezone
	if ev.Group != nil && ev.Group.Timezone != "" {
		timezone = ev.Group.Timezone
	}

	raw, err := json.Marshal(ev)
	if err != nil {
		raw = nil
	}

	return models.CanonicalEvent{
		PlatformID:    "meetup-" + ev.ID,
		Platform:      models.PlatformMeetup,
		CommunitySlug: group.Community,
		Title:         ev.Title,
		Description:   ev.Description,
		URL:           eventURL,
		ImageURL:      ev.ImageURL,
		Format:        format,
		StartAt:       startAt,
		EndAt:         parseTimePtr(ev.EndTime),
		Venue:         venue,
		FormattedAddr: formatVenueAddress(ev.Venue),
		City:          city,
		Country:       country,
		Latitude:      lat,
		Longitude:     lng,
		Timezone:      timezone,
		PlatformData:  raw,
	}, true
}
