package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ajsai47/AI-Calendar/internal/geo"
	"github.com/ajsai47/AI-Calendar/internal/models"
)

// RegionConfig describes the metro area events are filtered to.
type RegionConfig struct {
	Cities        []string `yaml:"cities"`
	CityToken     string   `yaml:"city_token"`
	StateToken    string   `yaml:"state_token"`
	CenterLat     float64  `yaml:"center_lat"`
	CenterLng     float64  `yaml:"center_lng"`
	RadiusDegrees float64  `yaml:"radius_degrees"`
}

// Region converts the config into the geo package's value type.
func (r RegionConfig) Region() geo.Region {
	return geo.Region{
		Cities:     r.Cities,
		CityToken:  r.CityToken,
		StateToken: r.StateToken,
		CenterLat:  r.CenterLat,
		CenterLng:  r.CenterLng,
		RadiusDeg:  r.RadiusDegrees,
	}
}

// LumaSource is one Luma discover feed or named calendar.
// Type is "place", "category" or "calendar"; Community is only
// meaningful for calendar sources, where the calendar belongs to a
// known community.
type LumaSource struct {
	Type      string `yaml:"type"`
	Slug      string `yaml:"slug"`
	Community string `yaml:"community,omitempty"`
}

// LumaConfig configures the Luma discover fetcher.
type LumaConfig struct {
	BaseURL   string       `yaml:"base_url"`
	MaxPages  int          `yaml:"max_pages"`
	PageLimit int          `yaml:"page_limit"`
	Sources   []LumaSource `yaml:"sources"`
}

// MeetupGroup is one Meetup group to pull, mapped to a community slug.
type MeetupGroup struct {
	URLName   string `yaml:"urlname"`
	Community string `yaml:"community"`
}

// MeetupConfig configures the Meetup fetcher. Groups are pre-selected as
// regional, so no geo filter applies; HomeCity/HomeCountry fill in
// missing venue fields.
type MeetupConfig struct {
	GraphQLURL      string        `yaml:"graphql_url"`
	BaseURL         string        `yaml:"base_url"`
	Groups          []MeetupGroup `yaml:"groups"`
	EventsPerGroup  int           `yaml:"events_per_group"`
	HomeCity        string        `yaml:"home_city"`
	HomeCountry     string        `yaml:"home_country"`
	DefaultTimezone string        `yaml:"default_timezone"`
}

// AICConfig configures the AI Collective platform fetcher.
type AICConfig struct {
	BaseURL   string `yaml:"base_url"`
	Chapter   string `yaml:"chapter"`
	Community string `yaml:"community"`
	Limit     int    `yaml:"limit"`
}

// CommunityConfig is seed data for the community registry.
type CommunityConfig struct {
	Slug             string `yaml:"slug"`
	Name             string `yaml:"name"`
	Description      string `yaml:"description,omitempty"`
	WebsiteURL       string `yaml:"website_url,omitempty"`
	Color            string `yaml:"color,omitempty"`
	MeetupSlug       string `yaml:"meetup_slug,omitempty"`
	LumaCalendarSlug string `yaml:"luma_calendar_slug,omitempty"`
}

// Config is the source-list configuration for the ingestion pipeline.
// Keeping it in a file (instead of package-level constant lists) lets
// tests inject fake sources and operators add groups without a rebuild.
type Config struct {
	Region      RegionConfig      `yaml:"region"`
	Luma        LumaConfig        `yaml:"luma"`
	Meetup      MeetupConfig      `yaml:"meetup"`
	AIC         AICConfig         `yaml:"aic"`
	BatchSize   int               `yaml:"batch_size"`
	Communities []CommunityConfig `yaml:"communities"`
}

// DefaultConfig returns the Portland metro setup the service ships with.
func DefaultConfig() *Config {
	return &Config{
		Region: RegionConfig{
			Cities: []string{
				"portland", "beaverton", "hillsboro", "lake oswego",
				"tigard", "vancouver", "gresham", "oregon city",
			},
			CityToken:     "portland",
			StateToken:    ", or ",
			CenterLat:     45.5152,
			CenterLng:     -122.6784,
			RadiusDegrees: 0.72,
		},
		Luma: LumaConfig{
			BaseURL:   "https://api.lu.ma",
			MaxPages:  5,
			PageLimit: 50,
			Sources: []LumaSource{
				{Type: "place", Slug: "portland"},
				{Type: "category", Slug: "ai"},
			},
		},
		Meetup: MeetupConfig{
			GraphQLURL: "https://www.meetup.com/gql2",
			BaseURL:    "https://www.meetup.com",
			Groups: []MeetupGroup{
				{URLName: "ai-portland", Community: "ai-portland"},
				{URLName: "portland-ai-engineers", Community: "portland-ai-engineers"},
				{URLName: "ai-tinkerers-portland-or", Community: "ai-tinkerers-pdx"},
			},
			EventsPerGroup:  20,
			HomeCity:        "Portland",
			HomeCountry:     "US",
			DefaultTimezone: "America/Los_Angeles",
		},
		AIC: AICConfig{
			BaseURL:   "https://platform.aicollective.com/api/public",
			Chapter:   "portland",
			Community: "aic-portland",
			Limit:     50,
		},
		BatchSize: 100,
		Communities: []CommunityConfig{
			{Slug: "ai-portland", Name: "AI Portland", Description: "Portland's AI community meetup group", MeetupSlug: "ai-portland", Color: "#3B82F6"},
			{Slug: "pdxhacks", Name: "PDXHacks", Description: "Portland hackathon community", LumaCalendarSlug: "pdxhacks", Color: "#8B5CF6"},
			{Slug: "aic-portland", Name: "AI Collective Portland", Description: "GenAI Collective Portland chapter", LumaCalendarSlug: "genai-collective", Color: "#F59E0B"},
			{Slug: "portland-ai-engineers", Name: "Portland AI Engineers", Description: "Portland AI Engineers meetup group", MeetupSlug: "portland-ai-engineers", Color: "#10B981"},
			{Slug: "ai-tinkerers-pdx", Name: "AI Tinkerers Portland", Description: "AI Tinkerers Portland chapter", MeetupSlug: "ai-tinkerers-portland-or", Color: "#EC4899"},
			{Slug: "pdx-robotics", Name: "PDX Robotics", Description: "Portland robotics and AI hardware community", Color: "#6366F1"},
		},
	}
}

// Normalize backfills zero values with defaults so partially-filled
// configs still behave.
func (c *Config) Normalize() {
	def := DefaultConfig()

	if len(c.Region.Cities) == 0 {
		c.Region.Cities = def.Region.Cities
	}
	if c.Region.CityToken == "" {
		c.Region.CityToken = def.Region.CityToken
	}
	if c.Region.StateToken == "" {
		c.Region.StateToken = def.Region.StateToken
	}
	if c.Region.RadiusDegrees <= 0 {
		c.Region.RadiusDegrees = def.Region.RadiusDegrees
	}
	if c.Region.CenterLat == 0 && c.Region.CenterLng == 0 {
		c.Region.CenterLat = def.Region.CenterLat
		c.Region.CenterLng = def.Region.CenterLng
	}

	if c.Luma.BaseURL == "" {
		c.Luma.BaseURL = def.Luma.BaseURL
	}
	if c.Luma.MaxPages <= 0 {
		c.Luma.MaxPages = def.Luma.MaxPages
	}
	if c.Luma.PageLimit <= 0 {
		c.Luma.PageLimit = def.Luma.PageLimit
	}
	if c.Luma.Sources == nil {
		c.Luma.Sources = def.Luma.Sources
	}

	if c.Meetup.GraphQLURL == "" {
		c.Meetup.GraphQLURL = def.Meetup.GraphQLURL
	}
	if c.Meetup.BaseURL == "" {
		c.Meetup.BaseURL = def.Meetup.BaseURL
	}
	if c.Meetup.Groups == nil {
		c.Meetup.Groups = def.Meetup.Groups
	}
	if c.Meetup.EventsPerGroup <= 0 {
		c.Meetup.EventsPerGroup = def.Meetup.EventsPerGroup
	}
	if c.Meetup.HomeCity == "" {
		c.Meetup.HomeCity = def.Meetup.HomeCity
	}
	if c.Meetup.HomeCountry == "" {
		c.Meetup.HomeCountry = def.Meetup.HomeCountry
	}
	if c.Meetup.DefaultTimezone == "" {
		c.Meetup.DefaultTimezone = def.Meetup.DefaultTimezone
	}

	if c.AIC.BaseURL == "" {
		c.AIC.BaseURL = def.AIC.BaseURL
	}
	if c.AIC.Chapter == "" {
		c.AIC.Chapter = def.AIC.Chapter
	}
	if c.AIC.Community == "" {
		c.AIC.Community = def.AIC.Community
	}
	if c.AIC.Limit <= 0 {
		c.AIC.Limit = def.AIC.Limit
	}

	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.Communities == nil {
		c.Communities = def.Communities
	}
}

// SeedCommunities converts the configured community list into model records.
func (c *Config) SeedCommunities() []models.Community {
	out := make([]models.Community, 0, len(c.Communities))
	for _, cc := range c.Communities {
		out = append(out, models.Community{
			Slug:             cc.Slug,
			Name:             cc.Name,
			Description:      cc.Description,
			WebsiteURL:       cc.WebsiteURL,
			Color:            cc.Color,
			MeetupSlug:       cc.MeetupSlug,
			LumaCalendarSlug: cc.LumaCalendarSlug,
		})
	}
	return out
}

// Load reads the YAML config at path. A missing file is not an error:
// the built-in defaults are returned so the service runs out of the box.
func Load(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	cfg.Normalize()

	return &cfg, nil
}
