package models

import (
	"encoding/json"
	"time"
)

// Platform identifies which external platform an event was sourced from.
type Platform string

const (
	PlatformLuma       Platform = "luma"
	PlatformMeetup     Platform = "meetup"
	PlatformEventbrite Platform = "eventbrite"
	PlatformManual     Platform = "manual"
)

// EventFormat is the normalized presentation category of an event.
type EventFormat string

const (
	FormatMeetup    EventFormat = "Meetup"
	FormatWorkshop  EventFormat = "Workshop"
	FormatHackathon EventFormat = "Hackathon"
	FormatSummit    EventFormat = "Summit"
	FormatOnline    EventFormat = "Online"
	FormatSocial    EventFormat = "Social"
	FormatOther     EventFormat = "Other"
)

// EventStatus is the moderation state of a stored event. It is assigned
// at write time by the storage layer, never by fetchers, and upserts must
// not overwrite it so that reviewer decisions survive re-ingestion.
type EventStatus string

const (
	StatusApproved      EventStatus = "approved"
	StatusPendingReview EventStatus = "pending_review"
	StatusHidden        EventStatus = "hidden"
)

// CanonicalEvent is the unified event shape every fetcher produces.
// PlatformID ("<platform>-<nativeId>") is the primary key and is stable
// across repeated fetches of the same source event. Optional string
// fields use "" for absent; Latitude/Longitude are pointers because the
// geo filter needs to distinguish "missing" from zero.
type CanonicalEvent struct {
	PlatformID    string          `json:"platformId"`
	Platform      Platform        `json:"platform"`
	CommunitySlug string          `json:"communitySlug,omitempty"`
	Title         string          `json:"title"`
	Description   string          `json:"description,omitempty"`
	URL           string          `json:"url"`
	ImageURL      string          `json:"imageUrl,omitempty"`
	Format        EventFormat     `json:"format"`
	StartAt       time.Time       `json:"startAt"`
	EndAt         *time.Time      `json:"endAt,omitempty"`
	Venue         string          `json:"venue,omitempty"`
	FormattedAddr string          `json:"formattedAddress,omitempty"`
	City          string          `json:"city,omitempty"`
	Country       string          `json:"country,omitempty"`
	Latitude      *float64        `json:"latitude,omitempty"`
	Longitude     *float64        `json:"longitude,omitempty"`
	Timezone      string          `json:"timezone,omitempty"`
	IsFeatured    bool            `json:"isFeatured"`
	PlatformData  json.RawMessage `json:"platformData,omitempty"`

	// Status is populated when reading from storage; fetchers leave it empty.
	Status EventStatus `json:"status,omitempty"`
}

// IngestionStats summarizes one ingestion run.
type IngestionStats struct {
	Inserted int      `json:"inserted"`
	Updated  int      `json:"updated"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors"`
}
