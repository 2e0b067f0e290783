package models

// Community is display metadata for a known community, keyed by slug.
// Fetchers only emit slug references; resolution happens at read time.
type Community struct {
	Slug             string `json:"slug"`
	Name             string `json:"name"`
	Description      string `json:"description,omitempty"`
	WebsiteURL       string `json:"websiteUrl,omitempty"`
	LogoURL          string `json:"logoUrl,omitempty"`
	Color            string `json:"color,omitempty"`
	MeetupSlug       string `json:"meetupSlug,omitempty"`
	LumaCalendarSlug string `json:"lumaCalendarSlug,omitempty"`
}
