package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/ajsai47/AI-Calendar/internal/models"
)

// PostgresStorage is the durable event and community store.
type PostgresStorage struct {
	db *sql.DB
}

// NewPostgresStorage opens a connection and ensures the schema exists.
func NewPostgresStorage(host, port, user, password, dbName, sslMode string) (*PostgresStorage, error) {
	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		host, port, user, password, dbName, sslMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	storage := &PostgresStorage{db: db}
	if err := storage.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize db schema: %w", err)
	}

	return storage, nil
}

// Init creates necessary tables
func (s *PostgresStorage) Init() error {
	query := `
	CREATE TABLE IF NOT EXISTS events (
		platform_id TEXT PRIMARY KEY,
		platform TEXT NOT NULL,
		community_slug TEXT,
		title TEXT NOT NULL,
		description TEXT,
		url TEXT NOT NULL,
		image_url TEXT,
		format TEXT,
		start_at TIMESTAMPTZ NOT NULL,
		end_at TIMESTAMPTZ,
		venue TEXT,
		formatted_address TEXT,
		city TEXT,
		country TEXT,
		latitude REAL,
		longitude REAL,
		timezone TEXT,
		status TEXT NOT NULL DEFAULT 'approved',
		is_featured BOOLEAN NOT NULL DEFAULT FALSE,
		platform_data JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_events_start_at ON events(start_at);
	CREATE INDEX IF NOT EXISTS idx_events_platform ON events(platform);
	CREATE INDEX IF NOT EXISTS idx_events_community ON events(community_slug);
	CREATE INDEX IF NOT EXISTS idx_events_status ON events(status);

	CREATE TABLE IF NOT EXISTS communities (
		slug TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT,
		website_url TEXT,
		logo_url TEXT,
		color TEXT,
		meetup_slug TEXT,
		luma_calendar_slug TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`

	_, err := s.db.Exec(query)
	return err
}

// UpsertEvents writes a batch of canonical events. On platform_id
// collision every externally-sourced field is overwritten and
// updated_at refreshed; status and created_at are left untouched so
// moderation decisions survive re-ingestion.
func (s *PostgresStorage) UpsertEvents(ctx context.Context, events []models.CanonicalEvent) error {
	if len(events) == 0 {
		return nil
	}

	const cols = 19
	placeholders := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*cols)

	for i, ev := range events {
		base := i * cols
		ph := make([]string, cols)
		for j := 0; j < cols; j++ {
			ph[j] = fmt.Sprintf("$%d", base+j+1)
		}
		placeholders = append(placeholders, "("+strings.Join(ph, ", ")+")")

		args = append(args,
			ev.PlatformID, string(ev.Platform), nullString(ev.CommunitySlug),
			ev.Title, nullString(ev.Description), ev.URL, nullString(ev.ImageURL),
			nullString(string(ev.Format)), ev.StartAt, nullTime(ev.EndAt),
			nullString(ev.Venue), nullString(ev.FormattedAddr), nullString(ev.City),
			nullString(ev.Country), nullFloat(ev.Latitude), nullFloat(ev.Longitude),
			nullString(ev.Timezone), ev.IsFeatured, nullJSON(ev.PlatformData),
		)
	}

	query := fmt.Sprintf(`
	INSERT INTO events (
		platform_id, platform, community_slug, title, description, url,
		image_url, format, start_at, end_at, venue, formatted_address,
		city, country, latitude, longitude, timezone, is_featured,
		platform_data
	) VALUES %s
	ON CONFLICT (platform_id) DO UPDATE SET
		platform = EXCLUDED.platform,
		community_slug = EXCLUDED.community_slug,
		title = EXCLUDED.title,
		description = EXCLUDED.description,
		url = EXCLUDED.url,
		image_url = EXCLUDED.image_url,
		format = EXCLUDED.format,
		start_at = EXCLUDED.start_at,
		end_at = EXCLUDED.end_at,
		venue = EXCLUDED.venue,
		formatted_address = EXCLUDED.formatted_address,
		city = EXCLUDED.city,
		country = EXCLUDED.country,
		latitude = EXCLUDED.latitude,
		longitude = EXCLUDED.longitude,
		timezone = EXCLUDED.timezone,
		is_featured = EXCLUDED.is_featured,
		platform_data = EXCLUDED.platform_data,
		updated_at = NOW()
	;`, strings.Join(placeholders, ", "))

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		log.Error().Err(err).Int("batch_size", len(events)).Msg("Failed to upsert events")
		return err
	}

	return nil
}

// EventFilter narrows ListEvents results. From defaults to now when zero.
type EventFilter struct {
	From      time.Time
	To        time.Time
	Community string
	Format    string
}

// ListEvents returns approved events matching the filter, ordered by
// start time ascending.
func (s *PostgresStorage) ListEvents(ctx context.Context, filter EventFilter) ([]models.CanonicalEvent, error) {
	from := filter.From
	if from.IsZero() {
		from = time.Now()
	}

	query := `
	SELECT platform_id, platform, community_slug, title, description, url,
		   image_url, format, start_at, end_at, venue, formatted_address,
		   city, country, latitude, longitude, timezone, status,
		   is_featured, platform_data
	FROM events
	WHERE status = 'approved' AND start_at >= $1`
	args := []interface{}{from}

	if !filter.To.IsZero() {
		args = append(args, filter.To)
		query += fmt.Sprintf(" AND start_at <= $%d", len(args))
	}
	if filter.Community != "" {
		args = append(args, filter.Community)
		query += fmt.Sprintf(" AND community_slug = $%d", len(args))
	}
	if filter.Format != "" {
		args = append(args, filter.Format)
		query += fmt.Sprintf(" AND format = $%d", len(args))
	}
	query += " ORDER BY start_at ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.CanonicalEvent
	for rows.Next() {
		var ev models.CanonicalEvent
		var communitySlug, description, imageURL, format sql.NullString
		var venue, formattedAddr, city, country, timezone sql.NullString
		var endAt sql.NullTime
		var latitude, longitude sql.NullFloat64
		var platformData []byte

		err := rows.Scan(
			&ev.PlatformID, &ev.Platform, &communitySlug, &ev.Title,
			&description, &ev.URL, &imageURL, &format, &ev.StartAt, &endAt,
			&venue, &formattedAddr, &city, &country, &latitude, &longitude,
			&timezone, &ev.Status, &ev.IsFeatured, &platformData,
		)
		if err != nil {
			return nil, err
		}

		ev.CommunitySlug = communitySlug.String
		ev.Description = description.String
		ev.ImageURL = imageURL.String
		ev.Format = models.EventFormat(format.String)
		if endAt.Valid {
			t := endAt.Time
			ev.EndAt = &t
		}
		ev.Venue = venue.String
		ev.FormattedAddr = formattedAddr.String
		ev.City = city.String
		ev.Country = country.String
		if latitude.Valid {
			v := latitude.Float64
			ev.Latitude = &v
		}
		if longitude.Valid {
			v := longitude.Float64
			ev.Longitude = &v
		}
		ev.Timezone = timezone.String
		ev.PlatformData = platformData

		events = append(events, ev)
	}

	return events, rows.Err()
}

// SeedCommunities inserts the configured community registry, leaving
// existing rows untouched.
func (s *PostgresStorage) SeedCommunities(ctx context.Context, communities []models.Community) error {
	for _, c := range communities {
		_, err := s.db.ExecContext(ctx, `
		INSERT INTO communities (slug, name, description, website_url, logo_url, color, meetup_slug, luma_calendar_slug)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (slug) DO NOTHING`,
			c.Slug, c.Name, nullString(c.Description), nullString(c.WebsiteURL),
			nullString(c.LogoURL), nullString(c.Color), nullString(c.MeetupSlug),
			nullString(c.LumaCalendarSlug),
		)
		if err != nil {
			return fmt.Errorf("failed to seed community %s: %w", c.Slug, err)
		}
	}
	return nil
}

// ListCommunities returns all communities ordered by name.
func (s *PostgresStorage) ListCommunities(ctx context.Context) ([]models.Community, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT slug, name, description, website_url, logo_url, color, meetup_slug, luma_calendar_slug
	FROM communities
	ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var communities []models.Community
	for rows.Next() {
		var c models.Community
		var description, websiteURL, logoURL, color, meetupSlug, lumaSlug sql.NullString

		if err := rows.Scan(&c.Slug, &c.Name, &description, &websiteURL, &logoURL, &color, &meetupSlug, &lumaSlug); err != nil {
			return nil, err
		}
		c.Description = description.String
		c.WebsiteURL = websiteURL.String
		c.LogoURL = logoURL.String
		c.Color = color.String
		c.MeetupSlug = meetupSlug.String
		c.LumaCalendarSlug = lumaSlug.String
		communities = append(communities, c)
	}

	return communities, rows.Err()
}

// Ping verifies the database connection.
func (s *PostgresStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *PostgresStorage) Close() error {
	return s.db.Close()
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

func nullFloat(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}

// nullJSON binds a raw JSON payload as text so pq does not encode it as
// bytea; postgres casts it to jsonb at the column.
func nullJSON(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
