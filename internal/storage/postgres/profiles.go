package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/meridianlab/profile-crawler/internal/crawler"
	"github.com/meridianlab/profile-crawler/internal/metrics"
)

// ProfileStore persists profiles in Postgres keyed by source URL.
type ProfileStore struct {
	pool Pool
}

// NewProfileStore wraps an existing pool.
func NewProfileStore(pool Pool) (*ProfileStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ProfileStore{pool: pool}, nil
}

// upsertProfileSQL gates the content columns on checksum equality:
// when the stored checksum matches the incoming one only scraped_at
// moves, so unchanged pages stay byte-stable under re-crawls.
const upsertProfileSQL = `
INSERT INTO profiles (source_url, username, display_name, bio, avatar_url, cover_url, public_stats, links, raw_html_checksum, scraped_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (source_url) DO UPDATE SET
	username          = CASE WHEN profiles.raw_html_checksum = EXCLUDED.raw_html_checksum THEN profiles.username ELSE EXCLUDED.username END,
	display_name      = CASE WHEN profiles.raw_html_checksum = EXCLUDED.raw_html_checksum THEN profiles.display_name ELSE EXCLUDED.display_name END,
	bio               = CASE WHEN profiles.raw_html_checksum = EXCLUDED.raw_html_checksum THEN profiles.bio ELSE EXCLUDED.bio END,
	avatar_url        = CASE WHEN profiles.raw_html_checksum = EXCLUDED.raw_html_checksum THEN profiles.avatar_url ELSE EXCLUDED.avatar_url END,
	cover_url         = CASE WHEN profiles.raw_html_checksum = EXCLUDED.raw_html_checksum THEN profiles.cover_url ELSE EXCLUDED.cover_url END,
	public_stats      = CASE WHEN profiles.raw_html_checksum = EXCLUDED.raw_html_checksum THEN profiles.public_stats ELSE EXCLUDED.public_stats END,
	links             = CASE WHEN profiles.raw_html_checksum = EXCLUDED.raw_html_checksum THEN profiles.links ELSE EXCLUDED.links END,
	raw_html_checksum = EXCLUDED.raw_html_checksum,
	scraped_at        = EXCLUDED.scraped_at`

// UpsertBySourceURL creates or updates the profile under the checksum
// gate.
func (s *ProfileStore) UpsertBySourceURL(ctx context.Context, profile crawler.Profile) error {
	stats, err := marshalNullable(profile.PublicStats)
	if err != nil {
		return fmt.Errorf("marshal public stats: %w", err)
	}
	links, err := marshalNullable(profile.Links)
	if err != nil {
		return fmt.Errorf("marshal links: %w", err)
	}

	_, err = s.pool.Exec(ctx, upsertProfileSQL,
		profile.SourceURL,
		profile.Username,
		profile.DisplayName,
		profile.Bio,
		profile.AvatarURL,
		profile.CoverURL,
		stats,
		links,
		profile.RawHTMLChecksum,
		profile.ScrapedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	metrics.IncProfileUpsert("written")
	return nil
}

// GetBySourceURL loads the profile for the URL.
func (s *ProfileStore) GetBySourceURL(ctx context.Context, sourceURL string) (crawler.Profile, error) {
	var profile crawler.Profile
	var stats, links []byte
	err := s.pool.QueryRow(ctx, `
		SELECT source_url, username, display_name, bio, avatar_url, cover_url, public_stats, links, raw_html_checksum, scraped_at
		FROM profiles WHERE source_url = $1`, sourceURL,
	).Scan(
		&profile.SourceURL,
		&profile.Username,
		&profile.DisplayName,
		&profile.Bio,
		&profile.AvatarURL,
		&profile.CoverURL,
		&stats,
		&links,
		&profile.RawHTMLChecksum,
		&profile.ScrapedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Profile{}, crawler.ErrNotFound
	}
	if err != nil {
		return crawler.Profile{}, fmt.Errorf("select profile: %w", err)
	}

	if len(stats) > 0 {
		if err := json.Unmarshal(stats, &profile.PublicStats); err != nil {
			return crawler.Profile{}, fmt.Errorf("unmarshal public stats: %w", err)
		}
	}
	if len(links) > 0 {
		if err := json.Unmarshal(links, &profile.Links); err != nil {
			return crawler.Profile{}, fmt.Errorf("unmarshal links: %w", err)
		}
	}
	return profile, nil
}

// marshalNullable keeps empty collections as SQL NULL instead of the
// JSON literal "null" string.
func marshalNullable(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]float64:
		if len(val) == 0 {
			return nil, nil
		}
	case []string:
		if len(val) == 0 {
			return nil, nil
		}
	}
	return json.Marshal(v)
}
