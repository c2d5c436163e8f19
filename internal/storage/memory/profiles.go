package memory

import (
	"context"
	"sync"

	"github.com/meridianlab/profile-crawler/internal/crawler"
	"github.com/meridianlab/profile-crawler/internal/metrics"
)

// ProfileStore keeps profiles in process memory keyed by source URL.
type ProfileStore struct {
	mu       sync.RWMutex
	profiles map[string]crawler.Profile
}

// NewProfileStore builds an empty ProfileStore.
func NewProfileStore() *ProfileStore {
	return &ProfileStore{profiles: make(map[string]crawler.Profile)}
}

// UpsertBySourceURL creates or replaces the profile. When the stored
// checksum matches the incoming one the content is unchanged, so only
// ScrapedAt is refreshed.
func (s *ProfileStore) UpsertBySourceURL(_ context.Context, profile crawler.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.profiles[profile.SourceURL]
	switch {
	case !ok:
		s.profiles[profile.SourceURL] = profile
		metrics.IncProfileUpsert("created")
	case existing.RawHTMLChecksum == profile.RawHTMLChecksum:
		existing.ScrapedAt = profile.ScrapedAt
		s.profiles[profile.SourceURL] = existing
		metrics.IncProfileUpsert("unchanged")
	default:
		s.profiles[profile.SourceURL] = profile
		metrics.IncProfileUpsert("updated")
	}
	return nil
}

// GetBySourceURL returns the profile for the URL.
func (s *ProfileStore) GetBySourceURL(_ context.Context, sourceURL string) (crawler.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	profile, ok := s.profiles[sourceURL]
	if !ok {
		return crawler.Profile{}, crawler.ErrNotFound
	}
	return profile, nil
}
