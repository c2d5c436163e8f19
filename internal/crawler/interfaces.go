package crawler

import (
	"context"
	"time"
)

// JobStore persists jobs and their items. Item status writes must be
// atomic and ListItems must give a consistent view at aggregation time.
type JobStore interface {
	CreateJob(ctx context.Context, job Job, items []JobItem) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus) error
	UpdateJobProgress(ctx context.Context, jobID string, processed, failed int) error
	ListItems(ctx context.Context, jobID string) ([]JobItem, error)
	UpdateItemStatus(ctx context.Context, itemID string, status ItemStatus, statusCode int, errText string) error
	UpdateItemAttempts(ctx context.Context, itemID string, attempts int) error
	CountItemsByStatus(ctx context.Context, jobID string) (map[ItemStatus]int, error)
}

// ProfileStore upserts parsed profiles keyed by source URL.
type ProfileStore interface {
	UpsertBySourceURL(ctx context.Context, profile Profile) error
	GetBySourceURL(ctx context.Context, sourceURL string) (Profile, error)
}

// BlobStore archives raw fetched documents and returns a URI.
type BlobStore interface {
	Put(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Queue provides enqueue/dequeue semantics for crawl jobs with
// at-least-once delivery.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Publisher pushes completion events to an external topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// FetchStrategy retrieves a URL. Strategies declare a priority and a
// capability predicate; the registry dispatches to the highest-priority
// match.
type FetchStrategy interface {
	Name() string
	Priority() int
	Supports(url string) bool
	Fetch(ctx context.Context, url string) (FetchResult, error)
}

// ParseStrategy extracts a profile from fetched HTML. A strategy whose
// Supports matched must return a profile, possibly with every field
// empty, rather than an error for thin pages.
type ParseStrategy interface {
	Name() string
	Priority() int
	Supports(url string) bool
	Parse(html []byte, sourceURL string) (ParsedProfile, error)
}

// Detector decides whether a fetched page warrants a heavier
// rendering pass.
type Detector interface {
	ShouldEscalate(result FetchResult, profile *ParsedProfile) bool
}

// Hasher computes content digests for the profile checksum gate.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (swappable in tests).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job and item IDs.
type IDGenerator interface {
	NewID() (string, error)
}
