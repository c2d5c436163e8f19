// Package crawler defines core types shared across subsystems.
package crawler

import (
	"net/http"
	"time"
)

// JobStatus represents the lifecycle state of a crawl job.
type JobStatus string

// Job status values persisted in the job store. Jobs move
// queued -> running -> {done, partial, failed}; the terminal
// states are absorbing.
const (
	JobStatusQueued  JobStatus = "queued"
	JobStatusRunning JobStatus = "running"
	JobStatusDone    JobStatus = "done"
	JobStatusPartial JobStatus = "partial"
	JobStatusFailed  JobStatus = "failed"
)

// Terminal reports whether the status permits no further transitions.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusDone, JobStatusPartial, JobStatusFailed:
		return true
	default:
		return false
	}
}

// JobPriority orders jobs within the queue.
type JobPriority string

// Job priority values accepted at submission time.
const (
	PriorityNormal JobPriority = "normal"
	PriorityHigh   JobPriority = "high"
)

// Valid reports whether the priority is one of the accepted values.
func (p JobPriority) Valid() bool {
	return p == PriorityNormal || p == PriorityHigh
}

// ItemStatus represents the per-URL outcome within a job.
type ItemStatus string

// Item status values. An item starts pending and receives exactly one
// terminal status write.
const (
	ItemStatusPending ItemStatus = "pending"
	ItemStatusOK      ItemStatus = "ok"
	ItemStatusError   ItemStatus = "error"
	ItemStatusBlocked ItemStatus = "blocked"
)

// Terminal reports whether the item status is final.
func (s ItemStatus) Terminal() bool {
	return s == ItemStatusOK || s == ItemStatusError || s == ItemStatusBlocked
}

// Job is the unit of work covering a set of URLs to crawl.
type Job struct {
	ID        string      `json:"id"`
	Status    JobStatus   `json:"status"`
	Priority  JobPriority `json:"priority"`
	Total     int         `json:"total"`
	Processed int         `json:"processed"`
	Failed    int         `json:"failed"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// JobItem tracks one URL's crawl outcome within a job.
type JobItem struct {
	ID             string     `json:"id"`
	JobID          string     `json:"job_id"`
	URL            string     `json:"url"`
	Status         ItemStatus `json:"status"`
	Attempts       int        `json:"attempts"`
	LastStatusCode int        `json:"last_status_code,omitempty"`
	Error          string     `json:"error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// ParsedProfile is the transient result of a parse strategy. Empty
// fields mean the extractor found nothing; the processor decides what
// that implies.
type ParsedProfile struct {
	SourceURL   string             `json:"source_url"`
	Username    string             `json:"username,omitempty"`
	DisplayName string             `json:"display_name,omitempty"`
	Bio         string             `json:"bio,omitempty"`
	AvatarURL   string             `json:"avatar_url,omitempty"`
	CoverURL    string             `json:"cover_url,omitempty"`
	PublicStats map[string]float64 `json:"public_stats,omitempty"`
	Links       []string           `json:"links,omitempty"`
}

// Empty reports whether no descriptive field was extracted.
func (p ParsedProfile) Empty() bool {
	return p.DisplayName == "" && p.Bio == "" && p.AvatarURL == ""
}

// Profile is the persisted record keyed by source URL. Profiles
// outlive the jobs that discovered them.
type Profile struct {
	SourceURL       string             `json:"source_url"`
	Username        string             `json:"username,omitempty"`
	DisplayName     string             `json:"display_name,omitempty"`
	Bio             string             `json:"bio,omitempty"`
	AvatarURL       string             `json:"avatar_url,omitempty"`
	CoverURL        string             `json:"cover_url,omitempty"`
	PublicStats     map[string]float64 `json:"public_stats,omitempty"`
	Links           []string           `json:"links,omitempty"`
	RawHTMLChecksum string             `json:"raw_html_checksum"`
	ScrapedAt       time.Time          `json:"scraped_at"`
}

// FetchResult is returned by a fetch strategy. A nil HTML slice
// signals total fetch failure.
type FetchResult struct {
	HTML         []byte
	FinalURL     string
	StatusCode   int
	Headers      http.Header
	Duration     time.Duration
	UsedHeadless bool
}

// Fetched reports whether the fetch produced a usable 200 document.
func (r FetchResult) Fetched() bool {
	return r.StatusCode == http.StatusOK && len(r.HTML) > 0
}

// QueueItem references a job ready to run. Delivery is at-least-once;
// item processing is idempotent so redundant deliveries are harmless.
type QueueItem struct {
	JobID     string      `json:"job_id"`
	Priority  JobPriority `json:"priority"`
	Attempt   int         `json:"attempt"`
	Submitted int64       `json:"submitted"`
}
