// Package memory provides in-memory store implementations used by
// tests and single-process deployments.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/meridianlab/profile-crawler/internal/crawler"
)

// JobStore keeps jobs and items in process memory. Safe for
// concurrent use.
type JobStore struct {
	mu    sync.RWMutex
	jobs  map[string]crawler.Job
	items map[string]crawler.JobItem
	// order preserves item insertion order per job for ListItems.
	order map[string][]string
	clock crawler.Clock
}

// NewJobStore builds an empty JobStore.
func NewJobStore(clock crawler.Clock) *JobStore {
	return &JobStore{
		jobs:  make(map[string]crawler.Job),
		items: make(map[string]crawler.JobItem),
		order: make(map[string][]string),
		clock: clock,
	}
}

// CreateJob stores the job and its items atomically.
func (s *JobStore) CreateJob(_ context.Context, job crawler.Job, items []crawler.JobItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	s.jobs[job.ID] = job
	for _, item := range items {
		s.items[item.ID] = item
		s.order[job.ID] = append(s.order[job.ID], item.ID)
	}
	return nil
}

// GetJob returns the job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (crawler.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return crawler.Job{}, crawler.ErrNotFound
	}
	return job, nil
}

// UpdateJobStatus writes the job status and bumps UpdatedAt.
func (s *JobStore) UpdateJobStatus(_ context.Context, jobID string, status crawler.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return crawler.ErrNotFound
	}
	job.Status = status
	job.UpdatedAt = s.clock.Now()
	s.jobs[jobID] = job
	return nil
}

// UpdateJobProgress writes the processed/failed counters.
func (s *JobStore) UpdateJobProgress(_ context.Context, jobID string, processed, failed int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return crawler.ErrNotFound
	}
	job.Processed = processed
	job.Failed = failed
	job.UpdatedAt = s.clock.Now()
	s.jobs[jobID] = job
	return nil
}

// ListItems returns the job's items in insertion order.
func (s *JobStore) ListItems(_ context.Context, jobID string) ([]crawler.JobItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.jobs[jobID]; !ok {
		return nil, crawler.ErrNotFound
	}
	ids := s.order[jobID]
	items := make([]crawler.JobItem, 0, len(ids))
	for _, id := range ids {
		items = append(items, s.items[id])
	}
	return items, nil
}

// UpdateItemStatus writes the item's terminal status, last status code
// and error text in one step.
func (s *JobStore) UpdateItemStatus(_ context.Context, itemID string, status crawler.ItemStatus, statusCode int, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[itemID]
	if !ok {
		return crawler.ErrNotFound
	}
	item.Status = status
	item.LastStatusCode = statusCode
	item.Error = errText
	item.UpdatedAt = s.clock.Now()
	s.items[itemID] = item
	return nil
}

// UpdateItemAttempts writes the item's accumulated attempt count.
func (s *JobStore) UpdateItemAttempts(_ context.Context, itemID string, attempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[itemID]
	if !ok {
		return crawler.ErrNotFound
	}
	item.Attempts = attempts
	item.UpdatedAt = s.clock.Now()
	s.items[itemID] = item
	return nil
}

// CountItemsByStatus tallies the job's items by status.
func (s *JobStore) CountItemsByStatus(_ context.Context, jobID string) (map[crawler.ItemStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.jobs[jobID]; !ok {
		return nil, crawler.ErrNotFound
	}
	counts := make(map[crawler.ItemStatus]int)
	for _, id := range s.order[jobID] {
		counts[s.items[id].Status]++
	}
	return counts, nil
}
