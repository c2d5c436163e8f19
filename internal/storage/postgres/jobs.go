package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/meridianlab/profile-crawler/internal/crawler"
)

// JobStore persists jobs and items in Postgres.
type JobStore struct {
	pool  Pool
	clock crawler.Clock
}

// NewJobStore wraps an existing pool.
func NewJobStore(pool Pool, clock crawler.Clock) (*JobStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &JobStore{pool: pool, clock: clock}, nil
}

// Close releases the underlying pool.
func (s *JobStore) Close() {
	s.pool.Close()
}

// CreateJob inserts the job and its items in one transaction.
func (s *JobStore) CreateJob(ctx context.Context, job crawler.Job, items []crawler.JobItem) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create job: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO jobs (id, status, priority, total, processed, failed, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		job.ID, job.Status, job.Priority, job.Total, job.Processed, job.Failed, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}

	for _, item := range items {
		_, err = tx.Exec(ctx, `
			INSERT INTO job_items (id, job_id, url, status, attempts, last_status_code, error, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			item.ID, item.JobID, item.URL, item.Status, item.Attempts, item.LastStatusCode, item.Error, item.CreatedAt, item.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert job item: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit create job: %w", err)
	}
	return nil
}

// GetJob loads a job by ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (crawler.Job, error) {
	var job crawler.Job
	err := s.pool.QueryRow(ctx, `
		SELECT id, status, priority, total, processed, failed, created_at, updated_at
		FROM jobs WHERE id = $1`, jobID,
	).Scan(&job.ID, &job.Status, &job.Priority, &job.Total, &job.Processed, &job.Failed, &job.CreatedAt, &job.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Job{}, crawler.ErrNotFound
	}
	if err != nil {
		return crawler.Job{}, fmt.Errorf("select job: %w", err)
	}
	return job, nil
}

// UpdateJobStatus writes the job status.
func (s *JobStore) UpdateJobStatus(ctx context.Context, jobID string, status crawler.JobStatus) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = $1, updated_at = $2 WHERE id = $3`,
		status, s.clock.Now(), jobID,
	)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return crawler.ErrNotFound
	}
	return nil
}

// UpdateJobProgress writes the processed/failed counters.
func (s *JobStore) UpdateJobProgress(ctx context.Context, jobID string, processed, failed int) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET processed = $1, failed = $2, updated_at = $3 WHERE id = $4`,
		processed, failed, s.clock.Now(), jobID,
	)
	if err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return crawler.ErrNotFound
	}
	return nil
}

// ListItems returns the job's items in creation order.
func (s *JobStore) ListItems(ctx context.Context, jobID string) ([]crawler.JobItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, job_id, url, status, attempts, last_status_code, error, created_at, updated_at
		FROM job_items WHERE job_id = $1 ORDER BY created_at, id`, jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("select job items: %w", err)
	}
	defer rows.Close()

	var items []crawler.JobItem
	for rows.Next() {
		var item crawler.JobItem
		if err := rows.Scan(&item.ID, &item.JobID, &item.URL, &item.Status, &item.Attempts, &item.LastStatusCode, &item.Error, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan job item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job items: %w", err)
	}
	return items, nil
}

// UpdateItemStatus writes the item's terminal status, status code and
// error text in one statement.
func (s *JobStore) UpdateItemStatus(ctx context.Context, itemID string, status crawler.ItemStatus, statusCode int, errText string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE job_items SET status = $1, last_status_code = $2, error = $3, updated_at = $4 WHERE id = $5`,
		status, statusCode, errText, s.clock.Now(), itemID,
	)
	if err != nil {
		return fmt.Errorf("update item status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return crawler.ErrNotFound
	}
	return nil
}

// UpdateItemAttempts writes the item's attempt count.
func (s *JobStore) UpdateItemAttempts(ctx context.Context, itemID string, attempts int) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE job_items SET attempts = $1, updated_at = $2 WHERE id = $3`,
		attempts, s.clock.Now(), itemID,
	)
	if err != nil {
		return fmt.Errorf("update item attempts: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return crawler.ErrNotFound
	}
	return nil
}

// CountItemsByStatus tallies the job's items by status.
func (s *JobStore) CountItemsByStatus(ctx context.Context, jobID string) (map[crawler.ItemStatus]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT status, COUNT(*) FROM job_items WHERE job_id = $1 GROUP BY status`, jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("count job items: %w", err)
	}
	defer rows.Close()

	counts := make(map[crawler.ItemStatus]int)
	for rows.Next() {
		var status crawler.ItemStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan item count: %w", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate item counts: %w", err)
	}
	return counts, nil
}
