package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/meridianlab/profile-crawler/internal/crawler"
	"github.com/meridianlab/profile-crawler/internal/metrics"
)

// DefaultConcurrency bounds how many items of a job run at once.
const DefaultConcurrency = 3

// Options configures a job run.
type Options struct {
	// Concurrency is the per-job item fan-out bound.
	Concurrency int
	// CompletionTopic, when set together with a Publisher, receives a
	// CompletionEvent after every finished job.
	CompletionTopic string
}

// CompletionEvent is published when a job reaches a terminal status.
type CompletionEvent struct {
	JobID       string               `json:"job_id"`
	Status      crawler.JobStatus    `json:"status"`
	Counts      crawler.StatusCounts `json:"counts"`
	SuccessRate float64              `json:"success_rate"`
	FinishedAt  int64                `json:"finished_at"`
}

// Orchestrator drives a job from running to its terminal status. Item
// failures never fail the run; only infrastructure errors (store
// access) do, and those mark the job failed.
type Orchestrator struct {
	jobs      crawler.JobStore
	processor *Processor
	publisher crawler.Publisher
	clock     crawler.Clock
	logger    *zap.Logger
	opts      Options
}

// New builds an Orchestrator. The publisher may be nil.
func New(jobs crawler.JobStore, processor *Processor, publisher crawler.Publisher, clock crawler.Clock, logger *zap.Logger, opts Options) *Orchestrator {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		jobs:      jobs,
		processor: processor,
		publisher: publisher,
		clock:     clock,
		logger:    logger,
		opts:      opts,
	}
}

// Run executes the job. Delivery is at-least-once, so a job already in
// a terminal status is acknowledged without reprocessing, and items
// that already carry a terminal status are counted but not re-run.
func (o *Orchestrator) Run(ctx context.Context, jobID string) error {
	logger := o.logger.With(zap.String("job_id", jobID))

	job, err := o.jobs.GetJob(ctx, jobID)
	if err != nil {
		// The queue message is already consumed, so a load failure must
		// still push the job to a terminal status.
		return o.fail(ctx, logger, jobID, fmt.Errorf("load job %s: %w", jobID, err))
	}
	if job.Status.Terminal() {
		logger.Info("job already terminal, skipping redelivery",
			zap.String("status", string(job.Status)))
		return nil
	}

	if err := o.jobs.UpdateJobStatus(ctx, jobID, crawler.JobStatusRunning); err != nil {
		return o.fail(ctx, logger, jobID, fmt.Errorf("mark job running: %w", err))
	}
	metrics.JobStarted()
	defer metrics.JobFinished()

	items, err := o.jobs.ListItems(ctx, jobID)
	if err != nil {
		return o.fail(ctx, logger, jobID, fmt.Errorf("list job items: %w", err))
	}
	logger.Info("job started",
		zap.Int("items", len(items)),
		zap.Int("concurrency", o.opts.Concurrency),
		zap.String("priority", string(job.Priority)),
	)

	var mu sync.Mutex
	var processed, failed int
	for _, item := range items {
		if !item.Status.Terminal() {
			continue
		}
		if item.Status == crawler.ItemStatusOK {
			processed++
		} else {
			failed++
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.Concurrency)
	for _, item := range items {
		if item.Status.Terminal() {
			continue
		}
		g.Go(func() error {
			status := o.processor.ProcessItem(gctx, item)

			// The store write stays under the counter lock so stored
			// progress never regresses behind a slower sibling writer.
			mu.Lock()
			if status == crawler.ItemStatusOK {
				processed++
			} else {
				failed++
			}
			if err := o.jobs.UpdateJobProgress(gctx, jobID, processed, failed); err != nil {
				logger.Warn("update job progress", zap.Error(err))
			}
			mu.Unlock()
			return nil
		})
	}
	// Workers return nil; item failures are statuses, not errors.
	_ = g.Wait()

	final, err := o.jobs.ListItems(ctx, jobID)
	if err != nil {
		return o.fail(ctx, logger, jobID, fmt.Errorf("list job items: %w", err))
	}

	counts := crawler.GetStatusCounts(final)
	status := crawler.CalculateStatus(final)
	if err := o.jobs.UpdateJobProgress(ctx, jobID, counts.OK, counts.Error+counts.Blocked); err != nil {
		logger.Warn("update final job progress", zap.Error(err))
	}
	if err := o.jobs.UpdateJobStatus(ctx, jobID, status); err != nil {
		return fmt.Errorf("finalize job %s: %w", jobID, err)
	}
	metrics.IncJob(string(status))

	rate := crawler.SuccessRate(final)
	logger.Info("job finished",
		zap.String("status", string(status)),
		zap.Int("ok", counts.OK),
		zap.Int("error", counts.Error),
		zap.Int("blocked", counts.Blocked),
		zap.Float64("success_rate", rate),
	)

	o.publishCompletion(ctx, logger, CompletionEvent{
		JobID:       jobID,
		Status:      status,
		Counts:      counts,
		SuccessRate: rate,
		FinishedAt:  o.clock.Now().Unix(),
	})
	return nil
}

// fail marks the job failed after an infrastructure error. The
// original error wins even when the failure write also errors.
func (o *Orchestrator) fail(ctx context.Context, logger *zap.Logger, jobID string, cause error) error {
	logger.Error("job failed", zap.Error(cause))
	if err := o.jobs.UpdateJobStatus(ctx, jobID, crawler.JobStatusFailed); err != nil {
		logger.Error("mark job failed", zap.Error(err))
	}
	metrics.IncJob(string(crawler.JobStatusFailed))
	return cause
}

func (o *Orchestrator) publishCompletion(ctx context.Context, logger *zap.Logger, event CompletionEvent) {
	if o.publisher == nil || o.opts.CompletionTopic == "" {
		return
	}
	id, err := o.publisher.Publish(ctx, o.opts.CompletionTopic, event)
	if err != nil {
		logger.Warn("publish completion event", zap.Error(err))
		return
	}
	logger.Debug("completion event published", zap.String("message_id", id))
}
