// Package dispatcher manages worker fan-out over the job queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/meridianlab/profile-crawler/internal/crawler"
)

// DefaultWorkers is the number of concurrent job runners.
const DefaultWorkers = 2

// JobRunner executes one job to completion. Satisfied by the
// orchestrator.
type JobRunner interface {
	Run(ctx context.Context, jobID string) error
}

// Dispatcher drains the job queue with a pool of workers.
type Dispatcher struct {
	queue   crawler.Queue
	runner  JobRunner
	workers int
	logger  *zap.Logger
}

// New creates a Dispatcher.
func New(queue crawler.Queue, runner JobRunner, workers int, logger *zap.Logger) *Dispatcher {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:   queue,
		runner:  runner,
		workers: workers,
		logger:  logger,
	}
}

// Run starts all workers and blocks until they stop. Workers stop on
// context cancellation or when the queue reports closed.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := range d.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.work(ctx, i)
		}()
	}
	wg.Wait()
}

func (d *Dispatcher) work(ctx context.Context, id int) {
	logger := d.logger.With(zap.Int("worker", id))
	logger.Debug("worker started")
	for {
		item, err := d.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() == nil {
				logger.Info("queue drained, worker stopping", zap.Error(err))
			}
			return
		}

		logger.Info("job dequeued",
			zap.String("job_id", item.JobID),
			zap.String("priority", string(item.Priority)),
		)
		if err := d.runner.Run(ctx, item.JobID); err != nil {
			logger.Error("job run failed",
				zap.String("job_id", item.JobID),
				zap.Error(err),
			)
		}
	}
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
