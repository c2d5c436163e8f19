package dispatcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/meridianlab/profile-crawler/internal/crawler"
	"github.com/meridianlab/profile-crawler/internal/queue/memory"
)

type recordingRunner struct {
	mu   sync.Mutex
	runs []string
	done chan struct{}
	want int
}

func newRecordingRunner(want int) *recordingRunner {
	return &recordingRunner{done: make(chan struct{}), want: want}
}

func (r *recordingRunner) Run(_ context.Context, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, jobID)
	if len(r.runs) == r.want {
		close(r.done)
	}
	return nil
}

func (r *recordingRunner) jobs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.runs...)
}

func TestDispatcherRunsQueuedJobs(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(4)
	runner := newRecordingRunner(2)
	d := New(q, runner, 2, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, d.Enqueue(ctx, crawler.QueueItem{JobID: "job-1"}))
	require.NoError(t, d.Enqueue(ctx, crawler.QueueItem{JobID: "job-2"}))

	finished := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(finished)
	}()

	select {
	case <-runner.done:
	case <-time.After(time.Second):
		t.Fatal("jobs were not run")
	}
	assert.ElementsMatch(t, []string{"job-1", "job-2"}, runner.jobs())

	cancel()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop on cancel")
	}
}

func TestDispatcherStopsWhenQueueCloses(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(1)
	runner := newRecordingRunner(1)
	d := New(q, runner, 1, zap.NewNop())

	require.NoError(t, d.Enqueue(context.Background(), crawler.QueueItem{JobID: "job-1"}))
	q.Close()

	finished := make(chan struct{})
	go func() {
		d.Run(context.Background())
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after queue close")
	}
	assert.Equal(t, []string{"job-1"}, runner.jobs())
}
