package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridianlab/profile-crawler/internal/crawler"
)

func TestExecutor_SucceedsFirstAttempt(t *testing.T) {
	t.Parallel()

	e := NewExecutor(Options{MaxAttempts: 3, BaseDelay: time.Millisecond}, nil)
	calls := 0
	attempts, err := e.Do(context.Background(), func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, attempts)
	require.Equal(t, 1, calls)
}

func TestExecutor_RetriesServerErrors(t *testing.T) {
	t.Parallel()

	e := NewExecutor(Options{MaxAttempts: 3, BaseDelay: time.Millisecond}, nil)
	calls := 0
	attempts, err := e.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return crawler.NewError(crawler.KindServer, 503, "unavailable", nil)
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestExecutor_ExhaustsAttempts(t *testing.T) {
	t.Parallel()

	e := NewExecutor(Options{MaxAttempts: 3, BaseDelay: time.Millisecond}, nil)
	attempts, err := e.Do(context.Background(), func(context.Context) error {
		return crawler.NewError(crawler.KindServer, 503, "unavailable", nil)
	})
	require.Error(t, err)
	require.Equal(t, 3, attempts)
	require.Equal(t, crawler.KindServer, crawler.KindOf(err))
}

func TestExecutor_BlockedNeverRetried(t *testing.T) {
	t.Parallel()

	e := NewExecutor(Options{MaxAttempts: 5, BaseDelay: time.Millisecond}, nil)
	calls := 0
	attempts, err := e.Do(context.Background(), func(context.Context) error {
		calls++
		return crawler.NewError(crawler.KindBlocked, 403, "forbidden", nil)
	})
	require.Error(t, err)
	require.Equal(t, 1, attempts)
	require.Equal(t, 1, calls)
	require.True(t, crawler.IsBlocked(err))
}

func TestExecutor_ContentErrorNeverRetried(t *testing.T) {
	t.Parallel()

	e := NewExecutor(Options{MaxAttempts: 5, BaseDelay: time.Millisecond}, nil)
	attempts, err := e.Do(context.Background(), func(context.Context) error {
		return crawler.NewError(crawler.KindContent, 0, "parse failure", nil)
	})
	require.Error(t, err)
	require.Equal(t, 1, attempts)
}

func TestExecutor_BackoffStrictlyIncreasing(t *testing.T) {
	t.Parallel()

	base := 100 * time.Millisecond
	var prev time.Duration
	for attempt := 1; attempt <= 4; attempt++ {
		d := Backoff(base, 2, attempt)
		require.Greater(t, d, prev)
		prev = d
	}
	require.Equal(t, 100*time.Millisecond, Backoff(base, 2, 1))
	require.Equal(t, 200*time.Millisecond, Backoff(base, 2, 2))
	require.Equal(t, 400*time.Millisecond, Backoff(base, 2, 3))
}

func TestExecutor_ContextCancelStopsLoop(t *testing.T) {
	t.Parallel()

	e := NewExecutor(Options{MaxAttempts: 10, BaseDelay: time.Hour}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	attempts, err := e.Do(ctx, func(context.Context) error {
		calls++
		return crawler.NewError(crawler.KindTransport, 0, "timeout", nil)
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
	require.Equal(t, 1, attempts)
}

func TestExecutor_OnAttemptObservesEveryAttempt(t *testing.T) {
	t.Parallel()

	e := NewExecutor(Options{MaxAttempts: 3, BaseDelay: time.Millisecond}, nil)
	var seen []int
	_, err := e.DoWith(context.Background(), func(context.Context) error {
		return crawler.NewError(crawler.KindTransport, 0, "refused", nil)
	}, Options{OnAttempt: func(n int) { seen = append(seen, n) }})
	require.Error(t, err)
	require.Equal(t, []int{1, 2, 3}, seen)
}

func TestExecutor_CustomPredicate(t *testing.T) {
	t.Parallel()

	e := NewExecutor(Options{MaxAttempts: 4, BaseDelay: time.Millisecond}, nil)
	sentinel := errors.New("try twice only")
	attempts, err := e.DoWith(context.Background(), func(context.Context) error {
		return sentinel
	}, Options{ShouldRetry: func(_ error, attempt int) bool { return attempt < 2 }})
	require.ErrorIs(t, err, sentinel)
	require.Equal(t, 2, attempts)
}
