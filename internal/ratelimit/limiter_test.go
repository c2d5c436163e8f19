package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHostLimiter_SecondCallDelayed(t *testing.T) {
	t.Parallel()

	interval := 200 * time.Millisecond
	l := New(interval, nil)
	ctx := context.Background()

	require.NoError(t, l.WaitForHost(ctx, "https://example.com/profile/a"))
	start := time.Now()
	require.NoError(t, l.WaitForHost(ctx, "https://example.com/profile/b"))
	elapsed := time.Since(start)

	// The second call targets the same host within the interval window
	// and must observe at least the remaining delta.
	require.GreaterOrEqual(t, elapsed, interval/2)
}

func TestHostLimiter_DifferentHostsDoNotBlock(t *testing.T) {
	t.Parallel()

	l := New(time.Second, nil)
	ctx := context.Background()

	require.NoError(t, l.WaitForHost(ctx, "https://a.example.com/x"))
	start := time.Now()
	require.NoError(t, l.WaitForHost(ctx, "https://b.example.com/y"))
	require.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestHostLimiter_SerializesConcurrentCallers(t *testing.T) {
	t.Parallel()

	interval := 50 * time.Millisecond
	l := New(interval, nil)
	ctx := context.Background()

	const callers = 4
	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, l.WaitForHost(ctx, "https://example.com/"))
		}()
	}
	wg.Wait()

	// Four permits for one host need at least three full intervals.
	require.GreaterOrEqual(t, time.Since(start), 3*interval)
}

func TestHostLimiter_MalformedURLFallsBackToRawKey(t *testing.T) {
	t.Parallel()

	require.Equal(t, "::bad::url", hostKey("::bad::url"))
	require.Equal(t, "example.com", hostKey("https://example.com/p?q=1"))

	l := New(100*time.Millisecond, nil)
	ctx := context.Background()
	require.NoError(t, l.WaitForHost(ctx, "::bad::url"))
	start := time.Now()
	require.NoError(t, l.WaitForHost(ctx, "::bad::url"))
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestHostLimiter_ContextCancelUnblocks(t *testing.T) {
	t.Parallel()

	l := New(time.Hour, nil)
	require.NoError(t, l.WaitForHost(context.Background(), "https://slow.example.com/"))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := l.WaitForHost(ctx, "https://slow.example.com/")
	require.Error(t, err)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHostLimiter_CleanupSkipsBusyEntryAndStaysResponsive(t *testing.T) {
	t.Parallel()

	interval := 400 * time.Millisecond
	l := New(interval, nil)
	ctx := context.Background()

	require.NoError(t, l.WaitForHost(ctx, "https://a.example.com/x"))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		// Sleeps close to a full interval holding a.example.com's entry.
		require.NoError(t, l.WaitForHost(ctx, "https://a.example.com/y"))
	}()
	time.Sleep(50 * time.Millisecond)

	cleanupDone := make(chan struct{})
	go func() {
		l.Cleanup()
		close(cleanupDone)
	}()

	// Neither Cleanup nor an unrelated host may wait out the sleeper.
	start := time.Now()
	require.NoError(t, l.WaitForHost(ctx, "https://b.example.com/z"))
	require.Less(t, time.Since(start), 100*time.Millisecond)

	select {
	case <-cleanupDone:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Cleanup blocked behind a sleeping waiter")
	}
	wg.Wait()
}

func TestHostLimiter_CleanupEvictsStaleHosts(t *testing.T) {
	t.Parallel()

	l := New(time.Millisecond, nil)
	ctx := context.Background()
	require.NoError(t, l.WaitForHost(ctx, "https://old.example.com/"))
	require.NoError(t, l.WaitForHost(ctx, "https://fresh.example.com/"))

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, l.WaitForHost(ctx, "https://fresh.example.com/"))
	l.Cleanup()

	l.mu.Lock()
	_, oldKept := l.hosts["old.example.com"]
	_, freshKept := l.hosts["fresh.example.com"]
	l.mu.Unlock()
	require.False(t, oldKept)
	require.True(t, freshKept)
}
