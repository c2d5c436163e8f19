// Package ratelimit enforces a per-host politeness interval for
// outbound requests.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/meridianlab/profile-crawler/internal/metrics"
)

// DefaultInterval is the minimum spacing between requests to one host.
const DefaultInterval = time.Second

// cleanupAge is how long an idle host entry survives, in intervals.
const cleanupAge = 10

// HostLimiter allows at most one request per interval per host. One
// instance is shared by all fetch strategies; it is constructed by the
// composition root and injected, never a package-level singleton.
type HostLimiter struct {
	interval time.Duration
	logger   *zap.Logger

	mu    sync.Mutex
	hosts map[string]*hostEntry
}

// hostEntry serializes scheduling decisions for one host. The
// per-entry mutex holds callers to the same host in line while leaving
// other hosts fully concurrent.
type hostEntry struct {
	mu   sync.Mutex
	last time.Time
}

// New constructs a HostLimiter. A non-positive interval falls back to
// DefaultInterval.
func New(interval time.Duration, logger *zap.Logger) *HostLimiter {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HostLimiter{
		interval: interval,
		logger:   logger,
		hosts:    make(map[string]*hostEntry),
	}
}

// WaitForHost blocks until the host behind rawURL may be contacted,
// then records the permit. Malformed URLs key on the raw string.
func (l *HostLimiter) WaitForHost(ctx context.Context, rawURL string) error {
	host := hostKey(rawURL)
	entry := l.entry(host)

	// The read-then-write on entry.last must be atomic per host: a
	// second caller for the same host waits here until the first has
	// recorded its permit.
	entry.mu.Lock()
	defer entry.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(entry.last)
	if wait := l.interval - elapsed; wait > 0 {
		l.logger.Debug("rate limiting host",
			zap.String("host", host),
			zap.Duration("wait", wait),
		)
		metrics.ObserveRateLimitDelay(host, wait)
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return fmt.Errorf("rate limit wait for %s: %w", host, ctx.Err())
		case <-timer.C:
		}
	}
	entry.last = time.Now()
	return nil
}

// Interval returns the configured politeness interval.
func (l *HostLimiter) Interval() time.Duration {
	return l.interval
}

func (l *HostLimiter) entry(host string) *hostEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.hosts[host]
	if !ok {
		e = &hostEntry{}
		l.hosts[host] = e
	}
	return e
}

// Cleanup evicts host entries idle for at least ten intervals so the
// table stays bounded in long-running processes.
func (l *HostLimiter) Cleanup() {
	cutoff := time.Now().Add(-l.interval * cleanupAge)
	l.mu.Lock()
	defer l.mu.Unlock()
	for host, entry := range l.hosts {
		// A held entry has a waiter inside its interval, so it cannot
		// be stale. TryLock keeps Cleanup from stalling the map lock
		// behind a sleeping waiter, which would block every other
		// host's lookup.
		if !entry.mu.TryLock() {
			continue
		}
		stale := entry.last.Before(cutoff)
		entry.mu.Unlock()
		if stale {
			delete(l.hosts, host)
		}
	}
}

// RunCleanup runs Cleanup on a ticker until the context finishes.
func (l *HostLimiter) RunCleanup(ctx context.Context) {
	ticker := time.NewTicker(l.interval * cleanupAge)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Cleanup()
		}
	}
}

func hostKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return rawURL
	}
	return u.Hostname()
}
