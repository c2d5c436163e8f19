package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/meridianlab/profile-crawler/internal/crawler"
	"github.com/meridianlab/profile-crawler/internal/metrics"
	"github.com/meridianlab/profile-crawler/internal/ratelimit"
)

// RenderStrategyName identifies the rendering strategy in the registry.
const RenderStrategyName = "render"

// jsHeavyDomains are preferred for the rendering strategy even on the
// first pass; their profile pages are empty shells without JavaScript.
var jsHeavyDomains = []string{
	"instagram.com",
	"twitter.com",
	"x.com",
	"facebook.com",
	"linkedin.com",
	"tiktok.com",
}

// RenderConfig controls the rendering strategy.
type RenderConfig struct {
	UserAgent         string
	NavigationTimeout time.Duration
	// MaxParallel bounds concurrent browser sessions process-wide,
	// independent of per-job item concurrency. Rendering is far more
	// expensive than a plain fetch.
	MaxParallel int64
}

// RenderStrategy fetches pages through headless Chrome via chromedp.
// Priority 5; it wins over the HTTP strategy for JS-heavy domains and
// is also invoked explicitly for escalation passes.
type RenderStrategy struct {
	cfg     RenderConfig
	limiter *ratelimit.HostLimiter
	slots   *semaphore.Weighted
	logger  *zap.Logger

	allocOnce   sync.Once
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewRenderStrategy builds the strategy. The browser allocator starts
// lazily on first fetch.
func NewRenderStrategy(cfg RenderConfig, limiter *ratelimit.HostLimiter, logger *zap.Logger) *RenderStrategy {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 2
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RenderStrategy{
		cfg:     cfg,
		limiter: limiter,
		slots:   semaphore.NewWeighted(cfg.MaxParallel),
		logger:  logger,
	}
}

// Name implements crawler.FetchStrategy.
func (s *RenderStrategy) Name() string { return RenderStrategyName }

// Priority implements crawler.FetchStrategy.
func (s *RenderStrategy) Priority() int { return 5 }

// Supports matches the fixed set of JS-heavy domains, including their
// subdomains.
func (s *RenderStrategy) Supports(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, domain := range jsHeavyDomains {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

// Close tears down the browser allocator.
func (s *RenderStrategy) Close() {
	if s.allocCancel != nil {
		s.allocCancel()
	}
}

// Fetch renders the page in headless Chrome and returns the final DOM.
func (s *RenderStrategy) Fetch(ctx context.Context, rawURL string) (crawler.FetchResult, error) {
	if s.limiter != nil {
		if err := s.limiter.WaitForHost(ctx, rawURL); err != nil {
			return crawler.FetchResult{}, err
		}
	}
	if err := s.slots.Acquire(ctx, 1); err != nil {
		return crawler.FetchResult{}, crawler.NewError(crawler.KindTransport, 0,
			"render slot wait canceled", err)
	}
	defer s.slots.Release(1)

	s.allocOnce.Do(s.startAllocator)

	taskCtx, taskCancel := chromedp.NewContext(s.allocator)
	defer taskCancel()
	taskCtx, cancel := context.WithTimeout(taskCtx, s.cfg.NavigationTimeout)
	defer cancel()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	start := time.Now()
	var (
		html     string
		finalURL string
	)
	actions := []chromedp.Action{
		s.networkSetupAction(),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return crawler.FetchResult{}, crawler.NewError(crawler.KindTransport, 0,
			fmt.Sprintf("render %s", rawURL), err)
	}

	status, headers, responseURL := meta.snapshotWithFallbacks(rawURL, finalURL)
	duration := time.Since(start)
	metrics.ObserveFetchDuration(RenderStrategyName, duration)
	s.logger.Debug("rendered fetch finished",
		zap.String("url", rawURL),
		zap.Int("status", status),
		zap.Int("bytes", len(html)),
	)

	return crawler.FetchResult{
		HTML:         []byte(html),
		FinalURL:     responseURL,
		StatusCode:   status,
		Headers:      headers,
		Duration:     duration,
		UsedHeadless: true,
	}, nil
}

func (s *RenderStrategy) startAllocator() {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	s.allocator, s.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
}

func (s *RenderStrategy) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if err := emulation.SetUserAgentOverride(s.cfg.UserAgent).Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		return nil
	})
}

// responseMeta captures the document response from CDP network events.
type responseMeta struct {
	mu      sync.RWMutex
	status  int
	headers http.Header
	url     string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{headers: http.Header{}}
}

func (m *responseMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range resp.Response.Headers {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []any:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	m.mu.Lock()
	m.status = int(resp.Response.Status)
	m.headers = headers
	m.url = resp.Response.URL
	m.mu.Unlock()
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, http.Header, string) {
	m.mu.RLock()
	status, headers, respURL := m.status, m.headers.Clone(), m.url
	m.mu.RUnlock()

	switch {
	case respURL != "":
	case finalURL != "":
		respURL = finalURL
	default:
		respURL = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	if headers == nil {
		headers = http.Header{}
	}
	return status, headers, respURL
}
