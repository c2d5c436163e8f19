package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/meridianlab/profile-crawler/internal/crawler"
	"github.com/meridianlab/profile-crawler/internal/metrics"
	"github.com/meridianlab/profile-crawler/internal/ratelimit"
)

// HTTPStrategyName identifies the plain HTTP strategy in the registry.
const HTTPStrategyName = "http"

// DefaultUserAgent is sent when the config leaves the agent empty.
const DefaultUserAgent = "Mozilla/5.0 (compatible; ProfileCrawler/1.0)"

// HTTPConfig controls the plain HTTP strategy.
type HTTPConfig struct {
	UserAgent string
	Timeout   time.Duration
}

// HTTPStrategy fetches pages with a Colly collector. Priority 1; it
// matches any http(s) URL and is the probe pass for every item.
type HTTPStrategy struct {
	cfg           HTTPConfig
	limiter       *ratelimit.HostLimiter
	baseCollector *colly.Collector
	logger        *zap.Logger
}

// NewHTTPStrategy builds the strategy. The limiter is the process-wide
// per-host limiter shared with the rendering strategy.
func NewHTTPStrategy(cfg HTTPConfig, limiter *ratelimit.HostLimiter, logger *zap.Logger) *HTTPStrategy {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.WithTransport(newHTTPTransport())
	return &HTTPStrategy{
		cfg:           cfg,
		limiter:       limiter,
		baseCollector: c,
		logger:        logger,
	}
}

// Name implements crawler.FetchStrategy.
func (s *HTTPStrategy) Name() string { return HTTPStrategyName }

// Priority implements crawler.FetchStrategy.
func (s *HTTPStrategy) Priority() int { return 1 }

// Supports matches any http or https URL.
func (s *HTTPStrategy) Supports(url string) bool {
	return strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://")
}

// Fetch executes a single GET. Non-2xx responses are returned as a
// FetchResult for the caller to classify; transport failures return an
// error tagged as transport.
func (s *HTTPStrategy) Fetch(ctx context.Context, url string) (crawler.FetchResult, error) {
	if s.limiter != nil {
		if err := s.limiter.WaitForHost(ctx, url); err != nil {
			return crawler.FetchResult{}, err
		}
	}

	var (
		result   crawler.FetchResult
		respErr  error
		gotReply bool
	)
	start := time.Now()

	collector := s.baseCollector.Clone()
	collector.UserAgent = s.cfg.UserAgent
	collector.IgnoreRobotsTxt = true
	collector.SetRequestTimeout(s.cfg.Timeout)

	collector.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml")
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
	})
	collector.OnResponse(func(r *colly.Response) {
		gotReply = true
		result = crawler.FetchResult{
			HTML:       append([]byte(nil), r.Body...),
			FinalURL:   r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    headerClone(r.Headers),
			Duration:   time.Since(start),
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		respErr = err
		if r != nil && r.StatusCode > 0 {
			// An HTTP-level failure still carries a usable status for
			// classification (403 vs 5xx vs 4xx).
			gotReply = true
			result = crawler.FetchResult{
				HTML:       append([]byte(nil), r.Body...),
				FinalURL:   url,
				StatusCode: r.StatusCode,
				Headers:    headerClone(r.Headers),
				Duration:   time.Since(start),
			}
			if r.Request != nil && r.Request.URL != nil {
				result.FinalURL = r.Request.URL.String()
			}
		}
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	var visitErr error
	select {
	case <-ctx.Done():
		return crawler.FetchResult{}, crawler.NewError(crawler.KindTransport, 0, "fetch canceled", ctx.Err())
	case visitErr = <-done:
	}

	switch {
	case gotReply:
		// Colly reports non-2xx statuses through OnError; a result with
		// a live status code supersedes the synthesized error.
		metrics.ObserveFetchDuration(HTTPStrategyName, result.Duration)
		s.logger.Debug("http fetch finished",
			zap.String("url", url),
			zap.Int("status", result.StatusCode),
			zap.Int("bytes", len(result.HTML)),
		)
		return result, nil
	case respErr != nil:
		return crawler.FetchResult{}, classifyTransport(url, respErr)
	case visitErr != nil:
		return crawler.FetchResult{}, classifyTransport(url, visitErr)
	default:
		return crawler.FetchResult{}, crawler.NewError(crawler.KindTransport, 0,
			fmt.Sprintf("fetch %s: no response", url), nil)
	}
}

func classifyTransport(url string, err error) error {
	msg := fmt.Sprintf("fetch %s", url)
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return crawler.NewError(crawler.KindTransport, 0, msg+": timeout", err)
	}
	return crawler.NewError(crawler.KindTransport, 0, msg, err)
}

func headerClone(h *http.Header) http.Header {
	if h == nil {
		return http.Header{}
	}
	return h.Clone()
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
