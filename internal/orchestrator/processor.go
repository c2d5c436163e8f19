// Package orchestrator runs crawl jobs: it fans items out to the
// fetch/parse pipeline under bounded concurrency and derives the
// final job status from the item outcomes.
package orchestrator

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/meridianlab/profile-crawler/internal/crawler"
	"github.com/meridianlab/profile-crawler/internal/fetch"
	"github.com/meridianlab/profile-crawler/internal/metrics"
	"github.com/meridianlab/profile-crawler/internal/parse"
	"github.com/meridianlab/profile-crawler/internal/retry"
)

// ProcessorDeps wires the collaborators of the per-item pipeline.
// Blobs is optional; everything else is required.
type ProcessorDeps struct {
	Fetchers *fetch.Registry
	Parsers  *parse.Registry
	Detector crawler.Detector
	Retrier  *retry.Executor
	Jobs     crawler.JobStore
	Profiles crawler.ProfileStore
	Blobs    crawler.BlobStore
	Hasher   crawler.Hasher
	Clock    crawler.Clock
	Logger   *zap.Logger
}

// Processor runs a single job item through fetch, parse, escalation
// and persistence. Each item receives exactly one terminal status
// write; a panic inside the pipeline becomes an error status rather
// than taking the job down.
type Processor struct {
	deps ProcessorDeps
	// renderName is the strategy promoted to when the detector fires.
	renderName string
}

// NewProcessor builds a Processor.
func NewProcessor(deps ProcessorDeps) *Processor {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Processor{deps: deps, renderName: fetch.RenderStrategyName}
}

// ProcessItem runs the item pipeline and persists the terminal status.
// The returned status is what was written.
func (p *Processor) ProcessItem(ctx context.Context, item crawler.JobItem) crawler.ItemStatus {
	status, code, errText := p.runItem(ctx, item)

	if err := p.deps.Jobs.UpdateItemStatus(ctx, item.ID, status, code, errText); err != nil {
		p.deps.Logger.Error("persist item status",
			zap.String("item_id", item.ID),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
	metrics.IncItem(string(status))
	return status
}

func (p *Processor) runItem(ctx context.Context, item crawler.JobItem) (status crawler.ItemStatus, code int, errText string) {
	defer func() {
		if r := recover(); r != nil {
			p.deps.Logger.Error("item pipeline panicked",
				zap.String("item_id", item.ID),
				zap.String("url", item.URL),
				zap.Any("panic", r),
			)
			status, code, errText = crawler.ItemStatusError, 0, fmt.Sprintf("panic: %v", r)
		}
	}()

	logger := p.deps.Logger.With(
		zap.String("item_id", item.ID),
		zap.String("url", item.URL),
	)

	strategy := p.deps.Fetchers.Select(item.URL)
	if strategy == nil {
		return crawler.ItemStatusError, 0, "no fetch strategy supports url"
	}

	attempts := item.Attempts
	defer func() {
		if attempts == item.Attempts {
			return
		}
		if err := p.deps.Jobs.UpdateItemAttempts(ctx, item.ID, attempts); err != nil {
			logger.Warn("persist item attempts", zap.Error(err))
		}
	}()

	result, err := p.fetchWithRetry(ctx, strategy, item.URL, &attempts)
	if err != nil {
		code = crawler.StatusCodeOf(err)
		if crawler.IsBlocked(err) {
			metrics.IncBlockedFetch(hostOf(item.URL))
			logger.Warn("fetch blocked", zap.Int("status_code", code))
			return crawler.ItemStatusBlocked, code, err.Error()
		}
		logger.Warn("fetch failed", zap.Int("status_code", code), zap.Error(err))
		return crawler.ItemStatusError, code, err.Error()
	}

	parser := p.deps.Parsers.Select(item.URL)
	if parser == nil {
		return crawler.ItemStatusError, result.StatusCode, "no parse strategy supports url"
	}

	profile, err := parser.Parse(result.HTML, item.URL)
	if err != nil {
		logger.Warn("parse failed", zap.String("strategy", parser.Name()), zap.Error(err))
		return crawler.ItemStatusError, result.StatusCode, err.Error()
	}

	if p.shouldEscalate(result, profile, strategy) {
		metrics.IncEscalation()
		logger.Info("escalating to rendering strategy")
		result, profile = p.renderPass(ctx, item.URL, parser, result, profile, &attempts, logger)
	}

	checksum, err := p.deps.Hasher.Hash(result.HTML)
	if err != nil {
		return crawler.ItemStatusError, result.StatusCode, fmt.Sprintf("checksum: %v", err)
	}

	p.archiveRawHTML(ctx, checksum, result.HTML, logger)

	record := crawler.Profile{
		SourceURL:       item.URL,
		Username:        profile.Username,
		DisplayName:     profile.DisplayName,
		Bio:             profile.Bio,
		AvatarURL:       profile.AvatarURL,
		CoverURL:        profile.CoverURL,
		PublicStats:     profile.PublicStats,
		Links:           profile.Links,
		RawHTMLChecksum: checksum,
		ScrapedAt:       p.deps.Clock.Now(),
	}
	if err := p.deps.Profiles.UpsertBySourceURL(ctx, record); err != nil {
		return crawler.ItemStatusError, result.StatusCode, fmt.Sprintf("store profile: %v", err)
	}

	logger.Info("item processed",
		zap.String("fetch_strategy", strategy.Name()),
		zap.Bool("headless", result.UsedHeadless),
		zap.Int("html_bytes", len(result.HTML)),
	)
	return crawler.ItemStatusOK, result.StatusCode, ""
}

// fetchWithRetry runs one fetch under the retry policy. A reply with a
// non-200 status is returned as a classified error so blocked and
// client-error responses stop immediately while server errors retry.
func (p *Processor) fetchWithRetry(ctx context.Context, strategy crawler.FetchStrategy, rawURL string, attempts *int) (crawler.FetchResult, error) {
	var result crawler.FetchResult
	_, err := p.deps.Retrier.DoWith(ctx, func(ctx context.Context) error {
		res, ferr := strategy.Fetch(ctx, rawURL)
		if ferr != nil {
			return ferr
		}
		result = res
		if res.StatusCode != http.StatusOK {
			kind := crawler.ClassifyStatusCode(res.StatusCode)
			return crawler.NewError(kind, res.StatusCode, fmt.Sprintf("unexpected status %d", res.StatusCode), nil)
		}
		if crawler.HasBlockSignature(res.HTML) {
			return crawler.NewError(crawler.KindBlocked, res.StatusCode, "block page detected", nil)
		}
		return nil
	}, retry.Options{OnAttempt: func(n int) {
		*attempts++
		if n > 1 {
			metrics.IncRetryAttempt()
		}
	}})
	return result, err
}

func (p *Processor) shouldEscalate(result crawler.FetchResult, profile crawler.ParsedProfile, used crawler.FetchStrategy) bool {
	if p.deps.Detector == nil || result.UsedHeadless {
		return false
	}
	if used.Name() == p.renderName {
		return false
	}
	if p.deps.Fetchers.ByName(p.renderName) == nil {
		return false
	}
	return p.deps.Detector.ShouldEscalate(result, &profile)
}

// renderPass re-fetches with the rendering strategy and re-parses. On
// any failure the first pass result is kept, so a broken renderer can
// only ever degrade a page back to what the probe saw.
func (p *Processor) renderPass(ctx context.Context, rawURL string, parser crawler.ParseStrategy, first crawler.FetchResult, firstProfile crawler.ParsedProfile, attempts *int, logger *zap.Logger) (crawler.FetchResult, crawler.ParsedProfile) {
	render := p.deps.Fetchers.ByName(p.renderName)
	rendered, err := p.fetchWithRetry(ctx, render, rawURL, attempts)
	if err != nil {
		logger.Warn("render pass failed, keeping probe result", zap.Error(err))
		return first, firstProfile
	}

	profile, err := parser.Parse(rendered.HTML, rawURL)
	if err != nil {
		logger.Warn("render pass parse failed, keeping probe result", zap.Error(err))
		return first, firstProfile
	}
	return rendered, profile
}

func (p *Processor) archiveRawHTML(ctx context.Context, checksum string, html []byte, logger *zap.Logger) {
	if p.deps.Blobs == nil {
		return
	}
	uri, err := p.deps.Blobs.Put(ctx, rawHTMLPath(checksum), "text/html; charset=utf-8", html)
	if err != nil {
		// Archival is best effort; the profile write decides the item.
		logger.Warn("archive raw html", zap.Error(err))
		return
	}
	logger.Debug("raw html archived", zap.String("uri", uri))
}

func rawHTMLPath(checksum string) string {
	if len(checksum) < 2 {
		return "raw/" + checksum + ".html"
	}
	return "raw/" + checksum[:2] + "/" + checksum + ".html"
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return rawURL
	}
	return u.Hostname()
}
