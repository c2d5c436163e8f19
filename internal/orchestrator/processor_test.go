package orchestrator

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianlab/profile-crawler/internal/crawler"
	"github.com/meridianlab/profile-crawler/internal/fetch"
)

const shellPage = `<html><head><title>Jane</title></head><body><div id="root"></div></body></html>`

func renderedResult() crawler.FetchResult {
	r := htmlResult(okPage("Jane Rendered"), http.StatusOK)
	r.UsedHeadless = true
	return r
}

func seedItem(t *testing.T, e *env, url string) crawler.JobItem {
	t.Helper()
	seedJob(t, e, url)
	items, err := e.jobs.ListItems(context.Background(), "job-1")
	require.NoError(t, err)
	return items[0]
}

func TestProcessItemEscalatesShellPage(t *testing.T) {
	probe := newStubFetcher("http", 1)
	probe.on("https://spa.example.com/u", func() (crawler.FetchResult, error) {
		return htmlResult([]byte(shellPage), http.StatusOK), nil
	})
	render := newStubFetcher(fetch.RenderStrategyName, 5)
	// Registered but only reachable through the escalation path.
	render.supports = func(string) bool { return false }
	render.on("https://spa.example.com/u", func() (crawler.FetchResult, error) {
		return renderedResult(), nil
	})

	e := newEnv(t, probe, render)
	item := seedItem(t, e, "https://spa.example.com/u")

	status := e.processor.ProcessItem(context.Background(), item)
	assert.Equal(t, crawler.ItemStatusOK, status)
	assert.Equal(t, 1, render.callCount(item.URL), "shell page must trigger a render pass")

	profile, err := e.profiles.GetBySourceURL(context.Background(), item.URL)
	require.NoError(t, err)
	assert.Equal(t, "Jane Rendered", profile.DisplayName)
}

func TestProcessItemKeepsProbeWhenRenderFails(t *testing.T) {
	probe := newStubFetcher("http", 1)
	probe.on("https://spa.example.com/u", func() (crawler.FetchResult, error) {
		return htmlResult([]byte(shellPage), http.StatusOK), nil
	})
	render := newStubFetcher(fetch.RenderStrategyName, 5)
	render.supports = func(string) bool { return false }
	render.on("https://spa.example.com/u", func() (crawler.FetchResult, error) {
		return crawler.FetchResult{}, crawler.NewError(crawler.KindTransport, 0, "browser crashed", nil)
	})

	e := newEnv(t, probe, render)
	item := seedItem(t, e, "https://spa.example.com/u")

	status := e.processor.ProcessItem(context.Background(), item)
	assert.Equal(t, crawler.ItemStatusOK, status, "failed render degrades to the probe result")

	profile, err := e.profiles.GetBySourceURL(context.Background(), item.URL)
	require.NoError(t, err)
	assert.Equal(t, "Jane", profile.DisplayName, "probe extraction survives the failed render")
}

func TestProcessItemNoEscalationWithoutRenderStrategy(t *testing.T) {
	probe := newStubFetcher("http", 1)
	probe.on("https://spa.example.com/u", func() (crawler.FetchResult, error) {
		return htmlResult([]byte(shellPage), http.StatusOK), nil
	})

	e := newEnv(t, probe)
	item := seedItem(t, e, "https://spa.example.com/u")

	status := e.processor.ProcessItem(context.Background(), item)
	assert.Equal(t, crawler.ItemStatusOK, status)
	assert.Equal(t, 1, probe.callCount(item.URL))
}

func TestProcessItemHealthyPageSkipsEscalation(t *testing.T) {
	probe := newStubFetcher("http", 1)
	probe.on("https://good.example.com/u", func() (crawler.FetchResult, error) {
		return htmlResult(okPage("Jane Doe"), http.StatusOK), nil
	})
	render := newStubFetcher(fetch.RenderStrategyName, 5)
	render.supports = func(string) bool { return false }

	e := newEnv(t, probe, render)
	item := seedItem(t, e, "https://good.example.com/u")

	status := e.processor.ProcessItem(context.Background(), item)
	assert.Equal(t, crawler.ItemStatusOK, status)
	assert.Equal(t, 0, render.callCount(item.URL))
}

func TestProcessItemBlockPageWithOKStatus(t *testing.T) {
	probe := newStubFetcher("http", 1)
	probe.on("https://wall.example.com/u", func() (crawler.FetchResult, error) {
		page := []byte(`<html><body><h1>Access Denied</h1><p>verify you are human</p></body></html>`)
		return htmlResult(page, http.StatusOK), nil
	})

	e := newEnv(t, probe)
	item := seedItem(t, e, "https://wall.example.com/u")

	status := e.processor.ProcessItem(context.Background(), item)
	assert.Equal(t, crawler.ItemStatusBlocked, status)
	assert.Equal(t, 1, probe.callCount(item.URL), "a block wall is terminal, never retried")

	_, err := e.profiles.GetBySourceURL(context.Background(), item.URL)
	assert.ErrorIs(t, err, crawler.ErrNotFound)
}

type recordingBlobStore struct {
	mu   sync.Mutex
	puts map[string][]byte
}

func (b *recordingBlobStore) Put(_ context.Context, path, _ string, data []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.puts == nil {
		b.puts = make(map[string][]byte)
	}
	b.puts[path] = data
	return "mem://" + path, nil
}

func TestProcessItemArchivesRawHTML(t *testing.T) {
	probe := newStubFetcher("http", 1)
	page := okPage("Jane Doe")
	probe.on("https://good.example.com/u", func() (crawler.FetchResult, error) {
		return htmlResult(page, http.StatusOK), nil
	})

	e := newEnv(t, probe)
	blobs := &recordingBlobStore{}
	e.processor.deps.Blobs = blobs
	item := seedItem(t, e, "https://good.example.com/u")

	status := e.processor.ProcessItem(context.Background(), item)
	require.Equal(t, crawler.ItemStatusOK, status)

	profile, err := e.profiles.GetBySourceURL(context.Background(), item.URL)
	require.NoError(t, err)

	path := rawHTMLPath(profile.RawHTMLChecksum)
	blobs.mu.Lock()
	defer blobs.mu.Unlock()
	assert.Equal(t, []byte(page), blobs.puts[path])
}

func TestProcessItemUpsertIsIdempotent(t *testing.T) {
	probe := newStubFetcher("http", 1)
	probe.on("https://good.example.com/u", func() (crawler.FetchResult, error) {
		return htmlResult(okPage("Jane Doe"), http.StatusOK), nil
	})

	e := newEnv(t, probe)
	item := seedItem(t, e, "https://good.example.com/u")

	require.Equal(t, crawler.ItemStatusOK, e.processor.ProcessItem(context.Background(), item))
	first, err := e.profiles.GetBySourceURL(context.Background(), item.URL)
	require.NoError(t, err)

	// Identical content on a later pass refreshes only the scrape time.
	e.clock.now = e.clock.now.Add(time.Hour)
	require.Equal(t, crawler.ItemStatusOK, e.processor.ProcessItem(context.Background(), item))

	second, err := e.profiles.GetBySourceURL(context.Background(), item.URL)
	require.NoError(t, err)
	assert.Equal(t, first.RawHTMLChecksum, second.RawHTMLChecksum)
	assert.Equal(t, first.DisplayName, second.DisplayName)
	assert.Equal(t, e.clock.now, second.ScrapedAt)
}

func TestRawHTMLPath(t *testing.T) {
	assert.Equal(t, "raw/ab/abcdef.html", rawHTMLPath("abcdef"))
	assert.Equal(t, "raw/x.html", rawHTMLPath("x"))
}
