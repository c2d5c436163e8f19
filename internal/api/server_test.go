package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/meridianlab/profile-crawler/internal/crawler"
	"github.com/meridianlab/profile-crawler/internal/dispatcher"
	"github.com/meridianlab/profile-crawler/internal/id/uuid"
	queuemem "github.com/meridianlab/profile-crawler/internal/queue/memory"
	"github.com/meridianlab/profile-crawler/internal/storage/memory"
)

type fixedClock struct{ now time.Time }

func (c *fixedClock) Now() time.Time { return c.now }

type noopRunner struct{}

func (noopRunner) Run(context.Context, string) error { return nil }

type testServer struct {
	server   *Server
	jobs     *memory.JobStore
	profiles *memory.ProfileStore
	queue    *queuemem.Queue
	clock    *fixedClock
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	clock := &fixedClock{now: time.Unix(1700000000, 0).UTC()}
	jobs := memory.NewJobStore(clock)
	profiles := memory.NewProfileStore()
	queue := queuemem.NewQueue(16)
	dispatch := dispatcher.New(queue, noopRunner{}, 1, zap.NewNop())

	server := NewServer(jobs, profiles, dispatch, uuid.New(), clock, zap.NewNop())
	return &testServer{server: server, jobs: jobs, profiles: profiles, queue: queue, clock: clock}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestSubmitJobAcceptsAndEnqueues(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/v1/jobs", submitJobRequest{
		URLs:     []string{"https://a.example.com/u", "https://b.example.com/u"},
		Priority: "high",
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp submitJobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.JobID)
	assert.Equal(t, crawler.JobStatusQueued, resp.Status)
	assert.Equal(t, crawler.PriorityHigh, resp.Priority)
	assert.Equal(t, 2, resp.Total)

	job, err := ts.jobs.GetJob(context.Background(), resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, crawler.JobStatusQueued, job.Status)

	items, err := ts.jobs.ListItems(context.Background(), resp.JobID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, crawler.ItemStatusPending, items[0].Status)

	queued, err := ts.queue.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, resp.JobID, queued.JobID)
	assert.Equal(t, crawler.PriorityHigh, queued.Priority)
}

func TestSubmitJobDefaultsPriority(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/v1/jobs", submitJobRequest{
		URLs: []string{"https://a.example.com/u"},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp submitJobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, crawler.PriorityNormal, resp.Priority)
}

func TestSubmitJobValidation(t *testing.T) {
	manyURLs := make([]string, maxJobURLs+1)
	for i := range manyURLs {
		manyURLs[i] = fmt.Sprintf("https://example.com/u%d", i)
	}

	tests := []struct {
		name string
		req  submitJobRequest
	}{
		{"no urls", submitJobRequest{URLs: nil}},
		{"too many urls", submitJobRequest{URLs: manyURLs}},
		{"bad scheme", submitJobRequest{URLs: []string{"ftp://example.com/u"}}},
		{"relative url", submitJobRequest{URLs: []string{"/just/a/path"}}},
		{"bad priority", submitJobRequest{URLs: []string{"https://example.com/u"}, Priority: "urgent"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t)
			rec := ts.do(t, http.MethodPost, "/v1/jobs", tc.req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestSubmitJobRejectsInvalidJSON(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetJobWithCounts(t *testing.T) {
	ts := newTestServer(t)
	job := crawler.Job{ID: "job-1", Status: crawler.JobStatusPartial, Priority: crawler.PriorityNormal, Total: 2, Processed: 1, Failed: 1}
	items := []crawler.JobItem{
		{ID: "item-1", JobID: job.ID, URL: "https://a.example.com/u", Status: crawler.ItemStatusOK},
		{ID: "item-2", JobID: job.ID, URL: "https://b.example.com/u", Status: crawler.ItemStatusBlocked},
	}
	require.NoError(t, ts.jobs.CreateJob(context.Background(), job, items))

	rec := ts.do(t, http.MethodGet, "/v1/jobs/job-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp jobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, crawler.JobStatusPartial, resp.Job.Status)
	assert.Equal(t, 1, resp.Counts.OK)
	assert.Equal(t, 1, resp.Counts.Blocked)
	assert.InDelta(t, 50.0, resp.SuccessRate, 0.001)
}

func TestGetJobNotFound(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/v1/jobs/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListJobItems(t *testing.T) {
	ts := newTestServer(t)
	job := crawler.Job{ID: "job-1", Status: crawler.JobStatusRunning, Priority: crawler.PriorityNormal, Total: 1}
	items := []crawler.JobItem{
		{ID: "item-1", JobID: job.ID, URL: "https://a.example.com/u", Status: crawler.ItemStatusPending},
	}
	require.NoError(t, ts.jobs.CreateJob(context.Background(), job, items))

	rec := ts.do(t, http.MethodGet, "/v1/jobs/job-1/items", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Items []crawler.JobItem `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "https://a.example.com/u", resp.Items[0].URL)
}

func TestGetProfile(t *testing.T) {
	ts := newTestServer(t)
	profile := crawler.Profile{
		SourceURL:       "https://site.com/jane",
		DisplayName:     "Jane Doe",
		RawHTMLChecksum: "abc",
		ScrapedAt:       ts.clock.now,
	}
	require.NoError(t, ts.profiles.UpsertBySourceURL(context.Background(), profile))

	rec := ts.do(t, http.MethodGet, "/v1/profiles?source_url="+url.QueryEscape(profile.SourceURL), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Profile crawler.Profile `json:"profile"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Jane Doe", resp.Profile.DisplayName)
}

func TestGetProfileMissingParam(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/v1/profiles", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetProfileNotFound(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/v1/profiles?source_url=https%3A%2F%2Fnowhere.example.com", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/healthz", nil).Code)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/readyz", nil).Code)
}

func TestRequestIDHeader(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/healthz", nil)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
