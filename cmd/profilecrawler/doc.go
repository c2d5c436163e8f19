// Package main hosts the profile crawler service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, and job management endpoints. Submitted URL lists
//     are validated, persisted as a job with pending items via the JobStore, and enqueued for the worker side.
//   - Dispatcher & queue: job references flow through a priority-aware queue (bounded in-memory channels or a
//     Pub/Sub topic) into a fixed worker pool sized by config.Crawler.Workers. Context cancellation stops
//     workers cleanly on shutdown.
//   - Fetch pipeline: the orchestrator fans each job's items out to the processor, which probes with the
//     Colly-based HTTP strategy, retries transport and server failures with exponential backoff, and escalates
//     to a headless Chromedp render pass when the heuristic detector flags a JS shell page.
//   - Persistence & fanout: parsed profiles are upserted into the configured store (memory/Postgres) behind a
//     raw-HTML checksum gate; raw HTML is archived to the configured blob store (memory/local/GCS) and a
//     completion event is published per finished job when a topic is configured.
//   - Configuration & plumbing: Viper populates config from env/files; zap provides structured logging;
//     Prometheus counters and histograms are exported on /metrics. A shared per-host rate limiter spaces
//     requests across both fetch strategies.
//
// Run locally: go run ./cmd/profilecrawler -config config.yaml (or rely solely on PROFILECRAWLER_* env
// overrides). The process listens on the configured port and drains cleanly on SIGINT/SIGTERM.
package main
