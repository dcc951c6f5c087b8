// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/runs/... for ingestion run submission, status and cancellation.
//   - POST /v1/scrape for scrape-only previews of a page range.
//   - /v1/skills/... for skill existence checks and upserts.
package api
