// Package api hosts the optional status server for a running crawl.
// Routes:
//   - GET /healthz and /readyz for liveness and readiness checks.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/progress for the live run snapshot.
//   - GET /v1/hosts and /v1/hosts/{host} for per-host politeness stats.
package api
