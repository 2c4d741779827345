// Package api hosts the operator HTTP server. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/sources and /v1/sources/{subdomain} for crawl progress.
package api
