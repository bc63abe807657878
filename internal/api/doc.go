// Package api hosts the HTTP server for lead intake. Routes:
//   - POST /submit-form accepts property and business form submissions.
//   - GET /healthz and /readyz for liveness and readiness probes.
//   - GET /metrics for Prometheus scraping.
package api
