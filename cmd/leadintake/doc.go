// Package main hosts the lead intake service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes POST /submit-form plus health, readiness, and metrics endpoints.
//     Middleware assigns a request id, resolves the client address, logs, recovers panics, and records metrics.
//   - Intake pipeline: internal/intake.Service throttles by client address, decodes the submission variant,
//     verifies an optional reCAPTCHA token, validates required fields, and validates business phones (numverify
//     when configured, otherwise a 10-digit heuristic). Lookups are cached for 24h.
//   - Idempotency: each leadId is claimed in the ledger (Postgres when db.dsn is set, else in memory). A repeated
//     leadId gets the same 200 response without a second dispatch.
//   - Dispatch: business leads go to the primary webhook when dispatch.primary.enabled is set, falling back to the
//     CRM. Every lead is broadcast concurrently to the legacy webhook, the spreadsheet, the raw archive
//     (memory/local/GCS), the lead.captured event publisher (memory or Pub/Sub), and optionally the offline
//     conversion upload. Sink failures are logged and counted but never fail the request.
//
// Operational notes:
//   - Each sink delivery has its own timeout (dispatch.sink_timeout_seconds). Delivery runs detached from the
//     client connection, so a dropped client does not abort it; graceful shutdown waits for in-flight requests.
//   - Observability: zap logs carry request ids, lead ids, and sink names but not contact details. Prometheus
//     counters track submissions by outcome, throttle rejections, phone cache hits, and sink deliveries.
//
// Quick checklist:
//   - Configure env vars: INTAKE_SERVER_PORT or PORT, INTAKE_RECAPTCHA_SECRET_KEY, INTAKE_PHONE_API_KEY,
//     INTAKE_DISPATCH_PRIMARY_ENABLED/URL, INTAKE_DISPATCH_LEGACY_URL, INTAKE_CRM_API_KEY/LOCATION_ID,
//     INTAKE_SHEETS_CREDENTIALS_JSON plus spreadsheet ids, storage (INTAKE_STORAGE_*), pubsub, and INTAKE_DB_DSN.
//   - Run locally: go run ./cmd/leadintake -config config.yaml (or rely solely on env overrides).
package main
