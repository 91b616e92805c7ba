// Package api hosts the status HTTP server. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/runs and /v1/runs/{run_id} for phase run history via the
//     store.RunRepository interface.
//   - GET /v1/ledger for the pending retry ledger.
package api
