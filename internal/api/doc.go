// Package api hosts the HTTP server, middleware, and REST handlers for job
// control. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/harvests to start a harvest, POST /v1/harvests/{job_id}/stop and
//     POST /v1/harvests/stop to stop one or all harvests.
//   - GET /v1/harvests/{job_id} for job status and counters.
//   - GET /v1/subjects/{subject_id}/reviews for the stored record set.
package api
