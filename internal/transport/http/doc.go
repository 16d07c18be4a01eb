// Package http implements the read-only monitoring surface that `rbi run
// --serve` exposes while a batch executes.
//
// # Routes
//
//	GET /healthz            liveness, version and active run count
//	GET /metrics            Prometheus scrape endpoint (when metrics are enabled)
//	GET /runs               batch jobs and live run snapshots
//	GET /runs/{id}          live snapshot plus the MANIFEST.json on disk
//	GET /runs/{id}/graph    stage graph replayed from disk, digests verified
//	GET /events             websocket stream of progress frames
//
// Handlers stay thin: they read from the job store, the status broadcaster
// and the artifact root, and never start or mutate runs. Errors are rendered
// with go-chi/render as errors.ErrorResponse bodies.
package http
