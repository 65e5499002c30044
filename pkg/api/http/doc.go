// Package http provides the HTTP REST API implementation.
//
// The HTTP server exposes endpoints for:
//   - Listing the registered graphs
//   - Starting, inspecting and cancelling runs
//   - Injecting events and forcing join window timeouts
//   - Health checks
//   - Prometheus metrics
//
// Domain errors map to 400 (bad request body), 404 (unknown run, graph or group),
// 409 (run no longer active) and 422 (invalid graph, state or unhandled fault).
package http
