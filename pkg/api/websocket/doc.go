// Package websocket provides real-time run event streaming via WebSocket.
//
// Clients connect to /api/v1/runs/:id/stream and receive the lifecycle and
// emitted events of that run as JSON text frames until the run finishes.
package websocket
