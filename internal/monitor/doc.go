// Package monitor serves the connector's read-only HTTP surface.
//
// Endpoints:
//
//	GET /health     connector state and per-channel status (503 when failed or stopped)
//	GET /status     status sink snapshot
//	GET /metrics    Prometheus exposition
//	GET /ws/status  websocket: snapshot on connect, then one message per change
package monitor
