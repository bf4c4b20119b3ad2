// Package server provides the local HTTP control API for the bridge.
//
// It handles all HTTP concerns:
//
//   - Control: "/api/session" (POST to start, DELETE to stop) and
//     "/api/formatting" (PUT) for whatever UI drives the bridge
//   - REST API: JSON snapshot at "/api/status"
//   - Server-Sent Events: Real-time monitor events at "/api/events"
//   - Metrics: Prometheus exposition at "/metrics"
//
// The server supports graceful shutdown via context cancellation, with a
// 5-second timeout for in-flight requests.
package server
