// Package api implements the HTTP REST API and WebSocket server for Keyrunner.
//
// This package provides:
//   - REST endpoints for plan CRUD, import and export
//   - Run control (start a stored plan, stop the active run) and run history
//   - WebSocket hub broadcasting run.started, run.progress and run.stopped
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Security
//
// There is no authentication. The server binds to 127.0.0.1 by default;
// anyone who can reach it can type on this machine.
//
// # Graceful Degradation
//
// The server operates without MQTT or InfluxDB. Both are reported in
// /api/v1/metrics when configured.
package api
