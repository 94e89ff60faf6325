// Package api implements the coordinator's read-only status API.
//
// It serves a small chi router on the local interface:
//   - GET /api/v1/health: liveness plus broker and stream counters
//   - GET /api/v1/door: the coordinator's current snapshot
//   - GET /api/v1/events: recent audit log entries, newest first
//   - GET /api/v1/ws: live WebSocket stream of bus traffic
//
// The stream is fed by MQTT subscriptions to the device's own topics, so
// a wall panel sees exactly what any other bus consumer sees. Nothing in
// this package writes: commands go over MQTT, not HTTP.
//
// # Security
//
// Access control is a single static bearer token, enforced on every
// route when configured. WebSocket clients may pass it as a `token`
// query parameter because browsers cannot set headers on an upgrade
// request. The listener binds localhost by default; exposing it wider
// is a deployment decision, not a package default.
package api
