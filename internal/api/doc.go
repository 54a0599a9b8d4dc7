// Package api is the HTTP surface: the /api/v1 REST routes, the
// /ws/pulse WebSocket endpoints, /metrics, and the API-key middleware
// that guards them.
package api
