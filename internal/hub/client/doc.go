// Package client is a reconnecting consumer for the live-feed
// WebSocket. Reconnect policy lives in a pure state machine (Next) so
// backoff and give-up behavior are testable without a network.
package client
