// Package hub fans live-feed events out to WebSocket subscribers,
// partitioned by domain with a wildcard group that sees everything.
// Slow consumers are evicted when their bounded queue overflows so one
// stalled connection cannot delay delivery to the rest.
package hub
