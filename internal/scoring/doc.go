// Package scoring implements the pure scoring math for pulsefeed:
// exponential freshness decay and the breaking-urgency score.
//
// Both entry points are deterministic and side-effect free. They take
// the reference time and "now" as explicit parameters so callers and
// tests control time; recomputing with the same inputs always yields
// the same result.
package scoring
