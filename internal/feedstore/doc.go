// Package feedstore is the persistence contract for pulsefeed: items
// with their triage verdicts and score state, digest schedules, run
// history, and digests.
//
// Store is the read/write contract the rest of the system codes
// against. Two implementations ship: Postgres (pgx) for production and
// Memory for tests and single-process deployments. All operations are
// transactionally consistent per item — a ScoreState is never partially
// written — but sweeps deliberately write per item rather than in one
// global transaction.
package feedstore
