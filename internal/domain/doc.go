// Package domain defines the core data model shared across pulsefeed:
// content items, triage verdicts, score state, digest schedules, run
// history, and the change events pushed to live subscribers.
//
// These are the canonical in-memory representations, separate from both
// the storage row layout and the JSON wire shapes used by the API.
package domain
