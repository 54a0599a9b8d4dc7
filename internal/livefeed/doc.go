// Package livefeed keeps feed scores current and turns score changes
// into events. A sweep recomputes every item's ScoreState inside a
// rolling window, persists changes per item, and emits one event per
// changed item: new_item on first sight, breaking on a false-to-true
// breaking transition, updated otherwise.
package livefeed
