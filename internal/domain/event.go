package domain

import "time"

// EventType identifies one kind of live-feed change event.
type EventType string

const (
	// EventNewItem fires the first time an item appears in a sweep.
	EventNewItem EventType = "new_item"
	// EventBreaking fires when an item's breaking flag transitions
	// false → true.
	EventBreaking EventType = "breaking"
	// EventUpdated fires when an already-seen item's score changed.
	EventUpdated EventType = "updated"
)

// Event is one change notification produced by a live-feed sweep and
// fanned out to subscribers. At most one event is emitted per item per
// sweep, with priority new_item > breaking > updated.
type Event struct {
	Type      EventType `json:"type"`
	Domain    string    `json:"domain"`
	Item      FeedItem  `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}
