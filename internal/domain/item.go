package domain

import "time"

// TriageStatus is the lifecycle state of an item's triage verdict.
type TriageStatus string

const (
	TriagePending  TriageStatus = "pending"
	TriagePassed   TriageStatus = "passed"
	TriageRejected TriageStatus = "rejected"
)

// ContentItem is one ingested unit of content (an article or paper).
// It is created by the external acquisition layer and is immutable once
// stored; only its verdict and score state change afterwards.
type ContentItem struct {
	ID              string     `json:"id"`
	Domain          string     `json:"domain"`
	Title           string     `json:"title"`
	Abstract        string     `json:"abstract,omitempty"`
	Source          string     `json:"source"`
	URL             string     `json:"url"`
	PublishedAt     *time.Time `json:"published_at,omitempty"`
	IngestedAt      time.Time  `json:"ingested_at"`
	ValidatedSource bool       `json:"validated_source"`
}

// ReferenceTime returns the timestamp scoring should decay from: the
// published time when known, otherwise the ingestion time.
func (it ContentItem) ReferenceTime() time.Time {
	if it.PublishedAt != nil && !it.PublishedAt.IsZero() {
		return *it.PublishedAt
	}
	return it.IngestedAt
}

// TriageVerdict is the one-to-one triage result for a ContentItem.
// Status starts pending and transitions to passed or rejected exactly
// once; re-triage is an explicit administrative action.
type TriageVerdict struct {
	Status     TriageStatus `json:"status"`
	Confidence *float64     `json:"confidence,omitempty"`
	Reason     string       `json:"reason,omitempty"`
	Model      string       `json:"model,omitempty"`
	TriagedAt  time.Time    `json:"triaged_at,omitempty"`
}

// ScoreState is the mutable, repeatedly recomputed scoring state of a
// ContentItem. Breaking is true iff BreakingScore meets the configured
// threshold at the time of the last recomputation.
type ScoreState struct {
	Freshness        float64   `json:"freshness_score"`
	Breaking         bool      `json:"is_breaking"`
	BreakingScore    float64   `json:"breaking_score"`
	BreakingKeywords []string  `json:"breaking_keywords,omitempty"`
	RecomputedAt     time.Time `json:"recomputed_at"`
}

// FeedItem is a ContentItem with its verdict and score state inlined,
// as returned by feed queries.
type FeedItem struct {
	ContentItem
	Verdict TriageVerdict `json:"triage"`
	Score   ScoreState    `json:"score"`
}
