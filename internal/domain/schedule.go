package domain

import "time"

// ScheduleConfig is one operator-defined digest generation policy.
// NextRunAt is recomputed by the schedule engine after every evaluation
// and after every edit to the cron expression or timezone.
type ScheduleConfig struct {
	ID               string     `json:"id"`
	Domain           string     `json:"domain"`
	Name             string     `json:"name"`
	CronExpr         string     `json:"cron_expression"`
	Timezone         string     `json:"timezone"`
	Active           bool       `json:"active"`
	LookbackHours    int        `json:"lookback_hours"`
	MaxItems         int        `json:"max_items"`
	TopPicks         int        `json:"top_picks_count"`
	ClusterTopics    bool       `json:"cluster_topics"`
	MinTriageScore   float64    `json:"min_triage_score"`
	OnlyPassedTriage bool       `json:"only_passed_triage"`
	AIProvider       string     `json:"ai_provider,omitempty"`
	AIModel          string     `json:"ai_model,omitempty"`
	LastRunAt        *time.Time `json:"last_run_at,omitempty"`
	NextRunAt        *time.Time `json:"next_run_at,omitempty"`
	RunCount         int        `json:"run_count"`
	LastError        string     `json:"last_error,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// RunStatus is the lifecycle state of a ScheduledRun.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// Terminal reports whether the status is a final state. A schedule may
// never hold more than one non-terminal run at a time.
func (s RunStatus) Terminal() bool {
	return s == RunSucceeded || s == RunFailed
}

// ScheduledRun is one append-only history record for a triggered
// execution of a ScheduleConfig. It is never mutated after CompletedAt
// is set.
type ScheduledRun struct {
	ID              string        `json:"id"`
	ScheduleID      string        `json:"schedule_id"`
	DigestID        *string       `json:"digest_id,omitempty"`
	ItemsConsidered int           `json:"items_considered"`
	ItemsIncluded   int           `json:"items_included"`
	ClustersFormed  int           `json:"clusters_formed"`
	TriggeredAt     time.Time     `json:"triggered_at"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty"`
	Duration        time.Duration `json:"duration_ns"`
	Status          RunStatus     `json:"status"`
	Error           string        `json:"error,omitempty"`
}

// TopicCluster is one named group of related items produced by the
// external clustering capability.
type TopicCluster struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
	ItemIDs     []string `json:"item_ids"`
	Importance  float64  `json:"importance_score"`
	TopPick     bool     `json:"is_top_pick"`
}

// Digest is the curated output of one scheduled (or manual) run. The
// composition, rendering, and delivery of its content happen in
// external services; pulsefeed records the selection.
type Digest struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Domain    string         `json:"domain"`
	ItemIDs   []string       `json:"item_ids"`
	TopPicks  []string       `json:"top_picks"`
	Clusters  []TopicCluster `json:"clusters,omitempty"`
	Provider  string         `json:"ai_provider,omitempty"`
	Model     string         `json:"ai_model,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
