package feedstore

import (
	"context"
	"errors"
	"time"

	"github.com/pulsefeed/pulsefeed/internal/domain"
)

// ErrNotFound is returned when the requested record does not exist.
var ErrNotFound = errors.New("feedstore: not found")

// ErrConflict is returned when a write loses to a concurrent competing
// write, e.g. appending a second non-terminal run for one schedule.
var ErrConflict = errors.New("feedstore: conflict")

// ItemQuery describes one feed listing. Zero values mean "no filter".
// Results are always ordered by (breaking desc, breaking score desc,
// freshness desc, ingested_at desc).
type ItemQuery struct {
	// Domain restricts to one partition. Empty matches all partitions.
	Domain string

	// Statuses restricts to items whose triage status is in the set.
	// Empty means any status.
	Statuses []domain.TriageStatus

	// Since restricts to items ingested at or after this time.
	Since time.Time

	// ValidatedOnly keeps only items from validated sources.
	ValidatedOnly bool

	// BreakingOnly keeps only items whose breaking flag is set.
	BreakingOnly bool

	// MinTriageScore keeps items whose triage confidence is at least
	// this value or absent. Zero disables the filter.
	MinTriageScore float64

	// Limit caps the result size. Non-positive means no cap.
	Limit int
}

// Store is the persistence contract. Implementations must be safe for
// concurrent use.
type Store interface {
	// UpsertItem inserts or replaces an item, reporting whether it was
	// newly created. Verdict and score state of an existing item are
	// preserved.
	UpsertItem(ctx context.Context, item domain.ContentItem) (created bool, err error)

	// GetItem returns one item with verdict and score inlined.
	GetItem(ctx context.Context, id string) (domain.FeedItem, error)

	// ListItems returns items matching q in feed order.
	ListItems(ctx context.Context, q ItemQuery) ([]domain.FeedItem, error)

	// ListPendingTriage returns up to limit items still awaiting triage,
	// oldest first.
	ListPendingTriage(ctx context.Context, limit int) ([]domain.ContentItem, error)

	// UpdateScore replaces the item's score state in place.
	UpdateScore(ctx context.Context, id string, s domain.ScoreState) error

	// SetVerdict records the item's triage verdict.
	SetVerdict(ctx context.Context, id string, v domain.TriageVerdict) error

	CreateSchedule(ctx context.Context, sc domain.ScheduleConfig) error
	GetSchedule(ctx context.Context, id string) (domain.ScheduleConfig, error)
	ListSchedules(ctx context.Context, activeOnly bool) ([]domain.ScheduleConfig, error)
	UpdateSchedule(ctx context.Context, sc domain.ScheduleConfig) error
	DeleteSchedule(ctx context.Context, id string) error

	// AppendRun appends a run record. Appending a non-terminal run while
	// the schedule already has one returns ErrConflict.
	AppendRun(ctx context.Context, run domain.ScheduledRun) error

	// CompleteRun writes the terminal state of a run. Completing an
	// already-terminal run returns ErrConflict.
	CompleteRun(ctx context.Context, run domain.ScheduledRun) error

	// ActiveRun returns the schedule's non-terminal run, or nil.
	ActiveRun(ctx context.Context, scheduleID string) (*domain.ScheduledRun, error)

	// ListRuns returns the schedule's run history, newest first.
	ListRuns(ctx context.Context, scheduleID string, limit int) ([]domain.ScheduledRun, error)

	SaveDigest(ctx context.Context, d domain.Digest) error
	GetDigest(ctx context.Context, id string) (domain.Digest, error)
}
