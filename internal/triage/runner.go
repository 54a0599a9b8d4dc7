package triage

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/pulsefeed/pulsefeed/internal/domain"
	"github.com/pulsefeed/pulsefeed/internal/metrics"
)

// store is the slice of the feed store the runner needs.
type store interface {
	ListPendingTriage(ctx context.Context, limit int) ([]domain.ContentItem, error)
	SetVerdict(ctx context.Context, id string, v domain.TriageVerdict) error
}

// batchSize caps how many pending items one pass picks up.
const batchSize = 50

// Runner periodically drains pending items through the Triager and
// persists the verdicts.
type Runner struct {
	store    store
	triager  *Triager
	interval time.Duration
	log      *slog.Logger
}

// NewRunner builds a background triage runner.
func NewRunner(st store, triager *Triager, interval time.Duration, log *slog.Logger) *Runner {
	return &Runner{store: st, triager: triager, interval: interval, log: log}
}

// Run blocks until ctx is done, triaging pending items every interval.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Info("triage: runner started", "interval", r.interval)
	for {
		select {
		case <-ctx.Done():
			r.log.Info("triage: runner stopped")
			return
		case <-ticker.C:
			if err := r.Pass(ctx); err != nil {
				r.log.Error("triage: pass failed", "error", err)
			}
		}
	}
}

// Pass triages one batch of pending items. It returns an error only
// when the pending list cannot be read; per-item verdict writes are
// logged and skipped.
func (r *Runner) Pass(ctx context.Context) error {
	items, err := r.store.ListPendingTriage(ctx, batchSize)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	results := r.triager.Batch(ctx, items)
	for _, res := range results {
		if err := r.store.SetVerdict(ctx, res.Item.ID, res.Verdict); err != nil {
			r.log.Error("triage: persist verdict failed", "item", res.Item.ID, "error", err)
			continue
		}
		metrics.TriageVerdicts.WithLabelValues(
			string(res.Verdict.Status), strconv.FormatBool(res.Fallback)).Inc()
	}
	r.log.Info("triage: pass complete", "items", len(items))
	return nil
}
