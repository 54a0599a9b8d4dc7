package livefeed

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/pulsefeed/pulsefeed/internal/config"
	"github.com/pulsefeed/pulsefeed/internal/domain"
	"github.com/pulsefeed/pulsefeed/internal/feedstore"
	"github.com/pulsefeed/pulsefeed/internal/metrics"
	"github.com/pulsefeed/pulsefeed/internal/scoring"
)

// Publisher receives change events produced by sweeps. The hub
// implements it; tests inject a recorder.
type Publisher interface {
	Publish(ev domain.Event)
}

// RefreshResult summarizes one recompute sweep.
type RefreshResult struct {
	// Updated counts items whose persisted score state changed.
	Updated int `json:"updated"`

	// NewBreaking counts items whose breaking flag went false to true.
	NewBreaking int `json:"new_breaking"`
}

// FeedQuery shapes one feed read.
type FeedQuery struct {
	Domain        string
	WindowHours   int
	BreakingOnly  bool
	ValidatedOnly bool

	// PassedOnly drops pending items too, keeping only triage-passed
	// ones.
	PassedOnly bool

	Limit int
}

// Stats are per-partition counts over a window.
type Stats struct {
	Domain    string `json:"domain"`
	Total     int    `json:"total"`
	Breaking  int    `json:"breaking"`
	Pending   int    `json:"pending"`
	Passed    int    `json:"passed"`
	Rejected  int    `json:"rejected"`
	Validated int    `json:"validated"`

	// AvgFreshness is the mean freshness across the window, 0 when
	// the window is empty.
	AvgFreshness float64 `json:"avg_freshness"`
}

// Service owns score recomputation, change detection, and feed reads.
type Service struct {
	store    feedstore.Store
	registry *config.Registry
	pub      Publisher
	log      *slog.Logger
	now      func() time.Time
}

// New builds a Service. pub may be nil when no consumer wants events.
func New(st feedstore.Store, reg *config.Registry, pub Publisher, log *slog.Logger) *Service {
	return &Service{store: st, registry: reg, pub: pub, log: log, now: time.Now}
}

// score recomputes one item's ScoreState at now using its partition's
// settings.
func (s *Service) score(it domain.ContentItem, now time.Time) domain.ScoreState {
	settings, universal := s.registry.Settings(it.Domain)
	ref := it.ReferenceTime()

	analysis := scoring.Breaking(scoring.Input{
		Title:         it.Title,
		Body:          it.Abstract,
		Keywords:      settings.Keywords,
		Universal:     universal,
		Reference:     ref,
		RecencyCutoff: settings.RecencyCutoff(),
	}, now)

	return domain.ScoreState{
		Freshness:        scoring.Freshness(ref, now, settings.HalfLife()),
		Breaking:         analysis.IsBreaking(settings.Threshold()),
		BreakingScore:    analysis.Score,
		BreakingKeywords: analysis.Matched,
		RecomputedAt:     now,
	}
}

// Refresh recomputes scores for every item in the partition's rolling
// window, persisting per item and emitting at most one event per item.
// An empty partition sweeps all partitions. Writes are per item, not
// one transaction; concurrent readers observe committed rows only.
func (s *Service) Refresh(ctx context.Context, partition string, window time.Duration) (RefreshResult, error) {
	now := s.now()
	items, err := s.store.ListItems(ctx, feedstore.ItemQuery{
		Domain: partition,
		Since:  now.Add(-window),
	})
	if err != nil {
		return RefreshResult{}, fmt.Errorf("livefeed: list items: %w", err)
	}

	var res RefreshResult
	for _, it := range items {
		old := it.Score
		next := s.score(it.ContentItem, now)

		if err := s.store.UpdateScore(ctx, it.ID, next); err != nil {
			s.log.Error("livefeed: persist score failed", "item", it.ID, "error", err)
			continue
		}
		metrics.ItemsScored.WithLabelValues(it.Domain).Inc()

		if !scoreChanged(old, next) {
			continue
		}
		res.Updated++
		if !old.Breaking && next.Breaking {
			res.NewBreaking++
		}

		it.Score = next
		s.publish(pickEvent(old, next), it, now)
	}
	return res, nil
}

// pickEvent selects the single event for a changed item: first sweep
// wins over a breaking transition, which wins over a plain update.
func pickEvent(old, next domain.ScoreState) domain.EventType {
	switch {
	case old.RecomputedAt.IsZero():
		return domain.EventNewItem
	case !old.Breaking && next.Breaking:
		return domain.EventBreaking
	default:
		return domain.EventUpdated
	}
}

func (s *Service) publish(t domain.EventType, it domain.FeedItem, now time.Time) {
	if s.pub == nil {
		return
	}
	s.pub.Publish(domain.Event{Type: t, Domain: it.Domain, Item: it, Timestamp: now})
	metrics.EventsPublished.WithLabelValues(string(t)).Inc()
}

// scoreChanged reports whether two score states differ materially.
func scoreChanged(a, b domain.ScoreState) bool {
	const eps = 1e-9
	return a.Breaking != b.Breaking ||
		math.Abs(a.BreakingScore-b.BreakingScore) > eps ||
		math.Abs(a.Freshness-b.Freshness) > eps
}

// Ingest accepts one item: it is persisted, scored immediately, and a
// new_item event fires when the item was not seen before. Re-ingesting
// an existing item refreshes content but keeps its verdict and score.
func (s *Service) Ingest(ctx context.Context, it domain.ContentItem) (bool, error) {
	if it.IngestedAt.IsZero() {
		it.IngestedAt = s.now()
	}
	created, err := s.store.UpsertItem(ctx, it)
	if err != nil {
		return false, fmt.Errorf("livefeed: upsert: %w", err)
	}
	metrics.ItemsIngested.WithLabelValues(it.Domain, strconv.FormatBool(created)).Inc()
	if !created {
		return false, nil
	}

	now := s.now()
	next := s.score(it, now)
	if err := s.store.UpdateScore(ctx, it.ID, next); err != nil {
		return true, fmt.Errorf("livefeed: score new item: %w", err)
	}
	stored, err := s.store.GetItem(ctx, it.ID)
	if err != nil {
		return true, fmt.Errorf("livefeed: read back: %w", err)
	}
	s.publish(domain.EventNewItem, stored, now)
	return true, nil
}

// Feed returns the partition's current feed. Rejected items never
// appear; pending items do, since triage must not delay visibility.
func (s *Service) Feed(ctx context.Context, q FeedQuery) ([]domain.FeedItem, error) {
	statuses := []domain.TriageStatus{domain.TriagePending, domain.TriagePassed}
	if q.PassedOnly {
		statuses = []domain.TriageStatus{domain.TriagePassed}
	}
	iq := feedstore.ItemQuery{
		Domain:        q.Domain,
		Statuses:      statuses,
		BreakingOnly:  q.BreakingOnly,
		ValidatedOnly: q.ValidatedOnly,
		Limit:         q.Limit,
	}
	if q.WindowHours > 0 {
		iq.Since = s.now().Add(-time.Duration(q.WindowHours) * time.Hour)
	}
	return s.store.ListItems(ctx, iq)
}

// BreakingNews returns the partition's currently breaking items no
// older than maxAge, highest score first.
func (s *Service) BreakingNews(ctx context.Context, partition string, limit int, maxAge time.Duration) ([]domain.FeedItem, error) {
	return s.store.ListItems(ctx, feedstore.ItemQuery{
		Domain:       partition,
		Statuses:     []domain.TriageStatus{domain.TriagePending, domain.TriagePassed},
		BreakingOnly: true,
		Since:        s.now().Add(-maxAge),
		Limit:        limit,
	})
}

// Stats returns counts for the partition over the window.
func (s *Service) Stats(ctx context.Context, partition string, window time.Duration) (Stats, error) {
	items, err := s.store.ListItems(ctx, feedstore.ItemQuery{
		Domain: partition,
		Since:  s.now().Add(-window),
	})
	if err != nil {
		return Stats{}, fmt.Errorf("livefeed: stats: %w", err)
	}

	st := Stats{Domain: partition, Total: len(items)}
	sum := 0.0
	for _, it := range items {
		sum += it.Score.Freshness
		if it.Score.Breaking {
			st.Breaking++
		}
		if it.ValidatedSource {
			st.Validated++
		}
		switch it.Verdict.Status {
		case domain.TriagePending:
			st.Pending++
		case domain.TriagePassed:
			st.Passed++
		case domain.TriageRejected:
			st.Rejected++
		}
	}
	if st.Total > 0 {
		st.AvgFreshness = sum / float64(st.Total)
	}
	return st, nil
}

// Run sweeps all partitions every interval until ctx is done. Sweep
// errors are logged; the loop keeps going.
func (s *Service) Run(ctx context.Context, interval, window time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Info("livefeed: sweep loop started", "interval", interval, "window", window)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("livefeed: sweep loop stopped")
			return
		case <-ticker.C:
			start := s.now()
			res, err := s.Refresh(ctx, "", window)
			if err != nil {
				s.log.Error("livefeed: sweep failed", "error", err)
				continue
			}
			metrics.SweepDuration.Observe(s.now().Sub(start).Seconds())
			if res.Updated > 0 {
				s.log.Info("livefeed: sweep complete",
					"updated", res.Updated, "new_breaking", res.NewBreaking)
			}
		}
	}
}
