package feedstore

import (
	"context"
	"sort"
	"sync"

	"github.com/pulsefeed/pulsefeed/internal/domain"
)

// Memory is a thread-safe in-memory Store. It backs tests and
// single-process deployments that do not need durability.
type Memory struct {
	mu        sync.RWMutex
	items     map[string]*domain.FeedItem
	schedules map[string]*domain.ScheduleConfig
	runs      map[string][]*domain.ScheduledRun // keyed by schedule id, append order
	digests   map[string]*domain.Digest
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		items:     make(map[string]*domain.FeedItem),
		schedules: make(map[string]*domain.ScheduleConfig),
		runs:      make(map[string][]*domain.ScheduledRun),
		digests:   make(map[string]*domain.Digest),
	}
}

func (m *Memory) UpsertItem(_ context.Context, item domain.ContentItem) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.items[item.ID]; ok {
		// Content columns refresh on re-ingest; the ingestion timestamp
		// never moves, matching the Postgres ON CONFLICT column list.
		item.IngestedAt = existing.IngestedAt
		existing.ContentItem = item
		return false, nil
	}
	m.items[item.ID] = &domain.FeedItem{
		ContentItem: item,
		Verdict:     domain.TriageVerdict{Status: domain.TriagePending},
	}
	return true, nil
}

func (m *Memory) GetItem(_ context.Context, id string) (domain.FeedItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	it, ok := m.items[id]
	if !ok {
		return domain.FeedItem{}, ErrNotFound
	}
	return cloneItem(it), nil
}

func (m *Memory) ListItems(_ context.Context, q ItemQuery) ([]domain.FeedItem, error) {
	m.mu.RLock()
	out := make([]domain.FeedItem, 0, len(m.items))
	for _, it := range m.items {
		if matches(it, q) {
			out = append(out, cloneItem(it))
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return feedLess(out[i], out[j]) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *Memory) ListPendingTriage(_ context.Context, limit int) ([]domain.ContentItem, error) {
	m.mu.RLock()
	var out []domain.ContentItem
	for _, it := range m.items {
		if it.Verdict.Status == domain.TriagePending {
			out = append(out, it.ContentItem)
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].IngestedAt.Before(out[j].IngestedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) UpdateScore(_ context.Context, id string, s domain.ScoreState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok {
		return ErrNotFound
	}
	it.Score = s
	return nil
}

func (m *Memory) SetVerdict(_ context.Context, id string, v domain.TriageVerdict) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok {
		return ErrNotFound
	}
	it.Verdict = v
	return nil
}

// --- schedules --------------------------------------------------------------

func (m *Memory) CreateSchedule(_ context.Context, sc domain.ScheduleConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.schedules[sc.ID]; ok {
		return ErrConflict
	}
	cp := sc
	m.schedules[sc.ID] = &cp
	return nil
}

func (m *Memory) GetSchedule(_ context.Context, id string) (domain.ScheduleConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sc, ok := m.schedules[id]
	if !ok {
		return domain.ScheduleConfig{}, ErrNotFound
	}
	return *sc, nil
}

func (m *Memory) ListSchedules(_ context.Context, activeOnly bool) ([]domain.ScheduleConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.ScheduleConfig, 0, len(m.schedules))
	for _, sc := range m.schedules {
		if activeOnly && !sc.Active {
			continue
		}
		out = append(out, *sc)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) UpdateSchedule(_ context.Context, sc domain.ScheduleConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.schedules[sc.ID]; !ok {
		return ErrNotFound
	}
	cp := sc
	m.schedules[sc.ID] = &cp
	return nil
}

func (m *Memory) DeleteSchedule(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.schedules[id]; !ok {
		return ErrNotFound
	}
	delete(m.schedules, id)
	delete(m.runs, id)
	return nil
}

// --- runs -------------------------------------------------------------------

func (m *Memory) AppendRun(_ context.Context, run domain.ScheduledRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !run.Status.Terminal() {
		for _, r := range m.runs[run.ScheduleID] {
			if !r.Status.Terminal() {
				return ErrConflict
			}
		}
	}
	cp := run
	m.runs[run.ScheduleID] = append(m.runs[run.ScheduleID], &cp)
	return nil
}

func (m *Memory) CompleteRun(_ context.Context, run domain.ScheduledRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.runs[run.ScheduleID] {
		if r.ID != run.ID {
			continue
		}
		if r.Status.Terminal() {
			return ErrConflict
		}
		*r = run
		return nil
	}
	return ErrNotFound
}

func (m *Memory) ActiveRun(_ context.Context, scheduleID string) (*domain.ScheduledRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.runs[scheduleID] {
		if !r.Status.Terminal() {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *Memory) ListRuns(_ context.Context, scheduleID string, limit int) ([]domain.ScheduledRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	history := m.runs[scheduleID]
	out := make([]domain.ScheduledRun, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		out = append(out, *history[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// --- digests ----------------------------------------------------------------

func (m *Memory) SaveDigest(_ context.Context, d domain.Digest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := d
	m.digests[d.ID] = &cp
	return nil
}

func (m *Memory) GetDigest(_ context.Context, id string) (domain.Digest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.digests[id]
	if !ok {
		return domain.Digest{}, ErrNotFound
	}
	return *d, nil
}

// --- helpers ----------------------------------------------------------------

func matches(it *domain.FeedItem, q ItemQuery) bool {
	if q.Domain != "" && it.Domain != q.Domain {
		return false
	}
	if len(q.Statuses) > 0 {
		ok := false
		for _, s := range q.Statuses {
			if it.Verdict.Status == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if !q.Since.IsZero() && it.IngestedAt.Before(q.Since) {
		return false
	}
	if q.ValidatedOnly && !it.ValidatedSource {
		return false
	}
	if q.BreakingOnly && !it.Score.Breaking {
		return false
	}
	if q.MinTriageScore > 0 && it.Verdict.Confidence != nil && *it.Verdict.Confidence < q.MinTriageScore {
		return false
	}
	return true
}

// feedLess orders by breaking desc, breaking score desc, freshness
// desc, ingested_at desc — the same ORDER BY the Postgres store uses.
func feedLess(a, b domain.FeedItem) bool {
	if a.Score.Breaking != b.Score.Breaking {
		return a.Score.Breaking
	}
	if a.Score.BreakingScore != b.Score.BreakingScore {
		return a.Score.BreakingScore > b.Score.BreakingScore
	}
	if a.Score.Freshness != b.Score.Freshness {
		return a.Score.Freshness > b.Score.Freshness
	}
	return a.IngestedAt.After(b.IngestedAt)
}

func cloneItem(it *domain.FeedItem) domain.FeedItem {
	cp := *it
	if it.Score.BreakingKeywords != nil {
		cp.Score.BreakingKeywords = append([]string(nil), it.Score.BreakingKeywords...)
	}
	return cp
}
