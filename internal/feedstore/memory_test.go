package feedstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pulsefeed/pulsefeed/internal/domain"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func item(id, dom string, ingested time.Time) domain.ContentItem {
	return domain.ContentItem{
		ID:         id,
		Domain:     dom,
		Title:      "title " + id,
		IngestedAt: ingested,
	}
}

func ptr(f float64) *float64 { return &f }

func TestUpsertItem_CreatedThenUpdated(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	created, err := m.UpsertItem(ctx, item("a", "security", base))
	if err != nil {
		t.Fatalf("UpsertItem: %v", err)
	}
	if !created {
		t.Error("first upsert: created = false, want true")
	}

	created, err = m.UpsertItem(ctx, item("a", "security", base))
	if err != nil {
		t.Fatalf("UpsertItem: %v", err)
	}
	if created {
		t.Error("second upsert: created = true, want false")
	}
}

func TestUpsertItem_PreservesVerdictAndScore(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if _, err := m.UpsertItem(ctx, item("a", "security", base)); err != nil {
		t.Fatal(err)
	}
	if err := m.SetVerdict(ctx, "a", domain.TriageVerdict{
		Status: domain.TriagePassed, Confidence: ptr(0.9), TriagedAt: base,
	}); err != nil {
		t.Fatal(err)
	}
	if err := m.UpdateScore(ctx, "a", domain.ScoreState{
		Freshness: 0.8, Breaking: true, BreakingScore: 0.6, RecomputedAt: base,
	}); err != nil {
		t.Fatal(err)
	}

	// Re-ingesting the same item must not reset triage or score.
	updated := item("a", "security", base)
	updated.Title = "revised title"
	if _, err := m.UpsertItem(ctx, updated); err != nil {
		t.Fatal(err)
	}

	got, err := m.GetItem(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "revised title" {
		t.Errorf("Title: got %q, want revised title", got.Title)
	}
	if got.Verdict.Status != domain.TriagePassed {
		t.Errorf("Verdict.Status: got %q, want passed", got.Verdict.Status)
	}
	if !got.Score.Breaking {
		t.Error("Score.Breaking: got false, want true")
	}
}

func TestUpsertItem_IngestedAtImmutable(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if _, err := m.UpsertItem(ctx, item("a", "security", base)); err != nil {
		t.Fatal(err)
	}

	// A redelivery a day later refreshes content but must not re-enter
	// lookback windows by moving the ingestion timestamp.
	later := item("a", "security", base.Add(24*time.Hour))
	later.Title = "revised title"
	if _, err := m.UpsertItem(ctx, later); err != nil {
		t.Fatal(err)
	}

	got, err := m.GetItem(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if !got.IngestedAt.Equal(base) {
		t.Errorf("IngestedAt: got %v, want %v", got.IngestedAt, base)
	}
	if got.Title != "revised title" {
		t.Errorf("Title: got %q, want revised title", got.Title)
	}
}

func TestGetItem_Missing(t *testing.T) {
	m := NewMemory()
	_, err := m.GetItem(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetItem: got %v, want ErrNotFound", err)
	}
}

func TestUpsertItem_NewDefaultsToPending(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	if _, err := m.UpsertItem(ctx, item("a", "security", base)); err != nil {
		t.Fatal(err)
	}
	got, err := m.GetItem(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if got.Verdict.Status != domain.TriagePending {
		t.Errorf("new item status: got %q, want pending", got.Verdict.Status)
	}
}

func TestListItems_FeedOrder(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	// fresh: high freshness, not breaking.
	// stale: low freshness, not breaking.
	// breaking: low freshness but breaking, must sort first.
	for _, id := range []string{"fresh", "stale", "breaking"} {
		if _, err := m.UpsertItem(ctx, item(id, "security", base)); err != nil {
			t.Fatal(err)
		}
	}
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(m.UpdateScore(ctx, "fresh", domain.ScoreState{Freshness: 0.9}))
	must(m.UpdateScore(ctx, "stale", domain.ScoreState{Freshness: 0.1}))
	must(m.UpdateScore(ctx, "breaking", domain.ScoreState{Freshness: 0.2, Breaking: true, BreakingScore: 0.5}))

	got, err := m.ListItems(ctx, ItemQuery{})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"breaking", "fresh", "stale"}
	if len(got) != len(want) {
		t.Fatalf("ListItems: got %d items, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("ListItems[%d]: got %q, want %q", i, got[i].ID, id)
		}
	}
}

func TestListItems_Filters(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	a := item("a", "security", base)
	a.ValidatedSource = true
	b := item("b", "security", base.Add(-48*time.Hour))
	c := item("c", "research", base)
	for _, it := range []domain.ContentItem{a, b, c} {
		if _, err := m.UpsertItem(ctx, it); err != nil {
			t.Fatal(err)
		}
	}
	if err := m.SetVerdict(ctx, "b", domain.TriageVerdict{Status: domain.TriageRejected}); err != nil {
		t.Fatal(err)
	}
	if err := m.SetVerdict(ctx, "c", domain.TriageVerdict{Status: domain.TriagePassed, Confidence: ptr(0.4)}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		q    ItemQuery
		want []string
	}{
		{"all", ItemQuery{}, []string{"a", "b", "c"}},
		{"domain", ItemQuery{Domain: "research"}, []string{"c"}},
		{"statuses", ItemQuery{Statuses: []domain.TriageStatus{domain.TriagePending, domain.TriagePassed}}, []string{"a", "c"}},
		{"since", ItemQuery{Since: base.Add(-time.Hour)}, []string{"a", "c"}},
		{"validated", ItemQuery{ValidatedOnly: true}, []string{"a"}},
		{"min score keeps nil confidence", ItemQuery{MinTriageScore: 0.5}, []string{"a", "b"}},
		{"limit", ItemQuery{Limit: 2}, []string{"a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.ListItems(ctx, tt.q)
			if err != nil {
				t.Fatal(err)
			}
			ids := make(map[string]bool, len(got))
			for _, it := range got {
				ids[it.ID] = true
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d items, want %d", len(got), len(tt.want))
			}
			for _, id := range tt.want {
				if !ids[id] {
					t.Errorf("missing item %q", id)
				}
			}
		})
	}
}

func TestListPendingTriage_OldestFirst(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	for i, id := range []string{"newest", "middle", "oldest"} {
		if _, err := m.UpsertItem(ctx, item(id, "security", base.Add(-time.Duration(i)*time.Hour))); err != nil {
			t.Fatal(err)
		}
	}
	if err := m.SetVerdict(ctx, "middle", domain.TriageVerdict{Status: domain.TriagePassed}); err != nil {
		t.Fatal(err)
	}

	got, err := m.ListPendingTriage(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("ListPendingTriage: got %d items, want 2", len(got))
	}
	if got[0].ID != "oldest" || got[1].ID != "newest" {
		t.Errorf("order: got [%s %s], want [oldest newest]", got[0].ID, got[1].ID)
	}
}

func TestSchedules_CRUD(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	sc := domain.ScheduleConfig{ID: "s1", Domain: "security", Name: "morning", CronExpr: "0 6 * * *", Active: true, CreatedAt: base, UpdatedAt: base}
	if err := m.CreateSchedule(ctx, sc); err != nil {
		t.Fatal(err)
	}
	if err := m.CreateSchedule(ctx, sc); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate create: got %v, want ErrConflict", err)
	}

	sc.Active = false
	if err := m.UpdateSchedule(ctx, sc); err != nil {
		t.Fatal(err)
	}
	active, err := m.ListSchedules(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 0 {
		t.Errorf("active schedules: got %d, want 0", len(active))
	}

	if err := m.DeleteSchedule(ctx, "s1"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.GetSchedule(ctx, "s1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("after delete: got %v, want ErrNotFound", err)
	}
}

func TestAppendRun_OneActivePerSchedule(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	run := func(id string, status domain.RunStatus) domain.ScheduledRun {
		return domain.ScheduledRun{ID: id, ScheduleID: "s1", TriggeredAt: base, Status: status}
	}

	if err := m.AppendRun(ctx, run("r1", domain.RunRunning)); err != nil {
		t.Fatal(err)
	}
	if err := m.AppendRun(ctx, run("r2", domain.RunRunning)); !errors.Is(err, ErrConflict) {
		t.Fatalf("second running run: got %v, want ErrConflict", err)
	}

	// Completing r1 frees the slot.
	done := run("r1", domain.RunSucceeded)
	if err := m.CompleteRun(ctx, done); err != nil {
		t.Fatal(err)
	}
	if err := m.AppendRun(ctx, run("r2", domain.RunRunning)); err != nil {
		t.Fatalf("append after completion: %v", err)
	}
}

func TestCompleteRun_AlreadyTerminal(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	r := domain.ScheduledRun{ID: "r1", ScheduleID: "s1", TriggeredAt: base, Status: domain.RunRunning}
	if err := m.AppendRun(ctx, r); err != nil {
		t.Fatal(err)
	}
	r.Status = domain.RunSucceeded
	if err := m.CompleteRun(ctx, r); err != nil {
		t.Fatal(err)
	}
	r.Status = domain.RunFailed
	if err := m.CompleteRun(ctx, r); !errors.Is(err, ErrConflict) {
		t.Fatalf("completing terminal run: got %v, want ErrConflict", err)
	}
}

func TestActiveRun(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	got, err := m.ActiveRun(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatalf("ActiveRun on empty history: got %+v, want nil", got)
	}

	r := domain.ScheduledRun{ID: "r1", ScheduleID: "s1", TriggeredAt: base, Status: domain.RunRunning}
	if err := m.AppendRun(ctx, r); err != nil {
		t.Fatal(err)
	}
	got, err = m.ActiveRun(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != "r1" {
		t.Fatalf("ActiveRun: got %+v, want r1", got)
	}
}

func TestListRuns_NewestFirst(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	for i, id := range []string{"r1", "r2", "r3"} {
		r := domain.ScheduledRun{
			ID: id, ScheduleID: "s1",
			TriggeredAt: base.Add(time.Duration(i) * time.Hour),
			Status:      domain.RunSucceeded,
		}
		if err := m.AppendRun(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	got, err := m.ListRuns(ctx, "s1", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("ListRuns: got %d, want 2", len(got))
	}
	if got[0].ID != "r3" || got[1].ID != "r2" {
		t.Errorf("order: got [%s %s], want [r3 r2]", got[0].ID, got[1].ID)
	}
}

func TestDigests_SaveAndGet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	d := domain.Digest{ID: "d1", Name: "morning", Domain: "security", ItemIDs: []string{"a", "b"}, CreatedAt: base}
	if err := m.SaveDigest(ctx, d); err != nil {
		t.Fatal(err)
	}
	got, err := m.GetDigest(ctx, "d1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "morning" || len(got.ItemIDs) != 2 {
		t.Errorf("GetDigest: got %+v", got)
	}

	if _, err := m.GetDigest(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing digest: got %v, want ErrNotFound", err)
	}
}

func TestConcurrentUpserts(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = m.UpsertItem(ctx, item("shared", "security", base))
		}()
		go func() {
			defer wg.Done()
			_, _ = m.ListItems(ctx, ItemQuery{})
		}()
	}
	wg.Wait()

	got, err := m.ListItems(ctx, ItemQuery{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Errorf("after concurrent upserts: got %d items, want 1", len(got))
	}
}
