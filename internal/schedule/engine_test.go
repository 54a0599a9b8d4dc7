package schedule

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/pulsefeed/pulsefeed/internal/domain"
	"github.com/pulsefeed/pulsefeed/internal/feedstore"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// 05:00 UTC, one hour before the "0 6 * * *" schedules used below fire.
var t0 = time.Date(2025, 6, 1, 5, 0, 0, 0, time.UTC)

// fakeExec records executions and completes runs unless hold is set.
type fakeExec struct {
	store feedstore.Store
	hold  bool

	mu   sync.Mutex
	runs []domain.ScheduledRun
}

func (f *fakeExec) Execute(ctx context.Context, sc domain.ScheduleConfig, run domain.ScheduledRun) {
	f.mu.Lock()
	f.runs = append(f.runs, run)
	f.mu.Unlock()

	if f.hold {
		return // leave the run non-terminal
	}
	now := run.TriggeredAt.Add(time.Second)
	run.Status = domain.RunSucceeded
	run.CompletedAt = &now
	f.store.CompleteRun(ctx, run) //nolint:errcheck
}

func (f *fakeExec) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.runs)
}

func newEngine(t *testing.T, hold bool) (*Engine, *feedstore.Memory, *fakeExec) {
	t.Helper()
	st := feedstore.NewMemory()
	exec := &fakeExec{store: st, hold: hold}
	e := NewEngine(st, exec, time.Second, discard)
	e.now = func() time.Time { return t0 }
	return e, st, exec
}

// waitForRuns waits for the executor to have seen n runs; executions
// happen on their own goroutines.
func waitForRuns(t *testing.T, exec *fakeExec, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if exec.count() >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("executor runs: got %d, want %d", exec.count(), n)
}

func TestParseCron(t *testing.T) {
	tests := []struct {
		expr    string
		tz      string
		wantErr bool
	}{
		{"0 6 * * *", "", false},
		{"*/15 * * * *", "UTC", false},
		{"0 6 * * 1-5", "America/New_York", false},
		{"not a cron", "", true},
		{"0 6 * * *", "Mars/Olympus", true},
		{"0 6 * *", "", true}, // four fields
	}
	for _, tt := range tests {
		_, _, err := ParseCron(tt.expr, tt.tz)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseCron(%q, %q): err = %v, wantErr %v", tt.expr, tt.tz, err, tt.wantErr)
		}
	}
}

func TestNextDue(t *testing.T) {
	// At 05:00 the 06:00 daily schedule is due the same day; at 07:00
	// it has passed and moves to the next day.
	next, err := NextDue("0 6 * * *", "UTC", t0)
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2025, 6, 1, 6, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("NextDue from 05:00: got %v, want %v", next, want)
	}

	next, err = NextDue("0 6 * * *", "UTC", t0.Add(2*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	want = time.Date(2025, 6, 2, 6, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("NextDue from 07:00: got %v, want %v", next, want)
	}
}

func TestCreate_ValidatesAndDefaults(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newEngine(t, false)

	sc, err := e.Create(ctx, domain.ScheduleConfig{
		Name: "morning", Domain: "security", CronExpr: "0 6 * * *", Active: true,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sc.ID == "" {
		t.Error("ID not assigned")
	}
	if sc.LookbackHours != DefaultLookbackHours || sc.MaxItems != DefaultMaxItems || sc.TopPicks != DefaultTopPicks {
		t.Errorf("defaults: got %d/%d/%d", sc.LookbackHours, sc.MaxItems, sc.TopPicks)
	}
	if sc.NextRunAt == nil || !sc.NextRunAt.Equal(time.Date(2025, 6, 1, 6, 0, 0, 0, time.UTC)) {
		t.Errorf("NextRunAt: got %v, want 06:00", sc.NextRunAt)
	}

	if _, err := e.Create(ctx, domain.ScheduleConfig{
		Name: "bad", Domain: "security", CronExpr: "not a cron",
	}); err == nil {
		t.Error("Create with invalid cron: expected error")
	}
	if _, err := e.Create(ctx, domain.ScheduleConfig{
		Domain: "security", CronExpr: "0 6 * * *",
	}); err == nil {
		t.Error("Create without name: expected error")
	}
}

func TestPoll_TriggersDueSchedule(t *testing.T) {
	ctx := context.Background()
	e, st, exec := newEngine(t, false)

	sc, err := e.Create(ctx, domain.ScheduleConfig{
		Name: "morning", Domain: "security", CronExpr: "0 6 * * *", Active: true,
	})
	if err != nil {
		t.Fatal(err)
	}

	// 05:30: not due yet.
	e.now = func() time.Time { return t0.Add(30 * time.Minute) }
	e.Poll(ctx)
	if exec.count() != 0 {
		t.Fatalf("runs before due time: got %d, want 0", exec.count())
	}

	// 06:01: due.
	e.now = func() time.Time { return t0.Add(61 * time.Minute) }
	e.Poll(ctx)
	waitForRuns(t, exec, 1)

	got, err := st.GetSchedule(ctx, sc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.RunCount != 1 {
		t.Errorf("RunCount: got %d, want 1", got.RunCount)
	}
	if got.LastRunAt == nil || !got.LastRunAt.Equal(t0.Add(61*time.Minute)) {
		t.Errorf("LastRunAt: got %v", got.LastRunAt)
	}
	// Next due advances to tomorrow 06:00 — no backfill of the missed
	// minute.
	want := time.Date(2025, 6, 2, 6, 0, 0, 0, time.UTC)
	if got.NextRunAt == nil || !got.NextRunAt.Equal(want) {
		t.Errorf("NextRunAt: got %v, want %v", got.NextRunAt, want)
	}

	// Re-polling at the same instant does not trigger again.
	e.Poll(ctx)
	time.Sleep(20 * time.Millisecond)
	if exec.count() != 1 {
		t.Errorf("runs after re-poll: got %d, want 1", exec.count())
	}
}

func TestPoll_SkipsInactive(t *testing.T) {
	ctx := context.Background()
	e, _, exec := newEngine(t, false)

	if _, err := e.Create(ctx, domain.ScheduleConfig{
		Name: "paused", Domain: "security", CronExpr: "0 6 * * *", Active: false,
	}); err != nil {
		t.Fatal(err)
	}

	e.now = func() time.Time { return t0.Add(24 * time.Hour) }
	e.Poll(ctx)
	time.Sleep(20 * time.Millisecond)
	if exec.count() != 0 {
		t.Errorf("runs for inactive schedule: got %d, want 0", exec.count())
	}
}

func TestRunNow_MutualExclusion(t *testing.T) {
	ctx := context.Background()
	e, _, exec := newEngine(t, true) // executor never completes

	sc, err := e.Create(ctx, domain.ScheduleConfig{
		Name: "morning", Domain: "security", CronExpr: "0 6 * * *", Active: true,
	})
	if err != nil {
		t.Fatal(err)
	}

	first, err := e.RunNow(ctx, sc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !first.Started || first.Run == nil {
		t.Fatalf("first RunNow: got %+v, want started", first)
	}
	waitForRuns(t, exec, 1)

	// Second trigger while the first is in flight: no-op, not an error.
	second, err := e.RunNow(ctx, sc.ID)
	if err != nil {
		t.Fatalf("second RunNow: %v", err)
	}
	if second.Started {
		t.Error("second RunNow started despite in-flight run")
	}
	if second.Run == nil || second.Run.ID != first.Run.ID {
		t.Errorf("second RunNow run: got %+v, want in-flight run %s", second.Run, first.Run.ID)
	}
	if exec.count() != 1 {
		t.Errorf("executions: got %d, want 1", exec.count())
	}

	// The cron poll respects the same exclusion.
	e.now = func() time.Time { return t0.Add(24 * time.Hour) }
	e.Poll(ctx)
	time.Sleep(20 * time.Millisecond)
	if exec.count() != 1 {
		t.Errorf("executions after poll: got %d, want 1", exec.count())
	}
}

func TestPauseResume_Idempotent(t *testing.T) {
	ctx := context.Background()
	e, st, _ := newEngine(t, false)

	sc, err := e.Create(ctx, domain.ScheduleConfig{
		Name: "morning", Domain: "security", CronExpr: "0 6 * * *", Active: true,
	})
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		if err := e.Pause(ctx, sc.ID); err != nil {
			t.Fatalf("Pause #%d: %v", i+1, err)
		}
	}
	got, err := st.GetSchedule(ctx, sc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Active {
		t.Error("Active after pause: got true")
	}

	// Resume a week later: due time recomputes from now, not from the
	// pause point.
	e.now = func() time.Time { return t0.Add(7 * 24 * time.Hour) }
	for i := 0; i < 2; i++ {
		if err := e.Resume(ctx, sc.ID); err != nil {
			t.Fatalf("Resume #%d: %v", i+1, err)
		}
	}
	got, err = st.GetSchedule(ctx, sc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Active {
		t.Error("Active after resume: got false")
	}
	want := time.Date(2025, 6, 8, 6, 0, 0, 0, time.UTC)
	if got.NextRunAt == nil || !got.NextRunAt.Equal(want) {
		t.Errorf("NextRunAt after resume: got %v, want %v", got.NextRunAt, want)
	}
}

func TestUpdate_RecomputesDueAndKeepsBookkeeping(t *testing.T) {
	ctx := context.Background()
	e, st, exec := newEngine(t, false)

	sc, err := e.Create(ctx, domain.ScheduleConfig{
		Name: "morning", Domain: "security", CronExpr: "0 6 * * *", Active: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.RunNow(ctx, sc.ID); err != nil {
		t.Fatal(err)
	}
	waitForRuns(t, exec, 1)

	edited := sc
	edited.CronExpr = "0 18 * * *"
	got, err := e.Update(ctx, edited)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.RunCount != 1 {
		t.Errorf("RunCount preserved: got %d, want 1", got.RunCount)
	}
	want := time.Date(2025, 6, 1, 18, 0, 0, 0, time.UTC)
	if got.NextRunAt == nil || !got.NextRunAt.Equal(want) {
		t.Errorf("NextRunAt: got %v, want %v", got.NextRunAt, want)
	}

	stored, err := st.GetSchedule(ctx, sc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.CronExpr != "0 18 * * *" {
		t.Errorf("CronExpr: got %q", stored.CronExpr)
	}
}

// Manual triggers arrive from handler goroutines while the poll loop
// runs; both paths touch the executor base context.
func TestRunNow_ConcurrentWithPollLoop(t *testing.T) {
	ctx := context.Background()
	e, _, exec := newEngine(t, false)
	sc, err := e.Create(ctx, domain.ScheduleConfig{
		Name: "daily", Domain: "security", CronExpr: "0 6 * * *",
	})
	if err != nil {
		t.Fatal(err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan struct{})
	go func() {
		e.Run(runCtx)
		close(done)
	}()

	res, err := e.RunNow(ctx, sc.ID)
	if err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if !res.Started {
		t.Fatal("RunNow: not started")
	}
	waitForRuns(t, exec, 1)

	cancel()
	<-done
}
