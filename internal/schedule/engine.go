package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pulsefeed/pulsefeed/internal/domain"
	"github.com/pulsefeed/pulsefeed/internal/feedstore"
)

// Defaults applied to new schedules when the caller leaves them zero.
const (
	DefaultLookbackHours = 24
	DefaultMaxItems      = 50
	DefaultTopPicks      = 3
)

// Executor runs one digest generation. The engine guarantees run is
// already recorded as running; the executor must complete it.
type Executor interface {
	Execute(ctx context.Context, sc domain.ScheduleConfig, run domain.ScheduledRun)
}

// TriggerResult reports the outcome of one trigger attempt. Started is
// false when the schedule already had a run in flight; Run then holds
// that in-flight run. A conflicting trigger is a no-op, not an error.
type TriggerResult struct {
	Started bool                 `json:"started"`
	Run     *domain.ScheduledRun `json:"run,omitempty"`
}

// Engine owns schedule CRUD, the cron poll loop, and trigger mutual
// exclusion. Exclusion derives from the run history: a schedule with a
// non-terminal run cannot start another, whichever process asks.
type Engine struct {
	store feedstore.Store
	exec  Executor
	poll  time.Duration
	log   *slog.Logger
	now   func() time.Time

	// baseCtx detaches executor goroutines from the HTTP request that
	// triggered them. Run replaces it while RunNow may read it from a
	// handler goroutine, so access goes through mu.
	mu      sync.Mutex
	baseCtx context.Context
}

// NewEngine builds an Engine.
func NewEngine(st feedstore.Store, exec Executor, poll time.Duration, log *slog.Logger) *Engine {
	return &Engine{
		store:   st,
		exec:    exec,
		poll:    poll,
		log:     log,
		now:     time.Now,
		baseCtx: context.Background(),
	}
}

// Create validates and persists a new schedule, computing its first due
// time. Zero selection knobs get defaults.
func (e *Engine) Create(ctx context.Context, sc domain.ScheduleConfig) (domain.ScheduleConfig, error) {
	if sc.Name == "" {
		return domain.ScheduleConfig{}, fmt.Errorf("schedule: name is required")
	}
	if sc.Domain == "" {
		return domain.ScheduleConfig{}, fmt.Errorf("schedule: domain is required")
	}
	next, err := NextDue(sc.CronExpr, sc.Timezone, e.now())
	if err != nil {
		return domain.ScheduleConfig{}, err
	}

	if sc.ID == "" {
		sc.ID = uuid.NewString()
	}
	if sc.Timezone == "" {
		sc.Timezone = "UTC"
	}
	if sc.LookbackHours <= 0 {
		sc.LookbackHours = DefaultLookbackHours
	}
	if sc.MaxItems <= 0 {
		sc.MaxItems = DefaultMaxItems
	}
	if sc.TopPicks <= 0 {
		sc.TopPicks = DefaultTopPicks
	}
	now := e.now()
	sc.NextRunAt = &next
	sc.CreatedAt = now
	sc.UpdatedAt = now

	if err := e.store.CreateSchedule(ctx, sc); err != nil {
		return domain.ScheduleConfig{}, err
	}
	e.log.Info("schedule: created", "id", sc.ID, "name", sc.Name, "next_run", next)
	return sc, nil
}

// Update validates and persists edits, recomputing the due time from
// now. Run bookkeeping fields are preserved from the stored schedule.
func (e *Engine) Update(ctx context.Context, sc domain.ScheduleConfig) (domain.ScheduleConfig, error) {
	current, err := e.store.GetSchedule(ctx, sc.ID)
	if err != nil {
		return domain.ScheduleConfig{}, err
	}
	next, err := NextDue(sc.CronExpr, sc.Timezone, e.now())
	if err != nil {
		return domain.ScheduleConfig{}, err
	}

	sc.LastRunAt = current.LastRunAt
	sc.RunCount = current.RunCount
	sc.LastError = current.LastError
	sc.CreatedAt = current.CreatedAt
	sc.NextRunAt = &next
	sc.UpdatedAt = e.now()

	if err := e.store.UpdateSchedule(ctx, sc); err != nil {
		return domain.ScheduleConfig{}, err
	}
	return sc, nil
}

// Pause deactivates the schedule. Pausing a paused schedule is a no-op.
func (e *Engine) Pause(ctx context.Context, id string) error {
	return e.setActive(ctx, id, false)
}

// Resume reactivates the schedule and recomputes its due time from now,
// so a long pause does not cause a backfill burst. Resuming an active
// schedule is a no-op.
func (e *Engine) Resume(ctx context.Context, id string) error {
	return e.setActive(ctx, id, true)
}

func (e *Engine) setActive(ctx context.Context, id string, active bool) error {
	sc, err := e.store.GetSchedule(ctx, id)
	if err != nil {
		return err
	}
	if sc.Active == active {
		return nil
	}
	sc.Active = active
	if active {
		next, err := NextDue(sc.CronExpr, sc.Timezone, e.now())
		if err != nil {
			return err
		}
		sc.NextRunAt = &next
	}
	sc.UpdatedAt = e.now()
	return e.store.UpdateSchedule(ctx, sc)
}

// RunNow triggers the schedule immediately, bypassing the cron check
// but not the mutual exclusion: if a run is already in flight the
// result reports it and nothing starts.
func (e *Engine) RunNow(ctx context.Context, id string) (TriggerResult, error) {
	sc, err := e.store.GetSchedule(ctx, id)
	if err != nil {
		return TriggerResult{}, err
	}
	return e.trigger(ctx, sc)
}

// trigger appends a running run and hands it to the executor. On
// conflict it reports the in-flight run instead.
func (e *Engine) trigger(ctx context.Context, sc domain.ScheduleConfig) (TriggerResult, error) {
	now := e.now()
	run := domain.ScheduledRun{
		ID:          uuid.NewString(),
		ScheduleID:  sc.ID,
		TriggeredAt: now,
		Status:      domain.RunRunning,
	}

	if err := e.store.AppendRun(ctx, run); err != nil {
		if errors.Is(err, feedstore.ErrConflict) {
			active, aerr := e.store.ActiveRun(ctx, sc.ID)
			if aerr != nil {
				return TriggerResult{}, aerr
			}
			e.log.Info("schedule: run already in flight", "id", sc.ID)
			return TriggerResult{Started: false, Run: active}, nil
		}
		return TriggerResult{}, err
	}

	// Bookkeeping: due time advances from the trigger, never from the
	// originally scheduled slot, so missed slots are not backfilled.
	sc.LastRunAt = &now
	sc.RunCount++
	if next, err := NextDue(sc.CronExpr, sc.Timezone, now); err == nil {
		sc.NextRunAt = &next
	}
	sc.UpdatedAt = now
	if err := e.store.UpdateSchedule(ctx, sc); err != nil {
		e.log.Error("schedule: bookkeeping update failed", "id", sc.ID, "error", err)
	}

	e.log.Info("schedule: triggered", "id", sc.ID, "run", run.ID)
	go e.exec.Execute(e.execCtx(), sc, run)
	return TriggerResult{Started: true, Run: &run}, nil
}

// Poll evaluates every active schedule once, triggering those that are
// due. Errors on individual schedules are logged, not returned.
func (e *Engine) Poll(ctx context.Context) {
	schedules, err := e.store.ListSchedules(ctx, true)
	if err != nil {
		e.log.Error("schedule: list failed", "error", err)
		return
	}

	now := e.now()
	for _, sc := range schedules {
		if sc.NextRunAt == nil {
			// Schedules created outside the engine get their due time
			// lazily.
			next, err := NextDue(sc.CronExpr, sc.Timezone, now)
			if err != nil {
				e.log.Error("schedule: invalid cron", "id", sc.ID, "error", err)
				continue
			}
			sc.NextRunAt = &next
			sc.UpdatedAt = now
			if err := e.store.UpdateSchedule(ctx, sc); err != nil {
				e.log.Error("schedule: persist due time failed", "id", sc.ID, "error", err)
			}
			continue
		}
		if now.Before(*sc.NextRunAt) {
			continue
		}
		if _, err := e.trigger(ctx, sc); err != nil {
			e.log.Error("schedule: trigger failed", "id", sc.ID, "error", err)
		}
	}
}

// execCtx returns the context executor goroutines detach onto.
func (e *Engine) execCtx() context.Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.baseCtx
}

// Run polls until ctx is done. Executor goroutines started after this
// point use ctx as their base context.
func (e *Engine) Run(ctx context.Context) {
	e.mu.Lock()
	e.baseCtx = ctx
	e.mu.Unlock()

	ticker := time.NewTicker(e.poll)
	defer ticker.Stop()

	e.log.Info("schedule: engine started", "poll", e.poll)
	for {
		select {
		case <-ctx.Done():
			e.log.Info("schedule: engine stopped")
			return
		case <-ticker.C:
			e.Poll(ctx)
		}
	}
}
