package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"hookflow/internal/dispatch"
	"hookflow/internal/domain"
	"hookflow/internal/recurrence"
	"hookflow/internal/worker"
)

// TaskStore is the part of the store the engine depends on.
type TaskStore interface {
	Due(ctx context.Context, now time.Time) ([]domain.Task, error)
	Save(ctx context.Context, t domain.Task) error
}

// Dispatcher starts one task's delivery and reports its result through done.
type Dispatcher interface {
	Start(ctx context.Context, t *domain.Task, submit func(func()), done func(dispatch.Result))
}

type Config struct {
	Cadence          cron.Schedule // when to run the next cycle
	Workers          int           // concurrent deliveries per cycle
	FallbackType     domain.Recurrence
	FallbackInterval int
}

// Report summarizes one cycle.
type Report struct {
	Selected   int
	Executed   int
	Skipped    int
	Failed     int
	SaveErrors int
	Deferred   int
	Duration   time.Duration
}

// Engine periodically delivers due tasks and reschedules them.
type Engine struct {
	store      TaskStore
	dispatcher Dispatcher
	cfg        Config
	pool       *worker.Pool
	now        func() time.Time

	stop     chan struct{}
	stopOnce sync.Once

	stats counters
}

func New(store TaskStore, d Dispatcher, cfg Config) *Engine {
	if cfg.Cadence == nil {
		cfg.Cadence = cron.Every(30 * time.Second)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if !recurrence.Known(cfg.FallbackType) || cfg.FallbackInterval <= 0 {
		cfg.FallbackType = domain.RecurYear
		cfg.FallbackInterval = 1
	}
	return &Engine{
		store:      store,
		dispatcher: d,
		cfg:        cfg,
		pool:       worker.NewPool(cfg.Workers),
		now:        func() time.Time { return time.Now().UTC() },
		stop:       make(chan struct{}),
	}
}

// SetClock replaces the engine's time source.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Run executes a cycle immediately and then one per cadence tick until ctx
// is done or Stop is called. A stop takes effect between cycles and before
// each task is started; deliveries already started finish and are saved.
func (e *Engine) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-e.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	log.Info().Int("workers", e.pool.Size()).Msg("engine started")
	defer log.Info().Msg("engine stopped")

	for {
		if ctx.Err() != nil {
			return
		}
		_, _ = e.RunCycle(ctx)

		now := e.now()
		timer := time.NewTimer(e.cfg.Cadence.Next(now).Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stop) })
}

// RunCycle selects the tasks due now, delivers them on the worker pool and
// persists each outcome. It returns an error only when selection failed, in
// which case no task was touched.
func (e *Engine) RunCycle(ctx context.Context) (Report, error) {
	started := e.now()
	e.stats.cycles.Add(1)

	tasks, err := e.store.Due(ctx, started)
	if err != nil {
		e.stats.fetchErrors.Add(1)
		log.Error().Err(err).Msg("failed to select due tasks")
		return Report{}, fmt.Errorf("select due tasks: %w", err)
	}
	log.Debug().Int("due", len(tasks)).Time("at", started).Msg("checking for tasks to process")

	rep := Report{Selected: len(tasks)}
	var mu sync.Mutex
	var wg sync.WaitGroup
	deferred := func(n int) {
		mu.Lock()
		rep.Deferred += n
		mu.Unlock()
	}
	for i := range tasks {
		if ctx.Err() != nil {
			deferred(len(tasks) - i)
			break
		}
		t := tasks[i]
		if !eligible(t, started) {
			rep.Skipped++
			e.stats.skipped.Add(1)
			continue
		}
		t.RetryCount = 0

		wg.Add(1)
		submit := e.gate(ctx, &t, func() {
			defer wg.Done()
			deferred(1)
		})
		e.dispatcher.Start(ctx, &t, submit, func(res dispatch.Result) {
			defer wg.Done()
			saved := e.finish(ctx, &t, res)
			mu.Lock()
			rep.Executed++
			if res.Failed() {
				rep.Failed++
			}
			if !saved {
				rep.SaveErrors++
			}
			mu.Unlock()
		})
	}
	wg.Wait()
	if rep.Deferred > 0 {
		log.Info().Int("deferred", rep.Deferred).Msg("stop requested, leaving remaining tasks for a later cycle")
	}

	rep.Duration = e.now().Sub(started)
	if rep.Selected > 0 {
		log.Info().
			Int("selected", rep.Selected).
			Int("executed", rep.Executed).
			Int("failed", rep.Failed).
			Int("skipped", rep.Skipped).
			Int("save_errors", rep.SaveErrors).
			Dur("took", rep.Duration).
			Msg("cycle finished")
	}
	return rep, nil
}

// gate returns the submit function handed to the dispatcher for one task.
// The first attempt waits for a worker slot only while ctx is live; if ctx is
// done first the task is not started and abandon is called instead. Retries
// of a task that did start are always submitted.
func (e *Engine) gate(ctx context.Context, t *domain.Task, abandon func()) func(func()) {
	begun := false
	return func(fn func()) {
		if begun {
			e.pool.Submit(fn)
			return
		}
		begun = true
		err := e.pool.SubmitContext(ctx, func() {
			log.Info().Str("task_id", t.ID).Str("task_name", t.Name).Msg("executing task")
			fn()
		})
		if err != nil {
			abandon()
		}
	}
}

// eligible guards against tasks whose next occurrence lies ahead even though
// the store selected them.
func eligible(t domain.Task, now time.Time) bool {
	return t.NextExecutionAt == nil || !t.NextExecutionAt.After(now)
}

// finish records the delivery outcome, advances the schedule and saves the
// task. It reports whether the save succeeded.
func (e *Engine) finish(ctx context.Context, t *domain.Task, res dispatch.Result) bool {
	now := e.now()
	body, code := res.Body, res.StatusCode
	t.LastResponse = &body
	t.LastResponseCode = &code
	t.LastExecutionAt = &now
	t.Status = domain.StatusDelivered
	e.stats.executed.Add(1)
	if res.Failed() {
		t.Status = domain.StatusFailed
		e.stats.failed.Add(1)
	}
	e.advance(t, now)

	if err := e.store.Save(context.WithoutCancel(ctx), *t); err != nil {
		e.stats.saveErrors.Add(1)
		log.Error().Err(err).Str("task_id", t.ID).Msg("failed to save task outcome")
		return false
	}
	ev := log.Info().
		Str("task_id", t.ID).
		Int("status_code", code).
		Int("attempts", res.Attempts).
		Bool("active", t.Active)
	if t.Active {
		ev = ev.Time("next_run", t.ScheduleAt)
	}
	ev.Msg("task executed")
	return true
}

// advance applies the recurrence transition: one-shot tasks are deactivated,
// recurring ones move to their next occurrence, and unrecognized kinds are
// pushed out by the fallback horizon so they cannot fire every cycle.
func (e *Engine) advance(t *domain.Task, now time.Time) {
	if t.RecurrenceType == domain.RecurNone {
		t.Active = false
		return
	}
	if next, ok := recurrence.Next(t.RecurrenceType, t.RecurrenceInterval, now); ok {
		t.NextExecutionAt = &next
		t.ScheduleAt = next
		return
	}
	log.Warn().
		Str("task_id", t.ID).
		Str("recurrence_type", string(t.RecurrenceType)).
		Msg("unrecognized recurrence type, rescheduling at fallback horizon")
	fallback, _ := recurrence.Next(e.cfg.FallbackType, e.cfg.FallbackInterval, now)
	t.NextExecutionAt = nil
	t.ScheduleAt = fallback
}
