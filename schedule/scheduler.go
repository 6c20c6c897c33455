package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/finledger/batchcore/audit"
	"github.com/finledger/batchcore/batch"
)

// JobRunner is the slice of the batch executor the scheduler needs. The
// scheduler is a cooperative loop over this interface, not tied to the
// executor's internals.
type JobRunner interface {
	CreateJob(ctx context.Context, spec batch.JobSpec) (*batch.Job, error)
	RunJob(ctx context.Context, jobID string) (*batch.JobResult, error)
}

// SchedulerConfig contains tunables for the scheduler loop.
type SchedulerConfig struct {
	// TickInterval is how often enabled schedules are evaluated.
	TickInterval time.Duration

	// MetricsInterval is how often process resource usage is logged.
	// Zero disables metrics logging.
	MetricsInterval time.Duration
}

// DefaultSchedulerConfig returns sensible defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		TickInterval:    30 * time.Second,
		MetricsInterval: 5 * time.Minute,
	}
}

// Scheduler periodically evaluates enabled schedules and fires the due ones
// through the batch executor. Each due schedule is fired independently; one
// schedule's failure never aborts the remainder of the tick.
type Scheduler struct {
	store    *Store
	runner   JobRunner
	recorder audit.Recorder
	cfg      SchedulerConfig
	logger   *zap.SugaredLogger
	timeNow  func() time.Time // Injectable for testing

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler with the real clock.
func NewScheduler(store *Store, runner JobRunner, recorder audit.Recorder, cfg SchedulerConfig, logger *zap.SugaredLogger) *Scheduler {
	return NewSchedulerWithClock(store, runner, recorder, cfg, logger, time.Now)
}

// NewSchedulerWithClock creates a scheduler with an injectable clock.
func NewSchedulerWithClock(store *Store, runner JobRunner, recorder audit.Recorder, cfg SchedulerConfig, logger *zap.SugaredLogger, timeNow func() time.Time) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultSchedulerConfig().TickInterval
	}
	return &Scheduler{
		store:    store,
		runner:   runner,
		recorder: recorder,
		cfg:      cfg,
		logger:   logger.Named("scheduler"),
		timeNow:  timeNow,
	}
}

// Start launches the tick loop. Safe to call once; subsequent calls while
// running are no-ops.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go s.run(ctx)

	if s.cfg.MetricsInterval > 0 {
		s.wg.Add(1)
		go s.runMetrics(ctx)
	}

	s.logger.Infow("Scheduler started", "tick_interval", s.cfg.TickInterval)
}

// Stop signals shutdown and blocks until the in-flight tick, including any
// job runs it already started, has finished. No new tick begins after Stop
// returns, so callers can safely tear down the persistence layer.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.logger.Infow("Scheduler stopped")
}

// TickNow runs one evaluation pass synchronously. Used by tests and by the
// CLI's run-once mode.
func (s *Scheduler) TickNow(ctx context.Context) {
	s.tick(ctx)
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	// Cancellation only stops the loop. The tick gets a non-cancellable
	// context: Stop must never abort a job run already in flight (it would
	// roll back the item transaction under the running task); wg.Wait in
	// Stop is the only shutdown synchronization.
	tickCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(tickCtx)
		}
	}
}

// tick evaluates all enabled schedules against the current time and fires
// the due ones. Fires run on their own goroutines so two due schedules
// proceed independently; the tick waits for all of them before returning,
// which is what makes Stop's finish-the-in-flight-tick guarantee hold.
func (s *Scheduler) tick(ctx context.Context) {
	schedules, err := s.store.ListEnabled()
	if err != nil {
		s.logger.Errorw("Failed to load schedules", "error", err)
		return
	}

	now := s.timeNow()
	var fires sync.WaitGroup
	for _, sched := range schedules {
		due, err := IsDue(sched, now)
		if err != nil {
			s.logger.Errorw("Failed to evaluate schedule",
				"schedule_id", sched.ID, "error", err)
			continue
		}
		if !due {
			continue
		}

		fires.Add(1)
		go func(sched *Schedule) {
			defer fires.Done()
			s.fire(ctx, sched, now)
		}(sched)
	}
	fires.Wait()
}

// fire creates and runs one job for a due schedule, then records the fire.
// Any failure, including a panic, is logged and contained here.
func (s *Scheduler) fire(ctx context.Context, sched *Schedule, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorw("Panic while firing schedule",
				"schedule_id", sched.ID, "panic", r)
		}
	}()

	input, err := json.Marshal(map[string]any{
		"schedule_id":  sched.ID,
		"scheduled_at": now.UTC().Format(time.RFC3339),
	})
	if err != nil {
		s.logger.Errorw("Failed to build schedule input",
			"schedule_id", sched.ID, "error", err)
		return
	}

	// The fire-time key makes a double fire (scheduler restart inside one
	// tick window) resolve to the same job.
	job, err := s.runner.CreateJob(ctx, batch.JobSpec{
		TaskName:       sched.TaskName,
		IdempotencyKey: fireKey(sched, now),
		Items:          []json.RawMessage{input},
	})
	if err != nil {
		s.logger.Errorw("Failed to create job for schedule",
			"schedule_id", sched.ID,
			"task_name", sched.TaskName,
			"error", err)
		return
	}

	if s.recorder != nil {
		if err := s.recorder.Record(ctx, job.ID, audit.EventScheduleFired, map[string]any{
			"schedule_id": sched.ID,
			"task_name":   sched.TaskName,
			"fired_at":    now.UTC().Format(time.RFC3339),
		}); err != nil {
			s.logger.Warnw("Failed to record schedule fire",
				"schedule_id", sched.ID, "error", err)
		}
	}

	// Advance the schedule before the run: the fire happened regardless of
	// how the job itself turns out. Catch-up schedules keep the stale
	// next-due as the anchor for the following due time.
	fired := *sched
	fired.LastFiredAt = &now
	if !fired.CatchUp {
		fired.NextDueAt = nil
	}
	next, err := NextDue(&fired, now)
	if err != nil {
		s.logger.Errorw("Failed to compute next due time",
			"schedule_id", sched.ID, "error", err)
	}
	if err := s.store.MarkFired(sched.ID, now, next, job.ID); err != nil {
		s.logger.Errorw("Failed to record schedule fire state",
			"schedule_id", sched.ID, "error", err)
	}

	result, err := s.runner.RunJob(ctx, job.ID)
	if err != nil {
		s.logger.Errorw("Failed to run scheduled job",
			"schedule_id", sched.ID,
			"job_id", job.ID,
			"error", err)
		return
	}

	s.logger.Infow("Schedule fired",
		"schedule_id", sched.ID,
		"job_id", job.ID,
		"status", result.Status,
		"succeeded", result.Succeeded,
		"failed", result.Failed,
		"skipped", result.Skipped)
}

// fireKey derives the idempotency key for one fire of a schedule.
func fireKey(sched *Schedule, now time.Time) string {
	return fmt.Sprintf("%s@%s", sched.ID, now.UTC().Format(time.RFC3339))
}
