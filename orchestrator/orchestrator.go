// Package orchestrator wires the batchcore components together: database,
// task registry, executor, schedule store, and scheduler.
package orchestrator

import (
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/finledger/batchcore/audit"
	"github.com/finledger/batchcore/batch"
	"github.com/finledger/batchcore/config"
	"github.com/finledger/batchcore/db"
	"github.com/finledger/batchcore/schedule"
	"github.com/finledger/batchcore/tasks"
)

// Orchestrator is the composition root for a batchcore process.
type Orchestrator struct {
	conn      *sql.DB
	logger    *zap.SugaredLogger
	Registry  *batch.Registry
	Executor  *batch.Executor
	Schedules *schedule.Store
	Scheduler *schedule.Scheduler
}

// Option customizes the orchestrator during New.
type Option func(*options)

type options struct {
	recorder audit.Recorder
	poster   tasks.Poster
}

// WithRecorder replaces the default log-backed audit recorder.
func WithRecorder(r audit.Recorder) Option {
	return func(o *options) { o.recorder = r }
}

// WithPoster replaces the default ledger poster.
func WithPoster(p tasks.Poster) Option {
	return func(o *options) { o.poster = p }
}

// New opens the database, runs migrations, and wires all components.
// The caller owns the returned orchestrator and must Close it.
func New(cfg *config.Config, logger *zap.SugaredLogger, opts ...Option) (*Orchestrator, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.recorder == nil {
		o.recorder = audit.NewLogRecorder(logger)
	}
	if o.poster == nil {
		o.poster = NewLedgerPoster()
	}

	conn, err := db.Open(cfg.Database.Path, logger)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(conn, logger); err != nil {
		conn.Close()
		return nil, err
	}

	registry := batch.NewRegistry()
	tasks.RegisterAll(registry, o.poster)

	executor := batch.NewExecutor(conn, registry, o.recorder, batch.ExecutorConfig{
		LeaseTTL:           cfg.Executor.LeaseTTL(),
		DefaultMaxAttempts: cfg.Executor.DefaultMaxAttempts,
	}, logger)

	schedules := schedule.NewStore(conn)
	scheduler := schedule.NewScheduler(schedules, executor, o.recorder, schedule.SchedulerConfig{
		TickInterval:    cfg.Scheduler.TickInterval(),
		MetricsInterval: cfg.Scheduler.MetricsInterval(),
	}, logger)

	return &Orchestrator{
		conn:      conn,
		logger:    logger,
		Registry:  registry,
		Executor:  executor,
		Schedules: schedules,
		Scheduler: scheduler,
	}, nil
}

// LoadSchedules reads schedule definitions from the YAML file and upserts
// them, preserving each schedule's fire history.
func (o *Orchestrator) LoadSchedules(path string) error {
	schedules, err := config.LoadSchedules(path)
	if err != nil {
		return err
	}

	now := time.Now()
	for _, sched := range schedules {
		if err := o.Schedules.Upsert(sched, now); err != nil {
			return err
		}
	}

	o.logger.Infow("Schedules loaded", "count", len(schedules), "path", path)
	return nil
}

// Start launches the scheduler loop.
func (o *Orchestrator) Start() {
	o.Scheduler.Start()
}

// Stop shuts down the scheduler, waiting for the in-flight tick, then
// closes the database.
func (o *Orchestrator) Stop() error {
	o.Scheduler.Stop()
	return o.conn.Close()
}

// DB exposes the underlying connection for read-side callers.
func (o *Orchestrator) DB() *sql.DB {
	return o.conn
}
