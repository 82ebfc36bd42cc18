package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs a pass every 30 seconds
const DefaultSchedule = "@every 30s"

// Scheduler triggers worker passes on a cron schedule. A pass still
// running when the next tick fires makes that tick a no-op.
type Scheduler struct {
	cron     *cron.Cron
	worker   *Worker
	schedule string
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	last   *PassResult
}

// NewScheduler creates a scheduler running worker passes on schedule
func NewScheduler(worker *Worker, schedule string, logger *slog.Logger) *Scheduler {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	logger = logger.With("component", "scheduler")

	cronLogger := cronLog{logger: logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		worker:   worker,
		schedule: schedule,
		logger:   logger,
	}
}

// Start registers the pass and starts the cron loop
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	if _, err := s.cron.AddFunc(s.schedule, s.runPass); err != nil {
		return fmt.Errorf("invalid dispatch schedule %q: %w", s.schedule, err)
	}
	s.cron.Start()
	s.logger.Info("scheduler started", "schedule", s.schedule)
	return nil
}

// Stop stops scheduling and waits for a running pass to finish
func (s *Scheduler) Stop() {
	s.logger.Info("stopping scheduler...")
	<-s.cron.Stop().Done()
	if s.cancel != nil {
		s.cancel()
	}
	s.logger.Info("scheduler stopped")
}

// LastResult returns the result of the most recent pass
func (s *Scheduler) LastResult() *PassResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Scheduler) runPass() {
	result, err := s.worker.RunOnce(s.ctx, time.Now())
	if err != nil {
		s.logger.Error("dispatch pass failed", "error", err)
		return
	}

	s.mu.Lock()
	s.last = result
	s.mu.Unlock()
}

// cronLog adapts slog to the cron logger interface
type cronLog struct {
	logger *slog.Logger
}

func (l cronLog) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLog) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
