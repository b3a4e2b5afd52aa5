package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/robfig/cron/v3"
)

// Scheduler runs registered jobs on cron cadences. Specs use six fields
// with seconds first, matching the configuration format. A job still
// running when its next tick arrives is skipped, so a scheduled sync never
// has two attempts in flight at once.
type Scheduler struct {
	cron    *cron.Cron
	logger  *slog.Logger
	ctx     context.Context
	started int32
}

// NewScheduler creates an idle scheduler. Register jobs before calling Run.
func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default().With(slog.String("component", "scheduler"))
	}
	s := &Scheduler{logger: logger, ctx: context.Background()}
	s.cron = cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger})),
	)
	return s
}

// Register adds a named job under the given cron spec.
func (s *Scheduler) Register(spec, name string, job func(context.Context)) error {
	_, err := s.cron.AddFunc(spec, func() {
		s.logger.Info("scheduled job starting", slog.String("job", name))
		job(s.ctx)
		s.logger.Info("scheduled job finished", slog.String("job", name))
	})
	if err != nil {
		return fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}
	s.logger.Info("job registered",
		slog.String("job", name),
		slog.String("spec", spec))
	return nil
}

// Run starts the scheduler and blocks until the context is cancelled, then
// waits for any running job to finish before returning. Jobs receive the
// run context, so cancelling it also winds down whatever is in flight.
func (s *Scheduler) Run(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.started, 0, 1) {
		return fmt.Errorf("scheduler is already running")
	}
	s.ctx = ctx

	s.cron.Start()
	s.logger.Info("scheduler started", slog.Int("jobs", len(s.cron.Entries())))

	<-ctx.Done()
	s.logger.Info("scheduler stopping, waiting for running jobs")
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
	return nil
}

// cronLogger adapts slog to the cron logging interface. Routine messages
// land at debug so tick chatter stays out of normal logs.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	args := append([]interface{}{"error", err}, keysAndValues...)
	l.logger.Error(msg, args...)
}
