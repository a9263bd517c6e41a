// internal/app/system/tasks/scheduler.go
package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job is a named unit of background work. Schedule is a cron spec; when it
// is empty the job runs every Interval.
type Job struct {
	Name     string
	Schedule string
	Interval time.Duration
	Timeout  time.Duration
	Run      func(ctx context.Context) error
}

func (j Job) spec() (string, error) {
	if j.Schedule != "" {
		return j.Schedule, nil
	}
	if j.Interval <= 0 {
		return "", fmt.Errorf("job %s: needs a schedule or a positive interval", j.Name)
	}
	return "@every " + j.Interval.String(), nil
}

// Scheduler runs Jobs on a cron. A run that is still going when its next
// tick arrives makes that tick a no-op.
type Scheduler struct {
	c   *cron.Cron
	log *zap.Logger
}

// NewScheduler creates a scheduler in UTC.
func NewScheduler(log *zap.Logger) *Scheduler {
	cl := cronLogger{log: log}
	return &Scheduler{
		c: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		log: log,
	}
}

// Add registers j. Jobs added after Start are picked up on their next tick.
func (s *Scheduler) Add(j Job) error {
	spec, err := j.spec()
	if err != nil {
		return err
	}
	timeout := j.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	_, err = s.c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		start := time.Now()
		if err := j.Run(ctx); err != nil {
			s.log.Error("scheduled job failed", zap.String("job", j.Name), zap.Error(err))
			return
		}
		s.log.Debug("scheduled job finished",
			zap.String("job", j.Name),
			zap.Duration("took", time.Since(start)))
	})
	if err != nil {
		return fmt.Errorf("job %s: %w", j.Name, err)
	}
	s.log.Info("scheduled job registered", zap.String("job", j.Name), zap.String("schedule", spec))
	return nil
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() {
	s.c.Start()
}

// Stop prevents new runs and waits for running jobs, or until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.c.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out; jobs still running")
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	log *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
