// Package scheduler generates due workflow cycles on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"cycleline/internal/domain"
	"cycleline/internal/metrics"
)

// ActorID is recorded on events written by scheduled runs.
const ActorID = "scheduler"

var ErrStopped = errors.New("scheduler: stopped")

// Generator is the part of the engine the scheduler drives.
type Generator interface {
	GenerateDueCycles(ctx context.Context, actorID string) ([]domain.Cycle, error)
}

type Scheduler struct {
	Generator Generator
	Metrics   *metrics.Metrics
	Logger    *slog.Logger

	spec    string
	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	started bool
	stopped bool
}

// New validates spec (standard five-field cron or a descriptor such as
// "@hourly") and returns a scheduler that has not been started.
func New(gen Generator, spec string, m *metrics.Metrics, logger *slog.Logger) (*Scheduler, error) {
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("scheduler: invalid spec %q: %w", spec, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		Generator: gen,
		Metrics:   m,
		Logger:    logger.With(slog.String("component", "scheduler")),
		spec:      spec,
	}, nil
}

// Start registers the job and starts the cron loop. Overlapping runs are
// skipped. Calling Start twice is a no-op.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	if s.started {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	log := cronLogger{s.Logger}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(log),
		cron.WithChain(cron.Recover(log), cron.SkipIfStillRunning(log)),
	)
	if _, err := c.AddFunc(s.spec, func() { s.RunOnce(ctx) }); err != nil {
		cancel()
		return fmt.Errorf("scheduler: add job: %w", err)
	}
	c.Start()
	s.cron = c
	s.cancel = cancel
	s.started = true
	s.Logger.Info("scheduler started", slog.String("spec", s.spec))
	return nil
}

// Stop cancels an in-flight run and waits for it to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.stopped = true
		s.mu.Unlock()
		return
	}
	s.stopped = true
	c, cancel := s.cron, s.cancel
	s.mu.Unlock()

	cancel()
	<-c.Stop().Done()
	s.Logger.Info("scheduler stopped")
}

// Run starts the scheduler and blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	s.Stop()
	return nil
}

// RunOnce performs one generation pass immediately.
func (s *Scheduler) RunOnce(ctx context.Context) ([]domain.Cycle, error) {
	start := time.Now()
	cycles, err := s.Generator.GenerateDueCycles(ctx, ActorID)
	s.Metrics.SchedulerRun(err == nil)
	s.Metrics.Observe("scheduler_run", start)
	if err != nil {
		s.Logger.Error("scheduled run failed", slog.Int("generated", len(cycles)), slog.Any("error", err))
		return cycles, err
	}
	if len(cycles) > 0 {
		s.Logger.Info("scheduled run", slog.Int("generated", len(cycles)))
	} else {
		s.Logger.Debug("scheduled run", slog.Int("generated", 0))
	}
	return cycles, nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}
