package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Stewart-Y/ABVTrends-sub000/pkg/locks"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/models"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/sources"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/tracing"
)

var (
	// ErrSchedulerAlreadyRunning is returned when trying to start an already running scheduler
	ErrSchedulerAlreadyRunning = errors.New("scheduler already running")
)

const (
	DefaultPollInterval  = time.Minute
	DefaultTier1Interval = time.Hour
	DefaultTier2Interval = 4 * time.Hour
)

type SchedulerConfig struct {
	// PollInterval is how often due sources are checked
	PollInterval  time.Duration
	Tier1Interval time.Duration
	Tier2Interval time.Duration
	// LockTTL bounds how long a crashed replica can hold the cycle lock. The
	// holder extends it while the cycle runs.
	LockTTL time.Duration
}

func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		PollInterval:  DefaultPollInterval,
		Tier1Interval: DefaultTier1Interval,
		Tier2Interval: DefaultTier2Interval,
	}
}

// Scheduler starts a cycle on each tick for the sources that are due. Failed
// sources are due again on the next tick; no immediate retry happens.
type Scheduler struct {
	orchestrator *Orchestrator
	locker       locks.Locker
	config       SchedulerConfig
	logger       ectologger.Logger

	stopCh   chan struct{}
	stoppedC chan struct{}
	running  bool
	mu       sync.RWMutex
}

func NewScheduler(orchestrator *Orchestrator, locker locks.Locker, config SchedulerConfig, logger ectologger.Logger) *Scheduler {
	d := DefaultSchedulerConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = d.PollInterval
	}
	if config.Tier1Interval <= 0 {
		config.Tier1Interval = d.Tier1Interval
	}
	if config.Tier2Interval <= 0 {
		config.Tier2Interval = d.Tier2Interval
	}
	if config.LockTTL <= 0 {
		config.LockTTL = orchestrator.config.CycleMaxWait + orchestrator.config.SourceTimeout
	}
	return &Scheduler{
		orchestrator: orchestrator,
		locker:       locker,
		config:       config,
		logger:       logger,
		stopCh:       make(chan struct{}),
		stoppedC:     make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrSchedulerAlreadyRunning
	}
	s.running = true
	s.mu.Unlock()

	s.logger.WithContext(ctx).Infof("Starting scheduler: poll_interval=%s tier1=%s tier2=%s",
		s.config.PollInterval, s.config.Tier1Interval, s.config.Tier2Interval)

	go s.pollLoop(ctx)
	return nil
}

// Stop stops the scheduler and waits for the current tick to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)

	select {
	case <-s.stoppedC:
		s.logger.WithContext(ctx).Info("Scheduler stopped gracefully")
	case <-ctx.Done():
		s.logger.WithContext(ctx).Warn("Scheduler shutdown timed out")
		return ctx.Err()
	}
	return nil
}

func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Scheduler) pollLoop(ctx context.Context) {
	defer close(s.stoppedC)

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	// tick cancels its cycle when the scheduler stops
	tickCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-tickCtx.Done():
		}
	}()

	s.Tick(tickCtx)
	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(tickCtx)
		}
	}
}

// Tick runs one scheduling pass: take the cycle lock, pick due sources, run a
// cycle over them.
func (s *Scheduler) Tick(ctx context.Context) {
	ctx, span := tracing.StartSpan(ctx, "pipeline.Scheduler.Tick")
	defer span.End()

	handle, err := s.locker.Acquire(ctx, locks.CycleKey, s.config.LockTTL, 0)
	if err != nil {
		if errors.Is(err, locks.ErrNotAcquired) {
			s.logger.WithContext(ctx).Debug("Another replica holds the cycle lock")
			return
		}
		s.logger.WithContext(ctx).WithError(err).Error("Failed to take cycle lock")
		return
	}
	defer handle.Release(context.WithoutCancel(ctx))

	due, err := s.Due(ctx)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Failed to select due sources")
		return
	}
	if len(due) == 0 {
		s.logger.WithContext(ctx).Debug("No sources due")
		return
	}

	stop := locks.KeepAlive(ctx, handle, s.config.LockTTL, func(err error) {
		s.logger.WithContext(ctx).WithError(err).Warn("Failed to extend cycle lock")
	})
	defer stop()

	if _, err := s.orchestrator.RunCycle(ctx, due); err != nil {
		s.logger.WithContext(ctx).WithError(err).Warn("Scheduled cycle ended early")
	}
}

// Due lists enabled sources that have never run, failed last time, or completed
// longer ago than their tier interval.
func (s *Scheduler) Due(ctx context.Context) ([]string, error) {
	runs, err := s.orchestrator.deps.Runs.LatestRuns(ctx)
	if err != nil {
		return nil, err
	}
	latest := make(map[string]models.ScrapeRun, len(runs))
	for _, run := range runs {
		latest[run.SourceID] = run
	}

	now := s.orchestrator.now()
	var due []string
	for _, def := range s.orchestrator.deps.Sources.Registry().Enabled() {
		if s.isDue(def, latest, now) {
			due = append(due, def.ID)
		}
	}
	return due, nil
}

func (s *Scheduler) isDue(def sources.Definition, latest map[string]models.ScrapeRun, now time.Time) bool {
	run, ok := latest[def.ID]
	if !ok {
		return true
	}
	switch run.Status {
	case models.RunStatusFailed:
		return true
	case models.RunStatusRunning:
		return !s.orchestrator.runLive(run)
	}
	if run.CompletedAt == nil {
		return true
	}
	return now.Sub(*run.CompletedAt) >= s.interval(def.Tier)
}

func (s *Scheduler) interval(tier int) time.Duration {
	if tier == 1 {
		return s.config.Tier1Interval
	}
	return s.config.Tier2Interval
}
