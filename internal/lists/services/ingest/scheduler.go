package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/haukened/rr-lists/internal/lists/common/log"
)

// Refresher refreshes every configured list.
type Refresher interface {
	RefreshAll(ctx context.Context) ([]Result, error)
}

// SchedulerConfig holds the scheduler's timing.
type SchedulerConfig struct {
	Interval      time.Duration // time between refresh rounds
	UpdateTimeout time.Duration // upper bound for one round
}

// DefaultSchedulerConfig returns the daemon defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval:      12 * time.Hour,
		UpdateTimeout: 5 * time.Minute,
	}
}

// SchedulerStatus is a snapshot of the scheduler's state.
type SchedulerStatus struct {
	Running             bool
	LastRun             time.Time
	LastSuccess         time.Time
	LastError           error
	ConsecutiveFailures int
	Rounds              int
}

// Scheduler runs refresh rounds periodically and on demand.
type Scheduler struct {
	refresher     Refresher
	interval      time.Duration
	updateTimeout time.Duration
	logger        log.Logger

	mu                  sync.RWMutex
	started             bool
	running             bool
	lastRun             time.Time
	lastSuccess         time.Time
	lastError           error
	consecutiveFailures int
	rounds              int

	stopCh    chan struct{}
	triggerCh chan struct{}
	doneCh    chan struct{}
}

// NewScheduler creates a Scheduler. Non-positive durations fall back to the
// defaults.
func NewScheduler(r Refresher, cfg SchedulerConfig, logger log.Logger) *Scheduler {
	def := DefaultSchedulerConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.UpdateTimeout <= 0 {
		cfg.UpdateTimeout = def.UpdateTimeout
	}
	if logger == nil {
		logger = log.GetLogger()
	}
	return &Scheduler{
		refresher:     r,
		interval:      cfg.Interval,
		updateTimeout: cfg.UpdateTimeout,
		logger:        log.With(logger, map[string]any{"component": "scheduler"}),
		stopCh:        make(chan struct{}),
		triggerCh:     make(chan struct{}, 1),
		doneCh:        make(chan struct{}),
	}
}

// Start runs an immediate round and then one every interval until Stop is
// called or ctx is done. A Scheduler can be started once.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("scheduler is already started")
	}
	s.started = true
	s.running = true
	s.mu.Unlock()

	go s.run(ctx)
	return nil
}

// Stop ends the loop and waits for an in-flight round to finish. It also
// waits for a loop that already exited because its context was cancelled.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return fmt.Errorf("scheduler is not running")
	}
	select {
	case <-s.stopCh:
		s.mu.Unlock()
		return fmt.Errorf("scheduler is already stopped")
	default:
		close(s.stopCh)
	}
	s.mu.Unlock()

	<-s.doneCh
	return nil
}

// Trigger requests an immediate round. Requests made while one is already
// pending are dropped.
func (s *Scheduler) Trigger() {
	select {
	case s.triggerCh <- struct{}{}:
	default:
	}
}

// Status returns the current scheduler state.
func (s *Scheduler) Status() SchedulerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SchedulerStatus{
		Running:             s.running,
		LastRun:             s.lastRun,
		LastSuccess:         s.lastSuccess,
		LastError:           s.lastError,
		ConsecutiveFailures: s.consecutiveFailures,
		Rounds:              s.rounds,
	}
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.round(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.round(ctx)
		case <-s.triggerCh:
			s.round(ctx)
		}
	}
}

func (s *Scheduler) round(ctx context.Context) {
	roundCtx, cancel := context.WithTimeout(ctx, s.updateTimeout)
	defer cancel()

	start := time.Now()
	results, err := s.refresher.RefreshAll(roundCtx)

	s.mu.Lock()
	s.rounds++
	s.lastRun = start
	s.lastError = err
	if err != nil {
		s.consecutiveFailures++
	} else {
		s.consecutiveFailures = 0
		s.lastSuccess = start
	}
	s.mu.Unlock()

	for _, r := range results {
		s.logger.Info(map[string]any{"list": r.List.String(), "outcome": r.Outcome.String(), "entries": r.Entries}, "list refresh finished")
	}
	if err != nil {
		s.logger.Warn(map[string]any{"error": err, "took": time.Since(start).String()}, "refresh round finished with errors")
	}
}
