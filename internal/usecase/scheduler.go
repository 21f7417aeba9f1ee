package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"PMCopilot/internal/domain"
	"PMCopilot/internal/ports"
)

// ErrRunInProgress is returned by TriggerOnce while another refresh runs.
var ErrRunInProgress = errors.New("fleet refresh already in progress")

// Trigger names recorded on run summaries.
const (
	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"
)

// FleetRunner performs one fleet-wide refresh.
type FleetRunner interface {
	RefreshAll(ctx context.Context, trigger string) (domain.RunSummary, error)
}

// SchedulerStatus is a point-in-time view of the scheduler.
type SchedulerStatus struct {
	IsActive  bool               `json:"isActive"`
	IsRunning bool               `json:"isRunning"`
	Interval  time.Duration      `json:"interval"`
	LastRun   *domain.RunSummary `json:"lastRun"`
}

// Scheduler wires the timer driver with the fleet refresher and keeps runs from overlapping.
type Scheduler struct {
	driver   ports.Scheduler
	runner   FleetRunner
	notifier ports.Notifier
	logger   *slog.Logger

	running atomic.Bool

	mu       sync.Mutex
	active   bool
	interval time.Duration
	lastRun  *domain.RunSummary
	cancel   context.CancelFunc
}

// NewScheduler returns a helper to start/stop recurring fleet refreshes.
func NewScheduler(driver ports.Scheduler, runner FleetRunner, notifier ports.Notifier, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{driver: driver, runner: runner, notifier: notifier, logger: logger}
}

// Start installs the recurring refresh, replacing a previous one.
func (s *Scheduler) Start(interval time.Duration) error {
	if s.driver == nil || s.runner == nil {
		return fmt.Errorf("scheduler not configured")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())

	job := func(time.Time) {
		if _, err := s.runExclusive(ctx, TriggerScheduled); errors.Is(err, ErrRunInProgress) {
			s.logger.Warn("scheduled refresh skipped, previous run still active")
		}
	}
	if err := s.driver.Start(interval, job); err != nil {
		cancel()
		s.cancel = nil
		s.active = false
		return err
	}

	s.cancel = cancel
	s.active = true
	s.interval = interval
	s.logger.Info("fleet scheduler started", "interval", interval)
	return nil
}

// Stop tears down the timer and cancels a scheduled run in flight.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	wasActive := s.active
	s.active = false
	s.mu.Unlock()

	if s.driver == nil {
		return nil
	}
	if err := s.driver.Stop(ctx); err != nil {
		return err
	}
	if wasActive {
		s.logger.Info("fleet scheduler stopped")
	}
	return nil
}

// TriggerOnce runs one refresh now, or returns ErrRunInProgress.
func (s *Scheduler) TriggerOnce(ctx context.Context) (domain.RunSummary, error) {
	if s.runner == nil {
		return domain.RunSummary{}, fmt.Errorf("scheduler not configured")
	}
	return s.runExclusive(ctx, TriggerManual)
}

// Status reports activity and the last completed run.
func (s *Scheduler) Status() SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := SchedulerStatus{
		IsActive:  s.active,
		IsRunning: s.running.Load(),
		Interval:  s.interval,
	}
	if s.lastRun != nil {
		last := *s.lastRun
		st.LastRun = &last
	}
	return st
}

func (s *Scheduler) runExclusive(ctx context.Context, trigger string) (domain.RunSummary, error) {
	if !s.running.CompareAndSwap(false, true) {
		return domain.RunSummary{}, ErrRunInProgress
	}
	defer s.running.Store(false)

	summary, err := s.runner.RefreshAll(ctx, trigger)

	s.mu.Lock()
	s.lastRun = &summary
	s.mu.Unlock()

	s.notify(ctx, summary)
	return summary, err
}

func (s *Scheduler) notify(ctx context.Context, summary domain.RunSummary) {
	if s.notifier == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("machines:updated notifier panicked", "panic", p)
		}
	}()

	event := domain.Event{Type: domain.EventMachinesUpdated, Timestamp: time.Now().UTC(), Payload: eventSummary(summary)}
	if err := s.notifier.Publish(context.WithoutCancel(ctx), event); err != nil {
		s.logger.Warn("machines:updated publish failed", "error", err)
	}
}

// eventSummary keeps the counts and only the failed items so broadcasts stay small.
func eventSummary(summary domain.RunSummary) domain.RunSummary {
	var failed []domain.ItemResult
	for _, item := range summary.Items {
		if !item.Success {
			item.Result = nil
			failed = append(failed, item)
		}
	}
	summary.Items = failed
	return summary
}
