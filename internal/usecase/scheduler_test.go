package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"PMCopilot/internal/domain"
	"PMCopilot/internal/logging"
)

type blockingRunner struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{started: make(chan struct{}, 4), release: make(chan struct{})}
}

func (r *blockingRunner) RefreshAll(ctx context.Context, trigger string) (domain.RunSummary, error) {
	r.calls.Add(1)
	r.started <- struct{}{}
	<-r.release
	return domain.RunSummary{Trigger: trigger, Success: true, Total: 3, SuccessCount: 3}, nil
}

type fakeDriver struct {
	mu       sync.Mutex
	job      func(time.Time)
	interval time.Duration
	starts   int
	stopped  bool
}

func (d *fakeDriver) Start(interval time.Duration, job func(time.Time)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.job, d.interval = job, interval
	d.starts++
	d.stopped = false
	return nil
}

func (d *fakeDriver) Stop(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	return nil
}

func (d *fakeDriver) tick() {
	d.mu.Lock()
	job := d.job
	d.mu.Unlock()
	job(time.Now())
}

func TestTriggerOnceDoesNotOverlap(t *testing.T) {
	t.Parallel()

	runner := newBlockingRunner()
	s := NewScheduler(&fakeDriver{}, runner, nil, logging.Discard())

	done := make(chan error, 1)
	go func() {
		_, err := s.TriggerOnce(context.Background())
		done <- err
	}()
	<-runner.started

	if !s.Status().IsRunning {
		t.Fatalf("status should report a running refresh")
	}
	if _, err := s.TriggerOnce(context.Background()); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("expected ErrRunInProgress, got %v", err)
	}

	close(runner.release)
	if err := <-done; err != nil {
		t.Fatalf("first trigger failed: %v", err)
	}
	if got := runner.calls.Load(); got != 1 {
		t.Fatalf("expected the batch to run once, got %d", got)
	}

	st := s.Status()
	if st.IsRunning || st.LastRun == nil || st.LastRun.Trigger != TriggerManual {
		t.Fatalf("unexpected status after run: %+v", st)
	}
}

func TestScheduledTickSkipsWhileRunning(t *testing.T) {
	t.Parallel()

	runner := newBlockingRunner()
	driver := &fakeDriver{}
	notifier := &recordingNotifier{}
	s := NewScheduler(driver, runner, notifier, logging.Discard())

	if err := s.Start(time.Minute); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if err := s.Start(2 * time.Minute); err != nil {
		t.Fatalf("restart returned error: %v", err)
	}
	if driver.starts != 2 || driver.interval != 2*time.Minute {
		t.Fatalf("restart should replace the timer, got %d starts at %s", driver.starts, driver.interval)
	}

	go driver.tick()
	<-runner.started
	driver.tick()

	close(runner.release)
	deadline := time.Now().Add(2 * time.Second)
	for s.Status().IsRunning && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if got := runner.calls.Load(); got != 1 {
		t.Fatalf("overlapping tick must be skipped, got %d runs", got)
	}
	if types := notifier.types(); len(types) != 1 || types[0] != domain.EventMachinesUpdated {
		t.Fatalf("expected one machines:updated event, got %v", types)
	}

	st := s.Status()
	if !st.IsActive || st.Interval != 2*time.Minute || st.LastRun == nil || st.LastRun.Trigger != TriggerScheduled {
		t.Fatalf("unexpected status %+v", st)
	}

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if s.Status().IsActive || !driver.stopped {
		t.Fatalf("scheduler should be inactive after Stop")
	}
}

func TestNotifierPanicDoesNotEscape(t *testing.T) {
	t.Parallel()

	runner := newBlockingRunner()
	close(runner.release)
	s := NewScheduler(&fakeDriver{}, runner, &recordingNotifier{panics: true}, logging.Discard())

	summary, err := s.TriggerOnce(context.Background())
	if err != nil || !summary.Success {
		t.Fatalf("unexpected result %+v, %v", summary, err)
	}
	if s.Status().IsRunning {
		t.Fatalf("running flag must be cleared")
	}
}

type runnerFunc func(ctx context.Context, trigger string) (domain.RunSummary, error)

func (f runnerFunc) RefreshAll(ctx context.Context, trigger string) (domain.RunSummary, error) {
	return f(ctx, trigger)
}

func TestMachinesUpdatedCarriesOnlyFailures(t *testing.T) {
	t.Parallel()

	full := domain.RunSummary{
		Success: true, Total: 3, SuccessCount: 2, FailCount: 1,
		Items: []domain.ItemResult{
			{MachineID: "L_001", Success: true, Result: &domain.PredictionResult{}},
			{MachineID: "M_002", Success: false, Error: "invalid prediction payload", Kind: domain.KindValidation},
			{MachineID: "H_003", Success: true, Result: &domain.PredictionResult{}},
		},
	}
	notifier := &recordingNotifier{}
	s := NewScheduler(&fakeDriver{}, runnerFunc(func(context.Context, string) (domain.RunSummary, error) {
		return full, nil
	}), notifier, logging.Discard())

	summary, err := s.TriggerOnce(context.Background())
	if err != nil || len(summary.Items) != 3 {
		t.Fatalf("caller must receive the full summary, got %+v, %v", summary, err)
	}

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.events) != 1 {
		t.Fatalf("expected one event, got %d", len(notifier.events))
	}
	sent, ok := notifier.events[0].Payload.(domain.RunSummary)
	if !ok {
		t.Fatalf("unexpected payload %T", notifier.events[0].Payload)
	}
	if sent.Total != 3 || sent.FailCount != 1 || len(sent.Items) != 1 || sent.Items[0].MachineID != "M_002" {
		t.Fatalf("unexpected event payload %+v", sent)
	}
	if full.Items[0].Result == nil {
		t.Fatalf("trimming must not mutate the run summary")
	}
}
