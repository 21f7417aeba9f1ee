package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"PMCopilot/internal/ports"
)

// CronScheduler drives a single job on a constant interval through robfig/cron.
type CronScheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	entry   cron.EntryID
	started bool
}

var _ ports.Scheduler = (*CronScheduler)(nil)

// NewCronScheduler builds an idle scheduler.
func NewCronScheduler() *CronScheduler {
	return &CronScheduler{cron: cron.New()}
}

// Start schedules job every interval, replacing any previously scheduled job.
func (c *CronScheduler) Start(interval time.Duration, job func(time.Time)) error {
	if job == nil {
		return fmt.Errorf("scheduler job is nil")
	}
	if interval < time.Second {
		return fmt.Errorf("scheduler interval must be at least 1s, got %s", interval)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.entry != 0 {
		c.cron.Remove(c.entry)
		c.entry = 0
	}
	c.entry = c.cron.Schedule(cron.Every(interval), cron.FuncJob(func() {
		job(time.Now())
	}))
	if !c.started {
		c.cron.Start()
		c.started = true
	}
	return nil
}

// Stop removes the job and waits for a running invocation or ctx, whichever ends first.
func (c *CronScheduler) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	if c.entry != 0 {
		c.cron.Remove(c.entry)
		c.entry = 0
	}
	done := c.cron.Stop()
	c.started = false
	c.mu.Unlock()

	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Entries reports how many jobs are scheduled.
func (c *CronScheduler) Entries() int {
	return len(c.cron.Entries())
}
