package notify

import (
	"context"
	"errors"
	"fmt"

	"PMCopilot/internal/domain"
	"PMCopilot/internal/ports"
)

// Fanout publishes each event to every configured notifier.
type Fanout struct {
	targets []named
}

type named struct {
	name     string
	notifier ports.Notifier
}

var _ ports.Notifier = (*Fanout)(nil)

// NewFanout builds an empty fanout.
func NewFanout() *Fanout {
	return &Fanout{}
}

// Add registers a notifier; nil notifiers are ignored.
func (f *Fanout) Add(name string, n ports.Notifier) *Fanout {
	if n != nil {
		f.targets = append(f.targets, named{name: name, notifier: n})
	}
	return f
}

// Len returns the number of registered notifiers.
func (f *Fanout) Len() int {
	return len(f.targets)
}

// Publish delivers to all targets and joins their errors.
func (f *Fanout) Publish(ctx context.Context, event domain.Event) error {
	var errs []error
	for _, t := range f.targets {
		if err := t.notifier.Publish(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t.name, err))
		}
	}
	return errors.Join(errs...)
}
