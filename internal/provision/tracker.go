package provision

import (
	"context"
	"errors"
	"sync"

	"github.com/OldStager01/vm-scaling/internal/logger"
)

// Tracker records every instance a run launches, plus any additional cleanup
// steps, and releases all of it exactly once at teardown. It is the scoped
// acquisition guarantee of a run: main defers Teardown before provisioning
// anything, so resources are released on every exit path.
type Tracker struct {
	mu       sync.Mutex
	ids      []string
	seen     map[string]bool
	cleanups []cleanup
	torn     bool
}

type cleanup struct {
	name string
	fn   func(ctx context.Context) error
}

func NewTracker() *Tracker {
	return &Tracker{seen: make(map[string]bool)}
}

// Track records an instance id for teardown. Duplicates are ignored.
func (t *Tracker) Track(id string) {
	if id == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.seen[id] {
		return
	}
	t.seen[id] = true
	t.ids = append(t.ids, id)
}

// IDs returns the tracked instance ids in launch order.
func (t *Tracker) IDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.ids))
	copy(out, t.ids)
	return out
}

// OnTeardown registers an extra cleanup step, run after instance termination
// in reverse registration order.
func (t *Tracker) OnTeardown(name string, fn func(ctx context.Context) error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cleanups = append(t.cleanups, cleanup{name: name, fn: fn})
}

// Teardown terminates every tracked instance and runs the registered cleanup
// steps. Each step logs and continues on error so one failure cannot strand
// the rest. A second call is a no-op.
func (t *Tracker) Teardown(ctx context.Context, p Provisioner) error {
	t.mu.Lock()
	if t.torn {
		t.mu.Unlock()
		return nil
	}
	t.torn = true
	ids := make([]string, len(t.ids))
	copy(ids, t.ids)
	cleanups := make([]cleanup, len(t.cleanups))
	copy(cleanups, t.cleanups)
	t.mu.Unlock()

	var errs []error

	if len(ids) > 0 {
		if err := p.Terminate(ctx, ids); err != nil {
			logger.Errorf("Teardown: terminating instances: %v", err)
			errs = append(errs, err)
		} else {
			logger.Infof("Teardown: terminated %d instances", len(ids))
		}
	}

	for i := len(cleanups) - 1; i >= 0; i-- {
		c := cleanups[i]
		if err := c.fn(ctx); err != nil {
			logger.Errorf("Teardown: %s: %v", c.name, err)
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
