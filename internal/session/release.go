package session

import (
	"errors"
	"fmt"
	"sync"
)

// releaseStack runs cleanup steps in reverse acquisition order, exactly once.
// Every step runs even if an earlier one failed.
type releaseStack struct {
	mu    sync.Mutex
	steps []releaseStep
	done  bool
}

type releaseStep struct {
	name string
	fn   func() error
}

func (r *releaseStack) push(name string, fn func() error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, releaseStep{name: name, fn: fn})
}

// run releases everything pushed so far. Later calls return nil.
func (r *releaseStack) run() error {
	r.mu.Lock()
	if r.done {
		r.mu.Unlock()
		return nil
	}
	r.done = true
	steps := r.steps
	r.steps = nil
	r.mu.Unlock()

	var errs []error
	for i := len(steps) - 1; i >= 0; i-- {
		if err := steps[i].fn(); err != nil {
			errs = append(errs, fmt.Errorf("release %s: %w", steps[i].name, err))
		}
	}
	return errors.Join(errs...)
}
