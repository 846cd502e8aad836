package pipeline

import (
	"sync"

	"github.com/cockroachdb/errors"
)

// Workspace collects the release functions of one job's scratch resources.
// Close runs them in reverse registration order.
type Workspace struct {
	mu       sync.Mutex
	cleanups []func() error
	closed   bool
}

// NewWorkspace returns an open workspace.
func NewWorkspace() *Workspace {
	return &Workspace{}
}

// Defer registers fn to run on Close. If the workspace is already closed fn
// runs immediately and its error is returned.
func (w *Workspace) Defer(fn func() error) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return fn()
	}
	w.cleanups = append(w.cleanups, fn)
	w.mu.Unlock()
	return nil
}

// Close runs every registered function, even when earlier ones fail, and
// returns their joined errors. Further calls are no-ops.
func (w *Workspace) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	cleanups := w.cleanups
	w.cleanups = nil
	w.mu.Unlock()

	var errs []error
	for i := len(cleanups) - 1; i >= 0; i-- {
		if err := cleanups[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
