package receiver

import (
	"context"
	"errors"
	"sync"
)

// Extension is the lifetime token handed to every event handler. Work
// registered through WaitUntil keeps the worker alive until the host calls
// Await; anything a handler starts without registering it may be cut off
// when the handler returns.
type Extension struct {
	mu    sync.Mutex
	tasks []func(ctx context.Context) error
}

// NewExtension creates an empty lifetime token.
func NewExtension() *Extension {
	return &Extension{}
}

// WaitUntil registers pending work. Safe to call multiple times; tasks run
// in registration order.
func (e *Extension) WaitUntil(task func(ctx context.Context) error) {
	e.mu.Lock()
	e.tasks = append(e.tasks, task)
	e.mu.Unlock()
}

// Pending reports whether any work is registered.
func (e *Extension) Pending() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.tasks) > 0
}

// Await drains the registered tasks, including any a running task registers.
// All tasks run even when earlier ones fail; errors are joined.
func (e *Extension) Await(ctx context.Context) error {
	var errs []error
	for {
		e.mu.Lock()
		if len(e.tasks) == 0 {
			e.mu.Unlock()
			return errors.Join(errs...)
		}
		task := e.tasks[0]
		e.tasks = e.tasks[1:]
		e.mu.Unlock()

		if err := task(ctx); err != nil {
			errs = append(errs, err)
		}
	}
}
