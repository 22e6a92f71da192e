package orchestrator

import (
	"context"
	"sync"
)

// Registry tracks in-flight background clone tasks by call ID so a
// call-ended signal can find and cancel them. It is transient by design:
// durability lives in the call state store, never here.
type Registry struct {
	mu    sync.Mutex
	tasks map[string]*taskEntry
}

type taskEntry struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRegistry creates an empty task registry.
func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]*taskEntry)}
}

// Spawn starts fn on its own goroutine under a cancellable context keyed by
// callID. It returns false without starting anything when a task for the
// call already exists, which keeps at most one background task per call.
func (r *Registry) Spawn(parent context.Context, callID string, fn func(ctx context.Context)) bool {
	r.mu.Lock()
	if _, exists := r.tasks[callID]; exists {
		r.mu.Unlock()
		return false
	}

	ctx, cancel := context.WithCancel(parent)
	entry := &taskEntry{cancel: cancel, done: make(chan struct{})}
	r.tasks[callID] = entry
	r.mu.Unlock()

	go func() {
		defer func() {
			cancel()
			close(entry.done)
			r.mu.Lock()
			delete(r.tasks, callID)
			r.mu.Unlock()
		}()
		fn(ctx)
	}()

	return true
}

// Cancel cancels the task for callID if one is running. The task observes
// the cancellation at its next checkpoint, not preemptively.
func (r *Registry) Cancel(callID string) bool {
	r.mu.Lock()
	entry, ok := r.tasks[callID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	entry.cancel()
	return true
}

// Done returns a channel closed when the task for callID finishes, or nil
// when no such task exists.
func (r *Registry) Done(callID string) <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.tasks[callID]; ok {
		return entry.done
	}
	return nil
}

// Count returns the number of in-flight background tasks.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}
