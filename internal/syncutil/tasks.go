package syncutil

import (
	"context"
	"sort"
	"sync"
)

// TaskRegistry is a named background-task registry: a long-lived goroutine
// registers under a unique name so it can be enumerated for leak
// detection, refuse a second concurrent registration under the same name,
// and be cancelled by name. addonsync's autoupdate loop is the goroutine
// that registers in one; supervisor goroutines and expiry timers do not.
type TaskRegistry struct {
	mu    sync.Mutex
	tasks map[string]context.CancelFunc
}

// NewTaskRegistry returns an empty registry.
func NewTaskRegistry() *TaskRegistry {
	return &TaskRegistry{tasks: map[string]context.CancelFunc{}}
}

// Start registers name under parent, returning the derived context and
// true, or (nil, false) if name is already registered.
func (r *TaskRegistry) Start(parent context.Context, name string) (context.Context, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, running := r.tasks[name]; running {
		return nil, false
	}
	ctx, cancel := context.WithCancel(parent)
	r.tasks[name] = cancel
	return ctx, true
}

// End cancels and removes name's registration. Safe to call whether or not
// name is currently registered.
func (r *TaskRegistry) End(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cancel, ok := r.tasks[name]; ok {
		cancel()
		delete(r.tasks, name)
	}
}

// Stop cancels name's task without removing the registration; the task's
// own deferred End call is expected to do that. Returns false if name is
// not registered.
func (r *TaskRegistry) Stop(name string) bool {
	r.mu.Lock()
	cancel, ok := r.tasks[name]
	r.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

// Names returns the currently registered task names, sorted, for leak
// detection / diagnostics commands.
func (r *TaskRegistry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
