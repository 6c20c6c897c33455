package batch

import (
	"sort"
	"sync"

	"github.com/finledger/batchcore/errors"
)

// Registry maps task names to registered task implementations.
// Registration happens once at process initialization; lookups are
// read-mostly afterwards and take only a read lock.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]Task
}

// NewRegistry creates an empty task registry.
func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]Task)}
}

// Register adds a task under its name. Registering a duplicate name is a
// configuration error and fails fast.
func (r *Registry) Register(task Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := task.Name()
	if name == "" {
		return errors.New("task name cannot be empty")
	}
	if _, exists := r.tasks[name]; exists {
		return errors.Wrapf(errors.ErrTaskAlreadyRegistered, "%s", name)
	}
	r.tasks[name] = task
	return nil
}

// MustRegister registers a task and panics on duplicate names. Intended for
// process-initialization wiring where a duplicate is a programming error.
func (r *Registry) MustRegister(task Task) {
	if err := r.Register(task); err != nil {
		panic(err)
	}
}

// Get returns the task registered under name. A missing task is a
// configuration error surfaced to the caller before any item executes.
func (r *Registry) Get(name string) (Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	task, ok := r.tasks[name]
	if !ok {
		return nil, errors.Wrapf(errors.ErrTaskNotRegistered, "%s", name)
	}
	return task, nil
}

// Has checks if a task is registered under name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tasks[name]
	return ok
}

// Names returns all registered task names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
