package registry

import (
	"sort"
	"sync"

	"project-downlink/internal/transport"
)

// Registry maps names to models and keeps a handle index so transport
// callbacks, which carry only a task, resolve without a scan.
type Registry struct {
	mu       sync.RWMutex
	models   map[string]*Model
	byHandle map[string]string
}

func New() *Registry {
	return &Registry{
		models:   make(map[string]*Model),
		byHandle: make(map[string]string),
	}
}

// Upsert stores m under its name, replacing any prior model.
func (r *Registry) Upsert(m *Model) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.models[m.Name]; ok {
		r.unindex(prev)
	}
	r.models[m.Name] = m
	r.index(m)
}

// Get returns the model tracked under name.
func (r *Registry) Get(name string) (*Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[name]
	return m, ok
}

// Remove drops the model tracked under name.
func (r *Registry) Remove(name string) (*Model, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.models[name]
	if !ok {
		return nil, false
	}
	r.unindex(m)
	delete(r.models, name)
	return m, true
}

// FindByHandle returns the model whose tracked task is task.
func (r *Registry) FindByHandle(task transport.Task) (*Model, bool) {
	if task == nil {
		return nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	name, ok := r.byHandle[task.Identifier()]
	if !ok {
		return nil, false
	}
	m, ok := r.models[name]
	return m, ok
}

// Rebind swaps the task tracked by name.
func (r *Registry) Rebind(name string, task transport.Task) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.models[name]
	if !ok {
		return false
	}
	r.unindex(m)
	m.Task = task
	r.index(m)
	return true
}

// All returns the tracked models ordered by name.
func (r *Registry) All() []*Model {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Model, 0, len(r.models))
	for _, m := range r.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.models)
}

func (r *Registry) index(m *Model) {
	if id := m.TaskID(); id != "" {
		r.byHandle[id] = m.Name
	}
}

func (r *Registry) unindex(m *Model) {
	id := m.TaskID()
	if id == "" {
		return
	}
	if r.byHandle[id] == m.Name {
		delete(r.byHandle, id)
	}
}
