package task

import (
	"fmt"
	"sort"

	"github.com/stint-dev/stint-core/logger"
	"github.com/stint-dev/stint-core/taskid"
)

// Registry routes qualified task ids to their backends. Backends register
// unconditionally and report their own availability; the registry queries
// rather than branching on conditional construction.
type Registry struct {
	backends       map[string]Backend
	order          []string // registration order, for stable listing
	defaultBackend string
}

// NewRegistry creates a registry. Bare ids ("123", "#123") normalize against
// defaultBackend.
func NewRegistry(defaultBackend string, backends ...Backend) *Registry {
	r := &Registry{
		backends:       make(map[string]Backend),
		defaultBackend: defaultBackend,
	}
	for _, b := range backends {
		r.Register(b)
	}
	return r
}

// Register adds a backend. A later registration with the same prefix
// replaces the earlier one.
func (r *Registry) Register(b Backend) {
	prefix := b.Prefix()
	if _, exists := r.backends[prefix]; !exists {
		r.order = append(r.order, prefix)
	}
	r.backends[prefix] = b
}

// DefaultBackend returns the prefix bare ids resolve against.
func (r *Registry) DefaultBackend() string {
	return r.defaultBackend
}

// AvailableBackends returns the backends that report themselves usable,
// in registration order.
func (r *Registry) AvailableBackends() []Backend {
	var out []Backend
	for _, prefix := range r.order {
		if b := r.backends[prefix]; b.Available() {
			out = append(out, b)
		}
	}
	return out
}

// Resolve normalizes a raw id and returns it with its backend.
func (r *Registry) Resolve(raw string) (taskid.ID, Backend, error) {
	id, err := taskid.Parse(raw, r.defaultBackend)
	if err != nil {
		return taskid.ID{}, nil, err
	}

	b, ok := r.backends[id.Backend]
	if !ok {
		return taskid.ID{}, nil, fmt.Errorf("unknown task backend %q in id %q", id.Backend, id.String())
	}
	if !b.Available() {
		return taskid.ID{}, nil, fmt.Errorf("task backend %q (%s) is not configured", id.Backend, b.Name())
	}
	return id, b, nil
}

// List returns tasks from every available backend, sorted by id.
func (r *Registry) List(filter Filter) ([]Task, error) {
	var all []Task
	for _, b := range r.AvailableBackends() {
		tasks, err := b.List(filter)
		if err != nil {
			return nil, fmt.Errorf("listing %s tasks: %w", b.Name(), err)
		}
		all = append(all, tasks...)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].ID.Backend != all[j].ID.Backend {
			return all[i].ID.Backend < all[j].ID.Backend
		}
		return all[i].ID.Local < all[j].ID.Local
	})
	return all, nil
}

// Get returns the task for a raw id.
func (r *Registry) Get(raw string) (*Task, error) {
	id, b, err := r.Resolve(raw)
	if err != nil {
		return nil, err
	}
	return b.Get(id)
}

// GetStatus returns the current status for a raw id.
func (r *Registry) GetStatus(raw string) (Status, error) {
	id, b, err := r.Resolve(raw)
	if err != nil {
		return "", err
	}
	return b.GetStatus(id)
}

// SetStatus validates the status against the closed enum and applies it.
func (r *Registry) SetStatus(raw string, rawStatus string) error {
	status, err := ParseStatus(rawStatus)
	if err != nil {
		return err
	}

	id, b, err := r.Resolve(raw)
	if err != nil {
		return err
	}

	if err := b.SetStatus(id, status); err != nil {
		return err
	}
	logger.WithComponent("task").Info("status changed", "task", id.String(), "status", string(status))
	return nil
}

// SetMergeMetadata records merge details on the task for a raw id.
func (r *Registry) SetMergeMetadata(raw string, merge MergeMetadata) error {
	id, b, err := r.Resolve(raw)
	if err != nil {
		return err
	}
	return b.SetMergeMetadata(id, merge)
}

// Create adds a task to the backend with the given prefix. An empty prefix
// targets the default backend.
func (r *Registry) Create(prefix, specSource string) (*Task, error) {
	if prefix == "" {
		prefix = r.defaultBackend
	}
	b, ok := r.backends[prefix]
	if !ok {
		return nil, fmt.Errorf("unknown task backend %q", prefix)
	}
	if !b.Available() {
		return nil, fmt.Errorf("task backend %q (%s) is not configured", prefix, b.Name())
	}

	t, err := b.Create(specSource)
	if err != nil {
		return nil, err
	}
	logger.WithComponent("task").Info("task created", "task", t.ID.String(), "title", t.Title)
	return t, nil
}

// Delete removes the task for a raw id.
func (r *Registry) Delete(raw string) error {
	id, b, err := r.Resolve(raw)
	if err != nil {
		return err
	}
	if err := b.Delete(id); err != nil {
		return err
	}
	logger.WithComponent("task").Info("task deleted", "task", id.String())
	return nil
}

// SpecContent returns the specification document for a raw id.
func (r *Registry) SpecContent(raw string) (string, error) {
	id, b, err := r.Resolve(raw)
	if err != nil {
		return "", err
	}
	return b.SpecContent(id)
}
