package template

import (
	"fmt"
	"sort"
	"sync"

	"github.com/aristath/taskflow/internal/scheduler"
)

// Registry holds templates by name. Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{templates: make(map[string]*Template)}
}

// NewDefaultRegistry creates a registry holding the built-in templates.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	for _, t := range Builtins() {
		if err := r.Register(t); err != nil {
			panic(fmt.Sprintf("builtin template %s: %v", t.Name, err))
		}
	}
	return r
}

// Register validates and adds a template. Names must be unique.
func (r *Registry) Register(t *Template) error {
	if t == nil {
		return fmt.Errorf("%w: nil template", ErrInvalidTemplate)
	}
	if err := t.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.templates[t.Name]; exists {
		return fmt.Errorf("%w: %s", ErrTemplateAlreadyDefined, t.Name)
	}
	r.templates[t.Name] = t
	return nil
}

// Unregister removes a template and reports whether it was present.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.templates[name]; !exists {
		return false
	}
	delete(r.templates, name)
	return true
}

// Get returns the named template.
func (r *Registry) Get(name string) (*Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.templates[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
	}
	return t, nil
}

// List returns every template sorted by name.
func (r *Registry) List() []*Template {
	return r.filter(func(*Template) bool { return true })
}

// ByCategory returns the templates in category, sorted by name.
func (r *Registry) ByCategory(category Category) []*Template {
	return r.filter(func(t *Template) bool { return t.Category == category })
}

// SearchTags returns templates carrying any of tags, sorted by name.
func (r *Registry) SearchTags(tags ...string) []*Template {
	want := make(map[string]bool, len(tags))
	for _, tag := range tags {
		want[tag] = true
	}
	return r.filter(func(t *Template) bool {
		for _, tag := range t.Tags {
			if want[tag] {
				return true
			}
		}
		return false
	})
}

// Instantiate looks up a template and builds a workflow from it.
func (r *Registry) Instantiate(name string, params map[string]string) (*scheduler.Workflow, error) {
	t, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	return t.Instantiate(params)
}

func (r *Registry) filter(keep func(*Template) bool) []*Template {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Template, 0, len(r.templates))
	for _, t := range r.templates {
		if keep(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
