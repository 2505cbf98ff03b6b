package templates

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/microcosm-cc/bluemonday"
)

var ErrNotFound = errors.New("template not found")

var descriptionPolicy = bluemonday.StrictPolicy()

// SanitizeText strips markup from s.
func SanitizeText(s string) string {
	return descriptionPolicy.Sanitize(s)
}

// Sanitize strips markup from the free-text fields of t.
func Sanitize(t Template) Template {
	t.Description = descriptionPolicy.Sanitize(t.Description)
	schema := make([]InputSchema, len(t.InputsSchema))
	for i, s := range t.InputsSchema {
		s.Label = descriptionPolicy.Sanitize(s.Label)
		s.Description = descriptionPolicy.Sanitize(s.Description)
		schema[i] = s
	}
	t.InputsSchema = schema
	return t
}

// Registry holds the known templates. Reads take a snapshot without locking;
// writers copy the current snapshot, change the copy and publish it.
type Registry struct {
	mu       sync.Mutex
	snapshot atomic.Pointer[map[string]Template]
}

func NewRegistry() *Registry {
	r := &Registry{}
	empty := map[string]Template{}
	r.snapshot.Store(&empty)
	return r
}

func (r *Registry) current() map[string]Template {
	return *r.snapshot.Load()
}

func (r *Registry) Get(id string) (Template, bool) {
	t, ok := r.current()[id]
	return t, ok
}

// List returns every template ordered by id.
func (r *Registry) List() []Template {
	cur := r.current()
	out := make([]Template, 0, len(cur))
	for _, t := range cur {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) Len() int {
	return len(r.current())
}

// Register validates t and adds it, replacing a template with the same id. A
// builtin template can only be replaced by another builtin.
func (r *Registry) Register(t Template) error {
	t = Sanitize(t)
	if err := Validate(t); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.current()
	if old, ok := cur[t.ID]; ok && old.Builtin && !t.Builtin {
		return fmt.Errorf("template %s is builtin and cannot be replaced", t.ID)
	}
	next := make(map[string]Template, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	next[t.ID] = t
	r.snapshot.Store(&next)
	return nil
}

// Replace swaps all non-builtin templates for ts. Nothing changes when any of
// them is invalid.
func (r *Registry) Replace(ts []Template) error {
	next := map[string]Template{}
	var errs ValidationErrors
	for _, t := range ts {
		t = Sanitize(t)
		if err := Validate(t); err != nil {
			errs.add("%s: %v", t.ID, err)
			continue
		}
		next[t.ID] = t
	}
	if err := errs.err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, t := range r.current() {
		if t.Builtin {
			next[id] = t
		}
	}
	r.snapshot.Store(&next)
	return nil
}

// Remove deletes a non-builtin template.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.current()
	t, ok := cur[id]
	if !ok {
		return ErrNotFound
	}
	if t.Builtin {
		return fmt.Errorf("template %s is builtin and cannot be removed", id)
	}
	next := make(map[string]Template, len(cur))
	for k, v := range cur {
		if k != id {
			next[k] = v
		}
	}
	r.snapshot.Store(&next)
	return nil
}
