package engine

import (
	"fmt"
	"sync"
)

// TagRegistry holds the dependency tags steps may reference.
type TagRegistry struct {
	mu    sync.RWMutex
	tags  map[string]TagDefinition
	order []string
}

// NewTagRegistry creates an empty tag registry.
func NewTagRegistry() *TagRegistry {
	return &TagRegistry{tags: make(map[string]TagDefinition)}
}

// RegisterTags registers tag definitions. Registering an id again with the
// same kind is a no-op; with another kind it fails with a duplicate tag error
// and nothing from defs is registered.
func (r *TagRegistry) RegisterTags(defs ...TagDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	pending := make(map[string]TagKind, len(defs))
	for _, def := range defs {
		if def.ID == "" {
			return contractError(ErrCodeInvalidTag, "tag has empty id", nil)
		}
		if !def.Kind.Valid() {
			return contractError(ErrCodeInvalidTag,
				fmt.Sprintf("tag %q has invalid kind %q", def.ID, def.Kind), nil).WithTag(def.ID)
		}
		if existing, ok := r.tags[def.ID]; ok && existing.Kind != def.Kind {
			return NewDuplicateTagError(def.ID, existing.Kind, def.Kind)
		}
		if kind, ok := pending[def.ID]; ok && kind != def.Kind {
			return NewDuplicateTagError(def.ID, kind, def.Kind)
		}
		pending[def.ID] = def.Kind
	}

	for _, def := range defs {
		if _, ok := r.tags[def.ID]; ok {
			continue
		}
		r.tags[def.ID] = def
		r.order = append(r.order, def.ID)
	}
	return nil
}

// KindOf returns the kind of a registered tag.
func (r *TagRegistry) KindOf(tag string) (TagKind, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.tags[tag]
	if !ok {
		return "", NewUnknownTagError(tag)
	}
	return def.Kind, nil
}

// Has reports whether tag is registered.
func (r *TagRegistry) Has(tag string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tags[tag]
	return ok
}

// All returns the registered tags in registration order.
func (r *TagRegistry) All() []TagDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]TagDefinition, len(r.order))
	for i, id := range r.order {
		out[i] = r.tags[id]
	}
	return out
}
