package engine

import (
	"sync"

	"github.com/stratagen/strata/pkg/schema"
)

// StepRegistry holds step definitions keyed by id. Tag references are
// checked against the associated TagRegistry when a step is registered.
type StepRegistry struct {
	tags *TagRegistry

	mu    sync.RWMutex
	steps map[string]*StepDefinition
	order []string
}

// NewStepRegistry creates an empty registry bound to tags.
func NewStepRegistry(tags *TagRegistry) *StepRegistry {
	return &StepRegistry{
		tags:  tags,
		steps: make(map[string]*StepDefinition),
	}
}

// Tags returns the associated tag registry.
func (r *StepRegistry) Tags() *TagRegistry {
	return r.tags
}

// Register validates and stores a step. The registry keeps its own copy; the
// caller's slices are not retained.
func (r *StepRegistry) Register(def StepDefinition) error {
	if def.ID == "" {
		return contractError(ErrCodeInvalidStep, "step has empty id", nil)
	}
	if def.Run == nil {
		return contractError(ErrCodeInvalidStep, "step has no run function", nil).WithStep(def.ID)
	}

	stored := def
	stored.Requires = dedupe(def.Requires)
	stored.Provides = dedupe(def.Provides)
	if stored.Config == nil {
		stored.Config = schema.None
	}

	for _, tag := range append(append([]string(nil), stored.Requires...), stored.Provides...) {
		if _, err := r.tags.KindOf(tag); err != nil {
			return NewUnknownTagError(tag).WithStep(def.ID)
		}
	}

	provided := make(map[string]bool, len(stored.Provides))
	for _, tag := range stored.Provides {
		provided[tag] = true
	}
	for _, tag := range stored.Requires {
		if !provided[tag] {
			continue
		}
		if kind, _ := r.tags.KindOf(tag); kind == TagKindArtifact {
			return contractError(ErrCodeInvalidStep,
				"artifact tags cannot be both required and provided by one step", nil).
				WithStep(def.ID).
				WithTag(tag)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.steps[def.ID]; exists {
		return NewDuplicateStepError(def.ID)
	}
	r.steps[def.ID] = &stored
	r.order = append(r.order, def.ID)
	return nil
}

// Get returns the step registered under id.
func (r *StepRegistry) Get(id string) (*StepDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.steps[id]
	if !ok {
		return nil, NewUnknownStepError(id)
	}
	return def, nil
}

// All returns the steps in registration order.
func (r *StepRegistry) All() []*StepDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*StepDefinition, len(r.order))
	for i, id := range r.order {
		out[i] = r.steps[id]
	}
	return out
}

func dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
