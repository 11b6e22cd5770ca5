package engine

import (
	"github.com/stratagen/strata/pkg/schema"
	"github.com/stratagen/strata/pkg/trace"
	"github.com/stratagen/strata/pkg/world"
)

// TagKind classifies what a dependency tag stands for.
type TagKind string

const (
	// TagKindArtifact is an opaque data product consumed by reference.
	TagKindArtifact TagKind = "artifact"

	// TagKindField is a named per-cell buffer of the world model.
	TagKindField TagKind = "field"

	// TagKindEffect is a payload-free ordering marker.
	TagKindEffect TagKind = "effect"
)

// Valid reports whether k is a known kind.
func (k TagKind) Valid() bool {
	switch k {
	case TagKindArtifact, TagKindField, TagKindEffect:
		return true
	default:
		return false
	}
}

// TagDefinition declares a dependency tag.
type TagDefinition struct {
	ID          string  `json:"id"`
	Kind        TagKind `json:"kind"`
	Description string  `json:"description,omitempty"`
}

// RunFunc is the body of a step. Errors are returned to the caller of the
// executor unchanged.
type RunFunc func(wc *world.Context, cfg schema.Config) error

// StepDefinition is a step contract bound to its body.
type StepDefinition struct {
	// ID is unique within a registry.
	ID string

	// Phase is a coarse grouping ("foundation", "climate"). Informational only;
	// ordering comes from Requires and Provides.
	Phase string

	// Description is shown by the CLI.
	Description string

	// Requires lists the tags that must be produced before the step runs.
	Requires []string

	// Provides lists the tags the step produces. The step may write only these.
	Provides []string

	// Config resolves the step's configuration. Nil means no configuration.
	Config schema.Resolver

	// Run is the step body.
	Run RunFunc
}

// RecipeEntry selects a step and optionally overrides its configuration.
type RecipeEntry struct {
	StepID string         `json:"step" yaml:"step" validate:"required"`
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// Recipe is the declarative list of selected steps. Its order is used only
// to break ties between independent steps.
type Recipe []RecipeEntry

// StepIDs returns the selected step ids in recipe order.
func (r Recipe) StepIDs() []string {
	ids := make([]string, len(r))
	for i, e := range r {
		ids[i] = e.StepID
	}
	return ids
}

// TraceSettings holds per-step trace verbosity.
type TraceSettings struct {
	Steps map[string]trace.Verbosity `json:"steps,omitempty" yaml:"steps,omitempty" validate:"dive,keys,required,endkeys,oneof=off verbose"`
}

// RunSettings are the global inputs of one run.
type RunSettings struct {
	Seed           int64                `json:"seed" yaml:"seed"`
	Dimensions     world.Dimensions     `json:"dimensions" yaml:"dimensions"`
	LatitudeBounds world.LatitudeBounds `json:"latitudeBounds" yaml:"latitudeBounds"`
	Wrap           world.Wrap           `json:"wrap" yaml:"wrap"`
	Trace          TraceSettings        `json:"trace" yaml:"trace"`
}

// Grid returns the world geometry described by the settings.
func (s RunSettings) Grid() world.Grid {
	return world.Grid{
		Dimensions: s.Dimensions,
		Latitude:   s.LatitudeBounds,
		Wrap:       s.Wrap,
	}
}

// Clone returns a copy that shares no maps with s.
func (s RunSettings) Clone() RunSettings {
	out := s
	if s.Trace.Steps != nil {
		out.Trace.Steps = make(map[string]trace.Verbosity, len(s.Trace.Steps))
		for k, v := range s.Trace.Steps {
			out.Trace.Steps[k] = v
		}
	}
	return out
}

// NewWorld creates an empty world model matching the settings.
func (s RunSettings) NewWorld(adapter world.Adapter) (*world.Context, error) {
	return world.New(s.Grid(), s.Seed, adapter)
}

// DefaultRunSettings returns a small grid with trace verbosity off.
func DefaultRunSettings() RunSettings {
	return RunSettings{
		Seed:           1,
		Dimensions:     world.Dimensions{Width: 84, Height: 54},
		LatitudeBounds: world.LatitudeBounds{Top: 80, Bottom: -80},
		Wrap:           world.Wrap{X: true},
	}
}
