package engine

import (
	"encoding/json"

	"github.com/stratagen/strata/pkg/schema"
)

// PlannedStep is one entry of an execution plan.
type PlannedStep struct {
	Index     int           `json:"index"`
	ID        string        `json:"id"`
	Phase     string        `json:"phase,omitempty"`
	Requires  []string      `json:"requires,omitempty"`
	Provides  []string      `json:"provides,omitempty"`
	DependsOn []string      `json:"dependsOn,omitempty"`
	Config    schema.Config `json:"-"`

	run RunFunc
}

func (s PlannedStep) clone() PlannedStep {
	out := s
	out.Requires = append([]string(nil), s.Requires...)
	out.Provides = append([]string(nil), s.Provides...)
	out.DependsOn = append([]string(nil), s.DependsOn...)
	out.Config = s.Config.Clone()
	return out
}

// ExecutionPlan is the immutable output of the compiler. Accessors return
// copies, so a plan can be executed any number of times.
type ExecutionPlan struct {
	steps       []PlannedStep
	edges       []Edge
	settings    RunSettings
	fingerprint string
}

// Fingerprint returns the hex sha256 content hash of the plan.
func (p *ExecutionPlan) Fingerprint() string {
	return p.fingerprint
}

// Settings returns the run settings the plan was compiled with.
func (p *ExecutionPlan) Settings() RunSettings {
	return p.settings.Clone()
}

// Len returns the number of steps.
func (p *ExecutionPlan) Len() int {
	return len(p.steps)
}

// Steps returns the ordered steps.
func (p *ExecutionPlan) Steps() []PlannedStep {
	out := make([]PlannedStep, len(p.steps))
	for i, s := range p.steps {
		out[i] = s.clone()
	}
	return out
}

// StepIDs returns the step ids in execution order.
func (p *ExecutionPlan) StepIDs() []string {
	ids := make([]string, len(p.steps))
	for i, s := range p.steps {
		ids[i] = s.ID
	}
	return ids
}

// Edges returns the dependency edges between the planned steps.
func (p *ExecutionPlan) Edges() []Edge {
	out := make([]Edge, len(p.edges))
	for i, e := range p.edges {
		out[i] = Edge{From: e.From, To: e.To, Tags: append([]string(nil), e.Tags...)}
	}
	return out
}

// DOT renders the plan graph in Graphviz syntax.
func (p *ExecutionPlan) DOT() string {
	return toDOT(p.steps, p.edges)
}

// Document returns the plan as a plain tree: the shape used for JSON output
// and policy input.
func (p *ExecutionPlan) Document() map[string]any {
	steps := make([]any, len(p.steps))
	for i, s := range p.steps {
		steps[i] = map[string]any{
			"index":     s.Index,
			"id":        s.ID,
			"phase":     s.Phase,
			"requires":  toAnySlice(s.Requires),
			"provides":  toAnySlice(s.Provides),
			"dependsOn": toAnySlice(s.DependsOn),
			"strategy":  s.Config.Strategy,
			"config":    s.Config.Document(),
		}
	}

	edges := make([]any, len(p.edges))
	for i, e := range p.edges {
		edges[i] = map[string]any{
			"from": e.From,
			"to":   e.To,
			"tags": toAnySlice(e.Tags),
		}
	}

	return map[string]any{
		"fingerprint": p.fingerprint,
		"settings":    settingsDocument(p.settings),
		"steps":       steps,
		"edges":       edges,
	}
}

// MarshalJSON implements json.Marshaler.
func (p *ExecutionPlan) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Document())
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
