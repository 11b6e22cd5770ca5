package policy

// Limits enforced by the built-in policies.
const (
	MaxGridCells    = 16 * 1024 * 1024
	MaxVerboseSteps = 4
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		gridSizePolicy(),
		hostPhasePolicy(),
		verboseTracePolicy(),
	}
}

// gridSizePolicy rejects worlds whose cell count would exhaust memory.
func gridSizePolicy() Policy {
	return Policy{
		Name:        "grid-size",
		Description: "Rejects plans whose grid has more than 16M cells",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"settings", "resources"},
		Rego: `package strata.policies.gridsize

import rego.v1

max_cells := 16777216

deny contains violation if {
	dims := input.plan.settings.dimensions
	cells := dims.width * dims.height
	cells > max_cells
	violation := {
		"message": sprintf("grid %vx%v has %v cells, limit is %v", [dims.width, dims.height, cells, max_cells]),
		"severity": "error",
	}
}
`,
	}
}

// hostPhasePolicy requires every host step to declare the effect it applies.
func hostPhasePolicy() Policy {
	return Policy{
		Name:        "host-phase",
		Description: "Rejects host-phase steps that provide no effect tag",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"steps", "host"},
		Rego: `package strata.policies.hostphase

import rego.v1

provides_effect(step) if {
	some tag in step.provides
	startswith(tag, "effect:")
}

deny contains violation if {
	some step in input.plan.steps
	step.phase == "host"
	not provides_effect(step)
	violation := {
		"message": sprintf("host step %v provides no effect tag", [step.id]),
		"severity": "error",
		"step": step.id,
	}
}
`,
	}
}

// verboseTracePolicy warns when tracing would flood the sinks.
func verboseTracePolicy() Policy {
	return Policy{
		Name:        "verbose-trace",
		Description: "Warns when more than 4 steps trace verbosely",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"trace"},
		Rego: `package strata.policies.verbosetrace

import rego.v1

max_verbose := 4

verbose_steps := [id | some id; input.plan.settings.trace.steps[id] == "verbose"]

warn contains violation if {
	count(verbose_steps) > max_verbose
	violation := {
		"message": sprintf("%v steps trace verbosely, more than %v slows runs", [count(verbose_steps), max_verbose]),
	}
}
`,
	}
}
