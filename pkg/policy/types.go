package policy

import (
	"fmt"
	"strings"
	"time"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for findings that are logged but never block a run.
	SeverityWarning Severity = "warning"

	// SeverityError is for violations that block admission.
	SeverityError Severity = "error"
)

// Blocks reports whether a violation of this severity rejects the plan.
func (s Severity) Blocks() bool {
	return s == SeverityError
}

// Rule names a policy rule set the engine collects.
const (
	RuleDeny = "deny"
	RuleWarn = "warn"
)

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code. The module defines "deny" and/or
	// "warn" partial set rules.
	Rego string `json:"rego"`

	// Severity is the default severity for deny results that do not set one.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Source is the file the policy was loaded from, empty for built-ins.
	Source string `json:"source,omitempty"`
}

// Violation is a single finding produced by a policy rule.
type Violation struct {
	// Policy is the name of the policy that produced the finding.
	Policy string `json:"policy"`

	// Rule is the rule set the finding came from, "deny" or "warn".
	Rule string `json:"rule"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Step is the step id the finding refers to, if any.
	Step string `json:"step,omitempty"`
}

func (v Violation) String() string {
	if v.Step != "" {
		return fmt.Sprintf("%s/%s [%s] %s: %s", v.Policy, v.Rule, v.Severity, v.Step, v.Message)
	}
	return fmt.Sprintf("%s/%s [%s] %s", v.Policy, v.Rule, v.Severity, v.Message)
}

// Result represents the outcome of evaluating every enabled policy against
// one plan.
type Result struct {
	// Allowed indicates if the plan may be executed.
	Allowed bool `json:"allowed"`

	// Violations lists the blocking findings.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists findings that do not block the run.
	Warnings []Violation `json:"warnings,omitempty"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// EvaluatedAt is when the policies were evaluated.
	EvaluatedAt time.Time `json:"evaluated_at"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// Err returns an *AdmissionError when the plan was rejected, nil otherwise.
func (r *Result) Err() error {
	if r == nil || r.Allowed {
		return nil
	}
	return &AdmissionError{Violations: append([]Violation(nil), r.Violations...)}
}

// Input is the document handed to every policy as "input".
type Input struct {
	// Plan is the compiled plan document: fingerprint, settings, steps, edges.
	Plan map[string]any `json:"plan"`

	// Context provides additional evaluation context.
	Context *Context `json:"context"`
}

// Context provides context information for policy evaluation.
type Context struct {
	// Operation is the CLI operation being admitted ("plan", "run").
	Operation string `json:"operation,omitempty"`

	// Timestamp is when the evaluation is occurring.
	Timestamp time.Time `json:"timestamp"`
}

// AdmissionError is returned when blocking violations reject a plan.
type AdmissionError struct {
	Violations []Violation
}

func (e *AdmissionError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.String()
	}
	return "plan rejected by policy: " + strings.Join(msgs, "; ")
}
