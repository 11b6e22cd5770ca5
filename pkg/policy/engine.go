package policy

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"

	"github.com/stratagen/strata/pkg/engine"
)

// Engine evaluates rego admission policies over compiled plans.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	logger   zerolog.Logger
	now      func() time.Time
}

// compiledPolicy represents a compiled Rego policy.
type compiledPolicy struct {
	policy   Policy
	module   *ast.Module
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// NewEngine creates a new policy engine holding the built-in policies.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
		now:      time.Now,
	}

	if err := e.loadBuiltinPolicies(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to load built-in policies: %w", err)
	}

	return e, nil
}

// Evaluate evaluates every enabled policy against a compiled plan.
func (e *Engine) Evaluate(ctx context.Context, plan *engine.ExecutionPlan, operation string) (*Result, error) {
	return e.EvaluateDocument(ctx, plan.Document(), operation)
}

// EvaluateDocument evaluates every enabled policy against a plan document as
// returned by ExecutionPlan.Document. A policy that fails to evaluate fails
// the whole evaluation.
func (e *Engine) EvaluateDocument(ctx context.Context, doc map[string]any, operation string) (*Result, error) {
	startTime := e.now()
	e.mu.RLock()
	defer e.mu.RUnlock()

	input := &Input{
		Plan: doc,
		Context: &Context{
			Operation: operation,
			Timestamp: startTime,
		},
	}

	result := &Result{
		Allowed:           true,
		EvaluatedPolicies: []string{},
		EvaluatedAt:       startTime,
	}

	for _, name := range e.sortedNames() {
		cp := e.policies[name]
		if !cp.policy.Enabled {
			continue
		}

		result.EvaluatedPolicies = append(result.EvaluatedPolicies, name)

		findings, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			e.logger.Error().Err(err).
				Str("policy", name).
				Msg("Policy evaluation failed")
			return nil, fmt.Errorf("policy %s: %w", name, err)
		}

		for _, v := range findings {
			if v.Severity.Blocks() {
				result.Allowed = false
				result.Violations = append(result.Violations, v)
			} else {
				result.Warnings = append(result.Warnings, v)
			}
		}
	}

	result.Duration = e.now().Sub(startTime)
	e.logger.Debug().
		Interface("fingerprint", doc["fingerprint"]).
		Bool("allowed", result.Allowed).
		Int("violations", len(result.Violations)).
		Int("warnings", len(result.Warnings)).
		Dur("duration", result.Duration).
		Msg("Plan policy evaluation completed")

	return result, nil
}

// Admit evaluates the plan, logs every warning and returns an
// *AdmissionError if any blocking violation was found.
func (e *Engine) Admit(ctx context.Context, plan *engine.ExecutionPlan, operation string) (*Result, error) {
	result, err := e.Evaluate(ctx, plan, operation)
	if err != nil {
		return nil, err
	}
	for _, w := range result.Warnings {
		e.logger.Warn().
			Str("policy", w.Policy).
			Str("rule", w.Rule).
			Str("step", w.Step).
			Msg(w.Message)
	}
	return result, result.Err()
}

// evaluatePolicy evaluates a single compiled policy and collects its deny
// and warn sets.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input *Input) ([]Violation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		doc, ok := result.Expressions[0].Value.(map[string]interface{})
		if !ok {
			continue
		}
		for _, rule := range []string{RuleDeny, RuleWarn} {
			set, ok := doc[rule].([]interface{})
			if !ok {
				continue
			}
			for _, d := range set {
				violations = append(violations, createViolation(cp.policy, rule, d))
			}
		}
	}

	sort.SliceStable(violations, func(i, j int) bool {
		if violations[i].Rule != violations[j].Rule {
			return violations[i].Rule < violations[j].Rule
		}
		if violations[i].Step != violations[j].Step {
			return violations[i].Step < violations[j].Step
		}
		return violations[i].Message < violations[j].Message
	})
	return violations, nil
}

// createViolation creates a Violation from one element of a rule set.
func createViolation(policy Policy, rule string, result interface{}) Violation {
	violation := Violation{
		Policy:   policy.Name,
		Rule:     rule,
		Severity: policy.Severity,
	}
	if rule == RuleWarn {
		violation.Severity = SeverityWarning
	} else if violation.Severity == "" {
		violation.Severity = SeverityError
	}

	switch v := result.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if sev, ok := v["severity"].(string); ok && rule == RuleDeny {
			violation.Severity = Severity(sev)
		}
		if step, ok := v["step"].(string); ok {
			violation.Step = step
		}
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}

	return violation
}

// compileAndStorePolicy compiles a policy and stores it, replacing any
// policy with the same name.
func (e *Engine) compileAndStorePolicy(ctx context.Context, policy Policy) error {
	if policy.Name == "" {
		return fmt.Errorf("policy has no name")
	}

	module, err := ast.ParseModule(policy.Name, policy.Rego)
	if err != nil {
		return fmt.Errorf("failed to parse policy: %w", err)
	}
	if module == nil {
		return fmt.Errorf("policy %s is empty", policy.Name)
	}

	r := rego.New(
		rego.Module(policy.Name, policy.Rego),
		rego.Query(module.Package.Path.String()),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare query: %w", err)
	}

	e.policies[policy.Name] = &compiledPolicy{
		policy:   policy,
		module:   module,
		query:    query,
		compiled: e.now(),
	}

	e.logger.Debug().
		Str("policy", policy.Name).
		Str("package", module.Package.Path.String()).
		Msg("Policy compiled successfully")

	return nil
}

// AddPolicies compiles and installs policies. Either all are installed or,
// on the first compile error, none are.
func (e *Engine) AddPolicies(ctx context.Context, policies ...Policy) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	previous := make(map[string]*compiledPolicy, len(e.policies))
	for k, v := range e.policies {
		previous[k] = v
	}

	for i := range policies {
		if err := e.compileAndStorePolicy(ctx, policies[i]); err != nil {
			e.policies = previous
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}
	return nil
}

// LoadPolicies loads policy files and directories and installs them.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	loader := NewLoader(e.logger)
	policies, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	if err := e.AddPolicies(ctx, policies...); err != nil {
		return err
	}

	e.logger.Info().
		Int("count", len(policies)).
		Msg("Policies loaded successfully")

	return nil
}

// Watch reloads the policies under paths whenever a policy file changes.
// Built-in policies are kept across reloads.
func (e *Engine) Watch(ctx context.Context, paths []string) (*Loader, error) {
	loader := NewLoader(e.logger)
	err := loader.Watch(ctx, paths, func(policies []Policy) error {
		e.mu.Lock()
		defer e.mu.Unlock()

		next := make(map[string]*compiledPolicy)
		for name, cp := range e.policies {
			if cp.policy.Source == "" {
				next[name] = cp
			}
		}
		current := e.policies
		e.policies = next
		for i := range policies {
			if err := e.compileAndStorePolicy(ctx, policies[i]); err != nil {
				e.policies = current
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return loader, nil
}

// loadBuiltinPolicies loads the built-in policies.
func (e *Engine) loadBuiltinPolicies(ctx context.Context) error {
	builtins := GetBuiltinPolicies()
	for i := range builtins {
		if err := e.compileAndStorePolicy(ctx, builtins[i]); err != nil {
			return fmt.Errorf("failed to compile built-in policy %s: %w", builtins[i].Name, err)
		}
	}

	e.logger.Debug().
		Int("count", len(builtins)).
		Msg("Built-in policies loaded")

	return nil
}

func (e *Engine) sortedNames() []string {
	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return Policy{}, fmt.Errorf("policy not found: %s", name)
	}

	return cp.policy, nil
}

// ListPolicies returns all loaded policies sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, name := range e.sortedNames() {
		policies = append(policies, e.policies[name].policy)
	}

	return policies
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	return e.setEnabled(name, true)
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}

	cp.policy.Enabled = enabled
	e.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy state changed")

	return nil
}
