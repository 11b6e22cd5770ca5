package commands

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/stratagen/strata/pkg/config"
	"github.com/stratagen/strata/pkg/engine"
	"github.com/stratagen/strata/pkg/policy"
	"github.com/stratagen/strata/pkg/steps"
	"github.com/stratagen/strata/pkg/trace"
)

// compiled is a loaded recipe with its registry and plan.
type compiled struct {
	file     *config.File
	registry *engine.StepRegistry
	plan     *engine.ExecutionPlan
}

func newRecipeLoader() *config.Loader {
	return config.NewLoader(config.WithLogger(logger.NewComponentLogger("config").Zerolog()))
}

// loadAndCompile reads the recipe at path, applies the verbose step list and
// compiles it against the built-in steps.
func loadAndCompile(ctx context.Context, path string, verboseSteps []string) (*compiled, error) {
	file, err := newRecipeLoader().LoadFile(ctx, path)
	if err != nil {
		return nil, err
	}
	return compileFile(ctx, file, verboseSteps)
}

func compileFile(ctx context.Context, file *config.File, verboseSteps []string) (*compiled, error) {
	if len(verboseSteps) > 0 {
		if file.Settings.Trace.Steps == nil {
			file.Settings.Trace.Steps = make(map[string]trace.Verbosity, len(verboseSteps))
		}
		for _, id := range verboseSteps {
			file.Settings.Trace.Steps[id] = trace.VerbosityVerbose
		}
	}

	reg, err := steps.NewRegistry()
	if err != nil {
		return nil, fmt.Errorf("failed to register built-in steps: %w", err)
	}

	compiler := engine.NewCompiler(reg, engine.WithCompilerLogger(logger.NewComponentLogger("compiler").Zerolog()))
	plan, err := compiler.Compile(ctx, file.Recipe, file.Settings)
	if err != nil {
		return nil, err
	}

	return &compiled{file: file, registry: reg, plan: plan}, nil
}

// newPolicyEngine builds a policy engine with the built-in policies plus any
// loaded from paths.
func newPolicyEngine(ctx context.Context, paths []string) (*policy.Engine, error) {
	pe, err := policy.NewEngine(logger.NewComponentLogger("policy").Zerolog())
	if err != nil {
		return nil, fmt.Errorf("failed to create policy engine: %w", err)
	}
	if len(paths) > 0 {
		if err := pe.LoadPolicies(ctx, paths); err != nil {
			return nil, err
		}
	}
	return pe, nil
}

// printPolicyResult writes every finding, blocking ones first.
func printPolicyResult(w io.Writer, result *policy.Result) {
	for _, v := range result.Violations {
		fmt.Fprintf(w, "DENY  %s\n", v)
	}
	for _, v := range result.Warnings {
		fmt.Fprintf(w, "WARN  %s\n", v)
	}
}

// describeError renders contract errors with their code.
func describeError(err error) string {
	var ee *engine.EngineError
	if errors.As(err, &ee) {
		return fmt.Sprintf("%s (%s %s)", ee.Error(), ee.Class, ee.Code)
	}
	return err.Error()
}
