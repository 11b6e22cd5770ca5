package engine

import (
	"context"
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/stratagen/strata/pkg/schema"
)

// Compiler turns a recipe and run settings into an ExecutionPlan.
type Compiler struct {
	registry  *StepRegistry
	validator *validator.Validate
	logger    zerolog.Logger
}

// CompilerOption configures a Compiler.
type CompilerOption func(*Compiler)

// WithCompilerLogger sets the compiler's logger.
func WithCompilerLogger(logger zerolog.Logger) CompilerOption {
	return func(c *Compiler) {
		c.logger = logger
	}
}

// NewCompiler creates a compiler over registry.
func NewCompiler(registry *StepRegistry, opts ...CompilerOption) *Compiler {
	c := &Compiler{
		registry:  registry,
		validator: newSettingsValidator(),
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("component", "compiler").Logger()
	return c
}

// Compile resolves every selected step and its configuration, orders the
// steps by their tag dependencies and fingerprints the result. All contract
// checks happen here; a returned plan is safe to execute.
func (c *Compiler) Compile(ctx context.Context, recipe Recipe, settings RunSettings) (*ExecutionPlan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := c.ValidateSettings(settings); err != nil {
		return nil, err
	}
	settings = settings.Clone()

	defs := make([]*StepDefinition, 0, len(recipe))
	selected := make(map[string]bool, len(recipe))
	for _, entry := range recipe {
		def, err := c.registry.Get(entry.StepID)
		if err != nil {
			return nil, err
		}
		if selected[def.ID] {
			return nil, NewDuplicateStepError(def.ID)
		}
		selected[def.ID] = true
		defs = append(defs, def)
	}

	configs := make([]schema.Config, len(defs))
	for i, def := range defs {
		cfg, err := def.Config.Resolve(recipe[i].Config)
		if err != nil {
			path := ""
			var fe *schema.FieldError
			if errors.As(err, &fe) {
				path = fe.Path
			}
			return nil, NewConfigValidationError(def.ID, path, err)
		}
		configs[i] = cfg
	}

	graph := buildGraph(defs)
	if stepID, tag, found := graph.unsatisfied(); found {
		return nil, NewUnsatisfiedDependencyError(stepID, tag)
	}

	order, err := graph.order()
	if err != nil {
		return nil, err
	}

	position := make([]int, len(defs))
	for pos, idx := range order {
		position[idx] = pos
	}

	steps := make([]PlannedStep, len(order))
	for pos, idx := range order {
		def := defs[idx]

		preds := append([]int(nil), graph.pred[idx]...)
		sortByPosition(preds, position)
		dependsOn := make([]string, len(preds))
		for i, p := range preds {
			dependsOn[i] = defs[p].ID
		}

		steps[pos] = PlannedStep{
			Index:     pos,
			ID:        def.ID,
			Phase:     def.Phase,
			Requires:  append([]string(nil), def.Requires...),
			Provides:  append([]string(nil), def.Provides...),
			DependsOn: dependsOn,
			Config:    configs[idx],
			run:       def.Run,
		}
	}

	for id := range settings.Trace.Steps {
		if !selected[id] {
			c.logger.Warn().Str("step", id).Msg("trace verbosity set for a step that is not in the recipe")
		}
	}

	fp, err := fingerprint(steps, settings)
	if err != nil {
		return nil, err
	}

	plan := &ExecutionPlan{
		steps:       steps,
		edges:       graph.edges(position),
		settings:    settings,
		fingerprint: fp,
	}

	c.logger.Debug().
		Str("fingerprint", fp).
		Int("steps", len(steps)).
		Strs("order", plan.StepIDs()).
		Msg("compiled plan")

	return plan, nil
}

// ValidateSettings checks run settings against their struct constraints.
func (c *Compiler) ValidateSettings(settings RunSettings) error {
	err := c.validator.Struct(settings)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		path := fe.Namespace()
		if i := strings.IndexByte(path, '.'); i >= 0 {
			path = path[i+1:]
		}
		return contractError(ErrCodeInvalidSettings, "invalid run settings", err).
			WithPath(path).
			WithDetail("constraint", fe.Tag())
	}
	return contractError(ErrCodeInvalidSettings, "invalid run settings", err)
}

func newSettingsValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func sortByPosition(idx []int, position []int) {
	for i := 1; i < len(idx); i++ {
		for j := i; j > 0 && position[idx[j]] < position[idx[j-1]]; j-- {
			idx[j], idx[j-1] = idx[j-1], idx[j]
		}
	}
}
