package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stratagen/strata/pkg/trace"
	"github.com/stratagen/strata/pkg/world"
)

// Executor runs execution plans against a world context, one step at a time.
type Executor struct {
	registry *StepRegistry
	sink     trace.Sink
	logger   zerolog.Logger
	now      func() time.Time
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithTraceSink sets the sink receiving run and step events. Without one,
// events are dropped.
func WithTraceSink(sink trace.Sink) ExecutorOption {
	return func(e *Executor) {
		e.sink = sink
	}
}

// WithExecutorLogger sets the executor's logger.
func WithExecutorLogger(logger zerolog.Logger) ExecutorOption {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithExecutorClock sets the time source used for trace events.
func WithExecutorClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) {
		e.now = now
	}
}

// NewExecutor creates an executor. registry is only needed by ExecuteSteps
// and may be nil otherwise.
func NewExecutor(registry *StepRegistry, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry: registry,
		logger:   zerolog.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With().Str("component", "executor").Logger()
	return e
}

// RunOption configures a single run.
type RunOption func(*runOptions)

type runOptions struct {
	runID     string
	verbosity map[string]trace.Verbosity
}

// WithRunID sets the run id stamped on every event. Default is a new UUID.
func WithRunID(id string) RunOption {
	return func(o *runOptions) {
		o.runID = id
	}
}

// WithVerbosity sets per-step trace verbosity for ExecuteSteps. Execute takes
// verbosity from the plan settings.
func WithVerbosity(verbosity map[string]trace.Verbosity) RunOption {
	return func(o *runOptions) {
		o.verbosity = verbosity
	}
}

func applyRunOptions(opts []RunOption) runOptions {
	o := runOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.runID == "" {
		o.runID = uuid.New().String()
	}
	return o
}

// Execute runs every step of plan in order. The first error returned by a
// step body is returned unchanged and nothing after it runs; wc is then in an
// unspecified state and should be discarded.
func (e *Executor) Execute(ctx context.Context, wc *world.Context, plan *ExecutionPlan, opts ...RunOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if plan == nil {
		return errors.New("execute: plan is nil")
	}
	if wc == nil {
		return errors.New("execute: world context is nil")
	}

	if got, want := wc.Grid(), plan.settings.Grid(); got != want {
		return runtimeError(ErrCodeContextMismatch, gridMismatch(got, want), nil)
	}
	if wc.Seed() != plan.settings.Seed {
		return runtimeError(ErrCodeContextMismatch,
			fmt.Sprintf("world seed %d differs from plan seed %d", wc.Seed(), plan.settings.Seed), nil)
	}

	o := applyRunOptions(opts)
	return e.run(wc, plan.steps, plan.fingerprint, plan.settings.Trace.Steps, o.runID)
}

// ExecuteSteps runs the given steps in the given order with their default
// configuration. The order is trusted: no dependency checks are made, which
// makes it suitable for exercising single steps in tests.
func (e *Executor) ExecuteSteps(ctx context.Context, wc *world.Context, stepIDs []string, opts ...RunOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.registry == nil {
		return errors.New("execute: executor has no step registry")
	}
	if wc == nil {
		return errors.New("execute: world context is nil")
	}

	steps := make([]PlannedStep, len(stepIDs))
	for i, id := range stepIDs {
		def, err := e.registry.Get(id)
		if err != nil {
			return err
		}
		steps[i] = PlannedStep{
			Index:    i,
			ID:       def.ID,
			Phase:    def.Phase,
			Requires: append([]string(nil), def.Requires...),
			Provides: append([]string(nil), def.Provides...),
			Config:   def.Config.Defaults(),
			run:      def.Run,
		}
	}

	o := applyRunOptions(opts)
	grid := wc.Grid()
	settings := RunSettings{
		Seed:           wc.Seed(),
		Dimensions:     grid.Dimensions,
		LatitudeBounds: grid.Latitude,
		Wrap:           grid.Wrap,
		Trace:          TraceSettings{Steps: o.verbosity},
	}
	fp, err := fingerprint(steps, settings)
	if err != nil {
		return err
	}

	return e.run(wc, steps, fp, o.verbosity, o.runID)
}

func (e *Executor) run(
	wc *world.Context,
	steps []PlannedStep,
	fp string,
	verbosity map[string]trace.Verbosity,
	runID string,
) error {
	session := trace.NewSession(e.sink, runID, fp, verbosity, trace.WithClock(e.now))
	log := e.logger.With().Str("run_id", runID).Str("fingerprint", shortFingerprint(fp)).Logger()

	log.Info().Int("steps", len(steps)).Msg("run started")
	session.Emit(trace.Event{
		Kind: trace.KindRunStart,
		Data: map[string]any{"steps": len(steps), "seed": wc.Seed()},
	})

	started := time.Now()
	for _, step := range steps {
		session.Emit(trace.Event{
			Kind:   trace.KindStepStart,
			StepID: step.ID,
			Data:   map[string]any{"index": step.Index, "phase": step.Phase},
		})

		stepStarted := time.Now()
		if err := runStep(wc, step, session.Step(step.ID)); err != nil {
			log.Error().Err(err).Str("step", step.ID).Msg("step failed")
			return err
		}

		for _, tag := range step.Provides {
			if !wc.Has(tag) {
				return runtimeError(ErrCodeProvidesUnsatisfied,
					"step finished without producing a provided tag", nil).
					WithStep(step.ID).
					WithTag(tag)
			}
		}

		log.Debug().Str("step", step.ID).Dur("duration", time.Since(stepStarted)).Msg("step finished")
		session.Emit(trace.Event{
			Kind:   trace.KindStepFinish,
			StepID: step.ID,
			Data:   map[string]any{"index": step.Index},
		})
	}

	session.Emit(trace.Event{
		Kind: trace.KindRunFinish,
		Data: map[string]any{"steps": len(steps)},
	})
	log.Info().Dur("duration", time.Since(started)).Msg("run finished")

	return nil
}

// runStep runs one step body with wc scoped to it. The scope is cleared even
// when the body panics.
func runStep(wc *world.Context, step PlannedStep, st trace.StepTrace) error {
	wc.Enter(step.ID, step.Provides, st)
	defer wc.Leave()
	return step.run(wc, step.Config.Clone())
}

func gridMismatch(got, want world.Grid) string {
	switch {
	case got.Dimensions != want.Dimensions:
		return fmt.Sprintf("world is %dx%d but plan was compiled for %dx%d",
			got.Width, got.Height, want.Width, want.Height)
	case got.Latitude != want.Latitude:
		return fmt.Sprintf("world latitude %g..%g differs from plan latitude %g..%g",
			got.Latitude.Top, got.Latitude.Bottom, want.Latitude.Top, want.Latitude.Bottom)
	default:
		return fmt.Sprintf("world wrap x=%t y=%t differs from plan wrap x=%t y=%t",
			got.Wrap.X, got.Wrap.Y, want.Wrap.X, want.Wrap.Y)
	}
}

func shortFingerprint(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
