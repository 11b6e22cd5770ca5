package steps

import (
	"fmt"

	"github.com/stratagen/strata/pkg/engine"
)

// Built-in step ids.
const (
	StepPlates          = "foundation.plates"
	StepElevation       = "morphology.elevation"
	StepErosion         = "morphology.erosion"
	StepTemperature     = "climate.temperature"
	StepRainfall        = "climate.rainfall"
	StepBiomes          = "ecology.biomes"
	StepCommitElevation = "host.commit-elevation"
	StepCommitBiomes    = "host.commit-biomes"
)

// Definitions returns every built-in step in phase order.
func Definitions() []engine.StepDefinition {
	return []engine.StepDefinition{
		platesStep(),
		elevationStep(),
		erosionStep(),
		temperatureStep(),
		rainfallStep(),
		biomesStep(),
		commitElevationStep(),
		commitBiomesStep(),
	}
}

// Register adds the built-in tags to the registry's tag registry and then
// the built-in steps to the registry.
func Register(reg *engine.StepRegistry) error {
	if err := reg.Tags().RegisterTags(Tags()...); err != nil {
		return fmt.Errorf("failed to register built-in tags: %w", err)
	}
	for _, def := range Definitions() {
		if err := reg.Register(def); err != nil {
			return fmt.Errorf("failed to register step %s: %w", def.ID, err)
		}
	}
	return nil
}

// NewRegistry returns a fresh registry holding the built-in steps.
func NewRegistry() (*engine.StepRegistry, error) {
	reg := engine.NewStepRegistry(engine.NewTagRegistry())
	if err := Register(reg); err != nil {
		return nil, err
	}
	return reg, nil
}

// DefaultRecipe selects every built-in step with default configuration.
func DefaultRecipe() engine.Recipe {
	defs := Definitions()
	recipe := make(engine.Recipe, len(defs))
	for i, def := range defs {
		recipe[i] = engine.RecipeEntry{StepID: def.ID}
	}
	return recipe
}
