package steps

import (
	"fmt"

	"github.com/stratagen/strata/pkg/engine"
	"github.com/stratagen/strata/pkg/schema"
	"github.com/stratagen/strata/pkg/world"
)

// Field names used when committing to the host adapter.
const (
	HostFieldElevation = "elevation"
	HostFieldTerrain   = "terrain"
)

func commitElevationStep() engine.StepDefinition {
	return engine.StepDefinition{
		ID:          StepCommitElevation,
		Phase:       "host",
		Description: "Write the elevation field to the host",
		Requires:    []string{TagElevation},
		Provides:    []string{TagHostElevation},
		Run:         runCommitElevation,
	}
}

func runCommitElevation(wc *world.Context, _ schema.Config) error {
	adapter, err := wc.Adapter()
	if err != nil {
		return err
	}
	elevation, err := wc.Float32(TagElevation)
	if err != nil {
		return err
	}
	if err := adapter.CommitFloat32(HostFieldElevation, elevation); err != nil {
		return fmt.Errorf("commit elevation: %w", err)
	}
	return wc.MarkEffect(TagHostElevation)
}

func commitBiomesStep() engine.StepDefinition {
	return engine.StepDefinition{
		ID:          StepCommitBiomes,
		Phase:       "host",
		Description: "Write biomes to the host terrain after elevation",
		Requires:    []string{TagBiome, TagHostElevation},
		Provides:    []string{TagHostBiomes},
		Run:         runCommitBiomes,
	}
}

func runCommitBiomes(wc *world.Context, _ schema.Config) error {
	adapter, err := wc.Adapter()
	if err != nil {
		return err
	}
	biomes, err := wc.Int32(TagBiome)
	if err != nil {
		return err
	}
	if err := adapter.CommitInt32(HostFieldTerrain, biomes); err != nil {
		return fmt.Errorf("commit biomes: %w", err)
	}
	wc.Trace().Event(map[string]any{"cells": len(biomes)})
	return wc.MarkEffect(TagHostBiomes)
}
