package steps

import (
	"fmt"

	"github.com/stratagen/strata/pkg/engine"
	"github.com/stratagen/strata/pkg/schema"
	"github.com/stratagen/strata/pkg/world"
)

const (
	strategyThermal   = "thermal"
	strategyHydraulic = "hydraulic"
)

// erosionStrategy is one of thermalErosion or hydraulicErosion.
type erosionStrategy interface {
	strategy() string
}

// thermalErosion slumps material from cells steeper than talus to their
// neighbours.
type thermalErosion struct {
	Iterations int     `json:"iterations"`
	Talus      float64 `json:"talus"`
}

func (thermalErosion) strategy() string { return strategyThermal }

// hydraulicErosion moves material from each cell towards its lowest
// neighbour.
type hydraulicErosion struct {
	Iterations int     `json:"iterations"`
	Rate       float64 `json:"rate"`
}

func (hydraulicErosion) strategy() string { return strategyHydraulic }

func decodeErosion(cfg schema.Config) (erosionStrategy, error) {
	switch cfg.Strategy {
	case strategyThermal:
		var s thermalErosion
		if err := cfg.Decode(&s); err != nil {
			return nil, err
		}
		return s, nil
	case strategyHydraulic:
		var s hydraulicErosion
		if err := cfg.Decode(&s); err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown erosion strategy %q", cfg.Strategy)
	}
}

func erosionStep() engine.StepDefinition {
	return engine.StepDefinition{
		ID:          StepErosion,
		Phase:       "morphology",
		Description: "Smooth the elevation field in place",
		Requires:    []string{TagElevation},
		Provides:    []string{TagElevation},
		Config:      erosionSchema,
		Run:         runErosion,
	}
}

func runErosion(wc *world.Context, cfg schema.Config) error {
	strategy, err := decodeErosion(cfg)
	if err != nil {
		return err
	}

	elevation, err := wc.WriteFloat32(TagElevation)
	if err != nil {
		return err
	}

	var moved float64
	switch s := strategy.(type) {
	case thermalErosion:
		moved = s.apply(wc.Grid(), elevation)
	case hydraulicErosion:
		moved = s.apply(wc.Grid(), elevation)
	default:
		return fmt.Errorf("unhandled erosion strategy %T", strategy)
	}

	wc.Trace().EventFunc(func() any {
		return map[string]any{
			"strategy": strategy.strategy(),
			"moved":    moved,
		}
	})
	return nil
}

func (e thermalErosion) apply(grid world.Grid, h []float32) float64 {
	delta := make([]float32, len(h))
	talus := float32(e.Talus)
	var moved float64
	var nb []int

	for it := 0; it < e.Iterations; it++ {
		clear(delta)
		for i := range h {
			x, y := grid.Coords(i)
			nb = grid.Neighbors(nb[:0], x, y)
			for _, n := range nb {
				diff := h[i] - h[n]
				if diff <= talus {
					continue
				}
				// at most half the excess leaves a cell across all eight neighbours
				amount := (diff - talus) / 16
				delta[i] -= amount
				delta[n] += amount
				moved += float64(amount)
			}
		}
		for i := range h {
			h[i] += delta[i]
		}
	}
	return moved
}

func (e hydraulicErosion) apply(grid world.Grid, h []float32) float64 {
	delta := make([]float32, len(h))
	rate := float32(e.Rate)
	var moved float64
	var nb []int

	for it := 0; it < e.Iterations; it++ {
		clear(delta)
		for i := range h {
			x, y := grid.Coords(i)
			nb = grid.Neighbors(nb[:0], x, y)
			lowest := -1
			for _, n := range nb {
				if h[n] < h[i] && (lowest < 0 || h[n] < h[lowest]) {
					lowest = n
				}
			}
			if lowest < 0 {
				continue
			}
			amount := rate * (h[i] - h[lowest]) / 2
			delta[i] -= amount
			delta[lowest] += amount
			moved += float64(amount)
		}
		for i := range h {
			h[i] += delta[i]
		}
	}
	return moved
}
