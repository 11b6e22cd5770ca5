package steps

import (
	"fmt"
	"math"

	"github.com/stratagen/strata/pkg/engine"
	"github.com/stratagen/strata/pkg/schema"
	"github.com/stratagen/strata/pkg/world"
)

type elevationConfig struct {
	ContinentalBase float64 `json:"continentalBase"`
	OceanicBase     float64 `json:"oceanicBase"`
	BoundaryUplift  float64 `json:"boundaryUplift"`
	Roughness       float64 `json:"roughness"`
}

func elevationStep() engine.StepDefinition {
	return engine.StepDefinition{
		ID:          StepElevation,
		Phase:       "morphology",
		Description: "Derive base elevation from plate kind and uplift at converging boundaries",
		Requires:    []string{TagPlates, TagPlateID},
		Provides:    []string{TagElevation},
		Config:      elevationSchema,
		Run:         runElevation,
	}
}

func runElevation(wc *world.Context, cfg schema.Config) error {
	var c elevationConfig
	if err := cfg.Decode(&c); err != nil {
		return err
	}

	set, err := world.ArtifactAs[*PlateSet](wc, TagPlates)
	if err != nil {
		return err
	}
	ids, err := wc.Int32(TagPlateID)
	if err != nil {
		return err
	}
	elevation, err := wc.WriteFloat32(TagElevation)
	if err != nil {
		return err
	}

	grid := wc.Grid()
	noise := wc.RandStream("elevation/roughness")
	boundary := 0

	var nb []int
	for i := range elevation {
		id := ids[i]
		if int(id) >= len(set.Plates) || id < 0 {
			return fmt.Errorf("cell %d references unknown plate %d", i, id)
		}
		p := set.Plates[id]

		h := c.ContinentalBase
		if p.Oceanic {
			h = c.OceanicBase
		}

		x, y := grid.Coords(i)
		nb = grid.Neighbors(nb[:0], x, y)
		uplift := 0.0
		for _, n := range nb {
			if ids[n] == id {
				continue
			}
			uplift = math.Max(uplift, convergence(grid, p, set.Plates[ids[n]]))
		}
		if uplift > 0 {
			boundary++
		}

		h += c.BoundaryUplift * uplift
		h += c.Roughness * noise.Range(-1, 1)
		elevation[i] = float32(h)
	}

	wc.Trace().EventFunc(func() any {
		lo, hi := minMax(elevation)
		return map[string]any{
			"boundaryCells": boundary,
			"min":           lo,
			"max":           hi,
		}
	})
	return nil
}

// convergence returns how fast plate q closes on plate p along the line
// between their centres, scaled to [0, 1]. Diverging plates give 0.
func convergence(grid world.Grid, p, q Plate) float64 {
	dx := float64(signedAxisDistance(q.X, p.X, grid.Width, grid.Wrap.X))
	dy := float64(signedAxisDistance(q.Y, p.Y, grid.Height, grid.Wrap.Y))
	length := math.Hypot(dx, dy)
	if length == 0 {
		return 0
	}
	closing := ((p.DriftX-q.DriftX)*dx + (p.DriftY-q.DriftY)*dy) / length
	return math.Max(0, math.Min(1, closing/2))
}

func signedAxisDistance(to, from, size int, wrap bool) int {
	d := to - from
	if wrap {
		if d > size/2 {
			d -= size
		} else if d < -size/2 {
			d += size
		}
	}
	return d
}

func minMax(values []float32) (lo, hi float32) {
	if len(values) == 0 {
		return 0, 0
	}
	lo, hi = values[0], values[0]
	for _, v := range values[1:] {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	return lo, hi
}
