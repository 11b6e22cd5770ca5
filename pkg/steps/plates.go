package steps

import (
	"fmt"
	"math"

	"github.com/stratagen/strata/pkg/engine"
	"github.com/stratagen/strata/pkg/schema"
	"github.com/stratagen/strata/pkg/world"
)

// Plate is one tectonic plate.
type Plate struct {
	ID      int32   `json:"id"`
	X       int     `json:"x"`
	Y       int     `json:"y"`
	Oceanic bool    `json:"oceanic"`
	DriftX  float64 `json:"driftX"`
	DriftY  float64 `json:"driftY"`
}

// PlateSet is the artifact published under TagPlates.
type PlateSet struct {
	Plates []Plate `json:"plates"`
}

// Oceanic returns the number of oceanic plates.
func (s *PlateSet) Oceanic() int {
	n := 0
	for _, p := range s.Plates {
		if p.Oceanic {
			n++
		}
	}
	return n
}

type platesConfig struct {
	Count        int     `json:"count"`
	OceanicRatio float64 `json:"oceanicRatio"`
}

func platesStep() engine.StepDefinition {
	return engine.StepDefinition{
		ID:          StepPlates,
		Phase:       "foundation",
		Description: "Scatter plate centres and assign every cell to its nearest plate",
		Provides:    []string{TagPlates, TagPlateID},
		Config:      platesSchema,
		Run:         runPlates,
	}
}

func runPlates(wc *world.Context, cfg schema.Config) error {
	var c platesConfig
	if err := cfg.Decode(&c); err != nil {
		return err
	}

	grid := wc.Grid()
	count := min(c.Count, grid.Cells())

	centres := wc.RandStream("plates/centres")
	kinds := wc.RandStream("plates/kinds")
	set := &PlateSet{Plates: make([]Plate, count)}
	for i := range set.Plates {
		x, y := grid.Coords(centres.Intn(grid.Cells()))
		angle := kinds.Range(0, 2*math.Pi)
		set.Plates[i] = Plate{
			ID:      int32(i),
			X:       x,
			Y:       y,
			Oceanic: kinds.Float64() < c.OceanicRatio,
			DriftX:  math.Cos(angle),
			DriftY:  math.Sin(angle),
		}
	}

	ids, err := wc.WriteInt32(TagPlateID)
	if err != nil {
		return err
	}
	for i := range ids {
		x, y := grid.Coords(i)
		ids[i] = nearestPlate(grid, set.Plates, x, y)
	}

	wc.Trace().EventFunc(func() any {
		sizes := make([]int, count)
		for _, id := range ids {
			sizes[id]++
		}
		return map[string]any{
			"plates":  count,
			"oceanic": set.Oceanic(),
			"sizes":   sizes,
		}
	})

	if err := wc.Publish(TagPlates, set); err != nil {
		return fmt.Errorf("publish plates: %w", err)
	}
	return nil
}

// nearestPlate returns the plate whose centre is closest to (x, y). Ties go
// to the lower plate id.
func nearestPlate(grid world.Grid, plates []Plate, x, y int) int32 {
	best := int32(0)
	bestDist := math.MaxInt
	for _, p := range plates {
		dx := axisDistance(x, p.X, grid.Width, grid.Wrap.X)
		dy := axisDistance(y, p.Y, grid.Height, grid.Wrap.Y)
		if d := dx*dx + dy*dy; d < bestDist {
			best, bestDist = p.ID, d
		}
	}
	return best
}

func axisDistance(a, b, size int, wrap bool) int {
	d := a - b
	if d < 0 {
		d = -d
	}
	if wrap && d > size/2 {
		d = size - d
	}
	return d
}
