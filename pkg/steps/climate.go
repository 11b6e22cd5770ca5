package steps

import (
	"math"

	"github.com/stratagen/strata/pkg/engine"
	"github.com/stratagen/strata/pkg/schema"
	"github.com/stratagen/strata/pkg/world"
)

type temperatureConfig struct {
	Equator   float64 `json:"equator"`
	Pole      float64 `json:"pole"`
	LapseRate float64 `json:"lapseRate"`
}

func temperatureStep() engine.StepDefinition {
	return engine.StepDefinition{
		ID:          StepTemperature,
		Phase:       "climate",
		Description: "Mean temperature from latitude and altitude",
		Requires:    []string{TagElevation},
		Provides:    []string{TagTemperature},
		Config:      temperatureSchema,
		Run:         runTemperature,
	}
}

func runTemperature(wc *world.Context, cfg schema.Config) error {
	var c temperatureConfig
	if err := cfg.Decode(&c); err != nil {
		return err
	}

	elevation, err := wc.Float32(TagElevation)
	if err != nil {
		return err
	}
	temperature, err := wc.WriteFloat32(TagTemperature)
	if err != nil {
		return err
	}

	grid := wc.Grid()
	for i := range temperature {
		_, y := grid.Coords(i)
		lat := math.Abs(grid.LatitudeAt(y))
		t := c.Equator - (c.Equator-c.Pole)*lat/90
		t -= c.LapseRate * math.Max(0, float64(elevation[i]))
		temperature[i] = float32(t)
	}

	wc.Trace().EventFunc(func() any {
		lo, hi := minMax(temperature)
		return map[string]any{"min": lo, "max": hi}
	})
	return nil
}

type rainfallConfig struct {
	Base       float64 `json:"base"`
	Orographic float64 `json:"orographic"`
}

func rainfallStep() engine.StepDefinition {
	return engine.StepDefinition{
		ID:          StepRainfall,
		Phase:       "climate",
		Description: "Annual rainfall from latitude bands and orographic lift",
		Requires:    []string{TagElevation},
		Provides:    []string{TagRainfall},
		Config:      rainfallSchema,
		Run:         runRainfall,
	}
}

func runRainfall(wc *world.Context, cfg schema.Config) error {
	var c rainfallConfig
	if err := cfg.Decode(&c); err != nil {
		return err
	}

	elevation, err := wc.Float32(TagElevation)
	if err != nil {
		return err
	}
	rainfall, err := wc.WriteFloat32(TagRainfall)
	if err != nil {
		return err
	}

	grid := wc.Grid()
	for i := range rainfall {
		x, y := grid.Coords(i)
		lat := grid.LatitudeAt(y)

		// wet at the equator and 60 degrees, dry at 30 and the poles
		band := 0.6 + 0.4*math.Cos(lat*math.Pi/30)
		r := c.Base * band

		if up, ok := upwind(grid, x, y, lat); ok {
			lift := float64(elevation[i] - elevation[up])
			r += c.Orographic * math.Max(0, lift)
		}
		rainfall[i] = float32(math.Max(0, r))
	}

	wc.Trace().EventFunc(func() any {
		lo, hi := minMax(rainfall)
		return map[string]any{"min": lo, "max": hi}
	})
	return nil
}

// upwind returns the cell the prevailing wind blows from: easterly trade
// winds below 30 degrees, westerlies above.
func upwind(grid world.Grid, x, y int, lat float64) (int, bool) {
	dx := -1
	if math.Abs(lat) < 30 {
		dx = 1
	}
	nx, ny, ok := grid.Normalize(x+dx, y)
	if !ok {
		return 0, false
	}
	return grid.Index(nx, ny), true
}
