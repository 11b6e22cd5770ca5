package steps

import (
	"context"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratagen/strata/pkg/engine"
	"github.com/stratagen/strata/pkg/schema"
	"github.com/stratagen/strata/pkg/trace"
	"github.com/stratagen/strata/pkg/world"
)

func smallSettings(seed int64) engine.RunSettings {
	settings := engine.DefaultRunSettings()
	settings.Seed = seed
	settings.Dimensions = world.Dimensions{Width: 24, Height: 12}
	return settings
}

type runResult struct {
	world   *world.Context
	adapter *world.MemoryAdapter
	events  *trace.Recorder
}

func runRecipe(t *testing.T, recipe engine.Recipe, settings engine.RunSettings) runResult {
	t.Helper()

	reg, err := NewRegistry()
	require.NoError(t, err)

	plan, err := engine.NewCompiler(reg).Compile(context.Background(), recipe, settings)
	require.NoError(t, err)

	adapter := world.NewMemoryAdapter(settings.Grid())
	wc, err := settings.NewWorld(adapter)
	require.NoError(t, err)

	rec := trace.NewRecorder()
	require.NoError(t, engine.NewExecutor(reg, engine.WithTraceSink(rec)).Execute(context.Background(), wc, plan))

	return runResult{world: wc, adapter: adapter, events: rec}
}

func TestRegister_Twice(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)

	err = Register(reg)
	require.Error(t, err)
	assert.True(t, engine.IsDuplicateStep(err))
}

func TestDefaultRecipe_Order(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)

	plan, err := engine.NewCompiler(reg).Compile(context.Background(), DefaultRecipe(), smallSettings(1))
	require.NoError(t, err)

	want := []string{
		StepPlates,
		StepElevation,
		StepErosion,
		StepTemperature,
		StepRainfall,
		StepBiomes,
		StepCommitElevation,
		StepCommitBiomes,
	}
	if diff := cmp.Diff(want, plan.StepIDs()); diff != "" {
		t.Errorf("default order mismatch (-want +got):\n%s", diff)
	}
}

func TestDefaultRecipe_ReversedStillCompiles(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)

	recipe := DefaultRecipe()
	for i, j := 0, len(recipe)-1; i < j; i, j = i+1, j-1 {
		recipe[i], recipe[j] = recipe[j], recipe[i]
	}

	plan, err := engine.NewCompiler(reg).Compile(context.Background(), recipe, smallSettings(1))
	require.NoError(t, err)
	assert.Equal(t, StepPlates, plan.StepIDs()[0])
	assert.Equal(t, StepCommitBiomes, plan.StepIDs()[plan.Len()-1])
}

func TestDefaultRecipe_Run(t *testing.T) {
	res := runRecipe(t, DefaultRecipe(), smallSettings(7))

	for _, tag := range []string{TagPlates, TagPlateID, TagElevation, TagTemperature, TagRainfall, TagBiome, TagHostElevation, TagHostBiomes} {
		assert.True(t, res.world.Has(tag), "missing %s", tag)
	}
	assert.Equal(t, []string{HostFieldElevation, HostFieldTerrain}, res.adapter.Commits())

	elevation, err := res.world.Float32(TagElevation)
	require.NoError(t, err)
	committed, ok := res.adapter.CommittedFloat32(HostFieldElevation)
	require.True(t, ok)
	assert.Equal(t, elevation, committed)

	biomes, err := res.world.Int32(TagBiome)
	require.NoError(t, err)
	for _, b := range biomes {
		assert.NotEqual(t, "unknown", Biome(b).String())
	}
	assert.Equal(t, int(biomes[0]), res.adapter.ReadTerrain(0, 0))
}

func TestDefaultRecipe_Deterministic(t *testing.T) {
	first := runRecipe(t, DefaultRecipe(), smallSettings(11))
	second := runRecipe(t, DefaultRecipe(), smallSettings(11))
	other := runRecipe(t, DefaultRecipe(), smallSettings(12))

	a, err := first.world.Float32(TagElevation)
	require.NoError(t, err)
	b, err := second.world.Float32(TagElevation)
	require.NoError(t, err)
	c, err := other.world.Float32(TagElevation)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestPlates(t *testing.T) {
	settings := smallSettings(3)
	recipe := engine.Recipe{{StepID: StepPlates, Config: map[string]any{"count": 5, "oceanicRatio": 1}}}
	res := runRecipe(t, recipe, settings)

	set, err := world.ArtifactAs[*PlateSet](res.world, TagPlates)
	require.NoError(t, err)
	require.Len(t, set.Plates, 5)
	assert.Equal(t, 5, set.Oceanic())

	ids, err := res.world.Int32(TagPlateID)
	require.NoError(t, err)
	for _, id := range ids {
		assert.GreaterOrEqual(t, id, int32(0))
		assert.Less(t, id, int32(5))
	}

	// every centre belongs to its own plate unless two centres coincide
	grid := settings.Grid()
	for _, p := range set.Plates {
		owner := ids[grid.Index(p.X, p.Y)]
		assert.Equal(t, p.X, set.Plates[owner].X)
		assert.Equal(t, p.Y, set.Plates[owner].Y)
	}
}

func TestPlates_ConfigBounds(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)

	_, err = engine.NewCompiler(reg).Compile(context.Background(),
		engine.Recipe{{StepID: StepPlates, Config: map[string]any{"count": 1}}}, smallSettings(1))
	require.Error(t, err)

	e, ok := engine.AsEngineError(err)
	require.True(t, ok)
	assert.Equal(t, engine.ErrCodeConfigValidation, e.Code)
	assert.Equal(t, StepPlates, e.Step)
	assert.Equal(t, "count", e.Path)
}

func TestAxisDistance(t *testing.T) {
	assert.Equal(t, 2, axisDistance(1, 9, 10, true))
	assert.Equal(t, 8, axisDistance(1, 9, 10, false))
	assert.Equal(t, -2, signedAxisDistance(9, 1, 10, true))
	assert.Equal(t, 8, signedAxisDistance(9, 1, 10, false))
}

func TestConvergence(t *testing.T) {
	grid := world.Grid{Dimensions: world.Dimensions{Width: 10, Height: 10}}
	p := Plate{X: 2, Y: 5, DriftX: 1}
	q := Plate{X: 6, Y: 5, DriftX: -1}

	assert.InDelta(t, 1.0, convergence(grid, p, q), 1e-9)
	assert.InDelta(t, 1.0, convergence(grid, q, p), 1e-9)

	p.DriftX, q.DriftX = -1, 1
	assert.Zero(t, convergence(grid, p, q))
}

func ridge(grid world.Grid) []float32 {
	h := make([]float32, grid.Cells())
	h[grid.Index(grid.Width/2, grid.Height/2)] = 1
	return h
}

func sum(values []float32) float64 {
	var s float64
	for _, v := range values {
		s += float64(v)
	}
	return s
}

func TestErosion_ConservesMaterial(t *testing.T) {
	grid := world.Grid{Dimensions: world.Dimensions{Width: 9, Height: 9}}

	tests := []struct {
		name     string
		strategy interface {
			apply(world.Grid, []float32) float64
		}
	}{
		{name: "thermal", strategy: thermalErosion{Iterations: 5, Talus: 0.01}},
		{name: "hydraulic", strategy: hydraulicErosion{Iterations: 5, Rate: 0.5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := ridge(grid)
			moved := tt.strategy.apply(grid, h)

			assert.Greater(t, moved, 0.0)
			assert.InDelta(t, 1.0, sum(h), 1e-5)
			_, hi := minMax(h)
			assert.Less(t, hi, float32(1))
		})
	}
}

func TestErosion_ZeroIterationsIsNoop(t *testing.T) {
	grid := world.Grid{Dimensions: world.Dimensions{Width: 5, Height: 5}}
	h := ridge(grid)
	assert.Zero(t, thermalErosion{Talus: 0.1}.apply(grid, h))
	assert.Equal(t, ridge(grid), h)
}

func TestDecodeErosion(t *testing.T) {
	cfg, err := erosionSchema.Resolve(map[string]any{
		"strategy": strategyHydraulic,
		"config":   map[string]any{"rate": 0.3},
	})
	require.NoError(t, err)

	s, err := decodeErosion(cfg)
	require.NoError(t, err)
	assert.Equal(t, hydraulicErosion{Iterations: 10, Rate: 0.3}, s)

	s, err = decodeErosion(erosionSchema.Defaults())
	require.NoError(t, err)
	assert.Equal(t, thermalErosion{Iterations: 4, Talus: 0.02}, s)

	_, err = decodeErosion(schema.Config{Strategy: "glacial"})
	assert.ErrorContains(t, err, "glacial")
}

func TestErosion_TraceEvent(t *testing.T) {
	settings := smallSettings(5)
	settings.Trace.Steps = map[string]trace.Verbosity{StepErosion: trace.VerbosityVerbose}

	recipe := DefaultRecipe()
	for i := range recipe {
		if recipe[i].StepID == StepErosion {
			recipe[i].Config = map[string]any{"strategy": strategyHydraulic}
		}
	}
	res := runRecipe(t, recipe, settings)

	events := res.events.Filter(trace.KindStepEvent)
	require.Len(t, events, 1)
	assert.Equal(t, StepErosion, events[0].StepID)

	data, ok := events[0].Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, strategyHydraulic, data["strategy"])
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name                         string
		elevation, temperature, rain float64
		want                         Biome
	}{
		{"deep sea", -0.5, 15, 1000, BiomeOcean},
		{"polar sea", -0.5, -20, 100, BiomeIce},
		{"peak", 0.9, -5, 400, BiomeMountain},
		{"glacier", 0.2, -15, 400, BiomeIce},
		{"tundra", 0.2, -5, 400, BiomeTundra},
		{"desert", 0.2, 30, 100, BiomeDesert},
		{"steppe", 0.2, 12, 500, BiomeGrassland},
		{"jungle", 0.1, 26, 2000, BiomeRainforest},
		{"woods", 0.1, 12, 1200, BiomeForest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.elevation, tt.temperature, tt.rain, 0))
		})
	}
}

func TestBiome_String(t *testing.T) {
	assert.Equal(t, "rainforest", BiomeRainforest.String())
	assert.Equal(t, "unknown", Biome(42).String())
}

func TestTemperature_FallsWithLatitudeAndAltitude(t *testing.T) {
	settings := smallSettings(1)
	grid := settings.Grid()
	wc, err := settings.NewWorld(nil)
	require.NoError(t, err)

	elevation, err := wc.WriteFloat32(TagElevation)
	require.NoError(t, err)
	elevation[grid.Index(0, grid.Height/2)] = 0.5

	require.NoError(t, runTemperature(wc, temperatureSchema.Defaults()))
	temperature, err := wc.Float32(TagTemperature)
	require.NoError(t, err)

	equator := temperature[grid.Index(1, grid.Height/2)]
	pole := temperature[grid.Index(1, 0)]
	peak := temperature[grid.Index(0, grid.Height/2)]

	assert.Greater(t, equator, pole)
	assert.InDelta(t, float64(equator)-10, float64(peak), 1e-4)
}

func TestRainfall_OrographicLift(t *testing.T) {
	settings := smallSettings(1)
	settings.LatitudeBounds = world.LatitudeBounds{Top: 5, Bottom: -5}
	grid := settings.Grid()
	wc, err := settings.NewWorld(nil)
	require.NoError(t, err)

	elevation, err := wc.WriteFloat32(TagElevation)
	require.NoError(t, err)
	elevation[grid.Index(5, 3)] = 0.5

	require.NoError(t, runRainfall(wc, rainfallSchema.Defaults()))
	rainfall, err := wc.Float32(TagRainfall)
	require.NoError(t, err)

	flat := rainfall[grid.Index(10, 3)]
	slope := rainfall[grid.Index(5, 3)]
	assert.InDelta(t, float64(flat)+750, float64(slope), 1e-2)
	assert.False(t, math.IsNaN(float64(flat)))
}

func TestHostCommit_RequiresAdapter(t *testing.T) {
	settings := smallSettings(1)
	wc, err := settings.NewWorld(nil)
	require.NoError(t, err)

	_, err = wc.WriteFloat32(TagElevation)
	require.NoError(t, err)

	err = runCommitElevation(wc, schema.Config{})
	assert.ErrorIs(t, err, world.ErrNoAdapter)
}
