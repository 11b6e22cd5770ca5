package steps

import (
	"github.com/stratagen/strata/pkg/engine"
	"github.com/stratagen/strata/pkg/schema"
	"github.com/stratagen/strata/pkg/world"
)

// Biome is the class stored in the biome field.
type Biome int32

const (
	BiomeOcean Biome = iota
	BiomeIce
	BiomeTundra
	BiomeDesert
	BiomeGrassland
	BiomeForest
	BiomeRainforest
	BiomeMountain
)

var biomeNames = [...]string{
	BiomeOcean:      "ocean",
	BiomeIce:        "ice",
	BiomeTundra:     "tundra",
	BiomeDesert:     "desert",
	BiomeGrassland:  "grassland",
	BiomeForest:     "forest",
	BiomeRainforest: "rainforest",
	BiomeMountain:   "mountain",
}

func (b Biome) String() string {
	if b < 0 || int(b) >= len(biomeNames) {
		return "unknown"
	}
	return biomeNames[b]
}

// mountainHeight is the height above sea level where cells become mountains.
const mountainHeight = 0.6

// Classify returns the biome of a cell.
func Classify(elevation, temperature, rainfall, seaLevel float64) Biome {
	switch {
	case elevation < seaLevel && temperature < -10:
		return BiomeIce
	case elevation < seaLevel:
		return BiomeOcean
	case elevation > seaLevel+mountainHeight:
		return BiomeMountain
	case temperature < -10:
		return BiomeIce
	case temperature < 0:
		return BiomeTundra
	case rainfall < 250:
		return BiomeDesert
	case rainfall < 700:
		return BiomeGrassland
	case temperature > 20 && rainfall > 1500:
		return BiomeRainforest
	default:
		return BiomeForest
	}
}

type biomesConfig struct {
	SeaLevel float64 `json:"seaLevel"`
}

func biomesStep() engine.StepDefinition {
	return engine.StepDefinition{
		ID:          StepBiomes,
		Phase:       "ecology",
		Description: "Classify cells into biomes",
		Requires:    []string{TagTemperature, TagRainfall, TagElevation},
		Provides:    []string{TagBiome},
		Config:      biomesSchema,
		Run:         runBiomes,
	}
}

func runBiomes(wc *world.Context, cfg schema.Config) error {
	var c biomesConfig
	if err := cfg.Decode(&c); err != nil {
		return err
	}

	elevation, err := wc.Float32(TagElevation)
	if err != nil {
		return err
	}
	temperature, err := wc.Float32(TagTemperature)
	if err != nil {
		return err
	}
	rainfall, err := wc.Float32(TagRainfall)
	if err != nil {
		return err
	}
	biomes, err := wc.WriteInt32(TagBiome)
	if err != nil {
		return err
	}

	for i := range biomes {
		biomes[i] = int32(Classify(
			float64(elevation[i]),
			float64(temperature[i]),
			float64(rainfall[i]),
			c.SeaLevel,
		))
	}

	wc.Trace().EventFunc(func() any {
		counts := make(map[string]any)
		for _, b := range biomes {
			name := Biome(b).String()
			n, _ := counts[name].(int)
			counts[name] = n + 1
		}
		return counts
	})
	return nil
}
