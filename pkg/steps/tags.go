package steps

import "github.com/stratagen/strata/pkg/engine"

// Dependency tags produced and consumed by the built-in steps.
const (
	TagPlates        = "artifact:plates"
	TagPlateID       = "field:plateId"
	TagElevation     = "field:elevation"
	TagTemperature   = "field:temperature"
	TagRainfall      = "field:rainfall"
	TagBiome         = "field:biome"
	TagHostElevation = "effect:host.elevation"
	TagHostBiomes    = "effect:host.biomes"
)

// Tags returns the definitions of every built-in tag.
func Tags() []engine.TagDefinition {
	return []engine.TagDefinition{
		{ID: TagPlates, Kind: engine.TagKindArtifact, Description: "tectonic plate layout"},
		{ID: TagPlateID, Kind: engine.TagKindField, Description: "plate index per cell"},
		{ID: TagElevation, Kind: engine.TagKindField, Description: "height above sea level, roughly -1..1"},
		{ID: TagTemperature, Kind: engine.TagKindField, Description: "mean temperature in degrees Celsius"},
		{ID: TagRainfall, Kind: engine.TagKindField, Description: "annual rainfall in millimetres"},
		{ID: TagBiome, Kind: engine.TagKindField, Description: "biome class per cell"},
		{ID: TagHostElevation, Kind: engine.TagKindEffect, Description: "elevation committed to the host"},
		{ID: TagHostBiomes, Kind: engine.TagKindEffect, Description: "biomes committed to the host"},
	}
}
