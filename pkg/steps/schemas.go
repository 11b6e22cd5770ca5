package steps

import "github.com/stratagen/strata/pkg/schema"

const builtinPlatesSchema = `
count:        *12 | int & >=2 & <=64
oceanicRatio: *0.6 | number & >=0 & <=1
`

const builtinElevationSchema = `
continentalBase: *0.35 | number
oceanicBase:     *-0.45 | number
boundaryUplift:  *0.4 | number & >=0
roughness:       *0.08 | number & >=0
`

const builtinThermalErosionSchema = `
iterations: *4 | int & >=0 & <=256
talus:      *0.02 | number & >0
`

const builtinHydraulicErosionSchema = `
iterations: *10 | int & >=0 & <=256
rate:       *0.1 | number & >0 & <=1
`

const builtinTemperatureSchema = `
equator:   *30.0 | number
pole:      *-25.0 | number
lapseRate: *20.0 | number & >=0
`

const builtinRainfallSchema = `
base:       *1200.0 | number & >=0
orographic: *1500.0 | number & >=0
`

const builtinBiomesSchema = `
seaLevel: *0.0 | number
`

var (
	platesSchema      = schema.MustCompile(StepPlates, builtinPlatesSchema)
	elevationSchema   = schema.MustCompile(StepElevation, builtinElevationSchema)
	temperatureSchema = schema.MustCompile(StepTemperature, builtinTemperatureSchema)
	rainfallSchema    = schema.MustCompile(StepRainfall, builtinRainfallSchema)
	biomesSchema      = schema.MustCompile(StepBiomes, builtinBiomesSchema)

	erosionSchema = schema.MustUnion(StepErosion, strategyThermal,
		schema.Variant{Name: strategyThermal, Source: builtinThermalErosionSchema},
		schema.Variant{Name: strategyHydraulic, Source: builtinHydraulicErosionSchema},
	)
)
