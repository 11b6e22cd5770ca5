// Package steps contains the built-in world generation steps and the
// default recipe that chains them.
//
// Steps are grouped by phase:
//
//	foundation  tectonic plates
//	morphology  elevation and erosion
//	climate     temperature and rainfall
//	ecology     biome classification
//	host        commits of computed fields to the engine adapter
//
// Register adds the tags and steps to a registry:
//
//	reg := engine.NewStepRegistry(engine.NewTagRegistry())
//	if err := steps.Register(reg); err != nil {
//		return err
//	}
//	plan, err := engine.NewCompiler(reg).Compile(ctx, steps.DefaultRecipe(), settings)
//
// All randomness is drawn from the run seed through labeled streams, so a
// plan executed twice with the same settings produces identical buffers.
package steps
