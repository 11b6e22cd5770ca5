// Package engine provides the contract system, plan compiler and executor of
// the strata generation pipeline.
//
// # Overview
//
// A generation run is assembled from independently authored steps. Each step
// declares the dependency tags it requires and provides; the engine derives
// the execution order from those declarations:
//
//  1. Tags - artifact, field and effect tags are registered in a TagRegistry
//  2. Steps - StepDefinitions are registered in a StepRegistry, which checks
//     every tag reference at registration time
//  3. Compile - a Recipe plus RunSettings is compiled into an ExecutionPlan:
//     configuration is resolved against each step's schema, the provides ->
//     requires graph is built, unsatisfied requirements and cycles are
//     rejected, and the steps are ordered topologically with recipe order as
//     the tie-break
//  4. Execute - the Executor runs the plan against a world.Context and emits
//     run.start, step.start, step.finish and run.finish trace events
//
// # Tag Kinds
//
//   - artifact: an opaque data product consumed by reference
//   - field: a named per-cell buffer of the world model
//   - effect: a payload-free marker ("elevation committed to the host")
//
// A step may require and provide the same field or effect tag to update it in
// place. Self-edges are never added to the graph.
//
// # Determinism
//
// Compiling the same recipe and settings always yields the same order and the
// same fingerprint, a domain-separated sha256 over canonical JSON of the
// ordered step ids, their resolved configuration and the settings.
//
// # Errors
//
// Registration and compilation failures are *EngineError values of class
// contract, identified by code (UNKNOWN_STEP, CYCLIC_DEPENDENCY, ...) and
// carrying the step, tag, field path or cycle concerned. Errors returned by
// step bodies pass through the executor unchanged.
package engine
