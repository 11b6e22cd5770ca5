// Package config loads recipe files.
//
// A recipe file names the steps to run, optional configuration overrides per
// step and optional run settings. Four syntaxes are accepted and chosen by
// file extension:
//
//	.yaml .yml .json   YAML (JSON is read as YAML)
//	.cue               CUE, evaluated and required to be concrete
//	.hcl               HCL with a settings block and one step block per step
//	.star              Starlark, reading the globals name, settings and steps
//
// Every format decodes to the same tree:
//
//	name: archipelago
//	settings:
//	  seed: 42
//	  dimensions: {width: 48, height: 24}
//	steps:
//	  - step: foundation.plates
//	    config: {count: 16}
//	  - step: morphology.erosion
//	    config: {strategy: hydraulic, config: {rate: 0.2}}
//
// Settings are deep-merged over the loader defaults; unknown fields are
// rejected. The tree is checked with validator struct tags, but step ids and
// configuration values are only checked when the recipe is compiled.
//
// Watcher reloads a file after every change, which backs `strata watch`.
package config
