package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/stratagen/strata/pkg/engine"
)

// Format identifies the syntax of a recipe file.
type Format string

const (
	FormatYAML     Format = "yaml"
	FormatCUE      Format = "cue"
	FormatHCL      Format = "hcl"
	FormatStarlark Format = "starlark"
)

// FormatFromPath picks the format from the file extension. JSON files are
// read as YAML.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		return FormatYAML, nil
	case ".cue":
		return FormatCUE, nil
	case ".hcl":
		return FormatHCL, nil
	case ".star", ".star.py":
		return FormatStarlark, nil
	default:
		return "", fmt.Errorf("unsupported recipe file extension %q", filepath.Ext(path))
	}
}

// File is a loaded recipe file: the recipe plus the run settings it selects,
// merged over the loader defaults.
type File struct {
	// Path is the source file, empty for in-memory sources.
	Path string

	// Format is the syntax the file was read as.
	Format Format

	// Name is the optional recipe name.
	Name string

	// Settings are the run settings. Fields the file leaves out keep the
	// loader defaults.
	Settings engine.RunSettings

	// Recipe is the ordered list of selected steps.
	Recipe engine.Recipe
}

// document is the format-neutral shape every decoder produces.
type document struct {
	Name     string               `json:"name" validate:"omitempty,max=128"`
	Settings map[string]any       `json:"settings"`
	Steps    []engine.RecipeEntry `json:"steps" validate:"dive"`
}
