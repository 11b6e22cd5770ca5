package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

func decodeYAML(src []byte) (map[string]any, error) {
	var tree map[string]any
	if err := yaml.Unmarshal(src, &tree); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return tree, nil
}
