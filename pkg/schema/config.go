package schema

import (
	"fmt"

	"cuelang.org/go/cue/cuecontext"
)

// Config is a resolved step configuration. Strategy is empty unless the
// configuration came from a Union.
type Config struct {
	Strategy string
	Values   map[string]any
}

// Clone returns a deep copy of the configuration.
func (c Config) Clone() Config {
	return Config{Strategy: c.Strategy, Values: cloneMap(c.Values)}
}

// Get returns a top-level value.
func (c Config) Get(key string) (any, bool) {
	v, ok := c.Values[key]
	return v, ok
}

// Decode decodes the values into dst, which is usually a pointer to a struct
// with json tags.
func (c Config) Decode(dst any) error {
	v := cuecontext.New().Encode(c.Values)
	if err := v.Err(); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := v.Decode(dst); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}
	return nil
}

// Document returns the configuration as a plain tree. Union configurations
// are wrapped as {strategy, config}, the same shape accepted as override.
func (c Config) Document() map[string]any {
	if c.Strategy == "" {
		return cloneMap(c.Values)
	}
	return map[string]any{
		"strategy": c.Strategy,
		"config":   cloneMap(c.Values),
	}
}

// None is the resolver for steps without configuration.
var None Resolver = noConfig{}

type noConfig struct{}

func (noConfig) Defaults() Config {
	return Config{Values: map[string]any{}}
}

func (noConfig) Resolve(override map[string]any) (Config, error) {
	for _, k := range sortedKeys(override) {
		return Config{}, fieldErrorf(k, "field not allowed: step takes no configuration")
	}
	return Config{Values: map[string]any{}}, nil
}
