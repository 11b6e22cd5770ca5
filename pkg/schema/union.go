package schema

import (
	"fmt"
	"sort"
	"strings"
)

// Variant names one strategy of a Union and its CUE source.
type Variant struct {
	Name   string
	Source string
}

// Union is a tagged union of named strategy schemas.
type Union struct {
	name     string
	fallback string
	order    []string
	variants map[string]*Schema
}

// NewUnion compiles each variant. defaultStrategy must name one of them.
func NewUnion(name, defaultStrategy string, variants ...Variant) (*Union, error) {
	if len(variants) == 0 {
		return nil, fmt.Errorf("union %s has no strategies", name)
	}

	u := &Union{
		name:     name,
		fallback: defaultStrategy,
		variants: make(map[string]*Schema, len(variants)),
	}
	for _, v := range variants {
		if _, exists := u.variants[v.Name]; exists {
			return nil, fmt.Errorf("union %s: strategy %q declared twice", name, v.Name)
		}
		s, err := Compile(name+"/"+v.Name, v.Source)
		if err != nil {
			return nil, err
		}
		u.variants[v.Name] = s
		u.order = append(u.order, v.Name)
	}

	if _, ok := u.variants[defaultStrategy]; !ok {
		return nil, fmt.Errorf("union %s: default strategy %q is not declared", name, defaultStrategy)
	}
	return u, nil
}

// MustUnion is like NewUnion but panics on error.
func MustUnion(name, defaultStrategy string, variants ...Variant) *Union {
	u, err := NewUnion(name, defaultStrategy, variants...)
	if err != nil {
		panic(err)
	}
	return u
}

// Name returns the union name.
func (u *Union) Name() string {
	return u.name
}

// DefaultStrategy returns the strategy used when an override names none.
func (u *Union) DefaultStrategy() string {
	return u.fallback
}

// Strategies returns the strategy names in declaration order.
func (u *Union) Strategies() []string {
	return append([]string(nil), u.order...)
}

// Defaults returns the defaults of the default strategy.
func (u *Union) Defaults() Config {
	cfg := u.variants[u.fallback].Defaults()
	cfg.Strategy = u.fallback
	return cfg
}

// Resolve accepts {strategy: <name>, config: {...}}. Both keys are optional.
func (u *Union) Resolve(override map[string]any) (Config, error) {
	strategy := u.fallback
	var inner map[string]any

	for _, k := range sortedKeys(override) {
		v := override[k]
		switch k {
		case "strategy":
			s, ok := v.(string)
			if !ok {
				return Config{}, fieldErrorf("strategy", "must be a string, got %T", v)
			}
			strategy = s
		case "config":
			if v == nil {
				continue
			}
			m, ok := v.(map[string]any)
			if !ok {
				return Config{}, fieldErrorf("config", "must be an object, got %T", v)
			}
			inner = m
		default:
			return Config{}, fieldErrorf(k, "field not allowed: expected strategy or config")
		}
	}

	variant, ok := u.variants[strategy]
	if !ok {
		return Config{}, fieldErrorf("strategy", "unknown strategy %q (known: %s)",
			strategy, strings.Join(u.order, ", "))
	}

	values, err := variant.resolve(inner, "config")
	if err != nil {
		return Config{}, err
	}
	return Config{Strategy: strategy, Values: values}, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
