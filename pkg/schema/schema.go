package schema

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

const definitionName = "#Config"

// Resolver turns a configuration override into a validated Config.
// Schema and Union implement it.
type Resolver interface {
	// Defaults returns the configuration obtained from an empty override.
	Defaults() Config

	// Resolve applies override on top of the defaults and validates the result.
	Resolve(override map[string]any) (Config, error)
}

// Schema is a closed CUE struct describing one configuration shape.
type Schema struct {
	name     string
	source   string
	defaults map[string]any

	mu  sync.Mutex
	ctx *cue.Context
	def cue.Value
}

// Compile compiles the body of a CUE struct into a Schema.
func Compile(name, source string) (*Schema, error) {
	ctx := cuecontext.New()
	root := ctx.CompileString(
		fmt.Sprintf("%s: {\n%s\n}", definitionName, source),
		cue.Filename(name+".cue"),
	)
	if err := root.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	def := root.LookupPath(cue.ParsePath(definitionName))
	if err := def.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	defaults, err := collectDefaults(def)
	if err != nil {
		return nil, fmt.Errorf("failed to synthesize defaults for schema %s: %w", name, err)
	}

	return &Schema{
		name:     name,
		source:   source,
		defaults: defaults,
		ctx:      ctx,
		def:      def,
	}, nil
}

// MustCompile is like Compile but panics on error. It is intended for
// schemas declared as package-level literals.
func MustCompile(name, source string) *Schema {
	s, err := Compile(name, source)
	if err != nil {
		panic(err)
	}
	return s
}

// Name returns the schema name.
func (s *Schema) Name() string {
	return s.name
}

// Source returns the CUE source the schema was compiled from.
func (s *Schema) Source() string {
	return s.source
}

// Defaults returns a fresh copy of the default configuration.
func (s *Schema) Defaults() Config {
	return Config{Values: cloneMap(s.defaults)}
}

// Resolve merges override onto the defaults and validates the result.
func (s *Schema) Resolve(override map[string]any) (Config, error) {
	values, err := s.resolve(override, "")
	if err != nil {
		return Config{}, err
	}
	return Config{Values: values}, nil
}

func (s *Schema) resolve(override map[string]any, prefix string) (map[string]any, error) {
	merged := Merge(s.defaults, override)

	s.mu.Lock()
	defer s.mu.Unlock()

	data := s.ctx.Encode(merged)
	if err := data.Err(); err != nil {
		return nil, fromCUE(err, prefix)
	}

	unified := s.def.Unify(data)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, fromCUE(err, prefix)
	}

	var out map[string]any
	if err := unified.Decode(&out); err != nil {
		return nil, fromCUE(err, prefix)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

// collectDefaults walks a struct value and returns every field whose default
// is concrete. Nested structs are walked recursively.
func collectDefaults(v cue.Value) (map[string]any, error) {
	out := map[string]any{}

	it, err := v.Fields()
	if err != nil {
		return nil, err
	}

	for it.Next() {
		label := it.Selector().Unquoted()
		field := it.Value()

		if field.IncompleteKind() == cue.StructKind {
			nested, err := collectDefaults(field)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", label, err)
			}
			if len(nested) > 0 {
				out[label] = nested
			}
			continue
		}

		dv, _ := field.Default()
		if !dv.IsConcrete() {
			continue
		}

		var x any
		if err := dv.Decode(&x); err != nil {
			continue
		}
		out[label] = x
	}

	return out, nil
}
