package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/stratagen/strata/pkg/engine"
	"github.com/stratagen/strata/pkg/schema"
)

// Loader reads recipe files in any supported format.
type Loader struct {
	logger    zerolog.Logger
	validator *validator.Validate
	starlark  *StarlarkEvaluator
	defaults  engine.RunSettings
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithLogger sets the loader's logger.
func WithLogger(logger zerolog.Logger) LoaderOption {
	return func(l *Loader) {
		l.logger = logger
	}
}

// WithDefaults sets the run settings that files override.
func WithDefaults(settings engine.RunSettings) LoaderOption {
	return func(l *Loader) {
		l.defaults = settings.Clone()
	}
}

// WithStarlarkTimeout bounds the execution time of Starlark recipes.
func WithStarlarkTimeout(timeout time.Duration) LoaderOption {
	return func(l *Loader) {
		l.starlark = NewStarlarkEvaluator(timeout)
	}
}

// NewLoader creates a loader. Defaults are engine.DefaultRunSettings.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		logger:    zerolog.Nop(),
		validator: newValidator(),
		starlark:  NewStarlarkEvaluator(0),
		defaults:  engine.DefaultRunSettings(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With().Str("component", "recipe-loader").Logger()
	return l
}

// LoadFile reads and decodes the recipe file at path.
func (l *Loader) LoadFile(ctx context.Context, path string) (*File, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}

	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read recipe: %w", err)
	}

	f, err := l.Load(ctx, path, format, src)
	if err != nil {
		return nil, err
	}
	f.Path = path
	return f, nil
}

// Load decodes src as a recipe of the given format. name is used in error
// messages.
func (l *Loader) Load(ctx context.Context, name string, format Format, src []byte) (*File, error) {
	var (
		tree map[string]any
		err  error
	)
	switch format {
	case FormatYAML:
		tree, err = decodeYAML(src)
	case FormatCUE:
		tree, err = decodeCUE(name, src)
	case FormatHCL:
		tree, err = decodeHCL(name, src)
	case FormatStarlark:
		tree, err = l.decodeStarlark(ctx, name, src)
	default:
		return nil, fmt.Errorf("unsupported recipe format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	doc, err := documentFromTree(tree)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if err := l.validate(doc); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	settings, err := l.mergeSettings(doc.Settings)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	l.logger.Debug().
		Str("source", name).
		Str("format", string(format)).
		Int("steps", len(doc.Steps)).
		Msg("recipe loaded")

	return &File{
		Format:   format,
		Name:     doc.Name,
		Settings: settings,
		Recipe:   engine.Recipe(doc.Steps),
	}, nil
}

func documentFromTree(tree map[string]any) (*document, error) {
	doc := &document{}
	for _, key := range sortedKeys(tree) {
		val := tree[key]
		switch key {
		case "name":
			name, ok := val.(string)
			if !ok {
				return nil, fmt.Errorf("name: expected a string, got %T", val)
			}
			doc.Name = name
		case "settings":
			if val == nil {
				continue
			}
			settings, ok := val.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("settings: expected an object, got %T", val)
			}
			doc.Settings = settings
		case "steps":
			steps, err := stepsFromTree(val)
			if err != nil {
				return nil, err
			}
			doc.Steps = steps
		default:
			return nil, fmt.Errorf("%s: unknown top-level field", key)
		}
	}
	return doc, nil
}

func stepsFromTree(val any) ([]engine.RecipeEntry, error) {
	if val == nil {
		return nil, nil
	}
	list, ok := val.([]any)
	if !ok {
		return nil, fmt.Errorf("steps: expected a list, got %T", val)
	}

	entries := make([]engine.RecipeEntry, len(list))
	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("steps[%d]: expected an object, got %T", i, item)
		}
		for _, key := range sortedKeys(m) {
			switch v := m[key]; key {
			case "step":
				id, ok := v.(string)
				if !ok {
					return nil, fmt.Errorf("steps[%d].step: expected a string, got %T", i, v)
				}
				entries[i].StepID = id
			case "config":
				if v == nil {
					continue
				}
				cfg, ok := v.(map[string]any)
				if !ok {
					return nil, fmt.Errorf("steps[%d].config: expected an object, got %T", i, v)
				}
				entries[i].Config = cfg
			default:
				return nil, fmt.Errorf("steps[%d].%s: unknown field", i, key)
			}
		}
	}
	return entries, nil
}

func (l *Loader) validate(doc *document) error {
	err := l.validator.Struct(doc)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, len(verrs))
	for i, fe := range verrs {
		path := fe.Namespace()
		if at := strings.IndexByte(path, '.'); at >= 0 {
			path = path[at+1:]
		}
		msgs[i] = fmt.Sprintf("%s: failed on %q", path, fe.Tag())
	}
	return fmt.Errorf("invalid recipe: %s", strings.Join(msgs, "; "))
}

// mergeSettings deep-merges the file settings over the defaults and decodes
// the result. Unknown fields are rejected.
func (l *Loader) mergeSettings(override map[string]any) (engine.RunSettings, error) {
	base, err := toTree(l.defaults)
	if err != nil {
		return engine.RunSettings{}, err
	}

	raw, err := json.Marshal(schema.Merge(base, override))
	if err != nil {
		return engine.RunSettings{}, fmt.Errorf("settings: %w", err)
	}

	var settings engine.RunSettings
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&settings); err != nil {
		return engine.RunSettings{}, fmt.Errorf("settings: %w", err)
	}
	return settings, nil
}

// toTree converts v to a plain map through JSON, keeping numbers exact.
func toTree(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var tree map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&tree); err != nil {
		return nil, err
	}
	return tree, nil
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
