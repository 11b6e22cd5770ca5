package config

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// StarlarkEvaluator executes Starlark recipe scripts. Scripts see the
// helpers step() and strategy() and describe the recipe through the globals
// name, settings and steps:
//
//	settings = {"seed": 7}
//	steps = [
//	    step("foundation.plates", count = 16),
//	    step("morphology.erosion", strategy = "hydraulic", config = {"rate": 0.2}),
//	]
type StarlarkEvaluator struct {
	timeout time.Duration
}

// StarlarkResult holds the converted globals of a script.
type StarlarkResult struct {
	Output        map[string]any
	ExecutionTime time.Duration
}

// NewStarlarkEvaluator creates an evaluator. A zero timeout means 10s.
func NewStarlarkEvaluator(timeout time.Duration) *StarlarkEvaluator {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &StarlarkEvaluator{timeout: timeout}
}

// Evaluate runs script and returns its exported globals. Globals starting
// with an underscore and callables are skipped. input is predeclared.
func (se *StarlarkEvaluator) Evaluate(ctx context.Context, filename, script string, input map[string]any) (*StarlarkResult, error) {
	started := time.Now()

	evalCtx, cancel := context.WithTimeout(ctx, se.timeout)
	defer cancel()

	thread := &starlark.Thread{
		Name:  "recipe",
		Print: func(*starlark.Thread, string) {},
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-evalCtx.Done():
			thread.Cancel(evalCtx.Err().Error())
		case <-done:
		}
	}()

	predeclared := starlark.StringDict{
		"struct":   starlarkstruct.Default,
		"step":     starlark.NewBuiltin("step", builtinStep),
		"strategy": starlark.NewBuiltin("strategy", builtinStrategy),
	}
	for _, key := range sortedKeys(input) {
		val, err := toStarlarkValue(input[key])
		if err != nil {
			return nil, fmt.Errorf("failed to convert input %s: %w", key, err)
		}
		predeclared[key] = val
	}

	globals, err := starlark.ExecFile(thread, filename, script, predeclared)
	if err != nil {
		if evalCtx.Err() != nil {
			return nil, fmt.Errorf("starlark execution stopped after %v: %w", time.Since(started).Round(time.Millisecond), evalCtx.Err())
		}
		return nil, fmt.Errorf("starlark execution failed: %w", err)
	}

	output := make(map[string]any, len(globals))
	for name, val := range globals {
		if name[0] == '_' {
			continue
		}
		if _, ok := val.(starlark.Callable); ok {
			continue
		}
		goVal, err := fromStarlarkValue(val)
		if err != nil {
			return nil, fmt.Errorf("failed to convert global %s: %w", name, err)
		}
		output[name] = goVal
	}

	return &StarlarkResult{
		Output:        output,
		ExecutionTime: time.Since(started),
	}, nil
}

func (l *Loader) decodeStarlark(ctx context.Context, name string, src []byte) (map[string]any, error) {
	result, err := l.starlark.Evaluate(ctx, name, string(src), nil)
	if err != nil {
		return nil, err
	}

	l.logger.Debug().
		Str("source", name).
		Dur("duration", result.ExecutionTime).
		Msg("starlark recipe evaluated")

	tree := make(map[string]any, 3)
	for _, key := range []string{"name", "settings", "steps"} {
		if v, ok := result.Output[key]; ok {
			tree[key] = v
		}
	}
	return tree, nil
}

// builtinStep implements step(id, **config).
func builtinStep(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var id string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, nil, 1, &id); err != nil {
		return nil, err
	}

	entry := starlark.NewDict(2)
	if err := entry.SetKey(starlark.String("step"), starlark.String(id)); err != nil {
		return nil, err
	}
	if len(kwargs) > 0 {
		cfg, err := kwargsDict(kwargs)
		if err != nil {
			return nil, err
		}
		if err := entry.SetKey(starlark.String("config"), cfg); err != nil {
			return nil, err
		}
	}
	return entry, nil
}

// builtinStrategy implements strategy(name, **config), the override shape
// of a strategy union.
func builtinStrategy(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, nil, 1, &name); err != nil {
		return nil, err
	}

	cfg, err := kwargsDict(kwargs)
	if err != nil {
		return nil, err
	}
	out := starlark.NewDict(2)
	if err := out.SetKey(starlark.String("strategy"), starlark.String(name)); err != nil {
		return nil, err
	}
	if err := out.SetKey(starlark.String("config"), cfg); err != nil {
		return nil, err
	}
	return out, nil
}

func kwargsDict(kwargs []starlark.Tuple) (*starlark.Dict, error) {
	d := starlark.NewDict(len(kwargs))
	for _, kv := range kwargs {
		if err := d.SetKey(kv[0], kv[1]); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// toStarlarkValue converts a Go value to a Starlark value.
func toStarlarkValue(v any) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []any:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			sv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = sv
		}
		return starlark.NewList(list), nil
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		dict := starlark.NewDict(len(val))
		for _, k := range keys {
			sv, err := toStarlarkValue(val[k])
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// fromStarlarkValue converts a Starlark value to a Go value.
func fromStarlarkValue(v starlark.Value) (any, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		list := make([]any, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := fromStarlarkValue(val.Index(i))
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case starlark.Tuple:
		list := make([]any, len(val))
		for i, elem := range val {
			item, err := fromStarlarkValue(elem)
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case *starlark.Dict:
		dict := make(map[string]any, val.Len())
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string, got %s", item[0].Type())
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]any)
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			value, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}
