package config

import (
	"fmt"
	"math/big"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"
)

// hclRecipe is the block layout of an HCL recipe:
//
//	name = "archipelago"
//	settings {
//	  seed       = 42
//	  dimensions = { width = 48, height = 24 }
//	}
//	step "foundation.plates" {
//	  count = 16
//	}
type hclRecipe struct {
	Name     string       `hcl:"name,optional"`
	Settings *hclSettings `hcl:"settings,block"`
	Steps    []*hclStep   `hcl:"step,block"`
}

type hclSettings struct {
	Body hcl.Body `hcl:",remain"`
}

type hclStep struct {
	ID   string   `hcl:"id,label"`
	Body hcl.Body `hcl:",remain"`
}

func decodeHCL(name string, src []byte) (map[string]any, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, name)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL: %s", diags.Error())
	}

	var recipe hclRecipe
	if diags := gohcl.DecodeBody(file.Body, nil, &recipe); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL: %s", diags.Error())
	}

	tree := map[string]any{}
	if recipe.Name != "" {
		tree["name"] = recipe.Name
	}
	if recipe.Settings != nil {
		settings, err := attributesToMap(recipe.Settings.Body)
		if err != nil {
			return nil, fmt.Errorf("settings: %w", err)
		}
		tree["settings"] = settings
	}

	steps := make([]any, len(recipe.Steps))
	for i, s := range recipe.Steps {
		entry := map[string]any{"step": s.ID}
		cfg, err := attributesToMap(s.Body)
		if err != nil {
			return nil, fmt.Errorf("step %q: %w", s.ID, err)
		}
		if len(cfg) > 0 {
			entry["config"] = cfg
		}
		steps[i] = entry
	}
	tree["steps"] = steps

	return tree, nil
}

func attributesToMap(body hcl.Body) (map[string]any, error) {
	attrs, diags := body.JustAttributes()
	if diags.HasErrors() {
		return nil, fmt.Errorf("%s", diags.Error())
	}

	out := make(map[string]any, len(attrs))
	for name, attr := range attrs {
		val, diags := attr.Expr.Value(nil)
		if diags.HasErrors() {
			return nil, fmt.Errorf("%s", diags.Error())
		}
		native, err := ctyToNative(val)
		if err != nil {
			return nil, fmt.Errorf("in attribute '%s': %w", name, err)
		}
		out[name] = native
	}
	return out, nil
}

// ctyToNative converts a cty.Value to plain Go values. Integral numbers
// become int64, other numbers float64.
func ctyToNative(v cty.Value) (any, error) {
	if v.IsNull() || !v.IsKnown() {
		return nil, nil
	}

	ty := v.Type()
	switch {
	case ty == cty.String:
		return v.AsString(), nil

	case ty == cty.Number:
		bf := v.AsBigFloat()
		if bf.IsInt() {
			if i, acc := bf.Int64(); acc == big.Exact {
				return i, nil
			}
		}
		var f float64
		if err := gocty.FromCtyValue(v, &f); err != nil {
			return nil, fmt.Errorf("could not convert number to float64: %w", err)
		}
		return f, nil

	case ty == cty.Bool:
		return v.True(), nil

	case ty.IsListType() || ty.IsTupleType() || ty.IsSetType():
		slice := make([]any, 0, v.LengthInt())
		it := v.ElementIterator()
		for it.Next() {
			_, elem := it.Element()
			native, err := ctyToNative(elem)
			if err != nil {
				return nil, err
			}
			slice = append(slice, native)
		}
		return slice, nil

	case ty.IsObjectType() || ty.IsMapType():
		m := make(map[string]any, v.LengthInt())
		it := v.ElementIterator()
		for it.Next() {
			key, elem := it.Element()
			native, err := ctyToNative(elem)
			if err != nil {
				return nil, fmt.Errorf("in attribute '%s': %w", key.AsString(), err)
			}
			m[key.AsString()] = native
		}
		return m, nil

	default:
		return nil, fmt.Errorf("unsupported value type %s", ty.FriendlyName())
	}
}
