package config

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

// decodeCUE evaluates a CUE recipe. The file must be concrete once
// evaluated; definitions and hidden fields may be used to build it.
func decodeCUE(name string, src []byte) (map[string]any, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(name))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile CUE: %s", errors.Details(err, nil))
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("CUE recipe is not concrete: %s", errors.Details(err, nil))
	}

	var tree map[string]any
	if err := v.Decode(&tree); err != nil {
		return nil, fmt.Errorf("failed to decode CUE: %w", err)
	}
	return tree, nil
}
