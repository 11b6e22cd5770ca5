package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stratagen/strata/pkg/schema"
	"github.com/stratagen/strata/pkg/world"
)

var testTags = []TagDefinition{
	{ID: "field:x", Kind: TagKindField},
	{ID: "field:y", Kind: TagKindField},
	{ID: "field:z", Kind: TagKindField},
	{ID: "artifact:t1", Kind: TagKindArtifact},
	{ID: "artifact:t2", Kind: TagKindArtifact},
	{ID: "effect:done", Kind: TagKindEffect},
}

func newTestRegistry(t *testing.T) *StepRegistry {
	t.Helper()
	tags := NewTagRegistry()
	require.NoError(t, tags.RegisterTags(testTags...))
	return NewStepRegistry(tags)
}

// produce returns a body that produces every provided tag according to its kind.
func produce(tags *TagRegistry, provides ...string) RunFunc {
	return func(wc *world.Context, _ schema.Config) error {
		for _, tag := range provides {
			kind, err := tags.KindOf(tag)
			if err != nil {
				return err
			}
			switch kind {
			case TagKindField:
				if _, err := wc.WriteFloat32(tag); err != nil {
					return err
				}
			case TagKindArtifact:
				if err := wc.Publish(tag, true); err != nil {
					return err
				}
			case TagKindEffect:
				if err := wc.MarkEffect(tag); err != nil {
					return err
				}
			}
		}
		return nil
	}
}

func register(t *testing.T, reg *StepRegistry, id string, requires, provides []string) {
	t.Helper()
	require.NoError(t, reg.Register(StepDefinition{
		ID:       id,
		Phase:    "test",
		Requires: requires,
		Provides: provides,
		Run:      produce(reg.Tags(), provides...),
	}))
}

func recipeOf(ids ...string) Recipe {
	r := make(Recipe, len(ids))
	for i, id := range ids {
		r[i] = RecipeEntry{StepID: id}
	}
	return r
}

func testSettings() RunSettings {
	return RunSettings{
		Seed:           42,
		Dimensions:     world.Dimensions{Width: 4, Height: 3},
		LatitudeBounds: world.LatitudeBounds{Top: 60, Bottom: -60},
		Wrap:           world.Wrap{X: true},
	}
}
