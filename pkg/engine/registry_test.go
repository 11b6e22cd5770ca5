package engine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratagen/strata/pkg/schema"
	"github.com/stratagen/strata/pkg/world"
)

func TestTagRegistry_RegisterAndKindOf(t *testing.T) {
	tags := NewTagRegistry()
	require.NoError(t, tags.RegisterTags(
		TagDefinition{ID: "field:elevation", Kind: TagKindField},
		TagDefinition{ID: "artifact:plates", Kind: TagKindArtifact},
	))

	kind, err := tags.KindOf("field:elevation")
	require.NoError(t, err)
	assert.Equal(t, TagKindField, kind)

	_, err = tags.KindOf("field:missing")
	require.Error(t, err)
	assert.True(t, IsUnknownTag(err))
	assert.True(t, errors.Is(err, ErrUnknownTag))

	e, ok := AsEngineError(err)
	require.True(t, ok)
	assert.Equal(t, "field:missing", e.Tag)
}

func TestTagRegistry_IdenticalReRegistrationIsNoop(t *testing.T) {
	tags := NewTagRegistry()
	def := TagDefinition{ID: "effect:host", Kind: TagKindEffect}

	require.NoError(t, tags.RegisterTags(def))
	require.NoError(t, tags.RegisterTags(def))
	assert.Len(t, tags.All(), 1)
}

func TestTagRegistry_DuplicateWithOtherKind(t *testing.T) {
	tags := NewTagRegistry()
	require.NoError(t, tags.RegisterTags(TagDefinition{ID: "x", Kind: TagKindField}))

	err := tags.RegisterTags(
		TagDefinition{ID: "y", Kind: TagKindField},
		TagDefinition{ID: "x", Kind: TagKindArtifact},
	)
	require.Error(t, err)
	assert.True(t, IsDuplicateTag(err))
	assert.False(t, tags.Has("y"), "a failed batch registers nothing")

	kind, err := tags.KindOf("x")
	require.NoError(t, err)
	assert.Equal(t, TagKindField, kind)
}

func TestTagRegistry_DuplicateWithinBatch(t *testing.T) {
	tags := NewTagRegistry()
	err := tags.RegisterTags(
		TagDefinition{ID: "x", Kind: TagKindField},
		TagDefinition{ID: "x", Kind: TagKindEffect},
	)
	assert.True(t, IsDuplicateTag(err))
}

func TestTagRegistry_InvalidDefinitions(t *testing.T) {
	tags := NewTagRegistry()
	assert.True(t, errors.Is(tags.RegisterTags(TagDefinition{Kind: TagKindField}), ErrInvalidTag))
	assert.True(t, errors.Is(tags.RegisterTags(TagDefinition{ID: "x", Kind: "buffer"}), ErrInvalidTag))
}

func TestStepRegistry_Register(t *testing.T) {
	reg := newTestRegistry(t)
	register(t, reg, "b", []string{"field:x"}, nil)
	register(t, reg, "a", nil, []string{"field:x"})

	def, err := reg.Get("a")
	require.NoError(t, err)
	assert.Equal(t, []string{"field:x"}, def.Provides)
	assert.NotNil(t, def.Config, "nil config becomes schema.None")

	all := reg.All()
	require.Len(t, all, 2)
	assert.Equal(t, "b", all[0].ID)
	assert.Equal(t, "a", all[1].ID)
}

func TestStepRegistry_Errors(t *testing.T) {
	noop := func(*world.Context, schema.Config) error { return nil }

	tests := []struct {
		name  string
		def   StepDefinition
		check func(error) bool
	}{
		{
			name:  "unknown required tag",
			def:   StepDefinition{ID: "s", Requires: []string{"field:nope"}, Run: noop},
			check: IsUnknownTag,
		},
		{
			name:  "unknown provided tag",
			def:   StepDefinition{ID: "s", Provides: []string{"effect:nope"}, Run: noop},
			check: IsUnknownTag,
		},
		{
			name:  "empty id",
			def:   StepDefinition{Run: noop},
			check: func(err error) bool { return errors.Is(err, ErrInvalidStep) },
		},
		{
			name:  "no run function",
			def:   StepDefinition{ID: "s"},
			check: func(err error) bool { return errors.Is(err, ErrInvalidStep) },
		},
		{
			name: "artifact self loop",
			def: StepDefinition{
				ID:       "s",
				Requires: []string{"artifact:t1"},
				Provides: []string{"artifact:t1"},
				Run:      noop,
			},
			check: func(err error) bool { return errors.Is(err, ErrInvalidStep) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := newTestRegistry(t)
			err := reg.Register(tt.def)
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error: %v", err)
		})
	}
}

func TestStepRegistry_UnknownTagNamesStep(t *testing.T) {
	reg := newTestRegistry(t)
	err := reg.Register(StepDefinition{
		ID:       "climate",
		Requires: []string{"field:rain"},
		Run:      func(*world.Context, schema.Config) error { return nil },
	})

	e, ok := AsEngineError(err)
	require.True(t, ok)
	assert.Equal(t, "climate", e.Step)
	assert.Equal(t, "field:rain", e.Tag)
}

func TestStepRegistry_FieldAndEffectSelfLoopsAllowed(t *testing.T) {
	reg := newTestRegistry(t)
	register(t, reg, "smooth", []string{"field:x"}, []string{"field:x"})
	register(t, reg, "sync", []string{"effect:done"}, []string{"effect:done"})
}

func TestStepRegistry_Duplicate(t *testing.T) {
	reg := newTestRegistry(t)
	register(t, reg, "a", nil, nil)

	err := reg.Register(StepDefinition{ID: "a", Run: produce(reg.Tags())})
	assert.True(t, IsDuplicateStep(err))
}

func TestStepRegistry_GetUnknown(t *testing.T) {
	reg := newTestRegistry(t)
	_, err := reg.Get("missing")
	assert.True(t, IsUnknownStep(err))
	assert.Contains(t, err.Error(), "missing")
}

func TestStepRegistry_DedupesTags(t *testing.T) {
	reg := newTestRegistry(t)
	register(t, reg, "a", []string{"field:x", "field:y", "field:x"}, nil)

	def, err := reg.Get("a")
	require.NoError(t, err)
	assert.Equal(t, []string{"field:x", "field:y"}, def.Requires)
}
