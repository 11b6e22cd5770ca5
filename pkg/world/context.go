package world

import (
	"errors"
	"fmt"
	"sort"

	"github.com/stratagen/strata/pkg/rng"
	"github.com/stratagen/strata/pkg/trace"
)

var (
	// ErrMissing is returned when reading a buffer or artifact nobody produced.
	ErrMissing = errors.New("not produced")

	// ErrUndeclared is returned when a step writes a tag outside its provides set.
	ErrUndeclared = errors.New("not declared in provides")

	// ErrKindMismatch is returned when a buffer exists with another element type.
	ErrKindMismatch = errors.New("buffer element type mismatch")

	// ErrNoAdapter is returned when a step needs the host but none is attached.
	ErrNoAdapter = errors.New("no engine adapter attached")
)

// Context is the world model of one run. It is lent to one step at a time
// and must not be retained by a step after its run returns.
//
// Between steps (before the first one, or in tests) every write is allowed.
// While a step is active, writes are limited to the tags it provides.
type Context struct {
	grid    Grid
	seed    int64
	adapter Adapter

	floats    map[string][]float32
	ints      map[string][]int32
	artifacts map[string]any
	effects   map[string]bool

	active *activeStep
}

type activeStep struct {
	id       string
	provides map[string]bool
	trace    trace.StepTrace
}

// New creates an empty world for grid. adapter may be nil for pure runs.
func New(grid Grid, seed int64, adapter Adapter) (*Context, error) {
	if err := grid.validate(); err != nil {
		return nil, err
	}
	return &Context{
		grid:      grid,
		seed:      seed,
		adapter:   adapter,
		floats:    make(map[string][]float32),
		ints:      make(map[string][]int32),
		artifacts: make(map[string]any),
		effects:   make(map[string]bool),
	}, nil
}

// Grid returns the grid geometry.
func (c *Context) Grid() Grid {
	return c.grid
}

// Seed returns the run seed.
func (c *Context) Seed() int64 {
	return c.seed
}

// Adapter returns the attached host adapter.
func (c *Context) Adapter() (Adapter, error) {
	if c.adapter == nil {
		return nil, ErrNoAdapter
	}
	return c.adapter, nil
}

// Enter marks stepID as the active step. Only the executor calls it.
func (c *Context) Enter(stepID string, provides []string, st trace.StepTrace) {
	set := make(map[string]bool, len(provides))
	for _, tag := range provides {
		set[tag] = true
	}
	c.active = &activeStep{id: stepID, provides: set, trace: st}
}

// Leave clears the active step.
func (c *Context) Leave() {
	c.active = nil
}

// ActiveStep returns the id of the running step, or "".
func (c *Context) ActiveStep() string {
	if c.active == nil {
		return ""
	}
	return c.active.id
}

// Trace returns the trace hook of the running step.
func (c *Context) Trace() trace.StepTrace {
	if c.active == nil {
		return trace.StepTrace{}
	}
	return c.active.trace
}

// Rand draws from the labeled RNG with the run seed.
func (c *Context) Rand(label string, max int) int {
	return rng.Draw(c.seed, label, max)
}

// RandStream returns the labeled stream for the run seed.
func (c *Context) RandStream(label string) *rng.Stream {
	return rng.New(c.seed, label)
}

func (c *Context) checkWrite(tag string) error {
	if c.active == nil || c.active.provides[tag] {
		return nil
	}
	return fmt.Errorf("step %s cannot write %s: %w", c.active.id, tag, ErrUndeclared)
}

// Float32 returns the float32 buffer of tag for reading.
func (c *Context) Float32(tag string) ([]float32, error) {
	if buf, ok := c.floats[tag]; ok {
		return buf, nil
	}
	if _, ok := c.ints[tag]; ok {
		return nil, fmt.Errorf("field %s is int32: %w", tag, ErrKindMismatch)
	}
	return nil, fmt.Errorf("field %s: %w", tag, ErrMissing)
}

// WriteFloat32 returns the float32 buffer of tag for writing, allocating a
// zeroed buffer on first use.
func (c *Context) WriteFloat32(tag string) ([]float32, error) {
	if err := c.checkWrite(tag); err != nil {
		return nil, err
	}
	if _, ok := c.ints[tag]; ok {
		return nil, fmt.Errorf("field %s is int32: %w", tag, ErrKindMismatch)
	}
	buf, ok := c.floats[tag]
	if !ok {
		buf = make([]float32, c.grid.Cells())
		c.floats[tag] = buf
	}
	return buf, nil
}

// Int32 returns the int32 buffer of tag for reading.
func (c *Context) Int32(tag string) ([]int32, error) {
	if buf, ok := c.ints[tag]; ok {
		return buf, nil
	}
	if _, ok := c.floats[tag]; ok {
		return nil, fmt.Errorf("field %s is float32: %w", tag, ErrKindMismatch)
	}
	return nil, fmt.Errorf("field %s: %w", tag, ErrMissing)
}

// WriteInt32 returns the int32 buffer of tag for writing, allocating a zeroed
// buffer on first use.
func (c *Context) WriteInt32(tag string) ([]int32, error) {
	if err := c.checkWrite(tag); err != nil {
		return nil, err
	}
	if _, ok := c.floats[tag]; ok {
		return nil, fmt.Errorf("field %s is float32: %w", tag, ErrKindMismatch)
	}
	buf, ok := c.ints[tag]
	if !ok {
		buf = make([]int32, c.grid.Cells())
		c.ints[tag] = buf
	}
	return buf, nil
}

// Publish stores an artifact under tag.
func (c *Context) Publish(tag string, value any) error {
	if err := c.checkWrite(tag); err != nil {
		return err
	}
	c.artifacts[tag] = value
	return nil
}

// Artifact returns the artifact published under tag.
func (c *Context) Artifact(tag string) (any, error) {
	v, ok := c.artifacts[tag]
	if !ok {
		return nil, fmt.Errorf("artifact %s: %w", tag, ErrMissing)
	}
	return v, nil
}

// ArtifactAs returns the artifact under tag as a T.
func ArtifactAs[T any](c *Context, tag string) (T, error) {
	var zero T
	v, err := c.Artifact(tag)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("artifact %s has type %T, want %T", tag, v, zero)
	}
	return t, nil
}

// MarkEffect records that the effect tag has happened.
func (c *Context) MarkEffect(tag string) error {
	if err := c.checkWrite(tag); err != nil {
		return err
	}
	c.effects[tag] = true
	return nil
}

// EffectDone reports whether the effect tag was marked.
func (c *Context) EffectDone(tag string) bool {
	return c.effects[tag]
}

// Has reports whether tag was produced as a buffer, artifact or effect.
func (c *Context) Has(tag string) bool {
	if _, ok := c.floats[tag]; ok {
		return true
	}
	if _, ok := c.ints[tag]; ok {
		return true
	}
	if _, ok := c.artifacts[tag]; ok {
		return true
	}
	return c.effects[tag]
}

// Produced returns every produced tag, sorted.
func (c *Context) Produced() []string {
	tags := make([]string, 0, len(c.floats)+len(c.ints)+len(c.artifacts)+len(c.effects))
	for tag := range c.floats {
		tags = append(tags, tag)
	}
	for tag := range c.ints {
		tags = append(tags, tag)
	}
	for tag := range c.artifacts {
		tags = append(tags, tag)
	}
	for tag := range c.effects {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}
