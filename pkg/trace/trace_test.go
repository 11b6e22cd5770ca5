package trace

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() func() time.Time {
	t0 := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return func() time.Time { return t0 }
}

func TestSession_StampsEvents(t *testing.T) {
	rec := NewRecorder()
	s := NewSession(rec, "run-1", "abc", nil, WithClock(fixedClock()))

	s.Emit(Event{Kind: KindRunStart})
	s.Emit(Event{Kind: KindStepStart, StepID: "a"})

	events := rec.Events()
	require.Len(t, events, 2)
	for i, e := range events {
		assert.Equal(t, "run-1", e.RunID)
		assert.Equal(t, "abc", e.Fingerprint)
		assert.Equal(t, uint64(i+1), e.Seq)
		assert.Equal(t, fixedClock()(), e.Time)
	}
	assert.Equal(t, "a", events[1].StepID)
}

func TestSession_VerbosityGate(t *testing.T) {
	rec := NewRecorder()
	s := NewSession(rec, "run", "fp", map[string]Verbosity{
		"loud": VerbosityVerbose,
		"mute": VerbosityOff,
	})

	s.Step("loud").Event("hello")
	s.Step("mute").Event("dropped")
	s.Step("unlisted").Event("dropped")

	events := rec.Filter(KindStepEvent)
	require.Len(t, events, 1)
	assert.Equal(t, "loud", events[0].StepID)
	assert.Equal(t, "hello", events[0].Data)
}

func TestSession_ThunkOnlyEvaluatedWhenVerbose(t *testing.T) {
	rec := NewRecorder()
	s := NewSession(rec, "run", "fp", map[string]Verbosity{"loud": VerbosityVerbose})

	calls := 0
	build := func() any {
		calls++
		return map[string]int{"bins": 10}
	}

	s.Step("quiet").EventFunc(build)
	assert.Equal(t, 0, calls)

	s.Step("loud").EventFunc(build)
	assert.Equal(t, 1, calls)
	require.Len(t, rec.Events(), 1)
}

func TestSession_NoSinkIsNoop(t *testing.T) {
	s := NewSession(nil, "run", "fp", map[string]Verbosity{"loud": VerbosityVerbose})
	assert.False(t, s.Enabled())

	called := false
	st := s.Step("loud")
	assert.False(t, st.Verbose())
	st.EventFunc(func() any {
		called = true
		return nil
	})
	s.Emit(Event{Kind: KindRunStart})

	assert.False(t, called)
}

func TestStepTrace_ZeroValue(t *testing.T) {
	var st StepTrace
	assert.NotPanics(t, func() {
		st.Event("x")
		st.EventFunc(func() any { return "y" })
	})
}

func TestMultiSink(t *testing.T) {
	a, b := NewRecorder(), NewRecorder()
	s := NewSession(MultiSink{a, nil, b}, "run", "fp", nil)
	s.Emit(Event{Kind: KindRunStart})

	assert.Len(t, a.Events(), 1)
	assert.Len(t, b.Events(), 1)
}

func TestParseVerbosity(t *testing.T) {
	v, err := ParseVerbosity("")
	require.NoError(t, err)
	assert.Equal(t, VerbosityOff, v)

	v, err = ParseVerbosity("verbose")
	require.NoError(t, err)
	assert.Equal(t, VerbosityVerbose, v)

	_, err = ParseVerbosity("loud")
	assert.Error(t, err)
}
