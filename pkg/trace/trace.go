// Package trace provides the structured event stream of a pipeline run.
//
// A Session is created per run and stamps every event with the run id, the
// plan fingerprint and a sequence number. Steps emit ad-hoc events through a
// StepTrace, which forwards them only when the step's verbosity is verbose.
// A Session without a sink drops everything and never evaluates payload
// thunks.
package trace

import (
	"fmt"
	"time"
)

// Kind identifies the type of an event.
type Kind string

const (
	KindRunStart   Kind = "run.start"
	KindRunFinish  Kind = "run.finish"
	KindStepStart  Kind = "step.start"
	KindStepFinish Kind = "step.finish"
	KindStepEvent  Kind = "step.event"
)

// Verbosity controls whether a step's ad-hoc events are forwarded.
type Verbosity string

const (
	VerbosityOff     Verbosity = "off"
	VerbosityVerbose Verbosity = "verbose"
)

// ParseVerbosity parses "off" or "verbose". The empty string is off.
func ParseVerbosity(s string) (Verbosity, error) {
	switch Verbosity(s) {
	case "", VerbosityOff:
		return VerbosityOff, nil
	case VerbosityVerbose:
		return VerbosityVerbose, nil
	default:
		return "", fmt.Errorf("invalid trace verbosity %q: must be off or verbose", s)
	}
}

// Event is one entry of the trace stream.
type Event struct {
	Kind        Kind      `json:"kind"`
	RunID       string    `json:"run_id"`
	Fingerprint string    `json:"fingerprint"`
	StepID      string    `json:"step_id,omitempty"`
	Seq         uint64    `json:"seq"`
	Time        time.Time `json:"time"`
	Data        any       `json:"data,omitempty"`
}

// Sink receives events.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(Event)

// Emit calls f(e).
func (f SinkFunc) Emit(e Event) { f(e) }

// MultiSink fans events out to several sinks in order.
type MultiSink []Sink

// Emit forwards e to every non-nil sink.
func (m MultiSink) Emit(e Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(e)
		}
	}
}

// Option configures a Session.
type Option func(*Session)

// WithClock sets the time source used to stamp events.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		s.now = now
	}
}

// Session is the event stream of one run. It is not safe for concurrent use;
// runs are single-threaded.
type Session struct {
	sink        Sink
	runID       string
	fingerprint string
	verbosity   map[string]Verbosity
	now         func() time.Time
	seq         uint64
}

// NewSession creates a session. A nil sink makes the session a no-op.
func NewSession(sink Sink, runID, fingerprint string, verbosity map[string]Verbosity, opts ...Option) *Session {
	s := &Session{
		sink:        sink,
		runID:       runID,
		fingerprint: fingerprint,
		verbosity:   make(map[string]Verbosity, len(verbosity)),
		now:         time.Now,
	}
	for id, v := range verbosity {
		s.verbosity[id] = v
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enabled reports whether events reach a sink.
func (s *Session) Enabled() bool {
	return s != nil && s.sink != nil
}

// RunID returns the run identifier.
func (s *Session) RunID() string {
	return s.runID
}

// Fingerprint returns the plan fingerprint.
func (s *Session) Fingerprint() string {
	return s.fingerprint
}

// Verbosity returns the configured verbosity of a step. Default is off.
func (s *Session) Verbosity(stepID string) Verbosity {
	if v, ok := s.verbosity[stepID]; ok {
		return v
	}
	return VerbosityOff
}

// Emit stamps e with the run id, fingerprint, sequence number and time, then
// forwards it to the sink.
func (s *Session) Emit(e Event) {
	if !s.Enabled() {
		return
	}
	s.seq++
	e.RunID = s.runID
	e.Fingerprint = s.fingerprint
	e.Seq = s.seq
	if e.Time.IsZero() {
		e.Time = s.now()
	}
	s.sink.Emit(e)
}

// Step returns the trace hook handed to a step body.
func (s *Session) Step(stepID string) StepTrace {
	if !s.Enabled() {
		return StepTrace{}
	}
	return StepTrace{
		session: s,
		stepID:  stepID,
		verbose: s.Verbosity(stepID) == VerbosityVerbose,
	}
}

// StepTrace is the per-step event hook. The zero value discards everything.
type StepTrace struct {
	session *Session
	stepID  string
	verbose bool
}

// Verbose reports whether events from this step are forwarded.
func (t StepTrace) Verbose() bool {
	return t.verbose
}

// Event emits payload as a step.event when the step is verbose.
func (t StepTrace) Event(payload any) {
	if !t.verbose {
		return
	}
	t.session.Emit(Event{Kind: KindStepEvent, StepID: t.stepID, Data: payload})
}

// EventFunc is like Event but builds the payload only when the step is
// verbose.
func (t StepTrace) EventFunc(payload func() any) {
	if !t.verbose || payload == nil {
		return
	}
	t.session.Emit(Event{Kind: KindStepEvent, StepID: t.stepID, Data: payload()})
}
