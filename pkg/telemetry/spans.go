package telemetry

import (
	"context"
	"encoding/json"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/stratagen/strata/pkg/trace"
)

// Aborter is implemented by sinks that hold per-run state. A failed run
// never emits run.finish, so the caller reports the failure through Abort.
type Aborter interface {
	Abort(runID string, err error)
}

// SpanSink turns a run into a span tree: one span per run, a child span per
// step, and a span event per step.event.
type SpanSink struct {
	tracer *Tracer
	parent context.Context

	mu   sync.Mutex
	runs map[string]*runSpans
}

type runSpans struct {
	ctx   context.Context
	run   oteltrace.Span
	steps map[string]oteltrace.Span
}

// NewSpanSink returns a sink whose run spans are children of the span in ctx,
// if any.
func NewSpanSink(ctx context.Context, tracer *Tracer) *SpanSink {
	return &SpanSink{
		tracer: tracer,
		parent: ctx,
		runs:   make(map[string]*runSpans),
	}
}

// Emit implements trace.Sink.
func (s *SpanSink) Emit(e trace.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch e.Kind {
	case trace.KindRunStart:
		attrs := []attribute.KeyValue{
			AttrRunID.String(e.RunID),
			AttrFingerprint.String(e.Fingerprint),
		}
		if seed, ok := dataInt64(e.Data, "seed"); ok {
			attrs = append(attrs, AttrSeed.Int64(seed))
		}
		if n, ok := dataInt64(e.Data, "steps"); ok {
			attrs = append(attrs, AttrStepCount.Int64(n))
		}
		ctx, span := s.tracer.Start(s.parent, "strata.run",
			oteltrace.WithTimestamp(e.Time),
			oteltrace.WithAttributes(attrs...),
		)
		s.runs[e.RunID] = &runSpans{ctx: ctx, run: span, steps: make(map[string]oteltrace.Span)}

	case trace.KindStepStart:
		r := s.runs[e.RunID]
		if r == nil {
			return
		}
		attrs := []attribute.KeyValue{AttrStepID.String(e.StepID)}
		if idx, ok := dataInt64(e.Data, "index"); ok {
			attrs = append(attrs, AttrStepIndex.Int64(idx))
		}
		if phase, ok := dataString(e.Data, "phase"); ok && phase != "" {
			attrs = append(attrs, AttrStepPhase.String(phase))
		}
		_, span := s.tracer.Start(r.ctx, "strata.step "+e.StepID,
			oteltrace.WithTimestamp(e.Time),
			oteltrace.WithAttributes(attrs...),
		)
		r.steps[e.StepID] = span

	case trace.KindStepEvent:
		r := s.runs[e.RunID]
		if r == nil {
			return
		}
		span, ok := r.steps[e.StepID]
		if !ok {
			span = r.run
		}
		attrs := []attribute.KeyValue{AttrEventSeq.Int64(int64(e.Seq))}
		if e.Data != nil {
			if b, err := json.Marshal(e.Data); err == nil {
				attrs = append(attrs, AttrEventData.String(string(b)))
			}
		}
		span.AddEvent(string(e.Kind), oteltrace.WithTimestamp(e.Time), oteltrace.WithAttributes(attrs...))

	case trace.KindStepFinish:
		r := s.runs[e.RunID]
		if r == nil {
			return
		}
		if span, ok := r.steps[e.StepID]; ok {
			RecordSuccess(span)
			span.End(oteltrace.WithTimestamp(e.Time))
			delete(r.steps, e.StepID)
		}

	case trace.KindRunFinish:
		r := s.runs[e.RunID]
		if r == nil {
			return
		}
		RecordSuccess(r.run)
		r.run.End(oteltrace.WithTimestamp(e.Time))
		delete(s.runs, e.RunID)
	}
}

// Abort ends the open spans of a failed run with an error status.
func (s *SpanSink) Abort(runID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.runs[runID]
	if r == nil {
		return
	}
	for id, span := range r.steps {
		RecordError(span, err)
		span.End()
		delete(r.steps, id)
	}
	RecordError(r.run, err)
	r.run.End()
	delete(s.runs, runID)
}

func dataInt64(data any, key string) (int64, bool) {
	m, ok := data.(map[string]any)
	if !ok {
		return 0, false
	}
	switch v := m[key].(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}

func dataString(data any, key string) (string, bool) {
	m, ok := data.(map[string]any)
	if !ok {
		return "", false
	}
	v, ok := m[key].(string)
	return v, ok
}
