package stores

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/stratagen/strata/pkg/trace"
)

// TraceArchive is a trace sink that persists runs and their events. The run
// row is written on run.start; events are buffered and written in one
// transaction when the run finishes or is aborted.
//
// Emit cannot return an error, so storage failures are kept and reported by
// Err. Events of a run whose run.start was not seen are ignored.
type TraceArchive struct {
	store  Store
	ctx    context.Context
	recipe string
	now    func() time.Time

	mu      sync.Mutex
	pending map[string][]EventRecord
	err     error
}

// ArchiveOption configures a TraceArchive.
type ArchiveOption func(*TraceArchive)

// WithRecipeName records the recipe name on every archived run.
func WithRecipeName(name string) ArchiveOption {
	return func(a *TraceArchive) {
		a.recipe = name
	}
}

// WithArchiveClock sets the time used for aborted runs.
func WithArchiveClock(now func() time.Time) ArchiveOption {
	return func(a *TraceArchive) {
		a.now = now
	}
}

// NewTraceArchive creates an archive writing to store. ctx bounds every
// storage call.
func NewTraceArchive(ctx context.Context, store Store, opts ...ArchiveOption) *TraceArchive {
	a := &TraceArchive{
		store:   store,
		ctx:     ctx,
		now:     time.Now,
		pending: make(map[string][]EventRecord),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Emit implements trace.Sink.
func (a *TraceArchive) Emit(e trace.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if e.Kind == trace.KindRunStart {
		run := &Run{
			ID:          e.RunID,
			Fingerprint: e.Fingerprint,
			Recipe:      a.recipe,
			Status:      RunStatusRunning,
			StartedAt:   e.Time,
		}
		if m, ok := e.Data.(map[string]any); ok {
			run.Seed = toInt64(m["seed"])
			run.StepCount = int(toInt64(m["steps"]))
		}
		if err := a.store.CreateRun(a.ctx, run); err != nil {
			a.setErr(err)
			return
		}
		a.pending[e.RunID] = nil
	}

	buf, ok := a.pending[e.RunID]
	if !ok {
		return
	}

	rec := EventRecord{
		RunID:      e.RunID,
		Seq:        e.Seq,
		Kind:       string(e.Kind),
		StepID:     e.StepID,
		OccurredAt: e.Time,
	}
	if e.Data != nil {
		data, err := json.Marshal(e.Data)
		if err != nil {
			a.setErr(fmt.Errorf("event %d of run %s: %w", e.Seq, e.RunID, err))
		} else {
			rec.Data = data
		}
	}
	a.pending[e.RunID] = append(buf, rec)

	if e.Kind == trace.KindRunFinish {
		a.flush(e.RunID, RunStatusCompleted, nil, e.Time)
	}
}

// Abort writes the buffered events of a failed run and marks it failed.
func (a *TraceArchive) Abort(runID string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.pending[runID]; !ok {
		return
	}
	var msg *string
	if err != nil {
		s := err.Error()
		msg = &s
	}
	a.flush(runID, RunStatusFailed, msg, a.now())
}

// Err returns the storage errors seen by the archive, joined.
func (a *TraceArchive) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

func (a *TraceArchive) flush(runID string, status RunStatus, msg *string, at time.Time) {
	events := a.pending[runID]
	delete(a.pending, runID)

	if err := a.store.AppendEvents(a.ctx, events); err != nil {
		a.setErr(err)
	}
	if err := a.store.FinishRun(a.ctx, runID, status, msg, at); err != nil {
		a.setErr(err)
	}
}

func (a *TraceArchive) setErr(err error) {
	if a.err == nil {
		a.err = fmt.Errorf("trace archive: %w", err)
		return
	}
	a.err = errors.Join(a.err, err)
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case uint64:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}
