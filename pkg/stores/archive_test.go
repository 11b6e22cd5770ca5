package stores_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stratagen/strata/pkg/engine"
	"github.com/stratagen/strata/pkg/schema"
	"github.com/stratagen/strata/pkg/steps"
	"github.com/stratagen/strata/pkg/stores"
	"github.com/stratagen/strata/pkg/trace"
	"github.com/stratagen/strata/pkg/world"
)

var errQuake = errors.New("quake")

func openStore(t *testing.T) *stores.SQLiteStore {
	t.Helper()

	store, err := stores.NewSQLiteStore(stores.Config{Path: filepath.Join(t.TempDir(), "archive.db")})
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return store
}

// execute runs plates, elevation and erosion with erosion verbose, plus a
// failing step when fail is set. It returns the plan and the run error.
func execute(t *testing.T, sink trace.Sink, runID string, fail bool) (*engine.ExecutionPlan, error) {
	t.Helper()

	reg, err := steps.NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	recipe := engine.Recipe{
		{StepID: steps.StepPlates},
		{StepID: steps.StepElevation},
		{StepID: steps.StepErosion},
	}
	if fail {
		if err := reg.Register(engine.StepDefinition{
			ID:       "test.quake",
			Requires: []string{steps.TagElevation},
			Run:      func(*world.Context, schema.Config) error { return errQuake },
		}); err != nil {
			t.Fatalf("Register() error = %v", err)
		}
		recipe = append(recipe, engine.RecipeEntry{StepID: "test.quake"})
	}

	settings := engine.DefaultRunSettings()
	settings.Seed = 7
	settings.Dimensions = world.Dimensions{Width: 8, Height: 6}
	settings.Trace.Steps = map[string]trace.Verbosity{steps.StepErosion: trace.VerbosityVerbose}

	plan, err := engine.NewCompiler(reg).Compile(context.Background(), recipe, settings)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	wc, err := settings.NewWorld(world.NewMemoryAdapter(settings.Grid()))
	if err != nil {
		t.Fatalf("NewWorld() error = %v", err)
	}

	return plan, engine.NewExecutor(reg, engine.WithTraceSink(sink)).
		Execute(context.Background(), wc, plan, engine.WithRunID(runID))
}

func TestTraceArchiveCompletedRun(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	archive := stores.NewTraceArchive(ctx, store, stores.WithRecipeName("morphology"))
	rec := trace.NewRecorder()

	plan, err := execute(t, trace.MultiSink{archive, rec}, "run-ok", false)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if err := archive.Err(); err != nil {
		t.Fatalf("archive error = %v", err)
	}

	run, err := store.GetRun(ctx, "run-ok")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if run.Status != stores.RunStatusCompleted {
		t.Errorf("Status = %s, want completed", run.Status)
	}
	if run.Fingerprint != plan.Fingerprint() {
		t.Errorf("Fingerprint = %s, want %s", run.Fingerprint, plan.Fingerprint())
	}
	if run.Seed != 7 || run.StepCount != 3 || run.Recipe != "morphology" {
		t.Errorf("run = %+v", run)
	}
	if run.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}

	events, err := store.ListEvents(ctx, "run-ok", stores.EventFilter{})
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	want := rec.Events()
	if len(events) != len(want) {
		t.Fatalf("archived %d events, recorder saw %d", len(events), len(want))
	}
	for i, e := range events {
		if e.Seq != want[i].Seq || e.Kind != string(want[i].Kind) || e.StepID != want[i].StepID {
			t.Errorf("event %d = %+v, want %+v", i, e, want[i])
		}
	}

	verbose, err := store.ListEvents(ctx, "run-ok", stores.EventFilter{Kind: string(trace.KindStepEvent)})
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if len(verbose) == 0 {
		t.Fatal("expected step.event records from the verbose step")
	}
	for _, e := range verbose {
		if e.StepID != steps.StepErosion {
			t.Errorf("step.event from %s, only erosion is verbose", e.StepID)
		}
	}
}

func TestTraceArchiveAbortedRun(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	archive := stores.NewTraceArchive(ctx, store,
		stores.WithArchiveClock(func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }),
	)

	_, runErr := execute(t, archive, "run-bad", true)
	if !errors.Is(runErr, errQuake) {
		t.Fatalf("Execute() error = %v, want errQuake", runErr)
	}
	archive.Abort("run-bad", runErr)
	if err := archive.Err(); err != nil {
		t.Fatalf("archive error = %v", err)
	}

	run, err := store.GetRun(ctx, "run-bad")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if run.Status != stores.RunStatusFailed {
		t.Errorf("Status = %s, want failed", run.Status)
	}
	if run.Error == nil || *run.Error != runErr.Error() {
		t.Errorf("Error = %v, want %q", run.Error, runErr.Error())
	}

	events, err := store.ListEvents(ctx, "run-bad", stores.EventFilter{})
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if len(events) == 0 || events[0].Kind != string(trace.KindRunStart) {
		t.Fatalf("expected events starting with run.start, got %d", len(events))
	}
	for _, e := range events {
		if e.Kind == string(trace.KindRunFinish) {
			t.Error("failed run must not archive run.finish")
		}
	}

	// A second Abort is a no-op.
	archive.Abort("run-bad", runErr)
	if err := archive.Err(); err != nil {
		t.Errorf("second Abort produced error %v", err)
	}
}

func TestTraceArchiveReportsStoreErrors(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	archive := stores.NewTraceArchive(ctx, store)

	if _, err := execute(t, archive, "dup", false); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if _, err := execute(t, archive, "dup", false); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if err := archive.Err(); err == nil {
		t.Fatal("expected duplicate run id to surface through Err")
	}
}
