package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/stratagen/strata/pkg/engine"
	"github.com/stratagen/strata/pkg/schema"
	"github.com/stratagen/strata/pkg/steps"
	"github.com/stratagen/strata/pkg/trace"
	"github.com/stratagen/strata/pkg/world"
)

var errBoom = errors.New("boom")

func smallSettings() engine.RunSettings {
	s := engine.DefaultRunSettings()
	s.Dimensions = world.Dimensions{Width: 8, Height: 6}
	s.Trace.Steps = map[string]trace.Verbosity{steps.StepErosion: trace.VerbosityVerbose}
	return s
}

// runPipeline executes the recipe against sink and returns the run error.
func runPipeline(t *testing.T, sink trace.Sink, recipe engine.Recipe, failing bool) error {
	t.Helper()

	reg, err := steps.NewRegistry()
	require.NoError(t, err)
	if failing {
		require.NoError(t, reg.Register(engine.StepDefinition{
			ID:       "test.explode",
			Requires: []string{steps.TagElevation},
			Run:      func(*world.Context, schema.Config) error { return errBoom },
		}))
		recipe = append(recipe, engine.RecipeEntry{StepID: "test.explode"})
	}

	settings := smallSettings()
	plan, err := engine.NewCompiler(reg).Compile(context.Background(), recipe, settings)
	require.NoError(t, err)

	wc, err := settings.NewWorld(world.NewMemoryAdapter(settings.Grid()))
	require.NoError(t, err)

	return engine.NewExecutor(reg, engine.WithTraceSink(sink)).
		Execute(context.Background(), wc, plan, engine.WithRunID("run-1"))
}

func morphologyRecipe() engine.Recipe {
	return engine.Recipe{
		{StepID: steps.StepPlates},
		{StepID: steps.StepElevation},
		{StepID: steps.StepErosion},
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "default", mutate: func(*Config) {}},
		{name: "development", mutate: func(c *Config) { *c = *DevelopmentConfig() }},
		{name: "no service", mutate: func(c *Config) { c.ServiceName = "" }, wantErr: "service name"},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: "log level"},
		{name: "bad format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: "log format"},
		{name: "bad exporter", mutate: func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "jaeger"
		}, wantErr: "trace exporter"},
		{name: "otlp without endpoint", mutate: func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "otlp"
		}, wantErr: "endpoint"},
		{name: "sampling", mutate: func(c *Config) { c.Tracing.SamplingRate = 2 }, wantErr: "sampling rate"},
		{name: "buffer", mutate: func(c *Config) { c.Events.BufferSize = 0 }, wantErr: "buffer size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(LoggingConfig{Level: "debug", Format: "json"}, &buf)

	require.NoError(t, runPipeline(t, NewLogSink(logger), morphologyRecipe(), false))

	var messages []string
	var sawEventData bool
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry), line)
		messages = append(messages, entry["message"].(string))
		assert.Equal(t, "run-1", entry["run_id"])
		assert.Equal(t, "trace", entry["component"])
		if entry["message"] == string(trace.KindStepEvent) {
			assert.Equal(t, steps.StepErosion, entry["step"])
			sawEventData = entry["data"] != nil
		}
	}

	assert.Equal(t, "run.start", messages[0])
	assert.Equal(t, "run.finish", messages[len(messages)-1])
	assert.True(t, sawEventData, "verbose step event was not logged with data")
}

func TestLogSink_InfoLevelSkipsSteps(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(LoggingConfig{Level: "info", Format: "json"}, &buf)

	require.NoError(t, runPipeline(t, NewLogSink(logger), morphologyRecipe(), false))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 2)
}

func newRecordingTracer() (*Tracer, *tracetest.SpanRecorder) {
	rec := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	return NewTracerWithProvider(provider, "strata-test", TracingConfig{Enabled: true}), rec
}

func TestSpanSink(t *testing.T) {
	tracer, rec := newRecordingTracer()

	require.NoError(t, runPipeline(t, NewSpanSink(context.Background(), tracer), morphologyRecipe(), false))

	ended := rec.Ended()
	require.Len(t, ended, 4)

	run := ended[len(ended)-1]
	assert.Equal(t, "strata.run", run.Name())
	assert.Equal(t, codes.Ok, run.Status().Code)

	names := make([]string, 0, 3)
	for _, span := range ended[:3] {
		names = append(names, span.Name())
		assert.Equal(t, run.SpanContext().SpanID(), span.Parent().SpanID())
		assert.Equal(t, run.SpanContext().TraceID(), span.SpanContext().TraceID())

		if span.Name() == "strata.step "+steps.StepErosion {
			require.Len(t, span.Events(), 1)
			assert.Equal(t, "step.event", span.Events()[0].Name)
		} else {
			assert.Empty(t, span.Events())
		}
	}
	assert.Equal(t, []string{
		"strata.step " + steps.StepPlates,
		"strata.step " + steps.StepElevation,
		"strata.step " + steps.StepErosion,
	}, names)
}

func TestSpanSink_Abort(t *testing.T) {
	tracer, rec := newRecordingTracer()
	sink := NewSpanSink(context.Background(), tracer)

	err := runPipeline(t, sink, engine.Recipe{{StepID: steps.StepPlates}, {StepID: steps.StepElevation}}, true)
	require.ErrorIs(t, err, errBoom)

	assert.Len(t, rec.Started(), 4)
	assert.Len(t, rec.Ended(), 2, "failed step and run stay open until Abort")

	sink.Abort("run-1", err)

	ended := rec.Ended()
	require.Len(t, ended, 4)
	for _, span := range ended[2:] {
		assert.Equal(t, codes.Error, span.Status().Code)
		assert.Equal(t, "boom", span.Status().Description)
	}

	sink.Abort("run-1", err)
	assert.Len(t, rec.Ended(), 4)
}

func TestMetricsSink(t *testing.T) {
	m, err := NewMetrics(DefaultConfig().Metrics)
	require.NoError(t, err)

	require.NoError(t, runPipeline(t, NewMetricsSink(m), morphologyRecipe(), false))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsStarted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsCompleted.WithLabelValues(StatusOK)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.activeRuns))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stepsExecuted.WithLabelValues(steps.StepErosion, StatusOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stepEvents.WithLabelValues(steps.StepErosion)))
	assert.Equal(t, 3, testutil.CollectAndCount(m.stepDuration))
}

func TestMetricsSink_Abort(t *testing.T) {
	m, err := NewMetrics(DefaultConfig().Metrics)
	require.NoError(t, err)
	sink := NewMetricsSink(m)

	err = runPipeline(t, sink, engine.Recipe{{StepID: steps.StepPlates}, {StepID: steps.StepElevation}}, true)
	require.Error(t, err)
	sink.Abort("run-1", err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsCompleted.WithLabelValues(StatusFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stepsExecuted.WithLabelValues("test.explode", StatusFailed)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.activeRuns))
}

func TestMetrics_Disabled(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{})
	require.NoError(t, err)

	m.RecordRunStarted()
	m.RecordStep("x", StatusOK, time.Second)
	m.RecordPolicyViolation("grid-size", "error")
	assert.Nil(t, m.Registry())

	addr, err := m.StartMetricsServer(context.Background())
	require.NoError(t, err)
	assert.Empty(t, addr)
}

func TestMetrics_Server(t *testing.T) {
	cfg := DefaultConfig().Metrics
	cfg.ListenAddress = "127.0.0.1:0"
	m, err := NewMetrics(cfg)
	require.NoError(t, err)
	m.RecordRunStarted()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addr, err := m.StartMetricsServer(ctx)
	require.NoError(t, err)

	resp, err := http.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "strata_runs_started_total 1")
}

func TestEventPublisher_AsyncPreservesOrder(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{BufferSize: 64, EnableAsync: true})
	require.NoError(t, err)

	rec := trace.NewRecorder()
	stepRec := trace.NewRecorder()
	ep.Subscribe(rec, nil)
	ep.Subscribe(stepRec, FilterByKind(trace.KindStepStart, trace.KindStepFinish))

	require.NoError(t, runPipeline(t, ep, morphologyRecipe(), false))
	require.NoError(t, ep.Flush(context.Background()))

	events := rec.Events()
	require.NotEmpty(t, events)
	for i, e := range events {
		assert.Equal(t, uint64(i+1), e.Seq)
	}
	assert.Len(t, stepRec.Events(), 6)

	require.NoError(t, ep.Shutdown(context.Background()))
	assert.ErrorIs(t, ep.Publish(trace.Event{Kind: trace.KindRunStart}), ErrPublisherStopped)
}

type abortRecorder struct {
	mu     sync.Mutex
	events int
	aborts []string
}

func (a *abortRecorder) Emit(trace.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events++
}

func (a *abortRecorder) Abort(runID string, _ error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.aborts = append(a.aborts, runID)
}

func TestEventPublisher_AbortAfterQueuedEvents(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{BufferSize: 64, EnableAsync: true})
	require.NoError(t, err)

	sub := &abortRecorder{}
	ep.Subscribe(sub, nil)

	err = runPipeline(t, ep, engine.Recipe{{StepID: steps.StepPlates}, {StepID: steps.StepElevation}}, true)
	require.Error(t, err)
	ep.Abort("run-1", err)
	require.NoError(t, ep.Shutdown(context.Background()))

	sub.mu.Lock()
	defer sub.mu.Unlock()
	assert.Equal(t, []string{"run-1"}, sub.aborts)
	assert.Equal(t, 6, sub.events)
}

func TestEventPublisher_DropsWhenFull(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{BufferSize: 1, EnableAsync: true})
	require.NoError(t, err)

	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	ep.Subscribe(trace.SinkFunc(func(trace.Event) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
	}), nil)

	require.NoError(t, ep.Publish(trace.Event{Kind: trace.KindStepEvent, Seq: 1}))
	<-entered
	require.NoError(t, ep.Publish(trace.Event{Kind: trace.KindStepEvent, Seq: 2}))
	assert.ErrorIs(t, ep.Publish(trace.Event{Kind: trace.KindStepEvent, Seq: 3}), ErrBufferFull)
	assert.Equal(t, uint64(1), ep.Dropped())

	close(release)
	require.NoError(t, ep.Shutdown(context.Background()))
}

func TestEventPublisher_SlowSubscriberKeepsLifecycleEvents(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{BufferSize: 16, EnableAsync: true})
	require.NoError(t, err)

	tracer, rec := newRecordingTracer()
	spans := NewSpanSink(context.Background(), tracer)
	ep.Subscribe(spans, nil)
	ep.Subscribe(trace.SinkFunc(func(trace.Event) {
		time.Sleep(100 * time.Microsecond)
	}), nil)

	session := trace.NewSession(ep, "run-slow", "fp", map[string]trace.Verbosity{"noisy": trace.VerbosityVerbose})
	session.Emit(trace.Event{Kind: trace.KindRunStart})
	session.Emit(trace.Event{Kind: trace.KindStepStart, StepID: "noisy"})
	st := session.Step("noisy")
	for i := 0; i < 200; i++ {
		st.Event(map[string]any{"i": i})
	}
	session.Emit(trace.Event{Kind: trace.KindStepFinish, StepID: "noisy"})
	session.Emit(trace.Event{Kind: trace.KindRunFinish})

	require.NoError(t, ep.Flush(context.Background()))
	require.NoError(t, ep.Shutdown(context.Background()))

	assert.Positive(t, ep.Dropped(), "step.event payloads may be dropped")
	require.Len(t, rec.Ended(), 2, "step and run spans must end")
	assert.Equal(t, "strata.run", rec.Ended()[1].Name())

	spans.mu.Lock()
	defer spans.mu.Unlock()
	assert.Empty(t, spans.runs)
}

func TestEventPublisher_Sync(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{})
	require.NoError(t, err)

	rec := trace.NewRecorder()
	ep.Subscribe(rec, FilterByStep(steps.StepPlates))

	require.NoError(t, runPipeline(t, ep, morphologyRecipe(), false))
	assert.Equal(t, []trace.Kind{trace.KindStepStart, trace.KindStepFinish}, rec.Kinds())
}

func TestStartOperation(t *testing.T) {
	tracer, rec := newRecordingTracer()
	tel := &Telemetry{
		Logger: NewLoggerWithWriter(LoggingConfig{Level: "error", Format: "json"}, io.Discard),
		Tracer: tracer,
	}
	ctx := tel.WithContext(context.Background())

	op := StartOperation(ctx, "recipe.compile", AttrFingerprint.String("abc"))
	op.End(errBoom)

	require.Len(t, rec.Ended(), 1)
	assert.Equal(t, "recipe.compile", rec.Ended()[0].Name())
	assert.Equal(t, codes.Error, rec.Ended()[0].Status().Code)

	noop := StartOperation(context.Background(), "recipe.load")
	noop.End(nil)
	assert.Len(t, rec.Ended(), 1)
}
