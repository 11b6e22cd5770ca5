package telemetry

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry bundles logging, tracing, metrics and the trace event fan-out.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

// telemetryContextKey is the context key for telemetry instances.
type telemetryContextKey struct{}

// NewTelemetry creates a new telemetry instance from configuration. The
// event publisher is subscribed with a LogSink, a SpanSink when tracing is
// enabled and a MetricsSink when metrics are enabled.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	return newTelemetry(cfg, logger)
}

// NewTelemetryWithLogger is NewTelemetry with an existing logger.
func NewTelemetryWithLogger(cfg *Config, logger *Logger) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return newTelemetry(cfg, logger)
}

func newTelemetry(cfg *Config, logger *Logger) (*Telemetry, error) {
	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	events, err := NewEventPublisher(cfg.Events)
	if err != nil {
		return nil, err
	}

	events.Subscribe(NewLogSink(logger), nil)
	if cfg.Tracing.Enabled {
		events.Subscribe(NewSpanSink(context.Background(), tracer), nil)
	}
	if cfg.Metrics.Enabled {
		events.Subscribe(NewMetricsSink(metrics), nil)
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}, nil
}

// Sink returns the trace sink feeding every telemetry subscriber.
func (t *Telemetry) Sink() *EventPublisher {
	return t.Events
}

// WithContext adds the telemetry instance and its logger to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	return t.Logger.WithContext(ctx)
}

// FromTelemetryContext retrieves the telemetry instance from the context.
// If no telemetry is found, it returns nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown delivers queued events, then flushes and stops the tracer.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if t.Events != nil {
		errs = append(errs, t.Events.Shutdown(ctx))
	}
	if t.Tracer != nil {
		errs = append(errs, t.Tracer.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// InstrumentedContext carries the span of an operation outside a run, such
// as loading or compiling a recipe.
type InstrumentedContext struct {
	Context context.Context
	Span    trace.Span
	Logger  *Logger
}

// StartOperation starts a span for operation using the telemetry in ctx. Without
// telemetry in ctx the span is a no-op.
func StartOperation(ctx context.Context, operation string, attrs ...attribute.KeyValue) *InstrumentedContext {
	t := FromTelemetryContext(ctx)
	if t == nil {
		return &InstrumentedContext{
			Context: ctx,
			Span:    trace.SpanFromContext(context.Background()),
			Logger:  FromContext(ctx),
		}
	}

	spanCtx, span := t.Tracer.StartSpan(ctx, operation, attrs...)
	return &InstrumentedContext{
		Context: spanCtx,
		Span:    span,
		Logger:  t.Logger.WithField("operation", operation),
	}
}

// End finishes the operation span, recording err if non-nil.
func (ic *InstrumentedContext) End(err error) {
	if err != nil {
		RecordError(ic.Span, err)
		ic.Logger.WithError(err).Debug("operation failed")
	} else {
		RecordSuccess(ic.Span)
	}
	ic.Span.End()
}
