// Package telemetry carries the observability stack of strata: a zerolog
// Logger wrapper, an OpenTelemetry Tracer, Prometheus Metrics and the trace
// sinks that connect them to pipeline runs.
//
// Trace sinks:
//
//   - LogSink logs run boundaries at info level and step events at debug level
//   - SpanSink exports each run as a span with one child span per step
//   - MetricsSink counts runs and steps and observes their durations
//   - EventPublisher fans events out to the sinks above from one goroutine
//
// A failed run emits no run.finish event. Callers report the failure with
// EventPublisher.Abort (or Abort on a single sink) so open spans are ended
// and the run is counted as failed:
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(ctx)
//
//	exec := engine.NewExecutor(reg, engine.WithTraceSink(tel.Sink()))
//	if err := exec.Execute(ctx, wc, plan, engine.WithRunID(runID)); err != nil {
//	    tel.Events.Abort(runID, err)
//	    return err
//	}
package telemetry
