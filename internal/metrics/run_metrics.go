package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("run-metrics")

// RunMetrics provides metrics collection for design run execution
type RunMetrics struct {
	runsCreatedCounter   metric.Int64Counter
	runsFinishedCounter  metric.Int64Counter
	runDurationHistogram metric.Float64Histogram
	runsActiveGauge      metric.Int64UpDownCounter
	toolCallsCounter     metric.Int64Counter
	dispatchHistogram    metric.Float64Histogram
}

// NewRunMetrics creates a new design run metrics collector
func NewRunMetrics() (*RunMetrics, error) {
	runsCreatedCounter, err := meter.Int64Counter(
		"design_orchestrator.runs.created",
		metric.WithDescription("Total number of design runs created"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	runsFinishedCounter, err := meter.Int64Counter(
		"design_orchestrator.runs.finished",
		metric.WithDescription("Total number of design runs that reached a terminal status"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	runDurationHistogram, err := meter.Float64Histogram(
		"design_orchestrator.run.duration",
		metric.WithDescription("Duration of design run execution in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	runsActiveGauge, err := meter.Int64UpDownCounter(
		"design_orchestrator.runs.active",
		metric.WithDescription("Number of currently executing design runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	toolCallsCounter, err := meter.Int64Counter(
		"design_orchestrator.tool_calls",
		metric.WithDescription("Total number of tool calls dispatched to the host"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	dispatchHistogram, err := meter.Float64Histogram(
		"design_orchestrator.dispatch.duration",
		metric.WithDescription("Duration of plan dispatch to the host in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &RunMetrics{
		runsCreatedCounter:   runsCreatedCounter,
		runsFinishedCounter:  runsFinishedCounter,
		runDurationHistogram: runDurationHistogram,
		runsActiveGauge:      runsActiveGauge,
		toolCallsCounter:     toolCallsCounter,
		dispatchHistogram:    dispatchHistogram,
	}, nil
}

// RecordRunCreated records a new design run
func (rm *RunMetrics) RecordRunCreated(ctx context.Context, runID string) {
	rm.runsCreatedCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("run.id", runID),
		),
	)
	rm.runsActiveGauge.Add(ctx, 1)
}

// RecordRunFinished records a run reaching a terminal status
func (rm *RunMetrics) RecordRunFinished(ctx context.Context, runID, status string, duration time.Duration) {
	rm.runsFinishedCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("status", status),
		),
	)
	rm.runDurationHistogram.Record(ctx, duration.Seconds(),
		metric.WithAttributes(
			attribute.String("status", status),
		),
	)
	rm.runsActiveGauge.Add(ctx, -1)
}

// RecordToolCall records one dispatched tool call outcome
func (rm *RunMetrics) RecordToolCall(ctx context.Context, tool, status, errorKind string) {
	attrs := []attribute.KeyValue{
		attribute.String("tool", tool),
		attribute.String("status", status),
	}
	if errorKind != "" {
		attrs = append(attrs, attribute.String("error.kind", errorKind))
	}
	rm.toolCallsCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordDispatchDuration records how long a full plan dispatch took
func (rm *RunMetrics) RecordDispatchDuration(ctx context.Context, duration time.Duration, calls int) {
	rm.dispatchHistogram.Record(ctx, duration.Seconds(),
		metric.WithAttributes(
			attribute.Int("calls", calls),
		),
	)
}
