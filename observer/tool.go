package observer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/danarsa/aruna"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedTools wraps an aruna.ToolExecutor with OTEL instrumentation.
type ObservedTools struct {
	inner aruna.ToolExecutor
	inst  *Instruments
}

// WrapTools returns an instrumented tool executor.
func WrapTools(inner aruna.ToolExecutor, inst *Instruments) *ObservedTools {
	return &ObservedTools{inner: inner, inst: inst}
}

func (o *ObservedTools) Definitions() []aruna.ToolDefinition {
	return o.inner.Definitions()
}

func (o *ObservedTools) Execute(ctx context.Context, name string, args json.RawMessage) (aruna.ToolResult, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "tool.execute", trace.WithAttributes(
		AttrToolName.String(name),
	))
	defer span.End()
	start := time.Now()

	result, err := o.inner.Execute(ctx, name, args)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if result.Error != "" {
		status = "tool_error"
	}
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(
		AttrToolStatus.String(status),
		AttrToolResultLength.Int(len(result.Content)),
	)

	o.inst.ToolExecutions.Add(ctx, 1, metric.WithAttributes(
		AttrToolName.String(name),
		attribute.String("status", status),
	))
	o.inst.ToolDuration.Record(ctx, durationMs, metric.WithAttributes(
		AttrToolName.String(name),
	))

	// Structured log
	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("tool executed"))
	rec.AddAttributes(
		otellog.String("tool.name", name),
		otellog.String("tool.status", status),
		otellog.Int("tool.result_length", len(result.Content)),
		otellog.Float64("tool.duration_ms", durationMs),
	)
	o.inst.Logger.Emit(ctx, rec)

	return result, err
}

var _ aruna.ToolExecutor = (*ObservedTools)(nil)
