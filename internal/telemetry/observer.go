package telemetry

import (
	"context"

	"github.com/harunnryd/sitewise/internal/orchestrator"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/harunnryd/sitewise/internal/orchestrator"

// StepTracer records one span per finished step.
type StepTracer struct {
	tracer trace.Tracer
}

// NewStepTracer uses tp, or the global provider when tp is nil.
func NewStepTracer(tp trace.TracerProvider) *StepTracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &StepTracer{tracer: tp.Tracer(tracerName)}
}

func (t *StepTracer) OnStep(ctx context.Context, report orchestrator.StepReport) {
	step := report.Step

	names := make([]string, 0, len(step.ToolCalls))
	for _, call := range step.ToolCalls {
		names = append(names, call.Name)
	}

	_, span := t.tracer.Start(ctx, "orchestrator.step",
		trace.WithTimestamp(report.StartedAt),
		trace.WithAttributes(
			attribute.String("sitewise.run_id", report.RunID),
			attribute.String("sitewise.session_id", report.SessionID),
			attribute.String("sitewise.model", report.Model),
			attribute.Int("sitewise.step.index", step.Index),
			attribute.Int("sitewise.step.text_length", len(step.Text)),
			attribute.String("sitewise.step.finish_reason", step.FinishReason),
			attribute.StringSlice("sitewise.step.tools", names),
			attribute.Bool("sitewise.step.final", report.Final),
		),
	)

	failed := 0
	for _, result := range step.ToolResults {
		if result.Error != nil {
			failed++
			span.AddEvent("tool.error", trace.WithAttributes(
				attribute.String("tool.name", result.Name),
				attribute.String("tool.call_id", result.CallID),
				attribute.String("tool.error_kind", result.Error.Kind),
			))
		}
	}
	span.SetAttributes(attribute.Int("sitewise.step.tool_errors", failed))
	if step.Usage != nil {
		span.SetAttributes(
			attribute.Int("sitewise.usage.prompt_tokens", step.Usage.PromptTokens),
			attribute.Int("sitewise.usage.completion_tokens", step.Usage.CompletionTokens),
			attribute.Bool("sitewise.usage.estimated", step.Usage.Estimated),
		)
	}
	if failed > 0 && failed == len(step.ToolResults) {
		span.SetStatus(codes.Error, "all tool calls failed")
	}

	span.End(trace.WithTimestamp(report.EndedAt))
}
