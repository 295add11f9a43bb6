package telemetry

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/harunnryd/sitewise/internal/model/contract"
	"github.com/harunnryd/sitewise/internal/orchestrator"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestStepTracerRecordsSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	NewStepTracer(tp).OnStep(context.Background(), orchestrator.StepReport{
		RunID: "01J00000000000000000000000",
		Model: "llama3.1",
		Step: orchestrator.Step{
			Index:     2,
			Text:      "Checking.",
			ToolCalls: []*contract.ToolCall{{ID: "call_1", Name: "analyze_website"}},
			ToolResults: []contract.ToolResult{{
				CallID: "call_1",
				Name:   "analyze_website",
				Error:  &contract.ToolError{Kind: "ToolExecutionError", Message: "timeout"},
			}},
			Usage: &contract.Usage{PromptTokens: 10, CompletionTokens: 4},
		},
		StartedAt: started,
		EndedAt:   started.Add(time.Second),
	})

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	span := spans[0]

	assert.Equal(t, "orchestrator.step", span.Name())
	assert.Equal(t, started, span.StartTime())
	assert.Equal(t, time.Second, span.EndTime().Sub(span.StartTime()))
	assert.Equal(t, codes.Error, span.Status().Code)
	assert.Contains(t, span.Attributes(), attribute.Int("sitewise.step.index", 2))
	assert.Contains(t, span.Attributes(), attribute.StringSlice("sitewise.step.tools", []string{"analyze_website"}))
	require.Len(t, span.Events(), 1)
	assert.Equal(t, "tool.error", span.Events()[0].Name)
}

func TestInitTracerWritesToWriter(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := InitTracer("sitewise-test", &buf)
	require.NoError(t, err)

	NewStepTracer(nil).OnStep(context.Background(), orchestrator.StepReport{
		RunID:     "run",
		Step:      orchestrator.Step{Index: 1},
		StartedAt: time.Now(),
		EndedAt:   time.Now(),
	})
	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), "orchestrator.step")
}
