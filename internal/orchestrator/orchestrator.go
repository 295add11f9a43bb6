package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	sitewiseErrors "github.com/harunnryd/sitewise/internal/errors"
	"github.com/harunnryd/sitewise/internal/logger"
	"github.com/harunnryd/sitewise/internal/model"
	"github.com/harunnryd/sitewise/internal/model/contract"
	"github.com/harunnryd/sitewise/internal/stream"
	"github.com/harunnryd/sitewise/internal/tool"

	"github.com/oklog/ulid/v2"
)

const (
	DefaultMaxSteps    = 5
	DefaultStepTimeout = 120 * time.Second
)

type Config struct {
	MaxSteps     int
	StepTimeout  time.Duration
	SystemPrompt string
}

// Step is one generate-then-execute cycle. It is not modified after it was reported.
type Step struct {
	Index        int                   `json:"index"`
	Text         string                `json:"text"`
	ToolCalls    []*contract.ToolCall  `json:"tool_calls,omitempty"`
	ToolResults  []contract.ToolResult `json:"tool_results,omitempty"`
	FinishReason string                `json:"finish_reason,omitempty"`
	Usage        *contract.Usage       `json:"usage,omitempty"`
}

type RunResult struct {
	RunID     string `json:"run_id"`
	FinalText string `json:"final_text"`
	Steps     []Step `json:"steps"`
	Truncated bool   `json:"truncated"`
	Fallback  bool   `json:"fallback"`
}

// EventSink receives every generation event of a run in arrival order.
type EventSink func(contract.Event)

// Orchestrator drives the bounded generate, execute tools, generate loop.
type Orchestrator struct {
	provider  model.Provider
	executor  *tool.Executor
	cfg       Config
	observers []StepObserver
	mapper    sitewiseErrors.ErrorMapper
}

type Option func(*Orchestrator)

func WithObserver(obs StepObserver) Option {
	return func(o *Orchestrator) {
		if obs != nil {
			o.observers = append(o.observers, obs)
		}
	}
}

func New(provider model.Provider, executor *tool.Executor, cfg Config, opts ...Option) *Orchestrator {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = DefaultStepTimeout
	}

	o := &Orchestrator{
		provider: provider,
		executor: executor,
		cfg:      cfg,
		mapper:   sitewiseErrors.NewDefaultErrorMapper(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) Provider() model.Provider {
	return o.provider
}

func (o *Orchestrator) Config() Config {
	return o.cfg
}

// Run executes one conversation turn over messages. Tool failures are fed back to the model;
// only backend failures, step timeouts and cancellation end the run with an error.
func (o *Orchestrator) Run(ctx context.Context, messages []contract.Message, sink EventSink) (*RunResult, error) {
	result, _, err := o.run(ctx, messages, sink)
	return result, err
}

// run also returns the conversation so that a fallback answer can be reported after the steps
// that already were.
func (o *Orchestrator) run(ctx context.Context, messages []contract.Message, sink EventSink) (*RunResult, *conversation, error) {
	runID := logger.GetRunID(ctx)
	if runID == "" {
		runID = ulid.Make().String()
		ctx = logger.WithRunID(ctx, runID)
	}
	log := logger.From(ctx)

	conv := newConversation(o.cfg.SystemPrompt, messages)
	result := &RunResult{RunID: runID}

	var tools []contract.ToolDef
	if o.executor != nil {
		tools = o.executor.Registry().Definitions()
	}

	log.Info("Run started", "model", o.provider.Name(), "messages", len(messages), "tools", len(tools), "max_steps", o.cfg.MaxSteps)

	for {
		if err := ctx.Err(); err != nil {
			return nil, conv, err
		}

		index := conv.stepCount + 1
		started := time.Now()
		step, err := o.runStep(ctx, index, conv.history(), tools, sink)
		if err != nil {
			log.Warn("Step failed", "step", index, "kind", sitewiseErrors.Kind(err), "error", err)
			return nil, conv, err
		}
		conv.stepCount = index

		if len(step.ToolResults) == 0 {
			result.Truncated = len(step.ToolCalls) > 0
			conv.appendAssistant(step.Text, nil)
			result.Steps = append(result.Steps, step)
			result.FinalText = step.Text
			o.report(ctx, runID, o.provider.Name(), step, conv, started, true, false)

			if result.Truncated {
				log.Warn("Step limit reached with pending tool calls", "steps", index, "pending", len(step.ToolCalls))
			}
			log.Info("Run finished", "steps", index, "truncated", result.Truncated)
			return result, conv, nil
		}

		conv.appendAssistant(step.Text, step.ToolCalls)
		conv.appendResults(step.ToolResults)

		result.Steps = append(result.Steps, step)
		o.report(ctx, runID, o.provider.Name(), step, conv, started, false, false)
		log.Info("Step finished", "step", index, "tool_calls", len(step.ToolCalls), "text_len", len(step.Text))
	}
}

// runStep generates and, unless the step is the last one allowed, executes the requested tools.
// Both phases share the step deadline. Results stay empty when no tools were executed.
func (o *Orchestrator) runStep(ctx context.Context, index int, history []contract.Message, tools []contract.ToolDef, sink EventSink) (step Step, err error) {
	stepCtx, cancel := context.WithTimeout(ctx, o.cfg.StepTimeout)
	defer cancel()

	defer func() {
		if err != nil {
			err = o.classify(ctx, stepCtx, index, err)
			if sink != nil {
				sink(contract.StreamError(sitewiseErrors.Kind(err), err))
			}
		}
	}()

	step, err = o.generate(stepCtx, index, history, tools, sink)
	if err != nil {
		return step, err
	}
	if len(step.ToolCalls) == 0 || index >= o.cfg.MaxSteps {
		return step, nil
	}

	logger.From(ctx).Debug("Executing tool calls", "step", index, "count", len(step.ToolCalls))
	step.ToolResults = o.executor.ExecuteBatch(stepCtx, step.ToolCalls)
	if err := stepCtx.Err(); err != nil {
		return step, err
	}
	return step, nil
}

// generate runs one backend call and folds its events into a Step.
func (o *Orchestrator) generate(ctx context.Context, index int, history []contract.Message, tools []contract.ToolDef, sink EventSink) (Step, error) {
	step := Step{Index: index}

	s, err := o.provider.Stream(ctx, contract.CompletionRequest{Messages: history, Tools: tools})
	if err != nil {
		return step, err
	}
	defer s.Close()

	var text strings.Builder
	calls := stream.NewCalls()
	finished := false

	for !finished {
		ev, err := s.Recv(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return step, err
		}

		switch ev.Type {
		case contract.EventTextDelta:
			text.WriteString(ev.Text)
		case contract.EventToolCallDelta, contract.EventToolCallComplete:
			calls.Observe(ev)
		case contract.EventFinish:
			step.FinishReason = ev.FinishReason
			step.Usage = ev.Usage
			finished = true
		case contract.EventStreamError:
			return step, sitewiseErrors.FromKind(ev.ErrorKind, ev.Error)
		}

		if sink != nil && ev.Type != contract.EventStreamError {
			sink(ev)
		}
	}

	if !finished {
		return step, sitewiseErrors.Protocol("stream ended without a finish event")
	}

	step.Text = text.String()
	step.ToolCalls = calls.Completed()
	return step, nil
}

// classify maps a step failure into the error taxonomy. Caller cancellation is returned as is.
func (o *Orchestrator) classify(ctx, stepCtx context.Context, index int, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(stepCtx.Err(), context.DeadlineExceeded) {
		return sitewiseErrors.Timeout(fmt.Sprintf("step %d exceeded %s", index, o.cfg.StepTimeout))
	}
	return o.mapper.MapError(err)
}

func (o *Orchestrator) report(ctx context.Context, runID, modelName string, step Step, conv *conversation, started time.Time, final, fallback bool) {
	notify(ctx, o.observers, StepReport{
		RunID:     runID,
		SessionID: logger.GetSessionID(ctx),
		Model:     modelName,
		Step:      step,
		Messages:  conv.unreported(),
		Final:     final,
		Fallback:  fallback,
		StartedAt: started,
		EndedAt:   time.Now(),
	})
}
