package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/harunnryd/sitewise/internal/concurrency"
	sitewiseErrors "github.com/harunnryd/sitewise/internal/errors"
	"github.com/harunnryd/sitewise/internal/logger"
	"github.com/harunnryd/sitewise/internal/model"
	"github.com/harunnryd/sitewise/internal/model/contract"
	"github.com/harunnryd/sitewise/internal/stream"

	"github.com/oklog/ulid/v2"
)

// FallbackController wraps an Orchestrator with a single reduced-capability retry: when the
// primary run fails, it asks the fallback provider for a plain answer with tools and streaming
// disabled. If that fails too, the primary error is returned.
type FallbackController struct {
	orchestrator *Orchestrator
	fallback     model.Provider
	buffer       int
}

// NewFallbackController uses the orchestrator's own provider when fallback is nil.
func NewFallbackController(orchestrator *Orchestrator, fallback model.Provider) *FallbackController {
	if fallback == nil {
		fallback = orchestrator.Provider()
	}
	return &FallbackController{orchestrator: orchestrator, fallback: fallback, buffer: stream.DefaultBuffer}
}

// WithBuffer sets the event buffer size of streams returned by Stream.
func (f *FallbackController) WithBuffer(n int) *FallbackController {
	if n > 0 {
		f.buffer = n
	}
	return f
}

func (f *FallbackController) Run(ctx context.Context, messages []contract.Message) (*RunResult, error) {
	return f.run(ctx, messages, nil)
}

func (f *FallbackController) run(ctx context.Context, messages []contract.Message, sink EventSink) (*RunResult, error) {
	runID := logger.GetRunID(ctx)
	if runID == "" {
		runID = ulid.Make().String()
		ctx = logger.WithRunID(ctx, runID)
	}

	result, conv, err := f.orchestrator.run(ctx, messages, sink)
	if err == nil {
		return result, nil
	}
	if !sitewiseErrors.IsFallbackEligible(err) {
		return nil, err
	}

	log := logger.From(ctx)
	log.Warn("Primary path failed, retrying without tools", "kind", sitewiseErrors.Kind(err), "error", err, "fallback", f.fallback.Name())

	started := time.Now()
	resp, fbErr := f.generate(ctx, messages)
	if fbErr != nil {
		log.Error("Fallback failed", "kind", sitewiseErrors.Kind(fbErr), "error", fbErr)
		return nil, err
	}

	if sink != nil {
		if resp.Content != "" {
			sink(contract.TextDelta(resp.Content))
		}
		sink(contract.Finish(contract.FinishStop, resp.Usage))
	}

	step := Step{
		Index:        1,
		Text:         resp.Content,
		FinishReason: contract.FinishStop,
		Usage:        resp.Usage,
	}
	if conv != nil {
		// Number the answer after the steps that were already reported for this run.
		step.Index = conv.stepCount + 1
		conv.appendAssistant(resp.Content, nil)
		f.orchestrator.report(ctx, runID, f.fallback.Name(), step, conv, started, true, true)
	}

	log.Info("Fallback answered", "text_len", len(resp.Content))
	return &RunResult{
		RunID:     runID,
		FinalText: resp.Content,
		Steps:     []Step{step},
		Fallback:  true,
	}, nil
}

func (f *FallbackController) generate(ctx context.Context, messages []contract.Message) (*contract.CompletionResponse, error) {
	cfg := f.orchestrator.Config()
	gctx, cancel := context.WithTimeout(ctx, cfg.StepTimeout)
	defer cancel()

	conv := newConversation(cfg.SystemPrompt, plainHistory(messages))
	resp, err := f.fallback.Generate(gctx, contract.CompletionRequest{Messages: conv.history()})
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, sitewiseErrors.Protocol("fallback returned no response")
	}
	return resp, nil
}

// plainHistory drops tool traffic that a call without tools cannot carry.
func plainHistory(messages []contract.Message) []contract.Message {
	out := make([]contract.Message, 0, len(messages))
	for _, m := range messages {
		switch {
		case m.Role == contract.RoleTool:
			continue
		case len(m.ToolCalls) > 0:
			if m.Content == "" {
				continue
			}
			m.ToolCalls = nil
		}
		out = append(out, m)
	}
	return out
}

// RunStream is a run in progress. Events delivers every generation event; once it is closed,
// Result returns the outcome.
type RunStream struct {
	events chan contract.Event
	done   chan struct{}
	cancel context.CancelFunc
	result *RunResult
	err    error
}

// Stream starts a run in the background. Callers must drain Events or call Close.
func (f *FallbackController) Stream(ctx context.Context, messages []contract.Message) *RunStream {
	ctx, cancel := context.WithCancel(ctx)
	rs := &RunStream{
		events: make(chan contract.Event, f.buffer),
		done:   make(chan struct{}),
		cancel: cancel,
	}

	go func() {
		defer close(rs.done)
		defer cancel()
		defer close(rs.events)
		defer concurrency.Recover(func(r interface{}) {
			rs.result, rs.err = nil, sitewiseErrors.Internal(fmt.Sprintf("run panicked: %v", r))
		})

		rs.result, rs.err = f.run(ctx, messages, func(ev contract.Event) {
			select {
			case rs.events <- ev:
			case <-ctx.Done():
			}
		})
	}()

	return rs
}

func (r *RunStream) Events() <-chan contract.Event {
	return r.events
}

// Result blocks until the run finished.
func (r *RunStream) Result() (*RunResult, error) {
	<-r.done
	return r.result, r.err
}

// Close cancels the run and waits for it to stop.
func (r *RunStream) Close() {
	r.cancel()
	for range r.events {
	}
	<-r.done
}
