package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	sitewiseErrors "github.com/harunnryd/sitewise/internal/errors"
	"github.com/harunnryd/sitewise/internal/logger"
	"github.com/harunnryd/sitewise/internal/model/contract"
)

const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxParallel = 4
)

// Executor runs tool calls against a registry. It never returns an error: every failure is
// absorbed into the ToolResult so the model can react to it.
type Executor struct {
	registry    *Registry
	timeout     time.Duration
	maxParallel int
}

type ExecutorOption func(*Executor)

// WithTimeout bounds each tool invocation.
func WithTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithMaxParallel bounds how many calls of one batch run at once.
func WithMaxParallel(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.maxParallel = n
		}
	}
}

func NewExecutor(registry *Registry, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry:    registry,
		timeout:     DefaultTimeout,
		maxParallel: DefaultMaxParallel,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Executor) Registry() *Registry {
	return e.registry
}

// Execute validates and runs a single call.
func (e *Executor) Execute(ctx context.Context, call *contract.ToolCall) contract.ToolResult {
	result := contract.ToolResult{CallID: call.ID, Name: call.Name}
	log := logger.From(ctx).With("tool", call.Name, "call_id", call.ID)

	entry, ok := e.registry.lookup(call.Name)
	if !ok {
		log.Warn("Tool not found")
		return withError(result, sitewiseErrors.ErrToolNotFound, fmt.Sprintf("tool %q is not registered", call.Name))
	}

	input := json.RawMessage(call.Input)
	if err := validateInput(entry.schema, input); err != nil {
		log.Warn("Tool input validation failed", "error", err)
		return withError(result, sitewiseErrors.ErrToolValidation, err.Error())
	}

	start := time.Now()
	log.Info("Executing tool")

	output, err := e.invoke(ctx, entry.tool, input)
	duration := time.Since(start)
	if err != nil {
		log.Error("Tool execution failed", "error", err, "duration", duration)
		return withError(result, sitewiseErrors.ErrToolExecution, err.Error())
	}

	result.Output = normalizeOutput(output)
	log.Info("Tool execution success", "duration", duration)
	return result
}

// ExecuteBatch runs calls concurrently, waits for all of them and returns results in call order.
func (e *Executor) ExecuteBatch(ctx context.Context, calls []*contract.ToolCall) []contract.ToolResult {
	results := make([]contract.ToolResult, len(calls))
	if len(calls) == 1 {
		results[0] = e.Execute(ctx, calls[0])
		return results
	}

	sem := make(chan struct{}, e.maxParallel)
	var wg sync.WaitGroup
	for i, call := range calls {
		sem <- struct{}{}
		wg.Add(1)
		go func(i int, call *contract.ToolCall) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = e.Execute(ctx, call)
		}(i, call)
	}
	wg.Wait()

	return results
}

func (e *Executor) invoke(ctx context.Context, t Tool, input json.RawMessage) (output json.RawMessage, err error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			output = nil
			err = fmt.Errorf("tool panicked: %v", r)
		}
	}()

	output, err = t.Execute(ctx, input)
	if err == nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("tool exceeded timeout of %s", e.timeout)
	}
	return output, err
}

func withError(result contract.ToolResult, kind error, message string) contract.ToolResult {
	result.Error = &contract.ToolError{
		Kind:    sitewiseErrors.Kind(kind),
		Message: message,
	}
	return result
}

// normalizeOutput keeps valid JSON as-is and wraps anything else as a JSON string.
func normalizeOutput(output json.RawMessage) json.RawMessage {
	if len(output) == 0 {
		return json.RawMessage("null")
	}
	if json.Valid(output) {
		return output
	}
	wrapped, _ := json.Marshal(string(output))
	return wrapped
}
