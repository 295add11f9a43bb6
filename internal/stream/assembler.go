package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	sitewiseErrors "github.com/harunnryd/sitewise/internal/errors"
	"github.com/harunnryd/sitewise/internal/model/contract"
)

const readChunkSize = 4096

// record is one NDJSON line of a streaming chat response.
type record struct {
	Message         *recordMessage `json:"message"`
	Response        string         `json:"response"`
	Done            bool           `json:"done"`
	DoneReason      string         `json:"done_reason"`
	PromptEvalCount int            `json:"prompt_eval_count"`
	EvalCount       int            `json:"eval_count"`
	Error           string         `json:"error"`
}

type recordMessage struct {
	Role         string           `json:"role"`
	Content      string           `json:"content"`
	FunctionCall *recordFunction  `json:"function_call"`
	ToolCalls    []recordToolCall `json:"tool_calls"`
}

type recordFunction struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type recordToolCall struct {
	ID       string         `json:"id"`
	Function recordFunction `json:"function"`
}

// Assembler turns raw NDJSON bytes into normalized events. It is not safe for concurrent use.
type Assembler struct {
	line    []byte
	partial []byte
	calls   *Calls
	open    string
	seq     int
	done    bool
}

func NewAssembler() *Assembler {
	return &Assembler{calls: NewCalls()}
}

// Done reports whether the completion record was seen.
func (a *Assembler) Done() bool {
	return a.done
}

// Feed appends chunk and returns the events of every line it completed.
func (a *Assembler) Feed(chunk []byte) ([]contract.Event, error) {
	a.line = append(a.line, chunk...)

	var events []contract.Event
	for {
		i := bytes.IndexByte(a.line, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimSuffix(a.line[:i], []byte{'\r'})
		evs, err := a.processLine(line)
		a.line = a.line[i+1:]
		events = append(events, evs...)
		if err != nil {
			return events, err
		}
	}

	return events, nil
}

// Close flushes a trailing unterminated line. A record still incomplete at this point, or a
// stream that never signalled completion, is a protocol error.
func (a *Assembler) Close() ([]contract.Event, error) {
	var events []contract.Event
	if len(bytes.TrimSpace(a.line)) > 0 {
		evs, err := a.processLine(bytes.TrimSuffix(a.line, []byte{'\r'}))
		events = append(events, evs...)
		if err != nil {
			a.line = nil
			return events, err
		}
	}
	a.line = nil

	if len(a.partial) > 0 {
		return events, sitewiseErrors.Protocol(fmt.Sprintf("stream ended mid-record: %s", preview(a.partial)))
	}
	if !a.done {
		return events, sitewiseErrors.Protocol("stream ended without completion signal")
	}
	return events, nil
}

// Run reads r to the end, emitting events as lines complete. It stops after the completion record.
func (a *Assembler) Run(ctx context.Context, r io.Reader, emit func(contract.Event) error) error {
	buf := make([]byte, readChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, readErr := r.Read(buf)
		if n > 0 {
			events, err := a.Feed(buf[:n])
			if emitErr := emitAll(events, emit); emitErr != nil {
				return emitErr
			}
			if err != nil {
				return err
			}
			if a.done {
				return nil
			}
		}

		if readErr == nil {
			continue
		}
		if errors.Is(readErr, io.EOF) {
			events, err := a.Close()
			if emitErr := emitAll(events, emit); emitErr != nil {
				return emitErr
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return sitewiseErrors.WrapWithCategory(readErr, "read stream", sitewiseErrors.ErrNetwork)
	}
}

func emitAll(events []contract.Event, emit func(contract.Event) error) error {
	for _, ev := range events {
		if err := emit(ev); err != nil {
			return err
		}
	}
	return nil
}

func (a *Assembler) processLine(line []byte) ([]contract.Event, error) {
	candidate := line
	if len(a.partial) > 0 {
		candidate = append(a.partial, line...)
	}

	trimmed := bytes.TrimSpace(candidate)
	if len(trimmed) == 0 {
		return nil, nil
	}

	var rec record
	if err := json.Unmarshal(trimmed, &rec); err != nil {
		depth, inString := scanDepth(trimmed)
		if depth > 0 || inString {
			// The record continues on the next line. A break inside a string was a raw newline.
			next := make([]byte, 0, len(trimmed)+2)
			next = append(next, trimmed...)
			if inString {
				next = append(next, '\\', 'n')
			}
			a.partial = next
			return nil, nil
		}
		a.partial = nil
		return nil, sitewiseErrors.Protocol(fmt.Sprintf("malformed stream record %s: %v", preview(trimmed), err))
	}

	a.partial = nil
	return a.handle(rec)
}

func (a *Assembler) handle(rec record) ([]contract.Event, error) {
	if a.done {
		return nil, nil
	}
	if rec.Error != "" {
		return nil, sitewiseErrors.Provider(rec.Error)
	}

	var events []contract.Event
	if msg := rec.Message; msg != nil {
		if msg.Content != "" {
			events = append(events, contract.TextDelta(msg.Content))
		}
		if fc := msg.FunctionCall; fc != nil {
			id := a.resolveID(fc.ID, fc.Name)
			events = append(events, a.fragment(id, fc.Name, argumentText(fc.Arguments)))
		}
		for _, tc := range msg.ToolCalls {
			id := tc.ID
			if id == "" || a.calls.IsComplete(id) {
				id = a.nextID()
			}
			events = append(events, a.fragment(id, tc.Function.Name, argumentText(tc.Function.Arguments)))
		}
	} else if rec.Response != "" {
		events = append(events, contract.TextDelta(rec.Response))
	}

	if rec.Done {
		a.done = true
		for _, id := range a.calls.Pending() {
			call, _ := a.calls.Complete(id)
			events = append(events, contract.ToolCallComplete(call.ID, false))
		}

		reason := rec.DoneReason
		if len(a.calls.Completed()) > 0 {
			reason = contract.FinishToolCalls
		} else if reason == "" {
			reason = contract.FinishStop
		}
		usage := &contract.Usage{
			PromptTokens:     rec.PromptEvalCount,
			CompletionTokens: rec.EvalCount,
			TotalTokens:      rec.PromptEvalCount + rec.EvalCount,
		}
		events = append(events, contract.Finish(reason, usage))
	}

	return events, nil
}

// resolveID maps a function_call fragment to a call id. Fragments without an id continue the
// open call unless they name a different tool.
func (a *Assembler) resolveID(id, name string) string {
	if id != "" {
		a.open = id
		return id
	}
	if a.open != "" && !a.calls.IsComplete(a.open) {
		if call, ok := a.calls.Get(a.open); ok && (name == "" || call.Name == "" || name == call.Name) {
			return a.open
		}
	}
	a.open = a.nextID()
	return a.open
}

func (a *Assembler) nextID() string {
	a.seq++
	return fmt.Sprintf("call_%d", a.seq)
}

func (a *Assembler) fragment(id, name, args string) contract.Event {
	call := a.calls.Append(id, name, args, false)
	return contract.ToolCallDelta(id, call.Name, args, false)
}

// argumentText accepts both a JSON-encoded string fragment and an inline object.
func argumentText(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return s
		}
	}
	return string(trimmed)
}

// scanDepth returns the open bracket depth at the end of b and whether b ends inside a string.
func scanDepth(b []byte) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for _, c := range b {
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
		}
	}
	return depth, inString
}

func preview(b []byte) string {
	const max = 120
	if len(b) > max {
		return fmt.Sprintf("%q...", b[:max])
	}
	return fmt.Sprintf("%q", b)
}
