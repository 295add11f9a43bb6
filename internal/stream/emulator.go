package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/harunnryd/sitewise/internal/model/contract"
)

const fence = "```"

// Emulator recognizes tool calls written as fenced JSON blocks in plain model text, for
// backends without native tool calling. Text events always pass through unchanged.
type Emulator struct {
	tools  map[string]struct{}
	text   strings.Builder
	offset int
	seq    int
	found  int
}

func NewEmulator(toolNames []string) *Emulator {
	tools := make(map[string]struct{}, len(toolNames))
	for _, name := range toolNames {
		tools[name] = struct{}{}
	}
	return &Emulator{tools: tools}
}

// Process forwards ev and appends the events of any tool call block it completed.
func (e *Emulator) Process(ev contract.Event) []contract.Event {
	switch ev.Type {
	case contract.EventTextDelta:
		e.text.WriteString(ev.Text)
		return append([]contract.Event{ev}, e.scan()...)
	case contract.EventFinish:
		if e.found > 0 {
			ev.FinishReason = contract.FinishToolCalls
		}
		return []contract.Event{ev}
	default:
		return []contract.Event{ev}
	}
}

// Found reports how many calls were recognized so far.
func (e *Emulator) Found() int {
	return e.found
}

func (e *Emulator) scan() []contract.Event {
	var events []contract.Event
	for {
		s := e.text.String()[e.offset:]

		open := strings.Index(s, fence)
		if open < 0 {
			return events
		}
		header := s[open+len(fence):]
		nl := strings.IndexByte(header, '\n')
		if nl < 0 {
			return events
		}
		lang := strings.ToLower(strings.TrimSpace(header[:nl]))
		body := header[nl+1:]
		end := strings.Index(body, fence)
		if end < 0 {
			return events
		}
		e.offset += open + len(fence) + nl + 1 + end + len(fence)

		switch lang {
		case "json", "tool_call", "tool", "":
		default:
			continue
		}

		name, args, ok := e.parseBlock(body[:end])
		if !ok {
			continue
		}
		e.seq++
		e.found++
		id := fmt.Sprintf("emulated_%d", e.seq)
		events = append(events,
			contract.ToolCallDelta(id, name, args, true),
			contract.ToolCallComplete(id, true),
		)
	}
}

func (e *Emulator) parseBlock(body string) (string, string, bool) {
	var block map[string]json.RawMessage
	if err := json.Unmarshal([]byte(strings.TrimSpace(body)), &block); err != nil {
		return "", "", false
	}

	var name string
	for _, key := range []string{"tool", "name"} {
		if raw, ok := block[key]; ok {
			if err := json.Unmarshal(raw, &name); err == nil && name != "" {
				break
			}
		}
	}
	if _, ok := e.tools[name]; !ok {
		return "", "", false
	}

	args := "{}"
	for _, key := range []string{"arguments", "parameters", "args"} {
		raw, ok := block[key]
		if !ok {
			continue
		}
		text := argumentText(raw)
		if text == "" {
			break
		}
		var compact bytes.Buffer
		if err := json.Compact(&compact, []byte(text)); err != nil {
			return "", "", false
		}
		if !bytes.HasPrefix(compact.Bytes(), []byte("{")) {
			return "", "", false
		}
		args = compact.String()
		break
	}

	return name, args, true
}

type emulatedStream struct {
	inner    contract.EventStream
	emulator *Emulator
	queue    []contract.Event
}

// Emulate wraps inner so that fenced tool call blocks in its text surface as emulated tool call events.
func Emulate(inner contract.EventStream, toolNames []string) contract.EventStream {
	return &emulatedStream{inner: inner, emulator: NewEmulator(toolNames)}
}

func (s *emulatedStream) Recv(ctx context.Context) (contract.Event, error) {
	for len(s.queue) == 0 {
		ev, err := s.inner.Recv(ctx)
		if err != nil {
			return contract.Event{}, err
		}
		s.queue = s.emulator.Process(ev)
	}
	ev := s.queue[0]
	s.queue = s.queue[1:]
	return ev, nil
}

func (s *emulatedStream) Close() error {
	s.queue = nil
	return s.inner.Close()
}

// ExtractToolCalls returns the emulated tool calls written in text.
func ExtractToolCalls(text string, toolNames []string) []*contract.ToolCall {
	calls := NewCalls()
	for _, ev := range NewEmulator(toolNames).Process(contract.TextDelta(text)) {
		calls.Observe(ev)
	}
	return calls.Completed()
}

// ToolInstructions describes tools and the fenced call format for backends that only speak text.
func ToolInstructions(tools []contract.ToolDef) string {
	if len(tools) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("You can call tools. To call one, reply with exactly one fenced block per call and nothing else in that block:\n")
	b.WriteString("```tool_call\n{\"tool\": \"<tool name>\", \"arguments\": {<arguments matching the tool parameters>}}\n```\n")
	b.WriteString("After the results come back in a tool message, continue the answer. Do not invent results.\n\nAvailable tools:\n")
	for _, t := range tools {
		fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.Description)
		if len(t.Parameters) > 0 {
			if params, err := json.Marshal(t.Parameters); err == nil {
				fmt.Fprintf(&b, "  parameters: %s\n", params)
			}
		}
	}
	return b.String()
}
