package contract

type EventType string

const (
	EventTextDelta        EventType = "text_delta"
	EventToolCallDelta    EventType = "tool_call_delta"
	EventToolCallComplete EventType = "tool_call_complete"
	EventFinish           EventType = "finish"
	EventStreamError      EventType = "stream_error"
)

const (
	FinishStop      = "stop"
	FinishToolCalls = "tool_calls"
	FinishLength    = "length"
)

// Event is one normalized generation event. Which fields are set depends on Type.
type Event struct {
	Type         EventType `json:"type"`
	Text         string    `json:"text,omitempty"`
	ToolCallID   string    `json:"tool_call_id,omitempty"`
	ToolName     string    `json:"tool_name,omitempty"`
	ArgsFragment string    `json:"args_fragment,omitempty"`
	Emulated     bool      `json:"emulated,omitempty"`
	FinishReason string    `json:"finish_reason,omitempty"`
	Usage        *Usage    `json:"usage,omitempty"`
	ErrorKind    string    `json:"error_kind,omitempty"`
	Error        string    `json:"error,omitempty"`
}

func TextDelta(text string) Event {
	return Event{Type: EventTextDelta, Text: text}
}

func ToolCallDelta(id, name, fragment string, emulated bool) Event {
	return Event{Type: EventToolCallDelta, ToolCallID: id, ToolName: name, ArgsFragment: fragment, Emulated: emulated}
}

func ToolCallComplete(id string, emulated bool) Event {
	return Event{Type: EventToolCallComplete, ToolCallID: id, Emulated: emulated}
}

func Finish(reason string, usage *Usage) Event {
	return Event{Type: EventFinish, FinishReason: reason, Usage: usage}
}

func StreamError(kind string, err error) Event {
	ev := Event{Type: EventStreamError, ErrorKind: kind}
	if err != nil {
		ev.Error = err.Error()
	}
	return ev
}
