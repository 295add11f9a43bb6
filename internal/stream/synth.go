package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/harunnryd/sitewise/internal/model/contract"
)

// Synthesize produces the event sequence a streaming backend would have sent for resp.
func Synthesize(resp *contract.CompletionResponse) []contract.Event {
	if resp == nil {
		return []contract.Event{contract.Finish(contract.FinishStop, nil)}
	}

	events := make([]contract.Event, 0, 2+2*len(resp.ToolCalls))
	if resp.Content != "" {
		events = append(events, contract.TextDelta(resp.Content))
	}

	ids := make([]string, len(resp.ToolCalls))
	for i, call := range resp.ToolCalls {
		ids[i] = call.ID
		if ids[i] == "" {
			ids[i] = fmt.Sprintf("call_%d", i+1)
		}
		events = append(events, contract.ToolCallDelta(ids[i], call.Name, call.Input, call.Emulated))
	}
	for i, call := range resp.ToolCalls {
		events = append(events, contract.ToolCallComplete(ids[i], call.Emulated))
	}

	reason := resp.FinishReason
	if len(resp.ToolCalls) > 0 {
		reason = contract.FinishToolCalls
	} else if reason == "" {
		reason = contract.FinishStop
	}
	return append(events, contract.Finish(reason, resp.Usage))
}

// FromResponse exposes a single hosted response as an event stream.
func FromResponse(resp *contract.CompletionResponse) contract.EventStream {
	return FromEvents(Synthesize(resp))
}

// Collect drains s into a single response. It is the inverse of Synthesize.
func Collect(ctx context.Context, s contract.EventStream) (*contract.CompletionResponse, error) {
	defer s.Close()

	var text strings.Builder
	calls := NewCalls()
	resp := &contract.CompletionResponse{}
	for {
		ev, err := s.Recv(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		switch ev.Type {
		case contract.EventTextDelta:
			text.WriteString(ev.Text)
		case contract.EventFinish:
			resp.FinishReason = ev.FinishReason
			resp.Usage = ev.Usage
		default:
			calls.Observe(ev)
		}
	}

	resp.Content = text.String()
	resp.ToolCalls = calls.Completed()
	return resp, nil
}
