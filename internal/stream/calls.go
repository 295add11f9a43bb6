package stream

import (
	"strings"

	"github.com/harunnryd/sitewise/internal/model/contract"
)

// Calls accumulates the tool calls of a single generation from delta and completion events.
type Calls struct {
	byID      map[string]*contract.ToolCall
	order     []string
	done      map[string]bool
	completed []*contract.ToolCall
}

func NewCalls() *Calls {
	return &Calls{
		byID: make(map[string]*contract.ToolCall),
		done: make(map[string]bool),
	}
}

// Append adds a fragment to the call id, creating it on first sight.
func (c *Calls) Append(id, name, fragment string, emulated bool) *contract.ToolCall {
	call, ok := c.byID[id]
	if !ok {
		call = &contract.ToolCall{ID: id, Emulated: emulated}
		c.byID[id] = call
		c.order = append(c.order, id)
	}
	if call.Name == "" && name != "" {
		call.Name = name
	}
	if fragment != "" {
		call.Fragments = append(call.Fragments, fragment)
	}
	return call
}

// Complete finalizes id. It reports false for unknown or already completed calls.
func (c *Calls) Complete(id string) (*contract.ToolCall, bool) {
	call, ok := c.byID[id]
	if !ok || c.done[id] {
		return nil, false
	}
	c.done[id] = true

	input := strings.Join(call.Fragments, "")
	if strings.TrimSpace(input) == "" {
		input = "{}"
	}
	call.Input = input
	c.completed = append(c.completed, call)
	return call, true
}

// Observe applies ev and returns the call it completed, if any.
func (c *Calls) Observe(ev contract.Event) (*contract.ToolCall, bool) {
	switch ev.Type {
	case contract.EventToolCallDelta:
		c.Append(ev.ToolCallID, ev.ToolName, ev.ArgsFragment, ev.Emulated)
	case contract.EventToolCallComplete:
		return c.Complete(ev.ToolCallID)
	}
	return nil, false
}

func (c *Calls) Get(id string) (*contract.ToolCall, bool) {
	call, ok := c.byID[id]
	return call, ok
}

func (c *Calls) IsComplete(id string) bool {
	return c.done[id]
}

// Pending returns the ids that were seen but not completed, in first-seen order.
func (c *Calls) Pending() []string {
	var ids []string
	for _, id := range c.order {
		if !c.done[id] {
			ids = append(ids, id)
		}
	}
	return ids
}

// Completed returns finalized calls in completion order.
func (c *Calls) Completed() []*contract.ToolCall {
	return c.completed
}

func (c *Calls) Len() int {
	return len(c.order)
}
