package stream

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"testing/iotest"

	sitewiseErrors "github.com/harunnryd/sitewise/internal/errors"
	"github.com/harunnryd/sitewise/internal/model/contract"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func feedAll(t *testing.T, a *Assembler, chunks ...string) []contract.Event {
	t.Helper()
	var events []contract.Event
	for _, chunk := range chunks {
		evs, err := a.Feed([]byte(chunk))
		require.NoError(t, err)
		events = append(events, evs...)
	}
	evs, err := a.Close()
	require.NoError(t, err)
	return append(events, evs...)
}

func TestAssemblerSplitLineAtEveryOffset(t *testing.T) {
	line := `{"message":{"role":"assistant","content":"Hello, wörld"},"done":false}` + "\n"
	done := `{"done":true,"done_reason":"stop","prompt_eval_count":3,"eval_count":2}` + "\n"

	for offset := 1; offset < len(line); offset++ {
		a := NewAssembler()

		first, err := a.Feed([]byte(line[:offset]))
		require.NoError(t, err)
		assert.Empty(t, first, "offset %d emitted before the line completed", offset)

		events := feedAll(t, a, line[offset:], done)
		require.Len(t, events, 2, "offset %d", offset)
		assert.Equal(t, contract.TextDelta("Hello, wörld"), events[0])
		assert.Equal(t, contract.EventFinish, events[1].Type)
		assert.Equal(t, contract.FinishStop, events[1].FinishReason)
		assert.Equal(t, 5, events[1].Usage.TotalTokens)
	}
}

func TestAssemblerFunctionCallFragments(t *testing.T) {
	a := NewAssembler()
	events := feedAll(t, a,
		`{"message":{"content":"Let me check."}}`+"\n",
		`{"message":{"function_call":{"name":"analyze_website","arguments":"{\"url\":"}}}`+"\n",
		`{"message":{"function_call":{"arguments":"\"https://exa"}}}`+"\n",
		`{"message":{"function_call":{"arguments":"mple.com\"}"}}}`+"\n",
		`{"done":true,"done_reason":"stop"}`+"\n",
	)

	var text strings.Builder
	var fragments strings.Builder
	var completed []string
	var finish contract.Event
	for _, ev := range events {
		switch ev.Type {
		case contract.EventTextDelta:
			text.WriteString(ev.Text)
		case contract.EventToolCallDelta:
			assert.Equal(t, "call_1", ev.ToolCallID)
			assert.Equal(t, "analyze_website", ev.ToolName)
			assert.False(t, ev.Emulated)
			fragments.WriteString(ev.ArgsFragment)
		case contract.EventToolCallComplete:
			completed = append(completed, ev.ToolCallID)
		case contract.EventFinish:
			finish = ev
		}
	}

	assert.Equal(t, "Let me check.", text.String())
	assert.Equal(t, []string{"call_1"}, completed)
	assert.Equal(t, contract.FinishToolCalls, finish.FinishReason)

	var args map[string]string
	require.NoError(t, json.Unmarshal([]byte(fragments.String()), &args))
	assert.Equal(t, "https://example.com", args["url"])
}

func TestAssemblerNativeToolCallsGetDistinctIDs(t *testing.T) {
	a := NewAssembler()
	events := feedAll(t, a,
		`{"message":{"tool_calls":[{"function":{"name":"search_content","arguments":{"query":"seo"}}},{"function":{"name":"search_content","arguments":{"query":"blog"}}}]}}`+"\n",
		`{"message":{"function_call":{"id":"fc-9","name":"index_content","arguments":"{\"content\":\"x\"}"}}}`+"\n",
		`{"done":true}`+"\n",
	)

	calls := NewCalls()
	for _, ev := range events {
		calls.Observe(ev)
	}

	completed := calls.Completed()
	require.Len(t, completed, 3)
	assert.Equal(t, "call_1", completed[0].ID)
	assert.Equal(t, `{"query":"seo"}`, completed[0].Input)
	assert.Equal(t, "call_2", completed[1].ID)
	assert.Equal(t, `{"query":"blog"}`, completed[1].Input)
	assert.Equal(t, "fc-9", completed[2].ID)
	assert.Equal(t, "index_content", completed[2].Name)
}

func TestAssemblerRebuffersRecordBrokenAcrossLines(t *testing.T) {
	a := NewAssembler()
	events := feedAll(t, a,
		`{"message":{"content":"first`+"\n",
		`second"}}`+"\n",
		`{"message":`+"\n",
		`{"content":" third"}}`+"\n",
		`{"done":true}`,
	)

	require.Len(t, events, 3)
	assert.Equal(t, "first\nsecond", events[0].Text)
	assert.Equal(t, " third", events[1].Text)
	assert.Equal(t, contract.EventFinish, events[2].Type)
}

func TestAssemblerMalformedLineIsProtocolError(t *testing.T) {
	a := NewAssembler()
	_, err := a.Feed([]byte("{\"message\":{\"content\":\"ok\"}}\nnot json at all\n"))
	require.Error(t, err)
	assert.True(t, sitewiseErrors.IsCategory(err, sitewiseErrors.ErrProtocol))
}

func TestAssemblerCloseMidRecordIsProtocolError(t *testing.T) {
	a := NewAssembler()
	_, err := a.Feed([]byte(`{"message":{"content":"cut off`))
	require.NoError(t, err)

	_, err = a.Close()
	require.Error(t, err)
	assert.True(t, sitewiseErrors.IsCategory(err, sitewiseErrors.ErrProtocol))
}

func TestAssemblerCloseWithoutDoneIsProtocolError(t *testing.T) {
	a := NewAssembler()
	_, err := a.Feed([]byte(`{"message":{"content":"partial answer"}}` + "\n"))
	require.NoError(t, err)

	_, err = a.Close()
	assert.True(t, sitewiseErrors.IsCategory(err, sitewiseErrors.ErrProtocol))
}

func TestAssemblerErrorRecordIsProviderError(t *testing.T) {
	a := NewAssembler()
	_, err := a.Feed([]byte(`{"error":"model 'nope' not found"}` + "\n"))
	require.Error(t, err)
	assert.True(t, sitewiseErrors.IsCategory(err, sitewiseErrors.ErrProvider))
	assert.Contains(t, err.Error(), "model 'nope' not found")
}

func TestAssemblerRunOneByteAtATime(t *testing.T) {
	body := `{"message":{"content":"Hi"}}` + "\n" +
		`{"message":{"function_call":{"name":"search_content","arguments":"{\"query\":\"go\"}"}}}` + "\n" +
		`{"done":true,"eval_count":4}` + "\n" +
		`{"message":{"content":"ignored after done"}}` + "\n"

	var events []contract.Event
	err := NewAssembler().Run(context.Background(), iotest.OneByteReader(strings.NewReader(body)), func(ev contract.Event) error {
		events = append(events, ev)
		return nil
	})
	require.NoError(t, err)

	types := make([]contract.EventType, 0, len(events))
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []contract.EventType{
		contract.EventTextDelta,
		contract.EventToolCallDelta,
		contract.EventToolCallComplete,
		contract.EventFinish,
	}, types)
}

func TestAssemblerRunHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewAssembler().Run(ctx, strings.NewReader(`{"done":true}`+"\n"), func(contract.Event) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
