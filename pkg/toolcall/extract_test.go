package toolcall

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamloop/pkg/types"
)

func assistantCall(args string) types.Event {
	return types.Event{
		ID:   "m1",
		Role: "assistant",
		ToolCalls: []types.ToolCall{{
			ID:       "tc_1",
			Type:     "function",
			Function: types.FunctionCall{Name: "search", Arguments: args},
		}},
	}
}

func TestExtractToolCallID(t *testing.T) {
	tests := []struct {
		name string
		ev   types.Event
		want string
	}{
		{"assistant first call", types.Event{Role: "assistant", ToolCalls: []types.ToolCall{{ID: "a"}, {ID: "b"}}}, "a"},
		{"assistant without calls", types.Event{Role: "assistant"}, ""},
		{"tool reply", types.Event{Role: "tool", ToolCallID: "a"}, "a"},
		{"user", types.Event{Role: "user", ToolCallID: "ignored"}, ""},
		{"system", types.Event{Role: "system"}, ""},
		{"unmapped", types.Event{Role: "developer", ToolCallID: "x"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractToolCallID(tt.ev))
		})
	}
}

func TestExtractToolCallRequest(t *testing.T) {
	req := ExtractToolCallRequest(nil, assistantCall(`{"q":"x"}`))
	require.NotNil(t, req)
	assert.Equal(t, &types.ToolCallRequest{
		ToolName:   "search",
		Parameters: []types.ToolParameter{{ParameterName: "q", ParameterValue: "x"}},
	}, req)
}

func TestExtractToolCallRequestMalformed(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	req := ExtractToolCallRequest(logger, assistantCall("{not json"))
	assert.Nil(t, req)
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "tool=search")
	assert.Contains(t, buf.String(), "{not json")
	assert.Equal(t, "tc_1", ExtractToolCallID(assistantCall("{not json")))
}

func TestExtractToolCallRequestStillStreaming(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ev := assistantCall(`{"q":`)
	ev.ToolCalls[0].Streaming = true
	assert.Nil(t, ExtractToolCallRequest(logger, ev))
	assert.NotContains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "level=DEBUG")

	ev.ToolCalls[0].Function.Arguments = `{"q":"x"}`
	req := ExtractToolCallRequest(logger, ev)
	require.NotNil(t, req)
	assert.Equal(t, "x", req.Parameters[0].ParameterValue)
}

func TestExtractToolCallRequestNoCalls(t *testing.T) {
	assert.Nil(t, ExtractToolCallRequest(nil, types.Event{Role: "assistant"}))
	assert.Nil(t, ExtractToolCallRequest(nil, types.Event{Role: "tool", ToolCallID: "tc"}))
}

func TestExtractToolCallRequestEmptyArguments(t *testing.T) {
	req := ExtractToolCallRequest(nil, assistantCall(""))
	require.NotNil(t, req)
	assert.Equal(t, "search", req.ToolName)
	assert.Empty(t, req.Parameters)
}

func TestParseArgumentsOrder(t *testing.T) {
	params, ok := ParseArguments(`{"zeta":1,"alpha":{"nested":true},"mid":[1,"two"],"zeta":3}`)
	require.True(t, ok)
	require.Len(t, params, 3)

	assert.Equal(t, "zeta", params[0].ParameterName)
	assert.Equal(t, 3.0, params[0].ParameterValue)
	assert.Equal(t, "alpha", params[1].ParameterName)
	assert.Equal(t, map[string]any{"nested": true}, params[1].ParameterValue)
	assert.Equal(t, "mid", params[2].ParameterName)
	assert.Equal(t, []any{1.0, "two"}, params[2].ParameterValue)
}

func TestParseArgumentsRejectsNonObjects(t *testing.T) {
	for _, raw := range []string{"[1,2]", "5", "null", `"str"`, "{", "   "} {
		_, ok := ParseArguments(raw)
		assert.False(t, ok, raw)
	}
}
