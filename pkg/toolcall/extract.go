// Package toolcall extracts tool-call metadata from assistant and tool events.
//
// Only the first tool call of an assistant event is surfaced: the loop yields
// one decision per event, so additional calls stay on the raw event.
package toolcall

import (
	"log/slog"

	"github.com/tidwall/gjson"

	"streamloop/pkg/types"
)

const emptyArguments = "{}"

// ExtractToolCallID returns the first tool call id of an assistant event, the
// answered call id of a tool event, and "" for every other event.
func ExtractToolCallID(ev types.Event) string {
	role, ok := types.MapRole(ev.Role)
	if !ok {
		return ""
	}
	switch role {
	case types.RoleAssistant:
		if len(ev.ToolCalls) > 0 {
			return ev.ToolCalls[0].ID
		}
	case types.RoleTool:
		return ev.ToolCallID
	}
	return ""
}

// ExtractToolCallRequest parses the first tool call of an assistant event.
// Malformed arguments are logged and reported as nil rather than an error so
// a bad tool call never aborts the stream. Arguments of a call that is still
// streaming are usually incomplete, so that case is only logged at debug.
func ExtractToolCallRequest(logger *slog.Logger, ev types.Event) *types.ToolCallRequest {
	role, ok := types.MapRole(ev.Role)
	if !ok || role != types.RoleAssistant || len(ev.ToolCalls) == 0 {
		return nil
	}
	call := ev.ToolCalls[0]

	params, ok := ParseArguments(call.Function.Arguments)
	if !ok {
		if logger == nil {
			logger = slog.Default()
		}
		if call.Streaming {
			logger.Debug("toolcall: tool call arguments still streaming",
				"tool", call.Function.Name,
				"tool_call_id", call.ID,
			)
			return nil
		}
		logger.Warn("toolcall: malformed tool call arguments",
			"tool", call.Function.Name,
			"tool_call_id", call.ID,
			"arguments", call.Function.Arguments,
		)
		return nil
	}
	return &types.ToolCallRequest{
		ToolName:   call.Function.Name,
		Parameters: params,
	}
}

// ParseArguments decodes a serialized JSON object into parameters ordered
// as the keys appear. An empty string is read as "{}". A repeated key keeps
// its first position and takes the last value. Anything that is not a JSON
// object reports false.
func ParseArguments(raw string) ([]types.ToolParameter, bool) {
	if raw == "" {
		raw = emptyArguments
	}
	if !gjson.Valid(raw) {
		return nil, false
	}
	obj := gjson.Parse(raw)
	if !obj.IsObject() {
		return nil, false
	}

	params := make([]types.ToolParameter, 0)
	seen := make(map[string]int)
	obj.ForEach(func(key, value gjson.Result) bool {
		name := key.String()
		if i, dup := seen[name]; dup {
			params[i].ParameterValue = value.Value()
			return true
		}
		seen[name] = len(params)
		params = append(params, types.ToolParameter{
			ParameterName:  name,
			ParameterValue: value.Value(),
		})
		return true
	})
	return params, true
}
