package agent

import (
	"log/slog"

	"streamloop/pkg/toolcall"
	"streamloop/pkg/types"
)

// Decide maps one provider event onto a MessageDecision. The second result
// is false when the event's role has no internal equivalent; such events
// are skipped, not treated as errors.
func Decide(logger *slog.Logger, ev types.Event) (types.MessageDecision, bool) {
	role, ok := types.MapRole(ev.Role)
	if !ok {
		return types.MessageDecision{}, false
	}

	d := types.MessageDecision{
		ID:              ev.ID,
		Role:            role,
		ParentMessageID: ev.ParentMessageID,
		Message:         types.FlattenContent(ev.Content),
		Reasoning:       ev.Reasoning,
		ToolCallID:      toolcall.ExtractToolCallID(ev),
	}
	if role == types.RoleAssistant {
		d.ToolCallRequest = toolcall.ExtractToolCallRequest(logger, ev)
	}
	return d, true
}

// malformedToolCall reports whether an assistant decision lost the request
// of a completed tool call to unparsable arguments.
func malformedToolCall(ev types.Event, d types.MessageDecision) bool {
	return d.Role == types.RoleAssistant && len(ev.ToolCalls) > 0 &&
		!ev.ToolCalls[0].Streaming && d.ToolCallRequest == nil
}
