package provider

import (
	"sort"
	"strings"

	"streamloop/pkg/types"
)

// Snapshot accumulates streamed deltas into a growing assistant event.
// Every Event call returns the full message so far under the same id, so a
// consumer keyed by message id sees the latest state replace older ones.
type Snapshot struct {
	id        string
	parentID  string
	text      strings.Builder
	reasoning strings.Builder
	calls     map[int]*types.ToolCall
}

// NewSnapshot starts an empty assistant snapshot with the given id.
func NewSnapshot(id, parentID string) *Snapshot {
	return &Snapshot{id: id, parentID: parentID, calls: make(map[int]*types.ToolCall)}
}

// ID returns the message id of the snapshot.
func (s *Snapshot) ID() string { return s.id }

// AppendText adds a text delta. It reports whether anything changed.
func (s *Snapshot) AppendText(delta string) bool {
	if delta == "" {
		return false
	}
	s.text.WriteString(delta)
	return true
}

// AppendReasoning adds a reasoning delta.
func (s *Snapshot) AppendReasoning(delta string) bool {
	if delta == "" {
		return false
	}
	s.reasoning.WriteString(delta)
	return true
}

// AppendToolCall merges a fragment of the tool call at index. The id and
// name are taken from the first fragment that carries them; argument
// fragments are concatenated. The call stays marked Streaming until
// CloseToolCall or CloseToolCalls.
func (s *Snapshot) AppendToolCall(index int, id, name, argsDelta string) bool {
	tc, ok := s.calls[index]
	if !ok {
		tc = &types.ToolCall{Type: "function", Streaming: true}
		s.calls[index] = tc
	}
	changed := !ok
	if tc.ID == "" && id != "" {
		tc.ID = id
		changed = true
	}
	if tc.Function.Name == "" && name != "" {
		tc.Function.Name = name
		changed = true
	}
	if argsDelta != "" {
		tc.Function.Arguments += argsDelta
		changed = true
	}
	return changed
}

// SetToolCall replaces the tool call at index with a complete call.
func (s *Snapshot) SetToolCall(index int, call types.ToolCall) {
	if call.Type == "" {
		call.Type = "function"
	}
	call.Streaming = false
	c := call
	s.calls[index] = &c
}

// CloseToolCall marks the call at index complete. It reports whether the
// call was still streaming.
func (s *Snapshot) CloseToolCall(index int) bool {
	tc, ok := s.calls[index]
	if !ok || !tc.Streaming {
		return false
	}
	tc.Streaming = false
	return true
}

// CloseToolCalls marks every call complete and reports whether any was
// still streaming.
func (s *Snapshot) CloseToolCalls() bool {
	changed := false
	for i := range s.calls {
		if s.CloseToolCall(i) {
			changed = true
		}
	}
	return changed
}

// Event returns a copy of the accumulated message.
func (s *Snapshot) Event() types.Event {
	ev := types.Event{
		ID:              s.id,
		Role:            string(types.RoleAssistant),
		ParentMessageID: s.parentID,
		Reasoning:       s.reasoning.String(),
	}
	if s.text.Len() > 0 {
		ev.Content = types.Text(s.text.String())
	}
	if len(s.calls) > 0 {
		idx := make([]int, 0, len(s.calls))
		for i := range s.calls {
			idx = append(idx, i)
		}
		sort.Ints(idx)
		ev.ToolCalls = make([]types.ToolCall, 0, len(idx))
		for _, i := range idx {
			ev.ToolCalls = append(ev.ToolCalls, *s.calls[i])
		}
	}
	return ev
}
