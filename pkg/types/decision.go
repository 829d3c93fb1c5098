package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const defaultPlaceholderMIME = "application/octet-stream"

// ToolParameter is one named argument of a tool call.
type ToolParameter struct {
	ParameterName  string `json:"parameterName"`
	ParameterValue any    `json:"parameterValue"`
}

// ToolCallRequest is the parsed form of a tool call: its name and its
// arguments in the order they appeared in the serialized object.
type ToolCallRequest struct {
	ToolName   string          `json:"toolName"`
	Parameters []ToolParameter `json:"parameters"`
}

// Arguments re-serializes the parameters as a JSON object, keeping
// parameter order as key order.
func (r *ToolCallRequest) Arguments() (string, error) {
	if r == nil || len(r.Parameters) == 0 {
		return "{}", nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, p := range r.Parameters {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(p.ParameterName)
		if err != nil {
			return "", err
		}
		val, err := json.Marshal(p.ParameterValue)
		if err != nil {
			return "", fmt.Errorf("types: marshal parameter %q: %w", p.ParameterName, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.String(), nil
}

// MessageDecision is the validated, closed-vocabulary form of one event,
// ready for persistence or rendering. The component fields are always null
// and the status messages always empty for decisions produced by the loop.
type MessageDecision struct {
	ID                      string           `json:"id"`
	Role                    Role             `json:"role"`
	ParentMessageID         string           `json:"parentMessageId,omitempty"`
	Message                 string           `json:"message"`
	ComponentName           *string          `json:"componentName"`
	Props                   map[string]any   `json:"props"`
	ComponentState          map[string]any   `json:"componentState"`
	StatusMessage           string           `json:"statusMessage"`
	CompletionStatusMessage string           `json:"completionStatusMessage"`
	ToolCallRequest         *ToolCallRequest `json:"toolCallRequest,omitempty"`
	ToolCallID              string           `json:"toolCallId,omitempty"`
	Reasoning               string           `json:"reasoning,omitempty"`
}

var (
	ErrMissingID          = errors.New("types: decision has no id")
	ErrInvalidRole        = errors.New("types: decision role outside the closed set")
	ErrMisplacedToolCall  = errors.New("types: tool call request on a non-assistant decision")
	ErrMisplacedToolReply = errors.New("types: tool call id on a decision that is neither assistant nor tool")
)

// Validate checks the decision invariants.
func (d MessageDecision) Validate() error {
	if d.ID == "" {
		return ErrMissingID
	}
	if !d.Role.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, d.Role)
	}
	if d.ToolCallRequest != nil && d.Role != RoleAssistant {
		return ErrMisplacedToolCall
	}
	if d.ToolCallID != "" && d.Role != RoleAssistant && d.Role != RoleTool {
		return ErrMisplacedToolReply
	}
	return nil
}

// ToEvent converts a decision back into an Event so stored history can be
// replayed into the next turn.
func (d MessageDecision) ToEvent() (Event, error) {
	ev := Event{
		ID:              d.ID,
		Role:            string(d.Role),
		ParentMessageID: d.ParentMessageID,
		Reasoning:       d.Reasoning,
	}
	if d.Message != "" {
		ev.Content = Text(d.Message)
	}
	switch d.Role {
	case RoleAssistant:
		if d.ToolCallRequest != nil {
			args, err := d.ToolCallRequest.Arguments()
			if err != nil {
				return Event{}, err
			}
			ev.ToolCalls = []ToolCall{{
				ID:   d.ToolCallID,
				Type: "function",
				Function: FunctionCall{
					Name:      d.ToolCallRequest.ToolName,
					Arguments: args,
				},
			}}
		}
	case RoleTool:
		ev.ToolCallID = d.ToolCallID
	}
	return ev, nil
}

// FlattenContent renders content as a single string. Text parts are joined
// with newlines; every other part becomes a placeholder tag naming its type
// and MIME type so consumers can tell non-text content was present.
func FlattenContent(c Content) string {
	if len(c) == 0 {
		return ""
	}
	pieces := make([]string, 0, len(c))
	for _, p := range c {
		if p.Type == PartText {
			pieces = append(pieces, p.Text)
			continue
		}
		pieces = append(pieces, Placeholder(p))
	}
	return strings.Join(pieces, "\n")
}

// Placeholder returns the opaque tag used for a non-text part.
func Placeholder(p ContentPart) string {
	mime := p.MIMEType
	if mime == "" {
		mime = defaultPlaceholderMIME
	}
	kind := p.Type
	if kind == "" {
		kind = PartBinary
	}
	return fmt.Sprintf("[content type=%q mimeType=%q]", kind, mime)
}
