package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Role identifies who authored a message in the internal vocabulary.
// Only the four constants below are valid roles.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// MapRole narrows an external role string onto the closed Role set.
// The second result is false for any role the internal vocabulary cannot
// represent (for example "developer" or "activity"); callers skip such events.
func MapRole(external string) (Role, bool) {
	switch Role(external) {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		return Role(external), true
	default:
		return "", false
	}
}

// Valid reports whether r is one of the closed role values.
func (r Role) Valid() bool {
	_, ok := MapRole(string(r))
	return ok
}

// FunctionCall is the function part of a tool call.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON string arguments
}

// ToolCall represents a request from the model to call a specific function.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type,omitempty"` // usually "function"
	Function FunctionCall `json:"function"`
	// Streaming is set while the provider is still sending the arguments.
	Streaming bool `json:"streaming,omitempty"`
}

// FunctionDefinition describes a callable function exposed to the model.
type FunctionDefinition struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters"` // JSON Schema
}

// ToolDefinition describes a tool available to the model.
// It matches the OpenAI tools schema and is passed to providers as-is.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function FunctionDefinition `json:"function"`
}

// PartType discriminates content parts.
type PartType string

const (
	PartText     PartType = "text"
	PartBinary   PartType = "binary"
	PartResource PartType = "resource"
)

// ResourceRef points at externally fetchable content served by ServerKey.
type ResourceRef struct {
	ServerKey string `json:"serverKey"`
	URI       string `json:"uri"`
}

func (r ResourceRef) String() string {
	return r.ServerKey + ":" + r.URI
}

// ContentPart is one typed element of a message body.
type ContentPart struct {
	Type     PartType     `json:"type"`
	Text     string       `json:"text,omitempty"`
	MIMEType string       `json:"mimeType,omitempty"`
	Data     string       `json:"data,omitempty"` // base64 for binary parts
	URL      string       `json:"url,omitempty"`
	Resource *ResourceRef `json:"resource,omitempty"`
}

// Content is an ordered list of parts. On the wire it may also be a plain
// string, which decodes into a single text part.
type Content []ContentPart

// Text returns content made of a single text part.
func Text(s string) Content {
	return Content{{Type: PartText, Text: s}}
}

// UnmarshalJSON accepts a string, an array of parts, or null.
func (c *Content) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*c = nil
		return nil
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = Text(s)
		return nil
	case data[0] == '[':
		var parts []ContentPart
		if err := json.Unmarshal(data, &parts); err != nil {
			return err
		}
		*c = parts
		return nil
	default:
		return fmt.Errorf("types: content must be a string or an array of parts")
	}
}

// Clone returns a deep copy of the content.
func (c Content) Clone() Content {
	if c == nil {
		return nil
	}
	out := make(Content, len(c))
	for i, p := range c {
		if p.Resource != nil {
			ref := *p.Resource
			p.Resource = &ref
		}
		out[i] = p
	}
	return out
}

// Event is one message of the external provider stream. Its Role is an
// open-ended string; only events whose role maps onto Role become decisions.
type Event struct {
	ID              string     `json:"id"`
	Role            string     `json:"role"`
	Content         Content    `json:"content,omitempty"`
	ToolCalls       []ToolCall `json:"toolCalls,omitempty"`  // assistant events only
	ToolCallID      string     `json:"toolCallId,omitempty"` // tool events only
	ParentMessageID string     `json:"parentMessageId,omitempty"`
	Reasoning       string     `json:"reasoning,omitempty"`
}

// Clone returns a deep copy of the event.
func (e Event) Clone() Event {
	e.Content = e.Content.Clone()
	if e.ToolCalls != nil {
		calls := make([]ToolCall, len(e.ToolCalls))
		copy(calls, e.ToolCalls)
		e.ToolCalls = calls
	}
	return e
}
