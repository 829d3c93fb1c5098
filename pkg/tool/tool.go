// Package tool builds tool definitions for providers and validates the
// tool call requests the agent extracts from model output.
package tool

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"

	"streamloop/pkg/types"
)

var reflector = &jsonschema.Reflector{
	ExpandedStruct: true,
	DoNotReference: true,
}

// Define reflects params (a struct value or pointer) into a function tool
// definition. Field names follow the `json` tags; `jsonschema` tags add
// descriptions, enums and required markers. A nil params yields an empty
// object schema.
func Define(name, description string, params any) types.ToolDefinition {
	return types.ToolDefinition{
		Type: "function",
		Function: types.FunctionDefinition{
			Name:        name,
			Description: description,
			Parameters:  Schema(params),
		},
	}
}

// Schema returns the JSON Schema for params without the "$schema" keyword,
// which several providers reject.
func Schema(params any) json.RawMessage {
	if params == nil {
		return json.RawMessage(`{"type":"object","properties":{}}`)
	}
	s := reflector.Reflect(params)
	s.Version = ""
	s.ID = ""
	raw, err := json.Marshal(s)
	if err != nil {
		// Reflected schemas only contain marshalable values.
		panic(fmt.Sprintf("tool: marshal schema: %v", err))
	}
	return raw
}

// Format renders the definitions as a bullet list for prompts.
func Format(defs []types.ToolDefinition) string {
	if len(defs) == 0 {
		return "no tools available"
	}
	parts := make([]string, 0, len(defs))
	for _, d := range defs {
		parts = append(parts, fmt.Sprintf("- %s: %s", d.Function.Name, d.Function.Description))
	}
	return strings.Join(parts, "\n")
}
