package gemini

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/google/generative-ai-go/genai"

	"streamloop/pkg/types"
)

func convertTools(tools []types.ToolDefinition) ([]*genai.Tool, error) {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		schema, err := toSchema(t.Function.Parameters)
		if err != nil {
			return nil, fmt.Errorf("gemini: invalid tool schema for %s: %w", t.Function.Name, err)
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			Parameters:  schema,
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}, nil
}

// toSchema converts a JSON Schema value (a map, a struct, or raw JSON) into
// the subset genai.Schema understands.
func toSchema(params any) (*genai.Schema, error) {
	if params == nil {
		return nil, nil
	}
	var raw []byte
	switch v := params.(type) {
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		raw = b
	}

	var node map[string]any
	if err := json.Unmarshal(raw, &node); err != nil {
		return nil, err
	}
	if len(node) == 0 {
		return nil, nil
	}
	return schemaFromMap(node), nil
}

func schemaFromMap(node map[string]any) *genai.Schema {
	s := &genai.Schema{}
	if t, ok := node["type"].(string); ok {
		s.Type = schemaType(t)
	}
	if d, ok := node["description"].(string); ok {
		s.Description = d
	}
	if f, ok := node["format"].(string); ok {
		s.Format = f
	}
	if n, ok := node["nullable"].(bool); ok {
		s.Nullable = n
	}
	if enum, ok := node["enum"].([]any); ok {
		for _, e := range enum {
			if str, ok := e.(string); ok {
				s.Enum = append(s.Enum, str)
			}
		}
	}
	if req, ok := node["required"].([]any); ok {
		for _, r := range req {
			if str, ok := r.(string); ok {
				s.Required = append(s.Required, str)
			}
		}
	}
	if props, ok := node["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, p := range props {
			if child, ok := p.(map[string]any); ok {
				s.Properties[name] = schemaFromMap(child)
			}
		}
		if s.Type == genai.TypeUnspecified {
			s.Type = genai.TypeObject
		}
	}
	if items, ok := node["items"].(map[string]any); ok {
		s.Items = schemaFromMap(items)
	}
	return s
}

func schemaType(t string) genai.Type {
	switch t {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeUnspecified
	}
}

func decodeBase64(s string) []byte {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return []byte(s)
	}
	return b
}
