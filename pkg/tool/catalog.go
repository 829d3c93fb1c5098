package tool

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"streamloop/pkg/types"
)

// ErrNoRequest is returned by Validate for a nil request.
var ErrNoRequest = errors.New("tool: no tool call request")

// NotFoundError indicates a requested tool is missing.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("tool not found: %s", e.Name)
}

// InvalidArgumentsError reports a request whose arguments do not satisfy
// the tool's parameter schema.
type InvalidArgumentsError struct {
	Tool string
	Err  error
}

func (e *InvalidArgumentsError) Error() string {
	return fmt.Sprintf("tool %s: invalid arguments: %v", e.Tool, e.Err)
}

func (e *InvalidArgumentsError) Unwrap() error { return e.Err }

type entry struct {
	def    types.ToolDefinition
	schema *jsonschema.Schema
}

// Catalog holds tool definitions together with their compiled parameter
// schemas. It is safe for concurrent use.
type Catalog struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// NewCatalog registers defs, failing on the first schema that does not
// compile.
func NewCatalog(defs ...types.ToolDefinition) (*Catalog, error) {
	c := &Catalog{entries: make(map[string]entry)}
	for _, d := range defs {
		if err := c.Register(d); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Register adds or replaces a definition.
func (c *Catalog) Register(def types.ToolDefinition) error {
	name := def.Function.Name
	if name == "" {
		return errors.New("tool: definition has no name")
	}
	schema, err := compile(name, def.Function.Parameters)
	if err != nil {
		return fmt.Errorf("tool %s: compile schema: %w", name, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[name] = entry{def: def, schema: schema}
	return nil
}

// Remove deletes a definition.
func (c *Catalog) Remove(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, name)
}

// Get returns the definition registered under name.
func (c *Catalog) Get(name string) (types.ToolDefinition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[name]
	return e.def, ok
}

// Find is Get with a case-insensitive fallback.
func (c *Catalog) Find(name string) (types.ToolDefinition, bool) {
	if d, ok := c.Get(name); ok {
		return d, true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for n, e := range c.entries {
		if strings.EqualFold(n, name) {
			return e.def, true
		}
	}
	return types.ToolDefinition{}, false
}

// Definitions lists the catalog sorted by name, ready to pass to a provider.
func (c *Catalog) Definitions() []types.ToolDefinition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]types.ToolDefinition, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Function.Name < out[j].Function.Name })
	return out
}

// Validate checks a parsed request against the parameter schema of the
// tool it names.
func (c *Catalog) Validate(req *types.ToolCallRequest) error {
	if req == nil {
		return ErrNoRequest
	}
	c.mu.RLock()
	e, ok := c.entries[req.ToolName]
	c.mu.RUnlock()
	if !ok {
		return &NotFoundError{Name: req.ToolName}
	}
	if e.schema == nil {
		return nil
	}
	if err := e.schema.Validate(arguments(req)); err != nil {
		return &InvalidArgumentsError{Tool: req.ToolName, Err: err}
	}
	return nil
}

// arguments rebuilds the argument object in the shape json.Unmarshal
// produces, which is what the validator expects.
func arguments(req *types.ToolCallRequest) map[string]any {
	args := make(map[string]any, len(req.Parameters))
	for _, p := range req.Parameters {
		args[p.ParameterName] = normalize(p.ParameterValue)
	}
	return args
}

func normalize(v any) any {
	switch x := v.(type) {
	case nil, string, bool, float64, map[string]any, []any:
		return x
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}

func compile(name string, params any) (*jsonschema.Schema, error) {
	if params == nil {
		return nil, nil
	}
	var raw []byte
	switch v := params.(type) {
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	if len(raw) == 0 {
		return nil, nil
	}
	return jsonschema.CompileString(name+".schema.json", string(raw))
}
