package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/tetherframe/tether"
)

// Schema is a compiled JSON Schema used to validate tool parameters before
// invocation.
type Schema struct {
	raw      map[string]any
	compiled *jsonschema.Schema
}

// CompileSchema compiles a raw schema map. A nil map compiles to a nil
// Schema, which validates everything.
func CompileSchema(raw map[string]any) (*Schema, error) {
	if raw == nil {
		return nil, nil
	}

	// The compiler wants its own JSON value representation, so round-trip
	// the map through encoding/json.
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("tools: marshal schema: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("tools: parse schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		return nil, fmt.Errorf("tools: add schema resource: %w", err)
	}
	compiled, err := c.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("tools: compile schema: %w", err)
	}

	return &Schema{raw: raw, compiled: compiled}, nil
}

// MustCompileSchema is CompileSchema but panics on error. For schemas defined
// at init time.
func MustCompileSchema(raw map[string]any) *Schema {
	s, err := CompileSchema(raw)
	if err != nil {
		panic(err)
	}
	return s
}

// Raw returns the underlying map representation, e.g. for inclusion in an
// LLM tool manifest.
func (s *Schema) Raw() map[string]any {
	if s == nil {
		return nil
	}
	return s.raw
}

// Validate checks params against the schema.
func (s *Schema) Validate(params map[string]any) error {
	if s == nil || s.compiled == nil {
		return nil
	}
	// The validator rejects map[string]any values nested inside typed Go
	// maps unless the whole document goes through its JSON representation.
	encoded, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("tools: marshal parameters: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("tools: decode parameters: %w", err)
	}
	if err := s.compiled.Validate(doc); err != nil {
		return &ValidationError{Err: err}
	}
	return nil
}

// ValidationError wraps a JSON Schema validation failure.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("parameter validation failed: %v", e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// validatedTool wraps a Tool so its parameters are validated before the
// underlying function runs. A validation failure is an invocation error, so
// the dispatcher reports it as a failed result without executing the tool.
type validatedTool struct {
	tether.Tool
	schema *Schema
}

func (t *validatedTool) Invoke(ctx context.Context, params map[string]any) (any, error) {
	if err := t.schema.Validate(params); err != nil {
		return nil, err
	}
	return t.Tool.Invoke(ctx, params)
}

// WithSchema wraps tool so that params are validated against the compiled
// schema before every invocation.
func WithSchema(tool tether.Tool, schema *Schema) tether.Tool {
	if schema == nil {
		return tool
	}
	return &validatedTool{Tool: tool, schema: schema}
}

// ValidatingRegistry is a tether.Registry whose tools can carry parameter
// schemas. It satisfies tether.ToolRegistry and plugs directly into a
// dispatcher.
type ValidatingRegistry struct {
	*tether.Registry
}

// NewValidatingRegistry creates an empty ValidatingRegistry.
func NewValidatingRegistry() *ValidatingRegistry {
	return &ValidatingRegistry{Registry: tether.NewRegistry()}
}

// RegisterWithSchema compiles raw and registers tool wrapped with the
// resulting validator. The schema compiles at registration so a malformed
// schema is caught here, not at dispatch.
func (r *ValidatingRegistry) RegisterWithSchema(tool tether.Tool, raw map[string]any) error {
	schema, err := CompileSchema(raw)
	if err != nil {
		return err
	}
	return r.Register(WithSchema(tool, schema))
}

// Compile-time check that ValidatingRegistry implements tether.ToolRegistry.
var _ tether.ToolRegistry = (*ValidatingRegistry)(nil)
