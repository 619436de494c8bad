package tether

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Tool is an external, named, invocable capability consumed by dispatch. No
// framework-specific base type is assumed: anything with a name and an invoke
// operation qualifies. Tool implementations run inside the dispatcher's
// failure boundary, so a returned error (or panic) becomes a failed dispatch
// result, never a crash.
type Tool interface {
	// Name returns the tool's identifier used in dispatch calls.
	Name() string

	// Invoke executes the tool with the given parameters.
	Invoke(ctx context.Context, params map[string]any) (any, error)
}

// ToolFunc adapts a plain function into a Tool.
type ToolFunc struct {
	name string
	fn   func(ctx context.Context, params map[string]any) (any, error)
}

// NewToolFunc creates a Tool from a function.
func NewToolFunc(name string, fn func(ctx context.Context, params map[string]any) (any, error)) *ToolFunc {
	return &ToolFunc{name: name, fn: fn}
}

// Name returns the tool's identifier.
func (t *ToolFunc) Name() string {
	return t.name
}

// Invoke executes the wrapped function.
func (t *ToolFunc) Invoke(ctx context.Context, params map[string]any) (any, error) {
	return t.fn(ctx, params)
}

// ToolRegistry resolves tool names to capabilities. The dispatcher only needs
// lookup; registration is an implementation concern.
type ToolRegistry interface {
	// Lookup returns the tool registered under name, or false.
	Lookup(name string) (Tool, bool)
}

// Registry is the standard in-memory ToolRegistry. Safe for concurrent use;
// in request-scoped mode each request owns its own instance.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool. Returns an error when the tool is nil, unnamed, or
// its name is already taken.
func (r *Registry) Register(tool Tool) error {
	if tool == nil {
		return fmt.Errorf("tether: cannot register nil tool")
	}
	name := tool.Name()
	if name == "" {
		return fmt.Errorf("tether: cannot register tool with empty name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tether: tool %q already registered", name)
	}
	r.tools[name] = tool
	return nil
}

// Lookup implements ToolRegistry.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Compile-time check that Registry implements ToolRegistry.
var _ ToolRegistry = (*Registry)(nil)
