// Package tools provides tool registration helpers layered on top of the
// root tether package: JSON Schema parameter validation and an adapter for
// langchaingo tools.
//
// # Validated Registration
//
//	registry := tools.NewValidatingRegistry()
//	err := registry.RegisterWithSchema(searchTool, map[string]any{
//	    "type": "object",
//	    "properties": map[string]any{
//	        "query": map[string]any{"type": "string"},
//	    },
//	    "required": []string{"query"},
//	})
//
// Schemas are compiled once at registration; invalid schemas are rejected
// there instead of surfacing as failures at dispatch time. A tool registered
// with a schema rejects non-conforming parameters before its function runs.
//
// # langchaingo Adapter
//
//	lcTool := duckduckgo.New(...)              // any langchaingo tools.Tool
//	registry.Register(tools.FromLangChain(lcTool))
package tools
