package tether

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	registry := NewRegistry()

	echo := NewToolFunc("echo", func(_ context.Context, params map[string]any) (any, error) {
		return params["message"], nil
	})
	require.NoError(t, registry.Register(echo))
	require.NoError(t, registry.Register(NewToolFunc("search",
		func(context.Context, map[string]any) (any, error) { return nil, nil })))

	tool, ok := registry.Lookup("echo")
	require.True(t, ok)
	assert.Equal(t, "echo", tool.Name())

	_, ok = registry.Lookup("missing")
	assert.False(t, ok)

	assert.Equal(t, []string{"echo", "search"}, registry.Names())
}

func TestRegistry_RegisterErrors(t *testing.T) {
	registry := NewRegistry()

	assert.Error(t, registry.Register(nil))
	assert.Error(t, registry.Register(NewToolFunc("",
		func(context.Context, map[string]any) (any, error) { return nil, nil })))

	require.NoError(t, registry.Register(NewToolFunc("echo",
		func(context.Context, map[string]any) (any, error) { return nil, nil })))
	assert.Error(t, registry.Register(NewToolFunc("echo",
		func(context.Context, map[string]any) (any, error) { return nil, nil })),
		"duplicate names are rejected")
}

func TestToolFunc(t *testing.T) {
	tool := NewToolFunc("double", func(_ context.Context, params map[string]any) (any, error) {
		n := params["n"].(int)
		return n * 2, nil
	})

	assert.Equal(t, "double", tool.Name())
	result, err := tool.Invoke(context.Background(), map[string]any{"n": 21})
	require.NoError(t, err)
	assert.Equal(t, 42, result)
}
