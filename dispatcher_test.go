package tether

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubGate records every Check and EndExecution; deny marks all checks denied.
type stubGate struct {
	deny     bool
	reason   string
	queries  []PermissionQuery
	ended    []string
	released []string
}

func (g *stubGate) Check(query PermissionQuery) Decision {
	g.queries = append(g.queries, query)
	if g.deny {
		return Decision{Allowed: false, Reason: g.reason}
	}
	return Decision{Allowed: true}
}

func (g *stubGate) EndExecution(_ string, invocationID string) {
	g.ended = append(g.ended, invocationID)
}

func (g *stubGate) ReleaseUser(userID string) {
	g.released = append(g.released, userID)
}

func newTestDispatcher(t *testing.T, registry ToolRegistry, opts ...DispatcherOption) (*ToolDispatcher, *ExecutionContext) {
	t.Helper()
	execCtx, err := NewExecutionContext("user-1", "thread-1", "run-1")
	require.NoError(t, err)

	d, err := NewToolDispatcher(execCtx, registry, opts...)
	require.NoError(t, err)
	t.Cleanup(d.Cleanup)
	return d, execCtx
}

func TestNewToolDispatcher_Validation(t *testing.T) {
	execCtx, err := NewExecutionContext("user-1", "thread-1", "run-1")
	require.NoError(t, err)

	_, err = NewToolDispatcher(nil, NewRegistry())
	assert.True(t, errors.Is(err, ErrInvalidContext))

	_, err = NewToolDispatcher(execCtx, nil)
	assert.Error(t, err)
}

func TestNewUnscopedToolDispatcher_Gated(t *testing.T) {
	registry := NewRegistry()

	_, err := NewUnscopedToolDispatcher(registry, DefaultConfig())
	assert.True(t, errors.Is(err, ErrUnscopedDisabled))

	cfg := DefaultConfig()
	cfg.AllowUnscoped = true
	d, err := NewUnscopedToolDispatcher(registry, cfg)
	require.NoError(t, err)
	assert.Nil(t, d.Context())
	defer d.Cleanup()

	require.NoError(t, registry.Register(NewToolFunc("echo",
		func(_ context.Context, params map[string]any) (any, error) {
			return params["message"], nil
		})))

	result, err := d.Dispatch(context.Background(), "echo", map[string]any{"message": "hi"})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "hi", result.Result)
}

func TestDispatch_ToolNotFound(t *testing.T) {
	registry := NewRegistry()
	bus := startedBus(t, quietBusConfig())
	sink := &recordingSink{}
	defer bus.RegisterSink(sink)()

	invoked := false
	require.NoError(t, registry.Register(NewToolFunc("other",
		func(context.Context, map[string]any) (any, error) {
			invoked = true
			return nil, nil
		})))

	d, _ := newTestDispatcher(t, registry, WithEventBus(bus))

	result, err := d.Dispatch(context.Background(), "missing", nil)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "Tool not found: missing", result.Error)
	assert.Equal(t, "tool_not_found", result.Metadata["error_type"])
	assert.False(t, invoked, "no registered tool may run")
	assert.Empty(t, sink.events, "unknown tools produce no lifecycle events")

	m := d.Metrics()
	assert.Equal(t, int64(0), m.Executed)
}

func TestDispatch_PermissionDenied(t *testing.T) {
	registry := NewRegistry()
	invoked := false
	require.NoError(t, registry.Register(NewToolFunc("search",
		func(context.Context, map[string]any) (any, error) {
			invoked = true
			return "found", nil
		})))

	gate := &stubGate{deny: true, reason: "plan does not include search"}
	d, _ := newTestDispatcher(t, registry, WithPermissionGate(gate))

	result, err := d.Dispatch(context.Background(), "search", nil)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "Permission denied: plan does not include search", result.Error)
	assert.Equal(t, "permission_denied", result.Metadata["error_type"])
	assert.False(t, invoked, "denied tools must never execute")

	// The concurrency slot issued by Check is released even on denial.
	require.Len(t, gate.queries, 1)
	assert.Len(t, gate.ended, 1)
	assert.Equal(t, int64(0), d.Metrics().Executed)
}

func TestDispatch_PermissionQueryFields(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(NewToolFunc("search",
		func(context.Context, map[string]any) (any, error) { return "ok", nil })))

	gate := &stubGate{}
	auth := AuthorizationAttributes{PlanTier: "pro", Roles: []string{"analyst"}}
	d, execCtx := newTestDispatcher(t, registry,
		WithPermissionGate(gate),
		WithAuthorization(auth))

	_, err := d.Dispatch(context.Background(), "search", map[string]any{"q": "x"})
	require.NoError(t, err)

	require.Len(t, gate.queries, 1)
	q := gate.queries[0]
	assert.Equal(t, execCtx.UserID(), q.UserID)
	assert.Equal(t, execCtx.ThreadID(), q.ThreadID)
	assert.Equal(t, execCtx.RunID(), q.RunID)
	assert.Equal(t, execCtx.RequestID(), q.RequestID)
	assert.Equal(t, "search", q.ToolName)
	assert.NotEmpty(t, q.InvocationID)
	assert.Equal(t, "pro", q.Attributes.PlanTier)
	assert.Equal(t, []string{"analyst"}, q.Attributes.Roles)
}

func TestDispatch_Success(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(NewToolFunc("echo",
		func(_ context.Context, params map[string]any) (any, error) {
			return params["message"], nil
		})))

	bus := startedBus(t, quietBusConfig())
	sink := &recordingSink{}
	defer bus.RegisterSink(sink)()

	d, execCtx := newTestDispatcher(t, registry,
		WithEventBus(bus),
		WithAgentName("support-agent"))

	result, err := d.Dispatch(context.Background(), "echo", map[string]any{"message": "hello"})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, "hello", result.Result)
	assert.Empty(t, result.Error)
	assert.Equal(t, "echo", result.Metadata["tool_name"])
	assert.Equal(t, "run-1", result.Metadata["run_id"])
	assert.Equal(t, execCtx.RequestID(), result.Metadata["request_id"])

	// tool_executing then tool_completed, both stamped with our identity.
	require.Len(t, sink.events, 2)
	assert.Equal(t, EventToolExecuting, sink.events[0].Type)
	assert.Equal(t, EventToolCompleted, sink.events[1].Type)
	assert.Equal(t, "support-agent", sink.events[0].AgentName)
	assert.Equal(t, "run-1", sink.events[1].RunID)
	assert.Empty(t, sink.events[1].Error)

	m := d.Metrics()
	assert.Equal(t, int64(1), m.Executed)
	assert.Equal(t, int64(1), m.Succeeded)
	assert.Equal(t, int64(0), m.Failed)
}

func TestDispatch_ToolFailure(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(NewToolFunc("flaky",
		func(context.Context, map[string]any) (any, error) {
			return nil, errors.New("upstream timeout")
		})))

	bus := startedBus(t, quietBusConfig())
	sink := &recordingSink{}
	defer bus.RegisterSink(sink)()

	d, _ := newTestDispatcher(t, registry, WithEventBus(bus))

	result, err := d.Dispatch(context.Background(), "flaky", nil)
	require.NoError(t, err, "tool failures come back as results, not errors")

	assert.False(t, result.Success)
	assert.Equal(t, "Tool execution failed: upstream timeout", result.Error)
	assert.Nil(t, result.Result)
	assert.Equal(t, "execution_failure", result.Metadata["error_type"])

	require.Len(t, sink.events, 2)
	completed := sink.events[1]
	assert.Equal(t, EventToolCompleted, completed.Type)
	assert.Equal(t, "upstream timeout", completed.Error)
	assert.Nil(t, completed.Result)
	assert.Equal(t, PriorityHigh, completed.Priority)

	m := d.Metrics()
	assert.Equal(t, int64(1), m.Executed)
	assert.Equal(t, int64(1), m.Failed)
}

func TestDispatch_PanicContained(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(NewToolFunc("crash",
		func(context.Context, map[string]any) (any, error) {
			panic("index out of range")
		})))

	gate := &stubGate{}
	d, _ := newTestDispatcher(t, registry, WithPermissionGate(gate))

	var result *DispatchResult
	var err error
	assert.NotPanics(t, func() {
		result, err = d.Dispatch(context.Background(), "crash", nil)
	})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "Tool execution failed: tool panic: index out of range", result.Error)

	// The slot is released even when the tool panics.
	assert.Len(t, gate.ended, 1)
}

func TestDispatchWithState(t *testing.T) {
	registry := NewRegistry()
	var seen map[string]any
	require.NoError(t, registry.Register(NewToolFunc("stateful",
		func(_ context.Context, params map[string]any) (any, error) {
			seen = params
			return "ok", nil
		})))

	d, _ := newTestDispatcher(t, registry)
	state := map[string]any{"cursor": "page-3"}

	// A mismatched run id is a fatal error: nothing executes.
	_, err := d.DispatchWithState(context.Background(), "stateful",
		nil, state, "run-other")
	assert.True(t, errors.Is(err, ErrRunMismatch))
	assert.Nil(t, seen)

	result, err := d.DispatchWithState(context.Background(), "stateful",
		map[string]any{"q": "x"}, state, "run-1")
	require.NoError(t, err)
	assert.True(t, result.Success)
	require.NotNil(t, seen)
	assert.Equal(t, "x", seen["q"])
	assert.Equal(t, state, seen["_state"])
}

func TestDispatcher_Cleanup(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(NewToolFunc("echo",
		func(context.Context, map[string]any) (any, error) { return "ok", nil })))

	bus := NewEventBus(quietBusConfig())
	require.NoError(t, bus.Start(context.Background()))
	gate := &stubGate{}

	execCtx, err := NewExecutionContext("user-1", "thread-1", "run-1")
	require.NoError(t, err)
	d, err := NewToolDispatcher(execCtx, registry,
		WithOwnedEventBus(bus),
		WithPermissionGate(gate))
	require.NoError(t, err)

	_, err = d.Dispatch(context.Background(), "echo", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), d.Metrics().Executed)

	d.Cleanup()
	d.Cleanup() // idempotent

	_, err = d.Dispatch(context.Background(), "echo", nil)
	assert.True(t, errors.Is(err, ErrDisposed))

	// Owned bus was stopped, per-user audit state released, counters reset.
	before := bus.Published()
	bus.Publish(NewAgentStartedEvent(execCtx, "agent", "task"))
	assert.Equal(t, before, bus.Published())
	assert.Equal(t, []string{"user-1"}, gate.released)
	assert.Equal(t, DispatcherMetrics{}, d.Metrics())
}

func TestDispatch_ConcurrentDispatchersAreIsolated(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(NewToolFunc("whoami",
		func(_ context.Context, params map[string]any) (any, error) {
			return params["_caller"], nil
		})))

	const users = 20
	results := make([]*DispatchResult, users)
	done := make(chan int, users)

	for i := 0; i < users; i++ {
		go func(i int) {
			defer func() { done <- i }()

			execCtx, err := NewExecutionContext(
				fmt.Sprintf("user-%d", i), "thread-1", fmt.Sprintf("run-%d", i))
			if !assert.NoError(t, err) {
				return
			}
			d, err := NewToolDispatcher(execCtx, registry)
			if !assert.NoError(t, err) {
				return
			}
			defer d.Cleanup()

			results[i], err = d.Dispatch(context.Background(), "whoami",
				map[string]any{"_caller": fmt.Sprintf("user-%d", i)})
			assert.NoError(t, err)
		}(i)
	}
	for i := 0; i < users; i++ {
		<-done
	}

	// Each dispatcher saw only its own identity; nothing crossed over.
	for i, result := range results {
		require.NotNil(t, result, "dispatch %d missing", i)
		assert.True(t, result.Success)
		assert.Equal(t, fmt.Sprintf("user-%d", i), result.Result)
		assert.Equal(t, fmt.Sprintf("run-%d", i), result.Metadata["run_id"])
	}
}
