// Package integrationtest wires every layer together the way a real host
// application does: per-request ExecutionContext, ToolDispatcher, EventBus,
// EventEmitter, and a transport, with nothing mocked below the transport.
package integrationtest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetherframe/tether"
	"github.com/tetherframe/tether/internal/tt"
	"github.com/tetherframe/tether/tools"
	"github.com/tetherframe/tether/transport"
)

// session bundles the per-request wiring a host application would build for
// one user request.
type session struct {
	execCtx    *tether.ExecutionContext
	dispatcher *tether.ToolDispatcher
	bus        *tether.EventBus
	wire       *transport.Memory
}

func newSession(t *testing.T, userID, threadID, runID string, registry tether.ToolRegistry) *session {
	t.Helper()

	execCtx, err := tether.NewExecutionContext(userID, threadID, runID)
	require.NoError(t, err)
	execCtx = execCtx.WithChannel("channel-" + userID)

	wire := transport.NewMemory()
	emitter, err := tether.NewEventEmitter(execCtx, wire)
	require.NoError(t, err)

	bus := tether.NewEventBus(tether.DefaultConfig().Bus)
	require.NoError(t, bus.Start(context.Background()))
	bus.RegisterSink(emitter)

	dispatcher, err := tether.NewToolDispatcher(execCtx, registry,
		tether.WithPermissionGate(tether.AllowAllGate{}),
		tether.WithOwnedEventBus(bus),
		tether.WithAgentName("assistant"),
	)
	require.NoError(t, err)

	t.Cleanup(dispatcher.Cleanup)
	return &session{execCtx: execCtx, dispatcher: dispatcher, bus: bus, wire: wire}
}

func echoRegistry(t *testing.T) *tether.Registry {
	t.Helper()
	registry := tether.NewRegistry()
	require.NoError(t, registry.Register(tether.NewToolFunc("echo",
		func(_ context.Context, params map[string]any) (any, error) {
			return params["message"], nil
		})))
	return registry
}

func TestDispatchReachesWire(t *testing.T) {
	s := newSession(t, "user-1", "thread-1", "run-1", echoRegistry(t))

	result, err := s.dispatcher.Dispatch(context.Background(), "echo",
		map[string]any{"message": "hello"})
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, "hello", result.Result)

	// Sink delivery happens inside Publish, so the wire already has both
	// lifecycle frames.
	sent := s.wire.SentTo("channel-user-1")
	require.Len(t, sent, 2)
	tt.AssertWirePayload(t, sent[0].Payload, tether.EventToolExecuting, "run-1")
	tt.AssertWirePayload(t, sent[1].Payload, tether.EventToolCompleted, "run-1")

	completed := sent[1].Payload["payload"].(map[string]any)
	assert.Equal(t, "echo", completed["tool_name"])
	assert.Equal(t, "assistant", sent[1].Payload["agent_name"])
}

func TestConcurrentRequestsStayIsolated(t *testing.T) {
	const requests = 20

	type outcome struct {
		result *tether.DispatchResult
		err    error
		wire   []transport.SentPayload
	}
	outcomes := make([]outcome, requests)

	var wg sync.WaitGroup
	sessions := make([]*session, requests)
	for i := 0; i < requests; i++ {
		userID := fmt.Sprintf("user-%d", i)
		runID := fmt.Sprintf("run-%d", i)
		sessions[i] = newSession(t, userID, "thread-1", runID, echoRegistry(t))
	}

	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s := sessions[i]
			result, err := s.dispatcher.Dispatch(context.Background(), "echo",
				map[string]any{"message": fmt.Sprintf("payload-%d", i)})
			outcomes[i] = outcome{result: result, err: err, wire: s.wire.Sent()}
		}(i)
	}
	wg.Wait()

	for i := 0; i < requests; i++ {
		o := outcomes[i]
		require.NoError(t, o.err)
		require.True(t, o.result.Success, "request %d failed: %s", i, o.result.Error)
		assert.Equal(t, fmt.Sprintf("payload-%d", i), o.result.Result)
		assert.Equal(t, fmt.Sprintf("run-%d", i), o.result.Metadata["run_id"])

		// Every frame this request's transport saw must belong to its
		// own run, its own channel.
		require.Len(t, o.wire, 2, "request %d wire frames", i)
		for _, frame := range o.wire {
			assert.Equal(t, fmt.Sprintf("run-%d", i), frame.Payload["run_id"])
			assert.Equal(t, fmt.Sprintf("channel-user-%d", i), frame.ChannelID)
		}
	}
}

func TestPermissionDenialEndToEnd(t *testing.T) {
	execCtx, err := tether.NewExecutionContext("user-1", "thread-1", "run-1")
	require.NoError(t, err)

	gate := tt.NewMockGate().WithDeny("plan tier does not include this tool")
	dispatcher, err := tether.NewToolDispatcher(execCtx, echoRegistry(t),
		tether.WithPermissionGate(gate),
		tether.WithAuthorization(tether.AuthorizationAttributes{PlanTier: "free"}),
	)
	require.NoError(t, err)
	defer dispatcher.Cleanup()

	result, err := dispatcher.Dispatch(context.Background(), "echo",
		map[string]any{"message": "hello"})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "Permission denied: plan tier does not include this tool", result.Error)

	// The gate saw the caller's real identity and attributes.
	queries := gate.Queries()
	require.Len(t, queries, 1)
	assert.Equal(t, "user-1", queries[0].UserID)
	assert.Equal(t, "free", queries[0].Attributes.PlanTier)
	assert.Len(t, gate.EndedInvocations(), 1, "denied dispatch must still release its slot")
}

func TestSchemaValidationFailureIsFailedResult(t *testing.T) {
	registry := tools.NewValidatingRegistry()
	require.NoError(t, registry.RegisterWithSchema(
		tether.NewToolFunc("search", func(_ context.Context, params map[string]any) (any, error) {
			return "results for " + params["query"].(string), nil
		}),
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string"},
			},
			"required": []any{"query"},
		},
	))

	s := newSession(t, "user-1", "thread-1", "run-1", registry)

	result, err := s.dispatcher.Dispatch(context.Background(), "search",
		map[string]any{"query": 42})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "Tool execution failed:")
	assert.Contains(t, result.Error, "parameter validation failed")

	result, err = s.dispatcher.Dispatch(context.Background(), "search",
		map[string]any{"query": "weather"})
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, "results for weather", result.Result)
}

func TestEventHistorySurvivesForAudit(t *testing.T) {
	cfg := tether.DefaultConfig().Bus
	cfg.HistoryEnabled = true

	execCtx, err := tether.NewExecutionContext("user-1", "thread-1", "run-1")
	require.NoError(t, err)

	bus := tether.NewEventBus(cfg)
	require.NoError(t, bus.Start(context.Background()))

	dispatcher, err := tether.NewToolDispatcher(execCtx, echoRegistry(t),
		tether.WithPermissionGate(tether.AllowAllGate{}),
		tether.WithOwnedEventBus(bus),
	)
	require.NoError(t, err)
	defer dispatcher.Cleanup()

	for i := 0; i < 3; i++ {
		_, err := dispatcher.Dispatch(context.Background(), "echo",
			map[string]any{"message": fmt.Sprintf("m%d", i)})
		require.NoError(t, err)
	}

	history := bus.HistoryForRun("run-1")
	require.Len(t, history, 6)
	counts := tt.CountEventTypes(history)
	assert.Equal(t, 3, counts[tether.EventToolExecuting])
	assert.Equal(t, 3, counts[tether.EventToolCompleted])
}
