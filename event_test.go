package tether

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvent_StampsIdentity(t *testing.T) {
	clock := NewMockClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	execCtx, err := NewExecutionContext("user-1", "thread-1", "run-1", WithClock(clock))
	require.NoError(t, err)

	e := NewToolExecutingEvent(execCtx, "support-agent", "search", map[string]any{"q": "x"})

	assert.Equal(t, EventToolExecuting, e.Type)
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, clock.Now(), e.Timestamp)
	assert.Equal(t, "run-1", e.RunID)
	assert.Equal(t, "user-1", e.UserID)
	assert.Equal(t, "thread-1", e.ThreadID)
	assert.Equal(t, execCtx.CorrelationID(), e.CorrelationID)
	assert.Equal(t, "support-agent", e.AgentName)
	assert.Equal(t, "search", e.ToolName)
	assert.Equal(t, DefaultEventMaxRetries, e.MaxRetries)
	assert.Equal(t, 0, e.RetryCount)

	other := NewToolExecutingEvent(execCtx, "support-agent", "search", nil)
	assert.NotEqual(t, e.ID, other.ID, "every event gets a fresh id")
}

func TestNewToolExecutingEvent_CopiesParams(t *testing.T) {
	execCtx, err := NewExecutionContext("user-1", "thread-1", "run-1")
	require.NoError(t, err)

	params := map[string]any{"q": "x"}
	e := NewToolExecutingEvent(execCtx, "agent", "search", params)

	params["q"] = "mutated"
	assert.Equal(t, "x", e.Parameters["q"])
}

func TestEventPriorities(t *testing.T) {
	execCtx, err := NewExecutionContext("user-1", "thread-1", "run-1")
	require.NoError(t, err)

	type expected struct {
		priority Priority
	}

	tests := []struct {
		name     string
		event    *ToolEvent
		expected expected
	}{
		{
			name:     "agent started is normal",
			event:    NewAgentStartedEvent(execCtx, "a", "t"),
			expected: expected{priority: PriorityNormal},
		},
		{
			name:     "thinking is low",
			event:    NewAgentThinkingEvent(execCtx, "a", "r", 1),
			expected: expected{priority: PriorityLow},
		},
		{
			name:     "successful completion is normal",
			event:    NewToolCompletedEvent(execCtx, "a", "t", "ok", "", 1),
			expected: expected{priority: PriorityNormal},
		},
		{
			name:     "failed completion is high",
			event:    NewToolCompletedEvent(execCtx, "a", "t", nil, "boom", 1),
			expected: expected{priority: PriorityHigh},
		},
		{
			name:     "tool progress is low",
			event:    NewToolProgressEvent(execCtx, "a", "t", 50),
			expected: expected{priority: PriorityLow},
		},
		{
			name:     "agent error is high",
			event:    NewAgentErrorEvent(execCtx, "a", "boom"),
			expected: expected{priority: PriorityHigh},
		},
		{
			name:     "progress update is low",
			event:    NewProgressUpdateEvent(execCtx, "a", 50, nil),
			expected: expected{priority: PriorityLow},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected.priority, tc.event.Priority)
		})
	}
}

func TestPriorityString(t *testing.T) {
	assert.Equal(t, "low", PriorityLow.String())
	assert.Equal(t, "normal", PriorityNormal.String())
	assert.Equal(t, "high", PriorityHigh.String())
	assert.Equal(t, "critical", PriorityCritical.String())
	assert.Equal(t, "unknown", Priority(99).String())
}

func TestNewStateDiffEvent(t *testing.T) {
	execCtx, err := NewExecutionContext("user-1", "thread-1", "run-1")
	require.NoError(t, err)

	before := "status: pending\nowner: nobody\n"
	after := "status: active\nowner: user-1\n"
	e := NewStateDiffEvent(execCtx, "agent", "order-state", before, after)

	assert.Equal(t, EventCustom, e.Type)
	assert.Equal(t, "state_diff", e.CustomType)
	assert.Equal(t, "order-state", e.CustomData["label"])

	diff := e.CustomData["diff"].(string)
	assert.Contains(t, diff, "-status: pending")
	assert.Contains(t, diff, "+status: active")
	assert.Contains(t, diff, "order-state (before)")
	assert.Contains(t, diff, "order-state (after)")
}
