package tether

import (
	"time"

	"github.com/google/uuid"
	"github.com/pmezard/go-difflib/difflib"
)

// -----------------------------------------------------------------------------
// Event Types & Priorities
// -----------------------------------------------------------------------------

// EventType identifies a lifecycle event. The values double as the wire-level
// "type" field of the payload contract.
type EventType string

const (
	EventAgentStarted   EventType = "agent_started"
	EventAgentThinking  EventType = "agent_thinking"
	EventToolExecuting  EventType = "tool_executing"
	EventToolCompleted  EventType = "tool_completed"
	EventToolProgress   EventType = "tool_progress"
	EventAgentCompleted EventType = "agent_completed"
	EventAgentError     EventType = "agent_error"
	EventProgressUpdate EventType = "progress_update"
	EventCustom         EventType = "custom"
)

// Priority orders events for subscription threshold filtering.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// String returns the lowercase name of the priority.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// DefaultEventMaxRetries is the redelivery bound for partially delivered
// events.
const DefaultEventMaxRetries = 3

// -----------------------------------------------------------------------------
// ToolEvent
// -----------------------------------------------------------------------------

// ToolEvent is a lifecycle notification flowing from producers (dispatcher,
// agent logic) through the EventBus to subscriptions and sinks.
//
// An event's RunID must equal the RunID of the context that produced it; the
// context-anchored constructors below guarantee this, and the EventEmitter
// enforces it again at the wire boundary.
type ToolEvent struct {
	Type      EventType
	ID        string
	Timestamp time.Time
	Priority  Priority

	// Routing identity, stamped from the producing context.
	RunID         string
	UserID        string
	ThreadID      string
	CorrelationID string

	// AgentName is the logical producer shown to the end user.
	AgentName string

	// Type-specific payload fields. Only the fields relevant to the event's
	// Type are set; the rest stay zero.
	ToolName        string
	Parameters      map[string]any
	Result          any
	Error           string
	ExecutionTimeMS float64
	Progress        float64
	Reasoning       string
	StepNumber      int
	CustomType      string
	CustomData      map[string]any

	// Redelivery bookkeeping, owned by the EventBus.
	RetryCount int
	MaxRetries int
}

// newEvent creates an event anchored to the producing context, stamping the
// routing identity fields and a unique event id.
func newEvent(c *ExecutionContext, typ EventType, agentName string, priority Priority) *ToolEvent {
	return &ToolEvent{
		Type:          typ,
		ID:            uuid.NewString(),
		Timestamp:     c.clock.Now(),
		Priority:      priority,
		RunID:         c.RunID(),
		UserID:        c.UserID(),
		ThreadID:      c.ThreadID(),
		CorrelationID: c.CorrelationID(),
		AgentName:     agentName,
		MaxRetries:    DefaultEventMaxRetries,
	}
}

// NewAgentStartedEvent reports that an agent began working on a task.
func NewAgentStartedEvent(c *ExecutionContext, agentName, task string) *ToolEvent {
	e := newEvent(c, EventAgentStarted, agentName, PriorityNormal)
	e.CustomData = map[string]any{"task": task}
	return e
}

// NewAgentThinkingEvent reports intermediate agent reasoning.
func NewAgentThinkingEvent(c *ExecutionContext, agentName, reasoning string, step int) *ToolEvent {
	e := newEvent(c, EventAgentThinking, agentName, PriorityLow)
	e.Reasoning = reasoning
	e.StepNumber = step
	return e
}

// NewToolExecutingEvent reports that a tool invocation is starting. The
// parameters map is copied so later caller mutation cannot leak into the
// event.
func NewToolExecutingEvent(c *ExecutionContext, agentName, toolName string, params map[string]any) *ToolEvent {
	e := newEvent(c, EventToolExecuting, agentName, PriorityNormal)
	e.ToolName = toolName
	e.Parameters = copyMetadata(params)
	return e
}

// NewToolCompletedEvent reports a finished tool invocation. Exactly one of
// result and errMsg should be meaningful: on failure pass a nil result and
// the failure message.
func NewToolCompletedEvent(c *ExecutionContext, agentName, toolName string, result any, errMsg string, executionTimeMS float64) *ToolEvent {
	e := newEvent(c, EventToolCompleted, agentName, PriorityNormal)
	e.ToolName = toolName
	e.Result = result
	e.Error = errMsg
	e.ExecutionTimeMS = executionTimeMS
	if errMsg != "" {
		e.Priority = PriorityHigh
	}
	return e
}

// NewToolProgressEvent reports incremental progress from a long-running tool.
func NewToolProgressEvent(c *ExecutionContext, agentName, toolName string, progress float64) *ToolEvent {
	e := newEvent(c, EventToolProgress, agentName, PriorityLow)
	e.ToolName = toolName
	e.Progress = progress
	return e
}

// NewAgentCompletedEvent reports that an agent finished its run.
func NewAgentCompletedEvent(c *ExecutionContext, agentName string, result any) *ToolEvent {
	e := newEvent(c, EventAgentCompleted, agentName, PriorityNormal)
	e.Result = result
	return e
}

// NewAgentErrorEvent reports an agent-level failure.
func NewAgentErrorEvent(c *ExecutionContext, agentName, errMsg string) *ToolEvent {
	e := newEvent(c, EventAgentError, agentName, PriorityHigh)
	e.Error = errMsg
	return e
}

// NewProgressUpdateEvent reports overall run progress with optional custom
// fields. Custom fields pass through the emitter's progress allow-list before
// reaching the wire.
func NewProgressUpdateEvent(c *ExecutionContext, agentName string, progress float64, custom map[string]any) *ToolEvent {
	e := newEvent(c, EventProgressUpdate, agentName, PriorityLow)
	e.Progress = progress
	e.CustomData = copyMetadata(custom)
	return e
}

// NewCustomEvent reports an application-defined event type.
func NewCustomEvent(c *ExecutionContext, agentName, customType string, data map[string]any) *ToolEvent {
	e := newEvent(c, EventCustom, agentName, PriorityNormal)
	e.CustomType = customType
	e.CustomData = copyMetadata(data)
	return e
}

// NewStateDiffEvent is a custom event carrying a unified diff between two
// textual state snapshots, so subscribers can show what changed without
// shipping both full snapshots.
func NewStateDiffEvent(c *ExecutionContext, agentName, label, before, after string) *ToolEvent {
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(before),
		B:        difflib.SplitLines(after),
		FromFile: label + " (before)",
		ToFile:   label + " (after)",
		Context:  3,
	})
	if err != nil {
		diff = ""
	}
	return NewCustomEvent(c, agentName, "state_diff", map[string]any{
		"label": label,
		"diff":  diff,
	})
}
