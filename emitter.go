package tether

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// EventEmitter is the single translation point between internal lifecycle
// events and the wire payload sent to one user's transport channel.
//
// An emitter is permanently bound to exactly one ExecutionContext. Every
// Notify method checks the caller-supplied run id against the bound context
// first; on mismatch it logs and returns ErrRunMismatch without sending
// anything. This is the defense line against cross-context event injection:
// even a buggy caller holding the wrong emitter cannot leak another user's
// events onto this channel.
//
// All payload fields are sanitized (sensitive keys redacted, long values
// truncated, filesystem paths stripped from error text) before they leave the
// process. See sanitize.go.
//
// The wire payload shape is the stable contract:
//
//	{"type": ..., "run_id": ..., "timestamp": ..., "agent_name": ..., "payload": {...}}
type EventEmitter struct {
	execCtx   *ExecutionContext
	transport Transport
	cfg       EmitterConfig
	logger    *slog.Logger
	clock     Clock

	active atomic.Bool
	sent   atomic.Int64
	failed atomic.Int64
}

// EmitterOption customizes EventEmitter construction.
type EmitterOption func(*EventEmitter)

// WithEmitterConfig overrides the sanitization tuning.
func WithEmitterConfig(cfg EmitterConfig) EmitterOption {
	return func(e *EventEmitter) {
		e.cfg = cfg
	}
}

// WithEmitterLogger sets the emitter logger. Defaults to slog.Default.
func WithEmitterLogger(logger *slog.Logger) EmitterOption {
	return func(e *EventEmitter) {
		e.logger = logger
	}
}

// WithEmitterClock sets the time source for payload timestamps.
func WithEmitterClock(clock Clock) EmitterOption {
	return func(e *EventEmitter) {
		e.clock = clock
	}
}

// NewEventEmitter binds an emitter to a context and a transport. Fails with
// ErrNilTransport when transport is nil, and with the context's isolation
// error when the context fails VerifyIsolation.
func NewEventEmitter(execCtx *ExecutionContext, transport Transport, opts ...EmitterOption) (*EventEmitter, error) {
	if execCtx == nil {
		return nil, fmt.Errorf("%w: execution context is required", ErrInvalidContext)
	}
	if transport == nil {
		return nil, ErrNilTransport
	}
	if err := execCtx.VerifyIsolation(); err != nil {
		return nil, err
	}

	e := &EventEmitter{
		execCtx:   execCtx,
		transport: transport,
		cfg:       DefaultConfig().Emitter,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default().With(
			"component", "event_emitter",
			"correlation_id", execCtx.CorrelationID())
	}
	if e.clock == nil {
		e.clock = NewSystemClock()
	}
	e.active.Store(true)
	return e, nil
}

// Context returns the bound ExecutionContext.
func (e *EventEmitter) Context() *ExecutionContext {
	return e.execCtx
}

// SentCount returns the number of successful sends.
func (e *EventEmitter) SentCount() int64 { return e.sent.Load() }

// FailedCount returns the number of failed or rejected sends.
func (e *EventEmitter) FailedCount() int64 { return e.failed.Load() }

// Active reports whether the emitter can still send.
func (e *EventEmitter) Active() bool { return e.active.Load() }

// Dispose permanently deactivates the emitter. All subsequent Notify calls
// fail with ErrDisposed. Safe to call multiple times.
func (e *EventEmitter) Dispose() {
	e.active.Store(false)
}

// guard rejects calls on disposed emitters and calls whose run id does not
// belong to the bound context.
func (e *EventEmitter) guard(runID string) error {
	if !e.active.Load() {
		return ErrDisposed
	}
	if runID != e.execCtx.RunID() {
		e.failed.Add(1)
		emitterSends.WithLabelValues("rejected").Inc()
		e.logger.Warn("rejecting notification with foreign run id",
			"expected_run_id", e.execCtx.RunID(),
			"got_run_id", runID)
		return ErrRunMismatch
	}
	return nil
}

// send builds the wire payload and pushes it through the transport.
func (e *EventEmitter) send(ctx context.Context, eventType EventType, agentName string, payload map[string]any) error {
	wire := map[string]any{
		"type":       string(eventType),
		"run_id":     e.execCtx.RunID(),
		"timestamp":  e.clock.Now().UTC().Format(time.RFC3339Nano),
		"agent_name": agentName,
		"payload":    payload,
	}

	if err := e.transport.Send(ctx, e.execCtx.ChannelID(), wire); err != nil {
		e.failed.Add(1)
		emitterSends.WithLabelValues("failed").Inc()
		e.logger.Warn("transport send failed",
			"event_type", string(eventType),
			"channel_id", e.execCtx.ChannelID(),
			"error", err)
		return fmt.Errorf("tether: sending %s notification: %w", eventType, err)
	}

	e.sent.Add(1)
	emitterSends.WithLabelValues("sent").Inc()
	return nil
}

// -----------------------------------------------------------------------------
// Notifications
// -----------------------------------------------------------------------------

// NotifyAgentStarted reports that an agent began working on a task.
func (e *EventEmitter) NotifyAgentStarted(ctx context.Context, runID, agentName, task string) error {
	if err := e.guard(runID); err != nil {
		return err
	}
	return e.send(ctx, EventAgentStarted, agentName, map[string]any{
		"task": truncateString(task, e.cfg.MaxStringLength),
	})
}

// NotifyAgentThinking reports intermediate agent reasoning.
func (e *EventEmitter) NotifyAgentThinking(ctx context.Context, runID, agentName, reasoning string, step int) error {
	if err := e.guard(runID); err != nil {
		return err
	}
	return e.send(ctx, EventAgentThinking, agentName, map[string]any{
		"reasoning":   truncateString(reasoning, e.cfg.MaxStringLength),
		"step_number": step,
	})
}

// NotifyToolExecuting reports that a tool invocation is starting. Parameters
// are sanitized before sending.
func (e *EventEmitter) NotifyToolExecuting(ctx context.Context, runID, agentName, toolName string, params map[string]any) error {
	if err := e.guard(runID); err != nil {
		return err
	}
	return e.send(ctx, EventToolExecuting, agentName, map[string]any{
		"tool_name":  toolName,
		"parameters": sanitizeMap(params, e.cfg),
	})
}

// NotifyToolCompleted reports a finished tool invocation. On failure, result
// is sent as null and the sanitized error text is carried instead.
func (e *EventEmitter) NotifyToolCompleted(ctx context.Context, runID, agentName, toolName string, result any, errMsg string, executionTimeMS float64) error {
	if err := e.guard(runID); err != nil {
		return err
	}

	payload := map[string]any{
		"tool_name":         toolName,
		"execution_time_ms": executionTimeMS,
	}
	if errMsg != "" {
		payload["result"] = nil
		payload["error"] = sanitizeErrorText(errMsg, e.cfg)
	} else {
		payload["result"] = sanitizeResultPreview(result, e.cfg)
		payload["error"] = nil
	}
	return e.send(ctx, EventToolCompleted, agentName, payload)
}

// NotifyToolProgress reports incremental progress from a long-running tool.
func (e *EventEmitter) NotifyToolProgress(ctx context.Context, runID, agentName, toolName string, progress float64) error {
	if err := e.guard(runID); err != nil {
		return err
	}
	return e.send(ctx, EventToolProgress, agentName, map[string]any{
		"tool_name":           toolName,
		"progress_percentage": progress,
	})
}

// NotifyAgentCompleted reports that an agent finished its run.
func (e *EventEmitter) NotifyAgentCompleted(ctx context.Context, runID, agentName string, result any) error {
	if err := e.guard(runID); err != nil {
		return err
	}
	return e.send(ctx, EventAgentCompleted, agentName, map[string]any{
		"result": sanitizeResultPreview(result, e.cfg),
	})
}

// NotifyAgentError reports an agent-level failure. The error text is
// path-stripped and truncated before it leaves the process.
func (e *EventEmitter) NotifyAgentError(ctx context.Context, runID, agentName, errMsg string) error {
	if err := e.guard(runID); err != nil {
		return err
	}
	return e.send(ctx, EventAgentError, agentName, map[string]any{
		"error": sanitizeErrorText(errMsg, e.cfg),
	})
}

// NotifyProgress reports overall run progress. Custom fields pass through the
// progress allow-list; anything not on it is dropped.
func (e *EventEmitter) NotifyProgress(ctx context.Context, runID, agentName string, progress float64, data map[string]any) error {
	if err := e.guard(runID); err != nil {
		return err
	}
	payload := map[string]any{
		"progress_percentage": progress,
	}
	for k, v := range sanitizeProgressData(data, e.cfg) {
		payload[k] = v
	}
	return e.send(ctx, EventProgressUpdate, agentName, payload)
}

// NotifyCustom reports an application-defined event type.
func (e *EventEmitter) NotifyCustom(ctx context.Context, runID, agentName, customType string, data map[string]any) error {
	if err := e.guard(runID); err != nil {
		return err
	}
	return e.send(ctx, EventType(customType), agentName, sanitizeMap(data, e.cfg))
}

// -----------------------------------------------------------------------------
// EventSink Adapter
// -----------------------------------------------------------------------------
//
// An emitter registers directly on an EventBus as a sink. Each sink method
// feeds the matching Notify method, so bus-delivered events get the same
// run-id guard and sanitization as direct calls. An event produced by a
// different context fails the guard and counts as a failed delivery for this
// sink.

// OnAgentStarted implements EventSink.
func (e *EventEmitter) OnAgentStarted(event *ToolEvent) error {
	task, _ := event.CustomData["task"].(string)
	return e.NotifyAgentStarted(context.Background(), event.RunID, event.AgentName, task)
}

// OnAgentThinking implements EventSink.
func (e *EventEmitter) OnAgentThinking(event *ToolEvent) error {
	return e.NotifyAgentThinking(context.Background(), event.RunID, event.AgentName, event.Reasoning, event.StepNumber)
}

// OnToolExecuting implements EventSink.
func (e *EventEmitter) OnToolExecuting(event *ToolEvent) error {
	return e.NotifyToolExecuting(context.Background(), event.RunID, event.AgentName, event.ToolName, event.Parameters)
}

// OnToolCompleted implements EventSink.
func (e *EventEmitter) OnToolCompleted(event *ToolEvent) error {
	return e.NotifyToolCompleted(context.Background(), event.RunID, event.AgentName, event.ToolName,
		event.Result, event.Error, event.ExecutionTimeMS)
}

// OnToolProgress implements EventSink.
func (e *EventEmitter) OnToolProgress(event *ToolEvent) error {
	return e.NotifyToolProgress(context.Background(), event.RunID, event.AgentName, event.ToolName, event.Progress)
}

// OnAgentCompleted implements EventSink.
func (e *EventEmitter) OnAgentCompleted(event *ToolEvent) error {
	return e.NotifyAgentCompleted(context.Background(), event.RunID, event.AgentName, event.Result)
}

// OnAgentError implements EventSink.
func (e *EventEmitter) OnAgentError(event *ToolEvent) error {
	return e.NotifyAgentError(context.Background(), event.RunID, event.AgentName, event.Error)
}

// OnProgressUpdate implements EventSink.
func (e *EventEmitter) OnProgressUpdate(event *ToolEvent) error {
	return e.NotifyProgress(context.Background(), event.RunID, event.AgentName, event.Progress, event.CustomData)
}

// OnCustom implements EventSink.
func (e *EventEmitter) OnCustom(event *ToolEvent) error {
	return e.NotifyCustom(context.Background(), event.RunID, event.AgentName, event.CustomType, event.CustomData)
}

// Compile-time check that EventEmitter implements EventSink.
var _ EventSink = (*EventEmitter)(nil)
