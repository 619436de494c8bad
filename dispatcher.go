package tether

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// DispatchResult is the uniform outcome of one dispatch. Tool-level failures
// (unknown tool, denied permission, tool error) come back here with
// Success=false rather than as returned errors, so orchestration logic can
// inspect and react to every outcome the same way.
type DispatchResult struct {
	Success  bool
	Result   any
	Error    string
	Metadata map[string]any
}

// DispatcherMetrics is a snapshot of one dispatcher's per-instance counters.
// They are scoped to the owning request and reset on disposal; process-wide
// aggregates live in Prometheus (metrics.go).
type DispatcherMetrics struct {
	Executed           int64
	Succeeded          int64
	Failed             int64
	TotalExecutionTime time.Duration
}

// AuditReleaser is implemented by permission gates that keep per-user audit
// state; the dispatcher releases it on Cleanup when request-scoped.
type AuditReleaser interface {
	ReleaseUser(userID string)
}

// ToolDispatcher resolves, permission-checks, executes, and measures tool
// invocations for one request.
//
// # Scoping
//
// A request-scoped dispatcher (NewToolDispatcher) is bound to one
// ExecutionContext and owned exclusively by that request; isolation between
// users follows from ownership, not locking. The unscoped variant
// (NewUnscopedToolDispatcher) shares a registry across requests, cannot
// guarantee isolation, and exists only for migration; it must be enabled
// explicitly via Config.AllowUnscoped and logs a warning on every call.
//
// # Invocation Flow
//
// Each Dispatch runs: disposed check -> registry lookup -> permission check
// (with a deferred concurrency-slot release covering every branch) ->
// tool_executing event -> timed invoke inside a failure boundary ->
// tool_completed event -> result. The dispatcher performs no retries;
// retrying is the caller's decision.
type ToolDispatcher struct {
	execCtx   *ExecutionContext // nil in unscoped mode
	registry  ToolRegistry
	gate      PermissionGate
	bus       *EventBus
	ownsBus   bool
	auth      AuthorizationAttributes
	agentName string
	cfg       Config
	logger    *slog.Logger
	clock     Clock

	disposed atomic.Bool

	metricsMu sync.Mutex
	metrics   DispatcherMetrics
}

// DispatcherOption customizes dispatcher construction.
type DispatcherOption func(*ToolDispatcher)

// WithPermissionGate sets the gate consulted before each invocation.
// Without one, all invocations are allowed.
func WithPermissionGate(gate PermissionGate) DispatcherOption {
	return func(d *ToolDispatcher) {
		d.gate = gate
	}
}

// WithEventBus attaches a bus for lifecycle events. The bus is not owned:
// Cleanup leaves it running.
func WithEventBus(bus *EventBus) DispatcherOption {
	return func(d *ToolDispatcher) {
		d.bus = bus
		d.ownsBus = false
	}
}

// WithOwnedEventBus attaches a bus that the dispatcher owns and stops on
// Cleanup.
func WithOwnedEventBus(bus *EventBus) DispatcherOption {
	return func(d *ToolDispatcher) {
		d.bus = bus
		d.ownsBus = true
	}
}

// WithAuthorization attaches the authorization attributes forwarded to the
// permission gate.
func WithAuthorization(auth AuthorizationAttributes) DispatcherOption {
	return func(d *ToolDispatcher) {
		d.auth = auth
	}
}

// WithAgentName sets the agent name stamped on published events. Defaults to
// "agent".
func WithAgentName(name string) DispatcherOption {
	return func(d *ToolDispatcher) {
		d.agentName = name
	}
}

// WithDispatcherConfig overrides the dispatcher tuning (result preview
// truncation).
func WithDispatcherConfig(cfg Config) DispatcherOption {
	return func(d *ToolDispatcher) {
		d.cfg = cfg
	}
}

// WithDispatcherLogger sets the dispatcher logger.
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *ToolDispatcher) {
		d.logger = logger
	}
}

// WithDispatcherClock sets the time source used for measuring execution.
func WithDispatcherClock(clock Clock) DispatcherOption {
	return func(d *ToolDispatcher) {
		d.clock = clock
	}
}

// NewToolDispatcher creates a request-scoped dispatcher bound to execCtx.
func NewToolDispatcher(execCtx *ExecutionContext, registry ToolRegistry, opts ...DispatcherOption) (*ToolDispatcher, error) {
	if execCtx == nil {
		return nil, fmt.Errorf("%w: execution context is required for a request-scoped dispatcher", ErrInvalidContext)
	}
	if registry == nil {
		return nil, fmt.Errorf("tether: tool registry is required")
	}

	d := newDispatcher(registry, opts)
	d.execCtx = execCtx
	if d.logger == nil {
		d.logger = slog.Default().With(
			"component", "tool_dispatcher",
			"correlation_id", execCtx.CorrelationID())
	}
	return d, nil
}

// NewUnscopedToolDispatcher creates a dispatcher without a bound context.
// Per-call isolation cannot be guaranteed in this mode; it is refused unless
// cfg.AllowUnscoped is set.
//
// Deprecated: exists only for migration from globally shared dispatchers.
// Use NewToolDispatcher.
func NewUnscopedToolDispatcher(registry ToolRegistry, cfg Config, opts ...DispatcherOption) (*ToolDispatcher, error) {
	if !cfg.AllowUnscoped {
		return nil, ErrUnscopedDisabled
	}
	if registry == nil {
		return nil, fmt.Errorf("tether: tool registry is required")
	}

	d := newDispatcher(registry, opts)
	d.cfg = cfg
	if d.logger == nil {
		d.logger = slog.Default().With("component", "tool_dispatcher", "scoped", false)
	}
	d.logger.Warn("created unscoped tool dispatcher; per-user isolation is NOT guaranteed")
	return d, nil
}

func newDispatcher(registry ToolRegistry, opts []DispatcherOption) *ToolDispatcher {
	d := &ToolDispatcher{
		registry:  registry,
		agentName: "agent",
		cfg:       DefaultConfig(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.clock == nil {
		d.clock = NewSystemClock()
	}
	return d
}

// Context returns the bound ExecutionContext, or nil in unscoped mode.
func (d *ToolDispatcher) Context() *ExecutionContext {
	return d.execCtx
}

// Metrics returns a snapshot of the per-instance counters.
func (d *ToolDispatcher) Metrics() DispatcherMetrics {
	d.metricsMu.Lock()
	defer d.metricsMu.Unlock()
	return d.metrics
}

// -----------------------------------------------------------------------------
// Dispatch
// -----------------------------------------------------------------------------

// Dispatch resolves, permission-checks, executes, and measures one tool
// invocation.
//
// Tool-level outcomes (not found, denied, tool failure) are reported in the
// returned DispatchResult with Success=false. The returned error is non-nil
// only for lifecycle violations: ErrDisposed after Cleanup.
func (d *ToolDispatcher) Dispatch(ctx context.Context, toolName string, params map[string]any) (*DispatchResult, error) {
	if d.disposed.Load() {
		return nil, ErrDisposed
	}
	if d.execCtx == nil {
		d.logger.Warn("dispatch on unscoped dispatcher; per-call isolation is NOT guaranteed",
			"tool", toolName)
	}

	tool, ok := d.registry.Lookup(toolName)
	if !ok {
		dispatchesTotal.WithLabelValues(toolName, "not_found").Inc()
		return d.failure(toolName, fmt.Sprintf("Tool not found: %s", toolName), "tool_not_found", 0), nil
	}

	// Permission check. The deferred release covers every branch below, so a
	// concurrency slot issued by Check is returned even on panic or
	// cancellation.
	if d.gate != nil && d.execCtx != nil {
		invocationID := uuid.NewString()
		decision := d.gate.Check(PermissionQuery{
			UserID:       d.execCtx.UserID(),
			ThreadID:     d.execCtx.ThreadID(),
			RunID:        d.execCtx.RunID(),
			RequestID:    d.execCtx.RequestID(),
			ToolName:     toolName,
			InvocationID: invocationID,
			Parameters:   params,
			Attributes:   d.auth,
		})
		defer d.gate.EndExecution(d.execCtx.UserID(), invocationID)

		if !decision.Allowed {
			dispatchesTotal.WithLabelValues(toolName, "denied").Inc()
			d.logger.Info("tool invocation denied",
				"tool", toolName,
				"reason", decision.Reason)
			return d.failure(toolName, fmt.Sprintf("Permission denied: %s", decision.Reason), "permission_denied", 0), nil
		}
	}

	d.metricsMu.Lock()
	d.metrics.Executed++
	d.metricsMu.Unlock()

	if d.bus != nil && d.execCtx != nil {
		d.bus.Publish(NewToolExecutingEvent(d.execCtx, d.agentName, toolName, params))
	}

	start := d.clock.Now()
	result, invokeErr := d.safeInvoke(ctx, tool, params)
	elapsed := d.clock.Now().Sub(start)
	elapsedMS := float64(elapsed) / float64(time.Millisecond)

	d.metricsMu.Lock()
	d.metrics.TotalExecutionTime += elapsed
	if invokeErr != nil {
		d.metrics.Failed++
	} else {
		d.metrics.Succeeded++
	}
	d.metricsMu.Unlock()
	dispatchDuration.WithLabelValues(toolName).Observe(elapsed.Seconds())

	if invokeErr != nil {
		dispatchesTotal.WithLabelValues(toolName, "failure").Inc()
		d.logger.Warn("tool execution failed",
			"tool", toolName,
			"duration_ms", elapsedMS,
			"error", invokeErr)
		if d.bus != nil && d.execCtx != nil {
			d.bus.Publish(NewToolCompletedEvent(d.execCtx, d.agentName, toolName,
				nil, invokeErr.Error(), elapsedMS))
		}
		return d.failure(toolName, fmt.Sprintf("Tool execution failed: %s", invokeErr.Error()), "execution_failure", elapsedMS), nil
	}

	dispatchesTotal.WithLabelValues(toolName, "success").Inc()
	d.logger.Debug("tool execution succeeded",
		"tool", toolName,
		"duration_ms", elapsedMS)
	if d.bus != nil && d.execCtx != nil {
		d.bus.Publish(NewToolCompletedEvent(d.execCtx, d.agentName, toolName,
			sanitizeResultPreview(result, d.cfg.Emitter), "", elapsedMS))
	}

	return &DispatchResult{
		Success:  true,
		Result:   result,
		Metadata: d.resultMetadata(toolName, elapsedMS),
	}, nil
}

// DispatchWithState is Dispatch plus a context-confusion guard: the caller
// asserts which run it believes it is dispatching for, and a mismatch with
// the bound context fails fast with ErrRunMismatch instead of silently
// executing against the wrong user's state. The state map is passed to the
// tool under the reserved "_state" parameter.
func (d *ToolDispatcher) DispatchWithState(ctx context.Context, toolName string, params map[string]any, state map[string]any, runID string) (*DispatchResult, error) {
	if d.disposed.Load() {
		return nil, ErrDisposed
	}
	if d.execCtx == nil {
		return nil, fmt.Errorf("%w: DispatchWithState requires a request-scoped dispatcher", ErrInvalidContext)
	}
	if runID != d.execCtx.RunID() {
		d.logger.Error("run id mismatch on dispatch; refusing to execute",
			"tool", toolName,
			"expected_run_id", d.execCtx.RunID(),
			"got_run_id", runID)
		return nil, fmt.Errorf("%w: got %q, dispatcher is bound to %q", ErrRunMismatch, runID, d.execCtx.RunID())
	}

	merged := copyMetadata(params)
	merged["_state"] = state
	return d.Dispatch(ctx, toolName, merged)
}

// safeInvoke runs the tool inside the dispatcher's failure boundary: a tool
// panic becomes an error, never an escaped crash.
func (d *ToolDispatcher) safeInvoke(ctx context.Context, tool Tool, params map[string]any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, fmt.Errorf("tool panic: %v", r)
		}
	}()
	return tool.Invoke(ctx, params)
}

// failure builds a failed DispatchResult.
func (d *ToolDispatcher) failure(toolName, message, errorType string, elapsedMS float64) *DispatchResult {
	md := d.resultMetadata(toolName, elapsedMS)
	md["error_type"] = errorType
	return &DispatchResult{
		Success:  false,
		Error:    message,
		Metadata: md,
	}
}

// resultMetadata builds the common result metadata.
func (d *ToolDispatcher) resultMetadata(toolName string, elapsedMS float64) map[string]any {
	md := map[string]any{
		"tool_name": toolName,
	}
	if d.execCtx != nil {
		md["run_id"] = d.execCtx.RunID()
		md["request_id"] = d.execCtx.RequestID()
	}
	if elapsedMS > 0 {
		md["execution_time_ms"] = elapsedMS
	}
	return md
}

// -----------------------------------------------------------------------------
// Disposal
// -----------------------------------------------------------------------------

// Cleanup stops the owned event bus (if any), releases per-user audit state
// held by the permission gate, and marks the dispatcher disposed. All further
// dispatches fail with ErrDisposed. Safe to call multiple times.
func (d *ToolDispatcher) Cleanup() {
	if !d.disposed.CompareAndSwap(false, true) {
		return
	}

	if d.ownsBus && d.bus != nil {
		d.bus.Stop()
	}
	if releaser, ok := d.gate.(AuditReleaser); ok && d.execCtx != nil {
		releaser.ReleaseUser(d.execCtx.UserID())
	}

	d.metricsMu.Lock()
	d.metrics = DispatcherMetrics{}
	d.metricsMu.Unlock()

	d.logger.Debug("tool dispatcher disposed")
}
