package tether

import "errors"

// -----------------------------------------------------------------------------
// Error Taxonomy
// -----------------------------------------------------------------------------
//
// Validation and lifecycle failures are returned as errors wrapping one of the
// sentinels below, so callers can classify them with errors.Is.
//
// Tool-level failures (unknown tool, denied permission, tool returned an
// error) are NOT errors from Dispatch. They come back as a failed
// DispatchResult so orchestration code can inspect and react to them
// uniformly. See DispatchResult.

var (
	// ErrInvalidContext is returned when an ExecutionContext fails
	// construction or derivation validation: empty or placeholder identity
	// fields, reserved metadata keys, or a metadata map detected as shared
	// between contexts.
	ErrInvalidContext = errors.New("tether: invalid execution context")

	// ErrDisposed is returned when an operation is attempted on a dispatcher
	// or emitter after Cleanup/Dispose.
	ErrDisposed = errors.New("tether: instance has been disposed")

	// ErrRunMismatch is returned when a caller-supplied run id does not match
	// the run id of the bound ExecutionContext. This is a context-confusion
	// guard; treat it as a security signal, not a retryable condition.
	ErrRunMismatch = errors.New("tether: run id does not match bound context")

	// ErrNilTransport is returned when an EventEmitter is constructed without
	// a transport capability.
	ErrNilTransport = errors.New("tether: transport is required")

	// ErrUnscopedDisabled is returned when an unscoped dispatcher is requested
	// without Config.AllowUnscoped.
	ErrUnscopedDisabled = errors.New("tether: unscoped dispatchers are disabled")
)
