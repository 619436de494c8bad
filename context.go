package tether

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// ExecutionContext is the immutable identity and correlation carrier for one
// request. Every component created for a request (dispatcher, event bus,
// emitter, events) holds the same context and reads it concurrently without
// locking, because no field is ever mutated after construction.
//
// All "modification" operations (WithSession, WithChannel, CreateChild) are
// pure functions returning a brand-new instance. The metadata map is copied on
// construction and on every derivation, so no two contexts ever share the same
// underlying map.
//
// # Identity Scopes
//
//   - UserID: the end user on whose behalf work is done
//   - ThreadID: groups runs belonging to one conversation
//   - RunID: one agent run; may contain many requests
//   - RequestID: one logical operation within a run, unique per context
type ExecutionContext struct {
	userID    string
	threadID  string
	runID     string
	requestID string

	sessionID string
	channelID string
	session   any // opaque storage-session handle, never serialized

	createdAt time.Time
	depth     int
	metadata  map[string]any

	clock     Clock
	isolation IsolationChecker
}

// reservedMetadataKeys may never appear in caller-supplied metadata. They are
// identity fields and would mask the real values in serialized snapshots.
var reservedMetadataKeys = map[string]struct{}{
	"user_id":    {},
	"thread_id":  {},
	"run_id":     {},
	"request_id": {},
	"created_at": {},
}

// placeholderValues are identity values that indicate a caller forgot to
// thread real identity through (or copied them from an example). They are
// rejected outright, and also as prefixes of short identifiers.
var placeholderValues = []string{"default", "registry", "none", "temp", "null", "placeholder"}

// maxPlaceholderPrefixLen bounds the prefix check: "temporary-queue-worker-7"
// is a legitimate name, "temp1" is not.
const maxPlaceholderPrefixLen = 12

// ContextOption customizes ExecutionContext construction.
type ContextOption func(*ExecutionContext)

// WithMetadata sets the initial metadata bag. The map is copied; the caller's
// map is never retained.
func WithMetadata(metadata map[string]any) ContextOption {
	return func(c *ExecutionContext) {
		c.metadata = metadata
	}
}

// WithRequestID overrides the auto-generated request id. Intended for
// replaying or testing; normal callers should let the context mint one.
func WithRequestID(requestID string) ContextOption {
	return func(c *ExecutionContext) {
		c.requestID = requestID
	}
}

// WithClock overrides the time source used for CreatedAt.
func WithClock(clock Clock) ContextOption {
	return func(c *ExecutionContext) {
		c.clock = clock
	}
}

// WithIsolationChecker attaches an IsolationChecker consulted by
// VerifyIsolation. Derived contexts inherit the checker.
func WithIsolationChecker(checker IsolationChecker) ContextOption {
	return func(c *ExecutionContext) {
		c.isolation = checker
	}
}

// NewExecutionContext creates a validated root context for one request.
//
// Returns an error wrapping ErrInvalidContext when any identity field is
// empty or blank, is a placeholder-like value, or when metadata uses a
// reserved key.
func NewExecutionContext(userID, threadID, runID string, opts ...ContextOption) (*ExecutionContext, error) {
	c := &ExecutionContext{
		userID:   userID,
		threadID: threadID,
		runID:    runID,
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := validateIdentity("user_id", c.userID); err != nil {
		return nil, err
	}
	if err := validateIdentity("thread_id", c.threadID); err != nil {
		return nil, err
	}
	if err := validateIdentity("run_id", c.runID); err != nil {
		return nil, err
	}
	if err := validateMetadataKeys(c.metadata); err != nil {
		return nil, err
	}

	if c.clock == nil {
		c.clock = NewSystemClock()
	}
	if c.requestID == "" {
		c.requestID = uuid.NewString()
	}
	c.createdAt = c.clock.Now()
	c.metadata = copyMetadata(c.metadata)

	return c, nil
}

// validateIdentity rejects empty, blank, and placeholder-like identity values.
func validateIdentity(field, value string) error {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fmt.Errorf("%w: %s must not be empty", ErrInvalidContext, field)
	}

	lower := strings.ToLower(trimmed)
	for _, p := range placeholderValues {
		if lower == p {
			return fmt.Errorf("%w: %s %q is a placeholder value", ErrInvalidContext, field, value)
		}
		if utf8.RuneCountInString(lower) <= maxPlaceholderPrefixLen && strings.HasPrefix(lower, p) {
			return fmt.Errorf("%w: %s %q looks like a placeholder value", ErrInvalidContext, field, value)
		}
	}
	return nil
}

// validateMetadataKeys rejects reserved keys in caller-supplied metadata.
func validateMetadataKeys(metadata map[string]any) error {
	for k := range metadata {
		if _, reserved := reservedMetadataKeys[k]; reserved {
			return fmt.Errorf("%w: metadata key %q is reserved", ErrInvalidContext, k)
		}
	}
	return nil
}

// copyMetadata returns a fresh map with the same entries. A nil input yields
// an empty (non-nil) map so every context owns a distinct instance.
func copyMetadata(metadata map[string]any) map[string]any {
	out := make(map[string]any, len(metadata))
	for k, v := range metadata {
		out[k] = v
	}
	return out
}

// -----------------------------------------------------------------------------
// Accessors
// -----------------------------------------------------------------------------

// UserID returns the user identity.
func (c *ExecutionContext) UserID() string { return c.userID }

// ThreadID returns the conversation thread identity.
func (c *ExecutionContext) ThreadID() string { return c.threadID }

// RunID returns the run identity.
func (c *ExecutionContext) RunID() string { return c.runID }

// RequestID returns the unique per-context request identity.
func (c *ExecutionContext) RequestID() string { return c.requestID }

// SessionID returns the attached session id, if any.
func (c *ExecutionContext) SessionID() string { return c.sessionID }

// ChannelID returns the transport channel binding, if any.
func (c *ExecutionContext) ChannelID() string { return c.channelID }

// Session returns the opaque session handle attached via WithSession, or nil.
func (c *ExecutionContext) Session() any { return c.session }

// CreatedAt returns the construction timestamp.
func (c *ExecutionContext) CreatedAt() time.Time { return c.createdAt }

// Depth returns the operation nesting depth (0 for a root context).
func (c *ExecutionContext) Depth() int { return c.depth }

// Metadata returns a copy of the metadata bag. The context's own map is never
// exposed.
func (c *ExecutionContext) Metadata() map[string]any {
	return copyMetadata(c.metadata)
}

// MetadataValue returns a single metadata entry.
func (c *ExecutionContext) MetadataValue(key string) (any, bool) {
	v, ok := c.metadata[key]
	return v, ok
}

// CorrelationID returns a deterministic, human-debuggable composite of the
// truncated identity fields, for logging and tracing only. It is not unique
// and must never be used for equality or security decisions.
func (c *ExecutionContext) CorrelationID() string {
	return strings.Join([]string{
		truncateID(c.userID),
		truncateID(c.threadID),
		truncateID(c.runID),
		truncateID(c.requestID),
	}, ":")
}

// truncateID returns the first 8 characters of an identifier.
func truncateID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// -----------------------------------------------------------------------------
// Derivation
// -----------------------------------------------------------------------------

// clone returns a field-for-field copy with a freshly copied metadata map.
func (c *ExecutionContext) clone() *ExecutionContext {
	out := *c
	out.metadata = copyMetadata(c.metadata)
	return &out
}

// WithSession returns a new context with a session binding attached. The
// receiver is not modified.
func (c *ExecutionContext) WithSession(sessionID string, session any) *ExecutionContext {
	out := c.clone()
	out.sessionID = sessionID
	out.session = session
	return out
}

// WithChannel returns a new context bound to a transport channel. The
// receiver is not modified.
func (c *ExecutionContext) WithChannel(channelID string) *ExecutionContext {
	out := c.clone()
	out.channelID = channelID
	return out
}

// CreateChild derives a context for a nested operation (agent -> tool ->
// sub-tool). The child keeps the parent's user/thread/run identity and
// transport bindings, mints a fresh request id, increments the operation
// depth, and records the lineage in metadata:
//
//	parent_request_id: <parent request id>
//	operation_name:    <operationName>
//	operation_depth:   <parent depth + 1>
//
// extra entries are merged in after the lineage keys. Returns an error
// wrapping ErrInvalidContext when operationName is empty or extra uses a
// reserved key.
func (c *ExecutionContext) CreateChild(operationName string, extra map[string]any) (*ExecutionContext, error) {
	if strings.TrimSpace(operationName) == "" {
		return nil, fmt.Errorf("%w: operation name must not be empty", ErrInvalidContext)
	}
	if err := validateMetadataKeys(extra); err != nil {
		return nil, err
	}

	child := c.clone()
	child.requestID = uuid.NewString()
	child.createdAt = c.clock.Now()
	child.depth = c.depth + 1

	child.metadata["parent_request_id"] = c.requestID
	child.metadata["operation_name"] = operationName
	child.metadata["operation_depth"] = child.depth
	for k, v := range extra {
		child.metadata[k] = v
	}

	return child, nil
}

// -----------------------------------------------------------------------------
// Isolation & Serialization
// -----------------------------------------------------------------------------

// VerifyIsolation checks that this context's metadata map has not been
// registered as shared with another owner. Returns nil normally; returns an
// error wrapping ErrInvalidContext when the attached IsolationChecker reports
// the map as shared. Without a checker the check always passes.
func (c *ExecutionContext) VerifyIsolation() error {
	if c.isolation == nil {
		return nil
	}
	if c.isolation.IsShared(c.metadata) {
		return fmt.Errorf("%w: metadata map is shared with another context (correlation %s)",
			ErrInvalidContext, c.CorrelationID())
	}
	return nil
}

// Snapshot produces a serializable view of the context. The session handle is
// represented only as a presence flag; it is never serialized.
func (c *ExecutionContext) Snapshot() map[string]any {
	return map[string]any{
		"user_id":     c.userID,
		"thread_id":   c.threadID,
		"run_id":      c.runID,
		"request_id":  c.requestID,
		"session_id":  c.sessionID,
		"channel_id":  c.channelID,
		"created_at":  c.createdAt.UTC().Format(time.RFC3339Nano),
		"depth":       c.depth,
		"has_session": c.session != nil,
		"metadata":    copyMetadata(c.metadata),
	}
}
