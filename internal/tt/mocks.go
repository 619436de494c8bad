package tt

import (
	"context"
	"sync"

	"github.com/tetherframe/tether"
)

// -----------------------------------------------------------------------------
// MockTransport - implements tether.Transport with failure injection
// -----------------------------------------------------------------------------

// SentPayload is one payload captured by MockTransport.
type SentPayload struct {
	ChannelID string
	Payload   map[string]any
}

// MockTransport is a configurable mock that implements tether.Transport.
// It records every Send and can fail calls from a queued error sequence.
type MockTransport struct {
	mu     sync.Mutex
	sent   []SentPayload
	errors []error
	calls  int
}

// NewMockTransport creates a MockTransport that accepts everything.
func NewMockTransport() *MockTransport {
	return &MockTransport{}
}

// WithErrors queues errors for subsequent Send calls. A nil entry means that
// call succeeds. After the sequence is exhausted, further calls succeed.
func (m *MockTransport) WithErrors(errs ...error) *MockTransport {
	m.errors = errs
	return m
}

// Send implements tether.Transport.
func (m *MockTransport) Send(_ context.Context, channelID string, payload map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.calls
	m.calls++
	if idx < len(m.errors) && m.errors[idx] != nil {
		return m.errors[idx]
	}
	m.sent = append(m.sent, SentPayload{ChannelID: channelID, Payload: payload})
	return nil
}

// CallCount returns the number of times Send has been called, including
// failed calls.
func (m *MockTransport) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Sent returns a copy of all successfully delivered payloads.
func (m *MockTransport) Sent() []SentPayload {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentPayload, len(m.sent))
	copy(out, m.sent)
	return out
}

// LastSent returns the most recent delivered payload, or nil.
func (m *MockTransport) LastSent() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return nil
	}
	return m.sent[len(m.sent)-1].Payload
}

// Compile-time check that MockTransport implements tether.Transport.
var _ tether.Transport = (*MockTransport)(nil)

// -----------------------------------------------------------------------------
// MockGate - implements tether.PermissionGate with decision sequencing
// -----------------------------------------------------------------------------

// MockGate is a configurable mock that implements tether.PermissionGate.
// It records every query and every EndExecution call so tests can verify
// that concurrency slots are always released.
type MockGate struct {
	mu        sync.Mutex
	decisions []tether.Decision
	pinned    bool
	callIdx   int
	queries   []tether.PermissionQuery
	ended     []string // invocation IDs passed to EndExecution
}

// NewMockGate creates a MockGate that allows everything.
func NewMockGate() *MockGate {
	return &MockGate{}
}

// WithDecisions queues decisions for subsequent Check calls. After the
// sequence is exhausted, further calls are allowed.
func (g *MockGate) WithDecisions(decisions ...tether.Decision) *MockGate {
	g.decisions = decisions
	return g
}

// WithDeny configures the gate to always deny with the given reason.
func (g *MockGate) WithDeny(reason string) *MockGate {
	g.decisions = nil
	g.callIdx = 0
	g.decisions = append(g.decisions, tether.Decision{Allowed: false, Reason: reason})
	// Pinned: decisions[0] repeats instead of consuming the sequence.
	g.pinned = true
	return g
}

// Check implements tether.PermissionGate.
func (g *MockGate) Check(query tether.PermissionQuery) tether.Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.queries = append(g.queries, query)
	if g.pinned && len(g.decisions) > 0 {
		return g.decisions[0]
	}
	idx := g.callIdx
	g.callIdx++
	if idx < len(g.decisions) {
		return g.decisions[idx]
	}
	return tether.Decision{Allowed: true}
}

// EndExecution implements tether.PermissionGate.
func (g *MockGate) EndExecution(_ string, invocationID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ended = append(g.ended, invocationID)
}

// Queries returns a copy of all captured permission queries.
func (g *MockGate) Queries() []tether.PermissionQuery {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]tether.PermissionQuery, len(g.queries))
	copy(out, g.queries)
	return out
}

// EndedInvocations returns the invocation IDs released via EndExecution.
func (g *MockGate) EndedInvocations() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.ended))
	copy(out, g.ended)
	return out
}

// Compile-time check that MockGate implements tether.PermissionGate.
var _ tether.PermissionGate = (*MockGate)(nil)

// -----------------------------------------------------------------------------
// MockTool - implements tether.Tool with result/error sequencing
// -----------------------------------------------------------------------------

// MockTool is a configurable mock that implements tether.Tool. It captures
// the parameters of every invocation.
type MockTool struct {
	mu      sync.Mutex
	name    string
	results []any
	errors  []error
	panics  []any
	callIdx int

	// CapturedParams stores the parameter map passed to each Invoke call.
	CapturedParams []map[string]any
}

// NewMockTool creates a MockTool with the given name. By default every
// invocation returns "ok".
func NewMockTool(name string) *MockTool {
	return &MockTool{name: name}
}

// AddResult queues a result for the next call.
func (t *MockTool) AddResult(result any) *MockTool {
	t.results = append(t.results, result)
	t.errors = append(t.errors, nil)
	t.panics = append(t.panics, nil)
	return t
}

// AddError queues an error for the next call.
func (t *MockTool) AddError(err error) *MockTool {
	t.results = append(t.results, nil)
	t.errors = append(t.errors, err)
	t.panics = append(t.panics, nil)
	return t
}

// AddPanic queues a panic for the next call.
func (t *MockTool) AddPanic(v any) *MockTool {
	t.results = append(t.results, nil)
	t.errors = append(t.errors, nil)
	t.panics = append(t.panics, v)
	return t
}

// CallCount returns the number of times Invoke has been called.
func (t *MockTool) CallCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.callIdx
}

// Name implements tether.Tool.
func (t *MockTool) Name() string { return t.name }

// Invoke implements tether.Tool.
func (t *MockTool) Invoke(_ context.Context, params map[string]any) (any, error) {
	t.mu.Lock()
	idx := t.callIdx
	t.callIdx++
	t.CapturedParams = append(t.CapturedParams, params)
	t.mu.Unlock()

	if idx < len(t.panics) && t.panics[idx] != nil {
		panic(t.panics[idx])
	}
	if idx < len(t.errors) && t.errors[idx] != nil {
		return nil, t.errors[idx]
	}
	if idx < len(t.results) && t.results[idx] != nil {
		return t.results[idx], nil
	}
	return "ok", nil
}

// Compile-time check that MockTool implements tether.Tool.
var _ tether.Tool = (*MockTool)(nil)
