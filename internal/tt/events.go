// Package tt provides test helpers for the tether testing suites: builder
// style mocks, an event capture sink, and event sequence assertions.
package tt

import (
	"sync"

	"github.com/tetherframe/tether"
)

// -----------------------------------------------------------------------------
// CaptureSink - implements tether.EventSink by recording every event
// -----------------------------------------------------------------------------

// CaptureSink records every event the bus routes to it. Safe for concurrent
// delivery. Zero value is ready to use.
type CaptureSink struct {
	mu     sync.Mutex
	events []*tether.ToolEvent
	errors []error
	calls  int
}

// NewCaptureSink creates an empty CaptureSink.
func NewCaptureSink() *CaptureSink {
	return &CaptureSink{}
}

// WithErrors queues errors for subsequent deliveries, regardless of event
// type. A nil entry means that delivery succeeds. Use this to exercise the
// bus retry path.
func (s *CaptureSink) WithErrors(errs ...error) *CaptureSink {
	s.errors = errs
	return s
}

func (s *CaptureSink) record(event *tether.ToolEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.calls
	s.calls++
	if idx < len(s.errors) && s.errors[idx] != nil {
		return s.errors[idx]
	}
	s.events = append(s.events, event)
	return nil
}

func (s *CaptureSink) OnAgentStarted(e *tether.ToolEvent) error   { return s.record(e) }
func (s *CaptureSink) OnAgentThinking(e *tether.ToolEvent) error  { return s.record(e) }
func (s *CaptureSink) OnToolExecuting(e *tether.ToolEvent) error  { return s.record(e) }
func (s *CaptureSink) OnToolCompleted(e *tether.ToolEvent) error  { return s.record(e) }
func (s *CaptureSink) OnToolProgress(e *tether.ToolEvent) error   { return s.record(e) }
func (s *CaptureSink) OnAgentCompleted(e *tether.ToolEvent) error { return s.record(e) }
func (s *CaptureSink) OnAgentError(e *tether.ToolEvent) error     { return s.record(e) }
func (s *CaptureSink) OnProgressUpdate(e *tether.ToolEvent) error { return s.record(e) }
func (s *CaptureSink) OnCustom(e *tether.ToolEvent) error         { return s.record(e) }

// Events returns a copy of every recorded event in delivery order.
func (s *CaptureSink) Events() []*tether.ToolEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*tether.ToolEvent, len(s.events))
	copy(out, s.events)
	return out
}

// EventsOfType returns recorded events of one type, in delivery order.
func (s *CaptureSink) EventsOfType(typ tether.EventType) []*tether.ToolEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*tether.ToolEvent
	for _, e := range s.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

// CallCount returns the number of deliveries attempted, including failed
// ones.
func (s *CaptureSink) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Compile-time check that CaptureSink implements tether.EventSink.
var _ tether.EventSink = (*CaptureSink)(nil)

// -----------------------------------------------------------------------------
// CaptureHandler - a subscription handler that records events
// -----------------------------------------------------------------------------

// CaptureHandler records events delivered to a handler subscription.
type CaptureHandler struct {
	mu     sync.Mutex
	events []*tether.ToolEvent
	errors []error
	calls  int
}

// NewCaptureHandler creates an empty CaptureHandler.
func NewCaptureHandler() *CaptureHandler {
	return &CaptureHandler{}
}

// WithErrors queues errors for subsequent deliveries.
func (h *CaptureHandler) WithErrors(errs ...error) *CaptureHandler {
	h.errors = errs
	return h
}

// Handler returns the tether.EventHandler to pass in a SubscriptionConfig.
func (h *CaptureHandler) Handler() tether.EventHandler {
	return func(event *tether.ToolEvent) error {
		h.mu.Lock()
		defer h.mu.Unlock()

		idx := h.calls
		h.calls++
		if idx < len(h.errors) && h.errors[idx] != nil {
			return h.errors[idx]
		}
		h.events = append(h.events, event)
		return nil
	}
}

// Events returns a copy of recorded events in delivery order.
func (h *CaptureHandler) Events() []*tether.ToolEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*tether.ToolEvent, len(h.events))
	copy(out, h.events)
	return out
}

// CallCount returns the number of deliveries attempted.
func (h *CaptureHandler) CallCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

// CountEventTypes counts events by type, for tests with non-deterministic
// delivery ordering.
func CountEventTypes(events []*tether.ToolEvent) map[tether.EventType]int {
	counts := make(map[tether.EventType]int)
	for _, e := range events {
		counts[e.Type]++
	}
	return counts
}
