package tether

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// EventHandler consumes a matched event. A non-nil error counts as a delivery
// failure for that subscription; it never aborts delivery to others.
type EventHandler func(event *ToolEvent) error

// EventFilter is an optional predicate narrowing a subscription beyond its
// type set and priority threshold.
type EventFilter func(event *ToolEvent) bool

// SubscriptionConfig describes what a subscription wants to receive.
type SubscriptionConfig struct {
	// Types is the set of interesting event types. Empty means all types.
	Types []EventType

	// MinPriority is the priority threshold; events below it are skipped.
	MinPriority Priority

	// Filter is an optional predicate, applied after type and priority
	// matching. Nil accepts everything.
	Filter EventFilter

	// Handler receives matched events. Required.
	Handler EventHandler
}

// EventSubscription is one registered consumer on an EventBus. Counters are
// updated by the bus on every handled event.
type EventSubscription struct {
	id          string
	types       map[EventType]struct{}
	minPriority Priority
	filter      EventFilter
	handler     EventHandler

	processed atomic.Int64
	active    atomic.Bool

	mu            sync.Mutex
	lastEventTime time.Time
}

func newSubscription(cfg SubscriptionConfig) *EventSubscription {
	s := &EventSubscription{
		id:          uuid.NewString(),
		minPriority: cfg.MinPriority,
		filter:      cfg.Filter,
		handler:     cfg.Handler,
	}
	if len(cfg.Types) > 0 {
		s.types = make(map[EventType]struct{}, len(cfg.Types))
		for _, t := range cfg.Types {
			s.types[t] = struct{}{}
		}
	}
	s.active.Store(true)
	return s
}

// ID returns the unique subscription id.
func (s *EventSubscription) ID() string {
	return s.id
}

// Active reports whether the subscription still receives events.
func (s *EventSubscription) Active() bool {
	return s.active.Load()
}

// EventsProcessed returns how many events this subscription has handled,
// including handler failures.
func (s *EventSubscription) EventsProcessed() int64 {
	return s.processed.Load()
}

// LastEventTime returns the timestamp of the most recently handled event.
func (s *EventSubscription) LastEventTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastEventTime
}

// Matches reports whether the subscription wants the given event: the event
// type is in its interest set, the priority meets the threshold, and the
// optional filter accepts it.
func (s *EventSubscription) Matches(event *ToolEvent) bool {
	if !s.active.Load() {
		return false
	}
	if s.types != nil {
		if _, ok := s.types[event.Type]; !ok {
			return false
		}
	}
	if event.Priority < s.minPriority {
		return false
	}
	if s.filter != nil && !s.filter(event) {
		return false
	}
	return true
}

// handle invokes the handler and updates counters. Called by the bus.
func (s *EventSubscription) handle(event *ToolEvent) error {
	s.processed.Add(1)
	s.mu.Lock()
	s.lastEventTime = event.Timestamp
	s.mu.Unlock()
	return s.handler(event)
}

// deactivate marks the subscription inactive. Called by the bus on
// unsubscribe and Stop.
func (s *EventSubscription) deactivate() {
	s.active.Store(false)
}
