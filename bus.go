package tether

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tetherframe/tether/internal/buffer"
)

// UnsubscribeFunc cancels a subscription or sink registration. Safe to call
// multiple times.
type UnsubscribeFunc func()

// historyEntry pairs a recorded event with its recording time, so the cleanup
// loop can expire entries on wall-clock age rather than event timestamps
// (which a producer could backdate).
type historyEntry struct {
	event      *ToolEvent
	recordedAt time.Time
}

// chanSubscription is a channel-based subscription backed by an unbounded
// per-subscriber buffer, so Publish never blocks on a slow consumer.
type chanSubscription struct {
	id    uint64
	types map[EventType]struct{}
	buf   *buffer.Unbounded[*ToolEvent]
}

func (s *chanSubscription) matches(event *ToolEvent) bool {
	if s.types == nil {
		return true
	}
	_, ok := s.types[event.Type]
	return ok
}

// EventBus decouples lifecycle-event producers (dispatcher, agent logic) from
// consumers (subscriptions, channel subscriptions, and external sinks such as
// EventEmitters).
//
// # Lifecycle
//
// Start launches two background maintenance loops: a retry loop re-publishing
// partially delivered events, and a history garbage-collection loop trimming
// expired entries. Stop cancels both, waits for them, and clears all
// subscriptions and sinks. The bus delivers nothing before Start; publishes
// after Stop are logged and dropped, never raised.
//
// # Delivery Semantics
//
// Delivery is at-least-once per target. For a single producer publishing
// sequentially, each target sees events in publish order; no order is
// guaranteed across different contexts, and retried events may arrive after
// newer events from the same run. A failure in one target never prevents
// delivery to the others, and Publish never panics or returns an error.
//
// An event with no configured deliveries at all (no matching subscription, no
// sink) counts as delivered.
//
// One EventBus instance is owned by exactly one request and never shared
// across users.
type EventBus struct {
	cfg    BusConfig
	logger *slog.Logger
	clock  Clock

	mu         sync.RWMutex
	subs       []*EventSubscription
	chanSubs   []*chanSubscription
	sinks      []EventSink
	history    []historyEntry
	pending    []*ToolEvent
	started    bool
	stopped    bool
	nextChanID uint64

	cancel context.CancelFunc
	group  *errgroup.Group

	published        atomic.Int64
	deliverySuccess  atomic.Int64
	deliveryFailures atomic.Int64
	dropped          atomic.Int64
}

// BusOption customizes EventBus construction.
type BusOption func(*EventBus)

// WithBusLogger sets the bus logger. Defaults to slog.Default.
func WithBusLogger(logger *slog.Logger) BusOption {
	return func(b *EventBus) {
		b.logger = logger
	}
}

// WithBusClock sets the time source used for history expiry.
func WithBusClock(clock Clock) BusOption {
	return func(b *EventBus) {
		b.clock = clock
	}
}

// NewEventBus creates a bus with the given tuning. The bus is inert until
// Start is called.
func NewEventBus(cfg BusConfig, opts ...BusOption) *EventBus {
	b := &EventBus{cfg: cfg}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = slog.Default().With("component", "event_bus")
	}
	if b.clock == nil {
		b.clock = NewSystemClock()
	}
	if b.cfg.MaxRetries <= 0 {
		b.cfg.MaxRetries = DefaultEventMaxRetries
	}
	return b
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Start launches the retry and cleanup loops. The loops stop when Stop is
// called or the given context is cancelled. Starting twice is an error.
func (b *EventBus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started {
		return fmt.Errorf("tether: event bus already started")
	}
	if b.stopped {
		return fmt.Errorf("tether: event bus already stopped")
	}
	b.started = true

	loopCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.group, loopCtx = errgroup.WithContext(loopCtx)

	b.group.Go(func() error {
		b.retryLoop(loopCtx)
		return nil
	})
	b.group.Go(func() error {
		b.cleanupLoop(loopCtx)
		return nil
	})
	return nil
}

// Stop cancels the maintenance loops, waits for them, and clears all
// subscriptions and sinks. Safe to call once; later publishes are dropped.
func (b *EventBus) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	cancel := b.cancel
	group := b.group

	for _, s := range b.subs {
		s.deactivate()
	}
	b.subs = nil
	for _, cs := range b.chanSubs {
		cs.buf.Close()
	}
	b.chanSubs = nil
	b.sinks = nil
	b.pending = nil
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if group != nil {
		_ = group.Wait()
	}
}

// running reports whether the bus accepts publishes.
func (b *EventBus) running() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.started && !b.stopped
}

// -----------------------------------------------------------------------------
// Registration
// -----------------------------------------------------------------------------

// Subscribe registers a handler-based subscription. Returns the subscription
// (for counter inspection) and an unsubscribe function.
func (b *EventBus) Subscribe(cfg SubscriptionConfig) (*EventSubscription, UnsubscribeFunc, error) {
	if cfg.Handler == nil {
		return nil, nil, fmt.Errorf("tether: subscription handler is required")
	}

	sub := newSubscription(cfg)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		sub.deactivate()
		return sub, func() {}, nil
	}
	b.subs = append(b.subs, sub)

	unsubscribe := func() {
		b.removeSubscription(sub)
	}
	return sub, unsubscribe, nil
}

func (b *EventBus) removeSubscription(sub *EventSubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub.deactivate()
	for i, s := range b.subs {
		if s.id == sub.id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// SubscribeChannel registers a channel-based subscription receiving events of
// the given types (all types when none given). The channel preserves publish
// order and never blocks the publisher; it is closed on unsubscribe or Stop.
func (b *EventBus) SubscribeChannel(types ...EventType) (<-chan *ToolEvent, UnsubscribeFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped {
		ch := make(chan *ToolEvent)
		close(ch)
		return ch, func() {}
	}

	cs := &chanSubscription{
		id:  b.nextChanID,
		buf: buffer.NewUnbounded[*ToolEvent](),
	}
	b.nextChanID++
	if len(types) > 0 {
		cs.types = make(map[EventType]struct{}, len(types))
		for _, t := range types {
			cs.types[t] = struct{}{}
		}
	}
	b.chanSubs = append(b.chanSubs, cs)

	unsubscribe := func() {
		b.removeChanSubscription(cs)
	}
	return cs.buf.Receive(), unsubscribe
}

func (b *EventBus) removeChanSubscription(cs *chanSubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cs.buf.Close()
	for i, s := range b.chanSubs {
		if s.id == cs.id {
			b.chanSubs = append(b.chanSubs[:i], b.chanSubs[i+1:]...)
			return
		}
	}
}

// RegisterSink registers an external delivery sink (typically an
// EventEmitter). Returns an unregister function.
func (b *EventBus) RegisterSink(sink EventSink) UnsubscribeFunc {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped {
		return func() {}
	}
	b.sinks = append(b.sinks, sink)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.sinks {
			if s == sink {
				b.sinks = append(b.sinks[:i], b.sinks[i+1:]...)
				return
			}
		}
	}
}

// -----------------------------------------------------------------------------
// Publishing
// -----------------------------------------------------------------------------

// Publish records the event in history and delivers it to every matching
// subscription and every sink. Publish never returns an error and never
// panics; failures are counted, retried up to the configured bound, and then
// dropped with a log line.
func (b *EventBus) Publish(event *ToolEvent) {
	if event == nil {
		return
	}
	if !b.running() {
		b.logger.Warn("publish on non-running event bus, dropping event",
			"event_type", string(event.Type),
			"run_id", event.RunID)
		return
	}

	b.published.Add(1)
	eventsPublished.WithLabelValues(string(event.Type)).Inc()
	b.recordHistory(event)
	b.deliver(event)
}

// recordHistory appends to the bounded FIFO history buffer, dropping the
// oldest entries first.
func (b *EventBus) recordHistory(event *ToolEvent) {
	if !b.cfg.HistoryEnabled {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.history = append(b.history, historyEntry{event: event, recordedAt: b.clock.Now()})
	if excess := len(b.history) - b.cfg.HistorySize; excess > 0 {
		b.history = b.history[excess:]
	}
}

// deliver fans the event out to a snapshot of the current targets. Called
// from Publish and from the retry loop.
func (b *EventBus) deliver(event *ToolEvent) {
	b.mu.RLock()
	subs := make([]*EventSubscription, len(b.subs))
	copy(subs, b.subs)
	chanSubs := make([]*chanSubscription, len(b.chanSubs))
	copy(chanSubs, b.chanSubs)
	sinks := make([]EventSink, len(b.sinks))
	copy(sinks, b.sinks)
	b.mu.RUnlock()

	failures := 0

	for _, sub := range subs {
		if !sub.Matches(event) {
			continue
		}
		if err := b.safeHandle(sub, event); err != nil {
			failures++
			b.deliveryFailures.Add(1)
			eventDeliveries.WithLabelValues("subscription", "failure").Inc()
			b.logger.Warn("subscription delivery failed",
				"subscription_id", sub.ID(),
				"event_type", string(event.Type),
				"run_id", event.RunID,
				"error", err)
		} else {
			b.deliverySuccess.Add(1)
			eventDeliveries.WithLabelValues("subscription", "success").Inc()
		}
	}

	for _, cs := range chanSubs {
		if !cs.matches(event) {
			continue
		}
		cs.buf.Send(event)
		b.deliverySuccess.Add(1)
		eventDeliveries.WithLabelValues("channel", "success").Inc()
	}

	for _, sink := range sinks {
		known, err := b.safeSinkDeliver(sink, event)
		if !known || err != nil {
			failures++
			b.deliveryFailures.Add(1)
			eventDeliveries.WithLabelValues("sink", "failure").Inc()
			if !known {
				b.logger.Warn("no sink mapping for event type",
					"event_type", string(event.Type),
					"run_id", event.RunID)
			} else {
				b.logger.Warn("sink delivery failed",
					"event_type", string(event.Type),
					"run_id", event.RunID,
					"error", err)
			}
		} else {
			b.deliverySuccess.Add(1)
			eventDeliveries.WithLabelValues("sink", "success").Inc()
		}
	}

	if failures > 0 {
		b.scheduleRetry(event)
	}
}

// safeHandle runs a subscription handler, converting a panic into an error so
// one consumer can never abort delivery to the others.
func (b *EventBus) safeHandle(sub *EventSubscription, event *ToolEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tether: subscription handler panic: %v", r)
		}
	}()
	return sub.handle(event)
}

// safeSinkDeliver routes an event to a sink with panic containment.
func (b *EventBus) safeSinkDeliver(sink EventSink, event *ToolEvent) (known bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			known, err = true, fmt.Errorf("tether: sink panic: %v", r)
		}
	}()
	return deliverToSink(sink, event)
}

// scheduleRetry queues a partially delivered event for the retry loop, or
// drops it once the retry budget is exhausted.
func (b *EventBus) scheduleRetry(event *ToolEvent) {
	maxRetries := event.MaxRetries
	if maxRetries <= 0 || maxRetries > b.cfg.MaxRetries {
		maxRetries = b.cfg.MaxRetries
	}

	event.RetryCount++
	if event.RetryCount > maxRetries {
		b.dropped.Add(1)
		eventsDropped.Inc()
		b.logger.Error("dropping event after exhausting retries",
			"event_type", string(event.Type),
			"event_id", event.ID,
			"run_id", event.RunID,
			"retries", event.RetryCount-1)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	b.pending = append(b.pending, event)
}

// -----------------------------------------------------------------------------
// Maintenance Loops
// -----------------------------------------------------------------------------

// retryLoop periodically re-delivers events whose previous delivery was only
// partially successful. Redelivery is at-least-once: targets that already
// succeeded will see the event again.
func (b *EventBus) retryLoop(ctx context.Context) {
	ticker := time.NewTicker(b.cfg.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.flushPending()
		}
	}
}

// flushPending redelivers the current pending batch. New failures re-enter
// the queue via scheduleRetry.
func (b *EventBus) flushPending() {
	b.mu.Lock()
	batch := b.pending
	b.pending = nil
	b.mu.Unlock()

	for _, event := range batch {
		b.logger.Debug("retrying event delivery",
			"event_type", string(event.Type),
			"event_id", event.ID,
			"attempt", event.RetryCount)
		b.deliver(event)
	}
}

// cleanupLoop periodically trims history entries older than the TTL.
func (b *EventBus) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(b.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.trimExpiredHistory()
		}
	}
}

// trimExpiredHistory drops history entries past the TTL. History is in
// recording order, so expired entries form a prefix.
func (b *EventBus) trimExpiredHistory() {
	cutoff := b.clock.Now().Add(-b.cfg.HistoryTTL)

	b.mu.Lock()
	defer b.mu.Unlock()

	keep := 0
	for keep < len(b.history) && b.history[keep].recordedAt.Before(cutoff) {
		keep++
	}
	if keep > 0 {
		b.history = b.history[keep:]
	}
}

// -----------------------------------------------------------------------------
// Inspection
// -----------------------------------------------------------------------------

// History returns a copy of the recorded events, oldest first.
func (b *EventBus) History() []*ToolEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]*ToolEvent, len(b.history))
	for i, entry := range b.history {
		out[i] = entry.event
	}
	return out
}

// HistoryForRun returns recorded events for one run id, oldest first.
func (b *EventBus) HistoryForRun(runID string) []*ToolEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []*ToolEvent
	for _, entry := range b.history {
		if entry.event.RunID == runID {
			out = append(out, entry.event)
		}
	}
	return out
}

// PendingRetries returns the number of events queued for redelivery.
func (b *EventBus) PendingRetries() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.pending)
}

// Published returns the number of accepted publishes.
func (b *EventBus) Published() int64 { return b.published.Load() }

// DeliverySuccesses returns the number of successful delivery attempts.
func (b *EventBus) DeliverySuccesses() int64 { return b.deliverySuccess.Load() }

// DeliveryFailures returns the number of failed delivery attempts.
func (b *EventBus) DeliveryFailures() int64 { return b.deliveryFailures.Load() }

// Dropped returns the number of events dropped after exhausting retries.
func (b *EventBus) Dropped() int64 { return b.dropped.Load() }
