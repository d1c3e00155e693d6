// Package events implements the Event Sink: a thread-safe, in-process
// publish/subscribe bus that the core emits structured records onto, plus
// optional best-effort egress adapters that re-publish those records to
// external systems.
package events

import (
	"fmt"
	"sync"
	"time"
)

// Severity classifies an event record.
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// Category groups events by the subsystem that emitted them.
type Category string

const (
	CategoryTransport Category = "transport"
	CategoryProtocol  Category = "protocol"
	CategoryUDS       Category = "uds"
	CategoryLifecycle Category = "lifecycle"
)

// Event is one structured record emitted by the core.
type Event struct {
	Timestamp time.Time
	Severity  Severity
	Category  Category
	Message   string
	Peer      string // connection-scoped events carry the peer endpoint
}

// SubscriberID identifies a registered subscriber for later Unsubscribe.
type SubscriberID uint64

// Sink is the common shape of the optional egress adapters (MQTT, Kafka,
// Redis), letting the status surface report per-sink connected state
// without importing each concrete adapter package.
type Sink interface {
	Name() string
	Connected() bool
}

type subscriber struct {
	id      SubscriberID
	fn      func(Event)
	filter  map[Category]bool
	filtered bool
}

// Bus is a synchronous, thread-safe fan-out publisher. Emit never blocks
// on slow subscribers beyond the subscriber's own callback running inline;
// callers that must not be slowed down by a subscriber (e.g. an egress
// sink talking to a broker) are expected to hand work off to their own
// goroutine inside the callback.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[SubscriberID]*subscriber
	nextID      SubscriberID
}

// NewBus returns an empty, ready-to-use Bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[SubscriberID]*subscriber)}
}

// Subscribe registers fn to be called for every emitted event. Returns an
// id usable with Unsubscribe.
func (b *Bus) Subscribe(fn func(Event)) SubscriberID {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subscribers[id] = &subscriber{id: id, fn: fn}
	return id
}

// SubscribeCategories registers fn to be called only for events whose
// Category is one of the given categories.
func (b *Bus) SubscribeCategories(fn func(Event), categories ...Category) SubscriberID {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	filter := make(map[Category]bool, len(categories))
	for _, c := range categories {
		filter[c] = true
	}
	b.subscribers[id] = &subscriber{id: id, fn: fn, filter: filter, filtered: true}
	return id
}

// Unsubscribe removes a previously registered subscriber. Unsubscribing an
// unknown id is a safe no-op.
func (b *Bus) Unsubscribe(id SubscriberID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, id)
}

// Emit stamps the event's Timestamp (if zero) and delivers it to every
// matching subscriber. Safe for concurrent use.
func (b *Bus) Emit(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.RLock()
	subs := make([]*subscriber, 0, len(b.subscribers))
	for _, s := range b.subscribers {
		if !s.filtered || s.filter[e.Category] {
			subs = append(subs, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range subs {
		s.fn(e)
	}
}

// Info emits an info-severity event for the given category.
func (b *Bus) Info(cat Category, peer, format string, args ...interface{}) {
	b.emitf(SeverityInfo, cat, peer, format, args...)
}

// Warn emits a warn-severity event for the given category.
func (b *Bus) Warn(cat Category, peer, format string, args ...interface{}) {
	b.emitf(SeverityWarn, cat, peer, format, args...)
}

// Error emits an error-severity event for the given category.
func (b *Bus) Error(cat Category, peer, format string, args ...interface{}) {
	b.emitf(SeverityError, cat, peer, format, args...)
}

func (b *Bus) emitf(sev Severity, cat Category, peer, format string, args ...interface{}) {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	b.Emit(Event{Severity: sev, Category: cat, Message: msg, Peer: peer})
}
