// Package eventbus implements the synchronous, in-process, typed pub/sub
// fan-out described in : publish(topic, payload) dispatches to
// every subscriber of that topic, in registration order, on the calling
// goroutine. A handler that panics is reported on a
// dedicated error topic instead of aborting the dispatch loop, and
// recursive publishes from within a handler are allowed to run to
// completion before control returns to the original Publish call.
package eventbus

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/aspenmd/ingestd/logx"
)

// Topic is a contractual bus topic name, e.g. "market:trade".
type Topic string

// ErrorTopic receives HandlerError values whenever a subscriber fails;
// bus dispatch itself never stops because of it.
const ErrorTopic Topic = "bus:handler_error"

// Handler receives a published payload. The concrete type of payload is
// whatever was published on that topic; callers are expected to type-assert
// it (mirroring the per-topic payload contract documented in ).
type Handler func(payload any)

// HandlerError is published on ErrorTopic when a subscriber panics.
type HandlerError struct {
	Topic Topic
	Err   error
}

type subscription struct {
	id      uintptr
	handler Handler
}

// Bus is the process-wide (or, in tests, freshly constructed) synchronous
// event bus. The zero value is not usable; use New.
type Bus struct {
	mu   sync.RWMutex
	subs map[Topic][]subscription
	log  logxLogger
}

// logxLogger is the minimal logging surface Bus needs, so tests can swap it.
type logxLogger interface {
	Error(err error, msg string, fields map[string]any)
}

type defaultLogger struct{}

func (defaultLogger) Error(err error, msg string, fields map[string]any) {
	ev := logx.Component("eventbus").Error().Err(err)
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}

// New constructs a fresh Bus. Production wiring keeps one process-wide
// instance; tests construct independent buses per test.
func New() *Bus {
	return &Bus{subs: make(map[Topic][]subscription), log: defaultLogger{}}
}

// handlerIdentity returns a stable identity for a Handler value, used to
// make Subscribe/Unsubscribe idempotent by (topic, handler-identity) pair.
// Go funcs aren't comparable, so we use the func pointer.
func handlerIdentity(h Handler) uintptr {
	return reflect.ValueOf(h).Pointer()
}

// Subscribe registers h for topic. Subscribing the same (topic, handler)
// pair twice is a no-op.
func (b *Bus) Subscribe(topic Topic, h Handler) {
	id := handlerIdentity(h)
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs[topic] {
		if s.id == id {
			return
		}
	}
	b.subs[topic] = append(b.subs[topic], subscription{id: id, handler: h})
}

// Unsubscribe removes h from topic, if present. A no-op otherwise.
func (b *Bus) Unsubscribe(topic Topic, h Handler) {
	id := handlerIdentity(h)
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[topic]
	for i, s := range list {
		if s.id == id {
			b.subs[topic] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// SubscriberCount returns the number of subscribers currently registered on
// topic — used by tests and the admin API's health surface.
func (b *Bus) SubscriberCount(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

// Publish dispatches payload to every subscriber of topic, in registration
// order, on the calling goroutine. A subscriber that panics is recovered
// and reported on ErrorTopic; the remaining subscribers still run.
func (b *Bus) Publish(topic Topic, payload any) {
	b.mu.RLock()
	// Snapshot the slice so handlers may Subscribe/Unsubscribe/Publish
	// during dispatch without corrupting this iteration or deadlocking.
	list := make([]subscription, len(b.subs[topic]))
	copy(list, b.subs[topic])
	b.mu.RUnlock()

	for _, s := range list {
		b.dispatchOne(topic, s.handler, payload)
	}
}

func (b *Bus) dispatchOne(topic Topic, h Handler, payload any) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("handler panic: %v", r)
			b.log.Error(err, "eventbus handler panicked", map[string]any{"topic": topic})
			if topic != ErrorTopic {
				b.Publish(ErrorTopic, HandlerError{Topic: topic, Err: err})
			}
		}
	}()
	h(payload)
}

// Topics returns the currently subscribed-to topic names, sorted — used by
// the admin API and tests; never relied on for dispatch ordering.
func (b *Bus) Topics() []Topic {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Topic, 0, len(b.subs))
	for t := range b.subs {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
