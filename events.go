package sockett

import (
	"sync"

	"github.com/sockett/sockett.go/pkg/transport"
)

// EventName is one of the six lifecycle events a Socket reports.
type EventName string

const (
	// EventOpen carries a *transport.OpenEvent.
	EventOpen EventName = "open"
	// EventMessage carries a *transport.MessageEvent.
	EventMessage EventName = "message"
	// EventReconnect carries the *transport.CloseEvent or *transport.ErrorEvent
	// that caused the reconnection. It fires right before the new transport is dialed.
	EventReconnect EventName = "reconnect"
	// EventMaximum carries the *transport.CloseEvent or *transport.ErrorEvent
	// for which no reconnection will be attempted.
	EventMaximum EventName = "maximum"
	// EventClose carries a *transport.CloseEvent.
	EventClose EventName = "close"
	// EventError carries a *transport.ErrorEvent.
	EventError EventName = "error"
)

// Events lists every EventName.
var Events = []EventName{EventOpen, EventMessage, EventReconnect, EventMaximum, EventClose, EventError}

// Listener receives the transport-native event value unmodified.
type Listener func(ev transport.Event)

type subscription struct {
	id   uint64
	fn   Listener
	once bool
}

// emitter maps event names to their listeners.
// Listeners run synchronously, in registration order, on the goroutine that emits.
type emitter struct {
	lock   sync.Mutex
	nextID uint64
	subs   map[EventName][]subscription
}

func (e *emitter) add(name EventName, fn Listener, once bool) func() {
	e.lock.Lock()
	defer e.lock.Unlock()

	if e.subs == nil {
		e.subs = make(map[EventName][]subscription)
	}

	e.nextID++
	id := e.nextID
	e.subs[name] = append(e.subs[name], subscription{id: id, fn: fn, once: once})

	return func() { e.remove(name, id) }
}

func (e *emitter) remove(name EventName, id uint64) {
	e.lock.Lock()
	defer e.lock.Unlock()

	subs := e.subs[name]
	for i, sub := range subs {
		if sub.id == id {
			e.subs[name] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

func (e *emitter) removeAll(name EventName) {
	e.lock.Lock()
	defer e.lock.Unlock()
	delete(e.subs, name)
}

func (e *emitter) count(name EventName) int {
	e.lock.Lock()
	defer e.lock.Unlock()
	return len(e.subs[name])
}

// emit runs the listeners registered for name when emit is called.
// Listeners added or removed while dispatching take effect on the next emit.
func (e *emitter) emit(name EventName, ev transport.Event) {
	e.lock.Lock()
	subs := e.subs[name]
	if len(subs) == 0 {
		e.lock.Unlock()
		return
	}
	snapshot := append([]subscription(nil), subs...)

	kept := subs[:0:0]
	for _, sub := range subs {
		if !sub.once {
			kept = append(kept, sub)
		}
	}
	e.subs[name] = kept
	e.lock.Unlock()

	for _, sub := range snapshot {
		sub.fn(ev)
	}
}

// On registers fn for the named event. The returned function unregisters it.
func (s *Socket) On(name EventName, fn Listener) (unsubscribe func()) {
	return s.events.add(name, fn, false)
}

// Once registers fn for the next occurrence of the named event only.
func (s *Socket) Once(name EventName, fn Listener) (unsubscribe func()) {
	return s.events.add(name, fn, true)
}

// Off unregisters every listener of the named event.
func (s *Socket) Off(name EventName) {
	s.events.removeAll(name)
}

// ListenerCount returns how many listeners are registered for the named event.
func (s *Socket) ListenerCount(name EventName) int {
	return s.events.count(name)
}
