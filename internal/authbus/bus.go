// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package authbus

import (
	"log/slog"
	"sync"
	"time"
)

// =============================================================================
// EVENT TYPES
// =============================================================================

// Kind identifies what an Event signals.
type Kind int

const (
	// KindChanged means the credential state may have changed.
	KindChanged Kind = iota
	// KindUnauthorized means the server rejected the credential.
	KindUnauthorized
	// KindEnrollmentsChanged means a realtime notification reported new
	// enrollment activity.
	KindEnrollmentsChanged
)

// String returns the wire-style name of the kind.
func (k Kind) String() string {
	switch k {
	case KindChanged:
		return "auth:changed"
	case KindUnauthorized:
		return "auth:unauthorized"
	case KindEnrollmentsChanged:
		return "enrollments:changed"
	default:
		return "unknown"
	}
}

// Source records where an Event originated.
type Source int

const (
	SourceLocal Source = iota
	SourceCrossProcess
)

// String returns a short label for logs.
func (s Source) String() string {
	if s == SourceCrossProcess {
		return "cross-process"
	}
	return "local"
}

// Event is the single normalized signal type delivered to subscribers.
type Event struct {
	Kind   Kind
	Source Source
	At     time.Time
}

// Handler receives events.
type Handler func(Event)

// =============================================================================
// BUS
// =============================================================================

type subscription struct {
	id      uint64
	handler Handler
}

// Bus fans events out to subscribers. The zero value is not usable; call New.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[Kind][]subscription
	logger *slog.Logger
}

// New creates an empty bus. A nil logger uses slog.Default().
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:   make(map[Kind][]subscription),
		logger: logger.With("component", "authbus"),
	}
}

// Subscribe registers h for events of the given kind and returns a function
// that removes it. The returned function is safe to call more than once.
func (b *Bus) Subscribe(kind Kind, h Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[kind] = append(b.subs[kind], subscription{id: id, handler: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(kind, id) })
	}
}

func (b *Bus) remove(kind Kind, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[kind]
	for i, s := range subs {
		if s.id == id {
			// Copy so an in-progress Emit keeps iterating its own snapshot.
			next := make([]subscription, 0, len(subs)-1)
			next = append(next, subs[:i]...)
			next = append(next, subs[i+1:]...)
			b.subs[kind] = next
			return
		}
	}
}

// Emit delivers e to every handler subscribed to e.Kind at the time of the
// call, synchronously and in registration order. Handlers may subscribe,
// unsubscribe or emit from inside a handler. A panicking handler is logged
// and the remaining handlers still run.
func (b *Bus) Emit(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}

	b.mu.RLock()
	snapshot := b.subs[e.Kind]
	b.mu.RUnlock()

	for _, s := range snapshot {
		b.deliver(s, e)
	}
}

// EmitChanged emits a KindChanged event from the given source.
func (b *Bus) EmitChanged(source Source) {
	b.Emit(Event{Kind: KindChanged, Source: source})
}

// EmitUnauthorized emits a local KindUnauthorized event.
func (b *Bus) EmitUnauthorized() {
	b.Emit(Event{Kind: KindUnauthorized, Source: SourceLocal})
}

func (b *Bus) deliver(s subscription, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("subscriber panicked",
				"kind", e.Kind.String(),
				"subscriber", s.id,
				"panic", r)
		}
	}()
	s.handler(e)
}

// Subscribers returns the number of handlers registered for kind.
func (b *Bus) Subscribers(kind Kind) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[kind])
}
