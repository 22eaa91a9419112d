// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package identity

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hala3amme/ezyskills/internal/authbus"
	"github.com/hala3amme/ezyskills/internal/metrics"
	"github.com/hala3amme/ezyskills/internal/model"
	"github.com/hala3amme/ezyskills/internal/tokenstore"
)

// LoadErrorMessage is shown when the identity fetch fails.
const LoadErrorMessage = "Failed to load user."

// Status is the resolver's lifecycle position.
type Status int

const (
	StatusUnauthenticated Status = iota
	StatusLoading
	StatusResolved
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case StatusUnauthenticated:
		return "unauthenticated"
	case StatusLoading:
		return "loading"
	case StatusResolved:
		return "resolved"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// MarshalText renders the status by name in JSON.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// State is a snapshot of the resolved identity. A Resolved state with a nil
// User carries the fetch error.
type State struct {
	Status       Status      `json:"status"`
	User         *model.User `json:"user,omitempty"`
	Err          error       `json:"-"`
	ErrorMessage string      `json:"error,omitempty"`
}

// Authenticated reports whether a user is known.
func (s State) Authenticated() bool {
	return s.Status == StatusResolved && s.User != nil
}

// CredentialReader reports the current credential.
type CredentialReader interface {
	Read() (tokenstore.Credential, bool)
}

// UserFetcher loads the identity for the current credential.
type UserFetcher interface {
	Me(ctx context.Context) (*model.MeResponse, error)
}

// IsAuthenticated reports whether a credential is present. It does not
// check the credential with the server.
func IsAuthenticated(store CredentialReader) bool {
	_, ok := store.Read()
	return ok
}

// Resolver tracks the identity bound to the stored credential.
type Resolver struct {
	store   CredentialReader
	fetcher UserFetcher
	bus     *authbus.Bus
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu         sync.Mutex
	state      State
	generation uint64
	running    bool
	ctx        context.Context
	unsub      func()

	listenerMu sync.RWMutex
	listeners  map[uint64]func(State)
	nextID     uint64

	notifyCh chan struct{}
	done     chan struct{}
	loopDone chan struct{}
}

// NewResolver creates a resolver. m may be nil.
func NewResolver(store CredentialReader, fetcher UserFetcher, bus *authbus.Bus, m *metrics.Metrics, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		store:     store,
		fetcher:   fetcher,
		bus:       bus,
		metrics:   m,
		logger:    logger.With("component", "identity"),
		listeners: make(map[uint64]func(State)),
		notifyCh:  make(chan struct{}, 1),
	}
}

// Start subscribes to credential changes and performs the initial resolve.
// Fetches run with ctx. Calling Start twice is a no-op.
func (r *Resolver) Start(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.ctx = ctx
	r.done = make(chan struct{})
	r.loopDone = make(chan struct{})
	r.mu.Unlock()

	go r.deliverLoop(r.done, r.loopDone)

	if r.bus != nil {
		unsub := r.bus.Subscribe(authbus.KindChanged, func(authbus.Event) { r.Refresh() })
		r.mu.Lock()
		r.unsub = unsub
		r.mu.Unlock()
	}
	r.Refresh()
}

// Stop unsubscribes and stops delivery. In-flight fetches finish but their
// results are discarded.
func (r *Resolver) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.generation++
	unsub, done, loopDone := r.unsub, r.done, r.loopDone
	r.unsub = nil
	r.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	close(done)
	<-loopDone
}

// State returns the current snapshot.
func (r *Resolver) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Subscribe registers fn for state changes and returns an idempotent
// unsubscribe function.
func (r *Resolver) Subscribe(fn func(State)) func() {
	r.listenerMu.Lock()
	r.nextID++
	id := r.nextID
	r.listeners[id] = fn
	r.listenerMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.listenerMu.Lock()
			delete(r.listeners, id)
			r.listenerMu.Unlock()
		})
	}
}

// Refresh re-reads the credential and resolves again. An absent credential
// moves to Unauthenticated immediately without a fetch.
func (r *Resolver) Refresh() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.generation++
	gen := r.generation

	if _, ok := r.store.Read(); !ok {
		r.state = State{Status: StatusUnauthenticated}
		r.mu.Unlock()
		r.logger.Debug("no credential", "generation", gen)
		r.signal()
		return
	}

	// The previous user stays visible while loading.
	r.state = State{Status: StatusLoading, User: r.state.User}
	ctx := r.ctx
	r.mu.Unlock()
	r.signal()

	go r.fetch(ctx, gen)
}

func (r *Resolver) fetch(ctx context.Context, gen uint64) {
	resp, err := r.fetcher.Me(ctx)

	r.mu.Lock()
	if gen != r.generation {
		r.mu.Unlock()
		r.metrics.ObserveIdentityFetch("stale")
		r.logger.Debug("discarding stale identity", "generation", gen)
		return
	}
	if err != nil {
		r.state = State{Status: StatusResolved, Err: err, ErrorMessage: LoadErrorMessage}
	} else {
		user := resp.User
		r.state = State{Status: StatusResolved, User: &user}
	}
	r.mu.Unlock()

	if err != nil {
		r.metrics.ObserveIdentityFetch("error")
		r.logger.Warn("identity fetch failed", "generation", gen, "error", err)
	} else {
		r.metrics.ObserveIdentityFetch("ok")
		r.logger.Debug("identity resolved", "generation", gen, "user", resp.User.String())
	}
	r.signal()
}

func (r *Resolver) signal() {
	select {
	case r.notifyCh <- struct{}{}:
	default:
	}
}

func (r *Resolver) deliverLoop(done <-chan struct{}, loopDone chan<- struct{}) {
	defer close(loopDone)
	for {
		select {
		case <-done:
			return
		case <-r.notifyCh:
			state := r.State()
			r.listenerMu.RLock()
			fns := make([]func(State), 0, len(r.listeners))
			for _, fn := range r.listeners {
				fns = append(fns, fn)
			}
			r.listenerMu.RUnlock()
			for _, fn := range fns {
				r.deliver(fn, state)
			}
		}
	}
}

func (r *Resolver) deliver(fn func(State), s State) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("identity listener panicked", "panic", rec)
		}
	}()
	fn(s)
}
