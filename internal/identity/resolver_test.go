// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package identity

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hala3amme/ezyskills/internal/authbus"
	"github.com/hala3amme/ezyskills/internal/model"
	"github.com/hala3amme/ezyskills/internal/tokenstore"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type reply struct {
	user *model.User
	err  error
}

// gatedFetcher blocks each Me call until the test releases it. Calls are
// numbered from 1 in arrival order.
type gatedFetcher struct {
	mu    sync.Mutex
	gates []chan reply
	calls atomic.Int32
}

func (g *gatedFetcher) gate(n int) chan reply {
	g.mu.Lock()
	defer g.mu.Unlock()
	for len(g.gates) < n {
		g.gates = append(g.gates, make(chan reply, 1))
	}
	return g.gates[n-1]
}

func (g *gatedFetcher) Me(ctx context.Context) (*model.MeResponse, error) {
	n := int(g.calls.Add(1))
	r := <-g.gate(n)
	if r.err != nil {
		return nil, r.err
	}
	return &model.MeResponse{User: *r.user}, nil
}

// instantFetcher answers immediately.
type instantFetcher struct {
	user  model.User
	err   error
	calls atomic.Int32
}

func (f *instantFetcher) Me(ctx context.Context) (*model.MeResponse, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &model.MeResponse{User: f.user}, nil
}

func newStore(bus *authbus.Bus) *tokenstore.Store {
	return tokenstore.New(tokenstore.NewMemoryTier(), tokenstore.NewMemoryTier(), bus, nil)
}

func waitFor(t *testing.T, r *Resolver, cond func(State) bool) {
	t.Helper()
	require.Eventually(t, func() bool { return cond(r.State()) }, 2*time.Second, 5*time.Millisecond)
}

// =============================================================================
// RESOLUTION
// =============================================================================

func TestResolver_NoCredentialSkipsFetch(t *testing.T) {
	bus := authbus.New(nil)
	fetcher := &instantFetcher{}
	r := NewResolver(newStore(bus), fetcher, bus, nil, nil)
	r.Start(context.Background())
	defer r.Stop()

	require.Equal(t, StatusUnauthenticated, r.State().Status)
	require.Zero(t, fetcher.calls.Load())
}

func TestResolver_ResolvesAfterLogin(t *testing.T) {
	bus := authbus.New(nil)
	store := newStore(bus)
	fetcher := &instantFetcher{user: model.User{ID: 42, Role: model.RoleTeacher}}
	r := NewResolver(store, fetcher, bus, nil, nil)
	r.Start(context.Background())
	defer r.Stop()

	require.NoError(t, store.Write("tok", tokenstore.DefaultWriteOptions()))
	waitFor(t, r, State.Authenticated)
	require.Equal(t, int64(42), r.State().User.ID)
}

func TestResolver_ClearIsImmediate(t *testing.T) {
	bus := authbus.New(nil)
	store := newStore(bus)
	require.NoError(t, store.Write("tok", tokenstore.DefaultWriteOptions()))
	fetcher := &instantFetcher{user: model.User{ID: 1}}
	r := NewResolver(store, fetcher, bus, nil, nil)
	r.Start(context.Background())
	defer r.Stop()
	waitFor(t, r, State.Authenticated)

	store.Clear()
	require.Equal(t, StatusUnauthenticated, r.State().Status)
	require.Nil(t, r.State().User)
}

func TestResolver_FetchErrorKeepsCredential(t *testing.T) {
	bus := authbus.New(nil)
	store := newStore(bus)
	require.NoError(t, store.Write("tok", tokenstore.DefaultWriteOptions()))
	r := NewResolver(store, &instantFetcher{err: errors.New("boom")}, bus, nil, nil)
	r.Start(context.Background())
	defer r.Stop()

	waitFor(t, r, func(s State) bool { return s.Status == StatusResolved })
	s := r.State()
	require.Nil(t, s.User)
	require.Equal(t, LoadErrorMessage, s.ErrorMessage)
	require.Error(t, s.Err)
	require.True(t, IsAuthenticated(store))
}

func TestResolver_LoadingKeepsPreviousUser(t *testing.T) {
	bus := authbus.New(nil)
	store := newStore(bus)
	fetcher := &gatedFetcher{}
	r := NewResolver(store, fetcher, bus, nil, nil)
	r.Start(context.Background())
	defer r.Stop()

	require.NoError(t, store.Write("a", tokenstore.DefaultWriteOptions()))
	fetcher.gate(1) <- reply{user: &model.User{ID: 1}}
	waitFor(t, r, State.Authenticated)

	require.NoError(t, store.Write("b", tokenstore.DefaultWriteOptions()))
	s := r.State()
	require.Equal(t, StatusLoading, s.Status)
	require.Equal(t, int64(1), s.User.ID)

	fetcher.gate(2) <- reply{user: &model.User{ID: 2}}
	waitFor(t, r, func(s State) bool { return s.Authenticated() && s.User.ID == 2 })
}

// =============================================================================
// LAST WRITER WINS
// =============================================================================

func TestResolver_StaleResultDiscarded(t *testing.T) {
	bus := authbus.New(nil)
	store := newStore(bus)
	fetcher := &gatedFetcher{}
	r := NewResolver(store, fetcher, bus, nil, nil)
	r.Start(context.Background())
	defer r.Stop()

	require.NoError(t, store.Write("A", tokenstore.DefaultWriteOptions()))
	require.Eventually(t, func() bool { return fetcher.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, store.Write("B", tokenstore.DefaultWriteOptions()))
	require.Eventually(t, func() bool { return fetcher.calls.Load() == 2 }, time.Second, 5*time.Millisecond)

	// B answers first, then the stale A response arrives.
	fetcher.gate(2) <- reply{user: &model.User{ID: 2}}
	waitFor(t, r, func(s State) bool { return s.Authenticated() && s.User.ID == 2 })

	fetcher.gate(1) <- reply{user: &model.User{ID: 1}}
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, int64(2), r.State().User.ID)
}

func TestResolver_ClearDuringFetch(t *testing.T) {
	bus := authbus.New(nil)
	store := newStore(bus)
	fetcher := &gatedFetcher{}
	r := NewResolver(store, fetcher, bus, nil, nil)
	r.Start(context.Background())
	defer r.Stop()

	require.NoError(t, store.Write("A", tokenstore.DefaultWriteOptions()))
	require.Eventually(t, func() bool { return fetcher.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	store.Clear()

	fetcher.gate(1) <- reply{user: &model.User{ID: 1}}
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, StatusUnauthenticated, r.State().Status)
}

// =============================================================================
// SUBSCRIBERS
// =============================================================================

func TestResolver_SubscribersSeeLatest(t *testing.T) {
	bus := authbus.New(nil)
	store := newStore(bus)
	r := NewResolver(store, &instantFetcher{user: model.User{ID: 5}}, bus, nil, nil)

	var last atomic.Value
	unsub := r.Subscribe(func(s State) { last.Store(s) })
	r.Start(context.Background())
	defer r.Stop()

	require.NoError(t, store.Write("tok", tokenstore.DefaultWriteOptions()))
	require.Eventually(t, func() bool {
		s, ok := last.Load().(State)
		return ok && s.Authenticated()
	}, 2*time.Second, 5*time.Millisecond)

	unsub()
	unsub()
	store.Clear()
	time.Sleep(50 * time.Millisecond)
	s := last.Load().(State)
	require.True(t, s.Authenticated(), "unsubscribed listener must not see later states")
}

func TestResolver_PanickingListenerIsolated(t *testing.T) {
	bus := authbus.New(nil)
	r := NewResolver(newStore(bus), &instantFetcher{}, bus, nil, nil)
	var calls atomic.Int32
	r.Subscribe(func(State) { panic("bad listener") })
	r.Subscribe(func(State) { calls.Add(1) })
	r.Start(context.Background())
	defer r.Stop()

	require.Eventually(t, func() bool { return calls.Load() > 0 }, time.Second, 5*time.Millisecond)
}

func TestResolver_StopIgnoresLaterChanges(t *testing.T) {
	bus := authbus.New(nil)
	store := newStore(bus)
	fetcher := &instantFetcher{user: model.User{ID: 1}}
	r := NewResolver(store, fetcher, bus, nil, nil)
	r.Start(context.Background())
	r.Stop()
	r.Stop()

	require.NoError(t, store.Write("tok", tokenstore.DefaultWriteOptions()))
	require.Zero(t, fetcher.calls.Load())
	require.Zero(t, bus.Subscribers(authbus.KindChanged))
}

func TestStatus_String(t *testing.T) {
	require.Equal(t, "unauthenticated", StatusUnauthenticated.String())
	require.Equal(t, "loading", StatusLoading.String())
	require.Equal(t, "resolved", StatusResolved.String())
}
