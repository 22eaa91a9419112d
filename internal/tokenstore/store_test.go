// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tokenstore

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hala3amme/ezyskills/internal/authbus"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// brokenTier fails every operation, like storage in a locked-down sandbox.
type brokenTier struct {
	getErr, setErr, removeErr error
}

func (b *brokenTier) Get() (string, bool, error) { return "", false, b.getErr }
func (b *brokenTier) Set(string) error           { return b.setErr }
func (b *brokenTier) Remove() error              { return b.removeErr }
func (b *brokenTier) Name() string               { return "broken" }

func newTestStore(t *testing.T) (*Store, *FileTier, *MemoryTier, *int) {
	t.Helper()
	bus := authbus.New(nil)
	signals := 0
	bus.Subscribe(authbus.KindChanged, func(authbus.Event) { signals++ })

	durable := NewFileTier(filepath.Join(t.TempDir(), "token"))
	ephemeral := NewMemoryTier()
	return New(durable, ephemeral, bus, nil), durable, ephemeral, &signals
}

func tierValue(t *testing.T, tier Tier) (string, bool) {
	t.Helper()
	token, ok, err := tier.Get()
	require.NoError(t, err)
	return token, ok
}

// =============================================================================
// READ TESTS
// =============================================================================

func TestStore_ReadEmpty(t *testing.T) {
	store, _, _, _ := newTestStore(t)

	_, ok := store.Read()
	require.False(t, ok)
}

func TestStore_ReadPrefersEphemeral(t *testing.T) {
	store, durable, ephemeral, _ := newTestStore(t)
	// Both tiers populated behind the store's back.
	require.NoError(t, durable.Set("durable-token"))
	require.NoError(t, ephemeral.Set("ephemeral-token"))

	cred, ok := store.Read()
	require.True(t, ok)
	require.Equal(t, "ephemeral-token", cred.Value)
	require.Equal(t, Ephemeral, cred.Tier)
}

func TestStore_ReadFallsBackToDurable(t *testing.T) {
	store, durable, _, _ := newTestStore(t)
	require.NoError(t, durable.Set("durable-token"))

	cred, ok := store.Read()
	require.True(t, ok)
	require.Equal(t, "durable-token", cred.Value)
	require.Equal(t, Durable, cred.Tier)
}

func TestStore_ReadStorageUnavailable(t *testing.T) {
	broken := &brokenTier{getErr: errors.New("access denied")}
	store := New(broken, broken, nil, nil)

	var cred Credential
	var ok bool
	require.NotPanics(t, func() { cred, ok = store.Read() })
	require.False(t, ok)
	require.Empty(t, cred.Value)
}

// =============================================================================
// WRITE TESTS
// =============================================================================

func TestStore_WritePersist(t *testing.T) {
	store, durable, ephemeral, signals := newTestStore(t)

	require.NoError(t, store.Write("abc", WriteOptions{Persist: true}))

	token, ok := tierValue(t, durable)
	require.True(t, ok)
	require.Equal(t, "abc", token)
	_, ok = tierValue(t, ephemeral)
	require.False(t, ok)
	require.Equal(t, 1, *signals)
}

func TestStore_WriteSessionOnly(t *testing.T) {
	store, durable, ephemeral, signals := newTestStore(t)

	require.NoError(t, store.Write("abc", WriteOptions{Persist: false}))

	token, ok := tierValue(t, ephemeral)
	require.True(t, ok)
	require.Equal(t, "abc", token)
	_, ok = tierValue(t, durable)
	require.False(t, ok)
	require.Equal(t, 1, *signals)
}

func TestStore_TierExclusivity(t *testing.T) {
	store, durable, _, _ := newTestStore(t)

	require.NoError(t, store.Write("token1", WriteOptions{Persist: true}))
	require.NoError(t, store.Write("token2", WriteOptions{Persist: false}))

	cred, ok := store.Read()
	require.True(t, ok)
	require.Equal(t, "token2", cred.Value)
	_, ok = tierValue(t, durable)
	require.False(t, ok, "durable tier must be empty after an ephemeral write")

	_, err := os.Stat(durable.Path())
	require.True(t, os.IsNotExist(err))
}

func TestStore_TierExclusivityReverse(t *testing.T) {
	store, _, ephemeral, _ := newTestStore(t)

	require.NoError(t, store.Write("token1", WriteOptions{Persist: false}))
	require.NoError(t, store.Write("token2", WriteOptions{Persist: true}))

	cred, ok := store.Read()
	require.True(t, ok)
	require.Equal(t, "token2", cred.Value)
	require.Equal(t, Durable, cred.Tier)
	_, ok = tierValue(t, ephemeral)
	require.False(t, ok)
}

func TestStore_WriteEmitsBeforeReturning(t *testing.T) {
	bus := authbus.New(nil)
	store := New(NewMemoryTier(), NewMemoryTier(), bus, nil)

	var seen string
	bus.Subscribe(authbus.KindChanged, func(authbus.Event) {
		seen, _ = store.Token()
	})

	require.NoError(t, store.Write("abc", DefaultWriteOptions()))
	require.Equal(t, "abc", seen)
}

func TestStore_WriteFailureDoesNotEmit(t *testing.T) {
	bus := authbus.New(nil)
	signals := 0
	bus.Subscribe(authbus.KindChanged, func(authbus.Event) { signals++ })

	broken := &brokenTier{setErr: errors.New("quota exceeded")}
	store := New(broken, NewMemoryTier(), bus, nil)

	err := store.Write("abc", WriteOptions{Persist: true})
	require.Error(t, err)
	require.Equal(t, 0, signals)
}

func TestStore_WriteEmitsWhenOnlySecondaryFails(t *testing.T) {
	bus := authbus.New(nil)
	signals := 0
	bus.Subscribe(authbus.KindChanged, func(authbus.Event) { signals++ })

	broken := &brokenTier{removeErr: errors.New("read-only")}
	store := New(broken, NewMemoryTier(), bus, nil)

	err := store.Write("abc", WriteOptions{Persist: false})
	require.Error(t, err)
	require.Equal(t, 1, signals)
}

func TestStore_WriteEmptyToken(t *testing.T) {
	store, _, _, signals := newTestStore(t)

	require.ErrorIs(t, store.Write("   ", DefaultWriteOptions()), ErrEmptyToken)
	require.Equal(t, 0, *signals)
}

func TestDefaultWriteOptions(t *testing.T) {
	require.True(t, DefaultWriteOptions().Persist)
}

// =============================================================================
// CLEAR TESTS
// =============================================================================

func TestStore_ClearRemovesBothTiers(t *testing.T) {
	store, durable, ephemeral, signals := newTestStore(t)
	require.NoError(t, durable.Set("a"))
	require.NoError(t, ephemeral.Set("b"))

	store.Clear()

	_, ok := store.Read()
	require.False(t, ok)
	_, ok = tierValue(t, durable)
	require.False(t, ok)
	_, ok = tierValue(t, ephemeral)
	require.False(t, ok)
	require.Equal(t, 1, *signals)
}

func TestStore_ClearIsIdempotent(t *testing.T) {
	store, _, _, signals := newTestStore(t)
	require.NoError(t, store.Write("abc", DefaultWriteOptions()))
	*signals = 0

	require.NotPanics(t, func() {
		store.Clear()
		store.Clear()
	})

	_, ok := store.Read()
	require.False(t, ok)
	require.Equal(t, 2, *signals, "every clear emits, even when nothing was stored")
}

func TestStore_ClearWithBrokenStorageStillEmits(t *testing.T) {
	bus := authbus.New(nil)
	signals := 0
	bus.Subscribe(authbus.KindChanged, func(authbus.Event) { signals++ })

	broken := &brokenTier{removeErr: errors.New("denied")}
	store := New(broken, broken, bus, nil)

	require.NotPanics(t, store.Clear)
	require.Equal(t, 1, signals)
}

// =============================================================================
// MISC TESTS
// =============================================================================

func TestStore_DurablePath(t *testing.T) {
	store, durable, _, _ := newTestStore(t)
	require.Equal(t, durable.Path(), store.DurablePath())

	memOnly := New(NewMemoryTier(), NewMemoryTier(), nil, nil)
	require.Empty(t, memOnly.DurablePath())
}

func TestStore_SharedDurableAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	first := New(NewFileTier(path), NewMemoryTier(), nil, nil)
	second := New(NewFileTier(path), NewMemoryTier(), nil, nil)

	require.NoError(t, first.Write("shared", DefaultWriteOptions()))

	cred, ok := second.Read()
	require.True(t, ok)
	require.Equal(t, "shared", cred.Value)

	// Last write wins.
	require.NoError(t, second.Write("newer", DefaultWriteOptions()))
	cred, ok = first.Read()
	require.True(t, ok)
	require.Equal(t, "newer", cred.Value)
}

func TestStore_DurableChangedIgnoresOwnWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	store := New(NewFileTier(path), NewMemoryTier(), nil, nil)
	other := New(NewFileTier(path), NewMemoryTier(), nil, nil)

	require.False(t, store.DurableChanged())

	require.NoError(t, store.Write("mine", DefaultWriteOptions()))
	require.False(t, store.DurableChanged())

	require.NoError(t, other.Write("theirs", DefaultWriteOptions()))
	require.True(t, store.DurableChanged())
	require.False(t, store.DurableChanged())

	// Removal by another process after this one had already cleared.
	store.Clear()
	require.False(t, store.DurableChanged())
	require.NoError(t, other.Write("again", DefaultWriteOptions()))
	require.True(t, store.DurableChanged())
	other.Clear()
	require.True(t, store.DurableChanged())

	// A session-only write removes the durable copy without a new state.
	require.NoError(t, store.Write("mine", DefaultWriteOptions()))
	require.NoError(t, store.Write("mine", WriteOptions{Persist: false}))
	require.False(t, store.DurableChanged())
}

func TestStore_ConcurrentAccess(t *testing.T) {
	store := New(NewMemoryTier(), NewMemoryTier(), authbus.New(nil), nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			_ = store.Write("abc", WriteOptions{Persist: true})
		}()
		go func() {
			defer wg.Done()
			store.Clear()
		}()
		go func() {
			defer wg.Done()
			_, _ = store.Read()
		}()
	}
	wg.Wait()
}

func TestPersistenceTier_String(t *testing.T) {
	require.Equal(t, "durable", Durable.String())
	require.Equal(t, "ephemeral", Ephemeral.String())
}
