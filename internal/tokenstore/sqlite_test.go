// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tokenstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSQLiteTier_RoundTrip(t *testing.T) {
	tier, err := OpenSQLiteTier(filepath.Join(t.TempDir(), "state.db"), DefaultTokenKey)
	require.NoError(t, err)
	defer tier.Close()

	_, ok, err := tier.Get()
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, tier.Set("first"))
	require.NoError(t, tier.Set("second"))

	token, ok, err := tier.Get()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "second", token)

	require.NoError(t, tier.Remove())
	require.NoError(t, tier.Remove())

	_, ok, err = tier.Get()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSQLiteTier_KeysAreIndependent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	a, err := OpenSQLiteTier(path, "a")
	require.NoError(t, err)
	defer a.Close()
	require.NoError(t, a.Set("token-a"))
	require.NoError(t, a.Close())

	b, err := OpenSQLiteTier(path, "b")
	require.NoError(t, err)
	defer b.Close()

	_, ok, err := b.Get()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSQLiteTier_AsDurableTier(t *testing.T) {
	tier, err := OpenSQLiteTier(filepath.Join(t.TempDir(), "state.db"), DefaultTokenKey)
	require.NoError(t, err)

	store := New(tier, NewMemoryTier(), nil, nil)
	defer store.Close()

	require.NoError(t, store.Write("abc", WriteOptions{Persist: true}))
	cred, ok := store.Read()
	require.True(t, ok)
	require.Equal(t, Durable, cred.Tier)
	require.Equal(t, tier.Path(), store.DurablePath())

	store.Clear()
	_, ok = store.Read()
	require.False(t, ok)
}
