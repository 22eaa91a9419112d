// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

// =============================================================================
// ATOMIC WRITE TESTS
// =============================================================================

func TestAtomicWriteFile_Basic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")

	require.NoError(t, AtomicWriteFile(path, []byte("abc"), 0600))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "abc", string(content))
}

func TestAtomicWriteFile_CreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "deep", "token")

	require.NoError(t, AtomicWriteFile(path, []byte("abc"), 0600))

	_, err := os.Stat(path)
	require.NoError(t, err)
}

func TestAtomicWriteFile_Overwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")

	require.NoError(t, AtomicWriteFile(path, []byte("first"), 0600))
	require.NoError(t, AtomicWriteFile(path, []byte("second"), 0600))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "second", string(content))
}

func TestAtomicWriteFile_Permissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits are not enforced on windows")
	}
	path := filepath.Join(t.TempDir(), "token")

	require.NoError(t, AtomicWriteFile(path, []byte("abc"), 0600))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestAtomicWriteFile_NoTempLeftovers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "token")

	for i := 0; i < 5; i++ {
		require.NoError(t, AtomicWriteFile(path, []byte("abc"), 0600))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

// =============================================================================
// STRING TESTS
// =============================================================================

func TestTruncateWidth(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		width int
		want  string
	}{
		{"fits", "hello", 10, "hello"},
		{"exact", "hello", 5, "hello"},
		{"cut", "hello world", 8, "hello..."},
		{"tiny", "hello", 2, "he"},
		{"zero", "hello", 0, ""},
		{"wide runes", "日本語テキスト", 7, "日本..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, TruncateWidth(tt.in, tt.width))
		})
	}
}

func TestPadWidth(t *testing.T) {
	require.Equal(t, "ab   ", PadWidth("ab", 5))
	require.Equal(t, "ab...", PadWidth("abcdefgh", 5))
}

func TestFingerprint(t *testing.T) {
	require.Equal(t, "none", Fingerprint(""))

	fp := Fingerprint("secret-token")
	require.Len(t, fp, 12)
	require.Equal(t, fp, Fingerprint("secret-token"))
	require.NotEqual(t, fp, Fingerprint("other-token"))
	require.NotContains(t, fp, "secret")
}

func TestTrimTrailingSlashes(t *testing.T) {
	require.Equal(t, "http://x", TrimTrailingSlashes("http://x///"))
	require.Equal(t, "http://x", TrimTrailingSlashes("http://x"))
}
