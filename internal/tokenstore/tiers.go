// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tokenstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hala3amme/ezyskills/internal/util"
)

// =============================================================================
// TIER INTERFACE
// =============================================================================

// Tier is one persistence scope for the credential.
type Tier interface {
	// Get returns the stored token. ok is false when nothing is stored.
	Get() (token string, ok bool, err error)
	// Set stores token, replacing any previous value.
	Set(token string) error
	// Remove deletes the stored token. Removing an empty tier is not an error.
	Remove() error
	// Name identifies the backend in logs.
	Name() string
}

// =============================================================================
// MEMORY TIER
// =============================================================================

// MemoryTier keeps the token in process memory.
type MemoryTier struct {
	mu    sync.RWMutex
	token string
	set   bool
}

// NewMemoryTier returns an empty in-memory tier.
func NewMemoryTier() *MemoryTier {
	return &MemoryTier{}
}

func (m *MemoryTier) Get() (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token, m.set, nil
}

func (m *MemoryTier) Set(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	m.set = true
	return nil
}

func (m *MemoryTier) Remove() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = ""
	m.set = false
	return nil
}

func (m *MemoryTier) Name() string { return "memory" }

// =============================================================================
// FILE TIER
// =============================================================================

// FileTier stores the token in a single file with 0600 permissions.
// Writes go through util.AtomicWriteFile so other processes never read a
// partial token.
type FileTier struct {
	path string
}

// NewFileTier returns a tier backed by the file at path.
func NewFileTier(path string) *FileTier {
	return &FileTier{path: path}
}

// Path returns the backing file path.
func (f *FileTier) Path() string { return f.path }

func (f *FileTier) Get() (string, bool, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read credential file: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", false, nil
	}
	return token, true, nil
}

func (f *FileTier) Set(token string) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return fmt.Errorf("failed to create credential directory: %w", err)
	}
	if err := util.AtomicWriteFile(f.path, []byte(token), 0600); err != nil {
		return fmt.Errorf("failed to write credential file: %w", err)
	}
	return nil
}

func (f *FileTier) Remove() error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete credential file: %w", err)
	}
	return nil
}

func (f *FileTier) Name() string { return "file" }
