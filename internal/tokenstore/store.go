// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tokenstore

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/hala3amme/ezyskills/internal/authbus"
	"github.com/hala3amme/ezyskills/internal/util"
)

// DefaultTokenKey names the credential in every backend.
const DefaultTokenKey = "ezy:token"

// ErrEmptyToken is returned by Write when asked to store an empty token.
var ErrEmptyToken = errors.New("token is empty")

// =============================================================================
// CREDENTIAL
// =============================================================================

// PersistenceTier identifies where a credential lives.
type PersistenceTier int

const (
	// Durable survives restarts and is visible to every ezy process.
	Durable PersistenceTier = iota
	// Ephemeral is confined to the current process.
	Ephemeral
)

// String implements fmt.Stringer.
func (p PersistenceTier) String() string {
	if p == Ephemeral {
		return "ephemeral"
	}
	return "durable"
}

// Credential is the opaque bearer token and the tier it came from. The
// client assumes nothing about the token's structure.
type Credential struct {
	Value string
	Tier  PersistenceTier
}

// WriteOptions selects the tier for Write.
type WriteOptions struct {
	// Persist stores the token in the Durable tier ("remember me").
	// When false the token is kept for this process only.
	Persist bool
}

// DefaultWriteOptions remembers the credential across restarts.
func DefaultWriteOptions() WriteOptions {
	return WriteOptions{Persist: true}
}

// =============================================================================
// STORE
// =============================================================================

// Store owns the persisted credential bytes. All methods are safe for
// concurrent use as long as the tiers are.
type Store struct {
	durable   Tier
	ephemeral Tier
	bus       *authbus.Bus
	logger    *slog.Logger

	// known is the fingerprint of the durable token as this process last
	// wrote or observed it, "" when absent.
	mu    sync.Mutex
	known string
}

// New creates a store over the two tiers. bus may be nil, in which case no
// signals are emitted.
func New(durable, ephemeral Tier, bus *authbus.Bus, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		durable:   durable,
		ephemeral: ephemeral,
		bus:       bus,
		logger:    logger.With("component", "tokenstore"),
	}
	s.known = s.durableFingerprint()
	return s
}

// Read returns the current credential. The Ephemeral tier wins when both
// would answer. Unreadable storage counts as absent.
func (s *Store) Read() (Credential, bool) {
	if token, ok := s.get(s.ephemeral); ok {
		return Credential{Value: token, Tier: Ephemeral}, true
	}
	if token, ok := s.get(s.durable); ok {
		return Credential{Value: token, Tier: Durable}, true
	}
	return Credential{}, false
}

// Token is Read reduced to the token value.
func (s *Store) Token() (string, bool) {
	cred, ok := s.Read()
	return cred.Value, ok
}

func (s *Store) get(t Tier) (string, bool) {
	token, ok, err := t.Get()
	if err != nil {
		s.logger.Debug("storage unavailable, treating credential as absent",
			"tier", t.Name(), "error", err)
		return "", false
	}
	return token, ok && token != ""
}

// Write stores token in the tier chosen by opts and removes it from the
// other tier. When the chosen tier accepted the token, one KindChanged
// event is emitted before Write returns, even if clearing the other tier
// failed. The returned error is informational; the store stays usable.
func (s *Store) Write(token string, opts WriteOptions) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrEmptyToken
	}

	primary, secondary := s.ephemeral, s.durable
	tier := Ephemeral
	if opts.Persist {
		primary, secondary = s.durable, s.ephemeral
		tier = Durable
	}

	if err := primary.Set(token); err != nil {
		s.logger.Warn("credential write failed",
			"tier", tier.String(), "backend", primary.Name(), "error", err)
		return err
	}

	var clearErr error
	if err := secondary.Remove(); err != nil {
		s.logger.Warn("failed to clear other credential tier",
			"backend", secondary.Name(), "error", err)
		clearErr = err
	}
	s.remember()

	s.logger.Info("credential stored",
		"tier", tier.String(),
		"fingerprint", util.Fingerprint(token))
	s.emit()
	return clearErr
}

// Clear removes the credential from both tiers and always emits one
// KindChanged event, whether or not a credential was present.
func (s *Store) Clear() {
	for _, t := range []Tier{s.durable, s.ephemeral} {
		if err := t.Remove(); err != nil {
			s.logger.Warn("failed to clear credential tier",
				"backend", t.Name(), "error", err)
		}
	}
	s.remember()
	s.logger.Debug("credential cleared")
	s.emit()
}

func (s *Store) emit() {
	if s.bus != nil {
		s.bus.EmitChanged(authbus.SourceLocal)
	}
}

func (s *Store) durableFingerprint() string {
	token, ok := s.get(s.durable)
	if !ok {
		return ""
	}
	return util.Fingerprint(token)
}

// remember records the durable tier as this process left it.
func (s *Store) remember() {
	fp := s.durableFingerprint()
	s.mu.Lock()
	s.known = fp
	s.mu.Unlock()
}

// DurableChanged reports whether the durable token differs from the one
// this process last wrote or saw, and remembers the current one. The
// cross-process watcher uses it to drop the echo of the store's own writes.
func (s *Store) DurableChanged() bool {
	fp := s.durableFingerprint()
	s.mu.Lock()
	defer s.mu.Unlock()
	if fp == s.known {
		return false
	}
	s.known = fp
	return true
}

// DurablePath returns the file behind the Durable tier, or "" when the
// backend is not file based. The cross-process watcher observes this path.
func (s *Store) DurablePath() string {
	if p, ok := s.durable.(interface{ Path() string }); ok {
		return p.Path()
	}
	return ""
}

// Close releases backend resources held by the tiers.
func (s *Store) Close() error {
	var errs []error
	for _, t := range []Tier{s.durable, s.ephemeral} {
		if c, ok := t.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
