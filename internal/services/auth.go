// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hala3amme/ezyskills/internal/api"
	"github.com/hala3amme/ezyskills/internal/model"
	"github.com/hala3amme/ezyskills/internal/tokenstore"
)

// ErrCredentialNotSaved means the server issued a token but no storage tier
// accepted it.
var ErrCredentialNotSaved = errors.New("credential could not be saved")

// CredentialWriter is the slice of the token store AuthService needs.
type CredentialWriter interface {
	Read() (tokenstore.Credential, bool)
	Write(token string, opts tokenstore.WriteOptions) error
	Clear()
}

// RegisterPayload is the body of POST /auth/register.
type RegisterPayload struct {
	Name                 string `json:"name"`
	Email                string `json:"email"`
	PhoneNumber          string `json:"phone_number,omitempty"`
	Password             string `json:"password"`
	PasswordConfirmation string `json:"password_confirmation"`
}

// LoginPayload is the body of POST /auth/login.
type LoginPayload struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	DeviceName string `json:"device_name,omitempty"`
}

// AuthService handles registration, login, identity and logout.
type AuthService struct {
	client *api.Client
	store  CredentialWriter
	logger *slog.Logger
}

// NewAuthService creates an AuthService.
func NewAuthService(client *api.Client, store CredentialWriter, logger *slog.Logger) *AuthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		client: client,
		store:  store,
		logger: logger.With("component", "auth"),
	}
}

// Register creates an account and stores the issued token in the tier
// selected by opts.
func (s *AuthService) Register(ctx context.Context, payload RegisterPayload, opts tokenstore.WriteOptions) (*model.AuthResponse, error) {
	if err := payload.Validate(); err != nil {
		return nil, invalid(err)
	}
	if payload.PhoneNumber != "" {
		payload.PhoneNumber, _ = NormalizePhone(payload.PhoneNumber)
	}

	var resp model.AuthResponse
	if err := s.client.Post(ctx, "/auth/register", payload, &resp); err != nil {
		return nil, err
	}
	if err := s.persist(resp.Token, opts); err != nil {
		return &resp, err
	}
	s.logger.Info("registered", "user", resp.User.String(), "persist", opts.Persist)
	return &resp, nil
}

// Login authenticates and stores the issued token in the tier selected by
// opts.
func (s *AuthService) Login(ctx context.Context, payload LoginPayload, opts tokenstore.WriteOptions) (*model.AuthResponse, error) {
	if err := payload.Validate(); err != nil {
		return nil, invalid(err)
	}

	var resp model.AuthResponse
	if err := s.client.Post(ctx, "/auth/login", payload, &resp); err != nil {
		return nil, err
	}
	if err := s.persist(resp.Token, opts); err != nil {
		return &resp, err
	}
	s.logger.Info("logged in", "user", resp.User.String(), "persist", opts.Persist)
	return &resp, nil
}

// persist treats a partial write (token stored, other tier not cleared) as
// success.
func (s *AuthService) persist(token string, opts tokenstore.WriteOptions) error {
	err := s.store.Write(token, opts)
	if err == nil {
		return nil
	}
	if _, ok := s.store.Read(); ok && !errors.Is(err, tokenstore.ErrEmptyToken) {
		s.logger.Warn("credential stored with warnings", "error", err)
		return nil
	}
	return fmt.Errorf("%w: %v", ErrCredentialNotSaved, err)
}

// Me fetches the identity bound to the current credential.
func (s *AuthService) Me(ctx context.Context) (*model.MeResponse, error) {
	var resp model.MeResponse
	if err := s.client.Get(ctx, "/auth/me", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Logout revokes the token server side. The local credential is cleared
// whether or not the request succeeds; the returned error is for display.
// A 401 has already cleared it through the client, so it is not cleared
// twice.
func (s *AuthService) Logout(ctx context.Context) (*model.MessageResponse, error) {
	var resp model.MessageResponse
	if err := s.client.Post(ctx, "/auth/logout", nil, &resp); err != nil {
		s.logger.Debug("server logout failed", "error", err)
		if !api.IsUnauthorized(err) {
			s.store.Clear()
		}
		return nil, err
	}
	s.store.Clear()
	return &resp, nil
}
