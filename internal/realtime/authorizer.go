// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/hala3amme/ezyskills/internal/util"
)

// AuthPath is the channel authorization endpoint. It lives at the API
// origin, outside the /api prefix.
const AuthPath = "/broadcasting/auth"

// DefaultAuthFailure is used when the server gives no reason.
const DefaultAuthFailure = "Broadcast auth failed"

const maxAuthResponse = 1 << 20

// ErrChannelAuth matches every *ChannelAuthError.
var ErrChannelAuth = errors.New("channel authorization failed")

// Grant is the server's authorization for one socket and channel. It is
// forwarded to the socket unchanged.
type Grant struct {
	Auth        string
	ChannelData string
	Raw         json.RawMessage
}

// ChannelAuthError is a rejected or failed authorization request.
type ChannelAuthError struct {
	Channel string
	// Status is 0 when no response arrived.
	Status  int
	Message string
	Err     error
}

func (e *ChannelAuthError) Error() string {
	return fmt.Sprintf("authorize %s: %s", e.Channel, e.Message)
}

// Unwrap returns the transport error, if any.
func (e *ChannelAuthError) Unwrap() error { return e.Err }

// Is matches ErrChannelAuth.
func (e *ChannelAuthError) Is(target error) bool { return target == ErrChannelAuth }

// Authorizer obtains a Grant for a private channel.
type Authorizer interface {
	Authorize(ctx context.Context, socketID, channel string) (Grant, error)
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(ctx context.Context, socketID, channel string) (Grant, error)

// Authorize implements Authorizer.
func (f AuthorizerFunc) Authorize(ctx context.Context, socketID, channel string) (Grant, error) {
	return f(ctx, socketID, channel)
}

// TokenSource returns the current bearer token.
type TokenSource interface {
	Token() (string, bool)
}

// HTTPAuthorizer posts to <origin>/broadcasting/auth. Cookies set by the
// server are replayed, so cookie sessions work without a token.
type HTTPAuthorizer struct {
	url    string
	client *http.Client
	tokens TokenSource
	logger *slog.Logger
}

// NewHTTPAuthorizer creates an authorizer for the API at origin.
func NewHTTPAuthorizer(origin string, tokens TokenSource, logger *slog.Logger) (*HTTPAuthorizer, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPAuthorizer{
		url:    util.TrimTrailingSlashes(origin) + AuthPath,
		client: &http.Client{Jar: jar, Timeout: 30 * time.Second},
		tokens: tokens,
		logger: logger.With("component", "channel-auth"),
	}, nil
}

// WithHTTPClient replaces the http.Client. The client's Jar is kept if set.
func (a *HTTPAuthorizer) WithHTTPClient(hc *http.Client) *HTTPAuthorizer {
	if hc.Jar == nil {
		hc.Jar = a.client.Jar
	}
	a.client = hc
	return a
}

// URL returns the endpoint.
func (a *HTTPAuthorizer) URL() string { return a.url }

// Authorize implements Authorizer.
func (a *HTTPAuthorizer) Authorize(ctx context.Context, socketID, channel string) (Grant, error) {
	body, err := json.Marshal(map[string]string{
		"socket_id":    socketID,
		"channel_name": channel,
	})
	if err != nil {
		return Grant{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return Grant{}, &ChannelAuthError{Channel: channel, Message: DefaultAuthFailure, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	if token, ok := a.tokens.Token(); ok {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return Grant{}, &ChannelAuthError{Channel: channel, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxAuthResponse))
	var payload struct {
		Auth        string `json:"auth"`
		ChannelData string `json:"channel_data"`
		Message     any    `json:"message"`
	}
	_ = json.Unmarshal(raw, &payload)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, ok := payload.Message.(string)
		if !ok || msg == "" {
			msg = DefaultAuthFailure
		}
		a.logger.Debug("channel authorization rejected", "channel", channel, "status", resp.StatusCode)
		return Grant{}, &ChannelAuthError{Channel: channel, Status: resp.StatusCode, Message: msg}
	}

	return Grant{Auth: payload.Auth, ChannelData: payload.ChannelData, Raw: raw}, nil
}
