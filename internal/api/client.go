// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hala3amme/ezyskills/internal/metrics"
	"github.com/hala3amme/ezyskills/internal/tokenstore"
	"github.com/hala3amme/ezyskills/internal/util"
)

const (
	// DefaultTimeout bounds every API request.
	DefaultTimeout = 30 * time.Second

	// MaxResponseSize caps how much of a response body is read.
	MaxResponseSize = 10 * 1024 * 1024

	// PathPrefix is the REST namespace under the API origin.
	PathPrefix = "/api"

	// TracerName names the OpenTelemetry tracer used for request spans.
	TracerName = "github.com/hala3amme/ezyskills/internal/api"

	requestIDHeader = "X-Request-Id"
)

// sharedTransport pools connections for every Client built without a
// custom http.Client.
var sharedTransport = &http.Transport{
	Proxy:               http.ProxyFromEnvironment,
	MaxIdleConns:        100,
	MaxIdleConnsPerHost: 10,
	IdleConnTimeout:     90 * time.Second,
	TLSHandshakeTimeout: 10 * time.Second,
	TLSClientConfig: &tls.Config{
		MinVersion: tls.VersionTLS12,
	},
}

// =============================================================================
// COLLABORATOR INTERFACES
// =============================================================================

// CredentialStore is the slice of the token store the client needs.
type CredentialStore interface {
	Read() (tokenstore.Credential, bool)
	Clear()
}

// Signaler broadcasts credential rejection.
type Signaler interface {
	EmitUnauthorized()
}

// RequestInterceptor may modify an outgoing request. Returning an error
// aborts the request before it is sent.
type RequestInterceptor func(req *http.Request) error

// ResponseInterceptor observes every response that arrived. It runs before
// the body is read and cannot change the outcome for the caller.
type ResponseInterceptor func(resp *http.Response)

// =============================================================================
// CLIENT
// =============================================================================

// Client is a JSON client for the REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	store      CredentialStore
	signals    Signaler

	requestInterceptors  []RequestInterceptor
	responseInterceptors []ResponseInterceptor

	metrics *metrics.Metrics
	tracer  trace.Tracer
	logger  *slog.Logger
}

// NewClient creates a client for the API at origin (for example
// "http://127.0.0.1:8000"). Requests go to origin + PathPrefix. signals may
// be nil.
func NewClient(origin string, store CredentialStore, signals Signaler) *Client {
	c := &Client{
		baseURL: util.TrimTrailingSlashes(origin) + PathPrefix,
		httpClient: &http.Client{
			Timeout:   DefaultTimeout,
			Transport: sharedTransport,
		},
		store:   store,
		signals: signals,
		tracer:  otel.Tracer(TracerName),
		logger:  slog.Default().With("component", "api"),
	}
	c.requestInterceptors = []RequestInterceptor{c.attachRequestID, c.attachBearer}
	c.responseInterceptors = []ResponseInterceptor{c.rejectCredential}
	return c
}

// WithHTTPClient replaces the underlying http.Client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// WithTimeout sets the per-request timeout.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	c.httpClient.Timeout = timeout
	return c
}

// WithLogger sets the logger.
func (c *Client) WithLogger(logger *slog.Logger) *Client {
	if logger != nil {
		c.logger = logger.With("component", "api")
	}
	return c
}

// WithMetrics records request metrics on m.
func (c *Client) WithMetrics(m *metrics.Metrics) *Client {
	c.metrics = m
	return c
}

// WithTracer replaces the tracer taken from the global provider.
func (c *Client) WithTracer(tracer trace.Tracer) *Client {
	if tracer != nil {
		c.tracer = tracer
	}
	return c
}

// Use appends request interceptors. They run after the built-in ones.
func (c *Client) Use(interceptors ...RequestInterceptor) *Client {
	c.requestInterceptors = append(c.requestInterceptors, interceptors...)
	return c
}

// OnResponse appends response interceptors. They run after the built-in ones.
func (c *Client) OnResponse(interceptors ...ResponseInterceptor) *Client {
	c.responseInterceptors = append(c.responseInterceptors, interceptors...)
	return c
}

// BaseURL returns origin + PathPrefix.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// =============================================================================
// BUILT-IN INTERCEPTORS
// =============================================================================

func (c *Client) attachRequestID(req *http.Request) error {
	if req.Header.Get(requestIDHeader) == "" {
		req.Header.Set(requestIDHeader, uuid.New().String())
	}
	return nil
}

// attachBearer never overrides a caller-supplied Authorization header, which
// is how a call opts out of the stored credential.
func (c *Client) attachBearer(req *http.Request) error {
	if req.Header.Get("Authorization") != "" {
		return nil
	}
	cred, ok := c.store.Read()
	if !ok {
		return nil
	}
	req.Header.Set("Authorization", "Bearer "+cred.Value)
	return nil
}

func (c *Client) rejectCredential(resp *http.Response) {
	if resp.StatusCode != http.StatusUnauthorized {
		return
	}
	c.logger.Warn("credential rejected by server",
		"method", resp.Request.Method,
		"path", resp.Request.URL.Path)
	c.metrics.ObserveUnauthorized()
	c.store.Clear()
	if c.signals != nil {
		c.signals.EmitUnauthorized()
	}
}

// =============================================================================
// REQUESTS
// =============================================================================

// NewRequest builds a request for path (relative to BaseURL). body, when
// non-nil, is encoded as JSON.
func (c *Client) NewRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Request, error) {
	target := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// Do sends req through the interceptor chain and decodes a 2xx JSON body
// into out (which may be nil). Non-2xx responses return *APIError. Transport
// failures are returned unchanged.
func (c *Client) Do(req *http.Request, out any) error {
	ctx, span := c.tracer.Start(req.Context(), req.Method+" "+req.URL.Path,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("url.path", req.URL.Path),
		))
	defer span.End()
	req = req.WithContext(ctx)

	for _, intercept := range c.requestInterceptors {
		if err := intercept(req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "request interceptor failed")
			return err
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.ObserveRequest(req.Method, 0)
		c.logger.Debug("request failed without response",
			"method", req.Method, "path", req.URL.Path, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "network failure")
		return err
	}
	defer resp.Body.Close()

	c.metrics.ObserveRequest(req.Method, resp.StatusCode)
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	c.logger.Debug("request completed",
		"method", req.Method,
		"path", req.URL.Path,
		"status", resp.StatusCode,
		"duration", time.Since(start))

	for _, intercept := range c.responseInterceptors {
		intercept(resp)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if len(data) > MaxResponseSize {
		return ErrResponseTooLarge
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := newAPIError(resp.StatusCode, data)
		span.SetStatus(codes.Error, apiErr.Error())
		return apiErr
	}

	span.SetStatus(codes.Ok, "")
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Send builds and sends a request in one call.
func (c *Client) Send(ctx context.Context, method, path string, query url.Values, body, out any) error {
	req, err := c.NewRequest(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	return c.Do(req, out)
}

// Get sends a GET request.
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	return c.Send(ctx, http.MethodGet, path, query, nil, out)
}

// Post sends a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.Send(ctx, http.MethodPost, path, nil, body, out)
}
