// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/hala3amme/ezyskills/internal/api"
	"github.com/hala3amme/ezyskills/internal/authbus"
	"github.com/hala3amme/ezyskills/internal/config"
	"github.com/hala3amme/ezyskills/internal/identity"
	"github.com/hala3amme/ezyskills/internal/metrics"
	"github.com/hala3amme/ezyskills/internal/model"
	"github.com/hala3amme/ezyskills/internal/realtime"
	"github.com/hala3amme/ezyskills/internal/services"
	"github.com/hala3amme/ezyskills/internal/tokenstore"
)

// =============================================================================
// OPTIONS
// =============================================================================

// Options configures a Manager. Only Config is required.
type Options struct {
	Config *config.Config
	Logger *slog.Logger

	// Registry receives metrics. When nil, metrics are registered on the
	// default registry if Config.Metrics.Enabled is set.
	Registry prometheus.Registerer

	// WatchDebounce coalesces cross-process file events.
	WatchDebounce time.Duration
	// DisableWatcher skips cross-process change detection.
	DisableWatcher bool

	// Tracer receives a span per API request. Nil uses the global provider.
	Tracer trace.Tracer

	// HTTPClient, Dial and Authorizer replace network collaborators in tests.
	HTTPClient *http.Client
	Dial       realtime.TransportFactory
	Authorizer realtime.Authorizer
}

// =============================================================================
// SESSION MANAGER
// =============================================================================

// Manager is the per-process client session.
type Manager struct {
	id        string
	startTime time.Time
	cfg       *config.Config
	logger    *slog.Logger
	metrics   *metrics.Metrics

	bus      *authbus.Bus
	store    *tokenstore.Store
	watcher  *authbus.Watcher
	client   *api.Client
	identity *identity.Resolver
	realtime *realtime.Manager

	Auth          *services.AuthService
	Courses       *services.CourseService
	Notifications *services.NotificationService

	pings atomic.Int64

	mu      sync.Mutex
	started bool
	latest  *model.User
	syncSig chan struct{}
	unsubs  []func()
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds a Manager from opts. Nothing runs until Start.
func New(opts Options) (*Manager, error) {
	if opts.Config == nil {
		return nil, errors.New("session: config is required")
	}
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var m *metrics.Metrics
	switch {
	case opts.Registry != nil:
		m = metrics.New(opts.Registry)
	case cfg.Metrics.Enabled:
		m = metrics.New(nil)
	}

	durable, err := openDurableTier(cfg)
	if err != nil {
		return nil, err
	}

	bus := authbus.New(logger)
	store := tokenstore.New(durable, tokenstore.NewMemoryTier(), bus, logger)

	mgr := &Manager{
		id:        uuid.New().String(),
		startTime: time.Now(),
		cfg:       cfg,
		logger:    logger.With("component", "session"),
		metrics:   m,
		bus:       bus,
		store:     store,
		syncSig:   make(chan struct{}, 1),
	}

	if path := store.DurablePath(); path != "" && !opts.DisableWatcher {
		debounce := opts.WatchDebounce
		if debounce <= 0 {
			debounce = authbus.DefaultDebounce
		}
		w, err := authbus.NewWatcher(path, bus, debounce, logger)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("session: %w", err)
		}
		mgr.watcher = w.WithChangeFilter(store.DurableChanged)
	}

	mgr.client = api.NewClient(cfg.API.BaseURL, store, bus).
		WithTimeout(time.Duration(cfg.API.TimeoutSecs) * time.Second).
		WithLogger(logger).
		WithMetrics(m).
		WithTracer(opts.Tracer)
	if opts.HTTPClient != nil {
		mgr.client.WithHTTPClient(opts.HTTPClient)
	}

	mgr.Auth = services.NewAuthService(mgr.client, store, logger)
	mgr.Courses = services.NewCourseService(mgr.client)
	mgr.Notifications = services.NewNotificationService(mgr.client)
	mgr.identity = identity.NewResolver(store, mgr.Auth, bus, m, logger)

	authorizer := opts.Authorizer
	if authorizer == nil {
		httpAuth, err := realtime.NewHTTPAuthorizer(cfg.API.BaseURL, store, logger)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("session: %w", err)
		}
		authorizer = httpAuth
	}
	endpoint := cfg.Realtime.Endpoint(cfg.API.BaseURL)
	mgr.realtime = realtime.NewManager(realtime.Options{
		AppKey:   endpoint.AppKey,
		Host:     endpoint.Host,
		Port:     endpoint.Port,
		ForceTLS: endpoint.ForceTLS,
		Debug:    cfg.Realtime.Debug,
		Dial:     opts.Dial,
		Metrics:  m,
		Logger:   logger,
	}, authorizer)

	return mgr, nil
}

func openDurableTier(cfg *config.Config) (tokenstore.Tier, error) {
	switch cfg.Storage.Backend {
	case config.BackendSQLite:
		tier, err := tokenstore.OpenSQLiteTier(cfg.Storage.DatabasePath(), cfg.Storage.TokenKey)
		if err != nil {
			return nil, fmt.Errorf("session: open credential database: %w", err)
		}
		return tier, nil
	default:
		return tokenstore.NewFileTier(cfg.Storage.TokenPath()), nil
	}
}

// Start wires the components together and resolves the initial identity.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.mu.Unlock()

	if m.watcher != nil {
		if err := m.watcher.Start(); err != nil {
			m.logger.Warn("cross-process watcher unavailable", "error", err)
		}
	}

	m.track(m.bus.Subscribe(authbus.KindUnauthorized, func(authbus.Event) {
		m.logger.Info("credential rejected, disposing realtime")
		m.realtime.Disconnect()
	}))
	m.track(m.realtime.OnNotification(func(ev realtime.Event) {
		n := m.pings.Add(1)
		m.logger.Debug("enrollment notification", "channel", ev.Channel, "pending", n)
		m.bus.Emit(authbus.Event{Kind: authbus.KindEnrollmentsChanged, Source: authbus.SourceLocal, At: time.Now()})
	}))
	m.track(m.identity.Subscribe(m.queueSync))

	m.wg.Add(1)
	go m.syncLoop(ctx)

	m.identity.Start(ctx)
	m.logger.Debug("session started", "session", m.id)
	return nil
}

func (m *Manager) track(unsub func()) {
	m.mu.Lock()
	m.unsubs = append(m.unsubs, unsub)
	m.mu.Unlock()
}

// queueSync records the user realtime should follow. Loading keeps the
// previous user, so it is skipped.
func (m *Manager) queueSync(s identity.State) {
	if s.Status == identity.StatusLoading {
		return
	}
	m.mu.Lock()
	m.latest = s.User
	m.mu.Unlock()
	select {
	case m.syncSig <- struct{}{}:
	default:
	}
}

// syncLoop runs one realtime join at a time. A newer identity cancels a
// join that is still waiting for the socket unless it wants the same
// channel.
func (m *Manager) syncLoop(ctx context.Context) {
	defer m.wg.Done()

	cancel := context.CancelFunc(func() {})
	done := make(chan struct{})
	close(done)
	pending := ""
	defer func() {
		cancel()
		<-done
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.syncSig:
		}
		m.mu.Lock()
		user := m.latest
		m.mu.Unlock()
		want := realtime.NotificationChannel(user)

		select {
		case <-done:
		default:
			if want == pending {
				continue
			}
			cancel()
			<-done
		}

		var syncCtx context.Context
		syncCtx, cancel = context.WithCancel(ctx)
		done = make(chan struct{})
		pending = want
		go m.syncOnce(syncCtx, user, done)
	}
}

func (m *Manager) syncOnce(ctx context.Context, user *model.User, done chan<- struct{}) {
	defer close(done)
	if err := m.realtime.SyncIdentity(ctx, user); err != nil && ctx.Err() == nil {
		m.logger.Warn("realtime channel unavailable", "error", err)
	}
}

// =============================================================================
// AUTH FLOWS
// =============================================================================

// Login authenticates and stores the token in the tier chosen by opts.
func (m *Manager) Login(ctx context.Context, payload services.LoginPayload, opts tokenstore.WriteOptions) (*model.AuthResponse, error) {
	return m.Auth.Login(ctx, payload, opts)
}

// Register creates an account and stores the token.
func (m *Manager) Register(ctx context.Context, payload services.RegisterPayload, opts tokenstore.WriteOptions) (*model.AuthResponse, error) {
	return m.Auth.Register(ctx, payload, opts)
}

// Logout revokes the token best-effort, clears the credential and disposes
// realtime. The returned error is the server call's, for display only.
func (m *Manager) Logout(ctx context.Context) error {
	_, err := m.Auth.Logout(ctx)
	m.realtime.Disconnect()
	m.AckPings()
	return err
}

// =============================================================================
// ACCESSORS
// =============================================================================

// SessionID returns the local session id.
func (m *Manager) SessionID() string { return m.id }

// Identity returns the current identity snapshot.
func (m *Manager) Identity() identity.State { return m.identity.State() }

// OnIdentity registers fn for identity changes.
func (m *Manager) OnIdentity(fn func(identity.State)) func() { return m.identity.Subscribe(fn) }

// IsAuthenticated reports whether a credential is stored.
func (m *Manager) IsAuthenticated() bool { return identity.IsAuthenticated(m.store) }

// Bus returns the auth signal bus.
func (m *Manager) Bus() *authbus.Bus { return m.bus }

// Store returns the token store.
func (m *Manager) Store() *tokenstore.Store { return m.store }

// Client returns the API client.
func (m *Manager) Client() *api.Client { return m.client }

// Realtime returns the realtime manager.
func (m *Manager) Realtime() *realtime.Manager { return m.realtime }

// PendingPings returns the number of unacknowledged enrollment
// notifications.
func (m *Manager) PendingPings() int64 { return m.pings.Load() }

// AckPings clears the pending notification count.
func (m *Manager) AckPings() { m.pings.Store(0) }

// Close stops every component and releases storage.
func (m *Manager) Close() error {
	m.mu.Lock()
	cancel := m.cancel
	unsubs := m.unsubs
	m.unsubs = nil
	m.cancel = nil
	m.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	m.identity.Stop()
	if cancel != nil {
		cancel()
	}
	m.realtime.Disconnect()
	m.wg.Wait()

	var errs []error
	if m.watcher != nil {
		errs = append(errs, m.watcher.Close())
	}
	errs = append(errs, m.store.Close())
	return errors.Join(errs...)
}

// =============================================================================
// SESSION STATUS
// =============================================================================

// Status is a point-in-time view of the session.
type Status struct {
	SessionID     string         `json:"session_id"`
	StartTime     time.Time      `json:"start_time"`
	Duration      time.Duration  `json:"uptime_ns"`
	Identity      identity.State `json:"identity"`
	Tier          string         `json:"tier"`
	Channel       string         `json:"channel,omitempty"`
	Realtime      bool           `json:"realtime"`
	PendingPings  int64          `json:"pending_pings"`
	StorageTarget string         `json:"storage"`
}

// GetStatus returns the current session status.
func (m *Manager) GetStatus() Status {
	tier := "none"
	if cred, ok := m.store.Read(); ok {
		tier = cred.Tier.String()
	}
	target := m.store.DurablePath()
	if target == "" {
		target = m.cfg.Storage.Backend
	}
	return Status{
		SessionID:     m.id,
		StartTime:     m.startTime,
		Duration:      time.Since(m.startTime),
		Identity:      m.identity.State(),
		Tier:          tier,
		Channel:       m.realtime.Channel(),
		Realtime:      m.realtime.Enabled(),
		PendingPings:  m.pings.Load(),
		StorageTarget: target,
	}
}

// FormatDuration returns a human-readable duration string.
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	mins := int(d.Minutes())
	secs := int(d.Seconds()) % 60
	if secs == 0 {
		return fmt.Sprintf("%dm", mins)
	}
	return fmt.Sprintf("%dm %ds", mins, secs)
}
