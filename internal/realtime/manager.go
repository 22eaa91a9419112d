// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hala3amme/ezyskills/internal/metrics"
	"github.com/hala3amme/ezyskills/internal/model"
)

// Options configures a Manager. An empty AppKey disables realtime.
type Options struct {
	AppKey   string
	Host     string
	Port     int
	ForceTLS bool
	Debug    bool

	ReconnectBase time.Duration
	ReconnectMax  time.Duration

	// Dial overrides the Pusher transport, mainly for tests.
	Dial    TransportFactory
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// NotificationChannel returns the private notification channel for user,
// or "" when the user should not subscribe. Only teachers receive realtime
// enrollment notifications.
func NotificationChannel(user *model.User) string {
	if user == nil || user.Role != model.RoleTeacher {
		return ""
	}
	return fmt.Sprintf("App.Models.User.%d", user.ID)
}

// Manager owns the process-wide realtime connection.
type Manager struct {
	opts       Options
	authorizer Authorizer
	logger     *slog.Logger

	mu       sync.Mutex
	conn     *Connection
	channel  string
	stopNote func()

	handlerMu sync.RWMutex
	handlers  map[uint64]Handler
	nextID    uint64
}

// NewManager creates a manager. No connection is made until needed.
func NewManager(opts Options, authorizer Authorizer) *Manager {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Manager{
		opts:       opts,
		authorizer: authorizer,
		logger:     opts.Logger.With("component", "realtime"),
		handlers:   make(map[uint64]Handler),
	}
}

// Enabled reports whether an app key is configured.
func (m *Manager) Enabled() bool {
	return m.opts.AppKey != ""
}

// GetConnection returns the shared connection, creating it on first use.
// It returns nil when realtime is disabled.
func (m *Manager) GetConnection() *Connection {
	if !m.Enabled() {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectionLocked()
}

func (m *Manager) connectionLocked() *Connection {
	if m.conn != nil {
		return m.conn
	}

	dial := m.opts.Dial
	if dial == nil {
		url := SocketURL(m.opts.Host, m.opts.Port, m.opts.ForceTLS, m.opts.AppKey)
		logger := m.opts.Logger
		dial = func() Transport { return NewPusherTransport(url, logger) }
	}

	args := []any{
		"broadcaster", "reverb",
		"key", m.opts.AppKey,
		"ws_host", m.opts.Host,
		"ws_port", m.opts.Port,
		"force_tls", m.opts.ForceTLS,
	}
	if m.opts.Debug {
		m.logger.Info("realtime init", args...)
	} else {
		m.logger.Debug("realtime init", args...)
	}

	m.conn = NewConnection(dial, m.authorizer, ConnectionConfig{
		ReconnectBase: m.opts.ReconnectBase,
		ReconnectMax:  m.opts.ReconnectMax,
		Debug:         m.opts.Debug,
		Metrics:       m.opts.Metrics,
		Logger:        m.opts.Logger,
	})
	return m.conn
}

// Disconnect closes the connection. The next GetConnection builds a new
// one. Safe to call when nothing is connected.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.channel = ""
	if m.stopNote != nil {
		m.stopNote()
		m.stopNote = nil
	}
	m.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			m.logger.Debug("realtime close", "error", err)
		}
	}
}

// Channel returns the notification channel currently joined, or "".
func (m *Manager) Channel() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.channel
}

// Subscription returns the joined notification channel's subscription, or
// nil when no channel is joined. It never creates a connection.
func (m *Manager) Subscription() *Subscription {
	m.mu.Lock()
	conn, channel := m.conn, m.channel
	m.mu.Unlock()
	if conn == nil || channel == "" {
		return nil
	}
	for _, sub := range conn.Subscriptions() {
		if sub.Name() == channel {
			return sub
		}
	}
	return nil
}

// OnNotification registers fn for notifications on the joined channel and
// returns an unsubscribe function.
func (m *Manager) OnNotification(fn Handler) func() {
	m.handlerMu.Lock()
	m.nextID++
	id := m.nextID
	m.handlers[id] = fn
	m.handlerMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.handlerMu.Lock()
			delete(m.handlers, id)
			m.handlerMu.Unlock()
		})
	}
}

func (m *Manager) notify(ev Event) {
	m.handlerMu.RLock()
	fns := make([]Handler, 0, len(m.handlers))
	for _, fn := range m.handlers {
		fns = append(fns, fn)
	}
	m.handlerMu.RUnlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// SyncIdentity joins the notification channel for user and leaves the
// previous one when the id or role changed. A nil user leaves everything.
// It blocks until the channel is Authorized or Failed; the returned error
// is the channel failure, if any. A join abandoned through ctx is dropped,
// so the next call for the same user tries again.
func (m *Manager) SyncIdentity(ctx context.Context, user *model.User) error {
	want := NotificationChannel(user)

	m.mu.Lock()
	if want == m.channel {
		m.mu.Unlock()
		return nil
	}
	if m.channel != "" && m.conn != nil {
		m.conn.Leave(m.channel)
		m.logger.Debug("left notification channel", "channel", m.channel)
	}
	if m.stopNote != nil {
		m.stopNote()
		m.stopNote = nil
	}
	m.channel = ""

	if want == "" || !m.Enabled() {
		m.mu.Unlock()
		return nil
	}

	conn := m.connectionLocked()
	m.channel = want
	m.stopNote = conn.Notification(want, m.notify)
	m.mu.Unlock()

	_, err := conn.Private(ctx, want)
	if err != nil && ctx.Err() != nil {
		m.abandon(conn, want)
	}
	return err
}

func (m *Manager) abandon(conn *Connection, channel string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != conn || m.channel != channel {
		return
	}
	conn.Leave(channel)
	if m.stopNote != nil {
		m.stopNote()
		m.stopNote = nil
	}
	m.channel = ""
	m.logger.Debug("abandoned notification channel", "channel", channel)
}
