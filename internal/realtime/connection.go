// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/hala3amme/ezyskills/internal/metrics"
)

// ErrConnectionClosed is returned once a Connection has been closed.
var ErrConnectionClosed = errors.New("realtime connection closed")

const (
	// DefaultReconnectBase is the first reconnect delay.
	DefaultReconnectBase = 500 * time.Millisecond
	// DefaultReconnectMax caps the reconnect delay.
	DefaultReconnectMax = 30 * time.Second
)

// =============================================================================
// CHANNEL STATE
// =============================================================================

// ChannelState is the authorization state of a private channel.
type ChannelState int

const (
	ChannelPending ChannelState = iota
	ChannelAuthorized
	ChannelFailed
)

func (s ChannelState) String() string {
	switch s {
	case ChannelPending:
		return "pending"
	case ChannelAuthorized:
		return "authorized"
	case ChannelFailed:
		return "failed"
	}
	return fmt.Sprintf("channel_state(%d)", int(s))
}

// Subscription is one private channel on a Connection.
type Subscription struct {
	name string

	mu    sync.Mutex
	state ChannelState
	err   error
	// socket is the socket id the channel was last authorized on.
	socket string
}

// Name returns the channel name without the private- prefix.
func (s *Subscription) Name() string { return s.name }

// State returns the current state.
func (s *Subscription) State() ChannelState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the failure cause for a Failed channel.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription) set(state ChannelState, err error) {
	s.mu.Lock()
	s.state, s.err = state, err
	s.mu.Unlock()
}

func (s *Subscription) authorized(socketID string) {
	s.mu.Lock()
	s.state, s.err, s.socket = ChannelAuthorized, nil, socketID
	s.mu.Unlock()
}

// stale reports whether the channel was authorized on a socket other than
// socketID, and if so moves it back to Pending.
func (s *Subscription) stale(socketID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != ChannelAuthorized || s.socket == socketID {
		return false
	}
	s.state = ChannelPending
	return true
}

// Event is a message delivered on a subscribed channel.
type Event struct {
	// Channel is the name without the private- prefix.
	Channel string
	Name    string
	Data    json.RawMessage
}

// Handler receives channel events.
type Handler func(Event)

type listener struct {
	id    uint64
	event string
	fn    Handler
}

// =============================================================================
// CONNECTION
// =============================================================================

// ConnectionConfig tunes a Connection.
type ConnectionConfig struct {
	ReconnectBase time.Duration
	ReconnectMax  time.Duration
	// Debug logs lifecycle events at info level.
	Debug   bool
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Connection is one logical socket with reconnects and its private channel
// subscriptions.
type Connection struct {
	id         string
	dial       TransportFactory
	authorizer Authorizer
	cfg        ConnectionConfig
	limiter    *rate.Limiter
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	transport Transport
	socketID  string
	ready     chan struct{}
	closed    bool
	subs      map[string]*Subscription
	listeners map[string][]listener
	nextID    uint64
}

// NewConnection creates a connection and starts dialing in the background.
func NewConnection(dial TransportFactory, authorizer Authorizer, cfg ConnectionConfig) *Connection {
	if cfg.ReconnectBase <= 0 {
		cfg.ReconnectBase = DefaultReconnectBase
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = DefaultReconnectMax
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:         uuid.New().String(),
		dial:       dial,
		authorizer: authorizer,
		cfg:        cfg,
		limiter:    rate.NewLimiter(rate.Every(cfg.ReconnectBase), 1),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		ready:      make(chan struct{}),
		subs:       make(map[string]*Subscription),
		listeners:  make(map[string][]listener),
	}
	c.logger = cfg.Logger.With("component", "realtime", "connection", c.id)
	go c.run()
	return c
}

// ID returns the connection's local correlation id.
func (c *Connection) ID() string { return c.id }

// SocketID returns the server-assigned socket id, or "" while disconnected.
func (c *Connection) SocketID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.socketID
}

// lifecycle logs connection transitions, at info level in debug mode.
func (c *Connection) lifecycle(msg string, args ...any) {
	if c.cfg.Debug {
		c.logger.Info(msg, args...)
		return
	}
	c.logger.Debug(msg, args...)
}

// =============================================================================
// RUN LOOP
// =============================================================================

func (c *Connection) run() {
	defer close(c.done)

	attempt := 0
	for {
		if attempt > 0 {
			c.cfg.Metrics.ObserveReconnect()
			if !c.sleep(backoff(attempt, c.cfg.ReconnectBase, c.cfg.ReconnectMax)) {
				return
			}
		}
		if err := c.limiter.Wait(c.ctx); err != nil {
			return
		}

		t := c.dial()
		socketID, err := t.Connect(c.ctx)
		if err != nil {
			_ = t.Close()
			if c.ctx.Err() != nil {
				return
			}
			c.lifecycle("realtime connection error", "error", err, "attempt", attempt)
			attempt++
			continue
		}

		stale, ok := c.attach(t, socketID)
		if !ok {
			_ = t.Close()
			return
		}
		c.cfg.Metrics.ConnectionOpened()
		c.lifecycle("realtime connected", "socket_id", socketID)
		if len(stale) > 0 {
			go c.resubscribe(t, socketID, stale)
		}

		for msg := range t.Messages() {
			c.dispatch(msg)
		}

		c.detach(t)
		c.cfg.Metrics.ConnectionClosed()
		c.lifecycle("realtime disconnected")
		if c.ctx.Err() != nil {
			return
		}
		attempt = 1
	}
}

func (c *Connection) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-c.ctx.Done():
		return false
	}
}

// backoff returns base * 2^(attempt-1), capped at max.
func backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		return 0
	}
	if attempt > 30 {
		return max
	}
	d := base << (attempt - 1)
	if d <= 0 || d > max {
		return max
	}
	return d
}

// attach publishes t and returns the channels that were authorized on an
// earlier socket. Channels still waiting for their first handshake are left
// to Private.
func (c *Connection) attach(t Transport, socketID string) ([]*Subscription, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, false
	}
	var stale []*Subscription
	for _, sub := range c.subs {
		if sub.stale(socketID) {
			stale = append(stale, sub)
		}
	}
	c.transport = t
	c.socketID = socketID
	close(c.ready)
	return stale, true
}

func (c *Connection) detach(t Transport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.transport == t {
		c.transport = nil
		c.socketID = ""
		c.ready = make(chan struct{})
	}
}

// waitTransport blocks until a transport is attached.
func (c *Connection) waitTransport(ctx context.Context) (Transport, string, error) {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return nil, "", ErrConnectionClosed
		}
		if c.transport != nil {
			t, id := c.transport, c.socketID
			c.mu.Unlock()
			return t, id, nil
		}
		ready := c.ready
		c.mu.Unlock()

		select {
		case <-ready:
		case <-ctx.Done():
			return nil, "", ctx.Err()
		case <-c.done:
			return nil, "", ErrConnectionClosed
		}
	}
}

// resubscribe re-runs the handshake for channels that were authorized
// before a reconnect. Failed channels stay failed.
func (c *Connection) resubscribe(t Transport, socketID string, subs []*Subscription) {
	for _, sub := range subs {
		c.mu.Lock()
		current := c.subs[sub.name] == sub
		c.mu.Unlock()
		if !current {
			continue
		}
		_ = c.handshake(c.ctx, t, socketID, sub)
	}
}

// =============================================================================
// CHANNELS
// =============================================================================

// Private subscribes to the private channel name (without the private-
// prefix) and blocks until it is Authorized or Failed. Asking for a channel
// that already exists returns it without a new handshake.
func (c *Connection) Private(ctx context.Context, name string) (*Subscription, error) {
	name = strings.TrimPrefix(name, PrivatePrefix)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrConnectionClosed
	}
	if sub, ok := c.subs[name]; ok {
		c.mu.Unlock()
		return sub, sub.Err()
	}
	sub := &Subscription{name: name, state: ChannelPending}
	c.subs[name] = sub
	c.mu.Unlock()

	t, socketID, err := c.waitTransport(ctx)
	if err != nil {
		if !errors.Is(err, ErrConnectionClosed) {
			sub.set(ChannelFailed, err)
		}
		return sub, err
	}
	return sub, c.handshake(ctx, t, socketID, sub)
}

func (c *Connection) handshake(ctx context.Context, t Transport, socketID string, sub *Subscription) error {
	wire := PrivatePrefix + sub.name

	grant, err := c.authorizer.Authorize(ctx, socketID, wire)
	if c.isClosed() {
		return ErrConnectionClosed
	}
	if err != nil {
		c.cfg.Metrics.ObserveChannelAuth("error")
		c.logger.Warn("channel authorization failed", "channel", wire, "error", err)
		sub.set(ChannelFailed, err)
		return err
	}

	err = t.Subscribe(ctx, wire, grant)
	if c.isClosed() {
		return ErrConnectionClosed
	}
	if err != nil {
		c.cfg.Metrics.ObserveChannelAuth("rejected")
		c.logger.Warn("channel subscribe failed", "channel", wire, "error", err)
		sub.set(ChannelFailed, err)
		return err
	}

	// A socket that came up during the handshake already passed this
	// channel over, so it is authorized again on the new one.
	c.mu.Lock()
	if c.transport != nil && c.socketID != socketID {
		next, nextID := c.transport, c.socketID
		c.mu.Unlock()
		return c.handshake(ctx, next, nextID, sub)
	}
	sub.authorized(socketID)
	c.mu.Unlock()

	c.cfg.Metrics.ObserveChannelAuth("ok")
	c.lifecycle("channel authorized", "channel", wire, "socket_id", socketID)
	return nil
}

func (c *Connection) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Leave unsubscribes from a channel and drops its listeners.
func (c *Connection) Leave(name string) {
	name = strings.TrimPrefix(name, PrivatePrefix)

	c.mu.Lock()
	sub, ok := c.subs[name]
	delete(c.subs, name)
	delete(c.listeners, name)
	t := c.transport
	c.mu.Unlock()

	if !ok || t == nil || sub.State() != ChannelAuthorized {
		return
	}
	if err := t.Unsubscribe(PrivatePrefix + name); err != nil {
		c.logger.Debug("unsubscribe failed", "channel", name, "error", err)
	}
}

// Subscriptions returns the current channels.
func (c *Connection) Subscriptions() []*Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	subs := make([]*Subscription, 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s)
	}
	return subs
}

// Listen registers fn for event on channel and returns an unsubscribe
// function.
func (c *Connection) Listen(channel, event string, fn Handler) func() {
	channel = strings.TrimPrefix(channel, PrivatePrefix)

	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.listeners[channel] = append(c.listeners[channel], listener{id: id, event: event, fn: fn})
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			old := c.listeners[channel]
			kept := make([]listener, 0, len(old))
			for _, l := range old {
				if l.id != id {
					kept = append(kept, l)
				}
			}
			c.listeners[channel] = kept
		})
	}
}

// Notification registers fn for Laravel broadcast notifications on channel.
func (c *Connection) Notification(channel string, fn Handler) func() {
	return c.Listen(channel, NotificationEvent, fn)
}

func (c *Connection) dispatch(msg Message) {
	name := strings.TrimPrefix(msg.Channel, PrivatePrefix)

	c.mu.Lock()
	ls := append([]listener(nil), c.listeners[name]...)
	c.mu.Unlock()

	ev := Event{Channel: name, Name: msg.Event, Data: msg.Data}
	for _, l := range ls {
		if l.event != msg.Event {
			continue
		}
		c.deliver(l.fn, ev)
	}
}

func (c *Connection) deliver(fn Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("channel handler panicked", "channel", ev.Channel, "panic", r)
		}
	}()
	fn(ev)
}

// Close unsubscribes every authorized channel and closes the socket.
// Handshakes that finish afterwards are ignored.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	t := c.transport
	var authorized []string
	for name, sub := range c.subs {
		if sub.State() == ChannelAuthorized {
			authorized = append(authorized, name)
		}
	}
	c.listeners = make(map[string][]listener)
	c.mu.Unlock()
	c.cancel()

	var err error
	if t != nil {
		for _, name := range authorized {
			_ = t.Unsubscribe(PrivatePrefix + name)
		}
		err = t.Close()
	}
	<-c.done
	c.lifecycle("realtime connection closed")
	return err
}
