// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Transport is one socket session. It is not reused after it ends.
type Transport interface {
	// Connect dials and waits for the server-assigned socket id.
	Connect(ctx context.Context) (socketID string, err error)
	// Subscribe sends the subscribe frame and waits for the server's answer.
	Subscribe(ctx context.Context, channel string, grant Grant) error
	Unsubscribe(channel string) error
	// Messages yields channel events and is closed when the session ends.
	Messages() <-chan Message
	Close() error
}

// TransportFactory creates a fresh Transport for every connection attempt.
type TransportFactory func() Transport

const (
	handshakeTimeout       = 10 * time.Second
	writeTimeout           = 10 * time.Second
	pongTimeout            = 30 * time.Second
	defaultActivityTimeout = 120 * time.Second
	messageBuffer          = 64
)

// ErrTransportClosed is returned by operations on an ended session.
var ErrTransportClosed = errors.New("transport closed")

// SubscriptionError is the server's refusal of a subscribe frame.
type SubscriptionError struct {
	Channel string
	Status  int
	Message string
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscription to %s rejected: %s", e.Channel, e.Message)
}

// PusherTransport speaks the Pusher protocol over gorilla/websocket.
type PusherTransport struct {
	url    string
	dialer *websocket.Dialer
	logger *slog.Logger

	conn     *websocket.Conn
	writeMu  sync.Mutex
	activity time.Duration

	mu      sync.Mutex
	pending map[string]chan error

	messages  chan Message
	done      chan struct{}
	closeOnce sync.Once
}

// NewPusherTransport creates a transport for socketURL (see SocketURL).
func NewPusherTransport(socketURL string, logger *slog.Logger) *PusherTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &PusherTransport{
		url: socketURL,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		logger:   logger.With("component", "pusher"),
		pending:  make(map[string]chan error),
		messages: make(chan Message, messageBuffer),
		done:     make(chan struct{}),
	}
}

// Connect dials the server and waits for pusher:connection_established.
func (t *PusherTransport) Connect(ctx context.Context) (string, error) {
	conn, _, err := t.dialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return "", fmt.Errorf("dial: %w", err)
	}

	deadline := time.Now().Add(handshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)

	_, frame, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return "", fmt.Errorf("read handshake: %w", err)
	}
	msg, err := decodeMessage(frame)
	if err != nil {
		conn.Close()
		return "", err
	}

	switch msg.Event {
	case EventConnectionEstablished:
	case EventError:
		conn.Close()
		var pe protocolError
		_ = jsonUnmarshal(msg.Data, &pe)
		return "", fmt.Errorf("server refused connection (code %d): %s", pe.Code, pe.text())
	default:
		conn.Close()
		return "", fmt.Errorf("unexpected handshake event %q", msg.Event)
	}

	var established connectionEstablished
	if err := jsonUnmarshal(msg.Data, &established); err != nil || established.SocketID == "" {
		conn.Close()
		return "", errors.New("handshake carried no socket id")
	}

	t.mu.Lock()
	select {
	case <-t.done:
		t.mu.Unlock()
		conn.Close()
		return "", ErrTransportClosed
	default:
	}
	t.conn = conn
	t.mu.Unlock()

	t.activity = defaultActivityTimeout
	if established.ActivityTimeout > 0 {
		t.activity = time.Duration(established.ActivityTimeout) * time.Second
	}
	t.extendDeadline()

	go t.readLoop()
	go t.pingLoop()
	return established.SocketID, nil
}

func (t *PusherTransport) extendDeadline() {
	_ = t.conn.SetReadDeadline(time.Now().Add(t.activity + pongTimeout))
}

// Subscribe sends pusher:subscribe and waits for success or
// pusher:subscription_error.
func (t *PusherTransport) Subscribe(ctx context.Context, channel string, grant Grant) error {
	ack := make(chan error, 1)
	t.mu.Lock()
	t.pending[channel] = ack
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		if t.pending[channel] == ack {
			delete(t.pending, channel)
		}
		t.mu.Unlock()
	}()

	err := t.send(EventSubscribe, subscribePayload{
		Channel:     channel,
		Auth:        grant.Auth,
		ChannelData: grant.ChannelData,
	})
	if err != nil {
		return err
	}

	select {
	case err := <-ack:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-t.done:
		return ErrTransportClosed
	}
}

// Unsubscribe sends pusher:unsubscribe.
func (t *PusherTransport) Unsubscribe(channel string) error {
	return t.send(EventUnsubscribe, map[string]string{"channel": channel})
}

// Messages implements Transport.
func (t *PusherTransport) Messages() <-chan Message {
	return t.messages
}

// Close sends a close frame and ends the session.
func (t *PusherTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.mu.Lock()
		close(t.done)
		conn := t.conn
		t.mu.Unlock()

		if conn == nil {
			close(t.messages)
			return
		}
		t.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		t.writeMu.Unlock()
		err = conn.Close()
	})
	return err
}

func (t *PusherTransport) send(event string, data any) error {
	select {
	case <-t.done:
		return ErrTransportClosed
	default:
	}
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return ErrTransportClosed
	}
	frame, err := encodeMessage(event, data)
	if err != nil {
		return err
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("write %s: %w", event, err)
	}
	return nil
}

func (t *PusherTransport) readLoop() {
	defer close(t.messages)
	defer t.closeOnce.Do(func() {
		t.mu.Lock()
		close(t.done)
		t.mu.Unlock()
		t.conn.Close()
	})

	for {
		_, frame, err := t.conn.ReadMessage()
		if err != nil {
			select {
			case <-t.done:
			default:
				t.logger.Debug("socket read ended", "error", err)
			}
			return
		}
		t.extendDeadline()

		msg, err := decodeMessage(frame)
		if err != nil {
			t.logger.Debug("dropping malformed frame", "error", err)
			continue
		}

		switch msg.Event {
		case EventPing:
			if err := t.send(EventPong, struct{}{}); err != nil {
				t.logger.Debug("pong failed", "error", err)
			}
		case EventPong:
		case EventSubscriptionSucceeded:
			t.resolve(msg.Channel, nil)
		case EventSubscriptionError:
			var pe protocolError
			_ = jsonUnmarshal(msg.Data, &pe)
			t.resolve(msg.Channel, &SubscriptionError{Channel: msg.Channel, Status: pe.Status, Message: pe.text()})
		case EventError:
			var pe protocolError
			_ = jsonUnmarshal(msg.Data, &pe)
			t.logger.Warn("server error", "code", pe.Code, "message", pe.text())
		default:
			select {
			case t.messages <- msg:
			case <-t.done:
				return
			}
		}
	}
}

func (t *PusherTransport) resolve(channel string, err error) {
	t.mu.Lock()
	ack, ok := t.pending[channel]
	delete(t.pending, channel)
	t.mu.Unlock()
	if ok {
		ack <- err
	}
}

// pingLoop keeps idle connections alive inside the server's activity
// timeout.
func (t *PusherTransport) pingLoop() {
	ticker := time.NewTicker(t.activity)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			if err := t.send(EventPing, struct{}{}); err != nil {
				return
			}
		}
	}
}
