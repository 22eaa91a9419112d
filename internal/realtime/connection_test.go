// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package realtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestConnection(t *testing.T, authz Authorizer) (*Connection, *fakeNet) {
	t.Helper()
	net := &fakeNet{}
	c := NewConnection(net.Dial, authz, ConnectionConfig{
		ReconnectBase: time.Millisecond,
		ReconnectMax:  5 * time.Millisecond,
	})
	t.Cleanup(func() { _ = c.Close() })
	return c, net
}

func TestConnection_PrivateAuthorizes(t *testing.T) {
	authz := &countingAuthorizer{}
	c, net := newTestConnection(t, authz)

	sub, err := c.Private(context.Background(), "orders")
	require.NoError(t, err)
	require.Equal(t, ChannelAuthorized, sub.State())
	require.Equal(t, "orders", sub.Name())
	require.Equal(t, []string{"private-orders"}, authz.channels)
	require.Equal(t, []string{"private-orders"}, net.At(0).Subscribes())
	require.Equal(t, "1234.5678", c.SocketID())

	again, err := c.Private(context.Background(), "private-orders")
	require.NoError(t, err)
	require.Same(t, sub, again)
	require.Equal(t, int32(1), authz.calls.Load())
}

func TestConnection_SubscribeRejectionFails(t *testing.T) {
	net := &fakeNet{}
	rejecting := func() Transport {
		tr := net.Dial().(*fakeTransport)
		tr.subscribeErr = &SubscriptionError{Channel: "private-x", Status: 403, Message: "denied"}
		return tr
	}
	c := NewConnection(rejecting, &countingAuthorizer{}, ConnectionConfig{})
	defer c.Close()

	sub, err := c.Private(context.Background(), "x")
	var se *SubscriptionError
	require.ErrorAs(t, err, &se)
	require.Equal(t, ChannelFailed, sub.State())
}

func TestConnection_ReconnectReauthorizes(t *testing.T) {
	authz := &countingAuthorizer{}
	c, net := newTestConnection(t, authz)

	_, err := c.Private(context.Background(), "good")
	require.NoError(t, err)

	// Drop the socket.
	_ = net.At(0).Close()

	require.Eventually(t, func() bool {
		return net.Count() >= 2 && len(net.At(1).Subscribes()) == 1
	}, 2*time.Second, time.Millisecond)
	require.Equal(t, []string{"private-good"}, net.At(1).Subscribes())
	require.Eventually(t, func() bool {
		subs := c.Subscriptions()
		return len(subs) == 1 && subs[0].State() == ChannelAuthorized
	}, time.Second, time.Millisecond)
}

func TestConnection_FirstConnectAuthorizesOnce(t *testing.T) {
	for i := 0; i < 50; i++ {
		authz := &countingAuthorizer{}
		net := &fakeNet{gate: make(chan struct{})}
		c := NewConnection(net.Dial, authz, ConnectionConfig{})

		// Private is parked in waitTransport when the socket comes up.
		done := make(chan error, 1)
		go func() {
			_, err := c.Private(context.Background(), "orders")
			done <- err
		}()
		require.Eventually(t, func() bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			return len(c.subs) == 1
		}, time.Second, time.Millisecond)
		close(net.gate)
		require.NoError(t, <-done)

		require.Never(t, func() bool {
			return authz.calls.Load() != 1 ||
				len(net.At(0).Subscribes()) != 1 ||
				c.Subscriptions()[0].State() != ChannelAuthorized
		}, 20*time.Millisecond, time.Millisecond)
		require.NoError(t, c.Close())
	}
}

func TestConnection_ReconnectReauthorizesEachChannelOnce(t *testing.T) {
	authz := &countingAuthorizer{}
	c, net := newTestConnection(t, authz)

	_, err := c.Private(context.Background(), "a")
	require.NoError(t, err)
	_, err = c.Private(context.Background(), "b")
	require.NoError(t, err)
	require.Equal(t, int32(2), authz.calls.Load())

	_ = net.At(0).Close()

	require.Eventually(t, func() bool {
		return net.Count() >= 2 && len(net.At(1).Subscribes()) == 2
	}, 2*time.Second, time.Millisecond)
	require.Never(t, func() bool {
		return authz.calls.Load() != 4 || len(net.At(1).Subscribes()) != 2
	}, 50*time.Millisecond, time.Millisecond)
	require.ElementsMatch(t, []string{"private-a", "private-b"}, net.At(1).Subscribes())
	require.Equal(t, []string{"1234.5678", "1234.5678", "1234.5679", "1234.5679"}, authz.Sockets())
	for _, sub := range c.Subscriptions() {
		require.Equal(t, ChannelAuthorized, sub.State())
	}
}

func TestConnection_FailedChannelStaysFailedAfterReconnect(t *testing.T) {
	authz := AuthorizerFunc(func(ctx context.Context, socketID, channel string) (Grant, error) {
		return Grant{}, &ChannelAuthError{Channel: channel, Status: 403, Message: "nope"}
	})
	c, net := newTestConnection(t, authz)

	sub, err := c.Private(context.Background(), "bad")
	require.Error(t, err)
	_ = net.At(0).Close()

	require.Eventually(t, func() bool { return net.Count() >= 2 && c.SocketID() != "" }, 2*time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	require.Empty(t, net.At(1).Subscribes())
	require.Equal(t, ChannelFailed, sub.State())
}

func TestConnection_CloseIgnoresLateAuthorization(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	authz := AuthorizerFunc(func(ctx context.Context, socketID, channel string) (Grant, error) {
		close(entered)
		<-release
		return Grant{Auth: "late"}, nil
	})
	net := &fakeNet{}
	c := NewConnection(net.Dial, authz, ConnectionConfig{})

	type result struct {
		sub *Subscription
		err error
	}
	done := make(chan result, 1)
	go func() {
		sub, err := c.Private(context.Background(), "slow")
		done <- result{sub, err}
	}()

	<-entered
	require.NoError(t, c.Close())
	close(release)

	r := <-done
	require.ErrorIs(t, r.err, ErrConnectionClosed)
	require.Equal(t, ChannelPending, r.sub.State())
	require.Empty(t, net.At(0).Subscribes())

	_, err := c.Private(context.Background(), "after")
	require.ErrorIs(t, err, ErrConnectionClosed)
}

func TestConnection_ConnectFailureRetries(t *testing.T) {
	net := &fakeNet{}
	attempts := 0
	flaky := func() Transport {
		tr := net.Dial().(*fakeTransport)
		attempts++
		if attempts < 3 {
			tr.connectErr = errors.New("refused")
		}
		return tr
	}
	c := NewConnection(flaky, &countingAuthorizer{}, ConnectionConfig{
		ReconnectBase: time.Millisecond,
		ReconnectMax:  2 * time.Millisecond,
	})
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	sub, err := c.Private(ctx, "eventually")
	require.NoError(t, err)
	require.Equal(t, ChannelAuthorized, sub.State())
	require.Equal(t, 3, net.Count())
}

func TestConnection_LeaveStopsDelivery(t *testing.T) {
	c, net := newTestConnection(t, &countingAuthorizer{})
	_, err := c.Private(context.Background(), "room")
	require.NoError(t, err)

	got := make(chan Event, 4)
	c.Listen("room", "ping", func(ev Event) { got <- ev })
	net.At(0).messages <- Message{Event: "ping", Channel: "private-room"}
	require.Eventually(t, func() bool { return len(got) == 1 }, time.Second, time.Millisecond)

	c.Leave("room")
	require.Equal(t, []string{"private-room"}, net.At(0).Unsubscribes())
	net.At(0).messages <- Message{Event: "ping", Channel: "private-room"}
	time.Sleep(20 * time.Millisecond)
	require.Len(t, got, 1)
}

func TestBackoff(t *testing.T) {
	base, max := 500*time.Millisecond, 30*time.Second
	require.Equal(t, time.Duration(0), backoff(0, base, max))
	require.Equal(t, 500*time.Millisecond, backoff(1, base, max))
	require.Equal(t, time.Second, backoff(2, base, max))
	require.Equal(t, 16*time.Second, backoff(6, base, max))
	require.Equal(t, max, backoff(7, base, max))
	require.Equal(t, max, backoff(100, base, max))
}

func TestChannelState_String(t *testing.T) {
	require.Equal(t, "pending", ChannelPending.String())
	require.Equal(t, "authorized", ChannelAuthorized.String())
	require.Equal(t, "failed", ChannelFailed.String())
}
