// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package realtime

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// fakeTransport records protocol calls instead of speaking to a server.
type fakeTransport struct {
	mu           sync.Mutex
	subscribes   []string
	unsubscribes []string
	subscribeErr error
	connectErr   error
	socketID     string
	// gate, when set, holds Connect until it is closed.
	gate chan struct{}

	messages  chan Message
	closeOnce sync.Once
}

func (f *fakeTransport) Connect(ctx context.Context) (string, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.connectErr != nil {
		return "", f.connectErr
	}
	return f.socketID, nil
}

func (f *fakeTransport) Subscribe(ctx context.Context, channel string, grant Grant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribes = append(f.subscribes, channel)
	return f.subscribeErr
}

func (f *fakeTransport) Unsubscribe(channel string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribes = append(f.unsubscribes, channel)
	return nil
}

func (f *fakeTransport) Messages() <-chan Message { return f.messages }

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() { close(f.messages) })
	return nil
}

func (f *fakeTransport) Subscribes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.subscribes...)
}

func (f *fakeTransport) Unsubscribes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.unsubscribes...)
}

// fakeNet hands out fakeTransports and remembers them. Each transport gets
// its own socket id, starting at 1234.5678.
type fakeNet struct {
	mu         sync.Mutex
	transports []*fakeTransport
	gate       chan struct{}
}

func (n *fakeNet) Dial() Transport {
	n.mu.Lock()
	defer n.mu.Unlock()
	t := &fakeTransport{
		messages: make(chan Message, 8),
		socketID: fmt.Sprintf("1234.%d", 5678+len(n.transports)),
		gate:     n.gate,
	}
	n.transports = append(n.transports, t)
	return t
}

func (n *fakeNet) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.transports)
}

func (n *fakeNet) At(i int) *fakeTransport {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.transports[i]
}

// countingAuthorizer grants every request and counts them.
type countingAuthorizer struct {
	calls    atomic.Int32
	err      error
	mu       sync.Mutex
	channels []string
	sockets  []string
}

func (a *countingAuthorizer) Authorize(ctx context.Context, socketID, channel string) (Grant, error) {
	a.calls.Add(1)
	a.mu.Lock()
	a.channels = append(a.channels, channel)
	a.sockets = append(a.sockets, socketID)
	a.mu.Unlock()
	if a.err != nil {
		return Grant{}, a.err
	}
	return Grant{Auth: "key:signature"}, nil
}

func (a *countingAuthorizer) Sockets() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.sockets...)
}
