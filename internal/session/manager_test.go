// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/hala3amme/ezyskills/internal/authbus"
	"github.com/hala3amme/ezyskills/internal/config"
	"github.com/hala3amme/ezyskills/internal/identity"
	"github.com/hala3amme/ezyskills/internal/realtime"
	"github.com/hala3amme/ezyskills/internal/services"
	"github.com/hala3amme/ezyskills/internal/tokenstore"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// socket is an in-memory realtime.Transport.
type socket struct {
	mu         sync.Mutex
	subscribed []string
	messages   chan realtime.Message
	once       sync.Once
	// hang keeps Connect waiting until the connection is closed.
	hang bool
}

func (s *socket) Connect(ctx context.Context) (string, error) {
	if s.hang {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return "9.9", nil
}

func (s *socket) Unsubscribe(string) error          { return nil }
func (s *socket) Messages() <-chan realtime.Message { return s.messages }

func (s *socket) Subscribe(_ context.Context, channel string, _ realtime.Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribed = append(s.subscribed, channel)
	return nil
}

func (s *socket) Close() error {
	s.once.Do(func() { close(s.messages) })
	return nil
}

func (s *socket) channels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.subscribed...)
}

type sockets struct {
	mu   sync.Mutex
	all  []*socket
	hang bool
}

func (ss *sockets) dial() realtime.Transport {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	s := &socket{messages: make(chan realtime.Message, 4), hang: ss.hang}
	ss.all = append(ss.all, s)
	return s
}

func (ss *sockets) last() *socket {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if len(ss.all) == 0 {
		return nil
	}
	return ss.all[len(ss.all)-1]
}

// backend is a fake EZY API. Tokens map to users; anything else is 401.
type backend struct {
	server     *httptest.Server
	logoutFail bool
	meCalls    atomic.Int32
}

const (
	teacherToken = "tok-teacher"
	studentToken = "tok-student"
)

func newBackend(t *testing.T) *backend {
	b := &backend{}
	users := map[string]string{
		teacherToken: `{"id":42,"name":"Tea","email":"t@example.com","role":"teacher"}`,
		studentToken: `{"id":7,"name":"Stu","email":"s@example.com","role":"student"}`,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var p services.LoginPayload
		_ = json.NewDecoder(r.Body).Decode(&p)
		token := studentToken
		if strings.HasPrefix(p.Email, "t") {
			token = teacherToken
		}
		_, _ = w.Write([]byte(`{"token":"` + token + `","user":` + users[token] + `}`))
	})
	mux.HandleFunc("/api/auth/me", func(w http.ResponseWriter, r *http.Request) {
		b.meCalls.Add(1)
		user, ok := users[strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")]
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"Unauthenticated."}`))
			return
		}
		_, _ = w.Write([]byte(`{"user":` + user + `}`))
	})
	mux.HandleFunc("/api/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		if b.logoutFail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"message":"Logged out"}`))
	})
	b.server = httptest.NewServer(mux)
	t.Cleanup(b.server.Close)
	return b
}

func testConfig(t *testing.T, b *backend, dir string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.API.BaseURL = b.server.URL
	cfg.Storage.Dir = dir
	cfg.Realtime.AppKey = "app-key"
	return cfg
}

func newTestManager(t *testing.T, cfg *config.Config, ss *sockets) *Manager {
	t.Helper()
	mgr, err := New(Options{
		Config:        cfg,
		Registry:      prometheus.NewRegistry(),
		WatchDebounce: 10 * time.Millisecond,
		Dial:          ss.dial,
		Authorizer: realtime.AuthorizerFunc(func(context.Context, string, string) (realtime.Grant, error) {
			return realtime.Grant{Auth: "k:s"}, nil
		}),
	})
	require.NoError(t, err)
	require.NoError(t, mgr.Start(context.Background()))
	t.Cleanup(func() { _ = mgr.Close() })
	return mgr
}

func waitIdentity(t *testing.T, mgr *Manager, cond func(identity.State) bool) {
	t.Helper()
	require.Eventually(t, func() bool { return cond(mgr.Identity()) }, 3*time.Second, 5*time.Millisecond)
}

// =============================================================================
// LOGIN AND REALTIME
// =============================================================================

func TestManager_TeacherLoginJoinsNotificationChannel(t *testing.T) {
	b := newBackend(t)
	ss := &sockets{}
	mgr := newTestManager(t, testConfig(t, b, t.TempDir()), ss)

	require.Equal(t, identity.StatusUnauthenticated, mgr.Identity().Status)

	_, err := mgr.Login(context.Background(), services.LoginPayload{Email: "t@example.com", Password: "pw"}, tokenstore.DefaultWriteOptions())
	require.NoError(t, err)

	waitIdentity(t, mgr, identity.State.Authenticated)
	require.Eventually(t, func() bool {
		s := ss.last()
		return s != nil && len(s.channels()) == 1
	}, 3*time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"private-App.Models.User.42"}, ss.last().channels())
	require.Equal(t, "App.Models.User.42", mgr.GetStatus().Channel)
}

func TestManager_StudentLoginStaysOffline(t *testing.T) {
	b := newBackend(t)
	ss := &sockets{}
	mgr := newTestManager(t, testConfig(t, b, t.TempDir()), ss)

	_, err := mgr.Login(context.Background(), services.LoginPayload{Email: "s@example.com", Password: "pw"}, tokenstore.WriteOptions{Persist: false})
	require.NoError(t, err)
	waitIdentity(t, mgr, identity.State.Authenticated)

	time.Sleep(30 * time.Millisecond)
	require.Nil(t, ss.last())
	require.Equal(t, "ephemeral", mgr.GetStatus().Tier)
}

func TestManager_NotificationBumpsPings(t *testing.T) {
	b := newBackend(t)
	ss := &sockets{}
	mgr := newTestManager(t, testConfig(t, b, t.TempDir()), ss)

	var changed atomic.Int32
	mgr.Bus().Subscribe(authbus.KindEnrollmentsChanged, func(authbus.Event) { changed.Add(1) })

	_, err := mgr.Login(context.Background(), services.LoginPayload{Email: "t@example.com", Password: "pw"}, tokenstore.DefaultWriteOptions())
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return ss.last() != nil && len(ss.last().channels()) == 1
	}, 3*time.Second, 5*time.Millisecond)

	ss.last().messages <- realtime.Message{
		Event:   realtime.NotificationEvent,
		Channel: "private-App.Models.User.42",
		Data:    json.RawMessage(`{}`),
	}
	require.Eventually(t, func() bool { return mgr.PendingPings() == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, int32(1), changed.Load())

	mgr.AckPings()
	require.Zero(t, mgr.PendingPings())
}

func TestManager_IdentityChangeNotBlockedByPendingJoin(t *testing.T) {
	b := newBackend(t)
	ss := &sockets{hang: true}
	mgr := newTestManager(t, testConfig(t, b, t.TempDir()), ss)

	_, err := mgr.Login(context.Background(), services.LoginPayload{Email: "t@example.com", Password: "pw"}, tokenstore.DefaultWriteOptions())
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return mgr.Realtime().Channel() == "App.Models.User.42" && ss.last() != nil
	}, 3*time.Second, 5*time.Millisecond)

	// The socket never comes up; the credential switches to a student.
	require.NoError(t, mgr.Store().Write(studentToken, tokenstore.DefaultWriteOptions()))
	waitIdentity(t, mgr, func(s identity.State) bool { return s.User != nil && s.User.ID == 7 })
	require.Eventually(t, func() bool { return mgr.Realtime().Channel() == "" }, time.Second, 5*time.Millisecond)
	require.Empty(t, mgr.Realtime().GetConnection().Subscriptions())

	// Back to the teacher: the join is attempted again.
	require.NoError(t, mgr.Store().Write(teacherToken, tokenstore.DefaultWriteOptions()))
	require.Eventually(t, func() bool { return mgr.Realtime().Channel() == "App.Models.User.42" }, 3*time.Second, 5*time.Millisecond)
	require.Empty(t, ss.last().channels())
}

// =============================================================================
// REJECTION AND LOGOUT
// =============================================================================

func TestManager_RejectedCredentialClearsEverything(t *testing.T) {
	b := newBackend(t)
	ss := &sockets{}
	dir := t.TempDir()
	cfg := testConfig(t, b, dir)

	// A stale token left behind by an earlier run.
	require.NoError(t, tokenstore.NewFileTier(cfg.Storage.TokenPath()).Set("revoked"))

	mgr := newTestManager(t, cfg, ss)
	waitIdentity(t, mgr, func(s identity.State) bool { return s.Status == identity.StatusUnauthenticated && b.meCalls.Load() > 0 })
	require.False(t, mgr.IsAuthenticated())
	require.Empty(t, mgr.Realtime().Channel())
}

func TestManager_LogoutClearsEvenWhenServerFails(t *testing.T) {
	b := newBackend(t)
	b.logoutFail = true
	ss := &sockets{}
	mgr := newTestManager(t, testConfig(t, b, t.TempDir()), ss)

	_, err := mgr.Login(context.Background(), services.LoginPayload{Email: "t@example.com", Password: "pw"}, tokenstore.DefaultWriteOptions())
	require.NoError(t, err)
	waitIdentity(t, mgr, identity.State.Authenticated)

	err = mgr.Logout(context.Background())
	require.Error(t, err)
	require.False(t, mgr.IsAuthenticated())
	require.Equal(t, identity.StatusUnauthenticated, mgr.Identity().Status)
	require.Eventually(t, func() bool { return mgr.Realtime().Channel() == "" }, time.Second, 5*time.Millisecond)
}

// =============================================================================
// CROSS-PROCESS
// =============================================================================

func TestManager_OwnLoginSignalsOnce(t *testing.T) {
	b := newBackend(t)
	mgr := newTestManager(t, testConfig(t, b, t.TempDir()), &sockets{})

	var local, cross atomic.Int32
	mgr.Bus().Subscribe(authbus.KindChanged, func(e authbus.Event) {
		if e.Source == authbus.SourceCrossProcess {
			cross.Add(1)
			return
		}
		local.Add(1)
	})

	_, err := mgr.Login(context.Background(), services.LoginPayload{Email: "s@example.com", Password: "pw"}, tokenstore.DefaultWriteOptions())
	require.NoError(t, err)
	waitIdentity(t, mgr, identity.State.Authenticated)

	time.Sleep(300 * time.Millisecond)
	require.Equal(t, int32(1), local.Load())
	require.Zero(t, cross.Load())
	require.Equal(t, int32(1), b.meCalls.Load())

	_ = mgr.Logout(context.Background())
	time.Sleep(300 * time.Millisecond)
	require.Equal(t, int32(2), local.Load())
	require.Zero(t, cross.Load())
}

func TestManager_SharedStateDirPropagates(t *testing.T) {
	b := newBackend(t)
	dir := t.TempDir()
	first := newTestManager(t, testConfig(t, b, dir), &sockets{})
	second := newTestManager(t, testConfig(t, b, dir), &sockets{})

	_, err := first.Login(context.Background(), services.LoginPayload{Email: "s@example.com", Password: "pw"}, tokenstore.DefaultWriteOptions())
	require.NoError(t, err)
	waitIdentity(t, second, identity.State.Authenticated)
	require.Equal(t, int64(7), second.Identity().User.ID)

	_ = first.Logout(context.Background())
	waitIdentity(t, second, func(s identity.State) bool { return s.Status == identity.StatusUnauthenticated })
}

func TestManager_SQLiteBackend(t *testing.T) {
	b := newBackend(t)
	cfg := testConfig(t, b, t.TempDir())
	cfg.Storage.Backend = config.BackendSQLite
	mgr := newTestManager(t, cfg, &sockets{})

	_, err := mgr.Login(context.Background(), services.LoginPayload{Email: "s@example.com", Password: "pw"}, tokenstore.DefaultWriteOptions())
	require.NoError(t, err)
	waitIdentity(t, mgr, identity.State.Authenticated)

	status := mgr.GetStatus()
	require.Equal(t, "durable", status.Tier)
	require.True(t, strings.HasSuffix(status.StorageTarget, "ezy.db"))
}

func TestNew_RequiresConfig(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
}

// =============================================================================
// FORMATTING
// =============================================================================

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{30 * time.Second, "30s"},
		{2 * time.Minute, "2m"},
		{2*time.Minute + 5*time.Second, "2m 5s"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.d); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
