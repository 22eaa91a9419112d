// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// watch.go - Live view of the session: identity, realtime channel and
// enrollment pings.
//
// On a terminal the view is a bubbletea program. Otherwise one line is
// printed per change, which suits logs and tests.

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/hala3amme/ezyskills/internal/authbus"
	"github.com/hala3amme/ezyskills/internal/identity"
	"github.com/hala3amme/ezyskills/internal/session"
)

const maxWatchEvents = 8

func (a *App) newWatchCmd() *cobra.Command {
	var (
		metricsAddr string
		duration    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the session and enrollment notifications live",
		Long: `Follow the signed-in identity, the realtime notification channel and
incoming enrollment notifications.

Logging in or out from another terminal is picked up immediately. With
--metrics-addr the session's Prometheus metrics are served on /metrics.`,
		Args: exactArgs(),
		RunE: func(cmd *cobra.Command, args []string) error {
			var reg *prometheus.Registry
			if metricsAddr != "" {
				reg = prometheus.NewRegistry()
				reg.MustRegister(
					collectors.NewGoCollector(),
					collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
				)
			}

			sess, err := a.openSession(true, reg)
			if err != nil {
				return err
			}
			defer sess.Close()

			ctx := cmd.Context()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}
			if err := sess.Start(ctx); err != nil {
				return err
			}

			if reg != nil {
				stop, err := serveMetrics(metricsAddr, reg, sess, a.logger)
				if err != nil {
					return err
				}
				defer stop()
			}
			return a.runWatch(ctx, sess)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. 127.0.0.1:9464")
	cmd.Flags().DurationVar(&duration, "duration", 0, "stop after this long (default: until interrupted)")
	return cmd
}

// metricsRouter serves /metrics from reg and the session snapshot on
// /status.
func metricsRouter(reg *prometheus.Registry, sess *session.Manager) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(sess.GetStatus())
	})
	return r
}

// serveMetrics starts the metrics endpoint and returns its shutdown func.
func serveMetrics(addr string, reg *prometheus.Registry, sess *session.Manager, logger *slog.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	srv := &http.Server{Handler: metricsRouter(reg, sess), ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", ln.Addr().String())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

// runWatch blocks until ctx ends or the user quits.
func (a *App) runWatch(ctx context.Context, sess *session.Manager) error {
	updates := make(chan string, 64)
	push := func(text string) {
		select {
		case updates <- text:
		default:
		}
	}

	unsubs := []func(){
		sess.OnIdentity(func(s identity.State) { push("identity " + describeIdentity(s)) }),
		sess.Bus().Subscribe(authbus.KindChanged, func(e authbus.Event) {
			if e.Source == authbus.SourceCrossProcess {
				push("credential changed in another process")
			}
		}),
		sess.Bus().Subscribe(authbus.KindUnauthorized, func(authbus.Event) {
			push("credential rejected by the server")
		}),
		sess.Bus().Subscribe(authbus.KindEnrollmentsChanged, func(authbus.Event) {
			push(fmt.Sprintf("enrollments changed (%d pending)", sess.PendingPings()))
		}),
	}
	defer func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}()

	if a.interactive() {
		return a.watchTUI(ctx, sess, updates)
	}
	return a.watchPlain(ctx, sess, updates)
}

func (a *App) watchPlain(ctx context.Context, sess *session.Manager, updates <-chan string) error {
	line := func(text string) {
		fmt.Fprintf(a.out, "%s %s\n", time.Now().Format("15:04:05"), text)
	}
	line(fmt.Sprintf("watching session %s", sess.SessionID()))
	line("identity " + describeIdentity(sess.Identity()))

	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case text := <-updates:
					line(text)
				default:
					return nil
				}
			}
		case text := <-updates:
			line(text)
		}
	}
}

func (a *App) watchTUI(ctx context.Context, sess *session.Manager, updates <-chan string) error {
	model := newWatchModel(sess, updates)
	prog := tea.NewProgram(model, tea.WithContext(ctx), tea.WithOutput(a.out), tea.WithAltScreen())
	if _, err := prog.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return nil
}

// describeIdentity renders an identity state in a few words.
func describeIdentity(s identity.State) string {
	switch s.Status {
	case identity.StatusUnauthenticated:
		return "signed out"
	case identity.StatusLoading:
		if s.User != nil {
			return "loading (was " + s.User.DisplayName() + ")"
		}
		return "loading"
	}
	if s.User == nil {
		return "error: " + s.ErrorMessage
	}
	return fmt.Sprintf("%s (%s)", s.User.DisplayName(), s.User.Role)
}

// =============================================================================
// BUBBLETEA MODEL
// =============================================================================

type (
	watchTickMsg  time.Time
	watchEventMsg struct {
		at   time.Time
		text string
	}
)

type watchModel struct {
	sess    *session.Manager
	updates <-chan string
	spinner spinner.Model
	status  session.Status
	events  []watchEventMsg
	width   int
}

func newWatchModel(sess *session.Manager, updates <-chan string) watchModel {
	sp := spinner.New()
	sp.Spinner = spinner.Spinner{
		Frames: []string{"|", "/", "-", "\\"},
		FPS:    time.Second / 10,
	}
	sp.Style = WarningStyle
	return watchModel{
		sess:    sess,
		updates: updates,
		spinner: sp,
		status:  sess.GetStatus(),
		width:   DefaultTerminalWidth,
	}
}

func watchTick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return watchTickMsg(t) })
}

func waitForUpdate(updates <-chan string) tea.Cmd {
	return func() tea.Msg {
		text, ok := <-updates
		if !ok {
			return nil
		}
		return watchEventMsg{at: time.Now(), text: text}
	}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, watchTick(), waitForUpdate(m.updates))
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "a":
			m.sess.AckPings()
			m.status = m.sess.GetStatus()
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case watchTickMsg:
		m.status = m.sess.GetStatus()
		return m, watchTick()

	case watchEventMsg:
		m.events = append(m.events, msg)
		if len(m.events) > maxWatchEvents {
			m.events = m.events[len(m.events)-maxWatchEvents:]
		}
		m.status = m.sess.GetStatus()
		return m, waitForUpdate(m.updates)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m watchModel) View() string {
	var b strings.Builder
	st := m.status

	title := "ezy watch"
	if st.Identity.Status == identity.StatusLoading {
		title += " " + m.spinner.View()
	}
	b.WriteString(TitleStyle.Render(title) + "\n")

	b.WriteString(RenderField("Session", st.SessionID) + "\n")
	b.WriteString(RenderLabel("Identity") + RenderStatus(st.Identity.Status.String()) + " " +
		ValueStyle.Render(describeIdentity(st.Identity)) + "\n")
	b.WriteString(RenderField("Credential", st.Tier+" ("+st.StorageTarget+")") + "\n")

	realtimeLine := "disabled (no app key)"
	if st.Realtime {
		realtimeLine = "idle"
		if st.Channel != "" {
			realtimeLine = st.Channel
			if sub := m.sess.Realtime().Subscription(); sub != nil {
				realtimeLine = RenderStatus(sub.State().String()) + " " + st.Channel
			}
		}
	}
	b.WriteString(RenderLabel("Realtime") + ValueStyle.Render(realtimeLine) + "\n")

	pings := DimStyle.Render("none")
	if st.PendingPings > 0 {
		pings = BadgeStyle.Render(fmt.Sprintf("%d new", st.PendingPings))
	}
	b.WriteString(RenderLabel("Enrollments") + pings + "\n")
	b.WriteString(RenderField("Uptime", session.FormatDuration(st.Duration)) + "\n")

	width := m.width - 4
	if width > 72 {
		width = 72
	}
	b.WriteString("\n" + RenderSeparator(width) + "\n")
	if len(m.events) == 0 {
		b.WriteString(DimStyle.Render("waiting for changes...") + "\n")
	}
	for _, ev := range m.events {
		b.WriteString(DimStyle.Render(ev.at.Format("15:04:05")) + " " + Column(ev.text, width-9) + "\n")
	}
	b.WriteString("\n" + DimStyle.Render("q quit · a acknowledge enrollments") + "\n")
	return b.String()
}
