// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/hala3amme/ezyskills/internal/config"
	"github.com/hala3amme/ezyskills/internal/session"
)

// BuildInfo is stamped into the binary at link time.
type BuildInfo struct {
	Version   string
	GitCommit string
	BuildDate string
}

// annotationSkipConfig marks commands that run without loading the config.
const annotationSkipConfig = "skipConfig"

// App holds the state shared by every command of one invocation.
type App struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer
	build  BuildInfo

	configPath string
	verbose    bool
	jsonMode   bool

	cfg      *config.Config
	logger   *slog.Logger
	prompter Prompter

	// sessionOpts carries network replacements for tests; Config and
	// Logger are filled in per invocation.
	sessionOpts session.Options
}

// Execute runs the ezy command line against the process streams and
// returns the exit code.
func Execute(build BuildInfo) int {
	app := &App{in: os.Stdin, out: os.Stdout, errOut: os.Stderr, build: build}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return app.Run(ctx, os.Args[1:])
}

// Run executes one command line.
func (a *App) Run(ctx context.Context, args []string) int {
	root := a.newRootCmd()
	root.SetArgs(args)
	root.SetIn(a.in)
	root.SetOut(a.out)
	root.SetErr(a.errOut)

	err := root.ExecuteContext(ctx)
	if a.prompter != nil {
		_ = a.prompter.Close()
	}
	if err != nil {
		DisplayError(a.errOut, err, a.jsonMode)
		return GetExitCode(err)
	}
	return ExitSuccess
}

func (a *App) newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ezy",
		Short: "Command-line client for the EzySkills learning platform",
		Long: `ezy signs in to an EzySkills backend, keeps the session shared across
terminals, and follows enrollment notifications in real time.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations[annotationSkipConfig] == "true" {
				a.logger = newLogger(a.errOut, config.DefaultLogLevel, a.verbose)
				return nil
			}
			return a.loadConfig()
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &ValidationError{Field: "flag", Reason: err.Error()}
	})

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (default ~/.ezy/config.toml)")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "debug logging on stderr")
	flags.BoolVar(&a.jsonMode, "json", false, "machine-readable JSON output")

	root.AddCommand(
		a.newLoginCmd(),
		a.newRegisterCmd(),
		a.newLogoutCmd(),
		a.newWhoamiCmd(),
		a.newNotificationsCmd(),
		a.newCoursesCmd(),
		a.newEnrollCmd(),
		a.newEnrollmentsCmd(),
		a.newRequestsCmd(),
		a.newReviewCmd("approve"),
		a.newReviewCmd("decline"),
		a.newConfigCmd(),
		a.newWatchCmd(),
		a.newVersionCmd(),
	)
	return root
}

// =============================================================================
// SHARED SETUP
// =============================================================================

func (a *App) loadConfig() error {
	var (
		cfg *config.Config
		err error
	)
	if a.configPath != "" {
		cfg, err = config.LoadFromPath(a.configPath)
	} else {
		cfg, err = config.Load()
	}
	if cfg == nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}
	a.cfg = cfg
	a.logger = newLogger(a.errOut, cfg.Log.Level, a.verbose)
	if err != nil {
		a.logger.Warn("config file ignored, using defaults", "error", err)
	}
	return nil
}

func newLogger(w io.Writer, level string, verbose bool) *slog.Logger {
	var lvl slog.Level
	if verbose {
		lvl = slog.LevelDebug
	} else if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// openSession builds a session for one command. Live sessions watch the
// durable tier for changes made by other processes. A non-nil reg receives
// the session's metrics.
func (a *App) openSession(live bool, reg *prometheus.Registry) (*session.Manager, error) {
	opts := a.sessionOpts
	opts.Config = a.cfg
	opts.Logger = a.logger
	opts.DisableWatcher = opts.DisableWatcher || !live
	if reg != nil {
		opts.Registry = reg
	}
	return session.New(opts)
}

// withSession opens a session, requires a credential when authRequired is
// set, and closes the session after fn.
func (a *App) withSession(authRequired bool, fn func(*session.Manager) error) error {
	sess, err := a.openSession(false, nil)
	if err != nil {
		return err
	}
	defer sess.Close()
	if authRequired && !sess.IsAuthenticated() {
		return ErrNotLoggedIn
	}
	return fn(sess)
}

func (a *App) prompt() Prompter {
	if a.prompter == nil {
		a.prompter = newPrompter(a.in, a.errOut)
	}
	return a.prompter
}

// =============================================================================
// ARGUMENT HELPERS
// =============================================================================

// exactArgs is cobra.ExactArgs naming the missing argument.
func exactArgs(names ...string) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) < len(names) {
			return ErrMissingArgument(names[len(args)], cmd.UseLine())
		}
		if len(args) > len(names) {
			return &ValidationError{
				Field:   "arguments",
				Reason:  fmt.Sprintf("expected %d, got %d", len(names), len(args)),
				Example: cmd.UseLine(),
			}
		}
		return nil
	}
}

// parseID parses a positive numeric id argument.
func parseID(field, value string) (int64, error) {
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidFormat(field, value, "a positive number such as 12")
	}
	return id, nil
}
