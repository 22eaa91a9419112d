// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// auth_cmd.go - login, register, logout and whoami.

package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hala3amme/ezyskills/internal/api"
	"github.com/hala3amme/ezyskills/internal/model"
	"github.com/hala3amme/ezyskills/internal/services"
	"github.com/hala3amme/ezyskills/internal/session"
	"github.com/hala3amme/ezyskills/internal/tokenstore"
)

// authResult is the --json shape of login and register.
type authResult struct {
	User model.User `json:"user"`
	Tier string     `json:"tier"`
}

// =============================================================================
// LOGIN
// =============================================================================

func (a *App) newLoginCmd() *cobra.Command {
	var (
		email       string
		sessionOnly bool
		watch       bool
	)
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the credential",
		Long: `Sign in with email and password.

By default the credential is remembered in the state directory and shared
with every ezy process. With --session-only it lives in this process only,
which is useful together with --watch.`,
		Args: exactArgs(),
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := a.askEmail(email)
			if err != nil {
				return err
			}
			password, err := a.prompt().ReadPassword("Password: ")
			if err != nil {
				return err
			}
			if password == "" {
				return &ValidationError{Field: "password", Reason: "must not be empty"}
			}

			sess, err := a.openSession(watch, nil)
			if err != nil {
				return err
			}
			defer sess.Close()
			if watch {
				if err := sess.Start(cmd.Context()); err != nil {
					return err
				}
			}

			opts := tokenstore.WriteOptions{Persist: !sessionOnly}
			resp, err := sess.Login(cmd.Context(), services.LoginPayload{
				Email:      email,
				Password:   password,
				DeviceName: deviceName(),
			}, opts)
			if err != nil {
				return apiFailure("login", "sign in", err)
			}
			if err := a.printAuthResult("login", sess, resp); err != nil {
				return err
			}
			if watch {
				return a.runWatch(cmd.Context(), sess)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "account email (prompted when omitted)")
	cmd.Flags().BoolVar(&sessionOnly, "session-only", false, "do not remember the credential after this process exits")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "open the live view after signing in")
	return cmd
}

func (a *App) askEmail(email string) (string, error) {
	if email == "" {
		line, err := a.prompt().ReadLine("Email: ")
		if err != nil {
			return "", err
		}
		email = line
	}
	email = NormalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return "", err
	}
	return email, nil
}

func deviceName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "ezy-cli"
	}
	return "ezy-cli@" + host
}

func (a *App) printAuthResult(command string, sess *session.Manager, resp *model.AuthResponse) error {
	tier := "none"
	if cred, ok := sess.Store().Read(); ok {
		tier = cred.Tier.String()
	}
	return a.emit(command, authResult{User: resp.User, Tier: tier}, func(w io.Writer) {
		fmt.Fprintf(w, "%s Signed in as %s (%s)\n",
			SuccessStyle.Render("[OK]"), resp.User.DisplayName(), resp.User.Role)
		if tier == tokenstore.Ephemeral.String() {
			fmt.Fprintln(w, DimStyle.Render("Credential kept for this process only."))
		}
	})
}

// =============================================================================
// REGISTER
// =============================================================================

func (a *App) newRegisterCmd() *cobra.Command {
	var (
		name  string
		email string
		phone string
	)
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create a student account and sign in",
		Args:  exactArgs(),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := a.prompt()
			if name == "" {
				line, err := p.ReadLine("Name: ")
				if err != nil {
					return err
				}
				name = strings.TrimSpace(line)
			}
			if name == "" {
				return &ValidationError{Field: "name", Reason: "must not be empty"}
			}
			email, err := a.askEmail(email)
			if err != nil {
				return err
			}
			password, err := p.ReadPassword("Password: ")
			if err != nil {
				return err
			}
			confirm, err := p.ReadPassword("Confirm password: ")
			if err != nil {
				return err
			}
			if password == "" {
				return &ValidationError{Field: "password", Reason: "must not be empty"}
			}
			if password != confirm {
				return &ValidationError{Field: "password", Reason: "passwords do not match"}
			}

			return a.withSession(false, func(sess *session.Manager) error {
				resp, err := sess.Register(cmd.Context(), services.RegisterPayload{
					Name:                 name,
					Email:                email,
					PhoneNumber:          strings.TrimSpace(phone),
					Password:             password,
					PasswordConfirmation: confirm,
				}, tokenstore.DefaultWriteOptions())
				if err != nil {
					return apiFailure("register", "create account", err)
				}
				return a.printAuthResult("register", sess, resp)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name (prompted when omitted)")
	cmd.Flags().StringVarP(&email, "email", "e", "", "account email (prompted when omitted)")
	cmd.Flags().StringVar(&phone, "phone", "", "phone number")
	return cmd
}

// =============================================================================
// LOGOUT
// =============================================================================

func (a *App) newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the credential and forget it locally",
		Long: `Ask the server to revoke the credential, then forget it locally.

The local credential is removed even when the server cannot be reached.`,
		Args: exactArgs(),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(false, func(sess *session.Manager) error {
				if !sess.IsAuthenticated() {
					return a.emit("logout", map[string]bool{"was_logged_in": false}, func(w io.Writer) {
						fmt.Fprintln(w, DimStyle.Render("Not logged in."))
					})
				}
				serverErr := sess.Logout(cmd.Context())
				result := map[string]interface{}{"was_logged_in": true, "revoked": serverErr == nil}
				if serverErr != nil {
					a.logger.Warn("server logout failed", "error", serverErr)
					result["server_message"] = api.ErrorMessage(serverErr)
				}
				return a.emit("logout", result, func(w io.Writer) {
					if serverErr != nil {
						fmt.Fprintf(w, "%s Server said: %s\n", WarningStyle.Render("[WARN]"), api.ErrorMessage(serverErr))
					}
					fmt.Fprintf(w, "%s Logged out\n", SuccessStyle.Render("[OK]"))
				})
			})
		},
	}
}

// =============================================================================
// WHOAMI
// =============================================================================

func (a *App) newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in account",
		Args:  exactArgs(),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(true, func(sess *session.Manager) error {
				me, err := sess.Auth.Me(cmd.Context())
				if err != nil {
					return apiFailure("whoami", "load account", err)
				}
				cred, _ := sess.Store().Read()
				return a.emit("whoami", authResult{User: me.User, Tier: cred.Tier.String()}, func(w io.Writer) {
					fmt.Fprintln(w, TitleStyle.Render(me.User.DisplayName()))
					fmt.Fprintln(w, RenderField("Email", me.User.Email))
					fmt.Fprintln(w, RenderField("Role", string(me.User.Role)))
					if me.User.PhoneNumber != nil {
						fmt.Fprintln(w, RenderField("Phone", *me.User.PhoneNumber))
					}
					fmt.Fprintln(w, RenderField("Stored", cred.Tier.String()))
				})
			})
		},
	}
}
