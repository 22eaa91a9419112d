// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hala3amme/ezyskills/internal/model"
	"github.com/hala3amme/ezyskills/internal/session"
)

func (a *App) newNotificationsCmd() *cobra.Command {
	var unreadOnly bool
	cmd := &cobra.Command{
		Use:     "notifications",
		Aliases: []string{"inbox"},
		Short:   "List your notifications",
		Args:    exactArgs(),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(true, func(sess *session.Manager) error {
				resp, err := sess.Notifications.List(cmd.Context())
				if err != nil {
					return apiFailure("notifications", "list", err)
				}
				if unreadOnly {
					kept := resp.Notifications[:0]
					for _, n := range resp.Notifications {
						if n.Unread() {
							kept = append(kept, n)
						}
					}
					resp.Notifications = kept
				}
				return a.emit("notifications", resp, func(w io.Writer) {
					printNotifications(w, resp.Notifications)
				})
			})
		},
	}
	cmd.Flags().BoolVarP(&unreadOnly, "unread", "u", false, "only unread notifications")
	cmd.AddCommand(a.newNotificationsReadCmd())
	return cmd
}

func (a *App) newNotificationsReadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read <notification-id>",
		Short: "Mark a notification as read",
		Args:  exactArgs("notification-id"),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			if id == "" {
				return ErrMissingArgument("notification-id", cmd.UseLine())
			}
			return a.withSession(true, func(sess *session.Manager) error {
				resp, err := sess.Notifications.MarkRead(cmd.Context(), id)
				if err != nil {
					return apiFailure("notifications", "mark read", err)
				}
				return a.emit("notifications read", resp, func(w io.Writer) {
					fmt.Fprintf(w, "%s %s\n", SuccessStyle.Render("[OK]"), resp.Message)
				})
			})
		},
	}
}

func printNotifications(w io.Writer, items []model.Notification) {
	if len(items) == 0 {
		fmt.Fprintln(w, DimStyle.Render("No notifications."))
		return
	}
	unread := 0
	for _, n := range items {
		if n.Unread() {
			unread++
		}
	}
	header := fmt.Sprintf("%d notifications", len(items))
	if unread > 0 {
		header += " " + BadgeStyle.Render(fmt.Sprintf("%d unread", unread))
	}
	fmt.Fprintln(w, TitleStyle.Render(header))

	for _, n := range items {
		marker := "  "
		if n.Unread() {
			marker = WarningStyle.Render("* ")
		}
		fmt.Fprintln(w, marker+Column(n.CreatedAt, 22)+Column(shortType(n.Type), 24)+notificationSummary(n.Data))
		fmt.Fprintln(w, "  "+DimStyle.Render(n.ID))
	}
}

// shortType strips the class namespace from a notification type.
func shortType(t string) string {
	if i := strings.LastIndex(t, `\`); i >= 0 {
		return t[i+1:]
	}
	return t
}

// notificationSummary prefers the payload's message field and falls back to
// the compact payload.
func notificationSummary(data json.RawMessage) string {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Message != "" {
		return body.Message
	}
	return Column(strings.TrimSpace(string(data)), 60)
}
