// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// courses_cmd.go - Catalog browsing, enrollment and teacher review.

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/hala3amme/ezyskills/internal/model"
	"github.com/hala3amme/ezyskills/internal/services"
	"github.com/hala3amme/ezyskills/internal/session"
)

// =============================================================================
// COURSES
// =============================================================================

func (a *App) newCoursesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "courses",
		Short: "Browse the course catalog",
	}
	cmd.AddCommand(
		a.newCoursesListCmd(),
		a.newCoursesShowCmd(),
		a.newCoursesMineCmd(),
		a.newCoursesDashboardCmd(),
	)
	return cmd
}

func (a *App) newCoursesListCmd() *cobra.Command {
	var params services.ListCoursesParams
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List catalog courses",
		Args:    exactArgs(),
		RunE: func(cmd *cobra.Command, args []string) error {
			if params.Page < 0 {
				return ErrInvalidFormat("page", strconv.Itoa(params.Page), "--page 2")
			}
			return a.withSession(false, func(sess *session.Manager) error {
				page, err := sess.Courses.List(cmd.Context(), params)
				if err != nil {
					return apiFailure("courses", "list", err)
				}
				return a.emit("courses list", page, func(w io.Writer) {
					printCourseTable(w, page.Data)
					if page.Meta.LastPage > 1 {
						fmt.Fprintln(w, DimStyle.Render(fmt.Sprintf("Page %d of %d (%d courses)",
							page.Meta.CurrentPage, page.Meta.LastPage, page.Meta.Total)))
					}
				})
			})
		},
	}
	cmd.Flags().StringVarP(&params.Search, "search", "s", "", "search title and description")
	cmd.Flags().StringVarP(&params.Tag, "tag", "t", "", "only courses with this tag")
	cmd.Flags().IntVarP(&params.Page, "page", "p", 0, "page number")
	return cmd
}

func (a *App) newCoursesMineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mine",
		Short: "List courses you have access to",
		Args:  exactArgs(),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(true, func(sess *session.Manager) error {
				resp, err := sess.Courses.MyCourses(cmd.Context())
				if err != nil {
					return apiFailure("courses", "list mine", err)
				}
				return a.emit("courses mine", resp, func(w io.Writer) {
					printCourseTable(w, resp.Courses)
				})
			})
		},
	}
}

// newCoursesDashboardCmd lists the courses a teacher owns. The server's
// dashboard rows carry extra fields, so --json passes them through as is.
func (a *App) newCoursesDashboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "List the courses you teach (teachers)",
		Args:  exactArgs(),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(true, func(sess *session.Manager) error {
				rows, err := sess.Courses.TeacherDashboard(cmd.Context())
				if err != nil {
					return apiFailure("courses", "load dashboard", err)
				}
				courses := make([]model.CourseSummary, 0, len(rows))
				for _, raw := range rows {
					var c model.CourseSummary
					if err := json.Unmarshal(raw, &c); err != nil {
						a.logger.Debug("skipping dashboard row", "error", err)
						continue
					}
					courses = append(courses, c)
				}
				return a.emit("courses dashboard", map[string]interface{}{"courses": rows}, func(w io.Writer) {
					printCourseTable(w, courses)
				})
			})
		},
	}
}

func (a *App) newCoursesShowCmd() *cobra.Command {
	var content bool
	cmd := &cobra.Command{
		Use:   "show <course-id>",
		Short: "Show one course",
		Long: `Show one course with its objectives, videos, projects and tools.

With --content the enrolled-student view is requested, which includes
video links for unlocked lessons.`,
		Args: exactArgs("course-id"),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("course-id", args[0])
			if err != nil {
				return err
			}
			return a.withSession(content, func(sess *session.Manager) error {
				var course *model.CourseDetail
				if content {
					course, err = sess.Courses.Content(cmd.Context(), id)
				} else {
					course, err = sess.Courses.Get(cmd.Context(), id)
				}
				if err != nil {
					return apiFailure("courses", "show", err)
				}
				return a.emit("courses show", course, func(w io.Writer) {
					fmt.Fprint(w, renderMarkdown(courseMarkdown(course)))
				})
			})
		},
	}
	cmd.Flags().BoolVar(&content, "content", false, "request the enrolled-student view")
	return cmd
}

func printCourseTable(w io.Writer, courses []model.CourseSummary) {
	if len(courses) == 0 {
		fmt.Fprintln(w, DimStyle.Render("No courses found."))
		return
	}
	fmt.Fprintln(w, SectionStyle.Render(Column("ID", 6)+Column("TITLE", 36)+Column("TEACHER", 20)+"TAGS"))
	for _, c := range courses {
		fmt.Fprintln(w, Column(strconv.FormatInt(c.ID, 10), 6)+
			Column(c.Title, 36)+
			Column(c.Teacher.DisplayName(), 20)+
			DimStyle.Render(strings.Join(c.Tags, ", ")))
	}
}

// courseMarkdown lays a course out as a markdown document.
func courseMarkdown(c *model.CourseDetail) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", c.Title)
	fmt.Fprintf(&b, "*by %s*", c.Teacher.DisplayName())
	if len(c.Tags) > 0 {
		fmt.Fprintf(&b, " · `%s`", strings.Join(c.Tags, "` `"))
	}
	b.WriteString("\n\n")
	if c.Description != nil && *c.Description != "" {
		b.WriteString(*c.Description + "\n\n")
	}

	if len(c.Objectives) > 0 {
		b.WriteString("## Objectives\n\n")
		for i, o := range c.Objectives {
			fmt.Fprintf(&b, "%d. %s\n", i+1, o.Objective)
		}
		b.WriteString("\n")
	}
	if len(c.Videos) > 0 {
		b.WriteString("## Videos\n\n")
		for _, v := range c.Videos {
			switch {
			case v.IsLocked:
				fmt.Fprintf(&b, "%d. %s (locked)\n", v.SerialNumber, v.Title)
			case v.VideoURL != nil:
				fmt.Fprintf(&b, "%d. [%s](%s)\n", v.SerialNumber, v.Title, *v.VideoURL)
			default:
				fmt.Fprintf(&b, "%d. %s\n", v.SerialNumber, v.Title)
			}
		}
		b.WriteString("\n")
	}
	if len(c.Projects) > 0 {
		b.WriteString("## Projects\n\n")
		for _, p := range c.Projects {
			fmt.Fprintf(&b, "- **%s**", p.Title)
			if p.Description != nil {
				fmt.Fprintf(&b, ": %s", *p.Description)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	if len(c.Tools) > 0 {
		b.WriteString("## Tools\n\n")
		for _, t := range c.Tools {
			if t.URL != nil {
				fmt.Fprintf(&b, "- [%s](%s)\n", t.Name, *t.URL)
			} else {
				fmt.Fprintf(&b, "- %s\n", t.Name)
			}
		}
	}
	return b.String()
}

// renderMarkdown renders md for the terminal, or returns it unchanged when
// rendering fails.
func renderMarkdown(md string) string {
	style := glamour.WithAutoStyle()
	if !ColorsEnabled() {
		style = glamour.WithStandardStyle("notty")
	}
	r, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(markdownWidth()))
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return out
}

// =============================================================================
// STUDENT ENROLLMENT
// =============================================================================

func (a *App) newEnrollCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enroll <course-id>",
		Short: "Request enrollment in a course",
		Args:  exactArgs("course-id"),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("course-id", args[0])
			if err != nil {
				return err
			}
			return a.withSession(true, func(sess *session.Manager) error {
				res, err := sess.Courses.Enroll(cmd.Context(), id)
				if err != nil {
					return apiFailure("enroll", "request", err)
				}
				return a.emit("enroll", res, func(w io.Writer) {
					fmt.Fprintf(w, "%s %s\n", RenderStatus(string(res.Enrollment.Status)), res.Message)
				})
			})
		},
	}
}

func (a *App) newEnrollmentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enrollments",
		Short: "List your enrollment requests",
		Args:  exactArgs(),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(true, func(sess *session.Manager) error {
				resp, err := sess.Courses.MyEnrollments(cmd.Context())
				if err != nil {
					return apiFailure("enrollments", "list", err)
				}
				return a.emit("enrollments", resp, func(w io.Writer) {
					if len(resp.Enrollments) == 0 {
						fmt.Fprintln(w, DimStyle.Render("No enrollments yet."))
						return
					}
					for _, e := range resp.Enrollments {
						fmt.Fprintln(w, StatusColumn(string(e.Status), 12)+
							Column(e.Course.Title, 40)+
							DimStyle.Render(e.Course.Teacher.Name))
					}
				})
			})
		},
	}
}

// =============================================================================
// TEACHER REVIEW
// =============================================================================

func (a *App) newRequestsCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "requests",
		Short: "List enrollment requests for your courses (teachers)",
		Args:  exactArgs(),
		RunE: func(cmd *cobra.Command, args []string) error {
			st := model.EnrollmentStatus(strings.ToLower(status))
			switch st {
			case "", model.EnrollmentPending, model.EnrollmentApproved, model.EnrollmentDeclined:
			default:
				return ErrInvalidFormat("status", status, "--status pending|approved|declined")
			}
			return a.withSession(true, func(sess *session.Manager) error {
				resp, err := sess.Courses.TeacherEnrollments(cmd.Context(), st)
				if err != nil {
					return apiFailure("requests", "list", err)
				}
				return a.emit("requests", resp, func(w io.Writer) {
					if len(resp.Enrollments) == 0 {
						fmt.Fprintln(w, DimStyle.Render("No enrollment requests."))
						return
					}
					for _, e := range resp.Enrollments {
						fmt.Fprintln(w, Column(strconv.FormatInt(e.ID, 10), 6)+
							StatusColumn(string(e.Status), 12)+
							Column(e.Student.Name, 22)+
							Column(e.Course.Title, 32)+
							DimStyle.Render(e.CreatedAt))
					}
				})
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by pending, approved or declined")
	return cmd
}

// newReviewCmd builds approve or decline.
func (a *App) newReviewCmd(action string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <enrollment-id>",
		Short: strings.ToUpper(action[:1]) + action[1:] + " an enrollment request (teachers)",
		Args:  exactArgs("enrollment-id"),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("enrollment-id", args[0])
			if err != nil {
				return err
			}
			return a.withSession(true, func(sess *session.Manager) error {
				review := sess.Courses.Approve
				if action == "decline" {
					review = sess.Courses.Decline
				}
				res, err := review(cmd.Context(), id)
				if err != nil {
					return apiFailure(action, "review", err)
				}
				return a.emit(action, res, func(w io.Writer) {
					fmt.Fprintf(w, "%s %s\n", RenderStatus(string(res.Enrollment.Status)), res.Message)
				})
			})
		},
	}
}
