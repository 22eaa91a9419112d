// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "encoding/json"

// EnrollmentStatus is the review state of an enrollment request.
type EnrollmentStatus string

const (
	EnrollmentPending  EnrollmentStatus = "pending"
	EnrollmentApproved EnrollmentStatus = "approved"
	EnrollmentDeclined EnrollmentStatus = "declined"
)

// TeacherRef is the compact teacher object nested in course payloads.
type TeacherRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// CourseSummary is one row of the public catalog.
type CourseSummary struct {
	ID            int64    `json:"id"`
	ImageURL      *string  `json:"image_url"`
	Title         string   `json:"title"`
	Description   *string  `json:"description"`
	DemoURL       *string  `json:"demo_url"`
	CurriculumURL *string  `json:"curriculum_url"`
	Teacher       User     `json:"teacher"`
	Tags          []string `json:"tags"`
}

// CourseObjective is a numbered learning objective.
type CourseObjective struct {
	ID        int64  `json:"id"`
	Position  int    `json:"position"`
	Objective string `json:"objective"`
}

// CourseVideo is a lesson video. Locked videos carry no URL.
type CourseVideo struct {
	ID           int64   `json:"id"`
	SerialNumber int     `json:"serial_number"`
	Title        string  `json:"title"`
	Description  *string `json:"description"`
	IsLocked     bool    `json:"is_locked"`
	VideoURL     *string `json:"video_url"`
}

// CourseProject is a hands-on project attached to a course.
type CourseProject struct {
	ID          int64   `json:"id"`
	Title       string  `json:"title"`
	Description *string `json:"description"`
	ProjectURL  *string `json:"project_url"`
}

// CourseTool is a tool used during a course.
type CourseTool struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	URL         *string `json:"url"`
	Description *string `json:"description"`
}

// CourseDetail is the full course document.
type CourseDetail struct {
	CourseSummary
	Objectives []CourseObjective `json:"objectives"`
	Videos     []CourseVideo     `json:"videos"`
	Projects   []CourseProject   `json:"projects"`
	Tools      []CourseTool      `json:"tools"`
}

// PaginationMeta mirrors the Laravel paginator meta block.
type PaginationMeta struct {
	CurrentPage int    `json:"current_page"`
	From        *int   `json:"from"`
	LastPage    int    `json:"last_page"`
	Path        string `json:"path"`
	PerPage     int    `json:"per_page"`
	To          *int   `json:"to"`
	Total       int    `json:"total"`
}

// PaginationLinks mirrors the Laravel paginator links block.
type PaginationLinks struct {
	First *string `json:"first"`
	Last  *string `json:"last"`
	Prev  *string `json:"prev"`
	Next  *string `json:"next"`
}

// CoursePage is one page of the catalog.
type CoursePage struct {
	Data  []CourseSummary `json:"data"`
	Links PaginationLinks `json:"links"`
	Meta  PaginationMeta  `json:"meta"`
}

// Enrollment is an enrollment as seen by the student.
type Enrollment struct {
	ID         int64            `json:"id"`
	Status     EnrollmentStatus `json:"status"`
	ReviewedAt *string          `json:"reviewed_at"`
	Course     struct {
		ID       int64      `json:"id"`
		Title    string     `json:"title"`
		ImageURL *string    `json:"image_url"`
		Teacher  TeacherRef `json:"teacher"`
		Tags     []string   `json:"tags"`
	} `json:"course"`
}

// EnrollmentsResponse wraps the student's enrollments.
type EnrollmentsResponse struct {
	Enrollments []Enrollment `json:"enrollments"`
}

// StudentCoursesResponse wraps the courses a student can access.
type StudentCoursesResponse struct {
	Courses []CourseSummary `json:"courses"`
}

// TeacherEnrollment is an enrollment request as seen by the teacher.
type TeacherEnrollment struct {
	ID         int64            `json:"id"`
	Status     EnrollmentStatus `json:"status"`
	CreatedAt  string           `json:"created_at"`
	ReviewedAt *string          `json:"reviewed_at"`
	Course     struct {
		ID    int64  `json:"id"`
		Title string `json:"title"`
	} `json:"course"`
	Student struct {
		ID          int64   `json:"id"`
		Name        string  `json:"name"`
		Email       string  `json:"email"`
		PhoneNumber *string `json:"phone_number"`
	} `json:"student"`
}

// TeacherEnrollmentsResponse wraps the teacher's incoming requests.
type TeacherEnrollmentsResponse struct {
	Enrollments []TeacherEnrollment `json:"enrollments"`
}

// EnrollmentResult is returned when an enrollment is requested or reviewed.
type EnrollmentResult struct {
	Message    string `json:"message"`
	Enrollment struct {
		ID         int64            `json:"id"`
		Status     EnrollmentStatus `json:"status"`
		ReviewedAt *string          `json:"reviewed_at,omitempty"`
	} `json:"enrollment"`
}

// Notification is a stored database notification.
type Notification struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	ReadAt    *string         `json:"read_at"`
	CreatedAt string          `json:"created_at"`
}

// Unread reports whether the notification has not been marked read.
func (n Notification) Unread() bool {
	return n.ReadAt == nil
}

// NotificationsResponse wraps the inbox.
type NotificationsResponse struct {
	Notifications []Notification `json:"notifications"`
}
