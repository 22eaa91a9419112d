// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/hala3amme/ezyskills/internal/api"
	"github.com/hala3amme/ezyskills/internal/model"
)

// ListCoursesParams filters the public catalog. Zero values are omitted.
type ListCoursesParams struct {
	Search string
	Tag    string
	Page   int
}

func (p ListCoursesParams) values() url.Values {
	q := url.Values{}
	if p.Search != "" {
		q.Set("search", p.Search)
	}
	if p.Tag != "" {
		q.Set("tag", p.Tag)
	}
	if p.Page > 0 {
		q.Set("page", strconv.Itoa(p.Page))
	}
	return q
}

// CourseService covers the catalog, enrollment and teacher review endpoints.
type CourseService struct {
	client *api.Client
}

// NewCourseService creates a CourseService.
func NewCourseService(client *api.Client) *CourseService {
	return &CourseService{client: client}
}

// List returns one page of the catalog.
func (s *CourseService) List(ctx context.Context, params ListCoursesParams) (*model.CoursePage, error) {
	var page model.CoursePage
	if err := s.client.Get(ctx, "/courses", params.values(), &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// Get returns the public view of a course.
func (s *CourseService) Get(ctx context.Context, courseID int64) (*model.CourseDetail, error) {
	return s.detail(ctx, fmt.Sprintf("/courses/%d", courseID))
}

// Content returns the course with unlocked material for enrolled users.
func (s *CourseService) Content(ctx context.Context, courseID int64) (*model.CourseDetail, error) {
	return s.detail(ctx, fmt.Sprintf("/courses/%d/content", courseID))
}

func (s *CourseService) detail(ctx context.Context, path string) (*model.CourseDetail, error) {
	var course model.CourseDetail
	if err := s.client.Get(ctx, path, nil, &course); err != nil {
		return nil, err
	}
	return &course, nil
}

// Enroll requests enrollment in a course.
func (s *CourseService) Enroll(ctx context.Context, courseID int64) (*model.EnrollmentResult, error) {
	return s.post(ctx, fmt.Sprintf("/courses/%d/enroll", courseID))
}

// MyEnrollments lists the student's enrollment requests.
func (s *CourseService) MyEnrollments(ctx context.Context) (*model.EnrollmentsResponse, error) {
	var resp model.EnrollmentsResponse
	if err := s.client.Get(ctx, "/me/enrollments", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// MyCourses lists the courses the student can access.
func (s *CourseService) MyCourses(ctx context.Context) (*model.StudentCoursesResponse, error) {
	var resp model.StudentCoursesResponse
	if err := s.client.Get(ctx, "/me/courses", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TeacherEnrollments lists requests for the teacher's courses. An empty
// status returns all of them.
func (s *CourseService) TeacherEnrollments(ctx context.Context, status model.EnrollmentStatus) (*model.TeacherEnrollmentsResponse, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", string(status))
	}
	var resp model.TeacherEnrollmentsResponse
	if err := s.client.Get(ctx, "/teacher/enrollments", q, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Approve accepts an enrollment request.
func (s *CourseService) Approve(ctx context.Context, enrollmentID int64) (*model.EnrollmentResult, error) {
	return s.post(ctx, fmt.Sprintf("/teacher/enrollments/%d/approve", enrollmentID))
}

// Decline rejects an enrollment request.
func (s *CourseService) Decline(ctx context.Context, enrollmentID int64) (*model.EnrollmentResult, error) {
	return s.post(ctx, fmt.Sprintf("/teacher/enrollments/%d/decline", enrollmentID))
}

// TeacherDashboard returns the teacher's courses in the server's dashboard
// shape, undecoded.
func (s *CourseService) TeacherDashboard(ctx context.Context) ([]json.RawMessage, error) {
	var resp struct {
		Courses []json.RawMessage `json:"courses"`
	}
	if err := s.client.Get(ctx, "/teacher/dashboard", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Courses, nil
}

func (s *CourseService) post(ctx context.Context, path string) (*model.EnrollmentResult, error) {
	var resp model.EnrollmentResult
	if err := s.client.Post(ctx, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
