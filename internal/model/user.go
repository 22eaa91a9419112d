// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "fmt"

// Role is the account role assigned by the server.
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
	RoleAdmin   Role = "admin"
)

// User is the authenticated identity returned by /auth/me, /auth/login and
// /auth/register.
type User struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Email       string  `json:"email"`
	PhoneNumber *string `json:"phone_number"`
	Role        Role    `json:"role"`
}

// DisplayName returns the name, or the email when the name is blank.
func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}

// String implements fmt.Stringer without exposing contact details.
func (u *User) String() string {
	if u == nil {
		return "<nil user>"
	}
	return fmt.Sprintf("user#%d(%s)", u.ID, u.Role)
}

// AuthResponse is returned by the login and register endpoints.
type AuthResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// MeResponse is returned by the identity endpoint.
type MeResponse struct {
	User User `json:"user"`
}

// MessageResponse is the generic {"message": "..."} payload.
type MessageResponse struct {
	Message string `json:"message"`
}
