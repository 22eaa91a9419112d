// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// GenericErrorMessage is shown when a failure carries no usable message.
const GenericErrorMessage = "Something went wrong. Please try again."

// Error variables matched through APIError.Unwrap.
var (
	// ErrUnauthorized means the server rejected the credential (HTTP 401).
	ErrUnauthorized = errors.New("credential rejected")

	// ErrForbidden means the credential lacks permission (HTTP 403).
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound means the resource does not exist (HTTP 404).
	ErrNotFound = errors.New("not found")

	// ErrValidation means the request payload was rejected (HTTP 422).
	ErrValidation = errors.New("validation failed")

	// ErrResponseTooLarge means the body exceeded MaxResponseSize.
	ErrResponseTooLarge = errors.New("response too large")
)

// APIError is a non-2xx response from the API.
type APIError struct {
	Status  int
	Message string
	Errors  map[string][]string
}

// errorPayload is the Laravel error body.
type errorPayload struct {
	Message string              `json:"message"`
	Errors  map[string][]string `json:"errors"`
}

func newAPIError(status int, body []byte) *APIError {
	e := &APIError{Status: status}
	var payload errorPayload
	if err := json.Unmarshal(body, &payload); err == nil {
		e.Message = payload.Message
		e.Errors = payload.Errors
	}
	return e
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error (HTTP %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api error (HTTP %d): %s", e.Status, http.StatusText(e.Status))
}

// Unwrap maps well-known statuses to the package's error variables.
func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusUnprocessableEntity:
		return ErrValidation
	}
	return nil
}

// FirstFieldError returns the first validation message, ordering fields by
// name so the result is stable.
func (e *APIError) FirstFieldError() string {
	if len(e.Errors) == 0 {
		return ""
	}
	fields := make([]string, 0, len(e.Errors))
	for field := range e.Errors {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		for _, msg := range e.Errors[field] {
			if strings.TrimSpace(msg) != "" {
				return msg
			}
		}
	}
	return ""
}

// IsUnauthorized reports whether err is a credential rejection.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsNetworkError reports whether err is a transport failure with no HTTP
// response.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return false
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

// ErrorMessage extracts a user-facing message: the server's message, else
// the first field error, else GenericErrorMessage.
func ErrorMessage(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.Message != "" {
			return apiErr.Message
		}
		if msg := apiErr.FirstFieldError(); msg != "" {
			return msg
		}
	}
	return GenericErrorMessage
}
