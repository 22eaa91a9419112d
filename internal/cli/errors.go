// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// errors.go - Error types, exit codes and display for ezy commands.
//
// Commands always return errors; Execute decides how to show them and
// which exit code to use.

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/hala3amme/ezyskills/internal/api"
	"github.com/hala3amme/ezyskills/internal/config"
	"github.com/hala3amme/ezyskills/internal/services"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	ExitSuccess       = 0
	ExitGeneralError  = 1
	ExitUsageError    = 2
	ExitConfigError   = 3
	ExitAuthError     = 4
	ExitNetworkError  = 5
	ExitNotFoundError = 7
	ExitTimeoutError  = 8
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// CommandError is a failed command with the API's user-facing message.
type CommandError struct {
	Command string
	Action  string
	Reason  string
	Err     error
}

func (e *CommandError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s failed: %s: %v", e.Command, e.Action, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %s", e.Command, e.Action, e.Reason)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// ValidationError is bad user input.
type ValidationError struct {
	Field   string
	Value   string
	Reason  string
	Example string
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	if e.Value != "" {
		msg += fmt.Sprintf(" (got: %s)", e.Value)
	}
	if e.Example != "" {
		msg += fmt.Sprintf("\nExample: %s", e.Example)
	}
	return msg
}

var (
	// ErrNotLoggedIn is returned by commands that need a stored credential.
	ErrNotLoggedIn = errors.New("not logged in; run 'ezy login' first")

	// ErrConfig marks configuration load and save failures.
	ErrConfig = errors.New("configuration error")
)

// =============================================================================
// CONSTRUCTORS
// =============================================================================

// apiFailure wraps an API error with the server's message as the reason.
func apiFailure(command, action string, err error) error {
	if err == nil {
		return nil
	}
	reason := api.ErrorMessage(err)
	if errors.Is(err, services.ErrInvalidPayload) {
		reason = "rejected before sending"
	}
	return &CommandError{
		Command: command,
		Action:  action,
		Reason:  reason,
		Err:     err,
	}
}

// ErrMissingArgument reports a missing positional argument.
func ErrMissingArgument(argName, usage string) error {
	return &ValidationError{Field: argName, Reason: "required argument missing", Example: usage}
}

// ErrInvalidFormat reports an argument in the wrong shape.
func ErrInvalidFormat(field, value, expected string) error {
	return &ValidationError{Field: field, Value: value, Reason: "invalid format", Example: expected}
}

// =============================================================================
// DISPLAY
// =============================================================================

// DisplayError writes err to w, as JSON in JSON mode.
func DisplayError(w io.Writer, err error, jsonMode bool) {
	if err == nil {
		return
	}
	if jsonMode {
		displayErrorJSON(w, err)
		return
	}
	fmt.Fprintf(w, "%s %s\n", ErrorStyle.Render("[ERROR]"), err.Error())
}

func displayErrorJSON(w io.Writer, err error) {
	output := map[string]interface{}{
		"error":     err.Error(),
		"success":   false,
		"exit_code": GetExitCode(err),
	}

	var cmdErr *CommandError
	var valErr *ValidationError
	switch {
	case errors.As(err, &cmdErr):
		output["error_type"] = "command_error"
		output["command"] = cmdErr.Command
		output["action"] = cmdErr.Action
		output["reason"] = cmdErr.Reason
	case errors.As(err, &valErr):
		output["error_type"] = "validation_error"
		output["field"] = valErr.Field
		output["reason"] = valErr.Reason
	default:
		output["error_type"] = "generic_error"
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	_ = encoder.Encode(output)
}

// GetExitCode maps an error to the process exit code.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return ExitUsageError
	}
	var cfgErr config.ValidateErrors
	if errors.As(err, &cfgErr) || errors.Is(err, ErrConfig) {
		return ExitConfigError
	}

	switch {
	case errors.Is(err, ErrNotLoggedIn),
		errors.Is(err, api.ErrUnauthorized),
		errors.Is(err, api.ErrForbidden):
		return ExitAuthError
	case errors.Is(err, api.ErrNotFound):
		return ExitNotFoundError
	case errors.Is(err, api.ErrValidation),
		errors.Is(err, services.ErrInvalidPayload):
		return ExitUsageError
	case errors.Is(err, context.DeadlineExceeded):
		return ExitTimeoutError
	case api.IsNetworkError(err):
		return ExitNetworkError
	}
	return ExitGeneralError
}
