// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package services

import (
	"errors"
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/nyaruka/phonenumbers"
)

// ErrInvalidPayload wraps client-side validation failures. Nothing was sent
// to the server.
var ErrInvalidPayload = errors.New("invalid request")

// Validate checks the fields the login endpoint requires.
func (p LoginPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Email, validation.Required, is.Email),
		validation.Field(&p.Password, validation.Required),
		validation.Field(&p.DeviceName, validation.Length(0, 255)),
	)
}

// Validate checks the fields the register endpoint requires. A phone number
// is optional but must be dialable when present.
func (p RegisterPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Name, validation.Required, validation.Length(1, 255)),
		validation.Field(&p.Email, validation.Required, is.Email, validation.Length(0, 255)),
		validation.Field(&p.PhoneNumber, validation.By(validPhone)),
		validation.Field(&p.Password, validation.Required),
		validation.Field(&p.PasswordConfirmation,
			validation.Required,
			validation.By(func(v interface{}) error {
				if v.(string) != p.Password {
					return errors.New("does not match password")
				}
				return nil
			}),
		),
	)
}

func validPhone(v interface{}) error {
	s, _ := v.(string)
	if strings.TrimSpace(s) == "" {
		return nil
	}
	_, err := NormalizePhone(s)
	return err
}

// NormalizePhone returns raw in E.164 form. Numbers must carry their country
// code, for example +16502530000.
func NormalizePhone(raw string) (string, error) {
	num, err := phonenumbers.Parse(strings.TrimSpace(raw), "")
	if err != nil {
		return "", errors.New("must start with + and a country code")
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", errors.New("is not a valid phone number")
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// invalid wraps a validation error so callers can test for it with
// errors.Is while keeping the per-field messages.
func invalid(err error) error {
	return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
}
