// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"encoding/hex"
	"strings"

	"github.com/mattn/go-runewidth"
	"golang.org/x/crypto/blake2b"
)

// TruncateWidth truncates s to at most maxWidth terminal columns, appending
// "..." when something was cut. Double-width runes count as two columns.
func TruncateWidth(s string, maxWidth int) string {
	if maxWidth <= 0 {
		return ""
	}
	if runewidth.StringWidth(s) <= maxWidth {
		return s
	}
	if maxWidth <= 3 {
		return runewidth.Truncate(s, maxWidth, "")
	}
	return runewidth.Truncate(s, maxWidth, "...")
}

// PadWidth right-pads s with spaces to exactly width columns, truncating
// first when it is wider.
func PadWidth(s string, width int) string {
	s = TruncateWidth(s, width)
	return runewidth.FillRight(s, width)
}

// Fingerprint returns the first 12 hex characters of the BLAKE2b-256 of
// secret, safe to log in place of a token. Empty input yields "none".
func Fingerprint(secret string) string {
	if secret == "" {
		return "none"
	}
	sum := blake2b.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])[:12]
}

// TrimTrailingSlashes removes every trailing "/" from s.
func TrimTrailingSlashes(s string) string {
	return strings.TrimRight(s, "/")
}
