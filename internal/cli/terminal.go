// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// terminal.go - Decides how interactive a run is.
//
// Prompts use liner only when stdin is a terminal, the watch view needs both
// ends to be one, and NO_COLOR (https://no-color.org/) beats FORCE_COLOR.

package cli

import (
	"os"
	"sync"

	"github.com/muesli/termenv"
	"golang.org/x/term"
)

const (
	// DefaultTerminalWidth is assumed when stdout has no size.
	DefaultTerminalWidth = 80

	// markdownMinWidth keeps course pages readable on narrow terminals.
	markdownMinWidth = 40
)

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// IsTTY reports whether stdin is a terminal.
func IsTTY() bool { return isTerminal(os.Stdin) }

// IsStdoutTTY reports whether stdout is a terminal.
func IsStdoutTTY() bool { return isTerminal(os.Stdout) }

// interactive reports whether the App talks to a person on both ends. Tests
// and pipes substitute their own reader and never qualify.
func (a *App) interactive() bool {
	return a.in == os.Stdin && !a.jsonMode && IsTTY() && IsStdoutTTY()
}

// markdownWidth is the word-wrap width for rendered course pages.
func markdownWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		width = DefaultTerminalWidth
	}
	width -= 4
	if width < markdownMinWidth {
		return markdownMinWidth
	}
	return width
}

var (
	colorsEnabled     bool
	colorsEnabledOnce sync.Once
)

// ColorsEnabled reports whether styled output should be produced.
func ColorsEnabled() bool {
	colorsEnabledOnce.Do(func() {
		switch {
		case os.Getenv("NO_COLOR") != "":
			colorsEnabled = false
		case os.Getenv("FORCE_COLOR") != "":
			colorsEnabled = true
		default:
			colorsEnabled = IsStdoutTTY()
		}
	})
	return colorsEnabled
}

// GetColorProfile returns the lipgloss profile for stdout.
func GetColorProfile() termenv.Profile {
	if !ColorsEnabled() {
		return termenv.Ascii
	}
	return termenv.EnvColorProfile()
}
