// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/peterh/liner"
	"golang.org/x/term"
	"golang.org/x/text/unicode/norm"

	"github.com/hala3amme/ezyskills/internal/config"
)

// Prompter reads interactive answers.
type Prompter interface {
	ReadLine(prompt string) (string, error)
	ReadPassword(prompt string) (string, error)
	Close() error
}

// ErrPromptAborted is returned when the user cancels a prompt.
var ErrPromptAborted = errors.New("prompt aborted")

// newPrompter returns a line-editing prompter on a terminal and a plain
// line reader otherwise, so answers can be piped in.
func newPrompter(in io.Reader, out io.Writer) Prompter {
	if in == os.Stdin && IsTTY() {
		return newTerminalPrompter(out)
	}
	return &pipePrompter{scanner: bufio.NewScanner(in), out: out}
}

// =============================================================================
// TERMINAL PROMPTER
// =============================================================================

// terminalPrompter uses liner for editable lines with history and x/term
// for hidden password input.
type terminalPrompter struct {
	line        *liner.State
	out         io.Writer
	historyFile string
}

func newTerminalPrompter(out io.Writer) *terminalPrompter {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	p := &terminalPrompter{line: line, out: out}
	if dir, err := config.ConfigDir(); err == nil {
		p.historyFile = filepath.Join(dir, "prompt_history")
		if f, err := os.Open(p.historyFile); err == nil {
			_, _ = line.ReadHistory(f)
			f.Close()
		}
	}
	return p
}

func (p *terminalPrompter) ReadLine(prompt string) (string, error) {
	input, err := p.line.Prompt(prompt)
	if errors.Is(err, liner.ErrPromptAborted) {
		return "", ErrPromptAborted
	}
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		p.line.AppendHistory(input)
	}
	return input, nil
}

func (p *terminalPrompter) ReadPassword(prompt string) (string, error) {
	fmt.Fprint(p.out, prompt)
	passBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(p.out)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(passBytes), nil
}

// Close saves history with owner-only permissions and restores the
// terminal.
func (p *terminalPrompter) Close() error {
	if p.historyFile != "" && config.EnsureConfigDir() == nil {
		if f, err := os.OpenFile(p.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			_, _ = p.line.WriteHistory(f)
			f.Close()
		}
	}
	return p.line.Close()
}

// =============================================================================
// PIPE PROMPTER
// =============================================================================

type pipePrompter struct {
	scanner *bufio.Scanner
	out     io.Writer
}

func (p *pipePrompter) ReadLine(prompt string) (string, error) {
	fmt.Fprint(p.out, prompt)
	if !p.scanner.Scan() {
		if err := p.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.ErrUnexpectedEOF
	}
	return p.scanner.Text(), nil
}

func (p *pipePrompter) ReadPassword(prompt string) (string, error) {
	line, err := p.ReadLine(prompt)
	if err != nil {
		return "", err
	}
	fmt.Fprintln(p.out)
	return strings.TrimRight(line, "\r"), nil
}

func (p *pipePrompter) Close() error { return nil }

// =============================================================================
// INPUT NORMALIZATION
// =============================================================================

// NormalizeEmail folds compatibility characters (full-width letters, ligatures)
// with NFKC, trims and lowercases.
func NormalizeEmail(email string) string {
	return strings.ToLower(norm.NFKC.String(strings.TrimSpace(email)))
}

// validateEmail applies the same rule the auth service checks before
// sending, so a typo is reported before the password prompt.
func validateEmail(email string) error {
	if err := validation.Validate(email, validation.Required, is.Email); err != nil {
		return ErrInvalidFormat("email", email, "student@example.com")
	}
	return nil
}
