/*
Copyright 2025 Hare Krishna Rai

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package terminal

import (
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// ColorLevel represents the terminal's color capability
type ColorLevel int

const (
	// ColorLevelNone represents no color support
	ColorLevelNone ColorLevel = iota
	// ColorLevelBasic represents 16-color support
	ColorLevelBasic
	// ColorLevel256 represents 256-color support
	ColorLevel256
	// ColorLevelTrueColor represents 24-bit true color support
	ColorLevelTrueColor
)

// Terminal describes where human readable output goes. Machine readable
// output is written to out; progress and diagnostics go to err.
type Terminal struct {
	out        io.Writer
	err        io.Writer
	width      int
	colorLevel ColorLevel
	outTTY     bool
	errTTY     bool
	mu         sync.Mutex
}

var (
	defaultTerminal     *Terminal
	defaultTerminalOnce sync.Once
)

// New creates a new Terminal instance
func New(out, err io.Writer) *Terminal {
	t := &Terminal{
		out: out,
		err: err,
	}
	t.detect()
	return t
}

// Default returns the terminal bound to stdout and stderr
func Default() *Terminal {
	defaultTerminalOnce.Do(func() {
		defaultTerminal = New(os.Stdout, os.Stderr)
	})
	return defaultTerminal
}

func (t *Terminal) detect() {
	t.outTTY = isTerminal(t.out)
	t.errTTY = isTerminal(t.err)

	if f, ok := t.out.(*os.File); ok && t.outTTY {
		if width, _, err := term.GetSize(int(f.Fd())); err == nil {
			t.width = width
		}
	}

	t.colorLevel = detectColorLevel()
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// detectColorLevel determines the terminal's color capability
func detectColorLevel() ColorLevel {
	if os.Getenv("NO_COLOR") != "" {
		return ColorLevelNone
	}

	termEnv := os.Getenv("TERM")
	colorTerm := os.Getenv("COLORTERM")

	if colorTerm == "truecolor" || colorTerm == "24bit" {
		return ColorLevelTrueColor
	}

	if strings.Contains(termEnv, "256") ||
		strings.HasPrefix(termEnv, "xterm") ||
		strings.HasPrefix(termEnv, "screen") ||
		strings.HasPrefix(termEnv, "tmux") ||
		termEnv == "alacritty" ||
		termEnv == "kitty" {
		return ColorLevel256
	}

	if termEnv != "" && termEnv != "dumb" {
		return ColorLevelBasic
	}

	return ColorLevelNone
}

// Width returns the terminal width
func (t *Terminal) Width() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.width == 0 {
		return 80
	}
	return t.width
}

// ColorLevel returns the terminal's color capability
func (t *Terminal) ColorLevel() ColorLevel {
	return t.colorLevel
}

// IsTTY returns true if the main output is a terminal
func (t *Terminal) IsTTY() bool {
	return t.outTTY
}

// UseColor reports whether colored output should be written to the main output
func (t *Terminal) UseColor() bool {
	return t.outTTY && t.colorLevel != ColorLevelNone
}

// Out returns the main output writer
func (t *Terminal) Out() io.Writer {
	return t.out
}

// Err returns the diagnostics writer
func (t *Terminal) Err() io.Writer {
	return t.err
}
