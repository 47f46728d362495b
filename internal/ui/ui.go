// Package ui formats user-facing CLI output. Diagnostics belong in
// internal/log; this package is for what a person running asrtt reads.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

var (
	errWriter io.Writer = os.Stderr
	outWriter io.Writer = os.Stdout
)

// SetWriter overrides the stderr writer. nil restores os.Stderr.
func SetWriter(w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	errWriter = w
}

// SetOutput overrides the stdout writer. nil restores os.Stdout.
func SetOutput(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	outWriter = w
}

// Output returns the current stdout writer.
func Output() io.Writer { return outWriter }

var (
	stdoutColor = detectColor(os.Stdout)
	stderrColor = detectColor(os.Stderr)
)

func detectColor(f *os.File) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// IsInteractive reports whether stdin is a terminal, i.e. whether the setup
// wizard can ask questions.
func IsInteractive() bool {
	return isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
}

// SetColorEnabled overrides color detection (for testing).
func SetColorEnabled(enabled bool) {
	stdoutColor = enabled
	stderrColor = enabled
}

func paint(enabled bool, code, s string) string {
	if !enabled {
		return s
	}
	return "\033[" + code + "m" + s + "\033[0m"
}

// Bold returns s in bold (stdout).
func Bold(s string) string { return paint(stdoutColor, "1", s) }

// Dim returns s dimmed (stdout).
func Dim(s string) string { return paint(stdoutColor, "2", s) }

// Green returns s in green (stdout).
func Green(s string) string { return paint(stdoutColor, "32", s) }

// Red returns s in red (stdout).
func Red(s string) string { return paint(stdoutColor, "31", s) }

// Yellow returns s in yellow (stdout).
func Yellow(s string) string { return paint(stdoutColor, "33", s) }

// OKTag returns a green "✓".
func OKTag() string { return Green("✓") }

// FailTag returns a red "✗".
func FailTag() string { return Red("✗") }

// Field prints an aligned "label: value" line to stdout.
func Field(label, value string) {
	fmt.Fprintf(outWriter, "%-12s %s\n", label+":", value)
}

// Println prints a line to stdout.
func Println(msg string) {
	fmt.Fprintln(outWriter, msg)
}

// Mask hides all but the last four characters of a secret. Short secrets
// are hidden entirely.
func Mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return strings.Repeat("*", len(secret))
	}
	return strings.Repeat("*", len(secret)-4) + secret[len(secret)-4:]
}

// Warn prints a user-facing warning to stderr.
func Warn(msg string) {
	fmt.Fprintf(errWriter, "%s %s\n", paint(stderrColor, "33", "Warning:"), msg)
}

// Warnf prints a formatted user-facing warning to stderr.
func Warnf(format string, args ...any) {
	Warn(fmt.Sprintf(format, args...))
}

// Error prints a user-facing error to stderr.
func Error(msg string) {
	fmt.Fprintf(errWriter, "%s %s\n", paint(stderrColor, "31", "Error:"), msg)
}

// Errorf prints a formatted user-facing error to stderr.
func Errorf(format string, args ...any) {
	Error(fmt.Sprintf(format, args...))
}

// Info prints a user-facing message to stderr with no prefix.
func Info(msg string) {
	fmt.Fprintln(errWriter, msg)
}

// Infof prints a formatted user-facing message to stderr with no prefix.
func Infof(format string, args ...any) {
	Info(fmt.Sprintf(format, args...))
}
