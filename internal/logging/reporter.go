package logging

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

const (
	ansiReset  = "\033[0m"
	ansiDim    = "\033[2m"
	ansiCyan   = "\033[36m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiRed    = "\033[31m"
)

// Reporter renders the human-facing console output of a build: step lines,
// per-file size listings and the final status line. A quiet reporter writes
// nothing.
type Reporter struct {
	out       io.Writer
	quiet     bool
	useColors bool
	mu        sync.Mutex
}

// NewReporter creates a reporter writing to out.
func NewReporter(out io.Writer, quiet, useColors bool) *Reporter {
	if out == nil {
		out = io.Discard
	}
	return &Reporter{out: out, quiet: quiet, useColors: useColors}
}

// Quiet returns a copy of r that suppresses all output.
func (r *Reporter) Quiet() *Reporter {
	return &Reporter{out: r.out, quiet: true, useColors: r.useColors}
}

// IsQuiet reports whether output is suppressed.
func (r *Reporter) IsQuiet() bool {
	return r.quiet
}

// Step prints "[step] message".
func (r *Reporter) Step(step, message string) {
	r.printf("  %s %s\n", r.color(ansiDim, "["+step+"]"), message)
}

// File prints a path padded to 40 columns followed by its size.
func (r *Reporter) File(path string, size int64) {
	r.printf("  %s %s\n", r.color(ansiCyan, fmt.Sprintf("%-40s", path)), r.color(ansiDim, FormatSize(size)))
}

// Success prints a green status line.
func (r *Reporter) Success(message string) {
	r.printf("  %s\n", r.color(ansiGreen, message))
}

// Warn prints a yellow status line.
func (r *Reporter) Warn(message string) {
	r.printf("  %s\n", r.color(ansiYellow, message))
}

// Error prints a red status line.
func (r *Reporter) Error(message string) {
	r.printf("  %s\n", r.color(ansiRed, message))
}

// NewLine prints an empty line.
func (r *Reporter) NewLine() {
	r.printf("\n")
}

func (r *Reporter) color(code, text string) string {
	if !r.useColors {
		return text
	}
	return code + text + ansiReset
}

func (r *Reporter) printf(format string, args ...interface{}) {
	if r == nil || r.quiet {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, format, args...)
}

// FormatSize renders a byte count as B, kB or MB.
func FormatSize(size int64) string {
	switch {
	case size < 1000:
		return fmt.Sprintf("%d B", size)
	case size < 1000*1000:
		return trimZeros(fmt.Sprintf("%.2f", float64(size)/1000)) + " kB"
	default:
		return trimZeros(fmt.Sprintf("%.2f", float64(size)/(1000*1000))) + " MB"
	}
}

func trimZeros(s string) string {
	if !strings.Contains(s, ".") {
		return s
	}
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}
