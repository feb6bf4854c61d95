// Package output provides formatted console output for pipeline runs.
package output

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// Colors for terminal output.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

// Stats holds execution statistics for output.
type Stats interface {
	GetOK() int
	GetFailed() int
	GetSkipped() int
	GetDuration() time.Duration
}

// Output handles formatted output.
type Output struct {
	w        io.Writer
	useColor bool
	debug    bool
}

// New creates a new output handler.
func New(w io.Writer) *Output {
	return &Output{
		w:        w,
		useColor: true,
	}
}

// SetColor enables or disables color output.
func (o *Output) SetColor(enabled bool) {
	o.useColor = enabled
}

// SetDebug enables or disables debug output.
func (o *Output) SetDebug(enabled bool) {
	o.debug = enabled
}

// Writer returns the underlying writer, for raw session mirroring.
func (o *Output) Writer() io.Writer {
	return o.w
}

// color returns the string wrapped in color codes if enabled.
func (o *Output) color(c, s string) string {
	if !o.useColor {
		return s
	}
	return c + s + colorReset
}

// RunStart prints the run banner.
func (o *Output) RunStart(target, description string, steps []string) {
	o.printf("\n%s %s", o.color(colorBold, "TARGET"), target)
	if description != "" {
		o.printf(" %s", o.color(colorGray, "("+description+")"))
	}
	o.printf("\n%s %s\n", o.color(colorGray, "steps:"), strings.Join(steps, ", "))
	if o.debug {
		o.printf("%s\n", strings.Repeat("-", 60))
	}
}

// RunEnd prints the run summary.
func (o *Output) RunEnd(stats Stats) {
	o.printf("\n%s ", o.color(colorBold, "RECAP"))

	ok := o.color(colorGreen, fmt.Sprintf("ok=%d", stats.GetOK()))
	failed := o.color(colorRed, fmt.Sprintf("failed=%d", stats.GetFailed()))
	skipped := o.color(colorCyan, fmt.Sprintf("skipped=%d", stats.GetSkipped()))

	o.printf("%s %s %s", ok, failed, skipped)
	o.printf(" %s\n", o.color(colorGray, fmt.Sprintf("(%.2fs)", stats.GetDuration().Seconds())))
}

// StepStart prints the step banner.
func (o *Output) StepStart(name string) {
	o.printf("\n%s %s\n", o.color(colorBold, "STEP"), strings.ToUpper(name))
}

// StepResult prints the step result in a single line.
func (o *Output) StepResult(name, status string, elapsed time.Duration, message string) {
	var indicator string
	var statusColor string

	switch {
	case strings.HasPrefix(status, "ok"):
		indicator = "✓"
		statusColor = colorGreen
	case strings.HasPrefix(status, "skipped"):
		indicator = "○"
		statusColor = colorCyan
	case strings.HasPrefix(status, "failed"):
		indicator = "✗"
		statusColor = colorRed
	default:
		indicator = "?"
		statusColor = colorGray
	}

	o.printf("  %s %s %s\n",
		o.color(statusColor, indicator),
		name,
		o.color(colorGray, fmt.Sprintf("(%.2fs)", elapsed.Seconds())))

	if message != "" && (o.debug || strings.HasPrefix(status, "failed")) {
		o.printf("    %s %s\n", o.color(colorGray, "→"), message)
	}
}

// Item prints one line of progress inside a step.
func (o *Output) Item(status, text string) {
	indicator := o.color(colorGreen, "✓")
	if status == "failed" {
		indicator = o.color(colorRed, "✗")
	} else if status == "warn" {
		indicator = o.color(colorYellow, "!")
	}
	o.printf("    %s %s\n", indicator, text)
}

// Block prints captured text between rules, e.g. remote script output.
func (o *Output) Block(title, text string) {
	rule := strings.Repeat("-", 60)
	o.printf("%s\n", o.color(colorGray, "--- "+title+" "+rule[:max(0, 56-len(title))]))
	if text != "" {
		o.printf("%s", text)
		if !strings.HasSuffix(text, "\n") {
			o.printf("\n")
		}
	}
	o.printf("%s\n", o.color(colorGray, rule))
}

// Section prints a section header.
func (o *Output) Section(name string) {
	o.printf("\n%s\n", o.color(colorBold, name))
}

// Info prints an informational message.
func (o *Output) Info(format string, args ...any) {
	o.printf("%s %s\n", o.color(colorBlue, "INFO"), fmt.Sprintf(format, args...))
}

// Warn prints a warning message.
func (o *Output) Warn(format string, args ...any) {
	o.printf("%s %s\n", o.color(colorYellow, "WARN"), fmt.Sprintf(format, args...))
}

// Error prints an error message.
func (o *Output) Error(format string, args ...any) {
	o.printf("%s %s\n", o.color(colorRed, "ERROR"), fmt.Sprintf(format, args...))
}

// Debug prints a debug message (only in debug mode).
func (o *Output) Debug(format string, args ...any) {
	if o.debug {
		o.printf("%s %s\n", o.color(colorGray, "DEBUG"), fmt.Sprintf(format, args...))
	}
}

func (o *Output) printf(format string, args ...any) {
	fmt.Fprintf(o.w, format, args...)
}
