// Package build runs local build commands and checks the artifacts they
// produce.
package build

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"
)

// Spec is one build: a shell command run in a source directory that must
// leave its outputs in an output directory.
type Spec struct {
	Name            string
	SourceDirectory string
	OutputDirectory string
	Command         string
	Outputs         []string
}

// Artifact is a produced output file.
type Artifact struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// Result describes a finished build.
type Result struct {
	Name      string        `json:"name"`
	Stdout    string        `json:"stdout,omitempty"`
	Stderr    string        `json:"stderr,omitempty"`
	ExitCode  int           `json:"exit_code"`
	Artifacts []Artifact    `json:"artifacts,omitempty"`
	Elapsed   time.Duration `json:"elapsed"`
}

// BuildError reports a failed build.
type BuildError struct {
	Name     string
	ExitCode int
	Missing  []string
	Err      error
}

func (e *BuildError) Error() string {
	switch {
	case len(e.Missing) > 0:
		return fmt.Sprintf("build %s: missing outputs %v", e.Name, e.Missing)
	case e.Err != nil:
		return fmt.Sprintf("build %s: %v", e.Name, e.Err)
	default:
		return fmt.Sprintf("build %s: exit status %d", e.Name, e.ExitCode)
	}
}

func (e *BuildError) Unwrap() error { return e.Err }

// Runner executes build commands through a local shell.
type Runner struct {
	shell     string
	shellArgs []string
	output    io.Writer
}

// Option configures the runner.
type Option func(*Runner)

// WithShell sets a custom shell for build commands.
func WithShell(shell string, args ...string) Option {
	return func(r *Runner) {
		r.shell = shell
		r.shellArgs = args
	}
}

// WithOutput streams build output to w as it is produced.
func WithOutput(w io.Writer) Option {
	return func(r *Runner) {
		r.output = w
	}
}

// NewRunner creates a build runner.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{}

	// Set default shell based on OS
	switch runtime.GOOS {
	case "windows":
		r.shell = "cmd"
		r.shellArgs = []string{"/C"}
	default:
		r.shell = "/bin/sh"
		r.shellArgs = []string{"-c"}
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Build runs spec's command in its source directory, creating the output
// directory first, then checks that every declared output exists.
func (r *Runner) Build(ctx context.Context, spec Spec) (*Result, error) {
	res := &Result{Name: spec.Name}

	if spec.Command == "" {
		return res, &BuildError{Name: spec.Name, Err: errors.New("no build command")}
	}
	if info, err := os.Stat(spec.SourceDirectory); err != nil || !info.IsDir() {
		return res, &BuildError{Name: spec.Name, Err: fmt.Errorf("source directory %s not found", spec.SourceDirectory)}
	}
	if err := os.MkdirAll(spec.OutputDirectory, 0o755); err != nil {
		return res, &BuildError{Name: spec.Name, Err: fmt.Errorf("failed to create output directory: %w", err)}
	}

	args := append(append([]string(nil), r.shellArgs...), spec.Command)
	cmd := exec.CommandContext(ctx, r.shell, args...)
	cmd.Dir = spec.SourceDirectory

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if r.output != nil {
		cmd.Stdout = io.MultiWriter(&stdout, r.output)
		cmd.Stderr = io.MultiWriter(&stderr, r.output)
	}

	start := time.Now()
	err := cmd.Run()
	res.Elapsed = time.Since(start)
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, &BuildError{Name: spec.Name, ExitCode: res.ExitCode}
		}
		// Command failed to start
		return res, &BuildError{Name: spec.Name, ExitCode: -1, Err: fmt.Errorf("failed to execute command: %w", err)}
	}

	var missing []string
	for _, out := range spec.Outputs {
		p := filepath.Join(spec.OutputDirectory, out)
		info, err := os.Stat(p)
		if err != nil {
			missing = append(missing, out)
			continue
		}
		res.Artifacts = append(res.Artifacts, Artifact{Path: p, Size: info.Size()})
	}
	if len(missing) > 0 {
		return res, &BuildError{Name: spec.Name, Missing: missing}
	}

	return res, nil
}
