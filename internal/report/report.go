// Package report turns the record of a run into files and log events.
package report

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/eugenetaranov/rtbolt/internal/build"
	"github.com/eugenetaranov/rtbolt/internal/transfer"
)

// Step statuses.
const (
	StatusOK      = "ok"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// Step is the outcome of one pipeline step.
type Step struct {
	Name    string  `json:"name"`
	Status  string  `json:"status"`
	Seconds float64 `json:"seconds"`
	Error   string  `json:"error,omitempty"`
}

// Upload describes one transferred file.
type Upload struct {
	Local    string `json:"local"`
	Remote   string `json:"remote"`
	Size     int64  `json:"size"`
	Verified bool   `json:"verified"`
}

// Execution is what the session produced.
type Execution struct {
	Command     string  `json:"command"`
	Output      string  `json:"output"`
	Completed   bool    `json:"completed"`
	TimedOut    bool    `json:"timed_out"`
	Seconds     float64 `json:"execution_seconds"`
	FailedStage string  `json:"failed_stage,omitempty"`
	FinalState  string  `json:"final_state"`

	// Counters holds the summary values found in Output.
	Counters map[string]int64 `json:"counters,omitempty"`
}

// Record is the single hand-off from a run to its reporters.
type Record struct {
	RunID    string    `json:"run_id"`
	Target   string    `json:"target"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
	Success  bool      `json:"success"`

	Steps     []Step             `json:"steps"`
	Builds    []*build.Result    `json:"builds,omitempty"`
	Uploads   []Upload           `json:"uploads,omitempty"`
	Execution *Execution         `json:"execution,omitempty"`
	Artifact  *transfer.Artifact `json:"artifact,omitempty"`
	Facts     map[string]any     `json:"facts,omitempty"`
	Warnings  []string           `json:"warnings,omitempty"`
}

// NewRecord starts a record for target with a fresh run id.
func NewRecord(target string) *Record {
	return &Record{
		RunID:   uuid.NewString(),
		Target:  target,
		Started: time.Now(),
	}
}

// AddStep appends a step outcome. A nil err means success.
func (r *Record) AddStep(name string, elapsed time.Duration, err error) {
	s := Step{Name: name, Status: StatusOK, Seconds: elapsed.Seconds()}
	if err != nil {
		s.Status = StatusFailed
		s.Error = err.Error()
	}
	r.Steps = append(r.Steps, s)
}

// SkipStep records a step that did not run because an earlier one failed.
func (r *Record) SkipStep(name string) {
	r.Steps = append(r.Steps, Step{Name: name, Status: StatusSkipped})
}

// Warn records a non-fatal problem.
func (r *Record) Warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Finish stamps the end time and derives Success from the steps.
func (r *Record) Finish() {
	r.Finished = time.Now()
	r.Success = len(r.Steps) > 0
	for _, s := range r.Steps {
		if s.Status == StatusFailed {
			r.Success = false
		}
	}
}

// Duration is the wall time of the run.
func (r *Record) Duration() time.Duration {
	if r.Finished.IsZero() {
		return time.Since(r.Started)
	}
	return r.Finished.Sub(r.Started)
}

// Reporter consumes a finished record.
type Reporter interface {
	Report(ctx context.Context, rec *Record) error
}

// Multi fans a record out to several reporters, running all of them.
type Multi []Reporter

// Report implements Reporter.
func (m Multi) Report(ctx context.Context, rec *Record) error {
	var errs []error
	for _, r := range m {
		if err := r.Report(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// timestamp formats t the way local file names carry it.
func timestamp(t time.Time) string {
	return t.Format("20060102_150405")
}

// MetricsPath returns the local path for a retrieved metrics file.
func MetricsPath(dir, target string, t time.Time) string {
	return joinDir(dir, fmt.Sprintf("metrics_%s_%s.txt", target, timestamp(t)))
}
