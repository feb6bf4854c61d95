// Package executor runs the selected pipeline steps against a target.
package executor

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/eugenetaranov/rtbolt/internal/build"
	"github.com/eugenetaranov/rtbolt/internal/config"
	"github.com/eugenetaranov/rtbolt/internal/log"
	"github.com/eugenetaranov/rtbolt/internal/output"
	"github.com/eugenetaranov/rtbolt/internal/report"
	"github.com/eugenetaranov/rtbolt/internal/session"
	"github.com/eugenetaranov/rtbolt/internal/step"
)

// Executor runs pipelines.
type Executor struct {
	// Output handles formatted output.
	Output *output.Output

	// Debug mirrors the raw shell session to Output.
	Debug bool

	// Reporter receives the record of every run that executed a step.
	Reporter report.Reporter

	// ArtifactDir is where retrieved metrics files are written.
	ArtifactDir string

	// BuildOptions and SessionOptions are passed on to the steps.
	BuildOptions   []build.Option
	SessionOptions []session.Option

	// Fetcher overrides metrics retrieval.
	Fetcher session.Fetcher

	logger zerolog.Logger
}

// New creates a new executor.
func New() *Executor {
	return &Executor{
		Output: output.New(os.Stdout),
		logger: log.WithComponent("executor"),
	}
}

// RunResult holds the result of a pipeline run.
type RunResult struct {
	// Success is true if every selected step completed successfully.
	Success bool

	// Stats holds execution statistics.
	Stats *Stats

	// Record is what was handed to the reporter.
	Record *report.Record
}

// Stats holds execution statistics.
type Stats struct {
	Steps     int
	OK        int
	Failed    int
	Skipped   int
	StartTime time.Time
	EndTime   time.Time
}

// Duration returns the total execution time.
func (s *Stats) Duration() time.Duration {
	return s.EndTime.Sub(s.StartTime)
}

// GetOK returns the OK count (implements output.Stats).
func (s *Stats) GetOK() int { return s.OK }

// GetFailed returns the Failed count (implements output.Stats).
func (s *Stats) GetFailed() int { return s.Failed }

// GetSkipped returns the Skipped count (implements output.Stats).
func (s *Stats) GetSkipped() int { return s.Skipped }

// GetDuration returns the duration (implements output.Stats).
func (s *Stats) GetDuration() time.Duration { return s.Duration() }

// Run executes steps in order against target. A failing step aborts the
// remaining ones, which are reported as skipped.
func (e *Executor) Run(ctx context.Context, target *config.Target, steps []step.Step) (*RunResult, error) {
	stats := &Stats{
		StartTime: time.Now(),
		Steps:     len(steps),
	}
	rec := report.NewRecord(target.Name)
	result := &RunResult{
		Success: true,
		Stats:   stats,
		Record:  rec,
	}

	names := make([]string, len(steps))
	for i, s := range steps {
		names[i] = s.Name()
	}
	e.Output.RunStart(target.Name, target.Description, names)

	logger := e.logger.With().Str("target", target.Name).Str("run_id", rec.RunID).Logger()

	expanded, err := expandTarget(target, runVars(target, rec))
	if err != nil {
		e.Output.Error("%v", err)
		result.Success = false
		stats.EndTime = time.Now()
		return result, err
	}

	rc := &step.RunContext{
		Target:         expanded,
		Record:         rec,
		Output:         e.Output,
		Logger:         logger,
		ArtifactDir:    e.ArtifactDir,
		BuildOptions:   e.BuildOptions,
		SessionOptions: e.SessionOptions,
		Fetcher:        e.Fetcher,
	}
	if e.Debug {
		rc.Trace = e.Output.Writer()
		rc.BuildOptions = append([]build.Option{build.WithOutput(e.Output.Writer())}, rc.BuildOptions...)
	}

	for _, s := range steps {
		if !result.Success {
			stats.Skipped++
			rec.SkipStep(s.Name())
			e.Output.StepResult(s.Name(), "skipped", 0, "")
			continue
		}

		e.Output.StepStart(s.Name())
		start := time.Now()
		res, err := s.Run(ctx, rc)
		elapsed := time.Since(start)
		rec.AddStep(s.Name(), elapsed, err)

		if err != nil {
			stats.Failed++
			result.Success = false
			logger.Error().Err(err).Str("step", s.Name()).Msg("step failed")
			e.Output.StepResult(s.Name(), "failed", elapsed, err.Error())
			continue
		}

		stats.OK++
		msg := ""
		if res != nil {
			msg = res.Message
		}
		logger.Info().Str("step", s.Name()).Dur("elapsed", elapsed).Msg(msg)
		e.Output.StepResult(s.Name(), "ok", elapsed, msg)
	}

	rec.Finish()
	stats.EndTime = time.Now()

	if stats.OK+stats.Failed > 0 && e.Reporter != nil {
		if err := e.Reporter.Report(ctx, rec); err != nil {
			e.Output.Warn("failed to save report: %v", err)
		}
	}

	e.Output.RunEnd(stats)
	return result, nil
}
