// Package execute provides the step that runs the test script on the target
// over an interactive shell session.
package execute

import (
	"context"
	"errors"
	"time"

	"github.com/eugenetaranov/rtbolt/internal/report"
	"github.com/eugenetaranov/rtbolt/internal/session"
	"github.com/eugenetaranov/rtbolt/internal/step"
	"github.com/eugenetaranov/rtbolt/internal/transfer"
)

func init() {
	step.Register(&Step{})
}

// Step logs into the target, runs the configured script and retrieves its
// metrics file.
type Step struct {
	// now is replaceable in tests.
	now func() time.Time
}

// Name returns the step identifier.
func (s *Step) Name() string {
	return "execute"
}

// Run executes the execute step.
func (s *Step) Run(ctx context.Context, rc *step.RunContext) (*step.Result, error) {
	t := rc.Target
	if t.Execution.ScriptName == "" {
		return nil, errors.New("no execution.script_name specified in target configuration")
	}

	now := time.Now
	if s.now != nil {
		now = s.now
	}

	var fetcher session.Fetcher = rc.Fetcher
	if fetcher == nil && t.Execution.MetricsFile != "" {
		fetcher = &transfer.Retriever{Config: t.TransferConfig()}
	}

	opts := []session.Option{session.WithLogger(rc.Logger)}
	if rc.Trace != nil {
		opts = append(opts, session.WithTrace(rc.Trace))
	}
	opts = append(opts, rc.SessionOptions...)

	ctrl, err := session.NewController(t.SessionConfig(), fetcher, opts...)
	if err != nil {
		return nil, err
	}

	plan := t.Plan(report.MetricsPath(rc.ArtifactDir, t.Name, now()))
	rc.Logger.Info().
		Str("host", t.Telnet.Host).
		Int("port", t.Telnet.Port).
		Str("command", plan.Command).
		Dur("timeout", t.Execution.Timeout.Std()).
		Msg("executing script")

	out := ctrl.Run(ctx, plan)
	record(rc.Record, out)

	if out.Result != nil {
		title := "script output"
		if out.Result.TimedOut {
			title = "partial script output"
		}
		rc.Output.Block(title, out.Result.Body())
	}
	if out.Artifact != nil && out.Artifact.Present {
		rc.Output.Item("ok", "metrics downloaded to "+out.Artifact.LocalPath)
	}
	for _, w := range out.Warnings {
		rc.Output.Warn("%s", w)
	}

	if !out.OK() {
		return nil, out.Err
	}
	return step.Done("%s completed in %.2fs", plan.Command, out.Result.Elapsed.Seconds()), nil
}

func record(rec *report.Record, out *session.Outcome) {
	exec := &report.Execution{
		FailedStage: string(out.FailedStage),
		FinalState:  out.FinalState.String(),
	}
	if r := out.Result; r != nil {
		exec.Command = r.Command
		exec.Output = r.Output
		exec.Completed = r.Completed
		exec.TimedOut = r.TimedOut
		exec.Seconds = r.Elapsed.Seconds()
		exec.Counters = report.ParseCounters(r.Output)
	}
	rec.Execution = exec
	rec.Artifact = out.Artifact
	rec.Facts = out.Facts
	rec.Warnings = append(rec.Warnings, out.Warnings...)
}
