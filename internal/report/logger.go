package report

import (
	"context"

	"github.com/rs/zerolog"
)

// Logger emits one summary event per record.
type Logger struct {
	Logger zerolog.Logger
}

// Report implements Reporter.
func (l *Logger) Report(ctx context.Context, rec *Record) error {
	ev := l.Logger.Info()
	if !rec.Success {
		ev = l.Logger.Error()
	}
	ev = ev.
		Str("run_id", rec.RunID).
		Str("target", rec.Target).
		Bool("success", rec.Success).
		Dur("duration", rec.Duration()).
		Int("steps", len(rec.Steps)).
		Int("warnings", len(rec.Warnings))

	if rec.Execution != nil {
		ev = ev.
			Float64("execution_seconds", rec.Execution.Seconds).
			Bool("timed_out", rec.Execution.TimedOut).
			Str("final_state", rec.Execution.FinalState)
		if rec.Execution.FailedStage != "" {
			ev = ev.Str("failed_stage", rec.Execution.FailedStage)
		}
	}
	if rec.Artifact != nil {
		ev = ev.Bool("artifact_present", rec.Artifact.Present).Int64("artifact_bytes", rec.Artifact.Size)
	}
	ev.Msg("run report")
	return nil
}
