package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/eugenetaranov/rtbolt/internal/log"
	"github.com/eugenetaranov/rtbolt/internal/transfer"
	"github.com/eugenetaranov/rtbolt/pkg/facts"
)

// Stage names a phase of a run.
type Stage string

// Run stages, in execution order.
const (
	StageConnect  Stage = "connect"
	StageLogin    Stage = "login"
	StageChdir    Stage = "chdir"
	StageChmod    Stage = "chmod"
	StageExecute  Stage = "execute"
	StageFacts    Stage = "facts"
	StageRetrieve Stage = "retrieve"
	StageClose    Stage = "close"
)

// Fetcher retrieves a file produced on the target over its own channel.
type Fetcher interface {
	Fetch(ctx context.Context, remote, local string) (*transfer.Artifact, error)
}

// Plan describes what a run does once logged in.
type Plan struct {
	// WorkDir, when set, becomes the remote working directory.
	WorkDir string

	// Executables are marked executable before the command runs.
	Executables []string

	// Command is the script invocation.
	Command string

	// GatherFacts collects target facts after the command.
	GatherFacts bool

	// MetricsRemote, when set, is fetched to MetricsLocal after the command.
	MetricsRemote string
	MetricsLocal  string
}

// Outcome aggregates everything a run produced, including partial data from
// a run that failed part way.
type Outcome struct {
	FailedStage Stage
	Err         error

	Result   *ExecutionResult
	Artifact *transfer.Artifact
	Facts    map[string]any
	Warnings []string

	FinalState State
	CloseErr   error

	Started time.Time
	Elapsed time.Duration
}

// OK reports whether every stage succeeded.
func (o *Outcome) OK() bool {
	return o.Err == nil
}

func (o *Outcome) fail(stage Stage, err error) {
	o.FailedStage = stage
	o.Err = fmt.Errorf("%s: %w", stage, err)
}

func (o *Outcome) warn(format string, args ...any) {
	o.Warnings = append(o.Warnings, fmt.Sprintf(format, args...))
}

// Controller runs one session through its stages.
type Controller struct {
	cfg     Config
	fetcher Fetcher
	opts    []Option
	logger  zerolog.Logger
}

// NewController validates cfg up front so that Run never fails on
// configuration. fetcher may be nil when no retrieval is planned.
func NewController(cfg Config, fetcher Fetcher, opts ...Option) (*Controller, error) {
	if _, err := New(cfg, opts...); err != nil {
		return nil, err
	}
	return &Controller{
		cfg:     cfg,
		fetcher: fetcher,
		opts:    opts,
		logger:  log.WithComponent("lifecycle"),
	}, nil
}

// Run performs connect, login, the optional directory change, permission
// setting, the command, optional facts, optional retrieval and close. A
// failing stage stops the later ones; close is attempted exactly once
// regardless. The whole run is bounded by the overall timeout.
func (c *Controller) Run(ctx context.Context, plan Plan) *Outcome {
	out := &Outcome{Started: time.Now()}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.OverallTimeout)
	defer cancel()

	s, err := New(c.cfg, c.opts...)
	if err != nil {
		out.fail(StageConnect, err)
		out.FinalState = Failed
		out.Elapsed = time.Since(out.Started)
		return out
	}

	defer func() {
		closeCtx := context.WithoutCancel(ctx)
		if err := s.Close(closeCtx); err != nil {
			out.CloseErr = err
			out.warn("close: %v", err)
		}
		out.FinalState = s.State()
		out.Elapsed = time.Since(out.Started)

		ev := c.logger.Info()
		if !out.OK() {
			ev = c.logger.Error().Err(out.Err).Str("stage", string(out.FailedStage))
		}
		ev.Str("state", out.FinalState.String()).Dur("elapsed", out.Elapsed).Msg("run finished")
	}()

	if err := s.Connect(ctx); err != nil {
		out.fail(StageConnect, err)
		return out
	}
	if err := s.Login(ctx); err != nil {
		out.fail(StageLogin, err)
		return out
	}
	if plan.WorkDir != "" {
		if err := s.Chdir(ctx, plan.WorkDir); err != nil {
			out.fail(StageChdir, err)
			return out
		}
	}
	if len(plan.Executables) > 0 {
		if err := s.Chmod(ctx, plan.Executables...); err != nil {
			out.fail(StageChmod, err)
			return out
		}
	}

	res, err := s.Execute(ctx, plan.Command, nil, c.cfg.CommandTimeout)
	out.Result = res
	if err != nil {
		out.fail(StageExecute, err)
		return out
	}

	if plan.GatherFacts {
		f, err := facts.Gather(ctx, s)
		out.Facts = f
		if err != nil {
			out.warn("facts: %v", err)
		}
	}

	if plan.MetricsRemote != "" && c.fetcher != nil {
		art, err := c.fetcher.Fetch(ctx, plan.MetricsRemote, plan.MetricsLocal)
		out.Artifact = art
		switch {
		case errors.Is(err, transfer.ErrArtifactNotFound):
			out.warn("metrics file %s not found on target", plan.MetricsRemote)
			c.logger.Warn().Str("remote", plan.MetricsRemote).Msg("metrics file not found")
		case err != nil:
			out.fail(StageRetrieve, err)
			return out
		}
	}

	return out
}
