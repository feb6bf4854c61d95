// Package build provides the step that compiles artifacts locally.
package build

import (
	"context"
	"errors"
	"fmt"

	builder "github.com/eugenetaranov/rtbolt/internal/build"
	"github.com/eugenetaranov/rtbolt/internal/step"
)

func init() {
	step.Register(&Step{})
}

// Step runs every build configured for the target, stopping at the first
// failure.
type Step struct{}

// Name returns the step identifier.
func (s *Step) Name() string {
	return "build"
}

// Run executes the build step.
func (s *Step) Run(ctx context.Context, rc *step.RunContext) (*step.Result, error) {
	specs := rc.Target.BuildSpecs()
	if len(specs) == 0 {
		return nil, errors.New("no builds specified in target configuration")
	}

	runner := builder.NewRunner(rc.BuildOptions...)
	artifacts := 0
	for _, spec := range specs {
		rc.Logger.Info().
			Str("build", spec.Name).
			Str("source", spec.SourceDirectory).
			Str("output", spec.OutputDirectory).
			Str("command", spec.Command).
			Msg("building")

		res, err := runner.Build(ctx, spec)
		rc.Record.Builds = append(rc.Record.Builds, res)
		if err != nil {
			if res != nil && res.Stderr != "" {
				rc.Output.Block("build stderr", res.Stderr)
			}
			rc.Output.Item("failed", spec.Name)
			return nil, err
		}
		if res.Stderr != "" {
			rc.Logger.Warn().Str("build", spec.Name).Str("stderr", res.Stderr).Msg("build warnings")
		}

		for _, a := range res.Artifacts {
			rc.Output.Item("ok", fmt.Sprintf("%s (%d bytes)", a.Path, a.Size))
		}
		rc.Output.Item("ok", fmt.Sprintf("build %s completed in %.2fs", spec.Name, res.Elapsed.Seconds()))
		artifacts += len(res.Artifacts)
	}

	return step.Done("%d build(s), %d artifact(s)", len(specs), artifacts), nil
}
