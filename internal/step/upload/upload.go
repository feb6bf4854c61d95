// Package upload provides the step that pushes files to the target.
package upload

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/eugenetaranov/rtbolt/internal/report"
	"github.com/eugenetaranov/rtbolt/internal/step"
	"github.com/eugenetaranov/rtbolt/internal/transfer"
)

func init() {
	step.Register(&Step{})
}

// Step uploads every configured file over the target's transfer channel.
// A size mismatch after upload is reported as a warning only.
type Step struct{}

// Name returns the step identifier.
func (s *Step) Name() string {
	return "upload"
}

// Run executes the upload step.
func (s *Step) Run(ctx context.Context, rc *step.RunContext) (*step.Result, error) {
	uploads := rc.Target.Uploads
	if len(uploads) == 0 {
		return nil, errors.New("no files_to_upload specified in target configuration")
	}

	// Fail before connecting when a local file is missing.
	for _, u := range uploads {
		if _, err := os.Stat(u.Local); err != nil {
			return nil, &transfer.TransferError{Op: "upload", Path: u.Local, Err: err}
		}
	}

	cfg := rc.Target.TransferConfig()
	rc.Logger.Info().
		Str("protocol", cfg.Protocol).
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("directory", cfg.Directory).
		Msg("connecting to transfer server")

	client, err := transfer.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := client.Close(); err != nil {
			rc.Logger.Debug().Err(err).Msg("closing transfer connection")
		}
	}()

	var total int64
	for _, u := range uploads {
		n, err := transfer.Upload(ctx, client, u.Local, u.Remote)
		if err != nil {
			rc.Output.Item("failed", u.Local)
			return nil, err
		}
		rec := report.Upload{Local: u.Local, Remote: u.Remote, Size: n}

		ok, err := transfer.Verify(ctx, client, u.Remote, n)
		switch {
		case err != nil:
			rc.Record.Warn("could not verify %s: %v", u.Remote, err)
			rc.Output.Item("warn", fmt.Sprintf("%s -> %s (%d bytes, unverified)", u.Local, u.Remote, n))
		case !ok:
			rc.Record.Warn("size mismatch for %s", u.Remote)
			rc.Output.Item("warn", fmt.Sprintf("%s -> %s (%d bytes, size mismatch)", u.Local, u.Remote, n))
		default:
			rec.Verified = true
			rc.Output.Item("ok", fmt.Sprintf("%s -> %s (%d bytes)", u.Local, u.Remote, n))
		}

		rc.Record.Uploads = append(rc.Record.Uploads, rec)
		total += n
	}

	return step.Done("%d file(s), %d bytes to %s", len(uploads), total, client), nil
}
