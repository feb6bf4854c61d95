package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eugenetaranov/rtbolt/internal/config"
	"github.com/eugenetaranov/rtbolt/internal/output"
	"github.com/eugenetaranov/rtbolt/internal/report"
	"github.com/eugenetaranov/rtbolt/internal/step"
	"github.com/eugenetaranov/rtbolt/internal/transfer"
	"github.com/eugenetaranov/rtbolt/internal/transfer/transfertest"
)

// setup registers a fresh in-memory backend under protocol and returns a
// run context whose target uploads two local files through it.
func setup(t *testing.T, protocol string) (*step.RunContext, *transfertest.Client, *bytes.Buffer) {
	t.Helper()
	client := transfertest.NewClient()
	transfertest.Register(protocol, client)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "client"), []byte("binary"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "run_test.sh"), []byte("#!/bin/sh\n"), 0o755))

	f, err := config.Parse([]byte(fmt.Sprintf(`
targets:
  rt:
    transfer: {protocol: %s, host: rt.lab, username: root, target_directory: /tmp/rt}
    files_to_upload:
      - {local: %s/client, remote: client}
      - {local: %s/run_test.sh, remote: run_test.sh}
`, protocol, dir, dir)))
	require.NoError(t, err)
	tgt, err := f.Select("")
	require.NoError(t, err)

	var buf bytes.Buffer
	out := output.New(&buf)
	out.SetColor(false)
	return &step.RunContext{
		Target: tgt,
		Record: report.NewRecord(tgt.Name),
		Output: out,
		Logger: zerolog.Nop(),
	}, client, &buf
}

func TestStep_Registered(t *testing.T) {
	assert.NotNil(t, step.Get("upload"))
}

func TestStep_Run(t *testing.T) {
	rc, client, _ := setup(t, "mem-upload-ok")

	res, err := (&Step{}).Run(context.Background(), rc)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/rt", client.Cwd(), "missing target directory is created")
	assert.Equal(t, []byte("binary"), client.Files["/tmp/rt/client"])
	assert.Equal(t, []byte("#!/bin/sh\n"), client.Files["/tmp/rt/run_test.sh"])
	assert.Equal(t, 1, client.Closed)
	assert.Contains(t, res.Message, "2 file(s), 16 bytes")

	require.Len(t, rc.Record.Uploads, 2)
	assert.True(t, rc.Record.Uploads[0].Verified)
	assert.Empty(t, rc.Record.Warnings)
}

func TestStep_SizeMismatchIsWarning(t *testing.T) {
	rc, client, buf := setup(t, "mem-upload-truncate")
	client.Truncate = 1

	_, err := (&Step{}).Run(context.Background(), rc)
	require.NoError(t, err)
	assert.Len(t, rc.Record.Warnings, 2)
	assert.False(t, rc.Record.Uploads[0].Verified)
	assert.Contains(t, buf.String(), "size mismatch")
}

func TestStep_StoreFailure(t *testing.T) {
	rc, client, _ := setup(t, "mem-upload-fail")
	client.StoreErr = errors.New("552 quota exceeded")

	_, err := (&Step{}).Run(context.Background(), rc)
	var terr *transfer.TransferError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, "upload", terr.Op)
	assert.Equal(t, 1, client.Closed)
}

func TestStep_MissingLocalFile(t *testing.T) {
	rc, client, _ := setup(t, "mem-upload-missing")
	rc.Target.Uploads = append(rc.Target.Uploads, config.Upload{Local: "/nonexistent/file", Remote: "file"})

	_, err := (&Step{}).Run(context.Background(), rc)
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
	assert.False(t, client.Connected, "no connection is made when a local file is missing")
}

func TestStep_ConnectFailure(t *testing.T) {
	rc, client, _ := setup(t, "mem-upload-refused")
	client.ConnectErr = errors.New("connection refused")

	_, err := (&Step{}).Run(context.Background(), rc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}
