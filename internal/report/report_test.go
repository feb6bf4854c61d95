package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eugenetaranov/rtbolt/internal/transfer"
)

func sampleRecord() *Record {
	rec := NewRecord("rt1")
	rec.Started = time.Date(2026, 3, 4, 15, 4, 5, 0, time.UTC)
	rec.AddStep("build", 2*time.Second, nil)
	rec.AddStep("execute", 3*time.Second, nil)
	rec.Execution = &Execution{
		Command:    "./run_test.sh",
		Output:     "Server is running\n",
		Completed:  true,
		Seconds:    2.5,
		FinalState: "closed",
		Counters:   map[string]int64{"messages_sent": 10},
	}
	rec.Artifact = &transfer.Artifact{RemotePath: "metrics.txt", LocalPath: "metrics_rt1.txt", Size: 42, Present: true}
	rec.Finish()
	return rec
}

func TestRecord(t *testing.T) {
	rec := NewRecord("rt1")
	_, err := uuid.Parse(rec.RunID)
	require.NoError(t, err)

	rec.Finish()
	assert.False(t, rec.Success, "a run without steps is not a success")

	rec = NewRecord("rt1")
	rec.AddStep("build", time.Second, nil)
	rec.AddStep("upload", time.Second, errors.New("connection refused"))
	rec.Warn("size mismatch for %s", "client")
	rec.Finish()

	assert.False(t, rec.Success)
	assert.Equal(t, StatusFailed, rec.Steps[1].Status)
	assert.Equal(t, "connection refused", rec.Steps[1].Error)
	assert.Equal(t, []string{"size mismatch for client"}, rec.Warnings)
	assert.GreaterOrEqual(t, rec.Duration(), time.Duration(0))

	assert.True(t, sampleRecord().Success)
}

func TestJSONFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	j := &JSONFile{Dir: dir}
	rec := sampleRecord()

	require.NoError(t, j.Report(context.Background(), rec))

	path := j.Path(rec)
	assert.Equal(t, filepath.Join(dir, "metrics_rt1_20260304_150405.json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, rec.RunID, got["run_id"])
	assert.Equal(t, true, got["success"])
	exec := got["execution"].(map[string]any)
	assert.Equal(t, "Server is running\n", exec["output"])
	assert.Equal(t, 2.5, exec["execution_seconds"])
	art := got["artifact"].(map[string]any)
	assert.Equal(t, true, art["present"])
}

func TestTextfile(t *testing.T) {
	dir := t.TempDir()
	tf := &Textfile{Dir: dir}
	rec := sampleRecord()

	require.NoError(t, tf.Report(context.Background(), rec))

	data, err := os.ReadFile(filepath.Join(dir, "rtbolt_rt1.prom"))
	require.NoError(t, err)
	text := string(data)

	for _, want := range []string{
		`rtbolt_run_success{target="rt1"} 1`,
		`rtbolt_step_success{step="build",target="rt1"} 1`,
		`rtbolt_step_duration_seconds{step="execute",target="rt1"} 3`,
		`rtbolt_execution_seconds{target="rt1"} 2.5`,
		`rtbolt_execution_timed_out{target="rt1"} 0`,
		`rtbolt_artifact_present{target="rt1"} 1`,
		`rtbolt_artifact_bytes{target="rt1"} 42`,
		`rtbolt_output_counter{name="messages_sent",target="rt1"} 10`,
		"# HELP rtbolt_run_duration_seconds",
	} {
		assert.Contains(t, text, want)
	}
}

func TestTextfile_WithoutExecution(t *testing.T) {
	dir := t.TempDir()
	rec := NewRecord("rt2")
	rec.AddStep("build", time.Second, errors.New("exit status 2"))
	rec.Finish()

	require.NoError(t, (&Textfile{Dir: dir}).Report(context.Background(), rec))

	data, err := os.ReadFile(filepath.Join(dir, "rtbolt_rt2.prom"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `rtbolt_run_success{target="rt2"} 0`)
	assert.NotContains(t, string(data), "rtbolt_execution_seconds")
	assert.NotContains(t, string(data), "rtbolt_artifact_present")
	assert.NotContains(t, string(data), "rtbolt_output_counter")
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	l := &Logger{Logger: zerolog.New(&buf)}

	require.NoError(t, l.Report(context.Background(), sampleRecord()))

	var ev map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &ev))
	assert.Equal(t, "info", ev["level"])
	assert.Equal(t, "rt1", ev["target"])
	assert.Equal(t, true, ev["artifact_present"])
	assert.Equal(t, "run report", ev["message"])
}

type failingReporter struct{ calls int }

func (f *failingReporter) Report(ctx context.Context, rec *Record) error {
	f.calls++
	return errors.New("disk full")
}

func TestMulti(t *testing.T) {
	first, second := &failingReporter{}, &failingReporter{}
	err := Multi{first, second}.Report(context.Background(), sampleRecord())
	require.Error(t, err)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 1, second.calls)
	assert.Equal(t, 2, strings.Count(err.Error(), "disk full"))

	assert.NoError(t, Multi{}.Report(context.Background(), sampleRecord()))
}

func TestMetricsPath(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	assert.Equal(t, "metrics_rt1_20260102_030405.txt", MetricsPath("", "rt1", ts))
	assert.Equal(t, filepath.Join("out", "metrics_rt1_20260102_030405.txt"), MetricsPath("out", "rt1", ts))
}
