package report

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCounters(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   map[string]int64
	}{
		{
			name:   "no summary",
			output: "Server is running\r\n",
		},
		{
			name:   "full summary",
			output: "Test done\r\nMessages sent: 10\r\nMessages received: 9\r\nServer log lines: 12\r\nClient log lines: 11\r\n",
			want: map[string]int64{
				"messages_sent":     10,
				"messages_received": 9,
				"server_lines":      12,
				"client_lines":      11,
			},
		},
		{
			name:   "case and spacing",
			output: "  messages SENT :  7\n",
			want:   map[string]int64{"messages_sent": 7},
		},
		{
			name:   "last value wins",
			output: "Messages sent: 1\nMessages sent: 2\n",
			want:   map[string]int64{"messages_sent": 2},
		},
		{
			name:   "mid-line mention ignored",
			output: "expected Messages sent: 5 but got none\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, ParseCounters(tt.output)); diff != "" {
				t.Errorf("ParseCounters() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLoadHistory(t *testing.T) {
	dir := t.TempDir()
	j := &JSONFile{Dir: dir}
	base := time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC)

	for i, target := range []string{"rt1", "rt2", "rt1"} {
		rec := NewRecord(target)
		rec.Started = base.Add(time.Duration(3-i) * time.Minute)
		rec.AddStep("execute", time.Second, nil)
		rec.Execution = &Execution{Seconds: float64(i)}
		rec.Finish()
		require.NoError(t, j.Report(context.Background(), rec))
	}

	runs, err := LoadHistory(dir, "rt1")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.True(t, runs[0].Started.Before(runs[1].Started))
	assert.Equal(t, 2.0, runs[0].Execution.Seconds)

	all, err := LoadHistory(dir, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	none, err := LoadHistory(dir, "rt9")
	require.NoError(t, err)
	assert.Empty(t, none)
}
