package report

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// JSONFile writes each record to metrics_<target>_<timestamp>.json in Dir.
type JSONFile struct {
	Dir string
}

// Path returns the file a record is written to.
func (j *JSONFile) Path(rec *Record) string {
	return joinDir(j.Dir, fmt.Sprintf("metrics_%s_%s.json", rec.Target, timestamp(rec.Started)))
}

// Report implements Reporter.
func (j *JSONFile) Report(ctx context.Context, rec *Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	data = append(data, '\n')

	if j.Dir != "" {
		if err := os.MkdirAll(j.Dir, 0o755); err != nil {
			return fmt.Errorf("create report directory: %w", err)
		}
	}
	if err := renameio.WriteFile(j.Path(rec), data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func joinDir(dir, name string) string {
	if dir == "" {
		return name
	}
	return filepath.Join(dir, name)
}
