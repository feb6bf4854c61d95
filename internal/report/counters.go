package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// counterLabels maps the summary lines test scripts print to counter names.
var counterLabels = map[string]string{
	"messages sent":     "messages_sent",
	"messages received": "messages_received",
	"server log lines":  "server_lines",
	"client log lines":  "client_lines",
}

var counterLine = regexp.MustCompile(`(?im)^[ \t]*(messages sent|messages received|server log lines|client log lines)[ \t]*:[ \t]*(\d+)`)

// ParseCounters extracts the summary counters a test script printed, such
// as "Messages sent: 10". A counter printed twice keeps its last value.
// It returns nil when the output carries none.
func ParseCounters(output string) map[string]int64 {
	var counters map[string]int64
	for _, m := range counterLine.FindAllStringSubmatch(output, -1) {
		n, err := strconv.ParseInt(m[2], 10, 64)
		if err != nil {
			continue
		}
		if counters == nil {
			counters = make(map[string]int64)
		}
		counters[counterLabels[strings.ToLower(m[1])]] = n
	}
	return counters
}

// LoadHistory reads the JSON reports in dir, oldest first. An empty target
// loads the reports of every target.
func LoadHistory(dir, target string) ([]*Record, error) {
	pattern := "metrics_*.json"
	if target != "" {
		pattern = fmt.Sprintf("metrics_%s_*.json", target)
	}
	paths, err := filepath.Glob(joinDir(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}

	var records []*Record
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read report: %w", err)
		}
		rec := &Record{}
		if err := json.Unmarshal(data, rec); err != nil {
			return nil, fmt.Errorf("parse report %s: %w", p, err)
		}
		if target != "" && rec.Target != target {
			continue
		}
		records = append(records, rec)
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Started.Before(records[j].Started)
	})
	return records, nil
}
