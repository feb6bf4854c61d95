package report

import (
	"context"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
)

// Textfile writes a Prometheus exposition file, suitable for the node
// exporter's textfile collector, to Dir/rtbolt_<target>.prom.
type Textfile struct {
	Dir string
}

// Path returns the file metrics for target are written to.
func (t *Textfile) Path(target string) string {
	return joinDir(t.Dir, fmt.Sprintf("rtbolt_%s.prom", target))
}

// Report implements Reporter.
func (t *Textfile) Report(ctx context.Context, rec *Record) error {
	reg := prometheus.NewRegistry()

	success := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "rtbolt_run_success",
		Help:        "Whether the last run succeeded (1) or failed (0).",
		ConstLabels: prometheus.Labels{"target": rec.Target},
	})
	duration := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "rtbolt_run_duration_seconds",
		Help:        "Wall time of the last run.",
		ConstLabels: prometheus.Labels{"target": rec.Target},
	})
	finished := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "rtbolt_run_timestamp_seconds",
		Help:        "Unix time the last run finished.",
		ConstLabels: prometheus.Labels{"target": rec.Target},
	})
	steps := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name:        "rtbolt_step_success",
		Help:        "Whether each step of the last run succeeded.",
		ConstLabels: prometheus.Labels{"target": rec.Target},
	}, []string{"step"})
	stepSeconds := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name:        "rtbolt_step_duration_seconds",
		Help:        "Wall time of each step of the last run.",
		ConstLabels: prometheus.Labels{"target": rec.Target},
	}, []string{"step"})

	reg.MustRegister(success, duration, finished, steps, stepSeconds)

	success.Set(boolGauge(rec.Success))
	duration.Set(rec.Duration().Seconds())
	finished.Set(float64(rec.Finished.Unix()))
	for _, s := range rec.Steps {
		steps.WithLabelValues(s.Name).Set(boolGauge(s.Status == StatusOK))
		stepSeconds.WithLabelValues(s.Name).Set(s.Seconds)
	}

	if rec.Execution != nil {
		exec := prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "rtbolt_execution_seconds",
			Help:        "Time the remote script ran.",
			ConstLabels: prometheus.Labels{"target": rec.Target},
		})
		timedOut := prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "rtbolt_execution_timed_out",
			Help:        "Whether the remote script hit its timeout.",
			ConstLabels: prometheus.Labels{"target": rec.Target},
		})
		reg.MustRegister(exec, timedOut)
		exec.Set(rec.Execution.Seconds)
		timedOut.Set(boolGauge(rec.Execution.TimedOut))

		if len(rec.Execution.Counters) > 0 {
			counters := prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name:        "rtbolt_output_counter",
				Help:        "Summary counters printed by the remote script.",
				ConstLabels: prometheus.Labels{"target": rec.Target},
			}, []string{"name"})
			reg.MustRegister(counters)
			for name, v := range rec.Execution.Counters {
				counters.WithLabelValues(name).Set(float64(v))
			}
		}
	}

	if rec.Artifact != nil {
		present := prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "rtbolt_artifact_present",
			Help:        "Whether the metrics file was found on the target.",
			ConstLabels: prometheus.Labels{"target": rec.Target},
		})
		size := prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "rtbolt_artifact_bytes",
			Help:        "Size of the retrieved metrics file.",
			ConstLabels: prometheus.Labels{"target": rec.Target},
		})
		reg.MustRegister(present, size)
		present.Set(boolGauge(rec.Artifact.Present))
		size.Set(float64(rec.Artifact.Size))
	}

	if t.Dir != "" {
		if err := os.MkdirAll(t.Dir, 0o755); err != nil {
			return fmt.Errorf("create textfile directory: %w", err)
		}
	}
	if err := prometheus.WriteToTextfile(t.Path(rec.Target), reg); err != nil {
		return fmt.Errorf("write textfile metrics: %w", err)
	}
	return nil
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
