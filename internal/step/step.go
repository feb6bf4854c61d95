// Package step defines the pipeline steps a run is made of and the registry
// they are looked up in.
package step

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/eugenetaranov/rtbolt/internal/build"
	"github.com/eugenetaranov/rtbolt/internal/config"
	"github.com/eugenetaranov/rtbolt/internal/output"
	"github.com/eugenetaranov/rtbolt/internal/report"
	"github.com/eugenetaranov/rtbolt/internal/session"
)

// Pipeline is the order steps always run in, whatever order they were
// selected in.
var Pipeline = []string{"build", "upload", "execute"}

// Result holds the outcome of a step.
type Result struct {
	// Message is a human-readable summary of what happened.
	Message string
}

// Step is one stage of the pipeline.
type Step interface {
	// Name returns the step's unique identifier.
	Name() string

	// Run performs the step for rc.Target, recording what it produced in
	// rc.Record.
	Run(ctx context.Context, rc *RunContext) (*Result, error)
}

// RunContext carries everything a step needs.
type RunContext struct {
	Target *config.Target
	Record *report.Record
	Output *output.Output
	Logger zerolog.Logger

	// ArtifactDir is where files retrieved from the target are written.
	ArtifactDir string

	// Trace, when set, mirrors the raw shell conversation.
	Trace io.Writer

	// BuildOptions and SessionOptions customize the collaborators.
	BuildOptions   []build.Option
	SessionOptions []session.Option

	// Fetcher overrides how the metrics file is retrieved.
	Fetcher session.Fetcher
}

// registry holds all registered steps.
var (
	registry   = make(map[string]Step)
	registryMu sync.RWMutex
)

// Register adds a step to the registry.
// It panics if a step with the same name is already registered.
func Register(s Step) {
	registryMu.Lock()
	defer registryMu.Unlock()

	name := s.Name()
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("step %q is already registered", name))
	}
	registry[name] = s
}

// Get retrieves a step from the registry by name.
// Returns nil if the step is not found.
func Get(name string) Step {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return registry[name]
}

// List returns the names of all registered steps in pipeline order.
func List() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sortPipeline(names)
	return names
}

// Resolve parses a comma-separated step selection. An empty selection or
// "all" means every registered step. Steps come back in pipeline order.
func Resolve(selection string) ([]Step, error) {
	selection = strings.TrimSpace(strings.ToLower(selection))
	if selection == "" || selection == "all" {
		return resolveNames(List())
	}

	seen := make(map[string]bool)
	var names, unknown []string
	for _, part := range strings.Split(selection, ",") {
		name := strings.TrimSpace(part)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		if Get(name) == nil {
			unknown = append(unknown, name)
			continue
		}
		names = append(names, name)
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("invalid step(s): %s (valid steps are: %s)",
			strings.Join(unknown, ", "), strings.Join(List(), ", "))
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no steps selected")
	}
	sortPipeline(names)
	return resolveNames(names)
}

func resolveNames(names []string) ([]Step, error) {
	steps := make([]Step, 0, len(names))
	for _, name := range names {
		s := Get(name)
		if s == nil {
			return nil, fmt.Errorf("unknown step %q", name)
		}
		steps = append(steps, s)
	}
	return steps, nil
}

// sortPipeline orders names by their position in Pipeline; steps outside
// it follow alphabetically.
func sortPipeline(names []string) {
	pos := func(name string) int {
		for i, p := range Pipeline {
			if p == name {
				return i
			}
		}
		return len(Pipeline)
	}
	sort.SliceStable(names, func(i, j int) bool {
		pi, pj := pos(names[i]), pos(names[j])
		if pi != pj {
			return pi < pj
		}
		return names[i] < names[j]
	})
}

// Done creates a Result with a message.
func Done(format string, args ...any) *Result {
	return &Result{Message: fmt.Sprintf(format, args...)}
}
