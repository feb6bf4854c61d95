package executor

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/eugenetaranov/rtbolt/internal/config"
	"github.com/eugenetaranov/rtbolt/internal/report"
)

// varPattern matches {{ variable }} syntax.
var varPattern = regexp.MustCompile(`\{\{\s*([^}]+?)\s*\}\}`)

// Vars are the values available to {{ }} references in target settings.
type Vars map[string]any

// runVars builds the variables for one run of t.
func runVars(t *config.Target, rec *report.Record) Vars {
	return Vars{
		"target":      t.Name,
		"description": t.Description,
		"run_id":      rec.RunID,
		"timestamp":   rec.Started.Format("20060102_150405"),
		"env":         getEnvMap(),
	}
}

// Expand replaces {{ var }} patterns in s. A reference that resolves to
// nothing is an error, so a typo cannot silently become an empty path.
func (v Vars) Expand(s string) (string, error) {
	var firstErr error
	result := varPattern.ReplaceAllStringFunc(s, func(match string) string {
		inner := varPattern.FindStringSubmatch(match)
		if len(inner) < 2 {
			return match
		}

		val, err := v.resolve(strings.TrimSpace(inner[1]))
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return match
		}
		return fmt.Sprintf("%v", val)
	})
	if firstErr != nil {
		return "", fmt.Errorf("expanding %q: %w", s, firstErr)
	}
	return result, nil
}

// resolve resolves a variable expression.
func (v Vars) resolve(expr string) (any, error) {
	// Handle filters (e.g., var | default('value'))
	if idx := strings.Index(expr, "|"); idx > 0 {
		varName := strings.TrimSpace(expr[:idx])
		filter := strings.TrimSpace(expr[idx+1:])
		return applyFilter(v.lookup(varName), filter)
	}

	val := v.lookup(expr)
	if val == nil {
		return nil, fmt.Errorf("undefined variable: %s", expr)
	}
	return val, nil
}

// lookup looks up a variable by name or dotted path.
func (v Vars) lookup(name string) any {
	if val, ok := v[name]; ok {
		return val
	}

	// Handle dotted paths (e.g., env.HOME)
	if strings.Contains(name, ".") {
		parts := strings.Split(name, ".")
		var current any = map[string]any(v)

		for _, part := range parts {
			switch c := current.(type) {
			case map[string]any:
				current = c[part]
			case map[string]string:
				val, ok := c[part]
				if !ok {
					return nil
				}
				current = val
			default:
				return nil
			}

			if current == nil {
				return nil
			}
		}

		return current
	}

	return nil
}

// applyFilter applies a filter to a value.
func applyFilter(val any, filter string) (any, error) {
	// Parse filter name and arguments
	filterName := filter
	var filterArg string

	if idx := strings.Index(filter, "("); idx > 0 {
		filterName = strings.TrimSpace(filter[:idx])
		argPart := filter[idx+1:]
		if endIdx := strings.LastIndex(argPart, ")"); endIdx > 0 {
			filterArg = strings.TrimSpace(argPart[:endIdx])
			// Remove quotes from argument
			filterArg = strings.Trim(filterArg, "'\"")
		}
	}

	switch filterName {
	case "default":
		if val == nil || val == "" {
			return filterArg, nil
		}
		return val, nil

	case "lower":
		if s, ok := val.(string); ok {
			return strings.ToLower(s), nil
		}
		return val, nil

	case "upper":
		if s, ok := val.(string); ok {
			return strings.ToUpper(s), nil
		}
		return val, nil

	case "trim":
		if s, ok := val.(string); ok {
			return strings.TrimSpace(s), nil
		}
		return val, nil

	default:
		return nil, fmt.Errorf("unknown filter: %s", filterName)
	}
}

// expandTarget returns a copy of t with variables expanded in every
// command, path and script setting.
func expandTarget(t *config.Target, v Vars) (*config.Target, error) {
	out := *t
	out.Builds = append([]config.Build(nil), t.Builds...)
	out.Uploads = append([]config.Upload(nil), t.Uploads...)

	var fields []*string
	for i := range out.Builds {
		b := &out.Builds[i]
		fields = append(fields, &b.Command, &b.SourceDirectory, &b.OutputDirectory)
	}
	for i := range out.Uploads {
		u := &out.Uploads[i]
		fields = append(fields, &u.Local, &u.Remote)
	}
	fields = append(fields,
		&out.Transfer.TargetDirectory,
		&out.Execution.ScriptName,
		&out.Execution.WorkingDirectory,
		&out.Execution.MetricsFile,
	)

	for _, f := range fields {
		expanded, err := v.Expand(*f)
		if err != nil {
			return nil, err
		}
		*f = expanded
	}
	return &out, nil
}

// getEnvMap returns environment variables as a map.
func getEnvMap() map[string]string {
	env := make(map[string]string)
	for _, e := range os.Environ() {
		if idx := strings.Index(e, "="); idx > 0 {
			env[e[:idx]] = e[idx+1:]
		}
	}
	return env
}
