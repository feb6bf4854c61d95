// Package expect matches an accumulating stream of terminal output against an
// ordered set of regular expressions.
package expect

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrTimeout is reported by readers when no rule matched before the deadline.
// Match itself never returns it: an unmatched buffer is simply not a match.
var ErrTimeout = errors.New("expect: timed out waiting for pattern")

// Rule binds a name to a compiled pattern. Callers switch on the name of the
// matched rule to decide what to do next.
type Rule struct {
	Name string
	Re   *regexp.Regexp
}

// Compile builds a rule from pattern text.
func Compile(name, pattern string) (Rule, error) {
	if strings.TrimSpace(pattern) == "" {
		return Rule{}, fmt.Errorf("pattern for %q is empty", name)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Rule{}, fmt.Errorf("invalid pattern for %q: %w", name, err)
	}
	return Rule{Name: name, Re: re}, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(name, pattern string) Rule {
	r, err := Compile(name, pattern)
	if err != nil {
		panic(err)
	}
	return r
}

// CompileAll compiles every pattern under the same rule name.
func CompileAll(name string, patterns []string) ([]Rule, error) {
	if len(patterns) == 0 {
		return nil, fmt.Errorf("no patterns given for %q", name)
	}
	rules := make([]Rule, 0, len(patterns))
	for _, p := range patterns {
		r, err := Compile(name, p)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// Rules is an ordered rule set. Earlier rules take priority.
type Rules []Rule

// NewRules concatenates rule groups in priority order.
func NewRules(groups ...[]Rule) Rules {
	var rs Rules
	for _, g := range groups {
		rs = append(rs, g...)
	}
	return rs
}

// Names returns the rule names in order, for diagnostics.
func (rs Rules) Names() []string {
	names := make([]string, len(rs))
	for i, r := range rs {
		names[i] = r.Name
	}
	return names
}

// String lists the patterns, for error messages.
func (rs Rules) String() string {
	parts := make([]string, len(rs))
	for i, r := range rs {
		parts[i] = fmt.Sprintf("%s=%q", r.Name, r.Re.String())
	}
	return strings.Join(parts, ", ")
}

// Result describes a successful match.
type Result struct {
	// Index is the position of the matching rule in the rule set.
	Index int

	// Name is the matching rule's name.
	Name string

	// Before holds the bytes preceding the match.
	Before []byte

	// Matched holds the bytes the pattern matched.
	Matched []byte

	// Consumed is the length of the buffer prefix up to the end of the match.
	Consumed int
}

// Match checks buf against rules in priority order. The first rule matching
// anywhere in buf wins, even when a later rule would match earlier in buf.
func Match(buf []byte, rules Rules) (Result, bool) {
	for i, r := range rules {
		loc := r.Re.FindIndex(buf)
		if loc == nil {
			continue
		}
		return Result{
			Index:    i,
			Name:     r.Name,
			Before:   buf[:loc[0]],
			Matched:  buf[loc[0]:loc[1]],
			Consumed: loc[1],
		}, true
	}
	return Result{}, false
}
