// pkg/measures/runner.go
package measures

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/David-Botos/epd-ingress/pkg/model"
)

// Outcome is the result of testing one active measure
type Outcome struct {
	Definition Definition
	Rows       []model.Row // Rows matching the measure; empty when it passed
}

// Triggered reports whether any row matched
func (o Outcome) Triggered() bool {
	return len(o.Rows) > 0
}

// Results groups measure outcomes for the test report
type Results struct {
	Triggered []Outcome
	Passed    []Outcome
	Disabled  []Definition
	Unflagged []Definition
}

// Matcher tests BNF codes against include and exclude patterns
type Matcher struct {
	include []*regexp.Regexp
	exclude []*regexp.Regexp
}

// NewMatcher compiles patterns where % matches any run of characters.
// Patterns are anchored at the start of the code.
func NewMatcher(include, exclude []string) (*Matcher, error) {
	m := &Matcher{}
	for _, p := range include {
		re, err := compilePattern(p)
		if err != nil {
			return nil, err
		}
		m.include = append(m.include, re)
	}
	for _, p := range exclude {
		re, err := compilePattern(p)
		if err != nil {
			return nil, err
		}
		m.exclude = append(m.exclude, re)
	}
	return m, nil
}

// Match reports whether code matches an include pattern and no exclude pattern
func (m *Matcher) Match(code string) bool {
	included := false
	for _, re := range m.include {
		if re.MatchString(code) {
			included = true
			break
		}
	}
	if !included {
		return false
	}
	for _, re := range m.exclude {
		if re.MatchString(code) {
			return false
		}
	}
	return true
}

func compilePattern(pattern string) (*regexp.Regexp, error) {
	parts := strings.Split(pattern, "%")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	re, err := regexp.Compile("^" + strings.Join(parts, ".*"))
	if err != nil {
		return nil, fmt.Errorf("failed to compile pattern %q: %w", pattern, err)
	}
	return re, nil
}

// Run tests every active definition against rows, normally the month's new codes
func Run(rows []model.Row, defs *Definitions) (*Results, error) {
	results := &Results{
		Disabled:  defs.Disabled,
		Unflagged: defs.Unflagged,
	}

	for _, def := range defs.Active {
		matcher, err := NewMatcher(def.Include, def.Exclude)
		if err != nil {
			return nil, fmt.Errorf("measure %s: %w", def.Name, err)
		}

		outcome := Outcome{Definition: def}
		for _, r := range rows {
			if matcher.Match(r.Code) {
				outcome.Rows = append(outcome.Rows, r)
			}
		}

		if outcome.Triggered() {
			results.Triggered = append(results.Triggered, outcome)
		} else {
			results.Passed = append(results.Passed, outcome)
		}
	}

	return results, nil
}
