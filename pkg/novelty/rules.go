// pkg/novelty/rules.go
package novelty

import (
	"strings"

	"github.com/David-Botos/epd-ingress/pkg/model"
)

// exceptPrefix marks a rule that re-includes a 4-character section
const exceptPrefix = "~"

// Rules holds the chapter and section exclusions applied before diffing
type Rules struct {
	raw     []string
	exclude map[string]struct{}
	except  map[string]struct{}
}

// ParseRules splits raw rules into exclusions ("02", "0401") and
// exceptions ("~0407"). Blank entries are ignored.
func ParseRules(raw []string) Rules {
	r := Rules{
		exclude: make(map[string]struct{}),
		except:  make(map[string]struct{}),
	}
	for _, rule := range raw {
		rule = strings.TrimSpace(rule)
		if rule == "" {
			continue
		}
		r.raw = append(r.raw, rule)
		if strings.HasPrefix(rule, exceptPrefix) {
			r.except[strings.TrimPrefix(rule, exceptPrefix)] = struct{}{}
			continue
		}
		r.exclude[rule] = struct{}{}
	}
	return r
}

// Empty reports whether no rule was given
func (r Rules) Empty() bool {
	return len(r.raw) == 0
}

// List returns the rules as given, for display
func (r Rules) List() []string {
	return append([]string(nil), r.raw...)
}

// Keep reports whether a row with code survives the rules
func (r Rules) Keep(code string) bool {
	if r.Empty() {
		return true
	}
	_, ex2 := r.exclude[prefix(code, 2)]
	_, ex4 := r.exclude[prefix(code, 4)]
	if !(ex2 || ex4) {
		return true
	}
	_, ok := r.except[prefix(code, 4)]
	return ok
}

// Apply returns the rows of set that survive the rules
func (r Rules) Apply(set *model.RowSet) *model.RowSet {
	return set.Filter(func(row model.Row) bool {
		return r.Keep(row.Code)
	})
}

// prefix returns up to n leading bytes of s
func prefix(s string, n int) string {
	if len(s) < n {
		return s
	}
	return s[:n]
}
