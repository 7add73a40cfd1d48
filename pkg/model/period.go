// pkg/model/period.go
package model

import (
	"fmt"
	"regexp"
	"strconv"
)

// periodPattern matches the 6-digit YYYYMM run embedded in a catalog table name
var periodPattern = regexp.MustCompile(`\d{6}`)

// Period is one calendar month of published data
type Period struct {
	Year  int
	Month int
}

// ParsePeriod parses a literal YYYYMM string
func ParsePeriod(s string) (Period, error) {
	if len(s) != 6 {
		return Period{}, fmt.Errorf("%w: %q is not YYYYMM", ErrInvalidDateFormat, s)
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return Period{}, fmt.Errorf("%w: %q is not YYYYMM", ErrInvalidDateFormat, s)
		}
	}

	year, _ := strconv.Atoi(s[:4])
	month, _ := strconv.Atoi(s[4:])
	if year < 1 || month < 1 || month > 12 {
		return Period{}, fmt.Errorf("%w: %q is not a valid month", ErrInvalidDateFormat, s)
	}

	return Period{Year: year, Month: month}, nil
}

// PeriodFromTableName extracts the period embedded in a partition name.
// ok is false when the name carries no 6-digit run or the run is not a valid month.
func PeriodFromTableName(name string) (Period, bool) {
	match := periodPattern.FindString(name)
	if match == "" {
		return Period{}, false
	}
	p, err := ParsePeriod(match)
	if err != nil {
		return Period{}, false
	}
	return p, true
}

// String returns the YYYYMM form
func (p Period) String() string {
	return fmt.Sprintf("%04d%02d", p.Year, p.Month)
}

// Label returns the YYYY-MM form used in report names
func (p Period) Label() string {
	if p.IsZero() {
		return ""
	}
	return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
}

// IsZero reports whether the period is unset
func (p Period) IsZero() bool {
	return p.Year == 0 && p.Month == 0
}

// Compare returns -1, 0 or 1 ordering p against other
func (p Period) Compare(other Period) int {
	switch {
	case p.Year < other.Year:
		return -1
	case p.Year > other.Year:
		return 1
	case p.Month < other.Month:
		return -1
	case p.Month > other.Month:
		return 1
	default:
		return 0
	}
}

// Before reports whether p is strictly earlier than other
func (p Period) Before(other Period) bool {
	return p.Compare(other) < 0
}

// ParseLabel parses the YYYY-MM form produced by Label
func ParseLabel(label string) (Period, error) {
	if len(label) != 7 || label[4] != '-' {
		return Period{}, fmt.Errorf("%w: %q is not YYYY-MM", ErrInvalidDateFormat, label)
	}
	return ParsePeriod(label[:4] + label[5:])
}
