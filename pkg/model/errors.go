// pkg/model/errors.go
package model

import (
	"errors"
	"fmt"
)

// Error kinds shared by the resolver, fetch engine and cache store.
// Callers match them with errors.Is.
var (
	ErrInvalidDateFormat  = errors.New("invalid date format")
	ErrRange              = errors.New("date expression out of range")
	ErrTemplate           = errors.New("invalid query template")
	ErrCatalogUnavailable = errors.New("catalog unavailable")
	ErrStorage            = errors.New("storage failure")
	ErrConfiguration      = errors.New("configuration error")
	ErrEmptyResult        = errors.New("empty result set")
)

// RangeError is returned when a relative date expression points past the
// available partitions
type RangeError struct {
	Expr   string // Expression as given, e.g. "latest-12"
	Prefix string // "latest-" or "earliest+"
	Max    int    // Largest N the catalog supports
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("the value '%s' is out of range, maximum allowable is '%s%d'", e.Expr, e.Prefix, e.Max)
}

// Is lets errors.Is(err, ErrRange) match a *RangeError
func (e *RangeError) Is(target error) bool {
	return target == ErrRange
}
