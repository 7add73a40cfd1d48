// pkg/measures/definition.go
package measures

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
)

// Testing types a measure definition may declare
const (
	TypeNumeratorFilter = "numerator_bnf_codes_filter"
	TypeCustom          = "custom"
)

// ErrInvalidDefinition marks a definition flagged for testing that cannot be run
var ErrInvalidDefinition = errors.New("invalid measure definition")

// Status is the testing flag of a measure
type Status int

const (
	StatusUnflagged Status = iota // testing_measure absent or null
	StatusActive                  // testing_measure true
	StatusDisabled                // testing_measure false
)

// String returns a string representation of the status
func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusDisabled:
		return "disabled"
	default:
		return "unflagged"
	}
}

// Definition is one measure definition file
type Definition struct {
	Name     string // File name without the .json extension
	Status   Status
	Type     string
	Comments string
	Include  []string // Code patterns using % as a wildcard
	Exclude  []string
}

// FileName returns the definition's file name
func (d Definition) FileName() string {
	return d.Name + ".json"
}

// Definitions groups definitions by testing status
type Definitions struct {
	Active    []Definition
	Disabled  []Definition
	Unflagged []Definition
}

// Add files a definition under its status
func (d *Definitions) Add(def Definition) {
	switch def.Status {
	case StatusActive:
		d.Active = append(d.Active, def)
	case StatusDisabled:
		d.Disabled = append(d.Disabled, def)
	default:
		d.Unflagged = append(d.Unflagged, def)
	}
}

// Total returns the number of definitions of every status
func (d *Definitions) Total() int {
	return len(d.Active) + len(d.Disabled) + len(d.Unflagged)
}

type rawDefinition struct {
	TestingMeasure  *bool    `json:"testing_measure"`
	TestingType     *string  `json:"testing_type"`
	TestingComments *string  `json:"testing_comments"`
	TestingInclude  []string `json:"testing_include"`
	TestingExclude  []string `json:"testing_exclude"`
}

// ParseDefinition classifies one definition file.
// Only definitions flagged for testing are validated.
func ParseDefinition(fileName string, data []byte) (Definition, error) {
	def := Definition{Name: strings.TrimSuffix(path.Base(fileName), ".json")}

	var raw rawDefinition
	if err := json.Unmarshal(data, &raw); err != nil {
		return def, fmt.Errorf("failed to decode %s: %w", def.Name, err)
	}

	switch {
	case raw.TestingMeasure == nil:
		def.Status = StatusUnflagged
		return def, nil
	case !*raw.TestingMeasure:
		def.Status = StatusDisabled
		return def, nil
	}

	def.Status = StatusActive
	if raw.TestingComments != nil {
		def.Comments = *raw.TestingComments
	}

	if raw.TestingType == nil {
		return def, fmt.Errorf("%w: in the file %s, 'testing_type' is not defined", ErrInvalidDefinition, def.Name)
	}
	def.Type = *raw.TestingType

	switch def.Type {
	case TypeNumeratorFilter:
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(data, &fields); err != nil {
			return def, fmt.Errorf("failed to decode %s: %w", def.Name, err)
		}
		var filter []string
		if msg, ok := fields[def.Type]; !ok || json.Unmarshal(msg, &filter) != nil || filter == nil {
			return def, fmt.Errorf("%w: in the file %s, data for '%s' is missing or invalid",
				ErrInvalidDefinition, def.Name, def.Type)
		}
		def.Include, def.Exclude = splitNumeratorFilter(filter)

	case TypeCustom:
		if raw.TestingInclude == nil || raw.TestingExclude == nil {
			return def, fmt.Errorf("%w: in the file %s, both 'testing_include' and 'testing_exclude' must be provided when 'testing_type' is 'custom'",
				ErrInvalidDefinition, def.Name)
		}
		def.Include = raw.TestingInclude
		def.Exclude = raw.TestingExclude

	default:
		return def, fmt.Errorf("%w: in the file %s, 'testing_type' must be '%s' or '%s'",
			ErrInvalidDefinition, def.Name, TypeNumeratorFilter, TypeCustom)
	}

	return def, nil
}

// splitNumeratorFilter turns numerator filter entries into prefix patterns.
// "0212000B0 # Atorvastatin" becomes "0212000B0%"; a leading ~ marks an exclusion.
func splitNumeratorFilter(filter []string) (include, exclude []string) {
	for _, item := range filter {
		item, _, _ = strings.Cut(item, " # ")
		item += "%"
		if strings.HasPrefix(item, "~") {
			exclude = append(exclude, item[1:])
			continue
		}
		include = append(include, item)
	}
	return include, exclude
}
