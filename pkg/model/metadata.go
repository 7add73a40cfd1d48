// pkg/model/metadata.go
package model

import "strings"

// Column identifies one of the three tracked columns of a prescribing row
type Column int

const (
	ColumnCode Column = iota
	ColumnDescription
	ColumnChemicalSubstance
)

// Source column names as published by the open data API
const (
	HeaderCode              = "BNF_CODE"
	HeaderDescription       = "BNF_DESCRIPTION"
	HeaderChemicalSubstance = "CHEMICAL_SUBSTANCE_BNF_DESCR"
)

// TrackedColumns lists the columns in row order
var TrackedColumns = []Column{ColumnCode, ColumnDescription, ColumnChemicalSubstance}

// Header returns the source column name
func (c Column) Header() string {
	switch c {
	case ColumnCode:
		return HeaderCode
	case ColumnDescription:
		return HeaderDescription
	case ColumnChemicalSubstance:
		return HeaderChemicalSubstance
	default:
		return ""
	}
}

// String returns the source column name
func (c Column) String() string {
	return c.Header()
}

// RecordSchema maps the source columns of one response onto tracked columns
type RecordSchema struct {
	Headers []string       // Header row as received
	Index   map[Column]int // Position of each tracked column in Headers
}

// NewRecordSchema resolves the tracked columns in a header row (case-insensitive).
// missing lists the tracked columns that were not found.
func NewRecordSchema(headers []string) (schema *RecordSchema, missing []string) {
	schema = &RecordSchema{
		Headers: headers,
		Index:   make(map[Column]int, len(TrackedColumns)),
	}
	for _, col := range TrackedColumns {
		pos := schema.GetColumnByName(col.Header())
		if pos < 0 {
			missing = append(missing, col.Header())
			continue
		}
		schema.Index[col] = pos
	}
	return schema, missing
}

// GetColumnByName returns the header position of a column by name (case-insensitive).
// Returns -1 if column not found
func (rs *RecordSchema) GetColumnByName(name string) int {
	normalizedName := normalizeColumnName(name)
	for i, h := range rs.Headers {
		if normalizeColumnName(h) == normalizedName {
			return i
		}
	}
	return -1
}

func normalizeColumnName(name string) string {
	// Strip the BOM some CSV exports carry on the first header
	return strings.ToUpper(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
}
