// pkg/model/cleaning.go
package model

import (
	"time"
)

// CleaningOperation represents a single normalization applied to a source value
type CleaningOperation struct {
	PartitionID       string      // Partition the record came from
	ColumnName        string      // Column that was cleaned
	OriginalValue     interface{} // Original value (may be nil)
	NewValue          string      // New value after cleaning
	RowIndex          int         // Position of the record in the response
	CleaningOperation string      // Type of cleaning performed (e.g., "null_to_empty")
	CleanedAt         time.Time
}

// CleaningContext contains information needed for cleaning a value
type CleaningContext struct {
	PartitionID string
	ColumnName  string
	RowIndex    int
}
