// pkg/model/partition.go
package model

import (
	"fmt"
	"strconv"
	"strings"
)

// SyntheticPrefix starts the identifier of the merged pre-cutoff bucket
const SyntheticPrefix = "EPD_pre_"

// Partition is one remote resource from the dataset catalog
type Partition struct {
	ID     string // Catalog table name (bq_table_name)
	Period Period // Derived month, only meaningful when Dated is true
	Dated  bool   // False when the name embeds no valid YYYYMM
}

// NewPartition builds a partition from its catalog table name
func NewPartition(id string) Partition {
	period, ok := PeriodFromTableName(id)
	return Partition{ID: id, Period: period, Dated: ok}
}

// SyntheticID returns the bucket identifier for every partition older than year
func SyntheticID(year int) string {
	return fmt.Sprintf("%s%d", SyntheticPrefix, year)
}

// IsSynthetic reports whether id names a pre-cutoff bucket
func IsSynthetic(id string) bool {
	return strings.HasPrefix(id, SyntheticPrefix)
}

// ParseSyntheticYear returns the cutoff year embedded in a synthetic identifier
func ParseSyntheticYear(id string) (int, error) {
	if !IsSynthetic(id) {
		return 0, fmt.Errorf("%w: %q is not a synthetic partition", ErrConfiguration, id)
	}
	year, err := strconv.Atoi(strings.TrimPrefix(id, SyntheticPrefix))
	if err != nil || year <= 0 {
		return 0, fmt.Errorf("%w: %q has no valid cutoff year", ErrConfiguration, id)
	}
	return year, nil
}
