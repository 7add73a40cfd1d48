// pkg/cache/store.go
package cache

import (
	"context"

	"github.com/David-Botos/epd-ingress/pkg/model"
)

// Store keeps previously fetched partition rows. It is append-only: rows are
// never rewritten by the fetch path and duplicates are removed when read.
type Store interface {
	// Has reports whether at least one row was stored for id
	Has(ctx context.Context, id string) (bool, error)

	// Append stores rows tagged with id. Duplicate content is accepted.
	Append(ctx context.Context, id string, rows []model.Row) error

	// Read returns the distinct rows stored under any of ids
	Read(ctx context.Context, ids []string) (*model.RowSet, error)

	// PartitionIDs lists every partition identifier ever appended
	PartitionIDs(ctx context.Context) ([]string, error)

	// SyntheticCutoffYear returns the year of the stored pre-cutoff bucket
	SyntheticCutoffYear(ctx context.Context) (int, error)

	// Count returns the number of distinct rows stored for id
	Count(ctx context.Context, id string) (int64, error)

	// Close releases the underlying connection
	Close() error
}

// Consolidator rewrites old partitions into one synthetic bucket
type Consolidator interface {
	Consolidate(ctx context.Context, year int) (*ConsolidateStats, error)
}

// ConsolidateStats summarizes a maintenance rewrite of the cache
type ConsolidateStats struct {
	Bucket            string
	Partitions        []string // Identifiers folded into Bucket
	RowsBefore        int64
	RowsRelabelled    int64
	DuplicatesRemoved int64
	RowsAfter         int64
}
