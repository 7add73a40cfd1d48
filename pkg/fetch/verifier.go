package fetch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/David-Botos/epd-ingress/pkg/cache"
	"github.com/David-Botos/epd-ingress/pkg/model"
)

// RowDiscrepancy is a fetched row that could not be read back from the cache
type RowDiscrepancy struct {
	PartitionID string
	Row         model.Row
}

// VerificationReport contains the results of a partition verification
type VerificationReport struct {
	PartitionID         string
	VerificationTime    time.Time
	RowCountMatches     bool
	FetchedRowCount     int64
	StoredRowCount      int64
	SampleVerified      bool
	SampleSize          int
	SampleDiscrepancies []RowDiscrepancy
	Duration            time.Duration
}

// Verifier checks that appended partitions can be read back from the cache
type Verifier struct {
	store   cache.Store
	logger  *zap.Logger
	timeout time.Duration
	sample  bool
}

// NewVerifier creates a new verifier
func NewVerifier(store cache.Store, logger *zap.Logger) *Verifier {
	return &Verifier{
		store:   store,
		logger:  logger,
		timeout: time.Minute, // Default 1-minute timeout
	}
}

// WithSampling enables reading the partition back to check sampled rows.
// The read loads the whole partition, so it is off unless asked for.
func (v *Verifier) WithSampling(enabled bool) *Verifier {
	v.sample = enabled
	return v
}

// VerifyRowCount compares the distinct rows fetched with those stored for the partition
func (v *Verifier) VerifyRowCount(
	ctx context.Context,
	partitionID string,
	fetched int64,
) (bool, int64, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	stored, err := v.store.Count(ctx, partitionID)
	if err != nil {
		return false, fetched, 0, fmt.Errorf("failed to count stored rows: %w", err)
	}

	matches := fetched == stored
	if matches {
		v.logger.Debug("Row count verification successful",
			zap.String("partitionID", partitionID),
			zap.Int64("count", stored))
	} else {
		v.logger.Warn("Row count mismatch",
			zap.String("partitionID", partitionID),
			zap.Int64("fetchedCount", fetched),
			zap.Int64("storedCount", stored),
			zap.Int64("difference", fetched-stored))
	}

	return matches, fetched, stored, nil
}

// VerifySampleRows reads the partition back and checks a sample of fetched rows is present
func (v *Verifier) VerifySampleRows(
	ctx context.Context,
	partitionID string,
	rows *model.RowSet,
) ([]RowDiscrepancy, int, error) {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	fetched := rows.Rows()
	sampleSize := calculateSampleSize(int64(len(fetched)))
	if sampleSize == 0 {
		return nil, 0, nil
	}

	stored, err := v.store.Read(ctx, []string{partitionID})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read partition back: %w", err)
	}

	// Evenly spaced sample across the partition
	step := len(fetched) / sampleSize
	if step < 1 {
		step = 1
	}

	var discrepancies []RowDiscrepancy
	checked := 0
	for i := 0; i < len(fetched) && checked < sampleSize; i += step {
		checked++
		if !stored.Contains(fetched[i]) {
			discrepancies = append(discrepancies, RowDiscrepancy{
				PartitionID: partitionID,
				Row:         fetched[i],
			})
		}
	}

	if len(discrepancies) > 0 {
		v.logger.Warn("Sample rows missing from cache",
			zap.String("partitionID", partitionID),
			zap.Int("sampleSize", checked),
			zap.Int("missing", len(discrepancies)))
	}

	return discrepancies, checked, nil
}

// VerifyPartition runs every check for a partition and collects the outcome
func (v *Verifier) VerifyPartition(
	ctx context.Context,
	partitionID string,
	rows *model.RowSet,
) (*VerificationReport, error) {
	start := time.Now()
	report := &VerificationReport{
		PartitionID:      partitionID,
		VerificationTime: start,
	}

	matches, fetched, stored, err := v.VerifyRowCount(ctx, partitionID, int64(rows.Count()))
	if err != nil {
		return nil, err
	}
	report.RowCountMatches = matches
	report.FetchedRowCount = fetched
	report.StoredRowCount = stored

	if v.sample {
		discrepancies, sampleSize, err := v.VerifySampleRows(ctx, partitionID, rows)
		if err != nil {
			return nil, err
		}
		report.SampleSize = sampleSize
		report.SampleDiscrepancies = discrepancies
		report.SampleVerified = len(discrepancies) == 0
	}
	report.Duration = time.Since(start)

	return report, nil
}

// calculateSampleSize determines appropriate sample size based on partition size
func calculateSampleSize(rowCount int64) int {
	switch {
	case rowCount <= 0:
		return 0
	case rowCount < 100:
		return int(rowCount) // Sample all rows for small partitions
	case rowCount < 1000:
		return 100
	case rowCount < 10000:
		return 500
	case rowCount < 100000:
		return 1000
	default:
		return 2000 // Cap at 2000 rows for huge partitions
	}
}
