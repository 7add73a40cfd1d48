package fetch

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PartitionMetrics tracks the outcome of one partition
type PartitionMetrics struct {
	PartitionID string
	Cached      bool
	Success     bool
	Truncated   bool
	Attempts    int
	RowsRead    int
	RowsKept    int
	BytesRead   int64
	Duration    time.Duration
	Error       string
}

// FetchMetrics tracks metrics for one fetch run
type FetchMetrics struct {
	mu                sync.Mutex
	logger            *zap.Logger
	StartTime         time.Time
	EndTime           time.Time
	Partitions        map[string]*PartitionMetrics
	CachedPartitions  int
	FetchedPartitions int
	FailedPartitions  int
	TotalRowsRead     int64
	TotalRowsKept     int64
	TotalBytesRead    int64
	TotalAttempts     int
	TruncatedResults  int
	ErrorCounts       map[ErrorCategory]int
	WorkerUtilization map[int]time.Duration
}

// NewFetchMetrics creates a new FetchMetrics instance
func NewFetchMetrics(logger *zap.Logger) *FetchMetrics {
	return &FetchMetrics{
		StartTime:         time.Now(),
		Partitions:        make(map[string]*PartitionMetrics),
		ErrorCounts:       make(map[ErrorCategory]int),
		WorkerUtilization: make(map[int]time.Duration),
		logger:            logger,
	}
}

// RecordCached records partitions served from the cache
func (fm *FetchMetrics) RecordCached(ids []string, rows int) {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	for _, id := range ids {
		fm.Partitions[id] = &PartitionMetrics{PartitionID: id, Cached: true, Success: true}
	}
	fm.CachedPartitions += len(ids)
	fm.TotalRowsKept += int64(rows)
}

// RecordJob records metrics for a completed partition fetch
func (fm *FetchMetrics) RecordJob(result JobResult) {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	pm := &PartitionMetrics{
		PartitionID: result.PartitionID,
		Success:     result.Success,
		Truncated:   result.Truncated,
		Attempts:    result.Attempts,
		RowsRead:    result.RowsRead,
		BytesRead:   result.BytesRead,
		Duration:    result.Duration,
	}
	if result.Rows != nil {
		pm.RowsKept = result.Rows.Count()
	}
	if err := result.LastError(); err != nil {
		pm.Error = err.Error()
	}
	fm.Partitions[result.PartitionID] = pm

	if result.Success {
		fm.FetchedPartitions++
	} else {
		fm.FailedPartitions++
	}
	if result.Truncated {
		fm.TruncatedResults++
	}
	for _, rec := range result.Errors {
		fm.ErrorCounts[rec.Category]++
	}

	fm.TotalRowsRead += int64(result.RowsRead)
	fm.TotalRowsKept += int64(pm.RowsKept)
	fm.TotalBytesRead += result.BytesRead
	fm.TotalAttempts += result.Attempts
	fm.WorkerUtilization[result.WorkerID] += result.Duration
}

// Complete marks the fetch run as complete
func (fm *FetchMetrics) Complete() {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	fm.EndTime = time.Now()

	if fm.logger != nil {
		fm.logger.Info("Fetch completed",
			zap.Duration("totalDuration", fm.duration()),
			zap.Int("cachedPartitions", fm.CachedPartitions),
			zap.Int("fetchedPartitions", fm.FetchedPartitions),
			zap.Int("failedPartitions", fm.FailedPartitions),
			zap.Int64("rowsKept", fm.TotalRowsKept),
			zap.String("bytesRead", formatBytes(fm.TotalBytesRead)))
	}
}

// Duration returns the total duration of the fetch run
func (fm *FetchMetrics) Duration() time.Duration {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	return fm.duration()
}

func (fm *FetchMetrics) duration() time.Duration {
	if fm.EndTime.IsZero() {
		return time.Since(fm.StartTime)
	}
	return fm.EndTime.Sub(fm.StartTime)
}

// errorDistribution returns error shares by category as percentages
func (fm *FetchMetrics) errorDistribution() map[ErrorCategory]float64 {
	distribution := make(map[ErrorCategory]float64)
	totalErrors := 0
	for _, count := range fm.ErrorCounts {
		totalErrors += count
	}
	if totalErrors == 0 {
		return distribution
	}

	for category, count := range fm.ErrorCounts {
		distribution[category] = float64(count) / float64(totalErrors) * 100
	}
	return distribution
}

// formatBytes converts bytes to a human-readable string
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// formatDuration formats a duration to a human-readable string
func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	} else if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%.2fs", d.Seconds())
}

// GenerateMetricsReport creates a plain-text summary of the run
func (fm *FetchMetrics) GenerateMetricsReport() string {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	var sb strings.Builder
	fmt.Fprintf(&sb, `
Fetch Metrics Report
====================
Duration:                %s
Cached Partitions:       %d
Fetched Partitions:      %d
Failed Partitions:       %d
Truncated Results:       %d
Total Attempts:          %d
Total Rows Read:         %d
Distinct Rows Kept:      %d
Total Data Read:         %s
`,
		formatDuration(fm.duration()),
		fm.CachedPartitions,
		fm.FetchedPartitions,
		fm.FailedPartitions,
		fm.TruncatedResults,
		fm.TotalAttempts,
		fm.TotalRowsRead,
		fm.TotalRowsKept,
		formatBytes(fm.TotalBytesRead),
	)

	ids := make([]string, 0, len(fm.Partitions))
	for id := range fm.Partitions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	sb.WriteString("\nPartition Details\n-----------------\n")
	for _, id := range ids {
		pm := fm.Partitions[id]
		switch {
		case pm.Cached:
			fmt.Fprintf(&sb, "- %s: cached\n", id)
		case pm.Success:
			fmt.Fprintf(&sb, "- %s: %d rows, %d attempts, %s\n", id, pm.RowsKept, pm.Attempts, formatDuration(pm.Duration))
		default:
			fmt.Fprintf(&sb, "- %s: failed after %d attempts: %s\n", id, pm.Attempts, pm.Error)
		}
	}

	if len(fm.ErrorCounts) > 0 {
		sb.WriteString("\nError Distribution\n------------------\n")
		for category, pct := range fm.errorDistribution() {
			fmt.Fprintf(&sb, "- %s: %d (%.1f%%)\n", category, fm.ErrorCounts[category], pct)
		}
	}

	return sb.String()
}

// ToJSON serializes metrics to JSON
func (fm *FetchMetrics) ToJSON() ([]byte, error) {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	errors := make(map[string]int, len(fm.ErrorCounts))
	for category, count := range fm.ErrorCounts {
		errors[category.String()] = count
	}

	return json.Marshal(struct {
		Duration          string         `json:"duration"`
		CachedPartitions  int            `json:"cachedPartitions"`
		FetchedPartitions int            `json:"fetchedPartitions"`
		FailedPartitions  int            `json:"failedPartitions"`
		TotalRowsKept     int64          `json:"totalRowsKept"`
		TotalBytesRead    int64          `json:"totalBytesRead"`
		TotalAttempts     int            `json:"totalAttempts"`
		Errors            map[string]int `json:"errors"`
	}{
		Duration:          formatDuration(fm.duration()),
		CachedPartitions:  fm.CachedPartitions,
		FetchedPartitions: fm.FetchedPartitions,
		FailedPartitions:  fm.FailedPartitions,
		TotalRowsKept:     fm.TotalRowsKept,
		TotalBytesRead:    fm.TotalBytesRead,
		TotalAttempts:     fm.TotalAttempts,
		Errors:            errors,
	})
}
