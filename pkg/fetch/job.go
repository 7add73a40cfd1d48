package fetch

import (
	"time"

	"github.com/google/uuid"

	"github.com/David-Botos/epd-ingress/pkg/model"
)

// Job represents the fetch of one partition
type Job struct {
	ID          string    // Unique job identifier
	PartitionID string    // Catalog resource being fetched
	URL         string    // Fully formed query URL
	CreatedAt   time.Time // Job creation timestamp
	RetryCount  int       // Number of retries attempted
	MaxAttempts int       // Retries allowed after the first attempt
}

// NewJob creates a new fetch job with defaults
func NewJob(partitionID, requestURL string) Job {
	return Job{
		ID:          uuid.New().String(),
		PartitionID: partitionID,
		URL:         requestURL,
		CreatedAt:   time.Now(),
		MaxAttempts: 3,
	}
}

// WithMaxAttempts sets the retry budget and returns the modified job
func (j Job) WithMaxAttempts(maxAttempts int) Job {
	j.MaxAttempts = maxAttempts
	return j
}

// IsRetryable checks if the job can be retried
func (j Job) IsRetryable() bool {
	return j.RetryCount < j.MaxAttempts
}

// Retry increments the retry count and returns the modified job
func (j Job) Retry() Job {
	j.RetryCount++
	return j
}

// JobResult represents the outcome of one partition fetch
type JobResult struct {
	JobID       string
	PartitionID string
	Success     bool
	Rows        *model.RowSet
	RowsRead    int
	Truncated   bool  // Rows came from the bulk export
	BytesRead   int64 // Response plus export bytes
	Attempts    int
	Saved       bool  // Rows were appended to the cache
	StorageErr  error // Cache write failure; aborts the run
	Errors      []ErrorRecord
	Warnings    []string
	StartTime   time.Time
	EndTime     time.Time
	Duration    time.Duration
	WorkerID    int
}

// NewJobResult initializes a result for a job
func NewJobResult(job Job, workerID int) *JobResult {
	return &JobResult{
		JobID:       job.ID,
		PartitionID: job.PartitionID,
		StartTime:   time.Now(),
		WorkerID:    workerID,
		Errors:      make([]ErrorRecord, 0),
	}
}

// Complete marks the fetch as complete and calculates duration
func (r *JobResult) Complete(success bool) {
	r.EndTime = time.Now()
	r.Duration = r.EndTime.Sub(r.StartTime)
	r.Success = success
	if !success {
		r.Rows = model.NewRowSet()
	}
}

// AddError adds an error to the result
func (r *JobResult) AddError(err ErrorRecord) {
	r.Errors = append(r.Errors, err)
}

// AddWarning adds a warning to the result
func (r *JobResult) AddWarning(warning string) {
	r.Warnings = append(r.Warnings, warning)
}

// LastError returns the most recent error, if any
func (r *JobResult) LastError() error {
	if len(r.Errors) == 0 {
		return nil
	}
	return r.Errors[len(r.Errors)-1].Error
}
