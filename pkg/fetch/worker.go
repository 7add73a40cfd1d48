package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/David-Botos/epd-ingress/pkg/cache"
	"github.com/David-Botos/epd-ingress/pkg/cleaner"
	"github.com/David-Botos/epd-ingress/pkg/model"
)

// API is the subset of the open data API a worker needs
type API interface {
	Query(ctx context.Context, requestURL string) (*Page, error)
	Download(ctx context.Context, exportURL string) (*Export, error)
}

// WorkerState represents the current state of a worker
type WorkerState string

const (
	WorkerStateIdle      WorkerState = "idle"
	WorkerStateWorking   WorkerState = "working"
	WorkerStateBackoff   WorkerState = "backoff"
	WorkerStateCompleted WorkerState = "completed"
)

// Worker handles the execution of fetch jobs
type Worker struct {
	ID           int
	api          API
	store        cache.Store
	dataCleaner  *cleaner.DataCleaner
	verifier     *Verifier
	errorHandler *ErrorHandler
	logger       *zap.Logger
	state        WorkerState
	backoffBase  time.Duration
	cacheEnabled bool
	stateLock    sync.RWMutex
}

// NewWorker creates a new worker. store may be nil when caching is off.
func NewWorker(
	id int,
	api API,
	store cache.Store,
	dataCleaner *cleaner.DataCleaner,
	verifier *Verifier,
	errorHandler *ErrorHandler,
	logger *zap.Logger,
) *Worker {
	return &Worker{
		ID:           id,
		api:          api,
		store:        store,
		dataCleaner:  dataCleaner,
		verifier:     verifier,
		errorHandler: errorHandler,
		logger:       logger.With(zap.Int("workerID", id)),
		state:        WorkerStateIdle,
		backoffBase:  time.Second,
		cacheEnabled: store != nil,
	}
}

// WithBackoffBase sets the base of the exponential backoff
func (w *Worker) WithBackoffBase(base time.Duration) *Worker {
	w.backoffBase = base
	return w
}

// WithCache turns cache writes on or off
func (w *Worker) WithCache(enabled bool) *Worker {
	w.cacheEnabled = enabled && w.store != nil
	return w
}

// setState updates the worker state
func (w *Worker) setState(state WorkerState) {
	w.stateLock.Lock()
	defer w.stateLock.Unlock()

	prevState := w.state
	w.state = state

	if prevState != state {
		w.logger.Debug("Worker state changed",
			zap.String("from", string(prevState)),
			zap.String("to", string(state)))
	}
}

// Start begins the worker processing loop
func (w *Worker) Start(ctx context.Context, jobs <-chan Job, results chan<- JobResult) {
	w.setState(WorkerStateWorking)
	w.logger.Debug("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("Worker stopping due to context cancellation")
			w.setState(WorkerStateCompleted)
			return

		case job, ok := <-jobs:
			if !ok {
				// Channel closed, no more jobs
				w.setState(WorkerStateCompleted)
				return
			}

			result := w.ProcessJob(ctx, job)

			// Results are always delivered so the caller can account for the partition
			results <- result
		}
	}
}

// ProcessJob fetches a single partition, retrying with exponential backoff
func (w *Worker) ProcessJob(ctx context.Context, job Job) JobResult {
	w.setState(WorkerStateWorking)
	defer w.setState(WorkerStateIdle)

	result := NewJobResult(job, w.ID)

	w.logger.Info("Fetching partition",
		zap.String("partitionID", job.PartitionID),
		zap.Int("maxAttempts", job.MaxAttempts+1))

	success := w.fetchWithRetry(ctx, job, result)

	// Persist before reporting so a later run sees the partition as cached
	if success && w.cacheEnabled {
		success = w.persist(ctx, job, result)
	}

	result.Complete(success)

	if success {
		w.logger.Info("Partition fetched",
			zap.String("partitionID", job.PartitionID),
			zap.Int("rowsFetched", result.Rows.Count()),
			zap.Bool("truncated", result.Truncated),
			zap.Int("attempt", result.Attempts),
			zap.Duration("duration", result.Duration))
	} else {
		w.logger.Error("Partition fetch failed",
			zap.String("partitionID", job.PartitionID),
			zap.Int("attempts", result.Attempts),
			zap.Error(result.LastError()),
			zap.Duration("duration", result.Duration))
	}

	return *result
}

// fetchWithRetry runs attempts until one succeeds or the budget is spent
func (w *Worker) fetchWithRetry(ctx context.Context, job Job, result *JobResult) bool {
	for {
		attempt := job.RetryCount + 1

		// Step 1: Never start an attempt after cancellation
		if err := ctx.Err(); err != nil {
			w.recordError(result, job, attempt, err, ErrorCategoryCancelled)
			return false
		}

		result.Attempts = attempt
		rows, err := w.fetchOnce(ctx, job, result)
		if err == nil {
			result.Rows = rows
			return true
		}

		category := w.errorHandler.CategorizeError(err)
		w.recordError(result, job, attempt, err, category)

		if !category.Retryable() || !job.IsRetryable() {
			return false
		}

		// Step 2: Back off for base * 2^retry before the next attempt
		job = job.Retry()
		delay := w.backoffBase << uint(job.RetryCount)

		w.logger.Warn("Partition fetch attempt failed, retrying",
			zap.String("partitionID", job.PartitionID),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err))

		w.setState(WorkerStateBackoff)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			w.recordError(result, job, attempt, ctx.Err(), ErrorCategoryCancelled)
			return false
		case <-timer.C:
		}
		w.setState(WorkerStateWorking)
	}
}

// fetchOnce performs one query and, for truncated results, the export download
func (w *Worker) fetchOnce(ctx context.Context, job Job, result *JobResult) (*model.RowSet, error) {
	page, err := w.api.Query(ctx, job.URL)
	if err != nil {
		return nil, err
	}
	result.BytesRead += page.Bytes

	var rows []model.Row
	var ops []model.CleaningOperation

	if page.Truncated {
		w.logger.Info("Result truncated, downloading bulk export",
			zap.String("partitionID", job.PartitionID))

		export, err := w.api.Download(ctx, page.ExportURL)
		if err != nil {
			return nil, err
		}
		result.BytesRead += export.Bytes
		result.Truncated = true
		result.RowsRead = len(export.Records)

		rows, ops, err = w.dataCleaner.RowsFromCSV(job.PartitionID, export.Header, export.Records)
		if err != nil {
			return nil, newCategorizedError(ErrorCategorySchema, err)
		}
	} else {
		result.RowsRead = len(page.Records)

		rows, ops, err = w.dataCleaner.RowsFromRecords(job.PartitionID, page.Records)
		if err != nil {
			return nil, newCategorizedError(ErrorCategorySchema, err)
		}
	}

	if n := len(ops); n > 0 {
		result.AddWarning(fmt.Sprintf("%d values normalized", n))
	}

	return model.NewRowSet(rows...), nil
}

// persist appends the partition rows and verifies them
func (w *Worker) persist(ctx context.Context, job Job, result *JobResult) bool {
	if err := w.store.Append(ctx, job.PartitionID, result.Rows.Rows()); err != nil {
		if !errors.Is(err, model.ErrStorage) {
			err = fmt.Errorf("%w: %w", model.ErrStorage, err)
		}
		result.StorageErr = err
		w.recordError(result, job, result.Attempts, err, ErrorCategoryStorage)
		return false
	}
	result.Saved = true

	if w.verifier != nil {
		report, err := w.verifier.VerifyPartition(ctx, job.PartitionID, result.Rows)
		switch {
		case err != nil:
			result.AddWarning(fmt.Sprintf("Verification failed with error: %v", err))
		case !report.RowCountMatches:
			result.AddWarning(fmt.Sprintf("Row count verification failed: fetched=%d, stored=%d",
				report.FetchedRowCount, report.StoredRowCount))
		case len(report.SampleDiscrepancies) > 0:
			result.AddWarning(fmt.Sprintf("%d of %d sampled rows missing from cache",
				len(report.SampleDiscrepancies), report.SampleSize))
		}
	}

	return true
}

func (w *Worker) recordError(result *JobResult, job Job, attempt int, err error, category ErrorCategory) {
	record := NewErrorRecord(err, category).
		WithJob(job).
		WithAttempt(attempt)
	result.AddError(record)
	w.errorHandler.RecordError(record)
}
