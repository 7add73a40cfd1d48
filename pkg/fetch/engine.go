package fetch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/David-Botos/epd-ingress/pkg/cache"
	"github.com/David-Botos/epd-ingress/pkg/cleaner"
	"github.com/David-Botos/epd-ingress/pkg/model"
)

// Options controls one fetch run
type Options struct {
	BaseURL      string        // Query API base, e.g. https://opendata.nhsbsa.net/api/3/action
	MaxAttempts  int           // Retries after the first attempt
	BackoffBase  time.Duration // Sleep before retry n is BackoffBase * 2^n
	Concurrency  int           // Worker count; 1 fetches partitions in order
	CacheEnabled bool
	VerifySample bool // Read each appended partition back to check sampled rows
}

// DefaultOptions returns the options used when nothing is configured
func DefaultOptions(baseURL string) Options {
	return Options{
		BaseURL:      baseURL,
		MaxAttempts:  3,
		BackoffBase:  time.Second,
		Concurrency:  1,
		CacheEnabled: true,
	}
}

// Result is the outcome of a fetch run
type Result struct {
	Cached     *model.RowSet            // Distinct rows read back from the cache
	CachedIDs  []string                 // Partitions served from the cache
	Fetched    map[string]*model.RowSet // Rows per freshly fetched partition
	FetchedIDs []string                 // Fetched partitions, in request order
	Failed     []string                 // Partitions that yielded no rows this run
	Jobs       []JobResult
	Metrics    *FetchMetrics
}

// FetchedRowSets returns the fetched row sets in request order
func (r *Result) FetchedRowSets() []*model.RowSet {
	sets := make([]*model.RowSet, 0, len(r.FetchedIDs))
	for _, id := range r.FetchedIDs {
		sets = append(sets, r.Fetched[id])
	}
	return sets
}

// Assemble merges cached and fetched rows into one set covering from..to
func (r *Result) Assemble(from, to model.Period) *model.RowSet {
	return Assemble(r.Cached, r.FetchedRowSets(), from, to)
}

// Engine fetches partitions through a worker pool, consulting the cache first
type Engine struct {
	api          API
	store        cache.Store
	dataCleaner  *cleaner.DataCleaner
	errorHandler *ErrorHandler
	logger       *zap.Logger
}

// NewEngine creates a fetch engine. store may be nil, which disables caching.
func NewEngine(api API, store cache.Store, dataCleaner *cleaner.DataCleaner, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dataCleaner == nil {
		dataCleaner = cleaner.NewDataCleaner(logger)
	}
	return &Engine{
		api:          api,
		store:        store,
		dataCleaner:  dataCleaner,
		errorHandler: NewErrorHandler(logger),
		logger:       logger,
	}
}

// logFailures reports the attempts and sampled errors behind failed partitions
func (e *Engine) logFailures(failed []string) {
	if len(failed) == 0 {
		return
	}

	counts := e.errorHandler.GetPartitionErrorCounts()
	for _, id := range failed {
		e.logger.Warn("Partition failed",
			zap.String("partitionID", id),
			zap.Int("errors", counts[id]))
	}

	samples := e.errorHandler.GetErrorSamples()
	categories := make([]ErrorCategory, 0, len(samples))
	for category := range samples {
		categories = append(categories, category)
	}
	sort.Slice(categories, func(i, j int) bool { return categories[i] < categories[j] })

	for _, category := range categories {
		messages := make([]string, 0, len(samples[category]))
		for _, record := range samples[category] {
			messages = append(messages, record.String())
		}
		e.logger.Warn("Fetch error samples",
			zap.String("category", category.String()),
			zap.Strings("samples", messages))
	}
}

// Fetch returns the rows of every partition in ids.
//
// A partition that exhausts its retry budget is listed in Result.Failed and the
// run continues. A cache failure aborts the run with an error wrapping
// model.ErrStorage. Cancellation marks unfinished partitions as failed and
// returns the context error alongside the partial result.
func (e *Engine) Fetch(ctx context.Context, ids []string, template string, opts Options) (*Result, error) {
	// Step 1: Reject a bad template before any request is made
	if err := ValidateTemplate(template); err != nil {
		return nil, err
	}

	opts = normalizeOptions(opts)
	cacheEnabled := opts.CacheEnabled && e.store != nil
	ids = dedupe(ids)

	metrics := NewFetchMetrics(e.logger)
	result := &Result{
		Cached:  model.NewRowSet(),
		Fetched: make(map[string]*model.RowSet),
		Metrics: metrics,
	}

	// Step 2: Serve what the cache already holds
	pending := ids
	if cacheEnabled {
		var err error
		pending, err = e.readCached(ctx, ids, result)
		if err != nil {
			return nil, err
		}
	}

	e.logger.Info("Starting fetch",
		zap.Int("partitions", len(ids)),
		zap.Int("cached", len(result.CachedIDs)),
		zap.Int("toFetch", len(pending)),
		zap.Int("concurrency", opts.Concurrency))

	if len(pending) == 0 {
		metrics.Complete()
		return result, nil
	}

	// Step 3: Build one job per remaining partition
	jobs := make([]Job, 0, len(pending))
	for _, id := range pending {
		query, err := BuildQuery(template, id)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, NewJob(id, RequestURL(opts.BaseURL, id, query)).
			WithMaxAttempts(opts.MaxAttempts))
	}

	// Step 4: Run the worker pool
	storageErr := e.runJobs(ctx, jobs, opts, cacheEnabled, result)
	metrics.Complete()
	e.logFailures(result.Failed)

	if storageErr != nil {
		return result, storageErr
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

// readCached loads cached partitions into result and returns the ids still to fetch
func (e *Engine) readCached(ctx context.Context, ids []string, result *Result) ([]string, error) {
	stored, err := e.store.PartitionIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list cached partitions: %w", err)
	}
	known := make(map[string]struct{}, len(stored))
	for _, id := range stored {
		known[id] = struct{}{}
	}

	var pending []string
	for _, id := range ids {
		if _, ok := known[id]; ok {
			result.CachedIDs = append(result.CachedIDs, id)
		} else {
			pending = append(pending, id)
		}
	}

	if len(result.CachedIDs) > 0 {
		cached, err := e.store.Read(ctx, result.CachedIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to read cached partitions: %w", err)
		}
		result.Cached = cached
		e.logger.Info("Partitions served from cache",
			zap.Strings("partitionIDs", result.CachedIDs),
			zap.Int("rows", cached.Count()))
	}
	result.Metrics.RecordCached(result.CachedIDs, result.Cached.Count())

	return pending, nil
}

// runJobs fans jobs out to workers and collects every result
func (e *Engine) runJobs(ctx context.Context, jobs []Job, opts Options, cacheEnabled bool, result *Result) error {
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	jobQueue := make(chan Job, len(jobs))
	resultQueue := make(chan JobResult, len(jobs))

	var verifier *Verifier
	if cacheEnabled {
		verifier = NewVerifier(e.store, e.logger).WithSampling(opts.VerifySample)
	}

	workerCount := opts.Concurrency
	if workerCount > len(jobs) {
		workerCount = len(jobs)
	}

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		worker := NewWorker(i, e.api, e.store, e.dataCleaner, verifier, e.errorHandler, e.logger).
			WithBackoffBase(opts.BackoffBase).
			WithCache(cacheEnabled)

		wg.Add(1)
		go func(worker *Worker) {
			defer wg.Done()
			worker.Start(workerCtx, jobQueue, resultQueue)
		}(worker)
	}

	for _, job := range jobs {
		jobQueue <- job
	}
	close(jobQueue)

	go func() {
		wg.Wait()
		close(resultQueue)
	}()

	byPartition := make(map[string]JobResult, len(jobs))
	var storageErr error

	for res := range resultQueue {
		byPartition[res.PartitionID] = res
		result.Metrics.RecordJob(res)

		if res.StorageErr != nil && storageErr == nil {
			storageErr = res.StorageErr
			e.logger.Error("Cache write failed, aborting fetch",
				zap.String("partitionID", res.PartitionID),
				zap.Error(res.StorageErr))
			cancelWorkers()
		}
	}

	// Keep request order in the result regardless of completion order
	for _, job := range jobs {
		res, ok := byPartition[job.PartitionID]
		if !ok {
			e.logger.Warn("Partition not attempted",
				zap.String("partitionID", job.PartitionID))
			result.Failed = append(result.Failed, job.PartitionID)
			continue
		}

		result.Jobs = append(result.Jobs, res)
		if res.Success {
			result.FetchedIDs = append(result.FetchedIDs, job.PartitionID)
			result.Fetched[job.PartitionID] = res.Rows
		} else {
			result.Failed = append(result.Failed, job.PartitionID)
		}
	}

	return storageErr
}

func normalizeOptions(opts Options) Options {
	if opts.MaxAttempts < 0 {
		opts.MaxAttempts = 0
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = time.Second
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return opts
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
