// pkg/pipeline/pipeline.go
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/David-Botos/epd-ingress/pkg/cache"
	"github.com/David-Botos/epd-ingress/pkg/catalog"
	"github.com/David-Botos/epd-ingress/pkg/config"
	"github.com/David-Botos/epd-ingress/pkg/fetch"
	"github.com/David-Botos/epd-ingress/pkg/measures"
	"github.com/David-Botos/epd-ingress/pkg/model"
	"github.com/David-Botos/epd-ingress/pkg/novelty"
	"github.com/David-Botos/epd-ingress/pkg/publish"
	"github.com/David-Botos/epd-ingress/pkg/report"
)

// Mode selects whether an up-to-date report short-circuits the run
type Mode string

const (
	ModeAuto  Mode = "auto"  // Skip when the latest month already has a report
	ModeForce Mode = "force" // Always rebuild
)

// ParseMode validates a mode name
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeAuto, ModeForce:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("%w: mode must be 'auto' or 'force', got %q", model.ErrConfiguration, s)
	}
}

// Dependencies are the components a Runner drives
type Dependencies struct {
	Store     cache.Store
	Catalog   catalog.Source
	Engine    *fetch.Engine
	Reports   *report.Writer
	Measures  measures.Source
	Publisher publish.Publisher
}

// Runner executes one monthly fetch, diff and report cycle
type Runner struct {
	cfg     *config.Config
	deps    Dependencies
	log     *zap.Logger
	closers []func() error
}

// Outcome summarizes a pipeline run
type Outcome struct {
	RunID   string
	Skipped bool

	LatestLabel string
	FromLabel   string // First month of the existing data
	CutoffYear  int

	ExistingRows int
	LatestRows   int

	NewCodes        int
	NewDescriptions int
	NewChemSubs     int
	NewDescOnly     int

	MeasuresTriggered int
	MeasuresPassed    int

	FailedPartitions []string
	Files            []string
	Duration         time.Duration

	ExistingMetrics *fetch.FetchMetrics
	LatestMetrics   *fetch.FetchMetrics
	Errors          map[fetch.ErrorCategory]int // Fetch errors of this run by category, retried ones included
}

// NewRunner creates a pipeline runner
func NewRunner(cfg *config.Config, deps Dependencies, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{cfg: cfg, deps: deps, log: logger.Named("pipeline")}
}

// Run builds the monthly and test reports for the latest published month
func (r *Runner) Run(ctx context.Context, mode Mode) (*Outcome, error) {
	start := time.Now()
	out := &Outcome{RunID: uuid.NewString()}
	logger := r.log.With(zap.String("runID", out.RunID), zap.String("mode", string(mode)))

	// Step 1: Establish the cutoff year
	cutoff, err := r.cutoffYear(ctx)
	if err != nil {
		return nil, err
	}
	out.CutoffYear = cutoff

	resolver, err := catalog.NewResolver(r.deps.Catalog, cutoff, logger)
	if err != nil {
		return nil, err
	}

	// Step 2: Resolve the latest month and everything before it
	dataset := r.cfg.Dataset.ID
	latest, err := resolver.Resolve(ctx, dataset, catalog.ExprLatest, catalog.ExprLatest)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve latest partition: %w", err)
	}
	out.LatestLabel = latest.To.Label()

	// Step 3: Stop early when the report already exists
	if mode == ModeAuto {
		existingLabel, err := report.LatestReportLabel(r.deps.Reports.Dir())
		if err != nil {
			return nil, err
		}
		if existingLabel == out.LatestLabel {
			logger.Info("Report for latest month already exists, nothing to do",
				zap.String("latest", out.LatestLabel))
			out.Skipped = true
			out.Duration = time.Since(start)
			return out, nil
		}
	}

	existing, err := resolver.Resolve(ctx, dataset, catalog.ExprEarliest, "latest-1")
	if err != nil {
		return nil, fmt.Errorf("failed to resolve existing partitions: %w", err)
	}
	out.FromLabel = existing.From.Label()

	if err := r.requireSeeded(ctx, existing.IDs); err != nil {
		return nil, err
	}

	// Step 4: Fetch and assemble both sides
	existingSet, existingResult, err := r.fetchRange(ctx, logger, existing)
	if err != nil {
		return nil, err
	}
	out.ExistingMetrics = existingResult.Metrics
	out.FailedPartitions = append(out.FailedPartitions, existingResult.Failed...)

	latestSet, latestResult, err := r.fetchRange(ctx, logger, latest)
	if err != nil {
		return nil, err
	}
	out.LatestMetrics = latestResult.Metrics
	out.FailedPartitions = append(out.FailedPartitions, latestResult.Failed...)
	out.Errors = mergeErrorCounts(existingResult.Metrics, latestResult.Metrics)

	out.ExistingRows = existingSet.Count()
	out.LatestRows = latestSet.Count()
	logger.Info("Assembled data",
		zap.String("existingFrom", existingSet.FromLabel()),
		zap.String("existingTo", existingSet.ToLabel()),
		zap.Int("existingRows", out.ExistingRows),
		zap.String("latest", latestSet.ToLabel()),
		zap.Int("latestRows", out.LatestRows))

	// Step 5: Diff
	rules := novelty.ParseRules(r.cfg.ExcludeChapters)
	diff := novelty.Diff(existingSet, latestSet, rules)
	out.NewCodes = len(diff.NewCodes)
	out.NewDescriptions = len(diff.NewDescriptions)
	out.NewChemSubs = len(diff.NewChemSubs)
	out.NewDescOnly = len(diff.NewDescOnly)

	// Step 6: Monthly report
	monthly, err := r.deps.Reports.WriteMonthly(latest.To, existing.From, diff, rules.List())
	if err != nil {
		return nil, err
	}
	out.Files = append(out.Files, monthly)

	// Step 7: Measure regression tests over the new codes
	defs, err := measures.Load(ctx, r.deps.Measures, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load measure definitions: %w", err)
	}
	results, err := measures.Run(diff.NewCodes, defs)
	if err != nil {
		return nil, fmt.Errorf("failed to run measures: %w", err)
	}
	out.MeasuresTriggered = len(results.Triggered)
	out.MeasuresPassed = len(results.Passed)

	testReport, err := r.deps.Reports.WriteTestReport(latest.To, existing.From, results)
	if err != nil {
		return nil, err
	}
	out.Files = append(out.Files, testReport)

	// Step 8: Indexes
	indexes, err := r.deps.Reports.WriteIndexes()
	if err != nil {
		return nil, err
	}
	out.Files = append(out.Files, indexes...)

	// Step 9: Publish
	if r.deps.Publisher != nil {
		if err := r.deps.Publisher.Publish(ctx, out.Files); err != nil {
			return nil, err
		}
	}

	out.Duration = time.Since(start)
	logger.Info("Pipeline complete",
		zap.String("latest", out.LatestLabel),
		zap.Int("newCodes", out.NewCodes),
		zap.Int("newDescriptions", out.NewDescriptions),
		zap.Int("newChemSubs", out.NewChemSubs),
		zap.Int("measuresTriggered", out.MeasuresTriggered),
		zap.Strings("failedPartitions", out.FailedPartitions),
		zap.Duration("duration", out.Duration))
	return out, nil
}

// cutoffYear prefers configuration and falls back to the cached bucket
func (r *Runner) cutoffYear(ctx context.Context) (int, error) {
	if r.cfg.CutoffYear > 0 {
		return r.cfg.CutoffYear, nil
	}
	if r.deps.Store == nil {
		return 0, fmt.Errorf("%w: no cutoff year configured and no cache available; set EPD_CUTOFF_YEAR",
			model.ErrConfiguration)
	}

	year, err := r.deps.Store.SyntheticCutoffYear(ctx)
	if err != nil {
		if errors.Is(err, model.ErrConfiguration) {
			return 0, fmt.Errorf("%w: no cutoff year configured and the cache holds no synthetic partition; run 'seed' first",
				model.ErrConfiguration)
		}
		return 0, err
	}
	return year, nil
}

// requireSeeded fails when a synthetic bucket is needed but cannot be served.
// The bucket only exists in the cache, never in the remote catalog.
func (r *Runner) requireSeeded(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if !model.IsSynthetic(id) {
			continue
		}
		if r.deps.Store == nil || !r.cfg.Fetch.CacheEnabled {
			return fmt.Errorf("%w: %s is only available from the cache, enable caching", model.ErrConfiguration, id)
		}
		ok, err := r.deps.Store.Has(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s has not been seeded; run 'seed' first", model.ErrConfiguration, id)
		}
	}
	return nil
}

// mergeErrorCounts adds up the per-category error counts of finished fetches
func mergeErrorCounts(metrics ...*fetch.FetchMetrics) map[fetch.ErrorCategory]int {
	counts := make(map[fetch.ErrorCategory]int)
	for _, m := range metrics {
		for category, n := range m.ErrorCounts {
			counts[category] += n
		}
	}
	return counts
}

// fetchRange fetches and assembles one resolved range. An empty result is an error.
func (r *Runner) fetchRange(ctx context.Context, logger *zap.Logger, res *catalog.Resolution) (*model.RowSet, *fetch.Result, error) {
	opts := fetch.Options{
		BaseURL:      r.cfg.API.BaseURL,
		MaxAttempts:  r.cfg.Fetch.MaxAttempts,
		BackoffBase:  r.cfg.Fetch.BackoffBase,
		Concurrency:  r.cfg.Fetch.Concurrency,
		CacheEnabled: r.cfg.Fetch.CacheEnabled,
		VerifySample: r.cfg.Fetch.VerifySample,
	}

	result, err := r.deps.Engine.Fetch(ctx, res.IDs, r.cfg.Dataset.QueryTemplate, opts)
	if err != nil {
		return nil, nil, err
	}

	if data, err := result.Metrics.ToJSON(); err == nil {
		logger.Debug("Fetch metrics",
			zap.String("range", res.From.Label()+".."+res.To.Label()),
			zap.ByteString("metrics", data))
	}

	set := result.Assemble(res.From, res.To)
	if set.Count() == 0 {
		return nil, nil, fmt.Errorf("%w: no rows for %s..%s", model.ErrEmptyResult, res.From.Label(), res.To.Label())
	}
	return set, result, nil
}
