package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/David-Botos/epd-ingress/pkg/cache"
	"github.com/David-Botos/epd-ingress/pkg/fetch"
	"github.com/David-Botos/epd-ingress/pkg/model"
	"github.com/David-Botos/epd-ingress/pkg/pipeline"
	"github.com/David-Botos/epd-ingress/pkg/warehouse"
)

var (
	runMode         string
	seedBefore      string
	consolidateYear int
)

// runCmd runs the monthly pipeline
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Fetch the latest month, diff it against history and write reports",
	Long: `Resolves the catalog, fetches every partition not already cached,
diffs the latest month against all earlier months and writes the monthly
report, the measures test report and both index pages.

In auto mode the run stops early when a report for the latest month exists.`,
	RunE: runPipeline,
}

// seedCmd backfills the cache from the warehouse
var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Backfill the synthetic pre-cutoff partition from the warehouse",
	Long: `Reads the distinct historical rows before --before from Snowflake and
stores them in the cache as EPD_pre_<year>. Runs without a configured
cutoff year read it from this partition.

Example:
  epd-ingress seed --before 201501`,
	RunE: runSeed,
}

// consolidateCmd folds old partitions into the synthetic bucket
var consolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Fold cached partitions older than --year into EPD_pre_<year>",
	RunE:  runConsolidate,
}

func init() {
	runCmd.Flags().StringVar(&runMode, "mode", string(pipeline.ModeAuto), "Run mode: auto or force")
	seedCmd.Flags().StringVar(&seedBefore, "before", "", "Cutoff month as YYYYMM (required)")
	_ = seedCmd.MarkFlagRequired("before")
	consolidateCmd.Flags().IntVar(&consolidateYear, "year", 0, "Cutoff year (required)")
	_ = consolidateCmd.MarkFlagRequired("year")
}

func runPipeline(cmd *cobra.Command, args []string) error {
	mode, err := pipeline.ParseMode(runMode)
	if err != nil {
		return err
	}

	ctx, cancel := commandContext()
	defer cancel()

	runner, err := pipeline.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer runner.Close()

	out, err := runner.Run(ctx, mode)
	if err != nil {
		return err
	}

	printOutcome(cmd.OutOrStdout(), out, verbose)
	return nil
}

// printOutcome writes the run summary, with fetch metrics when verbose
func printOutcome(w io.Writer, out *pipeline.Outcome, verbose bool) {
	if out.Skipped {
		fmt.Fprintf(w, "Report for %s already exists, nothing to do\n", out.LatestLabel)
		return
	}
	fmt.Fprintf(w, "Latest month:       %s (history from %s)\n", out.LatestLabel, out.FromLabel)
	fmt.Fprintf(w, "New codes:          %d\n", out.NewCodes)
	fmt.Fprintf(w, "New descriptions:   %d\n", out.NewDescriptions)
	fmt.Fprintf(w, "New chemicals:      %d\n", out.NewChemSubs)
	fmt.Fprintf(w, "Measures triggered: %d\n", out.MeasuresTriggered)
	if len(out.FailedPartitions) > 0 {
		fmt.Fprintf(w, "Failed partitions:  %v\n", out.FailedPartitions)
	}
	for _, f := range out.Files {
		fmt.Fprintf(w, "Wrote %s\n", f)
	}

	if !verbose {
		return
	}
	for _, side := range []struct {
		name    string
		metrics *fetch.FetchMetrics
	}{
		{"Existing months", out.ExistingMetrics},
		{"Latest month", out.LatestMetrics},
	} {
		if side.metrics == nil {
			continue
		}
		fmt.Fprintf(w, "\n%s\n%s", side.name, side.metrics.GenerateMetricsReport())
	}
	for category, count := range out.Errors {
		fmt.Fprintf(w, "Fetch errors (%s): %d\n", category, count)
	}
}

func runSeed(cmd *cobra.Command, args []string) error {
	before, err := model.ParsePeriod(seedBefore)
	if err != nil {
		return err
	}

	ctx, cancel := commandContext()
	defer cancel()

	store, err := cache.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	client, err := warehouse.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	stats, err := client.Seed(ctx, store, before)
	if err != nil {
		return err
	}

	if stats.Skipped {
		fmt.Fprintf(cmd.OutOrStdout(), "%s already seeded\n", stats.PartitionID)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Seeded %s with %d rows in %s\n",
		stats.PartitionID, stats.RowsStored, stats.Duration.Round(time.Millisecond))
	return nil
}

func runConsolidate(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	store, err := cache.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	stats, err := store.Consolidate(ctx, consolidateYear)
	if err != nil {
		return err
	}

	logger.Info("Consolidation finished",
		zap.String("bucket", stats.Bucket),
		zap.Int("partitions", len(stats.Partitions)),
		zap.Int64("duplicatesRemoved", stats.DuplicatesRemoved))
	fmt.Fprintf(cmd.OutOrStdout(), "Folded %d partitions into %s: %d rows before, %d after\n",
		len(stats.Partitions), stats.Bucket, stats.RowsBefore, stats.RowsAfter)
	return nil
}
