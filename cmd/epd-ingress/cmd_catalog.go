package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/David-Botos/epd-ingress/pkg/cache"
	"github.com/David-Botos/epd-ingress/pkg/catalog"
	"github.com/David-Botos/epd-ingress/pkg/report"
)

var (
	resolveDataset string
	resolveFrom    string
	resolveTo      string
	resolveCutoff  int

	rewriteDir string
	rewriteOld string
	rewriteNew string
)

// datasetsCmd lists catalog datasets
var datasetsCmd = &cobra.Command{
	Use:   "datasets",
	Short: "List datasets published by the open data API",
	RunE:  runDatasets,
}

// resolveCmd prints the partitions a date range selects
var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve a date range to partition identifiers",
	Long: `Resolves --from and --to against the catalog. Each bound is a literal
YYYYMM, "earliest", "latest", "earliest+N" or "latest-N".

Example:
  epd-ingress resolve --from latest-12 --to latest`,
	RunE: runResolve,
}

// rewriteLinksCmd rewrites the preview base URL in written reports
var rewriteLinksCmd = &cobra.Command{
	Use:   "rewrite-links",
	Short: "Replace the report link base URL in every report file",
	RunE:  runRewriteLinks,
}

func init() {
	resolveCmd.Flags().StringVar(&resolveDataset, "dataset", "", "Dataset ID (default from config)")
	resolveCmd.Flags().StringVar(&resolveFrom, "from", catalog.ExprEarliest, "Lower bound expression")
	resolveCmd.Flags().StringVar(&resolveTo, "to", catalog.ExprLatest, "Upper bound expression")
	resolveCmd.Flags().IntVar(&resolveCutoff, "cutoff", 0, "Cutoff year (default from config or cache)")

	rewriteLinksCmd.Flags().StringVar(&rewriteDir, "dir", "", "Reports directory (default from config)")
	rewriteLinksCmd.Flags().StringVar(&rewriteOld, "old", "", "Base URL to replace (required)")
	rewriteLinksCmd.Flags().StringVar(&rewriteNew, "new", "", "Replacement base URL")
	_ = rewriteLinksCmd.MarkFlagRequired("old")
}

func runDatasets(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	datasets, err := catalog.NewClient(cfg.API.BaseURL, cfg.API.Timeout, logger).Datasets(ctx)
	if err != nil {
		return err
	}
	for _, d := range datasets {
		fmt.Fprintln(cmd.OutOrStdout(), d)
	}
	return nil
}

func runResolve(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	dataset := resolveDataset
	if dataset == "" {
		dataset = cfg.Dataset.ID
	}

	cutoff := resolveCutoff
	if cutoff == 0 {
		cutoff = cfg.CutoffYear
	}
	if cutoff == 0 {
		store, err := cache.Open(ctx, cfg, logger)
		if err != nil {
			return err
		}
		cutoff, err = store.SyntheticCutoffYear(ctx)
		store.Close()
		if err != nil {
			return err
		}
	}

	resolver, err := catalog.NewResolver(catalog.NewClient(cfg.API.BaseURL, cfg.API.Timeout, logger), cutoff, logger)
	if err != nil {
		return err
	}

	res, err := resolver.Resolve(ctx, dataset, resolveFrom, resolveTo)
	if err != nil {
		return err
	}

	labels := make([]string, 0, len(res.Periods))
	for _, p := range res.Periods {
		labels = append(labels, p.Label())
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Range:   %s to %s (cutoff %d)\n", res.From.Label(), res.To.Label(), res.CutoffYear)
	fmt.Fprintf(w, "Periods: %s\n", strings.Join(labels, ", "))
	for _, id := range res.IDs {
		fmt.Fprintln(w, id)
	}
	return nil
}

func runRewriteLinks(cmd *cobra.Command, args []string) error {
	dir := rewriteDir
	if dir == "" {
		dir = cfg.Report.Dir
	}

	changed, err := report.RewriteBaseURL(dir, rewriteOld, rewriteNew)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Updated %d files in %s\n", changed, dir)
	return nil
}
