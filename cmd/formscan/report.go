package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/greycellz/formscan/internal/domain"
	"github.com/greycellz/formscan/internal/runstore"
	"github.com/greycellz/formscan/internal/variance"
)

// newReportCmd creates the report subcommand.
func newReportCmd() *cobra.Command {
	var (
		document  string
		storeDir  string
		threshold float64
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Generate a stability report across saved runs",
		Long: `Report loads every saved run from the run store, filters to one
document, and computes per-field appearance stability across runs.

The report includes:
- Stability bucket breakdown (stable through very unstable)
- Per-field-type and per-page averages
- Conditional-field and content-block sub-analyses
- A ranked list of low-stability fields with the runs they appeared in
- Threshold-based recommendations`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			ui := NewUI(outputJSON)

			dir := cfg.Store.Dir
			if storeDir != "" {
				dir = storeDir
			}

			store := runstore.NewFileStore(dir, logger)
			runs, err := store.LoadAll(ctx)
			if err != nil {
				return fmt.Errorf("load runs: %w", err)
			}
			runs = filterRuns(runs, document)
			if len(runs) == 0 {
				return fmt.Errorf("no saved runs%s in %s; use \"formscan sample\" first",
					documentClause(document), dir)
			}

			opts := variance.Options{
				LowStabilityThreshold: cfg.Variance.LowStabilityThreshold,
				ReportLimit:           cfg.Variance.ReportLimit,
			}
			if threshold > 0 {
				opts.LowStabilityThreshold = threshold
			}
			if limit > 0 {
				opts.ReportLimit = limit
			}

			report, err := variance.AnalyzeVariance(runs, opts)
			if err != nil {
				return fmt.Errorf("analyze variance: %w", err)
			}

			if outputJSON {
				return printJSON(report)
			}
			printVarianceReport(ui, report, opts)
			return nil
		},
	}

	cmd.Flags().StringVar(&document, "document", "", "restrict the report to one document name")
	cmd.Flags().StringVar(&storeDir, "store", "", "run store directory (default: from config)")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "low-stability threshold percent (default: from config)")
	cmd.Flags().IntVar(&limit, "limit", 0, "max rows in the low-stability list (default: from config)")

	return cmd
}

func filterRuns(runs []domain.RunResult, document string) []domain.RunResult {
	if document == "" {
		return runs
	}
	var out []domain.RunResult
	for _, r := range runs {
		if r.DocumentName == document {
			out = append(out, r)
		}
	}
	return out
}

func documentClause(document string) string {
	if document == "" {
		return ""
	}
	return fmt.Sprintf(" for document %q", document)
}

func printVarianceReport(ui *UI, report *variance.VarianceReport, opts variance.Options) {
	ui.Header("\nStability report: %d unique field(s) across %d run(s)", report.TotalUniqueFields, report.RunCount)
	ui.Info("Average stability: %.1f%%", report.AverageStability)

	ui.Header("\nBuckets")
	for _, b := range []variance.StabilityBucket{
		variance.BucketStable,
		variance.BucketMostlyStable,
		variance.BucketSomewhatStable,
		variance.BucketUnstable,
		variance.BucketVeryUnstable,
	} {
		ui.Info("  %-16s %d", b, report.Buckets[b])
	}

	ui.Header("\nBy type")
	for _, ts := range report.ByType {
		ui.Info("  %-20s %d field(s), avg %.1f%%", ts.Type, ts.FieldCount, ts.AverageStability)
	}

	ui.Header("\nBy page")
	for _, ps := range report.ByPage {
		ui.Info("  page %-3d %d field(s), avg %.1f%%", ps.PageNumber, ps.FieldCount, ps.AverageStability)
	}

	if report.ConditionalFields.FieldCount > 0 {
		ui.Info("\nConditional fields: %d, avg %.1f%%",
			report.ConditionalFields.FieldCount, report.ConditionalFields.AverageStability)
	}
	if report.ContentBlocks.FieldCount > 0 {
		ui.Info("Content blocks: %d, avg %.1f%%",
			report.ContentBlocks.FieldCount, report.ContentBlocks.AverageStability)
	}

	if len(report.LowStability) > 0 {
		ui.Header("\nFields below %.0f%% stability", opts.LowStabilityThreshold)
		for _, f := range report.LowStability {
			ui.Warning("  %5.1f%% %q (%s, page %d) seen in runs %v",
				f.Stability, f.Preview, f.Type, f.PageNumber, f.RunIndices)
		}
	}

	ui.Header("\nRecommendations")
	for _, rec := range report.Recommendations {
		ui.Info("  - %s", rec)
	}
}
