package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/greycellz/formscan/internal/domain"
	"github.com/greycellz/formscan/internal/runstore"
)

// newSampleCmd creates the sample subcommand.
func newSampleCmd() *cobra.Command {
	var (
		pagesDir  string
		docName   string
		batchSize string
		runs      int
	)

	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Run the same extraction repeatedly and persist every run",
		Long: `Sample executes the full extraction pipeline N times over the same
page directory and configuration, saving each run to the run store.
The model's output varies between calls; repeated sampling is what
makes that variance measurable.

Use "formscan report" afterwards to analyze the saved runs.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if runs < 1 {
				return fmt.Errorf("--runs must be at least 1")
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			ui := NewUI(outputJSON)

			doc, err := loadDocument(ctx, pagesDir, docName)
			if err != nil {
				return err
			}

			opts := runOptions(batchSize, false)
			runner := newRunner()
			store := runstore.NewFileStore(cfg.Store.Dir, logger)

			totalBatches := batchCount(doc.TotalPages, opts) * runs
			bar := ui.NewProgressBar(int64(totalBatches), fmt.Sprintf("Sampling %d run(s)", runs))
			runner.OnBatchDone(func(domain.BatchResult) { bar.Add(1) })

			var failed int
			for i := 0; i < runs; i++ {
				runCtx, cancelRun := context.WithTimeout(ctx, cfg.Extraction.RunTimeout)
				run, err := runner.Run(runCtx, doc, opts)
				cancelRun()
				if err != nil {
					bar.Finish()
					return fmt.Errorf("run %d of %d: %w", i+1, runs, err)
				}
				if !run.Success {
					failed++
				}
				if err := store.Save(ctx, run); err != nil {
					bar.Finish()
					return fmt.Errorf("save run %d of %d: %w", i+1, runs, err)
				}
			}
			bar.Finish()

			if failed > 0 {
				ui.Warning("%d of %d run(s) completed with failed batches", failed, runs)
			}
			ui.Success("Saved %d run(s) of %q to %s", runs, doc.Name, cfg.Store.Dir)
			ui.Info("Next: formscan report --document %q", doc.Name)
			return nil
		},
	}

	cmd.Flags().StringVar(&pagesDir, "pages", "", "directory of page images (required)")
	cmd.Flags().StringVar(&docName, "name", "", "document name (default: pages directory name)")
	cmd.Flags().StringVar(&batchSize, "batch-size", "", "pages per batch (default: from config)")
	cmd.Flags().IntVar(&runs, "runs", 5, "number of runs to sample")

	_ = cmd.MarkFlagRequired("pages")

	return cmd
}
