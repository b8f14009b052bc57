package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/greycellz/formscan/internal/batch"
	"github.com/greycellz/formscan/internal/domain"
	"github.com/greycellz/formscan/internal/extract"
	"github.com/greycellz/formscan/internal/llm"
	"github.com/greycellz/formscan/internal/pages"
	"github.com/greycellz/formscan/internal/runstore"
)

// newRunCmd creates the run subcommand.
func newRunCmd() *cobra.Command {
	var (
		pagesDir   string
		docName    string
		batchSize  string
		noBatching bool
		save       bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one extraction over a directory of page images",
		Long: `Run loads the page images under --pages (one image per page, ordered
by filename), partitions them into batches, extracts form fields from
each batch via the configured model, and merges the batches into one
deduplicated field list.

With --save the run result is persisted to the run store so it can
feed the stability report.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			ctx, cancelTimeout := context.WithTimeout(ctx, cfg.Extraction.RunTimeout)
			defer cancelTimeout()

			ui := NewUI(outputJSON)

			doc, err := loadDocument(ctx, pagesDir, docName)
			if err != nil {
				return err
			}
			ui.Info("Loaded %d page(s) from %s", doc.TotalPages, pagesDir)

			opts := runOptions(batchSize, noBatching)
			runner := newRunner()

			bar := ui.NewProgressBar(int64(batchCount(doc.TotalPages, opts)), "Extracting")
			runner.OnBatchDone(func(domain.BatchResult) { bar.Add(1) })

			run, err := runner.Run(ctx, doc, opts)
			if err != nil {
				bar.Finish()
				return fmt.Errorf("run extraction: %w", err)
			}
			bar.Finish()

			if save {
				store := runstore.NewFileStore(cfg.Store.Dir, logger)
				if err := store.Save(ctx, run); err != nil {
					return fmt.Errorf("save run: %w", err)
				}
				ui.Success("Run %s saved to %s", run.RunID, cfg.Store.Dir)
			}

			if outputJSON {
				return printJSON(run)
			}
			printRunSummary(ui, run)
			return nil
		},
	}

	cmd.Flags().StringVar(&pagesDir, "pages", "", "directory of page images (required)")
	cmd.Flags().StringVar(&docName, "name", "", "document name (default: pages directory name)")
	cmd.Flags().StringVar(&batchSize, "batch-size", "", "pages per batch (default: from config)")
	cmd.Flags().BoolVar(&noBatching, "no-batching", false, "process the whole document as one batch")
	cmd.Flags().BoolVar(&save, "save", false, "persist the run result to the run store")

	_ = cmd.MarkFlagRequired("pages")

	return cmd
}

// loadDocument builds a Document from a page-image directory.
func loadDocument(ctx context.Context, pagesDir, name string) (domain.Document, error) {
	if name == "" {
		name = filepath.Base(filepath.Clean(pagesDir))
	}

	images, err := pages.NewDirSource(logger).Pages(ctx, pagesDir)
	if err != nil {
		return domain.Document{}, fmt.Errorf("load pages: %w", err)
	}

	return domain.Document{
		ID:         uuid.New(),
		Name:       name,
		Pages:      images,
		TotalPages: len(images),
	}, nil
}

// newRunner wires the extraction pipeline from the loaded config.
func newRunner() *extract.Runner {
	client := llm.NewClient(cfg.LLM, logger)
	return extract.NewRunner(client, cfg.Extraction.MaxWorkers, logger)
}

func runOptions(batchSize string, noBatching bool) extract.RunOptions {
	opts := extract.RunOptions{
		BatchingEnabled: cfg.Extraction.BatchingEnabled && !noBatching,
		BatchSize:       cfg.Extraction.BatchSize,
	}
	if batchSize != "" {
		opts.BatchSize = batchSize
	}
	return opts
}

func batchCount(totalPages int, opts extract.RunOptions) int {
	if !opts.BatchingEnabled {
		return 1
	}
	size := batch.EffectiveSize(opts.BatchSize, totalPages)
	return (totalPages + size - 1) / size
}

func printRunSummary(ui *UI, run *domain.RunResult) {
	ui.Header("\nRun %s (%s)", run.RunID, run.DocumentName)

	if run.Success {
		ui.Success("All %d batch(es) extracted in %dms", len(run.Batches), run.DurationMs)
	} else {
		ui.Warning("%d of %d batch(es) failed: %v", len(run.FailedBatches), len(run.Batches), run.FailedBatches)
	}

	stats := run.Merged.Stats
	ui.Info("Fields: %d merged from %d extracted (%d duplicate(s) removed)",
		stats.TotalAfterMerge, stats.TotalBeforeMerge, stats.DuplicatesRemoved)

	for _, b := range run.Batches {
		status := "ok"
		if !b.Success {
			status = "FAILED: " + b.Error
		}
		ui.Info("  batch %d [pages %d-%d] %d field(s) %dms %s",
			b.BatchIndex, b.StartPage, b.EndPage, b.FieldCount, b.TimeMs, status)
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
