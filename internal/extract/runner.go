package extract

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/greycellz/formscan/internal/batch"
	"github.com/greycellz/formscan/internal/domain"
	"github.com/greycellz/formscan/internal/merge"
	"github.com/greycellz/formscan/internal/observability"
)

// RunOptions configures a single extraction run.
type RunOptions struct {
	BatchingEnabled bool
	BatchSize       string
}

// Runner is the pipeline entry point: plan batches, dispatch them to
// the upstream extractor, merge the results into one RunResult.
type Runner struct {
	adapter *Adapter
	merger  *merge.Merger
	logger  *observability.Logger
}

// NewRunner creates a runner around the given extractor. maxWorkers <= 0
// selects the adapter default.
func NewRunner(extractor domain.FieldExtractor, maxWorkers int, logger *observability.Logger) *Runner {
	if logger == nil {
		logger = observability.Nop()
	}
	return &Runner{
		adapter: NewAdapter(extractor, maxWorkers, logger),
		merger:  merge.NewMerger(logger),
		logger:  logger.WithComponent("run"),
	}
}

// OnBatchDone registers a per-batch completion callback on the
// underlying adapter. Must be set before Run.
func (r *Runner) OnBatchDone(fn func(domain.BatchResult)) {
	r.adapter.OnBatchDone = fn
}

// Run executes one full extraction over the document. A run either
// yields a complete merged result (possibly flagged with per-batch
// failures) or a run-level error; it never returns a partially merged
// result.
func (r *Runner) Run(ctx context.Context, doc domain.Document, opts RunOptions) (*domain.RunResult, error) {
	startedAt := time.Now()

	batches, err := batch.Plan(doc, opts.BatchingEnabled, opts.BatchSize)
	if err != nil {
		return nil, err
	}

	r.logger.Info().
		Str("document", doc.Name).
		Int("total_pages", doc.TotalPages).
		Int("batches", len(batches)).
		Bool("batching", opts.BatchingEnabled).
		Msg("Starting extraction run")

	results, err := r.adapter.ExtractBatches(ctx, batches)
	if err != nil {
		return nil, err
	}

	merged := r.merger.Merge(results)

	run := &domain.RunResult{
		RunID:        uuid.New(),
		DocumentID:   doc.ID,
		DocumentName: doc.Name,
		Config: domain.RunConfig{
			BatchingEnabled: opts.BatchingEnabled,
			BatchSize:       opts.BatchSize,
		},
		StartedAt:  startedAt,
		DurationMs: time.Since(startedAt).Milliseconds(),
		Success:    true,
		Batches:    make([]domain.BatchMeta, len(results)),
		Merged:     *merged,
	}

	for i, br := range results {
		run.Batches[i] = domain.BatchMeta{
			BatchIndex: br.BatchIndex,
			StartPage:  br.StartPage,
			EndPage:    br.EndPage,
			FieldCount: len(br.Fields),
			Success:    br.Success,
			Error:      br.Error,
			TimeMs:     br.TimeMs,
			Tokens:     br.Tokens,
		}
		if !br.Success {
			run.Success = false
			run.FailedBatches = append(run.FailedBatches, br.BatchIndex)
		}
	}

	r.logger.Info().
		Str("run_id", run.RunID.String()).
		Bool("success", run.Success).
		Ints("failed_batches", run.FailedBatches).
		Int("fields", len(run.Merged.Fields)).
		Int("duplicates_removed", run.Merged.Stats.DuplicatesRemoved).
		Int64("duration_ms", run.DurationMs).
		Msg("Extraction run complete")

	return run, nil
}
