// Package extract orchestrates per-batch extraction and assembles full
// pipeline runs.
package extract

import (
	"context"
	"sync"
	"time"

	"github.com/greycellz/formscan/internal/domain"
	"github.com/greycellz/formscan/internal/observability"
)

// DefaultMaxWorkers bounds concurrent upstream calls. Chosen to sit
// under typical upstream rate limits.
const DefaultMaxWorkers = 5

// Adapter dispatches batches to the external extraction capability with
// bounded concurrency and re-tags batch-local page numbers to global
// document coordinates.
type Adapter struct {
	extractor  domain.FieldExtractor
	maxWorkers int
	logger     *observability.Logger

	// OnBatchDone, when set, is invoked once per completed batch (in
	// completion order, serialized). Used by the CLI for progress.
	OnBatchDone func(domain.BatchResult)
}

// NewAdapter creates a new adapter. maxWorkers <= 0 selects the default.
func NewAdapter(extractor domain.FieldExtractor, maxWorkers int, logger *observability.Logger) *Adapter {
	if maxWorkers <= 0 {
		maxWorkers = DefaultMaxWorkers
	}
	if logger == nil {
		logger = observability.Nop()
	}
	return &Adapter{
		extractor:  extractor,
		maxWorkers: maxWorkers,
		logger:     logger.WithComponent("extract"),
	}
}

// ExtractBatches runs every batch through the upstream extractor using
// a fixed-size worker pool and returns results in batch-index order
// regardless of completion order. A failed batch becomes a flagged
// BatchResult; only cancellation aborts the whole call, in which case
// partial results are discarded.
func (a *Adapter) ExtractBatches(ctx context.Context, batches []domain.Batch) ([]domain.BatchResult, error) {
	if len(batches) == 0 {
		return []domain.BatchResult{}, nil
	}

	workChan := make(chan domain.Batch, len(batches))
	results := make([]domain.BatchResult, len(batches))
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, b := range batches {
		workChan <- b
	}
	close(workChan)

	workers := a.maxWorkers
	if workers > len(batches) {
		workers = len(batches)
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for b := range workChan {
				if ctx.Err() != nil {
					return
				}
				res := a.extractBatch(ctx, b)

				mu.Lock()
				results[b.Index] = res
				if a.OnBatchDone != nil {
					a.OnBatchDone(res)
				}
				mu.Unlock()
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		// In-flight calls are abandoned best-effort; no partial result
		// set is returned.
		return nil, ctx.Err()
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	return results, nil
}

// extractBatch calls the upstream once for a single batch and re-tags
// page numbers from batch-local to global.
func (a *Adapter) extractBatch(ctx context.Context, b domain.Batch) domain.BatchResult {
	result := domain.BatchResult{
		BatchIndex: b.Index,
		StartPage:  b.StartPage,
		EndPage:    b.EndPage,
	}

	// The upstream only knows batch-local indices: hand it pages
	// renumbered 1..n.
	local := make([]domain.PageImage, len(b.Pages))
	for i, p := range b.Pages {
		p.PageNumber = i + 1
		local[i] = p
	}

	a.logger.Debug().
		Int("batch", b.Index).
		Int("start_page", b.StartPage).
		Int("end_page", b.EndPage).
		Msg("Dispatching batch")

	start := time.Now()
	out, err := a.extractor.Extract(ctx, local)
	result.TimeMs = time.Since(start).Milliseconds()

	if err != nil {
		a.logger.Error().
			Int("batch", b.Index).
			Err(err).
			Msg("Batch extraction failed")
		result.Error = err.Error()
		return result
	}

	if out.TimeMs > 0 {
		result.TimeMs = out.TimeMs
	}
	result.Tokens = out.Tokens

	if !out.Success {
		a.logger.Error().
			Int("batch", b.Index).
			Str("error", out.Error).
			Msg("Batch extraction unsuccessful")
		result.Error = out.Error
		if result.Error == "" {
			result.Error = "extraction unsuccessful"
		}
		return result
	}

	result.Success = true
	result.Fields = retagPages(out.Fields, b)

	a.logger.Debug().
		Int("batch", b.Index).
		Int("fields", len(result.Fields)).
		Int64("time_ms", result.TimeMs).
		Msg("Batch extraction complete")

	return result
}

// retagPages converts batch-local page numbers (1-based within the
// batch) to global document page numbers. Out-of-range local values
// clamp to the batch boundaries.
func retagPages(fields []domain.FieldDescriptor, b domain.Batch) []domain.FieldDescriptor {
	out := make([]domain.FieldDescriptor, len(fields))
	for i, f := range fields {
		local := f.PageNumber
		if local < 1 {
			local = 1
		}
		if local > b.PageCount() {
			local = b.PageCount()
		}
		f.PageNumber = b.StartPage + local - 1
		out[i] = f
	}
	return out
}
