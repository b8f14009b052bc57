// Package merge collapses per-batch field lists into one deduplicated,
// order-preserving result.
package merge

import (
	"sort"

	"github.com/greycellz/formscan/internal/domain"
	"github.com/greycellz/formscan/internal/observability"
)

// Merger concatenates and deduplicates per-batch field lists for a
// single run. Merging is idempotent: duplicate signatures always
// collapse to one representative no matter how often they appear.
type Merger struct {
	logger *observability.Logger
}

// NewMerger creates a new merger. A nil logger disables logging.
func NewMerger(logger *observability.Logger) *Merger {
	if logger == nil {
		logger = observability.Nop()
	}
	return &Merger{logger: logger.WithComponent("merge")}
}

// Merge produces one MergedExtractionResult from the given batch
// results. Input is processed in batch-index order, then within-batch
// order; the first descriptor seen for a signature becomes the
// canonical representative.
//
// Duplicate resolution is per-axis: the representative keeps its label
// and page number, confidence takes the maximum across duplicates, and
// the longer options list wins with ties broken by first occurrence.
func (m *Merger) Merge(results []domain.BatchResult) *domain.MergedExtractionResult {
	ordered := make([]domain.BatchResult, len(results))
	copy(ordered, results)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].BatchIndex < ordered[j].BatchIndex
	})

	maxIndex := -1
	for _, br := range ordered {
		if br.BatchIndex > maxIndex {
			maxIndex = br.BatchIndex
		}
	}
	perBatch := make([]int, maxIndex+1)

	var (
		merged     []domain.FieldDescriptor
		bySig      = make(map[string]int) // signature -> index into merged
		before     int
		duplicates int
	)

	for _, br := range ordered {
		perBatch[br.BatchIndex] = len(br.Fields)
		before += len(br.Fields)

		for _, f := range br.Fields {
			sig := domain.Signature(f)
			idx, seen := bySig[sig]
			if !seen {
				bySig[sig] = len(merged)
				merged = append(merged, f)
				continue
			}

			duplicates++
			m.resolveDuplicate(&merged[idx], f, sig)
		}
	}

	return &domain.MergedExtractionResult{
		Fields: merged,
		Stats: domain.MergeStats{
			TotalBeforeMerge:  before,
			TotalAfterMerge:   len(merged),
			DuplicatesRemoved: duplicates,
			PerBatchCounts:    perBatch,
		},
	}
}

// resolveDuplicate folds a later duplicate into the canonical
// representative. Conflicting values are logged as merge ambiguity and
// resolved deterministically; they never fail the merge.
func (m *Merger) resolveDuplicate(rep *domain.FieldDescriptor, dup domain.FieldDescriptor, sig string) {
	if dup.Confidence != rep.Confidence {
		m.logger.Warn().
			Str("signature", sig).
			Float64("kept", rep.Confidence).
			Float64("duplicate", dup.Confidence).
			Msg("Merge ambiguity: conflicting confidence, keeping maximum")
		if dup.Confidence > rep.Confidence {
			rep.Confidence = dup.Confidence
		}
	}

	if !equalOptions(rep.Options, dup.Options) {
		m.logger.Warn().
			Str("signature", sig).
			Int("kept_len", len(rep.Options)).
			Int("duplicate_len", len(dup.Options)).
			Msg("Merge ambiguity: conflicting options, keeping longer list")
		if len(dup.Options) > len(rep.Options) {
			rep.Options = dup.Options
		}
	}
}

func equalOptions(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
