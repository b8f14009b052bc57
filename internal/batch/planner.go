// Package batch partitions a document's pages into extraction units.
package batch

import (
	"strconv"
	"strings"

	"github.com/greycellz/formscan/internal/domain"
)

// DefaultBatchSize is used when the requested batch size does not parse
// as a positive integer.
const DefaultBatchSize = 5

// EffectiveSize resolves a requested batch size against a document's
// page count. A value that does not parse as a positive integer falls
// back to DefaultBatchSize; the result is clamped to totalPages.
func EffectiveSize(requested string, totalPages int) int {
	size := DefaultBatchSize
	if n, err := strconv.Atoi(strings.TrimSpace(requested)); err == nil && n > 0 {
		size = n
	}
	if size > totalPages {
		size = totalPages
	}
	return size
}

// Plan partitions the document's pages [1..TotalPages] into ordered,
// contiguous batches. With batching disabled a single batch spans the
// whole document. The batches cover every page exactly once; the final
// batch may be shorter than the rest.
func Plan(doc domain.Document, batchingEnabled bool, requestedBatchSize string) ([]domain.Batch, error) {
	if doc.TotalPages <= 0 {
		return nil, domain.InvalidPageCountError(doc.TotalPages)
	}
	if len(doc.Pages) > 0 && len(doc.Pages) != doc.TotalPages {
		return nil, domain.ValidationError("page image count does not match total pages", nil)
	}

	if !batchingEnabled {
		return []domain.Batch{{
			Index:     0,
			StartPage: 1,
			EndPage:   doc.TotalPages,
			Pages:     pageRange(doc.Pages, 1, doc.TotalPages),
		}}, nil
	}

	size := EffectiveSize(requestedBatchSize, doc.TotalPages)

	var batches []domain.Batch
	for start := 1; start <= doc.TotalPages; start += size {
		end := start + size - 1
		if end > doc.TotalPages {
			end = doc.TotalPages
		}
		batches = append(batches, domain.Batch{
			Index:     len(batches),
			StartPage: start,
			EndPage:   end,
			Pages:     pageRange(doc.Pages, start, end),
		})
	}

	return batches, nil
}

// pageRange slices the image subset for pages [start..end]. Documents
// planned without images (page count only) yield nil subsets.
func pageRange(pages []domain.PageImage, start, end int) []domain.PageImage {
	if len(pages) == 0 {
		return nil
	}
	return pages[start-1 : end]
}
