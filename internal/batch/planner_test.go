package batch

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greycellz/formscan/internal/domain"
)

func makeDoc(totalPages int) domain.Document {
	pages := make([]domain.PageImage, totalPages)
	for i := range pages {
		pages[i] = domain.PageImage{PageNumber: i + 1, Path: fmt.Sprintf("page-%d.png", i+1)}
	}
	return domain.Document{Pages: pages, TotalPages: totalPages}
}

// assertPartition verifies the batches cover [1..totalPages] exactly
// once with no gaps or overlaps.
func assertPartition(t *testing.T, batches []domain.Batch, totalPages int) {
	t.Helper()

	next := 1
	for i, b := range batches {
		assert.Equal(t, i, b.Index)
		assert.Equal(t, next, b.StartPage, "batch %d should start where the previous ended", i)
		assert.GreaterOrEqual(t, b.EndPage, b.StartPage)
		assert.Len(t, b.Pages, b.PageCount())
		if len(b.Pages) > 0 {
			assert.Equal(t, b.StartPage, b.Pages[0].PageNumber)
			assert.Equal(t, b.EndPage, b.Pages[len(b.Pages)-1].PageNumber)
		}
		next = b.EndPage + 1
	}
	assert.Equal(t, totalPages+1, next, "batches should end exactly at the last page")
}

func TestPlan_EightPagesBatchSizeThree(t *testing.T) {
	batches, err := Plan(makeDoc(8), true, "3")
	require.NoError(t, err)

	// 8 pages at size 3: [1-3], [4-6], [7-8].
	require.Len(t, batches, 3)
	assert.Equal(t, 1, batches[0].StartPage)
	assert.Equal(t, 3, batches[0].EndPage)
	assert.Equal(t, 4, batches[1].StartPage)
	assert.Equal(t, 6, batches[1].EndPage)
	assert.Equal(t, 7, batches[2].StartPage)
	assert.Equal(t, 8, batches[2].EndPage)
	assertPartition(t, batches, 8)
}

func TestPlan_BatchSizeOneYieldsOneBatchPerPage(t *testing.T) {
	batches, err := Plan(makeDoc(8), true, "1")
	require.NoError(t, err)
	assert.Len(t, batches, 8)
	assertPartition(t, batches, 8)
}

func TestPlan_OversizedBatchYieldsSingleBatch(t *testing.T) {
	batches, err := Plan(makeDoc(8), true, "100")
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, 1, batches[0].StartPage)
	assert.Equal(t, 8, batches[0].EndPage)
}

func TestPlan_BatchingDisabledYieldsSingleBatch(t *testing.T) {
	batches, err := Plan(makeDoc(12), false, "3")
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, 12, batches[0].PageCount())
}

func TestPlan_InvalidPageCount(t *testing.T) {
	for _, totalPages := range []int{0, -1} {
		_, err := Plan(domain.Document{TotalPages: totalPages}, true, "5")
		require.Error(t, err)
		assert.True(t, domain.IsErrorType(err, domain.ErrorTypeValidation))
	}
}

func TestPlan_PageCountMismatchFails(t *testing.T) {
	doc := makeDoc(4)
	doc.TotalPages = 6
	_, err := Plan(doc, true, "2")
	assert.Error(t, err)
}

func TestPlan_PartitionPropertyAcrossSizes(t *testing.T) {
	for totalPages := 1; totalPages <= 17; totalPages++ {
		for _, size := range []string{"1", "2", "3", "5", "8", "100", "abc", "-5", "0", ""} {
			batches, err := Plan(makeDoc(totalPages), true, size)
			require.NoError(t, err, "totalPages=%d size=%q", totalPages, size)
			assertPartition(t, batches, totalPages)

			// batchCount = ceil(totalPages / effectiveSize)
			eff := EffectiveSize(size, totalPages)
			want := (totalPages + eff - 1) / eff
			assert.Len(t, batches, want, "totalPages=%d size=%q", totalPages, size)
		}
	}
}

func TestEffectiveSize_FallbackAndClamp(t *testing.T) {
	tests := []struct {
		name       string
		requested  string
		totalPages int
		want       int
	}{
		{"valid size", "3", 10, 3},
		{"non-numeric falls back to default", "abc", 10, DefaultBatchSize},
		{"negative falls back to default", "-5", 10, DefaultBatchSize},
		{"zero falls back to default", "0", 10, DefaultBatchSize},
		{"empty falls back to default", "", 10, DefaultBatchSize},
		{"clamped to total pages", "100", 8, 8},
		{"default clamped to small document", "junk", 2, 2},
		{"whitespace tolerated", " 4 ", 10, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EffectiveSize(tt.requested, tt.totalPages))
		})
	}
}
