package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greycellz/formscan/internal/config"
	"github.com/greycellz/formscan/internal/domain"
	"github.com/greycellz/formscan/internal/extract"
	"github.com/greycellz/formscan/internal/llm"
	"github.com/greycellz/formscan/internal/pages"
	"github.com/greycellz/formscan/internal/runstore"
	"github.com/greycellz/formscan/internal/variance"
)

func init() {
	_ = godotenv.Load("../../.env")
}

// fakeUpstream serves chat completions. Every call returns one field
// per image; the first flakyUntil calls also return one extra flaky
// field, so later runs miss it and produce measurable variance.
type fakeUpstream struct {
	calls      int64
	flakyUntil int64
}

func (f *fakeUpstream) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Content []struct {
					Type string `json:"type"`
				} `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		imageCount := 0
		for _, part := range req.Messages[0].Content {
			if part.Type == "image_url" {
				imageCount++
			}
		}

		fields := make([]map[string]interface{}, 0, imageCount+1)
		for i := 1; i <= imageCount; i++ {
			fields = append(fields, map[string]interface{}{
				"label":      "Field page " + string(rune('0'+i)),
				"type":       "text",
				"confidence": 0.9,
				"pageNumber": i,
			})
		}
		if atomic.AddInt64(&f.calls, 1) <= f.flakyUntil {
			fields = append(fields, map[string]interface{}{
				"label":      "Flaky checkbox",
				"type":       "checkbox-with-other",
				"options":    []string{"Yes", "No"},
				"allowOther": true,
				"confidence": 0.6,
				"pageNumber": 1,
			})
		}

		content, _ := json.Marshal(fields)
		resp := map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]interface{}{"role": "assistant", "content": string(content)}},
			},
			"usage": map[string]int{"prompt_tokens": 100, "completion_tokens": 50},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func writePages(t *testing.T, count int) string {
	t.Helper()
	dir := t.TempDir()
	for i := 1; i <= count; i++ {
		name := filepath.Join(dir, "page_"+string(rune('0'+i))+".png")
		require.NoError(t, os.WriteFile(name, []byte("png-bytes"), 0o644))
	}
	return dir
}

// TestPipelineEndToEnd drives pages -> batches -> extraction -> merge
// -> store -> variance report against a fake upstream.
func TestPipelineEndToEnd(t *testing.T) {
	// Two batches per run: the flaky field shows up in the first two
	// runs' four calls and then disappears.
	upstream := &fakeUpstream{flakyUntil: 4}
	srv := httptest.NewServer(upstream.handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pagesDir := writePages(t, 6)
	images, err := pages.NewDirSource(nil).Pages(ctx, pagesDir)
	require.NoError(t, err)
	require.Len(t, images, 6)

	doc := domain.Document{Name: "e2e.pdf", Pages: images, TotalPages: len(images)}

	client := llm.NewClient(config.LLMConfig{
		BaseURL:        srv.URL,
		Model:          "test-model",
		APIKey:         "test-key",
		MaxRetries:     1,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
	}, nil)
	runner := extract.NewRunner(client, 2, nil)

	store := runstore.NewFileStore(filepath.Join(t.TempDir(), "runs"), nil)

	const sampleRuns = 4
	for i := 0; i < sampleRuns; i++ {
		run, err := runner.Run(ctx, doc, extract.RunOptions{BatchingEnabled: true, BatchSize: "3"})
		require.NoError(t, err)
		assert.True(t, run.Success)
		require.Len(t, run.Batches, 2)
		require.NoError(t, store.Save(ctx, run))
	}

	runs, err := store.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, runs, sampleRuns)

	report, err := variance.AnalyzeVariance(runs, variance.Options{})
	require.NoError(t, err)

	assert.Equal(t, sampleRuns, report.RunCount)

	// Six per-page fields appear in every run. The flaky checkbox was
	// returned for both batches of runs 0 and 1, so it exists as two
	// records (local page 1 of each batch retags to pages 1 and 4),
	// each seen in 2 of 4 runs.
	var flaky []variance.StabilityRecord
	stable := 0
	for _, rec := range report.Records {
		if rec.Representative.Label == "Flaky checkbox" {
			flaky = append(flaky, rec)
			continue
		}
		if rec.Stability == 100 {
			stable++
		}
	}
	assert.Equal(t, 6, stable)
	require.Len(t, flaky, 2)
	for _, rec := range flaky {
		assert.Equal(t, 50.0, rec.Stability)
		assert.Equal(t, []int{0, 1}, rec.RunIndices)
		assert.Equal(t, "Other", rec.Representative.OtherLabel)
	}
}
