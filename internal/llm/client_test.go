package llm

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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greycellz/formscan/internal/config"
	"github.com/greycellz/formscan/internal/domain"
)

func writeTestImage(t *testing.T) domain.PageImage {
	t.Helper()
	path := filepath.Join(t.TempDir(), "page1.png")
	require.NoError(t, os.WriteFile(path, []byte("not-a-real-png"), 0o644))
	return domain.PageImage{PageNumber: 1, Path: path, MIME: "image/png"}
}

func testConfig(baseURL string) config.LLMConfig {
	return config.LLMConfig{
		BaseURL:        baseURL,
		Model:          "test-model",
		APIKey:         "test-key",
		MaxRetries:     2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
}

func completionBody(content string) string {
	resp := Response{
		Choices: []Choice{{Message: ChoiceMessage{Role: "assistant", Content: content}}},
		Usage:   &Usage{PromptTokens: 120, CompletionTokens: 40},
	}
	b, _ := json.Marshal(resp)
	return string(b)
}

func TestExtract_ParsesFieldsAndUsage(t *testing.T) {
	var gotReq Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Write([]byte(completionBody(`[{"label":"Full Name","type":"text","confidence":0.95,"pageNumber":1}]`)))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), nil)
	out, err := c.Extract(context.Background(), []domain.PageImage{writeTestImage(t)})
	require.NoError(t, err)

	assert.True(t, out.Success)
	require.Len(t, out.Fields, 1)
	assert.Equal(t, "Full Name", out.Fields[0].Label)
	assert.Equal(t, domain.TokenUsage{Input: 120, Output: 40}, out.Tokens)

	// One text part plus one image part, image as a data URL.
	assert.Equal(t, "test-model", gotReq.Model)
	require.Len(t, gotReq.Messages, 1)
	require.Len(t, gotReq.Messages[0].Content, 2)
	assert.Equal(t, "text", gotReq.Messages[0].Content[0].Type)
	assert.Contains(t, gotReq.Messages[0].Content[1].ImageURL.URL, "data:image/png;base64,")
}

func TestExtract_RetriesOnTransientStatus(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(completionBody(`[]`)))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), nil)
	out, err := c.Extract(context.Background(), []domain.PageImage{writeTestImage(t)})
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestExtract_NonRetryableStatusFailsImmediately(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), nil)
	_, err := c.Extract(context.Background(), []domain.PageImage{writeTestImage(t)})
	require.Error(t, err)
	assert.True(t, domain.IsErrorType(err, domain.ErrorTypeAPI))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestExtract_ExhaustedRetriesFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), nil)
	_, err := c.Extract(context.Background(), []domain.PageImage{writeTestImage(t)})
	require.Error(t, err)
	assert.True(t, domain.IsErrorType(err, domain.ErrorTypeAPI))
}

func TestExtract_NoImagesRejected(t *testing.T) {
	c := NewClient(testConfig("http://unused"), nil)
	_, err := c.Extract(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, domain.IsErrorType(err, domain.ErrorTypeValidation))
}

func TestExtract_MissingImageFileFails(t *testing.T) {
	c := NewClient(testConfig("http://unused"), nil)
	_, err := c.Extract(context.Background(), []domain.PageImage{
		{PageNumber: 1, Path: filepath.Join(t.TempDir(), "missing.png")},
	})
	require.Error(t, err)
	assert.True(t, domain.IsErrorType(err, domain.ErrorTypeIO))
}
