// Package llm implements the upstream field-extraction call against an
// OpenRouter-compatible chat completions endpoint.
package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/greycellz/formscan/internal/config"
	"github.com/greycellz/formscan/internal/domain"
	"github.com/greycellz/formscan/internal/observability"
)

// Client talks to the chat completions API and implements
// domain.FieldExtractor. One Extract call covers one batch of pages.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	retry      RetryConfig
	httpClient *http.Client
	logger     *observability.Logger
}

// Message represents a chat message.
type Message struct {
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

// ContentPart is one part of message content, either text or an image.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL carries a base64 data URL.
type ImageURL struct {
	URL string `json:"url"`
}

// Request is the API request structure.
type Request struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

// Response is the API response structure.
type Response struct {
	ID      string   `json:"id"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

// Choice is a single completion choice.
type Choice struct {
	Message      ChoiceMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

// ChoiceMessage is the assistant message inside a choice.
type ChoiceMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage carries token accounting from the upstream.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// NewClient creates a new client from configuration. The HTTP client
// carries no timeout of its own; callers bound calls via context.
func NewClient(cfg config.LLMConfig, logger *observability.Logger) *Client {
	if logger == nil {
		logger = observability.Nop()
	}
	return &Client{
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		baseURL: cfg.BaseURL,
		retry: RetryConfig{
			MaxRetries:     cfg.MaxRetries,
			InitialBackoff: cfg.InitialBackoff,
			MaxBackoff:     cfg.MaxBackoff,
		},
		httpClient: &http.Client{},
		logger:     logger.WithComponent("llm"),
	}
}

// Extract sends one batch of page images to the model and returns the
// parsed field list. Page numbers in the returned descriptors are
// batch-local, exactly as the model reported them.
func (c *Client) Extract(ctx context.Context, images []domain.PageImage) (*domain.ExtractionOutput, error) {
	if len(images) == 0 {
		return nil, domain.ValidationError("extraction requires at least one page image", nil)
	}

	req, err := c.buildRequest(images)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, domain.APIError("Failed to marshal request", err)
	}

	start := time.Now()
	resp, err := c.retryWithBackoff(ctx, func() (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
		return c.httpClient.Do(httpReq)
	})
	if err != nil {
		return nil, domain.APIError("Failed to send request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, domain.APIError(fmt.Sprintf("API returned status %d: %s", resp.StatusCode, string(bodyBytes)), nil)
	}

	var apiResp Response
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, domain.APIError("Failed to decode response", err)
	}
	if len(apiResp.Choices) == 0 {
		return nil, domain.APIError("Response contained no choices", nil)
	}

	fields, err := ParseFields(apiResp.Choices[0].Message.Content, len(images))
	if err != nil {
		return nil, err
	}

	out := &domain.ExtractionOutput{
		Fields:  fields,
		Success: true,
		TimeMs:  time.Since(start).Milliseconds(),
	}
	if apiResp.Usage != nil {
		out.Tokens = domain.TokenUsage{
			Input:  apiResp.Usage.PromptTokens,
			Output: apiResp.Usage.CompletionTokens,
		}
	}

	c.logger.Debug().
		Int("pages", len(images)).
		Int("fields", len(fields)).
		Int64("time_ms", out.TimeMs).
		Msg("Extraction call complete")

	return out, nil
}

// buildRequest constructs the API request with every page image encoded
// as a base64 data URL, in page order after the prompt text.
func (c *Client) buildRequest(images []domain.PageImage) (*Request, error) {
	parts := make([]ContentPart, 0, len(images)+1)
	parts = append(parts, ContentPart{Type: "text", Text: buildPrompt(len(images))})

	for _, img := range images {
		data, err := os.ReadFile(img.Path)
		if err != nil {
			return nil, domain.IOError(fmt.Sprintf("Failed to read page image %s", img.Path), err)
		}
		mimeType := img.MIME
		if mimeType == "" {
			mimeType = "image/png"
		}
		dataURL := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
		parts = append(parts, ContentPart{Type: "image_url", ImageURL: &ImageURL{URL: dataURL}})
	}

	return &Request{
		Model:    c.model,
		Messages: []Message{{Role: "user", Content: parts}},
		Stream:   false,
	}, nil
}

// buildPrompt creates the extraction prompt for a batch of n pages.
func buildPrompt(pages int) string {
	return fmt.Sprintf(`You are a form digitization expert. Analyze these %d scanned form page(s) and extract every form element.

Return ONLY a JSON array. Each element describes one form field:

{
  "label": "Full Name",
  "type": "text",
  "required": false,
  "placeholder": "",
  "options": [],
  "allowOther": false,
  "otherLabel": "",
  "otherPlaceholder": "",
  "confidence": 0.95,
  "pageNumber": 1,
  "richTextContent": "",
  "richTextMaxHeight": 0
}

FIELD TYPES:
- "text", "email", "tel", "textarea", "date" for input fields
- "select" for dropdowns; put choices in "options"
- "radio-with-other" / "checkbox-with-other" for choice groups; set "allowOther" true when an "Other" write-in exists
- "label" for headings, section titles, and instructional text; put the text in "richTextContent" and leave "label" empty
- "richtext" for free-form content blocks

RULES:
- "pageNumber" is the 1-based position of the page among the images you were given, in order
- "confidence" is your certainty the element exists as described, between 0 and 1
- Preserve the visual top-to-bottom, left-to-right order of elements within each page
- Include every element; do not summarize or skip repeated headers
- Output the JSON array only, with no surrounding prose or code fences`, pages)
}
