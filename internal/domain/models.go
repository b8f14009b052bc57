// Package domain defines the core types shared across the extraction pipeline.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// FieldType identifies the kind of form element a descriptor represents.
// The set is open-ended: unrecognized types emitted by the upstream
// extractor pass through untouched.
type FieldType string

const (
	FieldTypeText              FieldType = "text"
	FieldTypeEmail             FieldType = "email"
	FieldTypeTel               FieldType = "tel"
	FieldTypeTextarea          FieldType = "textarea"
	FieldTypeSelect            FieldType = "select"
	FieldTypeDate              FieldType = "date"
	FieldTypeRadioWithOther    FieldType = "radio-with-other"
	FieldTypeCheckboxWithOther FieldType = "checkbox-with-other"
	FieldTypeLabel             FieldType = "label"
	FieldTypeRichText          FieldType = "richtext"
)

// IsContentBlock reports whether the type carries free-form content
// rather than user input.
func (t FieldType) IsContentBlock() bool {
	return t == FieldTypeLabel || t == FieldTypeRichText
}

// PageImage is one rendered page of a source document.
type PageImage struct {
	PageNumber int    `json:"pageNumber"`
	Path       string `json:"path"`
	MIME       string `json:"mime,omitempty"`
}

// Document is the source document being processed: an opaque ID plus an
// ordered set of pre-rendered page images.
type Document struct {
	ID         uuid.UUID   `json:"id"`
	Name       string      `json:"name,omitempty"`
	Pages      []PageImage `json:"pages,omitempty"`
	TotalPages int         `json:"totalPages"`
}

// FieldDescriptor is one structured representation of a detected form
// element. Label may be empty for content-block types; PageNumber is
// always global (1-based across the whole document).
type FieldDescriptor struct {
	Label             string    `json:"label"`
	Type              FieldType `json:"type"`
	Required          bool      `json:"required"`
	Placeholder       string    `json:"placeholder,omitempty"`
	Options           []string  `json:"options,omitempty"`
	AllowOther        bool      `json:"allowOther,omitempty"`
	OtherLabel        string    `json:"otherLabel,omitempty"`
	OtherPlaceholder  string    `json:"otherPlaceholder,omitempty"`
	Confidence        float64   `json:"confidence"`
	PageNumber        int       `json:"pageNumber"`
	RichTextContent   string    `json:"richTextContent,omitempty"`
	RichTextMaxHeight int       `json:"richTextMaxHeight,omitempty"`
}

// Batch is a contiguous range of document pages processed together in
// one upstream extraction call. StartPage and EndPage are global,
// 1-based and inclusive; Index is the batch's position in the plan.
type Batch struct {
	Index     int         `json:"index"`
	StartPage int         `json:"startPage"`
	EndPage   int         `json:"endPage"`
	Pages     []PageImage `json:"-"`
}

// PageCount returns the number of pages covered by the batch.
func (b Batch) PageCount() int {
	return b.EndPage - b.StartPage + 1
}

// TokenUsage captures upstream token accounting for one extraction call.
type TokenUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// ExtractionOutput is the raw result of one upstream extraction call.
// Page numbers inside Fields are batch-local: the upstream only sees
// the images it was handed.
type ExtractionOutput struct {
	Fields  []FieldDescriptor `json:"fields"`
	Success bool              `json:"success"`
	Error   string            `json:"error,omitempty"`
	TimeMs  int64             `json:"timeMs"`
	Tokens  TokenUsage        `json:"tokens"`
}

// BatchResult is the outcome of extracting one batch, with page numbers
// already re-tagged to global document coordinates.
type BatchResult struct {
	BatchIndex int               `json:"batchIndex"`
	StartPage  int               `json:"startPage"`
	EndPage    int               `json:"endPage"`
	Fields     []FieldDescriptor `json:"fields"`
	Success    bool              `json:"success"`
	Error      string            `json:"error,omitempty"`
	TimeMs     int64             `json:"timeMs"`
	Tokens     TokenUsage        `json:"tokens"`
}

// BatchMeta is the per-batch metadata retained on a RunResult after the
// field lists have been merged.
type BatchMeta struct {
	BatchIndex int        `json:"batchIndex"`
	StartPage  int        `json:"startPage"`
	EndPage    int        `json:"endPage"`
	FieldCount int        `json:"fieldCount"`
	Success    bool       `json:"success"`
	Error      string     `json:"error,omitempty"`
	TimeMs     int64      `json:"timeMs"`
	Tokens     TokenUsage `json:"tokens"`
}

// MergeStats records how the per-batch field lists collapsed into the
// final deduplicated list.
type MergeStats struct {
	TotalBeforeMerge  int   `json:"totalBeforeMerge"`
	TotalAfterMerge   int   `json:"totalAfterMerge"`
	DuplicatesRemoved int   `json:"duplicatesRemoved"`
	PerBatchCounts    []int `json:"perBatchCounts"`
}

// MergedExtractionResult is the deduplicated, order-preserving field
// list for one run. No two entries share a signature.
type MergedExtractionResult struct {
	Fields []FieldDescriptor `json:"fields"`
	Stats  MergeStats        `json:"stats"`
}

// RunConfig is the configuration snapshot a run was executed with.
type RunConfig struct {
	BatchingEnabled bool   `json:"batchingEnabled"`
	BatchSize       string `json:"batchSize"`
}

// RunResult is one full pipeline execution over a fixed (document,
// config) pair. Runs are independent and share no mutable state.
type RunResult struct {
	RunID         uuid.UUID              `json:"runId"`
	DocumentID    uuid.UUID              `json:"documentId"`
	DocumentName  string                 `json:"documentName,omitempty"`
	Config        RunConfig              `json:"config"`
	StartedAt     time.Time              `json:"startedAt"`
	DurationMs    int64                  `json:"durationMs"`
	Success       bool                   `json:"success"`
	FailedBatches []int                  `json:"failedBatches,omitempty"`
	Batches       []BatchMeta            `json:"batches"`
	Merged        MergedExtractionResult `json:"merged"`
}
