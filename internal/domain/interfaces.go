package domain

import "context"

// PageSource loads the ordered page images for a source document.
// Rasterization itself happens elsewhere; implementations consume its
// output (for example a directory of pre-rendered page images).
type PageSource interface {
	Pages(ctx context.Context, source string) ([]PageImage, error)
}

// FieldExtractor is the external OCR+LLM extraction capability. It is
// called once per batch with that batch's images and returns a
// best-effort list of raw field descriptors with batch-local page
// numbers. The implementation owns its own retry budget.
type FieldExtractor interface {
	Extract(ctx context.Context, images []PageImage) (*ExtractionOutput, error)
}

// RunStore persists completed run results and loads them back for
// variance analysis.
type RunStore interface {
	Save(ctx context.Context, run *RunResult) error
	LoadAll(ctx context.Context) ([]RunResult, error)
}
