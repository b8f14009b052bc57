// Package variance computes per-field appearance stability across
// repeated extraction runs of the same document.
package variance

import (
	"fmt"
	"sort"
	"strings"

	"github.com/greycellz/formscan/internal/domain"
)

// StabilityBucket classifies a field's appearance rate across runs.
type StabilityBucket string

const (
	BucketStable         StabilityBucket = "stable"          // 100%
	BucketMostlyStable   StabilityBucket = "mostly_stable"   // >= 80%
	BucketSomewhatStable StabilityBucket = "somewhat_stable" // >= 60%
	BucketUnstable       StabilityBucket = "unstable"        // >= 40%
	BucketVeryUnstable   StabilityBucket = "very_unstable"   // < 40%
)

// DefaultLowStabilityThreshold marks the stability percentage below
// which a field is reported as low stability.
const DefaultLowStabilityThreshold = 80.0

// DefaultReportLimit caps the ranked low-stability list.
const DefaultReportLimit = 20

// Conditional fields are hypothesized to extract less reliably; they
// are detected by these phrases in the lowercased label.
var conditionalPhrases = []string{"if yes", "if no", "if applicable"}

// StabilityRecord tracks one unique field signature across N runs.
// Records exist only for signatures seen at least once.
type StabilityRecord struct {
	Signature       string                 `json:"signature"`
	Representative  domain.FieldDescriptor `json:"representative"`
	AppearanceCount int                    `json:"appearanceCount"`
	Stability       float64                `json:"stability"`
	RunIndices      []int                  `json:"runIndices"`
}

// TypeStability aggregates records sharing a field type.
type TypeStability struct {
	Type             domain.FieldType        `json:"type"`
	FieldCount       int                     `json:"fieldCount"`
	AverageStability float64                 `json:"averageStability"`
	Buckets          map[StabilityBucket]int `json:"buckets"`
}

// PageStability aggregates records sharing a page number.
type PageStability struct {
	PageNumber       int     `json:"pageNumber"`
	FieldCount       int     `json:"fieldCount"`
	AverageStability float64 `json:"averageStability"`
}

// SubgroupStability aggregates a named subset of records.
type SubgroupStability struct {
	FieldCount       int     `json:"fieldCount"`
	AverageStability float64 `json:"averageStability"`
}

// LowStabilityField is one row of the ranked low-stability list.
type LowStabilityField struct {
	Stability  float64          `json:"stability"`
	Preview    string           `json:"preview"`
	Type       domain.FieldType `json:"type"`
	PageNumber int              `json:"pageNumber"`
	RunIndices []int            `json:"runIndices"`
}

// VarianceReport is the structured output of the stability analysis.
type VarianceReport struct {
	RunCount          int                     `json:"runCount"`
	TotalUniqueFields int                     `json:"totalUniqueFields"`
	AverageStability  float64                 `json:"averageStability"`
	Buckets           map[StabilityBucket]int `json:"buckets"`
	Records           []StabilityRecord       `json:"records"`
	ByType            []TypeStability         `json:"byType"`
	ByPage            []PageStability         `json:"byPage"`
	ConditionalFields SubgroupStability       `json:"conditionalFields"`
	ContentBlocks     SubgroupStability       `json:"contentBlocks"`
	LowStability      []LowStabilityField     `json:"lowStability"`
	Recommendations   []string                `json:"recommendations"`
}

// Options tunes report generation. Zero values select the defaults.
type Options struct {
	// LowStabilityThreshold is the stability percentage below which a
	// field enters the ranked list and subgroup recommendations fire.
	LowStabilityThreshold float64
	// ReportLimit caps the ranked low-stability list.
	ReportLimit int
}

func (o Options) withDefaults() Options {
	if o.LowStabilityThreshold <= 0 {
		o.LowStabilityThreshold = DefaultLowStabilityThreshold
	}
	if o.ReportLimit <= 0 {
		o.ReportLimit = DefaultReportLimit
	}
	return o
}

// AnalyzeVariance computes a VarianceReport from N runs of the same
// document and configuration. Pure aggregation over immutable inputs;
// the runs are never mutated. Fails with an input error when the run
// set is empty or a run is malformed.
func AnalyzeVariance(runs []domain.RunResult, opts Options) (*VarianceReport, error) {
	opts = opts.withDefaults()

	if len(runs) == 0 {
		return nil, domain.InputError("variance analysis requires at least one run", nil)
	}

	records, err := buildRecords(runs)
	if err != nil {
		return nil, err
	}

	report := &VarianceReport{
		RunCount:          len(runs),
		TotalUniqueFields: len(records),
		Buckets:           emptyBuckets(),
		Records:           records,
	}

	var sum float64
	for _, rec := range records {
		sum += rec.Stability
		report.Buckets[bucketFor(rec.Stability)]++
	}
	if len(records) > 0 {
		report.AverageStability = sum / float64(len(records))
	}

	report.ByType = groupByType(records)
	report.ByPage = groupByPage(records)
	report.ConditionalFields = subgroup(records, isConditional)
	report.ContentBlocks = subgroup(records, func(r StabilityRecord) bool {
		return r.Representative.Type.IsContentBlock()
	})
	report.LowStability = rankLowStability(records, opts)
	report.Recommendations = recommendations(report, opts)

	return report, nil
}

// buildRecords scans all runs and materializes one StabilityRecord per
// signature seen at least once. A duplicate signature inside a single
// run means the run was not produced by the merge stage and the input
// is rejected.
func buildRecords(runs []domain.RunResult) ([]StabilityRecord, error) {
	bySig := make(map[string]*StabilityRecord)
	var order []string

	for runIdx, run := range runs {
		seen := make(map[string]bool, len(run.Merged.Fields))
		for _, f := range run.Merged.Fields {
			sig := domain.Signature(f)
			if seen[sig] {
				return nil, domain.InputError(
					fmt.Sprintf("run %d contains duplicate field signature %q", runIdx, sig), nil)
			}
			seen[sig] = true

			rec, ok := bySig[sig]
			if !ok {
				rec = &StabilityRecord{Signature: sig, Representative: f}
				bySig[sig] = rec
				order = append(order, sig)
			}
			rec.AppearanceCount++
			rec.RunIndices = append(rec.RunIndices, runIdx)
		}
	}

	n := float64(len(runs))
	records := make([]StabilityRecord, 0, len(order))
	for _, sig := range order {
		rec := bySig[sig]
		rec.Stability = float64(rec.AppearanceCount) / n * 100
		records = append(records, *rec)
	}
	return records, nil
}

func bucketFor(stability float64) StabilityBucket {
	switch {
	case stability >= 100:
		return BucketStable
	case stability >= 80:
		return BucketMostlyStable
	case stability >= 60:
		return BucketSomewhatStable
	case stability >= 40:
		return BucketUnstable
	default:
		return BucketVeryUnstable
	}
}

func emptyBuckets() map[StabilityBucket]int {
	return map[StabilityBucket]int{
		BucketStable:         0,
		BucketMostlyStable:   0,
		BucketSomewhatStable: 0,
		BucketUnstable:       0,
		BucketVeryUnstable:   0,
	}
}

func groupByType(records []StabilityRecord) []TypeStability {
	byType := make(map[domain.FieldType]*TypeStability)
	sums := make(map[domain.FieldType]float64)

	for _, rec := range records {
		ft := rec.Representative.Type
		ts, ok := byType[ft]
		if !ok {
			ts = &TypeStability{Type: ft, Buckets: emptyBuckets()}
			byType[ft] = ts
		}
		ts.FieldCount++
		ts.Buckets[bucketFor(rec.Stability)]++
		sums[ft] += rec.Stability
	}

	out := make([]TypeStability, 0, len(byType))
	for ft, ts := range byType {
		ts.AverageStability = sums[ft] / float64(ts.FieldCount)
		out = append(out, *ts)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

func groupByPage(records []StabilityRecord) []PageStability {
	byPage := make(map[int]*PageStability)
	sums := make(map[int]float64)

	for _, rec := range records {
		page := rec.Representative.PageNumber
		ps, ok := byPage[page]
		if !ok {
			ps = &PageStability{PageNumber: page}
			byPage[page] = ps
		}
		ps.FieldCount++
		sums[page] += rec.Stability
	}

	out := make([]PageStability, 0, len(byPage))
	for page, ps := range byPage {
		ps.AverageStability = sums[page] / float64(ps.FieldCount)
		out = append(out, *ps)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PageNumber < out[j].PageNumber })
	return out
}

func isConditional(rec StabilityRecord) bool {
	label := strings.ToLower(rec.Representative.Label)
	for _, phrase := range conditionalPhrases {
		if strings.Contains(label, phrase) {
			return true
		}
	}
	return false
}

func subgroup(records []StabilityRecord, match func(StabilityRecord) bool) SubgroupStability {
	var sg SubgroupStability
	var sum float64
	for _, rec := range records {
		if match(rec) {
			sg.FieldCount++
			sum += rec.Stability
		}
	}
	if sg.FieldCount > 0 {
		sg.AverageStability = sum / float64(sg.FieldCount)
	}
	return sg
}

// rankLowStability returns records below the threshold, ascending by
// stability with signature as a deterministic tie-break, capped at the
// report limit.
func rankLowStability(records []StabilityRecord, opts Options) []LowStabilityField {
	var low []StabilityRecord
	for _, rec := range records {
		if rec.Stability < opts.LowStabilityThreshold {
			low = append(low, rec)
		}
	}
	sort.Slice(low, func(i, j int) bool {
		if low[i].Stability != low[j].Stability {
			return low[i].Stability < low[j].Stability
		}
		return low[i].Signature < low[j].Signature
	})
	if len(low) > opts.ReportLimit {
		low = low[:opts.ReportLimit]
	}

	out := make([]LowStabilityField, len(low))
	for i, rec := range low {
		out[i] = LowStabilityField{
			Stability:  rec.Stability,
			Preview:    preview(rec.Representative),
			Type:       rec.Representative.Type,
			PageNumber: rec.Representative.PageNumber,
			RunIndices: rec.RunIndices,
		}
	}
	return out
}

const previewRunes = 50

func preview(f domain.FieldDescriptor) string {
	s := strings.TrimSpace(f.Label)
	if s == "" {
		s = strings.TrimSpace(f.RichTextContent)
	}
	runes := []rune(strings.Join(strings.Fields(s), " "))
	if len(runes) > previewRunes {
		return string(runes[:previewRunes])
	}
	return string(runes)
}

func recommendations(report *VarianceReport, opts Options) []string {
	var recs []string

	for _, ts := range report.ByType {
		if ts.AverageStability < opts.LowStabilityThreshold {
			recs = append(recs, fmt.Sprintf(
				"field type %q averages %.1f%% stability across %d field(s); review its extraction prompt or increase run count",
				ts.Type, ts.AverageStability, ts.FieldCount))
		}
	}

	if report.ConditionalFields.FieldCount > 0 &&
		report.ConditionalFields.AverageStability < opts.LowStabilityThreshold {
		recs = append(recs, fmt.Sprintf(
			"conditional fields (\"if yes\"/\"if no\"/\"if applicable\") average %.1f%% stability; they extract less reliably than plain inputs",
			report.ConditionalFields.AverageStability))
	}

	if report.ContentBlocks.FieldCount > 0 &&
		report.ContentBlocks.AverageStability < opts.LowStabilityThreshold {
		recs = append(recs, fmt.Sprintf(
			"label/richtext blocks average %.1f%% stability; consider whether content blocks need to be captured at all",
			report.ContentBlocks.AverageStability))
	}

	if len(report.LowStability) > 0 {
		recs = append(recs, fmt.Sprintf(
			"%d field(s) fall below %.0f%% stability; inspect the ranked list before trusting a single run",
			len(report.LowStability), opts.LowStabilityThreshold))
	}

	if len(recs) == 0 {
		recs = append(recs, "all fields meet the stability threshold; extraction is consistent for this document")
	}
	return recs
}
