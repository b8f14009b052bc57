package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/greycellz/formscan/internal/domain"
)

// inputTypes lists the known plain-input types, which never carry
// options. Types outside this set and outside the choice set pass
// through untouched; the type enum is open-ended.
var inputTypes = map[domain.FieldType]bool{
	domain.FieldTypeText:     true,
	domain.FieldTypeEmail:    true,
	domain.FieldTypeTel:      true,
	domain.FieldTypeTextarea: true,
	domain.FieldTypeDate:     true,
	domain.FieldTypeLabel:    true,
	domain.FieldTypeRichText: true,
}

// ParseFields leniently parses the model's reply into field
// descriptors. The model is asked for a bare JSON array but often wraps
// it in code fences or prose; the first complete JSON array in the
// content is used. maxLocalPage bounds the batch-local page numbers.
func ParseFields(content string, maxLocalPage int) ([]domain.FieldDescriptor, error) {
	raw := extractJSONArray(content)
	if raw == "" {
		return nil, domain.ExtractionError("response contained no JSON array", nil)
	}

	var fields []domain.FieldDescriptor
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, domain.ExtractionError(fmt.Sprintf("response JSON did not parse: %.120s", raw), err)
	}

	out := make([]domain.FieldDescriptor, 0, len(fields))
	for _, f := range fields {
		out = append(out, sanitizeField(f, maxLocalPage))
	}
	return out, nil
}

// extractJSONArray returns the first complete top-level JSON array in
// the content, stripping markdown code fences first. Bracket depth is
// tracked outside string literals so option values containing brackets
// do not end the scan early.
func extractJSONArray(content string) string {
	content = stripFences(content)

	start := strings.IndexByte(content, '[')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(content); i++ {
		ch := content[i]
		if escaped {
			escaped = false
			continue
		}
		switch ch {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '[':
			if !inString {
				depth++
			}
		case ']':
			if !inString {
				depth--
				if depth == 0 {
					return content[start : i+1]
				}
			}
		}
	}
	return ""
}

// stripFences removes markdown code fences (``` or ```json) wrapping
// the payload, tolerating surrounding prose.
func stripFences(content string) string {
	idx := strings.Index(content, "```")
	if idx < 0 {
		return content
	}
	rest := content[idx+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		// Drop the fence language tag line.
		firstLine := strings.TrimSpace(rest[:nl])
		if firstLine == "" || !strings.ContainsAny(firstLine, "[{") {
			rest = rest[nl+1:]
		}
	}
	if end := strings.Index(rest, "```"); end >= 0 {
		rest = rest[:end]
	}
	return rest
}

// sanitizeField normalizes one descriptor so a sloppy model reply still
// yields usable data. Only recoverable problems are fixed here;
// structural ones already failed in ParseFields.
func sanitizeField(f domain.FieldDescriptor, maxLocalPage int) domain.FieldDescriptor {
	f.Label = strings.TrimSpace(f.Label)
	f.Type = domain.FieldType(strings.TrimSpace(string(f.Type)))
	if f.Type == "" {
		if strings.TrimSpace(f.RichTextContent) != "" {
			f.Type = domain.FieldTypeRichText
		} else {
			f.Type = domain.FieldTypeText
		}
	}

	if f.Confidence < 0 {
		f.Confidence = 0
	}
	if f.Confidence > 1 {
		f.Confidence = 1
	}

	if f.PageNumber < 1 {
		f.PageNumber = 1
	}
	if maxLocalPage > 0 && f.PageNumber > maxLocalPage {
		f.PageNumber = maxLocalPage
	}

	if f.AllowOther && f.OtherLabel == "" {
		f.OtherLabel = "Other"
	}
	if !f.AllowOther {
		f.OtherLabel = ""
		f.OtherPlaceholder = ""
	}

	// Options only make sense on choice types; strip them from the
	// known plain-input types and leave unknown types alone.
	if inputTypes[f.Type] {
		f.Options = nil
		f.AllowOther = false
		f.OtherLabel = ""
		f.OtherPlaceholder = ""
	}

	return f
}
