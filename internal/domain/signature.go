package domain

import (
	"strconv"
	"strings"
)

const (
	signatureDelimiter = "|"

	// contentPreviewRunes is how much rich-text content participates in
	// the identity of an unlabeled content block.
	contentPreviewRunes = 50
)

var signatureEscaper = strings.NewReplacer(`\`, `\\`, signatureDelimiter, `\|`)

// Signature derives the canonical identity key used to recognize "the
// same field" across independent extraction outputs.
//
// Unlabeled label blocks are identified by a prefix of their content:
//
//	type | pageNumber | escape(first 50 normalized chars of richTextContent)
//
// Everything else is identified by its label:
//
//	escape(normalized label) | type | pageNumber
//
// PageNumber is part of the key on purpose: identical content repeated
// on different pages stays distinct.
func Signature(f FieldDescriptor) string {
	page := strconv.Itoa(f.PageNumber)

	if f.Type == FieldTypeLabel && strings.TrimSpace(f.Label) == "" {
		preview := truncateRunes(normalizeWhitespace(f.RichTextContent), contentPreviewRunes)
		return string(f.Type) + signatureDelimiter + page + signatureDelimiter + escapeSignaturePart(preview)
	}

	return escapeSignaturePart(normalizeWhitespace(f.Label)) + signatureDelimiter + string(f.Type) + signatureDelimiter + page
}

// normalizeWhitespace trims and collapses internal whitespace runs to
// single spaces.
func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// escapeSignaturePart escapes the delimiter so that a label containing
// "|" cannot collide with a structurally different field. Backslashes
// are escaped first so the escape itself is unambiguous.
func escapeSignaturePart(s string) string {
	return signatureEscaper.Replace(s)
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
