package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greycellz/formscan/internal/domain"
)

func TestParseFields_BareArray(t *testing.T) {
	content := `[{"label":"Full Name","type":"text","confidence":0.95,"pageNumber":1}]`

	fields, err := ParseFields(content, 3)
	require.NoError(t, err)
	require.Len(t, fields, 1)
	assert.Equal(t, "Full Name", fields[0].Label)
	assert.Equal(t, domain.FieldTypeText, fields[0].Type)
	assert.Equal(t, 0.95, fields[0].Confidence)
}

func TestParseFields_StripsCodeFences(t *testing.T) {
	content := "Here are the extracted fields:\n```json\n[{\"label\":\"Email\",\"type\":\"email\",\"confidence\":0.9,\"pageNumber\":2}]\n```\nLet me know if you need anything else."

	fields, err := ParseFields(content, 3)
	require.NoError(t, err)
	require.Len(t, fields, 1)
	assert.Equal(t, domain.FieldTypeEmail, fields[0].Type)
	assert.Equal(t, 2, fields[0].PageNumber)
}

func TestParseFields_FindsArrayInsideProse(t *testing.T) {
	content := `The form contains one field. [{"label":"Phone","type":"tel","confidence":0.8,"pageNumber":1}] That is all.`

	fields, err := ParseFields(content, 1)
	require.NoError(t, err)
	require.Len(t, fields, 1)
	assert.Equal(t, "Phone", fields[0].Label)
}

func TestParseFields_BracketsInsideStringsDoNotEndScan(t *testing.T) {
	content := `[{"label":"Age [years]","type":"text","confidence":0.9,"pageNumber":1}]`

	fields, err := ParseFields(content, 1)
	require.NoError(t, err)
	require.Len(t, fields, 1)
	assert.Equal(t, "Age [years]", fields[0].Label)
}

func TestParseFields_NestedOptionsArray(t *testing.T) {
	content := `[{"label":"Size","type":"select","options":["S","M","L"],"confidence":0.85,"pageNumber":1}]`

	fields, err := ParseFields(content, 1)
	require.NoError(t, err)
	require.Len(t, fields, 1)
	assert.Equal(t, []string{"S", "M", "L"}, fields[0].Options)
}

func TestParseFields_ClampsConfidenceAndPage(t *testing.T) {
	content := `[
		{"label":"A","type":"text","confidence":1.4,"pageNumber":0},
		{"label":"B","type":"text","confidence":-0.2,"pageNumber":9}
	]`

	fields, err := ParseFields(content, 3)
	require.NoError(t, err)
	require.Len(t, fields, 2)

	assert.Equal(t, 1.0, fields[0].Confidence)
	assert.Equal(t, 1, fields[0].PageNumber)
	assert.Equal(t, 0.0, fields[1].Confidence)
	assert.Equal(t, 3, fields[1].PageNumber)
}

func TestParseFields_AllowOtherGetsDefaultLabel(t *testing.T) {
	content := `[{"label":"Referral Source","type":"radio-with-other","options":["Friend","Ad"],"allowOther":true,"confidence":0.9,"pageNumber":1}]`

	fields, err := ParseFields(content, 1)
	require.NoError(t, err)
	require.Len(t, fields, 1)
	assert.True(t, fields[0].AllowOther)
	assert.Equal(t, "Other", fields[0].OtherLabel)
}

func TestParseFields_OptionsStrippedFromPlainInputs(t *testing.T) {
	content := `[{"label":"Name","type":"text","options":["stray"],"allowOther":true,"confidence":0.9,"pageNumber":1}]`

	fields, err := ParseFields(content, 1)
	require.NoError(t, err)
	require.Len(t, fields, 1)
	assert.Nil(t, fields[0].Options)
	assert.False(t, fields[0].AllowOther)
	assert.Empty(t, fields[0].OtherLabel)
}

func TestParseFields_MissingTypeInferredFromContent(t *testing.T) {
	content := `[
		{"label":"","richTextContent":"Please read the instructions below.","confidence":0.9,"pageNumber":1},
		{"label":"City","confidence":0.9,"pageNumber":1}
	]`

	fields, err := ParseFields(content, 1)
	require.NoError(t, err)
	require.Len(t, fields, 2)
	assert.Equal(t, domain.FieldTypeRichText, fields[0].Type)
	assert.Equal(t, domain.FieldTypeText, fields[1].Type)
}

func TestParseFields_UnknownTypePassesThrough(t *testing.T) {
	content := `[{"label":"Signature","type":"signature-pad","confidence":0.9,"pageNumber":1}]`

	fields, err := ParseFields(content, 1)
	require.NoError(t, err)
	require.Len(t, fields, 1)
	assert.Equal(t, domain.FieldType("signature-pad"), fields[0].Type)
}

func TestParseFields_NoArrayFails(t *testing.T) {
	_, err := ParseFields("I could not find any form fields in these images.", 1)
	require.Error(t, err)
	assert.True(t, domain.IsErrorType(err, domain.ErrorTypeExtraction))
}

func TestParseFields_MalformedJSONFails(t *testing.T) {
	_, err := ParseFields(`[{"label":"A","type":}]`, 1)
	require.Error(t, err)
	assert.True(t, domain.IsErrorType(err, domain.ErrorTypeExtraction))
}

func TestParseFields_EmptyArray(t *testing.T) {
	fields, err := ParseFields("[]", 1)
	require.NoError(t, err)
	assert.Empty(t, fields)
}
