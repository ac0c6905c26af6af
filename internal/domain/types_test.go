package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategoryKey(t *testing.T) {
	tests := []struct {
		a, b string
		same bool
	}{
		{"Support", "support", true},
		{"  Support ", "SUPPORT", true},
		{"\u00c9COLE", "\u00e9cole", true},
		{"Café", "Café", true},
		{"Support", "Supports", false},
	}
	for _, tt := range tests {
		t.Run(tt.a+"/"+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.same, CategoryKey(tt.a) == CategoryKey(tt.b))
		})
	}
}

func TestParseSentiment(t *testing.T) {
	got, ok := ParseSentiment(" positive ")
	assert.True(t, ok)
	assert.Equal(t, Positive, got)

	got, ok = ParseSentiment("NEGATIVE")
	assert.True(t, ok)
	assert.Equal(t, Negative, got)

	got, ok = ParseSentiment("mixed")
	assert.False(t, ok)
	assert.Equal(t, Neutral, got)
}

func TestRowClone(t *testing.T) {
	row := Row{{"id", "1"}, {"response", "ok"}}
	clone := row.Clone()
	clone[1].Value = "changed"

	assert.Equal(t, "ok", row.Value("response"))
	assert.Equal(t, []string{"id", "response"}, row.Columns())

	_, ok := row.Get("missing")
	assert.False(t, ok)
}

func TestAnnotationResultClone(t *testing.T) {
	r := AnnotationResult{
		SourceColumn:      "response",
		RawRow:            Row{{"response", "slow"}},
		SuggestedCategory: &SuggestedCategory{Name: "Speed", Description: "perf"},
	}
	c := r.Clone()
	c.RawRow[0].Value = "fast"
	c.SuggestedCategory.Name = "Other"

	assert.Equal(t, "slow", r.Response())
	assert.Equal(t, "Speed", r.SuggestedCategory.Name)
}

func TestSuggestedCategoryComplete(t *testing.T) {
	var nilSuggestion *SuggestedCategory
	assert.False(t, nilSuggestion.Complete())
	assert.False(t, (&SuggestedCategory{Name: "x", Description: "  "}).Complete())
	assert.True(t, (&SuggestedCategory{Name: "x", Description: "y"}).Complete())
}

func TestParseMergeMode(t *testing.T) {
	m, err := ParseMergeMode("Append")
	require.NoError(t, err)
	assert.Equal(t, ModeAppend, m)

	m, err = ParseMergeMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeUnset, m)

	_, err = ParseMergeMode("merge")
	var ime *InvalidModeError
	require.True(t, errors.As(err, &ime))
	assert.Equal(t, "merge", ime.Mode)
}

func TestFormatErrorMessage(t *testing.T) {
	assert.Equal(t, "format error at line 4: bad", (&FormatError{Line: 4, Msg: "bad"}).Error())
	assert.Equal(t, "format error: bad", (&FormatError{Msg: "bad"}).Error())
}
