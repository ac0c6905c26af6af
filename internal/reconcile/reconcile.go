// Package reconcile turns a classification service batch into annotation
// results tied back to the uploaded rows.
package reconcile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pbaille/codebook/internal/domain"
)

// Record is one entry of the service's "results" array
type Record struct {
	OriginalResponse  string                    `json:"originalResponse"`
	CategoryName      string                    `json:"categoryName"`
	Sentiment         string                    `json:"sentiment"`
	ConfidenceScore   float64                   `json:"confidenceScore"`
	Reasoning         string                    `json:"reasoning"`
	SuggestedCategory *domain.SuggestedCategory `json:"suggestedCategory,omitempty"`
}

type batch struct {
	Results *[]Record `json:"results"`
}

// DecodeBatch parses a service reply. Markdown code fences around the JSON
// are tolerated; anything else that fails to decode fails the whole batch.
func DecodeBatch(raw []byte) ([]Record, error) {
	raw = stripFences(raw)
	if len(raw) == 0 {
		return nil, errors.New("decode batch: empty reply")
	}

	var b batch
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("decode batch: %w", err)
	}
	if b.Results == nil {
		return nil, errors.New(`decode batch: missing "results" array`)
	}
	return *b.Results, nil
}

func stripFences(raw []byte) []byte {
	raw = bytes.TrimSpace(raw)
	raw = bytes.TrimPrefix(raw, []byte("```json"))
	raw = bytes.TrimPrefix(raw, []byte("```"))
	raw = bytes.TrimSuffix(raw, []byte("```"))
	return bytes.TrimSpace(raw)
}

// Input is everything reconciliation needs from one run
type Input struct {
	Rows       []domain.Row
	Column     string
	Categories []domain.Category
	Records    []Record
}

// Suggestion is a result held back until its proposed category is reviewed
type Suggestion struct {
	Result   domain.AnnotationResult
	Proposed domain.SuggestedCategory
}

// Outcome splits a batch into results ready to commit and results waiting on
// a category decision.
type Outcome struct {
	Finalized   []domain.AnnotationResult
	Suggestions []Suggestion
	// UnknownSentiments counts records whose sentiment fell back to Neutral
	UnknownSentiments int
}

// Reconcile attaches each record to a row. A record takes the first row not
// already taken whose response equals its originalResponse; failing that the
// row at the record's own position, and past the end of the upload a row
// holding only the response.
func Reconcile(in Input) Outcome {
	consumed := make([]bool, len(in.Rows))
	byValue := make(map[string][]int)
	for i, row := range in.Rows {
		v := row.Value(in.Column)
		byValue[v] = append(byValue[v], i)
	}

	var out Outcome
	for i, rec := range in.Records {
		row := matchRow(in, rec, i, byValue, consumed)

		sentiment, ok := domain.ParseSentiment(rec.Sentiment)
		if !ok {
			out.UnknownSentiments++
		}
		result := domain.AnnotationResult{
			CategoryName: rec.CategoryName,
			Sentiment:    sentiment,
			Confidence:   rec.ConfidenceScore,
			Reasoning:    rec.Reasoning,
			SourceColumn: in.Column,
			RawRow:       row,
		}

		if rec.SuggestedCategory.Complete() {
			proposed := *rec.SuggestedCategory
			result.SuggestedCategory = &proposed
			out.Suggestions = append(out.Suggestions, Suggestion{Result: result, Proposed: proposed})
			continue
		}
		out.Finalized = append(out.Finalized, result)
	}
	return out
}

func matchRow(in Input, rec Record, i int, byValue map[string][]int, consumed []bool) domain.Row {
	for _, idx := range byValue[rec.OriginalResponse] {
		if !consumed[idx] {
			consumed[idx] = true
			return in.Rows[idx].Clone()
		}
	}
	if i < len(in.Rows) {
		consumed[i] = true
		return in.Rows[i].Clone()
	}
	return domain.Row{{Column: in.Column, Value: rec.OriginalResponse}}
}

// Merge combines a run's results with the existing set. With no mode chosen
// an empty set simply takes the incoming results.
func Merge(current, incoming []domain.AnnotationResult, mode domain.MergeMode) ([]domain.AnnotationResult, error) {
	switch mode {
	case domain.ModeReplace:
		return cloneResults(incoming, 0), nil
	case domain.ModeAppend:
		out := cloneResults(current, len(incoming))
		for _, r := range incoming {
			out = append(out, r.Clone())
		}
		return out, nil
	case domain.ModeUnset:
		if len(current) > 0 {
			return nil, domain.ErrMergeModeRequired
		}
		return cloneResults(incoming, 0), nil
	default:
		return nil, &domain.InvalidModeError{Mode: string(mode)}
	}
}

func cloneResults(results []domain.AnnotationResult, extra int) []domain.AnnotationResult {
	out := make([]domain.AnnotationResult, 0, len(results)+extra)
	for _, r := range results {
		out = append(out, r.Clone())
	}
	return out
}
