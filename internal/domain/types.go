package domain

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Uncategorized is the category assigned to responses that fit no category.
const Uncategorized = "Uncategorized"

// Category is a named classification target with a human-readable description
type Category struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Key returns the identity used for case-insensitive comparisons
func (c Category) Key() string {
	return CategoryKey(c.Name)
}

// CategoryKey folds a category name so that "Support" and "support" collide.
func CategoryKey(name string) string {
	folded := cases.Fold().String(norm.NFC.String(strings.TrimSpace(name)))
	return folded
}

// Sentiment is the polarity attached to an annotation
type Sentiment string

const (
	Positive Sentiment = "Positive"
	Negative Sentiment = "Negative"
	Neutral  Sentiment = "Neutral"
)

// ParseSentiment maps service output onto a Sentiment, case-insensitively.
// The boolean is false when the input was not recognised and Neutral was used.
func ParseSentiment(s string) (Sentiment, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "positive":
		return Positive, true
	case "negative":
		return Negative, true
	case "neutral":
		return Neutral, true
	default:
		return Neutral, false
	}
}

// Cell is one column/value pair of a Row
type Cell struct {
	Column string `json:"column"`
	Value  string `json:"value"`
}

// Row is an ordered mapping from column name to value
type Row []Cell

// Get returns the value stored under column
func (r Row) Get(column string) (string, bool) {
	for _, c := range r {
		if c.Column == column {
			return c.Value, true
		}
	}
	return "", false
}

// Value returns the value stored under column or the empty string
func (r Row) Value(column string) string {
	v, _ := r.Get(column)
	return v
}

// Columns returns the column names in order
func (r Row) Columns() []string {
	cols := make([]string, len(r))
	for i, c := range r {
		cols[i] = c.Column
	}
	return cols
}

// Clone returns an independent copy of the row
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	copy(out, r)
	return out
}

// SuggestedCategory is a new category proposed by the classification service
type SuggestedCategory struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Complete reports whether both name and description carry text
func (s *SuggestedCategory) Complete() bool {
	return s != nil && strings.TrimSpace(s.Name) != "" && strings.TrimSpace(s.Description) != ""
}

// AnnotationResult is one classification decision attached to a response row
type AnnotationResult struct {
	CategoryName      string             `json:"category_name"`
	Sentiment         Sentiment          `json:"sentiment"`
	Confidence        float64            `json:"confidence"`
	Reasoning         string             `json:"reasoning"`
	SourceColumn      string             `json:"source_column"`
	RawRow            Row                `json:"raw_row"`
	SuggestedCategory *SuggestedCategory `json:"suggested_category,omitempty"`
}

// Response returns the response text the annotation was made for
func (a AnnotationResult) Response() string {
	return a.RawRow.Value(a.SourceColumn)
}

// Clone deep-copies the result so it does not share its row with the upload
func (a AnnotationResult) Clone() AnnotationResult {
	out := a
	out.RawRow = a.RawRow.Clone()
	if a.SuggestedCategory != nil {
		s := *a.SuggestedCategory
		out.SuggestedCategory = &s
	}
	return out
}

// MergeMode decides how a run's results combine with the existing result set
type MergeMode string

const (
	ModeUnset   MergeMode = ""
	ModeAppend  MergeMode = "append"
	ModeReplace MergeMode = "replace"
)

// ParseMergeMode validates a user-supplied merge mode
func ParseMergeMode(s string) (MergeMode, error) {
	switch MergeMode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeUnset:
		return ModeUnset, nil
	case ModeAppend:
		return ModeAppend, nil
	case ModeReplace:
		return ModeReplace, nil
	default:
		return ModeUnset, &InvalidModeError{Mode: s}
	}
}

// ChatMessage is one turn of the conversation about a result set
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Run summarises one classification run for the audit log
type Run struct {
	ID         string    `json:"id"`
	Taxonomy   string    `json:"taxonomy"`
	Column     string    `json:"column"`
	Mode       MergeMode `json:"mode"`
	Responses  int       `json:"responses"`
	Finalized  int       `json:"finalized"`
	Suggested  int       `json:"suggested"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Run statuses
const (
	RunFailed    = "failed"
	RunCompleted = "completed"
	RunAwaiting  = "awaiting_approval"
	RunApproved  = "approved"
	RunAbandoned = "abandoned"
)
