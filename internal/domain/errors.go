package domain

import (
	"errors"
	"fmt"
)

var (
	ErrTaxonomyNotFound   = errors.New("taxonomy not found")
	ErrNoActiveTaxonomy   = errors.New("no active taxonomy")
	ErrIndexOutOfRange    = errors.New("index out of range")
	ErrBlankName          = errors.New("name must not be blank")
	ErrBusy               = errors.New("a classification run is already in progress")
	ErrApprovalPending    = errors.New("suggestions from the previous run are awaiting approval")
	ErrNoPendingApproval  = errors.New("no suggestions are awaiting approval")
	ErrMergeModeRequired  = errors.New("results exist: choose append or replace")
	ErrColumnNotFound     = errors.New("column not found")
	ErrNoResponses        = errors.New("no responses to classify")
	ErrEmptyResultSet     = errors.New("result set is empty")
	ErrClassifierDisabled = errors.New("classification service is not configured")
	ErrInvalidSentiment   = errors.New("sentiment must be Positive, Negative or Neutral")
)

// UpstreamError wraps a failure of a remote collaborator: the classification
// service or a remote upload.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// DuplicateNameError is returned when a taxonomy name is already taken
type DuplicateNameError struct {
	Name string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("taxonomy %q already exists", e.Name)
}

// DuplicateCategoryError is returned when a category name collides,
// ignoring case, with one already in the taxonomy.
type DuplicateCategoryError struct {
	Taxonomy string
	Name     string
	Existing string
}

func (e *DuplicateCategoryError) Error() string {
	return fmt.Sprintf("category %q already exists in %q as %q", e.Name, e.Taxonomy, e.Existing)
}

// FormatError reports delimited text that could not be parsed
type FormatError struct {
	Line int
	Msg  string
}

func (e *FormatError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("format error at line %d: %s", e.Line, e.Msg)
	}
	return "format error: " + e.Msg
}

// InvalidModeError is returned for merge modes other than append or replace
type InvalidModeError struct {
	Mode string
}

func (e *InvalidModeError) Error() string {
	return fmt.Sprintf("invalid merge mode %q (want append or replace)", e.Mode)
}
