// Package session owns the working state of one user: taxonomies, the coded
// result set, the generated report and the chat about it. All service calls
// share a single run slot, and state changes are applied under one lock.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/pbaille/codebook/internal/approval"
	"github.com/pbaille/codebook/internal/domain"
	"github.com/pbaille/codebook/internal/metrics"
	"github.com/pbaille/codebook/internal/reconcile"
	"github.com/pbaille/codebook/internal/tabular"
	"github.com/pbaille/codebook/internal/taxonomy"
)

// Classifier is the remote annotation service
type Classifier interface {
	// Classify returns the raw reply body for the given responses
	Classify(ctx context.Context, responses []string, categories []domain.Category) ([]byte, error)
	Report(ctx context.Context, results []domain.AnnotationResult) (string, error)
	Chat(ctx context.Context, history []domain.ChatMessage, message string, results []domain.AnnotationResult) (string, error)
}

// RunLog records run summaries for auditing
type RunLog interface {
	RecordRun(ctx context.Context, run domain.Run) error
}

// Config wires a Session to its collaborators. Only Classifier-backed
// operations need Classifier; every other field is optional.
type Config struct {
	Classifier Classifier
	Persister  Persister
	Runs       RunLog
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
	Now        func() time.Time
}

// Session is safe for concurrent use
type Session struct {
	classifier Classifier
	persister  Persister
	runs       RunLog
	logger     *zap.Logger
	metrics    *metrics.Metrics
	now        func() time.Time

	slot *semaphore.Weighted

	mu         sync.Mutex
	taxonomies *taxonomy.Store
	results    []domain.AnnotationResult
	report     string
	chat       []domain.ChatMessage
	theme      string
	review     approval.Workflow
	pending    *domain.Run
}

// New creates an empty Session. Call Load to restore persisted state.
func New(cfg Config) *Session {
	s := &Session{
		classifier: cfg.Classifier,
		persister:  cfg.Persister,
		runs:       cfg.Runs,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		now:        cfg.Now,
		slot:       semaphore.NewWeighted(1),
		taxonomies: taxonomy.New(),
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// RunRequest describes one classification run
type RunRequest struct {
	Table *tabular.Table
	// Column overrides response column detection when set
	Column string
	// Mode is required once results exist
	Mode domain.MergeMode
}

// RunOutcome is what a run produced
type RunOutcome struct {
	Run         domain.Run      `json:"run"`
	Suggestions []approval.Item `json:"suggestions,omitempty"`
	// Total is the size of the result set after the run
	Total int `json:"total"`
}

// ParseUpload parses delimited text, counting rejected uploads
func (s *Session) ParseUpload(text string) (*tabular.Table, error) {
	t, err := tabular.Parse(text)
	if err != nil {
		s.metrics.RecordParseFailure()
		return nil, fmt.Errorf("parse upload: %w", err)
	}
	return t, nil
}

// Classify sends the response column of an upload to the service and
// commits the reconciled results. Results carrying a complete category
// proposal are held for review; see Suggestions and FinishApproval.
// A failed run changes nothing.
func (s *Session) Classify(ctx context.Context, req RunRequest) (*RunOutcome, error) {
	if !s.slot.TryAcquire(1) {
		return nil, domain.ErrBusy
	}
	defer s.slot.Release(1)

	run, responses, cats, err := s.prepareRun(req)
	if err != nil {
		return nil, err
	}
	log := s.logger.With(zap.String("run_id", run.ID), zap.String("taxonomy", run.Taxonomy))
	log.Info("classification started",
		zap.Int("responses", len(responses)),
		zap.Int("categories", len(cats)),
		zap.String("mode", string(run.Mode)))

	raw, err := s.classifier.Classify(ctx, responses, cats)
	if err != nil {
		return nil, s.failRun(ctx, log, run, &domain.UpstreamError{Op: "classify", Err: err})
	}
	records, err := reconcile.DecodeBatch(raw)
	if err != nil {
		return nil, s.failRun(ctx, log, run, &domain.UpstreamError{Op: "classify", Err: err})
	}
	outcome := reconcile.Reconcile(reconcile.Input{
		Rows:       req.Table.Rows,
		Column:     run.Column,
		Categories: cats,
		Records:    records,
	})
	if outcome.UnknownSentiments > 0 {
		log.Warn("unrecognised sentiment defaulted to neutral", zap.Int("count", outcome.UnknownSentiments))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.taxonomies.Categories(run.Taxonomy); err != nil {
		return nil, s.failRun(ctx, log, run, fmt.Errorf("commit run: %w", err))
	}
	merged, err := reconcile.Merge(s.results, outcome.Finalized, run.Mode)
	if err != nil {
		return nil, s.failRun(ctx, log, run, fmt.Errorf("commit run: %w", err))
	}
	if err := s.review.Start(outcome.Suggestions); err != nil {
		return nil, s.failRun(ctx, log, run, fmt.Errorf("commit run: %w", err))
	}

	s.results = merged
	run.Finalized = len(outcome.Finalized)
	run.Suggested = len(outcome.Suggestions)
	run.FinishedAt = s.now()
	run.Status = domain.RunCompleted
	if s.review.Pending() {
		run.Status = domain.RunAwaiting
		pending := run
		s.pending = &pending
	}
	s.saveLocked(keyResults)
	s.recordRun(ctx, run)
	s.metrics.RecordRun(run.Status, run.FinishedAt.Sub(run.StartedAt), run.Finalized, run.Suggested)

	log.Info("classification finished",
		zap.String("status", run.Status),
		zap.Int("finalized", run.Finalized),
		zap.Int("suggested", run.Suggested),
		zap.Int("total", len(s.results)))

	return &RunOutcome{Run: run, Suggestions: s.review.Items(), Total: len(s.results)}, nil
}

// prepareRun validates a request against the current state and captures
// everything the service call needs.
func (s *Session) prepareRun(req RunRequest) (domain.Run, []string, []domain.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.classifier == nil {
		return domain.Run{}, nil, nil, domain.ErrClassifierDisabled
	}
	if s.review.Pending() {
		return domain.Run{}, nil, nil, domain.ErrApprovalPending
	}
	tax, cats, err := s.taxonomies.ActiveCategories()
	if err != nil {
		return domain.Run{}, nil, nil, err
	}
	if req.Table == nil || len(req.Table.Rows) == 0 {
		return domain.Run{}, nil, nil, domain.ErrNoResponses
	}
	column, err := tabular.ResolveColumn(req.Table.Headers, req.Column)
	if err != nil {
		return domain.Run{}, nil, nil, err
	}
	if req.Mode == domain.ModeUnset && len(s.results) > 0 {
		return domain.Run{}, nil, nil, domain.ErrMergeModeRequired
	}

	responses := req.Table.Values(column)
	run := domain.Run{
		ID:        uuid.NewString(),
		Taxonomy:  tax,
		Column:    column,
		Mode:      req.Mode,
		Responses: len(responses),
		StartedAt: s.now(),
	}
	return run, responses, cats, nil
}

func (s *Session) failRun(ctx context.Context, log *zap.Logger, run domain.Run, err error) error {
	run.Status = domain.RunFailed
	run.Error = err.Error()
	run.FinishedAt = s.now()
	s.recordRun(ctx, run)
	s.metrics.RecordRun(run.Status, run.FinishedAt.Sub(run.StartedAt), 0, 0)
	log.Error("classification failed", zap.Error(err))
	return err
}

func (s *Session) recordRun(ctx context.Context, run domain.Run) {
	if s.runs == nil {
		return
	}
	if err := s.runs.RecordRun(context.WithoutCancel(ctx), run); err != nil {
		s.logger.Warn("record run", zap.String("run_id", run.ID), zap.Error(err))
	}
}

// PendingRun returns the run whose suggestions are under review
func (s *Session) PendingRun() (domain.Run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return domain.Run{}, false
	}
	return *s.pending, true
}

// Suggestions returns the proposals under review
func (s *Session) Suggestions() ([]approval.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.review.Pending() {
		return nil, domain.ErrNoPendingApproval
	}
	return s.review.Items(), nil
}

// ToggleSuggestion flips the approval of proposal i
func (s *Session) ToggleSuggestion(i int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.review.Toggle(i)
}

// SetSuggestionApproved sets the approval of proposal i
func (s *Session) SetSuggestionApproved(i int, approved bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.review.SetApproved(i, approved)
}

// EditSuggestion changes the proposed name and description of proposal i
func (s *Session) EditSuggestion(i int, name, description string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.review.Edit(i, name, description)
}

// ApprovalSummary reports what FinishApproval committed
type ApprovalSummary struct {
	Added    int `json:"added"`
	Approved int `json:"approved"`
	Rejected int `json:"rejected"`
	Total    int `json:"total"`
}

// FinishApproval folds the approved categories into the run's taxonomy and
// appends every reviewed result in one step. A proposal that collides with an
// existing category resolves to the existing name.
func (s *Session) FinishApproval(ctx context.Context) (*ApprovalSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.review.Finish()
	if err != nil {
		return nil, err
	}
	run := *s.pending
	s.pending = nil

	added, err := s.taxonomies.Import(run.Taxonomy, d.Categories)
	if err != nil {
		return nil, fmt.Errorf("finish approval: %w", err)
	}
	for i := range d.Results {
		r := &d.Results[i]
		if r.CategoryName == domain.Uncategorized {
			continue
		}
		if name, ok := s.taxonomies.Lookup(run.Taxonomy, r.CategoryName); ok {
			r.CategoryName = name
		}
	}
	s.results = append(s.results, d.Results...)
	s.saveLocked(keyTaxonomies, keyResults)

	run.Status = domain.RunApproved
	run.FinishedAt = s.now()
	s.recordRun(ctx, run)
	s.metrics.RecordDecisions(len(d.Results)-d.Rejected, d.Rejected)

	s.logger.Info("suggestions resolved",
		zap.String("run_id", run.ID),
		zap.String("taxonomy", run.Taxonomy),
		zap.Int("added", added),
		zap.Int("rejected", d.Rejected))

	return &ApprovalSummary{
		Added:    added,
		Approved: len(d.Results) - d.Rejected,
		Rejected: d.Rejected,
		Total:    len(s.results),
	}, nil
}

// AbandonApproval drops the review. Results already committed by the run
// stay; the held-back ones are discarded.
func (s *Session) AbandonApproval(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.review.Pending() {
		return domain.ErrNoPendingApproval
	}
	s.abandonLocked(ctx)
	return nil
}

func (s *Session) abandonLocked(ctx context.Context) {
	if !s.review.Pending() {
		return
	}
	s.review.Abandon()
	if s.pending != nil {
		run := *s.pending
		run.Status = domain.RunAbandoned
		run.FinishedAt = s.now()
		s.recordRun(ctx, run)
		s.pending = nil
	}
}

// Results returns a copy of the result set
func (s *Session) Results() []domain.AnnotationResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.AnnotationResult, len(s.results))
	for i, r := range s.results {
		out[i] = r.Clone()
	}
	return out
}

// ResultEdit changes fields of one result; nil fields are left alone
type ResultEdit struct {
	Category  *string
	Sentiment *string
}

// EditResult applies an edit to result i
func (s *Session) EditResult(i int, edit ResultEdit) (domain.AnnotationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.results) {
		return domain.AnnotationResult{}, fmt.Errorf("result %d of %d: %w", i, len(s.results), domain.ErrIndexOutOfRange)
	}

	r := s.results[i]
	if edit.Category != nil {
		r.CategoryName = *edit.Category
	}
	if edit.Sentiment != nil {
		sentiment, ok := domain.ParseSentiment(*edit.Sentiment)
		if !ok {
			return domain.AnnotationResult{}, fmt.Errorf("edit result: %q: %w", *edit.Sentiment, domain.ErrInvalidSentiment)
		}
		r.Sentiment = sentiment
	}
	s.results[i] = r
	s.saveLocked(keyResults)
	return r.Clone(), nil
}

// ClearResults empties the result set along with the report and chat that
// described it.
func (s *Session) ClearResults() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearResultsLocked()
	s.saveLocked(keyResults, keyReport, keyChat)
}

func (s *Session) clearResultsLocked() {
	s.results = nil
	s.report = ""
	s.chat = nil
}

// ExportResults renders the result set as delimited text
func (s *Session) ExportResults() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.results) == 0 {
		return "", domain.ErrEmptyResultSet
	}
	return tabular.ExportResults(s.results), nil
}

// GenerateReport asks the service for a written summary of the result set
func (s *Session) GenerateReport(ctx context.Context) (string, error) {
	if !s.slot.TryAcquire(1) {
		return "", domain.ErrBusy
	}
	defer s.slot.Release(1)

	results, err := s.serviceInput()
	if err != nil {
		return "", err
	}
	report, err := s.classifier.Report(ctx, results)
	if err != nil {
		return "", &domain.UpstreamError{Op: "generate report", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.report = report
	s.saveLocked(keyReport)
	return report, nil
}

// Report returns the last generated report
func (s *Session) Report() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.report
}

// Chat sends a question about the result set. The exchange is kept only
// when the service answers.
func (s *Session) Chat(ctx context.Context, message string) (string, error) {
	if !s.slot.TryAcquire(1) {
		return "", domain.ErrBusy
	}
	defer s.slot.Release(1)

	results, err := s.serviceInput()
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	history := append([]domain.ChatMessage(nil), s.chat...)
	s.mu.Unlock()

	reply, err := s.classifier.Chat(ctx, history, message, results)
	if err != nil {
		return "", &domain.UpstreamError{Op: "chat", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.chat = append(s.chat,
		domain.ChatMessage{Role: "user", Content: message},
		domain.ChatMessage{Role: "assistant", Content: reply},
	)
	s.saveLocked(keyChat)
	return reply, nil
}

// ChatHistory returns a copy of the conversation
func (s *Session) ChatHistory() []domain.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ChatMessage(nil), s.chat...)
}

func (s *Session) serviceInput() ([]domain.AnnotationResult, error) {
	if s.classifier == nil {
		return nil, domain.ErrClassifierDisabled
	}
	results := s.Results()
	if len(results) == 0 {
		return nil, domain.ErrEmptyResultSet
	}
	return results, nil
}

// Theme returns the stored appearance preference
func (s *Session) Theme() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.theme
}

// SetTheme stores the appearance preference
func (s *Session) SetTheme(theme string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.theme = theme
	s.saveLocked(keyTheme)
}
