package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pbaille/codebook/internal/classifier"
	"github.com/pbaille/codebook/internal/domain"
	"github.com/pbaille/codebook/internal/fetcher"
	"github.com/pbaille/codebook/internal/metrics"
	"github.com/pbaille/codebook/internal/session"
	"github.com/pbaille/codebook/internal/tabular"
)

const maxUpload = 10 * 1024 * 1024

// RunLister reads the run audit log
type RunLister interface {
	ListRuns(ctx context.Context, limit int) ([]domain.Run, error)
}

// Server handles HTTP requests for the codebook API
type Server struct {
	session *session.Session
	runs    RunLister
	metrics *metrics.Metrics
	logger  *zap.Logger
	addr    string
}

// New creates a new API server. runs and m may be nil.
func New(sess *session.Session, runs RunLister, m *metrics.Metrics, logger *zap.Logger, addr string) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{session: sess, runs: runs, metrics: m, logger: logger, addr: addr}
}

// Handler returns the routed API
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Taxonomies
	mux.HandleFunc("GET /taxonomies", s.listTaxonomies)
	mux.HandleFunc("POST /taxonomies", s.createTaxonomy)
	mux.HandleFunc("DELETE /taxonomies/{name}", s.deleteTaxonomy)
	mux.HandleFunc("POST /taxonomies/{name}/activate", s.activateTaxonomy)
	mux.HandleFunc("GET /taxonomies/{name}/categories", s.listCategories)
	mux.HandleFunc("POST /taxonomies/{name}/categories", s.addCategory)
	mux.HandleFunc("PUT /taxonomies/{name}/categories/{index}", s.editCategory)
	mux.HandleFunc("DELETE /taxonomies/{name}/categories/{index}", s.removeCategory)
	mux.HandleFunc("POST /taxonomies/{name}/import", s.importCategories)
	mux.HandleFunc("GET /taxonomies/{name}/export", s.exportCategories)

	// Uploads and runs
	mux.HandleFunc("POST /detect", s.detectColumn)
	mux.HandleFunc("POST /runs", s.startRun)
	mux.HandleFunc("GET /runs", s.listRuns)
	mux.HandleFunc("GET /runs/pending", s.pendingRun)
	mux.HandleFunc("PATCH /runs/pending/suggestions/{index}", s.updateSuggestion)
	mux.HandleFunc("POST /runs/pending/suggestions/{index}/toggle", s.toggleSuggestion)
	mux.HandleFunc("POST /runs/pending/finish", s.finishApproval)
	mux.HandleFunc("DELETE /runs/pending", s.abandonApproval)

	// Results
	mux.HandleFunc("GET /results", s.listResults)
	mux.HandleFunc("PATCH /results/{index}", s.editResult)
	mux.HandleFunc("DELETE /results", s.clearResults)
	mux.HandleFunc("GET /results/export", s.exportResults)

	// Report, chat and preferences
	mux.HandleFunc("GET /report", s.getReport)
	mux.HandleFunc("POST /report", s.generateReport)
	mux.HandleFunc("GET /chat", s.chatHistory)
	mux.HandleFunc("POST /chat", s.chat)
	mux.HandleFunc("GET /theme", s.getTheme)
	mux.HandleFunc("PUT /theme", s.setTheme)

	// Health check and metrics
	mux.HandleFunc("GET /health", s.health)
	mux.Handle("GET /metrics", s.metrics.Handler())

	return withCORS(mux)
}

// Run starts the HTTP server and shuts it down when ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", zap.String("addr", s.addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}

// withCORS adds CORS headers for frontend development
func withCORS(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		h.ServeHTTP(w, r)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// TaxonomyList is the response for listing taxonomies
type TaxonomyList struct {
	Taxonomies []string `json:"taxonomies"`
	Active     string   `json:"active,omitempty"`
}

func (s *Server) listTaxonomies(w http.ResponseWriter, r *http.Request) {
	active, _ := s.session.ActiveTaxonomy()
	writeJSON(w, http.StatusOK, TaxonomyList{Taxonomies: s.session.TaxonomyNames(), Active: active})
}

// NameRequest is a request body carrying a single name
type NameRequest struct {
	Name string `json:"name"`
}

func (s *Server) createTaxonomy(w http.ResponseWriter, r *http.Request) {
	var req NameRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.session.CreateTaxonomy(req.Name); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"name": strings.TrimSpace(req.Name)})
}

func (s *Server) deleteTaxonomy(w http.ResponseWriter, r *http.Request) {
	if err := s.session.DeleteTaxonomy(r.Context(), r.PathValue("name")); err != nil {
		writeErr(w, err)
		return
	}
	s.listTaxonomies(w, r)
}

func (s *Server) activateTaxonomy(w http.ResponseWriter, r *http.Request) {
	if err := s.session.UseTaxonomy(r.PathValue("name")); err != nil {
		writeErr(w, err)
		return
	}
	s.listTaxonomies(w, r)
}

func (s *Server) listCategories(w http.ResponseWriter, r *http.Request) {
	s.listCategoriesWithStatus(w, r, http.StatusOK)
}

func (s *Server) addCategory(w http.ResponseWriter, r *http.Request) {
	var c domain.Category
	if !decodeBody(w, r, &c) {
		return
	}
	if err := s.session.AddCategory(r.PathValue("name"), c); err != nil {
		writeErr(w, err)
		return
	}
	s.listCategoriesWithStatus(w, r, http.StatusCreated)
}

func (s *Server) editCategory(w http.ResponseWriter, r *http.Request) {
	index, ok := pathIndex(w, r)
	if !ok {
		return
	}
	var c domain.Category
	if !decodeBody(w, r, &c) {
		return
	}
	if err := s.session.EditCategory(r.PathValue("name"), index, c); err != nil {
		writeErr(w, err)
		return
	}
	s.listCategoriesWithStatus(w, r, http.StatusOK)
}

func (s *Server) removeCategory(w http.ResponseWriter, r *http.Request) {
	index, ok := pathIndex(w, r)
	if !ok {
		return
	}
	if _, err := s.session.RemoveCategory(r.PathValue("name"), index); err != nil {
		writeErr(w, err)
		return
	}
	s.listCategoriesWithStatus(w, r, http.StatusOK)
}

func (s *Server) listCategoriesWithStatus(w http.ResponseWriter, r *http.Request, status int) {
	cats, err := s.session.Categories(r.PathValue("name"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, status, map[string]interface{}{"categories": cats})
}

func (s *Server) importCategories(w http.ResponseWriter, r *http.Request) {
	text, ok := s.readUpload(w, r)
	if !ok {
		return
	}
	added, err := s.session.ImportCategories(r.PathValue("name"), text)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"added": added})
}

func (s *Server) exportCategories(w http.ResponseWriter, r *http.Request) {
	filename, text, err := s.session.ExportCategories(r.PathValue("name"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeCSV(w, filename, text)
}

// DetectResponse reports the headers of an upload and its response column
type DetectResponse struct {
	Headers []string `json:"headers"`
	Column  string   `json:"column,omitempty"`
	Rows    int      `json:"rows"`
}

func (s *Server) detectColumn(w http.ResponseWriter, r *http.Request) {
	text, ok := s.readUpload(w, r)
	if !ok {
		return
	}
	table, err := s.session.ParseUpload(text)
	if err != nil {
		writeErr(w, err)
		return
	}
	column, _ := tabular.DetectResponseColumn(table.Headers)
	writeJSON(w, http.StatusOK, DetectResponse{Headers: table.Headers, Column: column, Rows: len(table.Rows)})
}

// startRun classifies an upload sent as the request body (or fetched from
// ?url=). ?column= overrides detection and ?mode= chooses append or replace.
func (s *Server) startRun(w http.ResponseWriter, r *http.Request) {
	mode, err := domain.ParseMergeMode(r.URL.Query().Get("mode"))
	if err != nil {
		writeErr(w, err)
		return
	}
	text, ok := s.readUpload(w, r)
	if !ok {
		return
	}
	table, err := s.session.ParseUpload(text)
	if err != nil {
		writeErr(w, err)
		return
	}

	out, err := s.session.Classify(r.Context(), session.RunRequest{
		Table:  table,
		Column: r.URL.Query().Get("column"),
		Mode:   mode,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"runs": []domain.Run{}})
		return
	}
	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}
	runs, err := s.runs.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": runs, "limit": limit})
}

func (s *Server) pendingRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.session.PendingRun()
	if !ok {
		writeErr(w, domain.ErrNoPendingApproval)
		return
	}
	items, err := s.session.Suggestions()
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"run": run, "suggestions": items})
}

// SuggestionUpdate edits a proposal under review; nil fields are unchanged
type SuggestionUpdate struct {
	Approved    *bool   `json:"approved,omitempty"`
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

func (s *Server) updateSuggestion(w http.ResponseWriter, r *http.Request) {
	index, ok := pathIndex(w, r)
	if !ok {
		return
	}
	var req SuggestionUpdate
	if !decodeBody(w, r, &req) {
		return
	}

	if req.Name != nil || req.Description != nil {
		items, err := s.session.Suggestions()
		if err != nil {
			writeErr(w, err)
			return
		}
		if index < 0 || index >= len(items) {
			writeErr(w, domain.ErrIndexOutOfRange)
			return
		}
		name, desc := items[index].Name, items[index].Description
		if req.Name != nil {
			name = *req.Name
		}
		if req.Description != nil {
			desc = *req.Description
		}
		if err := s.session.EditSuggestion(index, name, desc); err != nil {
			writeErr(w, err)
			return
		}
	}
	if req.Approved != nil {
		if err := s.session.SetSuggestionApproved(index, *req.Approved); err != nil {
			writeErr(w, err)
			return
		}
	}
	s.pendingRun(w, r)
}

func (s *Server) toggleSuggestion(w http.ResponseWriter, r *http.Request) {
	index, ok := pathIndex(w, r)
	if !ok {
		return
	}
	if err := s.session.ToggleSuggestion(index); err != nil {
		writeErr(w, err)
		return
	}
	s.pendingRun(w, r)
}

func (s *Server) finishApproval(w http.ResponseWriter, r *http.Request) {
	summary, err := s.session.FinishApproval(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) abandonApproval(w http.ResponseWriter, r *http.Request) {
	if err := s.session.AbandonApproval(r.Context()); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listResults(w http.ResponseWriter, r *http.Request) {
	results := s.session.Results()
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": results, "total": len(results)})
}

// ResultUpdate edits one result; nil fields are unchanged
type ResultUpdate struct {
	Category  *string `json:"category,omitempty"`
	Sentiment *string `json:"sentiment,omitempty"`
}

func (s *Server) editResult(w http.ResponseWriter, r *http.Request) {
	index, ok := pathIndex(w, r)
	if !ok {
		return
	}
	var req ResultUpdate
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := s.session.EditResult(index, session.ResultEdit{Category: req.Category, Sentiment: req.Sentiment})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) clearResults(w http.ResponseWriter, r *http.Request) {
	s.session.ClearResults()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) exportResults(w http.ResponseWriter, r *http.Request) {
	text, err := s.session.ExportResults()
	if err != nil {
		writeErr(w, err)
		return
	}
	writeCSV(w, tabular.ResultsFileName, text)
}

func (s *Server) getReport(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"report": s.session.Report()})
}

func (s *Server) generateReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.session.GenerateReport(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"report": report})
}

func (s *Server) chatHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": s.session.ChatHistory()})
}

// ChatRequest is the request body for a chat message
type ChatRequest struct {
	Message string `json:"message"`
}

func (s *Server) chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	reply, err := s.session.Chat(r.Context(), req.Message)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"reply": reply})
}

func (s *Server) getTheme(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"theme": s.session.Theme()})
}

func (s *Server) setTheme(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Theme string `json:"theme"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	s.session.SetTheme(req.Theme)
	writeJSON(w, http.StatusOK, map[string]string{"theme": req.Theme})
}

// readUpload returns the delimited text of the request body, or the remote
// file named by ?url=.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (string, bool) {
	if u := r.URL.Query().Get("url"); u != "" {
		text, err := fetcher.FetchTable(r.Context(), u)
		if err != nil {
			writeErr(w, &domain.UpstreamError{Op: "fetch upload", Err: err})
			return "", false
		}
		return text, true
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUpload))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
		return "", false
	}
	return string(body), true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func pathIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "index must be an integer")
		return 0, false
	}
	return index, true
}

// statusFor maps domain and service errors onto HTTP status codes
func statusFor(err error) int {
	var (
		dupName  *domain.DuplicateNameError
		dupCat   *domain.DuplicateCategoryError
		format   *domain.FormatError
		mode     *domain.InvalidModeError
		apiErr   *classifier.APIError
		upstream *domain.UpstreamError
	)
	switch {
	case errors.As(err, &dupName), errors.As(err, &dupCat),
		errors.Is(err, domain.ErrBusy),
		errors.Is(err, domain.ErrApprovalPending),
		errors.Is(err, domain.ErrMergeModeRequired):
		return http.StatusConflict
	case errors.Is(err, domain.ErrTaxonomyNotFound),
		errors.Is(err, domain.ErrNoPendingApproval),
		errors.Is(err, domain.ErrIndexOutOfRange):
		return http.StatusNotFound
	case errors.As(err, &format), errors.As(err, &mode),
		errors.Is(err, domain.ErrBlankName),
		errors.Is(err, domain.ErrNoActiveTaxonomy),
		errors.Is(err, domain.ErrColumnNotFound),
		errors.Is(err, domain.ErrNoResponses),
		errors.Is(err, domain.ErrEmptyResultSet),
		errors.Is(err, domain.ErrInvalidSentiment):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrClassifierDisabled):
		return http.StatusServiceUnavailable
	case errors.As(err, &apiErr) && apiErr.Status == http.StatusTooManyRequests:
		return http.StatusTooManyRequests
	case errors.As(err, &apiErr), errors.As(err, &upstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeErr(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}

func writeCSV(w http.ResponseWriter, filename, text string) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, text)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
