package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbaille/codebook/internal/classifier"
	"github.com/pbaille/codebook/internal/domain"
	"github.com/pbaille/codebook/internal/metrics"
	"github.com/pbaille/codebook/internal/session"
)

type stubClassifier struct {
	reply string
	err   error
}

func (c *stubClassifier) Classify(ctx context.Context, responses []string, categories []domain.Category) ([]byte, error) {
	return []byte(c.reply), c.err
}

func (c *stubClassifier) Report(ctx context.Context, results []domain.AnnotationResult) (string, error) {
	return fmt.Sprintf("%d results", len(results)), c.err
}

func (c *stubClassifier) Chat(ctx context.Context, history []domain.ChatMessage, message string, results []domain.AnnotationResult) (string, error) {
	return "echo: " + message, c.err
}

const twoResults = `{"results":[
	{"originalResponse":"slow page","categoryName":"Speed","sentiment":"Negative","confidenceScore":0.8,"reasoning":"r","suggestedCategory":{"name":"Speed","description":"performance"}},
	{"originalResponse":"kind staff","categoryName":"Support","sentiment":"Positive","confidenceScore":0.95,"reasoning":"r"}
]}`

const surveyCSV = "id,feedback\n1,slow page\n2,kind staff\n"

func newTestServer(t *testing.T, cls *stubClassifier) *httptest.Server {
	t.Helper()
	sess := session.New(session.Config{Classifier: cls})
	srv := httptest.NewServer(New(sess, nil, metrics.New(), nil, "").Handler())
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	} else {
		out = map[string]any{"body": string(raw)}
	}
	return resp, out
}

func TestTaxonomyEndpoints(t *testing.T) {
	srv := newTestServer(t, &stubClassifier{})

	resp, _ := do(t, "POST", srv.URL+"/taxonomies", `{"name":"Survey"}`)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := do(t, "POST", srv.URL+"/taxonomies", `{"name":"Survey"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, body["error"], "already exists")

	resp, _ = do(t, "POST", srv.URL+"/taxonomies/Survey/categories", `{"name":"Support","description":"help"}`)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = do(t, "POST", srv.URL+"/taxonomies/Survey/categories", `{"name":"SUPPORT","description":"again"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = do(t, "POST", srv.URL+"/taxonomies/Survey/import", "name,description\nSpeed,perf\nsupport,dup\n")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1.0, body["added"])

	resp, body = do(t, "GET", srv.URL+"/taxonomies/Survey/export", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `attachment; filename="Survey-codebook.csv"`, resp.Header.Get("Content-Disposition"))
	assert.Equal(t, "name,description\nSupport,help\nSpeed,perf", body["body"])

	resp, _ = do(t, "DELETE", srv.URL+"/taxonomies/Survey/categories/7", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = do(t, "DELETE", srv.URL+"/taxonomies/Survey/categories/x", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, "GET", srv.URL+"/taxonomies/Missing/categories", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = do(t, "GET", srv.URL+"/taxonomies", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Survey", body["active"])
}

func TestRunAndApprovalFlow(t *testing.T) {
	srv := newTestServer(t, &stubClassifier{reply: twoResults})

	resp, _ := do(t, "POST", srv.URL+"/runs", surveyCSV)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "no active taxonomy")

	do(t, "POST", srv.URL+"/taxonomies", `{"name":"Survey"}`)
	do(t, "POST", srv.URL+"/taxonomies/Survey/categories", `{"name":"Support","description":"help"}`)

	resp, body := do(t, "POST", srv.URL+"/detect", surveyCSV)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "feedback", body["column"])

	resp, body = do(t, "POST", srv.URL+"/runs", surveyCSV)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, 1.0, body["total"])
	assert.Len(t, body["suggestions"], 1)

	resp, _ = do(t, "POST", srv.URL+"/runs?mode=append", surveyCSV)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "approval pending")

	resp, _ = do(t, "PATCH", srv.URL+"/runs/pending/suggestions/0", `{"name":"Page Speed"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = do(t, "POST", srv.URL+"/runs/pending/finish", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1.0, body["added"])
	assert.Equal(t, 2.0, body["total"])

	resp, _ = do(t, "GET", srv.URL+"/runs/pending", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = do(t, "GET", srv.URL+"/results/export", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body["body"], "2,kind staff,Support,Positive,0.95,r")
	assert.Contains(t, body["body"], "1,slow page,Page Speed,Negative,0.8,r")

	resp, body = do(t, "PATCH", srv.URL+"/results/0", `{"sentiment":"ecstatic"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "ecstatic")

	resp, body = do(t, "PATCH", srv.URL+"/results/0", `{"sentiment":"neutral"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Neutral", body["sentiment"])

	resp, _ = do(t, "POST", srv.URL+"/runs?mode=merge", surveyCSV)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, "POST", srv.URL+"/runs", surveyCSV)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "mode required once results exist")

	resp, _ = do(t, "DELETE", srv.URL+"/results", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = do(t, "GET", srv.URL+"/results/export", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServiceFailures(t *testing.T) {
	cls := &stubClassifier{err: &classifier.APIError{Status: http.StatusInternalServerError, Message: "overloaded"}}
	srv := newTestServer(t, cls)
	do(t, "POST", srv.URL+"/taxonomies", `{"name":"Survey"}`)

	resp, body := do(t, "POST", srv.URL+"/runs", surveyCSV)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, body["error"], "overloaded")

	cls.err = &classifier.APIError{Status: http.StatusTooManyRequests, Message: "slow down"}
	resp, _ = do(t, "POST", srv.URL+"/runs", surveyCSV)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	cls.err, cls.reply = nil, "not json"
	resp, _ = do(t, "POST", srv.URL+"/runs", surveyCSV)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	resp, _ = do(t, "POST", srv.URL+"/runs", "only,a,header\n")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestReportChatThemeAndHealth(t *testing.T) {
	srv := newTestServer(t, &stubClassifier{reply: twoResults})
	do(t, "POST", srv.URL+"/taxonomies", `{"name":"Survey"}`)

	resp, _ := do(t, "POST", srv.URL+"/report", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "empty result set")

	do(t, "POST", srv.URL+"/runs", surveyCSV)
	do(t, "DELETE", srv.URL+"/runs/pending", "")

	resp, body := do(t, "POST", srv.URL+"/report", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "1 results", body["report"])

	resp, body = do(t, "POST", srv.URL+"/chat", `{"message":"hello"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "echo: hello", body["reply"])

	resp, _ = do(t, "POST", srv.URL+"/chat", `{"message":"  "}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = do(t, "PUT", srv.URL+"/theme", `{"theme":"dark"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_, body = do(t, "GET", srv.URL+"/theme", "")
	assert.Equal(t, "dark", body["theme"])

	resp, body = do(t, "GET", srv.URL+"/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	resp, body = do(t, "GET", srv.URL+"/metrics", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body["body"], "codebook_runs_total")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&domain.DuplicateNameError{Name: "x"}, http.StatusConflict},
		{fmt.Errorf("wrapped: %w", domain.ErrBusy), http.StatusConflict},
		{domain.ErrTaxonomyNotFound, http.StatusNotFound},
		{&domain.FormatError{Msg: "bad"}, http.StatusBadRequest},
		{domain.ErrClassifierDisabled, http.StatusServiceUnavailable},
		{fmt.Errorf("edit result: %w", domain.ErrInvalidSentiment), http.StatusBadRequest},
		{&domain.UpstreamError{Op: "classify", Err: errors.New("dial tcp: refused")}, http.StatusBadGateway},
		{&classifier.APIError{Status: http.StatusUnauthorized, Message: "bad key"}, http.StatusBadGateway},
		{&domain.UpstreamError{Op: "fetch upload", Err: &domain.FormatError{Msg: "no rows"}}, http.StatusBadRequest},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
