package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbaille/codebook/internal/tabular"
)

func serve(t *testing.T, contentType, body string) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", contentType)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestFetchTable_CSV(t *testing.T) {
	body := "id,response\n1,\"fast, friendly\"\n"
	url := serve(t, "text/csv; charset=utf-8", body)

	got, err := FetchTable(context.Background(), url+"/survey.csv")
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestFetchTable_HTML(t *testing.T) {
	page := `<!DOCTYPE html><html><body>
<p>intro</p>
<table>
  <thead><tr><th>ID</th><th> Customer  Feedback </th></tr></thead>
  <tbody>
    <tr><td>1</td><td>Great, <b>really</b> great</td></tr>
    <tr><td>2</td><td>line one<br>line two</td></tr>
    <tr><td>3</td></tr>
  </tbody>
</table>
<table><tr><th>other</th></tr><tr><td>ignored</td></tr></table>
</body></html>`
	url := serve(t, "text/html", page)

	text, err := FetchTable(context.Background(), url)
	require.NoError(t, err)

	table, err := tabular.Parse(text)
	require.NoError(t, err)
	assert.Equal(t, []string{"ID", "Customer Feedback"}, table.Headers)
	require.Len(t, table.Rows, 3)
	assert.Equal(t, "Great, really great", table.Rows[0].Value("Customer Feedback"))
	assert.Equal(t, "line one\nline two", table.Rows[1].Value("Customer Feedback"))
	assert.Equal(t, "", table.Rows[2].Value("Customer Feedback"))
}

func TestFetchTable_Errors(t *testing.T) {
	url := serve(t, "text/html", "<html><body><p>no data here</p></body></html>")

	_, err := FetchTable(context.Background(), url)
	assert.ErrorIs(t, err, errNoTable)

	_, err = FetchTable(context.Background(), url+"/missing")
	assert.ErrorContains(t, err, "HTTP 404")

	_, err = FetchTable(context.Background(), "ftp://example.com/file.csv")
	assert.ErrorContains(t, err, "unsupported scheme")
}

func TestIsURL(t *testing.T) {
	assert.True(t, IsURL("https://example.com/a.csv"))
	assert.True(t, IsURL("  www.example.com"))
	assert.False(t, IsURL("survey.csv"))
}
