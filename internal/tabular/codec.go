package tabular

import (
	"strconv"
	"strings"

	"github.com/pbaille/codebook/internal/domain"
)

const (
	// ResultsFileName is the export name for coded responses.
	ResultsFileName = "coded_responses_with_metadata.csv"

	codebookSuffix = "-codebook.csv"
)

// Metadata columns appended to every exported result row.
var resultColumns = []string{"Category", "Sentiment", "Confidence", "Reasoning"}

// CodebookFileName is the export name for a taxonomy's categories
func CodebookFileName(taxonomy string) string {
	return taxonomy + codebookSuffix
}

// Serialize writes headers and rows as delimited text that Parse reads back
// unchanged.
func Serialize(headers []string, rows []domain.Row) string {
	var b strings.Builder
	writeRecord(&b, headers)
	for _, row := range rows {
		values := make([]string, len(headers))
		for i, h := range headers {
			if i < len(row) && row[i].Column == h {
				values[i] = row[i].Value
				continue
			}
			values[i] = row.Value(h)
		}
		b.WriteByte('\n')
		writeRecord(&b, values)
	}
	return b.String()
}

// SerializeCategories writes a codebook as name,description pairs
func SerializeCategories(cats []domain.Category) string {
	rows := make([]domain.Row, len(cats))
	for i, c := range cats {
		rows[i] = domain.Row{
			{Column: "name", Value: c.Name},
			{Column: "description", Value: c.Description},
		}
	}
	return Serialize([]string{"name", "description"}, rows)
}

// ExportResults lays out results with their original columns (first-seen
// order across all rows) followed by the annotation metadata.
func ExportResults(results []domain.AnnotationResult) string {
	var headers []string
	seen := make(map[string]struct{})
	for _, r := range results {
		for _, c := range r.RawRow {
			if _, ok := seen[c.Column]; ok {
				continue
			}
			seen[c.Column] = struct{}{}
			headers = append(headers, c.Column)
		}
	}
	rawCount := len(headers)
	headers = append(headers, resultColumns...)

	rows := make([]domain.Row, len(results))
	for i, r := range results {
		row := make(domain.Row, 0, len(headers))
		for _, h := range headers[:rawCount] {
			row = append(row, domain.Cell{Column: h, Value: r.RawRow.Value(h)})
		}
		row = append(row,
			domain.Cell{Column: "Category", Value: r.CategoryName},
			domain.Cell{Column: "Sentiment", Value: string(r.Sentiment)},
			domain.Cell{Column: "Confidence", Value: strconv.FormatFloat(r.Confidence, 'f', -1, 64)},
			domain.Cell{Column: "Reasoning", Value: r.Reasoning},
		)
		rows[i] = row
	}
	return Serialize(headers, rows)
}

// CategoriesFromTable reads a two-column codebook upload. The "name" and
// "description" headers are used when present, otherwise the first two columns.
func CategoriesFromTable(t *Table) []domain.Category {
	nameCol, descCol := -1, -1
	for i, h := range t.Headers {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "name", "category", "theme":
			if nameCol < 0 {
				nameCol = i
			}
		case "description":
			if descCol < 0 {
				descCol = i
			}
		}
	}
	if nameCol < 0 {
		nameCol = 0
	}
	if descCol < 0 {
		descCol = 1
		if nameCol == 1 {
			descCol = 0
		}
	}

	cats := make([]domain.Category, 0, len(t.Rows))
	for _, row := range t.Rows {
		var c domain.Category
		if nameCol < len(row) {
			c.Name = strings.TrimSpace(row[nameCol].Value)
		}
		if descCol < len(row) {
			c.Description = strings.TrimSpace(row[descCol].Value)
		}
		if c.Name == "" {
			continue
		}
		cats = append(cats, c)
	}
	return cats
}

func writeRecord(b *strings.Builder, values []string) {
	lone := len(values) == 1
	for i, v := range values {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(escapeField(v, lone))
	}
}

// escapeField quotes v when it holds a delimiter, quote or line break. A
// single-column record with no visible text is quoted too, since the parser
// skips blank lines.
func escapeField(v string, lone bool) string {
	if strings.ContainsAny(v, ",\"\n\r") || (lone && strings.TrimSpace(v) == "") {
		return `"` + strings.ReplaceAll(v, `"`, `""`) + `"`
	}
	return v
}
