// Package tabular reads and writes the comma-delimited files exchanged with
// users: survey uploads, codebook exports and coded result exports.
package tabular

import (
	"fmt"
	"strings"

	"github.com/pbaille/codebook/internal/domain"
)

// Table is a parsed upload: a header list plus rows keyed by those headers
type Table struct {
	Headers []string     `json:"headers"`
	Rows    []domain.Row `json:"rows"`
}

// Values returns the value of column for every row, in upload order
func (t *Table) Values(column string) []string {
	out := make([]string, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = row.Value(column)
	}
	return out
}

// HasColumn reports whether column is one of the headers
func (t *Table) HasColumn(column string) bool {
	for _, h := range t.Headers {
		if h == column {
			return true
		}
	}
	return false
}

type record struct {
	fields []string
	line   int
	quoted bool
}

func (r record) blank() bool {
	return !r.quoted && len(r.fields) == 1 && strings.TrimSpace(r.fields[0]) == ""
}

// Parse turns delimited text into headers and rows.
// The first non-blank record is the header; at least one data record must follow.
func Parse(text string) (*Table, error) {
	records, err := scanRecords(text)
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return nil, &domain.FormatError{
			Msg: fmt.Sprintf("expected a header line and at least one data line, found %d line(s)", len(records)),
		}
	}

	headers := make([]string, len(records[0].fields))
	for i, h := range records[0].fields {
		headers[i] = cleanHeader(h, i == 0)
	}

	rows := make([]domain.Row, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make(domain.Row, len(headers))
		for i, h := range headers {
			value := ""
			if i < len(rec.fields) {
				value = rec.fields[i]
			}
			row[i] = domain.Cell{Column: h, Value: value}
		}
		rows = append(rows, row)
	}
	return &Table{Headers: headers, Rows: rows}, nil
}

// scanRecords is a single pass over text. Quotes only open a quoted field at
// the start of a field; a doubled quote inside a quoted field is a literal quote.
func scanRecords(text string) ([]record, error) {
	var (
		records    []record
		fields     []string
		buf        strings.Builder
		inQuotes   bool
		fieldStart = true
		recQuoted  bool
		line       = 1
		recLine    = 1
		quoteLine  int
	)

	endField := func() {
		fields = append(fields, buf.String())
		buf.Reset()
		fieldStart = true
	}
	endRecord := func() {
		endField()
		rec := record{fields: fields, line: recLine, quoted: recQuoted}
		if !rec.blank() {
			records = append(records, rec)
		}
		fields = nil
		recQuoted = false
	}

	for i := 0; i < len(text); i++ {
		c := text[i]
		if inQuotes {
			switch {
			case c == '"' && i+1 < len(text) && text[i+1] == '"':
				buf.WriteByte('"')
				i++
			case c == '"':
				inQuotes = false
			default:
				if c == '\n' {
					line++
				}
				buf.WriteByte(c)
			}
			continue
		}

		switch c {
		case '"':
			if fieldStart {
				inQuotes = true
				recQuoted = true
				quoteLine = line
				fieldStart = false
				continue
			}
			buf.WriteByte(c)
		case ',':
			endField()
			continue
		case '\r':
			if i+1 < len(text) && text[i+1] == '\n' {
				continue
			}
			buf.WriteByte(c)
		case '\n':
			endRecord()
			line++
			recLine = line
			continue
		default:
			buf.WriteByte(c)
		}
		fieldStart = false
	}

	if inQuotes {
		return nil, &domain.FormatError{Line: quoteLine, Msg: "unterminated quoted field"}
	}
	if len(text) > 0 && text[len(text)-1] != '\n' {
		endRecord()
	}
	return records, nil
}

// cleanHeader strips a byte order mark from the first header. Header text is
// otherwise kept as written so that serialized tables parse back unchanged.
func cleanHeader(h string, first bool) string {
	if first {
		h = strings.TrimPrefix(h, "\ufeff")
	}
	return h
}
