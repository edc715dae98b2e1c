package extraction

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/xuri/excelize/v2"
)

// Table is a grid of cell text recovered from a tabular export
type Table struct {
	Source string
	Rows   [][]string
}

// ParseDelimited reads CSV or TSV content. Rows may have differing widths.
func ParseDelimited(content []byte, delimiter rune) ([]Table, error) {
	r := csv.NewReader(bytes.NewReader(stripBOM(content)))
	r.Comma = delimiter
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	var rows [][]string
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read delimited row: %w", err)
		}
		rows = append(rows, record)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return []Table{{Source: "delimited", Rows: rows}}, nil
}

// ParseSpreadsheet reads every sheet of an XLSX workbook
func ParseSpreadsheet(content []byte) ([]Table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	var tables []Table
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
		}
		if len(rows) > 0 {
			tables = append(tables, Table{Source: "sheet:" + sheet, Rows: rows})
		}
	}
	return tables, nil
}

// ParseHTML extracts every <table> and the visible document text
func ParseHTML(content []byte) ([]Table, string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return nil, "", fmt.Errorf("failed to parse html: %w", err)
	}

	var tables []Table
	doc.Find("table").Each(func(i int, table *goquery.Selection) {
		var rows [][]string
		table.Find("tr").Each(func(_ int, row *goquery.Selection) {
			var cells []string
			row.Find("td, th").Each(func(_ int, cell *goquery.Selection) {
				cells = append(cells, strings.TrimSpace(cell.Text()))
			})
			if len(cells) > 0 {
				rows = append(rows, cells)
			}
		})
		if len(rows) > 0 {
			tables = append(tables, Table{Source: fmt.Sprintf("html:%d", i), Rows: rows})
		}
	})

	doc.Find("script, style").Remove()
	return tables, doc.Text(), nil
}

// TablesText flattens tables into text lines so text strategies can also read them
func TablesText(tables []Table) string {
	var b strings.Builder
	for _, t := range tables {
		for _, row := range t.Rows {
			b.WriteString(strings.Join(row, " "))
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// looksDelimited reports whether plain text is a CSV/TSV export: at least
// two lines sharing the same non-zero delimiter count.
func looksDelimited(text string) (rune, bool) {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	if len(lines) < 2 {
		return 0, false
	}
	for _, delim := range []string{"\t", ",", ";"} {
		want := strings.Count(lines[0], delim)
		if want == 0 {
			continue
		}
		if strings.Count(lines[1], delim) == want {
			return []rune(delim)[0], true
		}
	}
	return 0, false
}

func stripBOM(b []byte) []byte {
	return bytes.TrimPrefix(b, []byte("\xef\xbb\xbf"))
}
