package roster

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Layout names the header columns a roster sheet is read from.
type Layout struct {
	IDColumn    string   `yaml:"id_column"`
	NameColumns []string `yaml:"name_columns"`
}

// DefaultLayout matches the class sheets: MSSV, family name, given name.
func DefaultLayout() Layout {
	return Layout{
		IDColumn:    "MSSV",
		NameColumns: []string{"HỌ", "TÊN"},
	}
}

// RowIssue describes a data row that was dropped during parsing.
type RowIssue struct {
	Row    int // 1-based sheet row number, header included
	Reason string
}

// ParseRows converts a header row plus data rows into roster entries.
//
// Header cells are matched case-insensitively after trimming and NFC
// normalization, so decomposed Vietnamese headers still match. Rows with a
// blank id or a blank name are dropped and reported as issues. A missing id
// column, or none of the name columns, makes the sheet malformed.
func ParseRows(rows [][]string, layout Layout) ([]Entry, []RowIssue, error) {
	if len(rows) == 0 {
		return nil, nil, fmt.Errorf("sheet has no header row")
	}

	header := rows[0]
	idCol := findColumn(header, layout.IDColumn)
	nameCols := make([]int, 0, len(layout.NameColumns))
	for _, want := range layout.NameColumns {
		if col := findColumn(header, want); col >= 0 {
			nameCols = append(nameCols, col)
		}
	}
	if idCol < 0 {
		return nil, nil, fmt.Errorf("header is missing the %q column", layout.IDColumn)
	}
	if len(nameCols) == 0 {
		return nil, nil, fmt.Errorf("header has none of the name columns %v", layout.NameColumns)
	}

	var (
		entries = make([]Entry, 0, len(rows)-1)
		issues  []RowIssue
	)
	for i, row := range rows[1:] {
		rowNum := i + 2
		id := Normalize(cell(row, idCol))
		if id == "" {
			if !isBlank(row) {
				issues = append(issues, RowIssue{Row: rowNum, Reason: "missing id"})
			}
			continue
		}

		parts := make([]string, 0, len(nameCols))
		for _, col := range nameCols {
			if v := Normalize(cell(row, col)); v != "" {
				parts = append(parts, v)
			}
		}
		if len(parts) == 0 {
			issues = append(issues, RowIssue{Row: rowNum, Reason: "missing name for " + id})
			continue
		}
		entries = append(entries, Entry{ID: id, Name: strings.Join(parts, " ")})
	}
	return entries, issues, nil
}

func findColumn(header []string, name string) int {
	want := Normalize(name)
	for i, h := range header {
		if strings.EqualFold(Normalize(h), want) {
			return i
		}
	}
	return -1
}

func cell(row []string, col int) string {
	if col >= len(row) {
		return ""
	}
	return row[col]
}

func isBlank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// Normalize trims s and converts it to NFC, the form roster ids and names
// are stored in.
func Normalize(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}
