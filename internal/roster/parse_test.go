package roster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRows(t *testing.T) {
	t.Run("joins name columns", func(t *testing.T) {
		rows := [][]string{
			{"STT", "MSSV", "HỌ", "TÊN"},
			{"1", " 20120001 ", "Nguyễn Văn", "An"},
			{"2", "20120002", "Trần", "Bình"},
		}

		entries, issues, err := ParseRows(rows, DefaultLayout())
		require.NoError(t, err)
		assert.Empty(t, issues)
		assert.Equal(t, []Entry{
			{ID: "20120001", Name: "Nguyễn Văn An"},
			{ID: "20120002", Name: "Trần Bình"},
		}, entries)
	})

	t.Run("drops partial rows", func(t *testing.T) {
		rows := [][]string{
			{"MSSV", "HỌ", "TÊN"},
			{"A1", "Alice", ""},
			{"", "Ghost", "Row"},
			{"B2"},
			{"", "", ""},
		}

		entries, issues, err := ParseRows(rows, DefaultLayout())
		require.NoError(t, err)
		assert.Equal(t, []Entry{{ID: "A1", Name: "Alice"}}, entries)
		assert.Equal(t, []RowIssue{
			{Row: 3, Reason: "missing id"},
			{Row: 4, Reason: "missing name for B2"},
		}, issues, "fully blank rows are skipped silently")
	})

	t.Run("matches decomposed and lowercase headers", func(t *testing.T) {
		// "HỌ" and "TÊN" spelled with combining marks
		rows := [][]string{
			{"mssv", "HO\u0323", "TE\u0302N"},
			{"A1", "Le\u0302", "Na"},
		}

		entries, _, err := ParseRows(rows, DefaultLayout())
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "Lê Na", entries[0].Name, "names are NFC normalized")
	})

	t.Run("missing id column is malformed", func(t *testing.T) {
		_, _, err := ParseRows([][]string{{"HỌ", "TÊN"}}, DefaultLayout())
		assert.ErrorContains(t, err, `"MSSV"`)
	})

	t.Run("missing every name column is malformed", func(t *testing.T) {
		_, _, err := ParseRows([][]string{{"MSSV", "Email"}}, DefaultLayout())
		assert.Error(t, err)
	})

	t.Run("empty sheet is malformed", func(t *testing.T) {
		_, _, err := ParseRows(nil, DefaultLayout())
		assert.Error(t, err)
	})
}
