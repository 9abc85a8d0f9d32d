package ledger

import (
	"encoding/csv"
	"io"
	"strings"

	"github.com/juju/errors"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Header columns of the attendance file.
var header = []string{"MSSV", "Name", "Điểm Danh"}

const markedValue = "X"

func (r Record) row() []string {
	mark := ""
	if r.Marked {
		mark = markedValue
	}
	return []string{r.ID, r.Name, mark}
}

// EncodeCSV writes a UTF-8 byte order mark, the header and one line per
// record.
func EncodeCSV(w io.Writer, records []Record) error {
	tw := transform.NewWriter(w, unicode.UTF8BOM.NewEncoder())
	cw := csv.NewWriter(tw)
	if err := cw.Write(header); err != nil {
		return errors.Trace(err)
	}
	if err := writeRows(cw, records); err != nil {
		return err
	}
	return errors.Trace(tw.Close())
}

func writeRows(cw *csv.Writer, records []Record) error {
	for _, r := range records {
		if err := cw.Write(r.row()); err != nil {
			return errors.Trace(err)
		}
	}
	cw.Flush()
	return errors.Trace(cw.Error())
}

// DecodeCSV parses an attendance file. The byte order mark is optional.
// Rows with a blank id are skipped.
func DecodeCSV(r io.Reader) ([]Record, error) {
	cr := csv.NewReader(transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder())))
	cr.FieldsPerRecord = -1

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, errors.Annotate(err, "parse attendance csv")
	}
	if len(rows) == 0 {
		return nil, nil
	}
	if len(rows[0]) == 0 || strings.TrimSpace(rows[0][0]) != header[0] {
		return nil, errors.NotValidf("attendance header %q", rows[0])
	}

	records := make([]Record, 0, len(rows)-1)
	for _, row := range rows[1:] {
		id := strings.TrimSpace(field(row, 0))
		if id == "" {
			continue
		}
		records = append(records, Record{
			ID:     id,
			Name:   field(row, 1),
			Marked: strings.EqualFold(strings.TrimSpace(field(row, 2)), markedValue),
		})
	}
	return records, nil
}

func field(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return row[i]
}
