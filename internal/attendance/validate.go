package attendance

import (
	"fmt"
	"strings"
	"unicode"

	"rollcall/internal/fault"
	"rollcall/internal/metrics"
	"rollcall/internal/roster"
)

// MaxIDLength is the longest id accepted, in bytes.
const MaxIDLength = 64

func (e *Engine) validateIDs(ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, e.invalid(fault.Invalid("MSSV", "must not be empty"))
	}
	clean := normalizeAll(ids)
	for i, id := range clean {
		if err := checkID(fmt.Sprintf("MSSV[%d]", i), id); err != nil {
			return nil, e.invalid(err)
		}
	}
	return clean, nil
}

func (e *Engine) validateEntries(entries []roster.Entry) ([]roster.Entry, error) {
	if len(entries) == 0 {
		return nil, e.invalid(fault.Invalid("records", "must not be empty"))
	}
	clean := make([]roster.Entry, len(entries))
	for i, entry := range entries {
		id := roster.Normalize(entry.ID)
		if err := checkID(fmt.Sprintf("records[%d].MSSV", i), id); err != nil {
			return nil, e.invalid(err)
		}
		name := roster.Normalize(entry.Name)
		if name == "" {
			return nil, e.invalid(fault.Invalid(fmt.Sprintf("records[%d].Name", i), "must not be blank"))
		}
		clean[i] = roster.Entry{ID: id, Name: name}
	}
	return clean, nil
}

func checkID(field, id string) error {
	switch {
	case id == "":
		return fault.Invalid(field, "must not be blank")
	case len(id) > MaxIDLength:
		return fault.Invalid(field, "longer than %d bytes", MaxIDLength)
	case strings.IndexFunc(id, unicode.IsControl) >= 0:
		return fault.Invalid(field, "contains control characters")
	}
	return nil
}

func (e *Engine) invalid(err error) error {
	e.metrics.Inc(metrics.ValidationFailuresTotal)
	return err
}
