// Package ledger is the durable, append-only attendance log.
//
// A log holds at most one record per student id for its whole lifetime.
// Appends are deduplicated against everything already written and within
// the batch itself; the first occurrence wins.
package ledger

import (
	"context"
	"fmt"
	"io"

	"rollcall/internal/logs"
	"rollcall/internal/metrics"
)

// Record is one attendance line.
type Record struct {
	ID     string `json:"MSSV"`
	Name   string `json:"Name"`
	Marked bool   `json:"marked"`
}

// Log is implemented by every ledger driver.
type Log interface {
	Has(id string) bool
	// Append writes the records whose id is not yet present and returns
	// exactly those records. Write failures are fault.PersistenceError and
	// leave the log unchanged.
	Append(ctx context.Context, records []Record) ([]Record, error)
	ReadAll() ([]Record, error)
	// Export writes the downloadable CSV artifact.
	Export(w io.Writer) error
	Close() error
}

// Driver selects the storage medium.
type Driver string

const (
	DriverCSV    Driver = "csv"
	DriverSQLite Driver = "sqlite"
)

// Config selects and configures a Log.
type Config struct {
	Driver Driver `yaml:"driver"`
	Path   string `yaml:"path"`
}

// Open builds the Log selected by cfg.Driver. The CSV driver is the default.
func Open(cfg Config, logger *logs.Logger, reg *metrics.Registry) (Log, error) {
	switch cfg.Driver {
	case DriverCSV, "":
		return OpenFile(cfg.Path, logger, reg)
	case DriverSQLite:
		return OpenSQLite(cfg.Path, logger, reg)
	default:
		return nil, fmt.Errorf("unknown ledger driver %q", cfg.Driver)
	}
}

// dedup drops records whose id is already known or repeats earlier in the
// batch. Kept records are marked.
func dedup(records []Record, known func(id string) bool) []Record {
	seen := make(map[string]struct{}, len(records))
	fresh := make([]Record, 0, len(records))
	for _, r := range records {
		if _, dup := seen[r.ID]; dup || known(r.ID) {
			continue
		}
		seen[r.ID] = struct{}{}
		r.Marked = true
		fresh = append(fresh, r)
	}
	return fresh
}
