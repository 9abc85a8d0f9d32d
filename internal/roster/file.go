package roster

import (
	"context"
	"encoding/csv"
	"os"

	"github.com/juju/errors"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"rollcall/internal/fault"
	"rollcall/internal/logs"
	"rollcall/internal/metrics"
)

// FileConfig points the file source at a CSV export of the roster sheet.
type FileConfig struct {
	Path string
}

// FileSource loads the roster from a local CSV file with the same header
// layout as the sheet. A UTF-8 byte order mark is accepted and stripped.
type FileSource struct {
	path    string
	layout  Layout
	logger  *logs.Logger
	metrics *metrics.Registry
}

func NewFileSource(cfg FileConfig, layout Layout, logger *logs.Logger, reg *metrics.Registry) *FileSource {
	return &FileSource{
		path:    cfg.Path,
		layout:  layout,
		logger:  logger,
		metrics: reg,
	}
}

func (s *FileSource) Name() string { return string(DriverFile) }

func (s *FileSource) Load(ctx context.Context) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, fault.Transient("read roster file", err)
	}

	f, err := os.Open(s.path)
	if err != nil {
		return nil, fault.Permanent("open roster file", err)
	}
	defer func() { _ = f.Close() }()

	decoder := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	r := csv.NewReader(transform.NewReader(f, decoder))
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fault.Permanent("read roster file", errors.Annotate(err, s.path))
	}

	entries, issues, err := ParseRows(rows, s.layout)
	if err != nil {
		return nil, fault.Permanent("parse roster file", err)
	}
	reportIssues(s.logger, s.metrics, s.Name(), issues)
	return entries, nil
}
