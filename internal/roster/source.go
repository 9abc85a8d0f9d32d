package roster

import (
	"context"
	"fmt"

	"rollcall/internal/logs"
	"rollcall/internal/metrics"
)

// Source fetches the full roster from an external system.
//
// Implementations are stateless between calls. Errors should be wrapped
// with fault.Transient or fault.Permanent so the retry policy can tell them
// apart.
type Source interface {
	Name() string
	Load(ctx context.Context) ([]Entry, error)
}

// Driver identifies a roster source implementation.
type Driver string

const (
	DriverSheets Driver = "sheets" // Google Sheets (default)
	DriverFile   Driver = "file"   // local CSV export of the sheet
)

// SourceConfig selects and configures a Source.
type SourceConfig struct {
	Driver Driver
	Sheets SheetsConfig
	File   FileConfig
	Layout Layout
}

// Open builds the Source selected by cfg.Driver.
func Open(ctx context.Context, cfg SourceConfig, logger *logs.Logger, reg *metrics.Registry) (Source, error) {
	switch cfg.Driver {
	case DriverSheets, "":
		return NewSheetsSource(ctx, cfg.Sheets, cfg.Layout, logger, reg)
	case DriverFile:
		return NewFileSource(cfg.File, cfg.Layout, logger, reg), nil
	default:
		return nil, fmt.Errorf("unknown roster driver %q", cfg.Driver)
	}
}

// reportIssues logs the rows a source dropped while parsing.
func reportIssues(logger *logs.Logger, reg *metrics.Registry, source string, issues []RowIssue) {
	for _, issue := range issues {
		logger.Warn("roster row dropped", "source", source, "row", issue.Row, "reason", issue.Reason)
	}
	if len(issues) > 0 {
		reg.Add(metrics.RosterRowsDroppedTotal, int64(len(issues)))
	}
}
