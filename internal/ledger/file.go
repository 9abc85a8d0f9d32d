package ledger

import (
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"os"
	"sync"

	"github.com/juju/errors"

	"rollcall/internal/fault"
	"rollcall/internal/logs"
	"rollcall/internal/metrics"
)

type appendFile interface {
	io.Writer
	Sync() error
	Truncate(size int64) error
	Close() error
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// openFile is swapped in tests to inject write failures.
var openFile = func(name string, flag int, perm os.FileMode) (appendFile, error) {
	f, err := os.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// FileLog is the CSV-file ledger. The file on disk is the downloadable
// artifact itself; an in-memory copy serves Has and ReadAll.
type FileLog struct {
	mu      sync.Mutex
	path    string
	size    int64
	index   map[string]struct{}
	records []Record
	logger  *logs.Logger
	metrics *metrics.Registry
}

// OpenFile opens the log at path, creating it with the header when absent.
// An existing file is parsed to rebuild the dedup index.
func OpenFile(path string, logger *logs.Logger, reg *metrics.Registry) (*FileLog, error) {
	if path == "" {
		return nil, errors.NotValidf("empty ledger path")
	}
	l := &FileLog{
		path:    path,
		index:   make(map[string]struct{}),
		logger:  logger,
		metrics: reg,
	}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		if err := l.create(os.O_CREATE | os.O_EXCL); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, &fault.PersistenceError{Op: "open", Err: err}
	case isEmpty(data):
		// Left behind by a crash inside create, or an external touch.
		logger.Warn("attendance log is empty, writing header", "path", path)
		if err := l.create(os.O_TRUNC); err != nil {
			return nil, err
		}
	default:
		records, err := DecodeCSV(bytes.NewReader(data))
		if err != nil {
			return nil, &fault.PersistenceError{Op: "load", Err: errors.Annotate(err, path)}
		}
		l.load(records)
		if data[len(data)-1] != '\n' {
			logger.Warn("attendance log lacks a final newline, appending one", "path", path)
			l.size = int64(len(data))
			if err := l.write([]byte("\n")); err != nil {
				return nil, err
			}
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, &fault.PersistenceError{Op: "stat", Err: err}
	}
	l.size = info.Size()
	reg.Set(metrics.AttendanceRecords, int64(len(l.records)))
	logger.Info("attendance log opened", "driver", DriverCSV, "path", path, "records", len(l.records))
	return l, nil
}

// create writes the BOM and header. flag selects between creating a new file
// and truncating an empty one.
func (l *FileLog) create(flag int) error {
	var buf bytes.Buffer
	if err := EncodeCSV(&buf, nil); err != nil {
		return err
	}
	f, err := openFile(l.path, os.O_WRONLY|flag, 0o644)
	if err != nil {
		return &fault.PersistenceError{Op: "create", Err: err}
	}
	_, err = f.Write(buf.Bytes())
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return &fault.PersistenceError{Op: "create", Err: err}
	}
	return nil
}

// isEmpty reports whether data holds nothing but a byte order mark and
// whitespace.
func isEmpty(data []byte) bool {
	return len(bytes.TrimSpace(bytes.TrimPrefix(data, utf8BOM))) == 0
}

func (l *FileLog) load(records []Record) {
	for _, r := range records {
		if _, dup := l.index[r.ID]; dup {
			l.logger.Warn("duplicate id in attendance log", "path", l.path, "id", r.ID)
			continue
		}
		l.index[r.ID] = struct{}{}
		l.records = append(l.records, r)
	}
}

func (l *FileLog) Has(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.index[id]
	return ok
}

func (l *FileLog) Append(ctx context.Context, records []Record) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Trace(err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	fresh := dedup(records, func(id string) bool {
		_, ok := l.index[id]
		return ok
	})
	if len(fresh) == 0 {
		return nil, nil
	}

	var buf bytes.Buffer
	if err := writeRows(csv.NewWriter(&buf), fresh); err != nil {
		return nil, &fault.PersistenceError{Op: "encode", Err: err}
	}
	if err := l.write(buf.Bytes()); err != nil {
		l.metrics.Inc(metrics.PersistenceFailuresTotal)
		l.logger.Error("attendance append failed", "path", l.path, "records", len(fresh), "err", err)
		return nil, err
	}

	for _, r := range fresh {
		l.index[r.ID] = struct{}{}
	}
	l.records = append(l.records, fresh...)
	l.metrics.Set(metrics.AttendanceRecords, int64(len(l.records)))
	return fresh, nil
}

// write appends data and fsyncs. On failure the file is truncated back to
// its previous size so a partial batch never survives.
func (l *FileLog) write(data []byte) error {
	f, err := openFile(l.path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return &fault.PersistenceError{Op: "append", Err: err}
	}

	n, err := f.Write(data)
	if err == nil {
		err = f.Sync()
	}
	if err != nil {
		if terr := f.Truncate(l.size); terr != nil {
			l.logger.Error("attendance log truncate failed", "path", l.path, "size", l.size, "err", terr)
		}
		_ = f.Close()
		return &fault.PersistenceError{Op: "append", Err: err}
	}
	if err := f.Close(); err != nil {
		return &fault.PersistenceError{Op: "append", Err: err}
	}
	l.size += int64(n)
	return nil
}

func (l *FileLog) ReadAll() ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out, nil
}

func (l *FileLog) Export(w io.Writer) error {
	records, _ := l.ReadAll()
	return EncodeCSV(w, records)
}

func (l *FileLog) Close() error { return nil }
