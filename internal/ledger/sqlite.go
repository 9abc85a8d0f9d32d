package ledger

import (
	"context"
	"database/sql"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/juju/errors"
	_ "modernc.org/sqlite"

	"rollcall/internal/fault"
	"rollcall/internal/logs"
	"rollcall/internal/metrics"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS attendance (
	seq       INTEGER PRIMARY KEY AUTOINCREMENT,
	id        TEXT    NOT NULL UNIQUE,
	name      TEXT    NOT NULL,
	marked    INTEGER NOT NULL DEFAULT 1,
	marked_at INTEGER NOT NULL
)`

// SQLiteLog keeps attendance in a SQLite database. Export renders the same
// CSV artifact as FileLog.
type SQLiteLog struct {
	mu      sync.Mutex
	db      *sql.DB
	logger  *logs.Logger
	metrics *metrics.Registry
	now     func() time.Time
}

// OpenSQLite opens (and creates when missing) the database at path.
func OpenSQLite(path string, logger *logs.Logger, reg *metrics.Registry) (*SQLiteLog, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.NotValidf("empty ledger path")
	}

	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(FULL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, &fault.PersistenceError{Op: "open", Err: err}
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, &fault.PersistenceError{Op: "ping", Err: err}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, &fault.PersistenceError{Op: "migrate", Err: err}
	}

	l := &SQLiteLog{db: db, logger: logger, metrics: reg, now: time.Now}
	count, err := l.count(context.Background())
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	reg.Set(metrics.AttendanceRecords, count)
	logger.Info("attendance log opened", "driver", DriverSQLite, "path", path, "records", count)
	return l, nil
}

func (l *SQLiteLog) count(ctx context.Context) (int64, error) {
	var n int64
	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM attendance`).Scan(&n); err != nil {
		return 0, &fault.PersistenceError{Op: "count", Err: err}
	}
	return n, nil
}

func (l *SQLiteLog) Has(id string) bool {
	var one int
	err := l.db.QueryRow(`SELECT 1 FROM attendance WHERE id = ?`, id).Scan(&one)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		l.logger.Error("attendance lookup failed", "id", id, "err", err)
	}
	return err == nil
}

func (l *SQLiteLog) Append(ctx context.Context, records []Record) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Trace(err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	fresh, err := l.insert(ctx, records)
	if err != nil {
		l.metrics.Inc(metrics.PersistenceFailuresTotal)
		l.logger.Error("attendance append failed", "driver", DriverSQLite, "records", len(records), "err", err)
		return nil, err
	}
	if len(fresh) > 0 {
		if count, err := l.count(ctx); err == nil {
			l.metrics.Set(metrics.AttendanceRecords, count)
		}
	}
	return fresh, nil
}

func (l *SQLiteLog) insert(ctx context.Context, records []Record) ([]Record, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &fault.PersistenceError{Op: "begin", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	markedAt := l.now().UTC().UnixMilli()
	fresh := make([]Record, 0, len(records))
	for _, r := range records {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO attendance (id, name, marked, marked_at) VALUES (?, ?, 1, ?)
			 ON CONFLICT(id) DO NOTHING`,
			r.ID, r.Name, markedAt,
		)
		if err != nil {
			return nil, &fault.PersistenceError{Op: "insert", Err: err}
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, &fault.PersistenceError{Op: "insert", Err: err}
		}
		if n == 1 {
			r.Marked = true
			fresh = append(fresh, r)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, &fault.PersistenceError{Op: "commit", Err: err}
	}
	return fresh, nil
}

func (l *SQLiteLog) ReadAll() ([]Record, error) {
	rows, err := l.db.Query(`SELECT id, name, marked FROM attendance ORDER BY seq`)
	if err != nil {
		return nil, &fault.PersistenceError{Op: "read", Err: err}
	}
	defer func() { _ = rows.Close() }()

	var records []Record
	for rows.Next() {
		var (
			r      Record
			marked int
		)
		if err := rows.Scan(&r.ID, &r.Name, &marked); err != nil {
			return nil, &fault.PersistenceError{Op: "read", Err: err}
		}
		r.Marked = marked != 0
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &fault.PersistenceError{Op: "read", Err: err}
	}
	return records, nil
}

func (l *SQLiteLog) Export(w io.Writer) error {
	records, err := l.ReadAll()
	if err != nil {
		return err
	}
	return EncodeCSV(w, records)
}

func (l *SQLiteLog) Close() error {
	return l.db.Close()
}
