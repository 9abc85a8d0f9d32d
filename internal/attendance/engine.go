// Package attendance reconciles check and mark requests against the cached
// roster and the durable attendance log.
package attendance

import (
	"context"
	"io"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"

	"rollcall/internal/broadcast"
	"rollcall/internal/fault"
	"rollcall/internal/ledger"
	"rollcall/internal/logs"
	"rollcall/internal/metrics"
	"rollcall/internal/roster"
	"rollcall/internal/upstream"
)

// Publisher receives the events the engine emits.
type Publisher interface {
	Publish(e broadcast.Event)
}

// Config tunes the roster cache and the upstream policy.
type Config struct {
	RosterTTL time.Duration
	// ReloadCooldown is how long a stale roster is served after a failed
	// reload before the upstream is tried again.
	ReloadCooldown time.Duration
	Policy         upstream.Policy
}

func DefaultConfig() Config {
	return Config{
		RosterTTL:      60 * time.Second,
		ReloadCooldown: 10 * time.Second,
		Policy:         upstream.DefaultPolicy(),
	}
}

// Status is the per-id outcome of CheckAndMark.
type Status string

const (
	StatusOK       Status = "OK"
	StatusNotFound Status = "NOT FOUND"
)

// CheckResult pairs a submitted id with its roster status.
type CheckResult struct {
	ID     string `json:"MSSV"`
	Status Status `json:"status"`
}

// Engine is safe for concurrent use.
type Engine struct {
	source    roster.Source
	cache     *roster.Cache
	log       ledger.Log
	publisher Publisher
	policy    upstream.Policy
	tracker   *upstream.Tracker
	collector *metrics.Collector
	clock     clock.Clock
	logger    *logs.Logger
	metrics   *metrics.Registry
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock used for cache freshness and events.
func WithClock(clk clock.Clock) Option {
	return func(e *Engine) {
		e.clock = clk
	}
}

// WithCollector records reload latency on c.
func WithCollector(c *metrics.Collector) Option {
	return func(e *Engine) {
		e.collector = c
	}
}

// WithTracker shares an upstream health tracker with other components.
func WithTracker(t *upstream.Tracker) Option {
	return func(e *Engine) {
		e.tracker = t
	}
}

func New(
	source roster.Source,
	log ledger.Log,
	publisher Publisher,
	cfg Config,
	logger *logs.Logger,
	reg *metrics.Registry,
	opts ...Option,
) *Engine {
	e := &Engine{
		source:    source,
		log:       log,
		publisher: publisher,
		policy:    cfg.Policy,
		clock:     clock.WallClock,
		logger:    logger,
		metrics:   reg,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.tracker == nil {
		e.tracker = upstream.NewTracker(cfg.Policy.Health, reg)
	}
	e.tracker.Register(source.Name())

	e.cache = roster.NewCache(e.load, cfg.RosterTTL, logger, reg,
		roster.WithClock(e.clock),
		roster.WithReloadObserver(e.observeReload),
		roster.WithFailureCooldown(cfg.ReloadCooldown),
	)
	return e
}

func (e *Engine) observeReload(d time.Duration, _ error) {
	if e.collector != nil {
		e.collector.ObserveReload(d)
	}
}

// load fetches the roster through the retry and timeout policy.
func (e *Engine) load(ctx context.Context) ([]roster.Entry, error) {
	name := e.source.Name()
	var entries []roster.Entry

	err := upstream.Retry(ctx, e.policy.Retry, func(attempt int) error {
		e.metrics.Inc(metrics.UpstreamAttemptsTotal)
		if attempt > 1 {
			e.metrics.Inc(metrics.UpstreamRetriesTotal)
			e.logger.Warn("retrying roster load", "source", name, "attempt", attempt)
		}

		callCtx, cancel := e.sourceContext(ctx)
		defer cancel()

		got, err := e.source.Load(callCtx)
		if err != nil {
			err = classifyLoadError(err)
			e.tracker.MarkFailure(name, err)
			return err
		}
		e.tracker.MarkSuccess(name)
		entries = got
		return nil
	})
	return entries, err
}

func (e *Engine) sourceContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.policy.Timeout.SourceTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.policy.Timeout.SourceTimeout)
}

// classifyLoadError makes sure every source failure is an UpstreamError.
// Timeouts are transient; anything a source left unclassified is not.
func classifyLoadError(err error) error {
	if fault.KindOf(err) == fault.KindUpstream {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fault.Transient("load roster", err)
	}
	return fault.Permanent("load roster", err)
}

// Warmup performs the initial roster load. A permanent upstream failure is
// returned; a transient one is logged and left for the next request.
func (e *Engine) Warmup(ctx context.Context) error {
	snap, err := e.cache.Get(ctx)
	if err != nil {
		if fault.IsRetryable(err) {
			e.logger.Warn("initial roster load failed, will retry on demand", "err", err)
			return nil
		}
		return errors.Annotate(err, "initial roster load")
	}
	e.logger.Info("roster warmed up", "entries", snap.Len())
	return nil
}

// Roster returns the current roster in sheet order.
func (e *Engine) Roster(ctx context.Context) ([]roster.Entry, error) {
	snap, err := e.cache.Get(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return snap.Entries(), nil
}

// CheckExists reports, for each id in order, whether it is on the roster.
func (e *Engine) CheckExists(ctx context.Context, ids []string) ([]bool, error) {
	clean, err := e.validateIDs(ids)
	if err != nil {
		return nil, err
	}
	snap, err := e.cache.Get(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}

	out := make([]bool, len(clean))
	for i, id := range clean {
		out[i] = snap.Has(id)
	}
	e.metrics.Add(metrics.AttendanceChecksTotal, int64(len(clean)))
	return out, nil
}

// MarkAttendance records every id that is on the roster and not yet in the
// log. Unknown ids are dropped. It returns the ids newly recorded.
func (e *Engine) MarkAttendance(ctx context.Context, ids []string) ([]string, error) {
	clean, err := e.validateIDs(ids)
	if err != nil {
		return nil, err
	}
	snap, err := e.cache.Get(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return e.record(ctx, e.resolve(snap, clean))
}

// CheckAndMark reports the roster status of each id, then marks the ones
// that were found.
func (e *Engine) CheckAndMark(ctx context.Context, ids []string) ([]CheckResult, error) {
	clean, err := e.validateIDs(ids)
	if err != nil {
		return nil, err
	}
	snap, err := e.cache.Get(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}

	results := make([]CheckResult, len(clean))
	for i, id := range clean {
		status := StatusNotFound
		if snap.Has(id) {
			status = StatusOK
		}
		results[i] = CheckResult{ID: id, Status: status}
	}
	e.metrics.Add(metrics.AttendanceChecksTotal, int64(len(clean)))

	if _, err := e.record(ctx, e.resolve(snap, clean)); err != nil {
		return nil, err
	}
	return results, nil
}

// SyncExternalAttendance accepts attendance gathered elsewhere. Ids missing
// from the roster are merged into the current snapshot without a reload,
// then every record is appended to the log. It returns the ids newly
// recorded.
func (e *Engine) SyncExternalAttendance(ctx context.Context, entries []roster.Entry) ([]string, error) {
	clean, err := e.validateEntries(entries)
	if err != nil {
		return nil, err
	}
	if _, err := e.cache.Get(ctx); err != nil {
		return nil, errors.Trace(err)
	}

	if added := e.cache.Merge(clean); len(added) > 0 {
		e.logger.Info("merged external ids into roster", "count", len(added))
	}

	records := make([]ledger.Record, len(clean))
	for i, entry := range clean {
		records[i] = ledger.Record{ID: entry.ID, Name: entry.Name}
	}
	ids, err := e.record(ctx, records)
	if err != nil {
		return nil, err
	}
	e.metrics.Add(metrics.AttendanceSyncedTotal, int64(len(ids)))
	return ids, nil
}

// History returns every attendance record in insertion order.
func (e *Engine) History(ctx context.Context) ([]ledger.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Trace(err)
	}
	records, err := e.log.ReadAll()
	return records, errors.Trace(err)
}

// ExportHistory writes the downloadable attendance file to w.
func (e *Engine) ExportHistory(ctx context.Context, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(e.log.Export(w))
}

// InvalidateRoster forces the next request to reload the roster.
func (e *Engine) InvalidateRoster() {
	e.cache.Invalidate()
	e.logger.Info("roster invalidated")
}

// RosterState reports the cache freshness state.
func (e *Engine) RosterState() roster.State {
	return e.cache.State()
}

// UpstreamStatus reports the health of the roster source.
func (e *Engine) UpstreamStatus() []upstream.Status {
	return e.tracker.Snapshot()
}

func (e *Engine) resolve(snap *roster.Snapshot, ids []string) []ledger.Record {
	records := make([]ledger.Record, 0, len(ids))
	unknown := 0
	for _, id := range ids {
		entry, ok := snap.Lookup(id)
		if !ok {
			unknown++
			continue
		}
		records = append(records, ledger.Record{ID: entry.ID, Name: entry.Name})
	}
	if unknown > 0 {
		e.metrics.Add(metrics.AttendanceUnknownTotal, int64(unknown))
		e.logger.Debug("ignoring ids not on the roster", "count", unknown)
	}
	return records
}

// record appends records to the log and announces the new ones.
func (e *Engine) record(ctx context.Context, records []ledger.Record) ([]string, error) {
	ids := []string{}
	if len(records) == 0 {
		return ids, nil
	}

	appended, err := e.log.Append(ctx, records)
	if err != nil {
		return nil, errors.Annotate(err, "record attendance")
	}
	for _, r := range appended {
		ids = append(ids, r.ID)
	}
	if len(ids) == 0 {
		return ids, nil
	}

	e.metrics.Add(metrics.AttendanceMarkedTotal, int64(len(ids)))
	e.logger.Info("attendance marked", "count", len(ids))
	e.publisher.Publish(broadcast.Event{
		Kind: broadcast.AttendanceMarked,
		IDs:  ids,
		At:   e.clock.Now(),
	})
	return ids, nil
}

func normalizeAll(ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = roster.Normalize(id)
	}
	return out
}
