package metrics

import (
	"sync"
	"sync/atomic"
)

// MetricKey is a strongly typed metric identifier.
type MetricKey string

// Metric keys (centralized)
const (
	// Roster cache
	RosterReloadsTotal        MetricKey = "roster_reloads_total"
	RosterReloadFailuresTotal MetricKey = "roster_reload_failures_total"
	RosterCacheHitsTotal      MetricKey = "roster_cache_hits_total"
	RosterStaleServedTotal    MetricKey = "roster_stale_served_total"
	RosterEntries             MetricKey = "roster_entries"
	RosterRowsDroppedTotal    MetricKey = "roster_rows_dropped_total"

	// Upstream
	UpstreamAttemptsTotal MetricKey = "upstream_attempts_total"
	UpstreamRetriesTotal  MetricKey = "upstream_retries_total"
	UpstreamFailuresTotal MetricKey = "upstream_failures_total"
	UpstreamUnhealthy     MetricKey = "upstream_unhealthy"

	// Attendance
	AttendanceChecksTotal    MetricKey = "attendance_checks_total"
	AttendanceMarkedTotal    MetricKey = "attendance_marked_total"
	AttendanceUnknownTotal   MetricKey = "attendance_unknown_ids_total"
	AttendanceSyncedTotal    MetricKey = "attendance_synced_total"
	AttendanceRecords        MetricKey = "attendance_records"
	PersistenceFailuresTotal MetricKey = "persistence_failures_total"
	ValidationFailuresTotal  MetricKey = "validation_failures_total"

	// Broadcast
	BroadcastPublishedTotal MetricKey = "broadcast_published_total"
	BroadcastDeliveredTotal MetricKey = "broadcast_delivered_total"
	BroadcastFailedTotal    MetricKey = "broadcast_failed_total"
	BroadcastDroppedTotal   MetricKey = "broadcast_dropped_total"

	// Resync
	ResyncRequestsTotal MetricKey = "resync_requests_total"

	// Realtime clients
	RealtimeClients             MetricKey = "realtime_clients"
	RealtimeClientsDroppedTotal MetricKey = "realtime_clients_dropped_total"
)

// Registry stores all metrics.
type Registry struct {
	mu       sync.RWMutex
	counters map[MetricKey]*int64
}

// NewRegistry creates a metrics registry.
func NewRegistry() *Registry {
	return &Registry{
		counters: make(map[MetricKey]*int64),
	}
}

// Inc increments a metric by 1.
func (r *Registry) Inc(key MetricKey) {
	r.Add(key, 1)
}

// Add increments a metric by delta.
func (r *Registry) Add(key MetricKey, delta int64) {
	r.mu.RLock()
	ptr, ok := r.counters[key]
	r.mu.RUnlock()

	if ok {
		atomic.AddInt64(ptr, delta)
		return
	}

	// Slow path: metric not yet initialized
	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if ptr, ok = r.counters[key]; ok {
		atomic.AddInt64(ptr, delta)
		return
	}

	var val int64
	r.counters[key] = &val
	atomic.AddInt64(&val, delta)
}

// Set overwrites a gauge-style metric.
func (r *Registry) Set(key MetricKey, value int64) {
	r.mu.RLock()
	ptr, ok := r.counters[key]
	r.mu.RUnlock()

	if ok {
		atomic.StoreInt64(ptr, value)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if ptr, ok = r.counters[key]; ok {
		atomic.StoreInt64(ptr, value)
		return
	}

	val := value
	r.counters[key] = &val
}
