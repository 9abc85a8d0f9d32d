package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rollcall/internal/attendance"
	"rollcall/internal/fault"
	"rollcall/internal/health"
	"rollcall/internal/ledger"
	"rollcall/internal/logs"
	"rollcall/internal/metrics"
	"rollcall/internal/roster"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	engine   *attendance.Engine
	metrics  *metrics.Registry
	logger   *logs.Logger
	analyzer *health.Analyzer
	hub      http.Handler
	prom     http.Handler
}

// NewHandler creates a new API handler. hub serves the websocket endpoint
// and may be nil.
func NewHandler(
	engine *attendance.Engine,
	collector *metrics.Collector,
	reg *metrics.Registry,
	logger *logs.Logger,
	hub http.Handler,
) *Handler {
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collector,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Handler{
		engine:   engine,
		metrics:  reg,
		logger:   logger,
		analyzer: health.NewAnalyzer(reg, logger, engine.RosterState),
		hub:      hub,
		prom:     promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}),
	}
}

/* ---------------- helpers ---------------- */

type errorResponse struct {
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err onto a status code by its fault kind.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := fault.KindOf(err)

	status := http.StatusInternalServerError
	message := "internal error"
	switch kind {
	case fault.KindValidation:
		status = http.StatusBadRequest
		message = err.Error()
	case fault.KindColdStart, fault.KindUpstream:
		status = http.StatusServiceUnavailable
		message = "roster unavailable"
	case fault.KindPersistence:
		message = "failed to record attendance"
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "kind", kind, "err", err)
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "5")
	}
	writeJSON(w, status, errorResponse{Message: message, Kind: string(kind)})
}

// idList accepts either a single id or an array of ids.
type idList []string

func (l *idList) UnmarshalJSON(data []byte) error {
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte("[")) {
		var ids []string
		if err := json.Unmarshal(data, &ids); err != nil {
			return err
		}
		*l = ids
		return nil
	}
	var id string
	if err := json.Unmarshal(data, &id); err != nil {
		return err
	}
	*l = idList{id}
	return nil
}

type idsRequest struct {
	MSSV idList `json:"MSSV"`
}

func (h *Handler) decodeIDs(w http.ResponseWriter, r *http.Request) ([]string, bool) {
	var req idsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "invalid json body"})
		return nil, false
	}
	if len(req.MSSV) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "MSSV is required"})
		return nil, false
	}
	return req.MSSV, true
}

type markResponse struct {
	Marked []string `json:"marked"`
}

/* ---------------- GET /roster ---------------- */

func (h *Handler) GetRoster(w http.ResponseWriter, r *http.Request) {
	entries, err := h.engine.Roster(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

/* ---------------- POST /attendance/check ---------------- */

func (h *Handler) CheckAndMark(w http.ResponseWriter, r *http.Request) {
	ids, ok := h.decodeIDs(w, r)
	if !ok {
		return
	}
	results, err := h.engine.CheckAndMark(r.Context(), ids)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

/* ---------------- POST /attendance/exists ---------------- */

func (h *Handler) CheckExists(w http.ResponseWriter, r *http.Request) {
	ids, ok := h.decodeIDs(w, r)
	if !ok {
		return
	}
	exists, err := h.engine.CheckExists(r.Context(), ids)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exists)
}

/* ---------------- POST /attendance/mark ---------------- */

func (h *Handler) Mark(w http.ResponseWriter, r *http.Request) {
	ids, ok := h.decodeIDs(w, r)
	if !ok {
		return
	}
	marked, err := h.engine.MarkAttendance(r.Context(), ids)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, markResponse{Marked: marked})
}

/* ---------------- POST /attendance/sync ---------------- */

func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	var records []roster.Entry
	if err := json.NewDecoder(r.Body).Decode(&records); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "invalid json body"})
		return
	}
	marked, err := h.engine.SyncExternalAttendance(r.Context(), records)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, markResponse{Marked: marked})
}

/* ---------------- GET /attendance ---------------- */

func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	records, err := h.engine.History(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if records == nil {
		records = []ledger.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

/* ---------------- GET /attendance/download ---------------- */

func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := h.engine.ExportHistory(r.Context(), &buf); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename=attendance.csv")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

/* ---------------- POST /admin/roster/invalidate ---------------- */

func (h *Handler) InvalidateRoster(w http.ResponseWriter, r *http.Request) {
	h.engine.InvalidateRoster()
	w.WriteHeader(http.StatusNoContent)
}

/* ---------------- GET /admin/upstream ---------------- */

func (h *Handler) GetUpstream(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.UpstreamStatus())
}

/* ---------------- GET /metrics ---------------- */

func (h *Handler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.prom.ServeHTTP(w, r)
}

/* ---------------- GET /admin/metrics ---------------- */

func (h *Handler) GetMetricsSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.metrics.Snapshot())
}

/* ---------------- GET /admin/logs ---------------- */

func (h *Handler) GetLogs(w http.ResponseWriter, r *http.Request) {
	n := 100
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Message: "n must be a positive integer"})
			return
		}
		n = parsed
	}
	writeJSON(w, http.StatusOK, h.logger.GetLast(n))
}

/* ---------------- GET /health ---------------- */

func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	report := h.analyzer.Analyze()
	status := http.StatusOK
	if report.OverallStatus == health.StatusCritical {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

/* ---------------- GET /ws ---------------- */

func (h *Handler) Websocket(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		http.NotFound(w, r)
		return
	}
	h.hub.ServeHTTP(w, r)
}
