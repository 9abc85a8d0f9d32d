package api

import "net/http"

func RegisterRoutes(mux *http.ServeMux, h *Handler) http.Handler {
	// Roster and attendance APIs
	mux.HandleFunc("GET /roster", h.GetRoster)
	mux.HandleFunc("POST /attendance/check", h.CheckAndMark)
	mux.HandleFunc("POST /attendance/exists", h.CheckExists)
	mux.HandleFunc("POST /attendance/mark", h.Mark)
	mux.HandleFunc("POST /attendance/sync", h.Sync)
	mux.HandleFunc("GET /attendance", h.GetHistory)
	mux.HandleFunc("GET /attendance/download", h.Download)

	// Paths used by existing front ends
	mux.HandleFunc("GET /google-sheets/mssv", h.GetRoster)
	mux.HandleFunc("POST /google-sheets/check-mssv", h.CheckAndMark)
	mux.HandleFunc("GET /google-sheets/download-list", h.Download)

	// Realtime
	mux.HandleFunc("GET /ws", h.Websocket)

	// Admin APIs
	mux.HandleFunc("POST /admin/roster/invalidate", h.InvalidateRoster)
	mux.HandleFunc("GET /admin/upstream", h.GetUpstream)
	mux.HandleFunc("GET /admin/metrics", h.GetMetricsSnapshot)
	mux.HandleFunc("GET /admin/logs", h.GetLogs)

	// Observability APIs
	mux.HandleFunc("GET /metrics", h.GetMetrics)
	mux.HandleFunc("GET /health", h.GetHealth)

	// Middlewares
	return Chain(
		mux,
		RecoveryMiddleware(h.logger),
		LoggingMiddleware(h.logger),
	)
}
