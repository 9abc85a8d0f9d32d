package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/internal/attendance"
	"rollcall/internal/broadcast"
	"rollcall/internal/ledger"
	"rollcall/internal/logs"
	"rollcall/internal/metrics"
	"rollcall/internal/realtime"
	"rollcall/internal/roster"
)

const rosterCSV = "MSSV,HỌ,TÊN\nA1,Nguyễn,An\nB2,Trần,Bình\n"

type testServer struct {
	*httptest.Server
	reg  *metrics.Registry
	path string // roster file
}

func setUpTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()
	rosterPath := filepath.Join(dir, "roster.csv")
	require.NoError(t, os.WriteFile(rosterPath, []byte(rosterCSV), 0o600))

	reg := metrics.NewRegistry()
	logger := logs.NewLogger(50, logs.DEBUG)

	log, err := ledger.OpenFile(filepath.Join(dir, "attendance.csv"), logger, reg)
	require.NoError(t, err)

	src := roster.NewFileSource(roster.FileConfig{Path: rosterPath}, roster.DefaultLayout(), logger, reg)
	bus := broadcast.New(broadcast.DefaultConfig(), logger, reg)
	collector := metrics.NewCollector(reg)
	engine := attendance.New(src, log, bus, attendance.DefaultConfig(), logger, reg,
		attendance.WithCollector(collector),
	)
	hub := realtime.NewHub(engine, realtime.DefaultConfig(), logger, reg)

	h := NewHandler(engine, collector, reg, logger, hub)
	server := httptest.NewServer(RegisterRoutes(http.NewServeMux(), h))
	t.Cleanup(func() {
		hub.Close()
		server.Close()
	})
	return &testServer{Server: server, reg: reg, path: rosterPath}
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func get(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

/* ---------------- GET /roster ---------------- */

func TestGetRoster(t *testing.T) {
	server := setUpTestServer(t)

	for _, path := range []string{"/roster", "/google-sheets/mssv"} {
		resp := get(t, server.URL+path)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		entries := decode[[]map[string]string](t, resp)
		assert.Equal(t, []map[string]string{
			{"MSSV": "A1", "Name": "Nguyễn An"},
			{"MSSV": "B2", "Name": "Trần Bình"},
		}, entries)
	}
}

func TestGetRoster_Unavailable(t *testing.T) {
	server := setUpTestServer(t)
	require.NoError(t, os.Remove(server.path))

	resp := get(t, server.URL+"/roster")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "5", resp.Header.Get("Retry-After"))

	body := decode[map[string]string](t, resp)
	assert.Equal(t, "cold_start", body["kind"])
}

/* ---------------- POST /attendance/check ---------------- */

func TestCheckAndMark(t *testing.T) {
	server := setUpTestServer(t)

	t.Run("SingleID", func(t *testing.T) {
		resp := postJSON(t, server.URL+"/attendance/check", `{"MSSV":"A1"}`)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, []map[string]string{{"MSSV": "A1", "status": "OK"}}, decode[[]map[string]string](t, resp))
	})

	t.Run("ArrayOnLegacyPath", func(t *testing.T) {
		resp := postJSON(t, server.URL+"/google-sheets/check-mssv", `{"MSSV":["B2","C3"]}`)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, []map[string]string{
			{"MSSV": "B2", "status": "OK"},
			{"MSSV": "C3", "status": "NOT FOUND"},
		}, decode[[]map[string]string](t, resp))
	})

	t.Run("MissingMSSV", func(t *testing.T) {
		resp := postJSON(t, server.URL+"/attendance/check", `{}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "MSSV is required", decode[map[string]string](t, resp)["message"])
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		resp := postJSON(t, server.URL+"/attendance/check", `{bad-json`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("BlankID", func(t *testing.T) {
		resp := postJSON(t, server.URL+"/attendance/check", `{"MSSV":["A1","  "]}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "validation", decode[map[string]string](t, resp)["kind"])
	})

	history := decode[[]ledger.Record](t, get(t, server.URL+"/attendance"))
	assert.Equal(t, []ledger.Record{
		{ID: "A1", Name: "Nguyễn An", Marked: true},
		{ID: "B2", Name: "Trần Bình", Marked: true},
	}, history)
}

/* ---------------- POST /attendance/exists ---------------- */

func TestCheckExists(t *testing.T) {
	server := setUpTestServer(t)

	resp := postJSON(t, server.URL+"/attendance/exists", `{"MSSV":["A1","C3"]}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []bool{true, false}, decode[[]bool](t, resp))

	history := decode[[]ledger.Record](t, get(t, server.URL+"/attendance"))
	assert.Empty(t, history, "exists never marks")
}

/* ---------------- POST /attendance/mark ---------------- */

func TestMark(t *testing.T) {
	server := setUpTestServer(t)

	resp := postJSON(t, server.URL+"/attendance/mark", `{"MSSV":["A1","C3"]}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string][]string{"marked": {"A1"}}, decode[map[string][]string](t, resp))

	resp = postJSON(t, server.URL+"/attendance/mark", `{"MSSV":"A1"}`)
	assert.Equal(t, map[string][]string{"marked": {}}, decode[map[string][]string](t, resp))
}

/* ---------------- POST /attendance/sync ---------------- */

func TestSync(t *testing.T) {
	server := setUpTestServer(t)

	resp := postJSON(t, server.URL+"/attendance/sync", `[{"MSSV":"D4","Name":"Phạm Dũng"}]`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string][]string{"marked": {"D4"}}, decode[map[string][]string](t, resp))

	resp = postJSON(t, server.URL+"/attendance/exists", `{"MSSV":"D4"}`)
	assert.Equal(t, []bool{true}, decode[[]bool](t, resp))

	resp = postJSON(t, server.URL+"/attendance/sync", `[{"MSSV":"E5","Name":""}]`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

/* ---------------- GET /attendance/download ---------------- */

func TestDownload(t *testing.T) {
	server := setUpTestServer(t)
	postJSON(t, server.URL+"/attendance/mark", `{"MSSV":["B2"]}`)

	for _, path := range []string{"/attendance/download", "/google-sheets/download-list"} {
		resp := get(t, server.URL+path)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "text/csv; charset=utf-8", resp.Header.Get("Content-Type"))
		assert.Equal(t, "attachment; filename=attendance.csv", resp.Header.Get("Content-Disposition"))

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, "\uFEFFMSSV,Name,Điểm Danh\nB2,Trần Bình,X\n", string(body))
	}
}

/* ---------------- POST /admin/roster/invalidate ---------------- */

func TestInvalidateRoster(t *testing.T) {
	server := setUpTestServer(t)

	resp := postJSON(t, server.URL+"/attendance/exists", `{"MSSV":"C3"}`)
	assert.Equal(t, []bool{false}, decode[[]bool](t, resp))

	require.NoError(t, os.WriteFile(server.path, []byte(rosterCSV+"C3,Lê,Cẩm\n"), 0o600))
	resp = postJSON(t, server.URL+"/admin/roster/invalidate", ``)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = postJSON(t, server.URL+"/attendance/exists", `{"MSSV":"C3"}`)
	assert.Equal(t, []bool{true}, decode[[]bool](t, resp))
}

/* ---------------- Observability ---------------- */

func TestGetMetrics(t *testing.T) {
	server := setUpTestServer(t)
	get(t, server.URL+"/roster")

	resp := get(t, server.URL+"/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "rollcall_roster_reloads_total 1")
	assert.Contains(t, string(body), "rollcall_roster_reload_seconds_count 1")

	resp = get(t, server.URL+"/admin/metrics")
	data := decode[map[string]int64](t, resp)
	assert.Equal(t, int64(2), data[string(metrics.RosterEntries)])
}

func TestGetHealth(t *testing.T) {
	server := setUpTestServer(t)

	t.Run("ColdRosterIsCritical", func(t *testing.T) {
		resp := get(t, server.URL+"/health")
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		report := decode[map[string]any](t, resp)
		assert.Equal(t, "CRITICAL", report["overall_status"])
	})

	t.Run("Loaded", func(t *testing.T) {
		get(t, server.URL+"/roster")
		resp := get(t, server.URL+"/health")
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		report := decode[map[string]any](t, resp)
		assert.Contains(t, report, "overall_status")
		assert.Contains(t, report, "summary")
		assert.Contains(t, report, "signals")
		assert.Contains(t, report, "recommendations")
		assert.Equal(t, "fresh", report["roster_state"])
	})
}

func TestGetLogs(t *testing.T) {
	server := setUpTestServer(t)
	get(t, server.URL+"/roster")

	resp := get(t, server.URL+"/admin/logs?n=5")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	entries := decode[[]logs.Entry](t, resp)
	assert.NotEmpty(t, entries)
	assert.LessOrEqual(t, len(entries), 5)

	resp = get(t, server.URL+"/admin/logs?n=zero")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetUpstream(t *testing.T) {
	server := setUpTestServer(t)
	get(t, server.URL+"/roster")

	status := decode[[]map[string]any](t, get(t, server.URL+"/admin/upstream"))
	require.Len(t, status, 1)
	assert.Equal(t, "file", status[0]["name"])
	assert.Equal(t, "healthy", status[0]["state"])
}

/* ---------------- GET /ws ---------------- */

func TestWebsocketThroughMiddleware(t *testing.T) {
	server := setUpTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg realtime.Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, realtime.EventConnectionStatus, msg.Event)

	push := `{"event":"attendanceData","data":[{"MSSV":"A1","Name":"Nguyễn An"}]}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(push)))

	assert.Eventually(t, func() bool {
		resp, err := http.Get(server.URL + "/attendance")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var history []ledger.Record
		_ = json.NewDecoder(resp.Body).Decode(&history)
		return len(history) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

/* ---------------- Route validation ---------------- */

func TestRouteValidation(t *testing.T) {
	server := setUpTestServer(t)

	t.Run("MethodNotAllowed", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodDelete, server.URL+"/roster", bytes.NewBuffer(nil))
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})
}
