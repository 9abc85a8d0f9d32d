package roster

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"rollcall/internal/fault"
	"rollcall/internal/logs"
	"rollcall/internal/metrics"
)

// fakeSheetsAPI serves the two Sheets v4 endpoints the source uses.
type fakeSheetsAPI struct {
	values     [][]string
	status     int // non-zero forces an error status on the values call
	metaCalls  int32
	valueCalls int32
	lastRange  string
}

func (f *fakeSheetsAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasPrefix(r.URL.Path, "/v4/spreadsheets/sheet-1/values/"):
		atomic.AddInt32(&f.valueCalls, 1)
		f.lastRange = strings.TrimPrefix(r.URL.Path, "/v4/spreadsheets/sheet-1/values/")
		if f.status != 0 {
			w.WriteHeader(f.status)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]any{"code": f.status, "message": http.StatusText(f.status)},
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"range":          "Roster!A1:C10",
			"majorDimension": "ROWS",
			"values":         f.values,
		})
	case r.URL.Path == "/v4/spreadsheets/sheet-1":
		atomic.AddInt32(&f.metaCalls, 1)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"spreadsheetId": "sheet-1",
			"sheets": []any{
				map[string]any{"properties": map[string]any{"title": "Roster", "index": 0}},
				map[string]any{"properties": map[string]any{"title": "Archive", "index": 1}},
			},
		})
	default:
		http.NotFound(w, r)
	}
}

func newFakeSheetsSource(t *testing.T, api *fakeSheetsAPI, cfg SheetsConfig) (*SheetsSource, *metrics.Registry) {
	t.Helper()
	server := httptest.NewServer(api)
	t.Cleanup(server.Close)

	svc, err := sheets.NewService(context.Background(),
		option.WithEndpoint(server.URL+"/"),
		option.WithHTTPClient(server.Client()),
	)
	require.NoError(t, err)

	cfg.SpreadsheetID = "sheet-1"
	reg := metrics.NewRegistry()
	return newSheetsSource(svc, cfg, DefaultLayout(), logs.NewLogger(50, logs.DEBUG), reg), reg
}

func TestSheetsSource_Load(t *testing.T) {
	api := &fakeSheetsAPI{values: [][]string{
		{"MSSV", "HỌ", "TÊN"},
		{"A1", "Nguyễn", "An"},
		{"B2", "Trần", "Bình"},
		{"C3", "", ""},
	}}
	src, reg := newFakeSheetsSource(t, api, SheetsConfig{})

	entries, err := src.Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []Entry{
		{ID: "A1", Name: "Nguyễn An"},
		{ID: "B2", Name: "Trần Bình"},
	}, entries)
	assert.Equal(t, int32(1), atomic.LoadInt32(&api.metaCalls))
	assert.Equal(t, "'Roster'", api.lastRange, "reads the first sheet")
	assert.Equal(t, int64(1), reg.Snapshot()[string(metrics.RosterRowsDroppedTotal)])
	assert.Equal(t, "sheets", src.Name())
}

func TestSheetsSource_ExplicitRangeSkipsMetadata(t *testing.T) {
	api := &fakeSheetsAPI{values: [][]string{{"MSSV", "HỌ", "TÊN"}, {"A1", "Alice", "A"}}}
	src, _ := newFakeSheetsSource(t, api, SheetsConfig{Range: "Roster!A1:C"})

	_, err := src.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(0), atomic.LoadInt32(&api.metaCalls))
	assert.Equal(t, "Roster!A1:C", api.lastRange)
}

func TestSheetsSource_ErrorClassification(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
	}{
		{http.StatusServiceUnavailable, true},
		{http.StatusTooManyRequests, true},
		{http.StatusForbidden, false},
		{http.StatusNotFound, false},
	}

	for _, tc := range tests {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			api := &fakeSheetsAPI{status: tc.status}
			src, _ := newFakeSheetsSource(t, api, SheetsConfig{})

			_, err := src.Load(context.Background())
			require.Error(t, err)
			assert.Equal(t, fault.KindUpstream, fault.KindOf(err))
			assert.Equal(t, tc.retryable, fault.IsRetryable(err))
		})
	}
}

func TestSheetsSource_MalformedSheetIsPermanent(t *testing.T) {
	api := &fakeSheetsAPI{values: [][]string{{"Email", "Phone"}}}
	src, _ := newFakeSheetsSource(t, api, SheetsConfig{})

	_, err := src.Load(context.Background())
	require.Error(t, err)
	assert.False(t, fault.IsRetryable(err))
}

func TestSheetsSource_RateLimited(t *testing.T) {
	api := &fakeSheetsAPI{values: [][]string{{"MSSV", "HỌ", "TÊN"}}}
	src, _ := newFakeSheetsSource(t, api, SheetsConfig{RequestsPerMinute: 1, Range: "A:C"})

	// burst of two, then the limiter would wait a minute
	_, err := src.Load(context.Background())
	require.NoError(t, err)
	_, err = src.Load(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = src.Load(ctx)
	require.Error(t, err)
	assert.True(t, fault.IsRetryable(err))
	assert.Equal(t, int32(2), atomic.LoadInt32(&api.valueCalls))
}

func TestNewSheetsSource_Validation(t *testing.T) {
	logger := logs.NewLogger(10, logs.DEBUG)
	reg := metrics.NewRegistry()

	_, err := NewSheetsSource(context.Background(), SheetsConfig{}, DefaultLayout(), logger, reg)
	assert.True(t, errors.Is(err, errors.NotValid))

	_, err = NewSheetsSource(context.Background(), SheetsConfig{SpreadsheetID: "x"}, DefaultLayout(), logger, reg)
	assert.True(t, errors.Is(err, errors.NotValid))
}

func TestClassify(t *testing.T) {
	assert.True(t, fault.IsRetryable(classify("op", &googleapi.Error{Code: 502})))
	assert.False(t, fault.IsRetryable(classify("op", &googleapi.Error{Code: 400})))

	badGrant := &oauth2.RetrieveError{Response: &http.Response{StatusCode: http.StatusBadRequest}}
	assert.False(t, fault.IsRetryable(classify("op", badGrant)))

	tokenOutage := &oauth2.RetrieveError{Response: &http.Response{StatusCode: http.StatusBadGateway}}
	assert.True(t, fault.IsRetryable(classify("op", tokenOutage)))

	assert.True(t, fault.IsRetryable(classify("op", context.DeadlineExceeded)))
	assert.False(t, fault.IsRetryable(classify("op", errors.New("weird"))))
}
