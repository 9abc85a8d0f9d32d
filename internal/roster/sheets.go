package roster

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/juju/errors"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/jwt"
	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"rollcall/internal/fault"
	"rollcall/internal/logs"
	"rollcall/internal/metrics"
)

// SheetsConfig holds the parameters of the Google Sheets roster source.
type SheetsConfig struct {
	SpreadsheetID     string
	ClientEmail       string
	PrivateKey        string // PEM; literal "\n" sequences are accepted
	Range             string // A1 range; empty reads the whole first sheet
	RequestsPerMinute int    // upstream pacing; <= 0 disables the limiter
	Endpoint          string // optional API base URL override
}

// SheetsSource loads the roster from the first sheet of a spreadsheet using
// a service account.
type SheetsSource struct {
	svc           *sheets.Service
	spreadsheetID string
	rng           string
	layout        Layout
	limiter       *rate.Limiter
	logger        *logs.Logger
	metrics       *metrics.Registry
}

// NewSheetsSource authenticates with the service account in cfg and returns
// a ready source. No API call is made until Load.
func NewSheetsSource(
	ctx context.Context,
	cfg SheetsConfig,
	layout Layout,
	logger *logs.Logger,
	reg *metrics.Registry,
) (*SheetsSource, error) {
	if cfg.SpreadsheetID == "" {
		return nil, errors.NotValidf("empty spreadsheet id")
	}
	if cfg.ClientEmail == "" || cfg.PrivateKey == "" {
		return nil, errors.NotValidf("service account credentials")
	}

	jwtCfg := &jwt.Config{
		Email:      cfg.ClientEmail,
		PrivateKey: []byte(strings.ReplaceAll(cfg.PrivateKey, `\n`, "\n")),
		Scopes:     []string{sheets.SpreadsheetsReadonlyScope},
		TokenURL:   google.JWTTokenURL,
	}
	opts := []option.ClientOption{option.WithTokenSource(jwtCfg.TokenSource(ctx))}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, errors.Annotate(err, "create sheets service")
	}
	return newSheetsSource(svc, cfg, layout, logger, reg), nil
}

func newSheetsSource(
	svc *sheets.Service,
	cfg SheetsConfig,
	layout Layout,
	logger *logs.Logger,
	reg *metrics.Registry,
) *SheetsSource {
	s := &SheetsSource{
		svc:           svc,
		spreadsheetID: cfg.SpreadsheetID,
		rng:           cfg.Range,
		layout:        layout,
		logger:        logger,
		metrics:       reg,
	}
	if cfg.RequestsPerMinute > 0 {
		s.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 2)
	}
	return s
}

func (s *SheetsSource) Name() string { return string(DriverSheets) }

// Load reads every row of the configured range and parses it into entries.
func (s *SheetsSource) Load(ctx context.Context) ([]Entry, error) {
	rng := s.rng
	if rng == "" {
		title, err := s.firstSheetTitle(ctx)
		if err != nil {
			return nil, err
		}
		rng = quoteSheetTitle(title)
	}

	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, rng).
		MajorDimension("ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return nil, classify("read values", err)
	}

	entries, issues, err := ParseRows(toStrings(resp.Values), s.layout)
	if err != nil {
		return nil, fault.Permanent("parse sheet", err)
	}
	reportIssues(s.logger, s.metrics, s.Name(), issues)
	return entries, nil
}

func (s *SheetsSource) firstSheetTitle(ctx context.Context) (string, error) {
	if err := s.wait(ctx); err != nil {
		return "", err
	}
	doc, err := s.svc.Spreadsheets.Get(s.spreadsheetID).
		Fields("sheets.properties").
		Context(ctx).
		Do()
	if err != nil {
		return "", classify("load spreadsheet", err)
	}
	if len(doc.Sheets) == 0 || doc.Sheets[0].Properties == nil {
		return "", fault.Permanent("load spreadsheet", errors.New("spreadsheet has no sheets"))
	}
	return doc.Sheets[0].Properties.Title, nil
}

func (s *SheetsSource) wait(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return fault.Transient("rate limit", err)
	}
	return nil
}

func quoteSheetTitle(title string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'"
}

func toStrings(values [][]interface{}) [][]string {
	rows := make([][]string, len(values))
	for i, row := range values {
		rows[i] = make([]string, len(row))
		for j, v := range row {
			if v == nil {
				continue
			}
			rows[i][j] = fmt.Sprint(v)
		}
	}
	return rows
}

// classify wraps err as transient or permanent.
//
// Transient: HTTP 429 and 5xx, token endpoint 5xx, timeouts and transport
// failures. Permanent: every other API status (bad request, credentials,
// missing spreadsheet) and rejected service account grants.
func classify(op string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError {
			return fault.Transient(op, err)
		}
		return fault.Permanent(op, err)
	}

	var tokenErr *oauth2.RetrieveError
	if errors.As(err, &tokenErr) {
		if tokenErr.Response != nil && tokenErr.Response.StatusCode >= http.StatusInternalServerError {
			return fault.Transient(op, err)
		}
		return fault.Permanent(op, err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fault.Transient(op, err)
	}

	var netErr net.Error
	var urlErr *url.Error
	if errors.As(err, &netErr) || errors.As(err, &urlErr) {
		return fault.Transient(op, err)
	}
	return fault.Permanent(op, err)
}
