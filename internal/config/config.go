// Package config loads service configuration: built-in defaults, then an
// optional YAML file, then environment variables.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/juju/errors"
	"gopkg.in/yaml.v3"

	"rollcall/internal/attendance"
	"rollcall/internal/broadcast"
	"rollcall/internal/ledger"
	"rollcall/internal/realtime"
	"rollcall/internal/resync"
	"rollcall/internal/roster"
	"rollcall/internal/upstream"
)

type Config struct {
	Port            int           `yaml:"port" env:"PORT"`
	LogLevel        string        `yaml:"log_level" env:"ROLLCALL_LOG_LEVEL"`
	LogBuffer       int           `yaml:"log_buffer" env:"ROLLCALL_LOG_BUFFER"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"ROLLCALL_SHUTDOWN_TIMEOUT"`

	Roster    RosterConfig    `yaml:"roster"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
	Resync    ResyncConfig    `yaml:"resync"`
	Realtime  RealtimeConfig  `yaml:"realtime"`
}

type RosterConfig struct {
	Driver            string        `yaml:"driver" env:"ROLLCALL_ROSTER_DRIVER"`
	TTL               time.Duration `yaml:"ttl" env:"ROLLCALL_ROSTER_TTL"`
	ReloadCooldown    time.Duration `yaml:"reload_cooldown" env:"ROLLCALL_ROSTER_RELOAD_COOLDOWN"`
	SpreadsheetID     string        `yaml:"spreadsheet_id" env:"SHEET_ID"`
	ClientEmail       string        `yaml:"client_email" env:"CLIENT_EMAIL"`
	PrivateKey        string        `yaml:"private_key" env:"PRIVATE_KEY"`
	Range             string        `yaml:"range" env:"ROLLCALL_SHEET_RANGE"`
	RequestsPerMinute int           `yaml:"requests_per_minute" env:"ROLLCALL_SHEETS_RPM"`
	Endpoint          string        `yaml:"endpoint" env:"ROLLCALL_SHEETS_ENDPOINT"`
	File              string        `yaml:"file" env:"ROLLCALL_ROSTER_FILE"`
	IDColumn          string        `yaml:"id_column" env:"ROLLCALL_ID_COLUMN"`
	NameColumns       []string      `yaml:"name_columns" env:"ROLLCALL_NAME_COLUMNS"`
}

type UpstreamConfig struct {
	MaxAttempts      int           `yaml:"max_attempts" env:"ROLLCALL_UPSTREAM_MAX_ATTEMPTS"`
	BaseBackoff      time.Duration `yaml:"base_backoff" env:"ROLLCALL_UPSTREAM_BASE_BACKOFF"`
	MaxBackoff       time.Duration `yaml:"max_backoff" env:"ROLLCALL_UPSTREAM_MAX_BACKOFF"`
	SourceTimeout    time.Duration `yaml:"source_timeout" env:"ROLLCALL_UPSTREAM_TIMEOUT"`
	FailureThreshold int           `yaml:"failure_threshold" env:"ROLLCALL_UPSTREAM_FAILURE_THRESHOLD"`
	SuccessThreshold int           `yaml:"success_threshold" env:"ROLLCALL_UPSTREAM_SUCCESS_THRESHOLD"`
}

type LedgerConfig struct {
	Driver string `yaml:"driver" env:"ROLLCALL_LEDGER_DRIVER"`
	Path   string `yaml:"path" env:"ROLLCALL_LEDGER_PATH"`
}

type BroadcastConfig struct {
	QueueSize       int           `yaml:"queue_size" env:"ROLLCALL_BROADCAST_QUEUE"`
	DeliveryTimeout time.Duration `yaml:"delivery_timeout" env:"ROLLCALL_BROADCAST_TIMEOUT"`
}

type ResyncConfig struct {
	Enabled      bool          `yaml:"enabled" env:"ROLLCALL_RESYNC_ENABLED"`
	InitialDelay time.Duration `yaml:"initial_delay" env:"ROLLCALL_RESYNC_INITIAL_DELAY"`
	Interval     time.Duration `yaml:"interval" env:"ROLLCALL_RESYNC_INTERVAL"`
}

type RealtimeConfig struct {
	WriteTimeout time.Duration `yaml:"write_timeout" env:"ROLLCALL_WS_WRITE_TIMEOUT"`
	PongTimeout  time.Duration `yaml:"pong_timeout" env:"ROLLCALL_WS_PONG_TIMEOUT"`
	SendBuffer   int           `yaml:"send_buffer" env:"ROLLCALL_WS_SEND_BUFFER"`
}

// Default returns a config that runs against Google Sheets once the
// spreadsheet id and service account are supplied.
func Default() Config {
	policy := upstream.DefaultPolicy()
	engine := attendance.DefaultConfig()
	layout := roster.DefaultLayout()
	bc := broadcast.DefaultConfig()
	rs := resync.DefaultConfig()
	rt := realtime.DefaultConfig()

	return Config{
		Port:            3000,
		LogLevel:        "INFO",
		LogBuffer:       1000,
		ShutdownTimeout: 10 * time.Second,
		Roster: RosterConfig{
			Driver:            string(roster.DriverSheets),
			TTL:               engine.RosterTTL,
			ReloadCooldown:    engine.ReloadCooldown,
			RequestsPerMinute: 60,
			IDColumn:          layout.IDColumn,
			NameColumns:       layout.NameColumns,
		},
		Upstream: UpstreamConfig{
			MaxAttempts:      policy.Retry.MaxAttempts,
			BaseBackoff:      policy.Retry.BaseBackoff,
			MaxBackoff:       policy.Retry.MaxBackoff,
			SourceTimeout:    policy.Timeout.SourceTimeout,
			FailureThreshold: policy.Health.FailureThreshold,
			SuccessThreshold: policy.Health.SuccessThreshold,
		},
		Ledger: LedgerConfig{
			Driver: string(ledger.DriverCSV),
			Path:   "attendance.csv",
		},
		Broadcast: BroadcastConfig{
			QueueSize:       bc.QueueSize,
			DeliveryTimeout: bc.DeliveryTimeout,
		},
		Resync: ResyncConfig{
			Enabled:      true,
			InitialDelay: rs.InitialDelay,
			Interval:     rs.Interval,
		},
		Realtime: RealtimeConfig{
			WriteTimeout: rt.WriteTimeout,
			PongTimeout:  rt.PongTimeout,
			SendBuffer:   rt.SendBuffer,
		},
	}
}

// Load reads the configuration and validates it.
func Load(path string) (Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Read applies the YAML file at path (if any) and then the environment on
// top of Default. The result is not validated.
func Read(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Annotate(err, "read config file")
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, errors.Annotatef(err, "parse config file %s", path)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Validate checks required fields for the selected drivers.
func (c Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return errors.NotValidf("port %d", c.Port)
	}

	switch roster.Driver(c.Roster.Driver) {
	case roster.DriverSheets:
		if c.Roster.SpreadsheetID == "" {
			return errors.NewNotValid(nil, "roster: SHEET_ID is required for the sheets driver")
		}
		if c.Roster.ClientEmail == "" || c.Roster.PrivateKey == "" {
			return errors.NewNotValid(nil, "roster: CLIENT_EMAIL and PRIVATE_KEY are required for the sheets driver")
		}
	case roster.DriverFile:
		if c.Roster.File == "" {
			return errors.NewNotValid(nil, "roster: file path is required for the file driver")
		}
	default:
		return errors.NotValidf("roster driver %q", c.Roster.Driver)
	}
	if c.Roster.IDColumn == "" || len(c.Roster.NameColumns) == 0 {
		return errors.NotValidf("roster layout")
	}

	switch ledger.Driver(c.Ledger.Driver) {
	case ledger.DriverCSV, ledger.DriverSQLite:
	default:
		return errors.NotValidf("ledger driver %q", c.Ledger.Driver)
	}
	if c.Ledger.Path == "" {
		return errors.NotValidf("ledger path")
	}

	if c.Roster.ReloadCooldown < 0 {
		return errors.NotValidf("roster reload_cooldown %s", c.Roster.ReloadCooldown)
	}
	if c.Upstream.MaxAttempts < 1 {
		return errors.NotValidf("upstream max_attempts %d", c.Upstream.MaxAttempts)
	}
	if c.Resync.Enabled && c.Resync.Interval <= 0 {
		return errors.NotValidf("resync interval %s", c.Resync.Interval)
	}
	return nil
}

// Addr is the HTTP listen address.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c Config) SourceConfig() roster.SourceConfig {
	return roster.SourceConfig{
		Driver: roster.Driver(c.Roster.Driver),
		Sheets: roster.SheetsConfig{
			SpreadsheetID:     c.Roster.SpreadsheetID,
			ClientEmail:       c.Roster.ClientEmail,
			PrivateKey:        c.Roster.PrivateKey,
			Range:             c.Roster.Range,
			RequestsPerMinute: c.Roster.RequestsPerMinute,
			Endpoint:          c.Roster.Endpoint,
		},
		File: roster.FileConfig{Path: c.Roster.File},
		Layout: roster.Layout{
			IDColumn:    c.Roster.IDColumn,
			NameColumns: c.Roster.NameColumns,
		},
	}
}

func (c Config) Policy() upstream.Policy {
	policy := upstream.DefaultPolicy()
	policy.Retry.MaxAttempts = c.Upstream.MaxAttempts
	policy.Retry.BaseBackoff = c.Upstream.BaseBackoff
	policy.Retry.MaxBackoff = c.Upstream.MaxBackoff
	policy.Timeout.SourceTimeout = c.Upstream.SourceTimeout
	policy.Health.FailureThreshold = c.Upstream.FailureThreshold
	policy.Health.SuccessThreshold = c.Upstream.SuccessThreshold
	return policy
}

func (c Config) EngineConfig() attendance.Config {
	return attendance.Config{
		RosterTTL:      c.Roster.TTL,
		ReloadCooldown: c.Roster.ReloadCooldown,
		Policy:         c.Policy(),
	}
}

func (c Config) LedgerConfig() ledger.Config {
	return ledger.Config{Driver: ledger.Driver(c.Ledger.Driver), Path: c.Ledger.Path}
}

func (c Config) BroadcastConfig() broadcast.Config {
	return broadcast.Config{QueueSize: c.Broadcast.QueueSize, DeliveryTimeout: c.Broadcast.DeliveryTimeout}
}

func (c Config) ResyncConfig() resync.Config {
	return resync.Config{InitialDelay: c.Resync.InitialDelay, Interval: c.Resync.Interval}
}

func (c Config) RealtimeConfig() realtime.Config {
	rt := realtime.DefaultConfig()
	rt.WriteTimeout = c.Realtime.WriteTimeout
	rt.PongTimeout = c.Realtime.PongTimeout
	rt.SendBuffer = c.Realtime.SendBuffer
	return rt
}
