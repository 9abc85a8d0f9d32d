package main

import (
	"context"

	"github.com/juju/errors"

	"rollcall/internal/attendance"
	"rollcall/internal/broadcast"
	"rollcall/internal/config"
	"rollcall/internal/ledger"
	"rollcall/internal/logs"
	"rollcall/internal/metrics"
	"rollcall/internal/roster"
	"rollcall/internal/upstream"
)

// app is the wired object graph shared by the commands.
type app struct {
	cfg       config.Config
	logger    *logs.Logger
	metrics   *metrics.Registry
	collector *metrics.Collector
	ledger    ledger.Log
	bus       *broadcast.Broadcaster
	engine    *attendance.Engine
}

func newApp(ctx context.Context, cfg config.Config, logger *logs.Logger) (*app, error) {
	reg := metrics.NewRegistry()
	collector := metrics.NewCollector(reg)

	source, err := roster.Open(ctx, cfg.SourceConfig(), logger, reg)
	if err != nil {
		return nil, errors.Annotate(err, "open roster source")
	}

	log, err := ledger.Open(cfg.LedgerConfig(), logger, reg)
	if err != nil {
		return nil, errors.Annotate(err, "open attendance log")
	}

	bus := broadcast.New(cfg.BroadcastConfig(), logger, reg)
	engineCfg := cfg.EngineConfig()
	engine := attendance.New(source, log, bus, engineCfg, logger, reg,
		attendance.WithCollector(collector),
		attendance.WithTracker(upstream.NewTracker(engineCfg.Policy.Health, reg)),
	)

	return &app{
		cfg:       cfg,
		logger:    logger,
		metrics:   reg,
		collector: collector,
		ledger:    log,
		bus:       bus,
		engine:    engine,
	}, nil
}

func (a *app) Close() {
	a.bus.Stop()
	if err := a.ledger.Close(); err != nil {
		a.logger.Error("closing attendance log", "err", err)
	}
}
