package resync

import (
	"context"
	"time"

	"github.com/juju/clock"

	"rollcall/internal/broadcast"
	"rollcall/internal/logs"
	"rollcall/internal/metrics"
)

// Publisher receives the resync requests.
type Publisher interface {
	Publish(e broadcast.Event)
}

type Config struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	Interval     time.Duration `yaml:"interval"`
}

func DefaultConfig() Config {
	return Config{
		InitialDelay: 10 * time.Second,
		Interval:     100 * time.Second,
	}
}

// Pinger periodically asks connected clients to push their attendance data
type Pinger struct {
	publisher Publisher
	cfg       Config
	clock     clock.Clock
	logger    *logs.Logger
	metrics   *metrics.Registry
}

// NewPinger creates a Pinger. A nil clock means the wall clock.
func NewPinger(
	publisher Publisher,
	cfg Config,
	clk clock.Clock,
	logger *logs.Logger,
	reg *metrics.Registry,
) *Pinger {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Pinger{
		publisher: publisher,
		cfg:       cfg,
		clock:     clk,
		logger:    logger,
		metrics:   reg,
	}
}

// Start runs the resync loop until the context is cancelled.
// It blocks and should typically be run in a separate goroutine.
func (p *Pinger) Start(ctx context.Context) {
	wait := p.cfg.InitialDelay
	for {
		select {
		case <-p.clock.After(wait):
			p.runOnce()
			wait = p.cfg.Interval
		case <-ctx.Done():
			p.logger.Debug("resync pinger stopped")
			return
		}
	}
}

// runOnce publishes a single resync request
func (p *Pinger) runOnce() {
	p.metrics.Inc(metrics.ResyncRequestsTotal)
	p.publisher.Publish(broadcast.Event{
		Kind: broadcast.RequestResync,
		At:   p.clock.Now(),
	})
	p.logger.Debug("requested attendance resync")
}
