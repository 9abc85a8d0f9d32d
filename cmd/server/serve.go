package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/juju/errors"
	"github.com/spf13/cobra"

	"rollcall/internal/api"
	"rollcall/internal/config"
	"rollcall/internal/realtime"
	"rollcall/internal/resync"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}
}

func runServe(ctx context.Context, opts *rootOptions) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg, opts.Verbose)

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.engine.Warmup(ctx); err != nil {
		return err
	}

	hub := realtime.NewHub(a.engine, cfg.RealtimeConfig(), logger, a.metrics)
	defer hub.Close()
	a.bus.Subscribe(hub)
	a.bus.Start(ctx)

	if cfg.Resync.Enabled {
		pinger := resync.NewPinger(a.bus, cfg.ResyncConfig(), nil, logger, a.metrics)
		go pinger.Start(ctx)
	}

	handler := api.NewHandler(a.engine, a.collector, a.metrics, logger, hub)
	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           api.RegisterRoutes(http.NewServeMux(), handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server started", "addr", server.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return errors.Annotate(err, "http server")
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return errors.Annotate(err, "shutdown")
	}
	return nil
}
