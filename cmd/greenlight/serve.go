package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/joelkehle/greenlight/internal/config"
	"github.com/joelkehle/greenlight/internal/logger"
	"github.com/joelkehle/greenlight/internal/metrics"
	"github.com/joelkehle/greenlight/internal/report"
	"github.com/joelkehle/greenlight/internal/server"
	"github.com/joelkehle/greenlight/internal/store"
	"github.com/joelkehle/greenlight/internal/telemetry"
)

func newServeCmd(cfg *config.Config) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				cfg.Server.Addr = addr
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := logger.FromContext(ctx)

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     version,
	})
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Warn("trace flush failed", "err", err)
		}
	}()

	st, err := store.Open(store.Config{Path: cfg.Store.Path})
	if err != nil {
		return err
	}
	defer st.Close()

	m := metrics.New()
	pipeline, err := newPipeline(cfg, log, m)
	if err != nil {
		return err
	}
	handler, err := server.New(server.Config{
		Analyzer:   pipeline,
		Store:      st,
		Renderer:   report.NewChromiumPDFRenderer(cfg.Report.ChromePath),
		Metrics:    m,
		Logger:     log,
		AdminToken: cfg.Server.AdminToken,
		RateLimit:  cfg.Server.RateLimit,
	})
	if err != nil {
		return err
	}
	if cfg.Server.AdminToken == "" {
		log.Warn("admin token not set; signup export endpoint disabled")
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(closeCtx)
	}()

	log.Info("greenlight listening", "addr", cfg.Server.Addr, "provider", cfg.LLM.Provider, "model", cfg.LLM.Model, "db", cfg.Store.Path)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.Info("greenlight stopped")
	return nil
}
