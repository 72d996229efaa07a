package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/haukened/docvault/internal/app"
	"github.com/haukened/docvault/internal/config"
	"github.com/haukened/docvault/internal/httpx"
	"github.com/haukened/docvault/internal/metrics"
)

const shutdownGrace = 15 * time.Second

func (c *cli) serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", c.cfg.Addr)
	if err != nil {
		return err
	}
	return runServer(ctx, c.cfg, c.log, ln)
}

// runServer wires every component and serves on ln until ctx is cancelled,
// then drains in-flight requests and flushes metrics.
func runServer(ctx context.Context, cfg *config.Config, log *slog.Logger, ln net.Listener) error {
	rt, err := openRuntime(ctx, cfg, log)
	if err != nil {
		_ = ln.Close()
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			log.Error("close storage", "err", err)
		}
	}()

	c, err := buildCipher(cfg, log)
	if err != nil {
		_ = ln.Close()
		return err
	}

	mm := metrics.New(rt.local.DB(), metrics.Config{FlushInterval: cfg.MetricsFlush, Logger: log})
	if err := mm.InitSchema(ctx); err != nil {
		_ = ln.Close()
		return err
	}
	mm.Start(ctx)
	defer func() {
		if err := mm.Stop(context.Background()); err != nil {
			log.Error("final metrics flush", "err", err)
		}
	}()

	h := buildHandler(cfg, app.New(rt.backend, c, mm), rt, mm, log)
	srv := newServer(cfg, h)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	log.Info("starting server", "addr", ln.Addr().String(), "backend", cfg.Backend, "pid", os.Getpid())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func buildHandler(cfg *config.Config, svc httpx.ServicePort, rt *runtime, mm *metrics.Manager, log *slog.Logger) http.Handler {
	h := httpx.New(svc, cfg.MaxBytes.Int64(), func(ctx context.Context) error {
		if err := rt.local.Ping(ctx); err != nil {
			return err
		}
		return rt.backend.Ping(ctx)
	})
	h.Timeout = cfg.RequestTimeout
	h.Logger = log
	h.Metrics = metrics.Handler(mm, cfg.MetricsToken)
	return h.Router()
}

func newServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
