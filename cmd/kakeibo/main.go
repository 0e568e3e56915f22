package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"kakeibo/internal/backend"
	"kakeibo/internal/cli"
	apphttp "kakeibo/internal/http"
	applog "kakeibo/internal/log"
	"kakeibo/internal/metrics"
	"kakeibo/internal/services"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := cli.LoadAndValidateConfig()
	if err != nil {
		return err
	}

	logger, err := cli.SetupLogger(cfg, applog.ComponentApp)
	if err != nil {
		return err
	}

	ctx, stop := cli.SignalContext(context.Background())
	defer stop()

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return err
	}
	res, err := backend.NewFactory(logger.WithComponent(applog.ComponentStorage).Logger).CreateBackend(ctx, backendCfg)
	if err != nil {
		return fmt.Errorf("create backend: %w", err)
	}
	defer func() {
		if err := res.Cleanup(); err != nil {
			logger.Error("Backend cleanup failed", applog.FieldError, err)
		}
	}()

	var m *metrics.Metrics
	opts := []services.Option{}
	if cfg.MetricsAddr != "" {
		m = metrics.New()
		opts = append(opts, services.WithObserver(m))
	}
	if res.Publisher != nil {
		opts = append(opts, services.WithPublisher(res.Publisher))
	}
	svc := services.NewRecordService(res.Store, opts...)

	srv := apphttp.NewServer(cfg.Addr(), svc, apphttp.Options{
		Logger:         logger,
		Metrics:        m,
		RateLimitRPM:   cfg.RateLimitRPM,
		RateLimitBurst: cfg.RateLimitBurst,
	})

	var metricsSrv *http.Server
	if m != nil {
		metricsSrv = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           m.NewServeMux(),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting kakeibo server",
			"addr", srv.Addr,
			"backend", cfg.DataBackend,
			"events", res.Publisher != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})

	if metricsSrv != nil {
		g.Go(func() error {
			logger.Info("Starting metrics server", "addr", metricsSrv.Addr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down", applog.FieldOperation, applog.OpShutdown)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("api server shutdown: %w", err))
		}
		if metricsSrv != nil {
			if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("metrics server shutdown: %w", err))
			}
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server stopped with error", applog.FieldError, err)
		return err
	}
	logger.Info("Server stopped gracefully", "requests", srv.TotalRequests())
	return nil
}
