package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"golang.org/x/sync/errgroup"

	"kakeibo/internal/amqp"
	"kakeibo/internal/cli"
	applog "kakeibo/internal/log"
	"kakeibo/internal/worker"
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
	if cfg.AMQPURL == "" {
		return errors.New("AMQP_URL is required for the worker")
	}

	logger, err := cli.SetupLogger(cfg, applog.ComponentWorker)
	if err != nil {
		return err
	}

	logger.Info("Starting kakeibo-worker", "audit_log", cfg.AuditLogPath, "queue", cfg.AMQPQueue)

	audit, err := worker.NewAuditWorker(cfg.AuditLogPath)
	if err != nil {
		return err
	}
	defer audit.Close()

	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		return fmt.Errorf("initialize AMQP client: %w", err)
	}
	defer client.Close()

	ctx, stop := cli.SignalContext(context.Background())
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := client.ConsumeWithRetry(gctx, audit.HandleRecordEvent)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if err := g.Wait(); err != nil {
		logger.Error("Worker stopped with error", applog.FieldError, err)
		return err
	}
	logger.Info("Worker stopped gracefully", "processed", audit.Processed())
	return nil
}
