package main

import (
	"context"
	"errors"
	"os"

	"savings/internal/amqp"
	"savings/internal/cli"
	"savings/internal/log"
	"savings/internal/worker"
)

func main() {
	os.Exit(run())
}

func run() int {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentWorker)
	cfg := cli.LoadAndValidateConfig(logger)

	if !cfg.EventsEnabled() {
		logger.Error("AMQP_URL is required for the milestone worker")
		return 1
	}

	ctx, cancel := cli.SignalContext(logger)
	defer cancel()

	res := cli.InitSlot(ctx, logger, cfg)
	defer func() {
		if err := res.Cleanup(); err != nil {
			logger.Error("Failed to close storage", log.FieldError, err)
		}
	}()

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err)
		return 1
	}
	defer func() {
		if err := amqpClient.Close(); err != nil {
			logger.Warn("Failed to close AMQP client", log.FieldError, err)
		}
	}()

	milestones := worker.NewMilestoneWorker(res.Slot, worker.NewLogNotifier(logger), logger).
		WithLedgerKey(cfg.MilestonesStorageKey)

	logger.Info("Milestone worker started",
		"queue", cfg.AMQPQueue,
		"backend", cfg.DataBackend)

	err = amqpClient.ConsumeGoalEvents(ctx, milestones.HandleGoalEvent)
	code := exitCode(err)
	if code != 0 {
		logger.Error("Consumer stopped", log.FieldError, err)
		return code
	}

	logger.Info("Milestone worker stopped")
	return 0
}

// exitCode maps the consumer's return to a process status. Stopping on a
// signal cancels the context and counts as a clean exit.
func exitCode(err error) int {
	if err == nil || errors.Is(err, context.Canceled) {
		return 0
	}
	return 1
}
