package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"savings/internal/amqp"
	"savings/internal/cache"
	"savings/internal/cli"
	"savings/internal/core"
	"savings/internal/exchange"
	apphttp "savings/internal/http"
	"savings/internal/log"
	"savings/internal/services"
	"savings/internal/store"
)

const (
	shutdownTimeout      = 30 * time.Second
	cacheCleanupInterval = 10 * time.Minute
	ratesCacheSize       = 8
)

func main() {
	os.Exit(run())
}

func run() int {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentApp)
	cfg := cli.LoadAndValidateConfig(logger)

	ctx, cancel := cli.SignalContext(logger)
	defer cancel()

	res := cli.InitSlot(ctx, logger, cfg)
	defer func() {
		if err := res.Cleanup(); err != nil {
			logger.Error("Failed to close storage", log.FieldError, err)
		}
	}()

	goalStore := store.New(res.Slot,
		store.WithKey(cfg.GoalsStorageKey),
		store.WithLogger(logger))
	goalStore.Initialize(ctx)

	// Config validation already rejected unknown bases.
	base, _ := core.ParseCurrency(cfg.ExchangeBase)
	rateCache := cache.NewLRUCache[core.Rates](ratesCacheSize, cfg.RatesCacheTTL)
	caches := cache.NewManager()
	caches.Register("exchange_rates", rateCache)
	caches.StartCleanup(cacheCleanupInterval)
	defer caches.Stop()

	rates := exchange.NewService(
		exchange.NewClient(cfg.ExchangeAPIURL, cfg.ExchangeAPIKey, cfg.RatesTimeout),
		res.Slot,
		exchange.WithBase(base),
		exchange.WithStorageKey(cfg.RatesStorageKey),
		exchange.WithCache(rateCache),
		exchange.WithLogger(logger),
	)

	var publisher services.EventPublisher
	if cfg.EventsEnabled() {
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
		publisher = amqpClient
		logger.Info("Goal events enabled", "exchange", cfg.AMQPExchange)
	} else {
		logger.Info("AMQP_URL not set, goal events disabled")
	}

	goals := services.NewGoalService(goalStore, publisher, rates)

	var refresher apphttp.RateRefresher
	refreshEnabled := cfg.ExchangeAPIKey != ""
	if refreshEnabled {
		refresher = rates
	} else {
		logger.Warn("EXCHANGE_API_KEY not set, serving stored or default exchange rates")
	}

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Config{
		Goals:             goals,
		Rates:             refresher,
		RequestsPerMinute: cfg.RateLimitPerMinute,
		Logger:            logger,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting server", "addr", srv.Addr, "backend", cfg.DataBackend, "goals", goalStore.Len())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if refreshEnabled {
		g.Go(func() error {
			return rates.Run(gctx, cfg.RatesRefreshInterval)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := cli.ShutdownContext(shutdownTimeout)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		if err := goals.Flush(shutdownCtx); err != nil {
			logger.Error("Failed to flush goals", log.FieldOperation, log.OpShutdown, log.FieldError, err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server failed", log.FieldError, err)
		return 1
	}

	logger.Info("Server stopped gracefully")
	return 0
}
