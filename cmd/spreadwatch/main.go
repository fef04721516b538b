package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dkrylov/spreadwatch/internal/banlist"
	"github.com/dkrylov/spreadwatch/internal/config"
	"github.com/dkrylov/spreadwatch/internal/coverage"
	"github.com/dkrylov/spreadwatch/internal/daily"
	"github.com/dkrylov/spreadwatch/internal/engine"
	"github.com/dkrylov/spreadwatch/internal/exchange"
	"github.com/dkrylov/spreadwatch/internal/logger"
	"github.com/dkrylov/spreadwatch/internal/storage"
	"github.com/dkrylov/spreadwatch/internal/telegram"
)

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", *configPath)

	store, err := storage.New(cfg.Storage.DBPath)
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	bans, err := banlist.New(store)
	if err != nil {
		logger.Fatal("Failed to load ban list: %v", err)
	}
	logger.Info("Ban list loaded (%d symbols)", bans.Len())

	mexc := exchange.NewMEXC(cfg.Exchanges.MEXCFuturesAPIURL, cfg.Exchanges.MEXCContractAPIURL, cfg.Exchanges.Timeout)
	gate := exchange.NewGate(cfg.Exchanges.GateAPIURL, cfg.Exchanges.Timeout)
	fetcher := exchange.NewFetcher(mexc, gate, cfg.Exchanges.FetchWorkers, cfg.Exchanges.Timeout)

	resolver := coverage.NewResolver(mexc, gate, store)
	resolver.SetTTLs(cfg.Exchanges.CoverageRawTTL, cfg.Exchanges.CoverageVerifiedTTL)

	tg, err := telegram.NewClient(
		cfg.Telegram.BotToken,
		cfg.Telegram.ChatID,
		cfg.Telegram.MaxRetries,
		cfg.Telegram.RetryDelayBase,
		cfg.Telegram.MessageDelay,
		mexc,
		gate,
	)
	if err != nil {
		logger.Fatal("Failed to initialize Telegram client: %v", err)
	}
	logger.Info("Telegram client initialized successfully")

	loc := time.FixedZone(fmt.Sprintf("UTC%+d", cfg.Daily.UTCOffsetHours), cfg.Daily.UTCOffsetHours*3600)
	agg := daily.NewAggregator(loc, cfg.Daily.MergeGap, store)
	if err := agg.LoadFromStore(); err != nil {
		logger.Warn("Failed to load today's events from storage: %v", err)
	}
	summary := daily.NewSummary(agg, tg)

	eng := engine.New(engine.Config{
		Threshold:           cfg.Monitor.Threshold,
		ConfirmDelay:        cfg.Monitor.ConfirmDelay,
		MinEventDuration:    cfg.Monitor.MinEventDuration,
		MaxActiveAge:        cfg.Monitor.MaxActiveAge,
		MaxPriceFailures:    cfg.Monitor.MaxPriceFailures,
		NewSymbolGrace:      cfg.Monitor.NewSymbolGrace,
		NewSymbolQuota:      cfg.Monitor.NewSymbolQuota,
		NewSymbolWindow:     cfg.Monitor.NewSymbolWindow,
		NotifyMinInterval:   cfg.Monitor.NotifyMinInterval,
		StaleIdle:           cfg.Monitor.StaleIdle,
		DuplicateSweepEvery: cfg.Monitor.DuplicateSweepEvery,
		StaleSweepEvery:     cfg.Monitor.StaleSweepEvery,
	}, fetcher, resolver, tg, agg, bans, mexc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cleaning up...")
		cancel()
	}()

	// Reattach to the summary pinned before the last restart, if any,
	// before the command poller opens its long poll.
	summary.Recover()

	tg.ListenForCommands(ctx, eng)

	logger.Info("Starting spread monitor (threshold: %.2f%%, fast: %v, slow: %v)",
		cfg.Monitor.Threshold,
		cfg.Monitor.FastInterval,
		cfg.Monitor.SlowInterval,
	)

	fastTicker := time.NewTicker(cfg.Monitor.FastInterval)
	defer fastTicker.Stop()
	slowTicker := time.NewTicker(cfg.Monitor.SlowInterval)
	defer slowTicker.Stop()
	summaryTicker := time.NewTicker(cfg.Daily.RefreshInterval)
	defer summaryTicker.Stop()
	pinTicker := time.NewTicker(cfg.Daily.PinSweepEvery)
	defer pinTicker.Stop()

	logger.Debug("Running initial coverage cycle")
	eng.SlowCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			shutdown(eng, summary)
			logger.Info("Service stopped")
			return

		case <-fastTicker.C:
			eng.FastCycle(ctx)

		case <-slowTicker.C:
			eng.SlowCycle(ctx)

		case <-summaryTicker.C:
			if err := summary.Refresh(); err != nil {
				logger.Warn("Failed to refresh daily summary: %v", err)
			}

		case <-pinTicker.C:
			tg.TrimPins(cfg.Daily.MaxPins)
		}
	}
}

// shutdown deletes open notifications and flushes the summary so the
// channel is consistent when the process exits.
func shutdown(eng *engine.Engine, summary *daily.Summary) {
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()

	eng.Stop(stopCtx)
	if err := summary.Refresh(); err != nil {
		logger.Warn("Failed to flush daily summary on shutdown: %v", err)
	}
}
