package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/andreapanico10/products-watchlist-monitor-telegram-bot/internal/amazon"
	"github.com/andreapanico10/products-watchlist-monitor-telegram-bot/internal/backoff"
	"github.com/andreapanico10/products-watchlist-monitor-telegram-bot/internal/config"
	"github.com/andreapanico10/products-watchlist-monitor-telegram-bot/internal/dispatch"
	"github.com/andreapanico10/products-watchlist-monitor-telegram-bot/internal/logger"
	"github.com/andreapanico10/products-watchlist-monitor-telegram-bot/internal/models"
	"github.com/andreapanico10/products-watchlist-monitor-telegram-bot/internal/ratelimit"
	"github.com/andreapanico10/products-watchlist-monitor-telegram-bot/internal/scheduler"
	"github.com/andreapanico10/products-watchlist-monitor-telegram-bot/internal/storage"
	"github.com/andreapanico10/products-watchlist-monitor-telegram-bot/internal/telegram"
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

	var sender interface {
		dispatch.MessageSender
		scheduler.SummarySender
	}
	if cfg.Telegram.Enabled {
		telegramClient, err := telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		logger.Info("Telegram client initialized successfully")
		sender = telegramClient
	} else {
		logger.Warn("Telegram disabled: notifications will be logged only")
		sender = logSender{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, draining...")
		cancel()
	}()

	if tc, ok := sender.(*telegram.Client); ok {
		tc.ListenForCommands(ctx)
	}

	dispatcher := dispatch.New(store, sender)

	if !cfg.Scheduler.LiveQueryEnabled {
		logger.Info("Live queries disabled: running daily summary mode (fire time %02d:%02d)",
			cfg.Scheduler.DailySummaryHour, cfg.Scheduler.DailySummaryMinute)
		linkFor := func(asin string) string {
			return amazon.AffiliateLink(asin, cfg.Amazon.Region, cfg.Amazon.AssociateTag)
		}
		summarizer := scheduler.NewSummarizer(store, sender, dispatcher, linkFor,
			cfg.Scheduler.DailySummaryHour, cfg.Scheduler.DailySummaryMinute)
		summarizer.Run(ctx)
		logger.Info("Service stopped")
		return
	}

	amazonClient, err := amazon.NewClient(
		cfg.Amazon.AccessKey,
		cfg.Amazon.SecretKey,
		cfg.Amazon.AssociateTag,
		cfg.Amazon.Region,
		cfg.Amazon.Timeout,
	)
	if err != nil {
		logger.Fatal("Failed to initialize Amazon client: %v", err)
	}

	limiter := ratelimit.New(cfg.Amazon.RequestsPerSecond, cfg.Amazon.Burst, cfg.Amazon.RateFloor)
	policy := backoff.NewPolicy(cfg.Scheduler.BackoffBase, cfg.Scheduler.BackoffMaxDelay, cfg.Scheduler.MaxAttempts)

	coordinator := scheduler.NewCoordinator(
		scheduler.Config{
			Interval:       cfg.CheckInterval(),
			Concurrency:    int64(cfg.Scheduler.Concurrency),
			AcquireTimeout: cfg.Scheduler.AcquireTimeout,
			StaleThreshold: cfg.Scheduler.FailureStaleThreshold,
		},
		store, amazonClient, limiter, policy, dispatcher,
	)

	logger.Info("Starting price monitoring (region: %s, interval: %dh, rate: %.2f rps, burst: %d)",
		cfg.Amazon.Region, cfg.Scheduler.CheckIntervalHours,
		cfg.Amazon.RequestsPerSecond, cfg.Amazon.Burst)

	coordinator.Run(ctx)
	logger.Info("Service stopped")
}

// logSender stands in for Telegram when messaging is disabled; messages
// are logged and counted as delivered.
type logSender struct{}

func (logSender) SendPriceDrop(ownerID int64, n models.PendingNotification) error {
	logger.Info("Price drop for owner %d: %s %.2f -> %.2f %s",
		ownerID, n.Item.ASIN, n.Event.PreviousPrice, n.Event.Price, n.Event.Currency)
	return nil
}

func (logSender) SendDailySummary(ownerID int64, items []*models.WatchlistItem) error {
	logger.Info("Daily summary for owner %d: %d items", ownerID, len(items))
	return nil
}

func (logSender) SendItemUnavailable(ownerID int64, item models.WatchlistItem) error {
	logger.Info("Item unavailable for owner %d: %s", ownerID, item.ASIN)
	return nil
}
