package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"raffleflow/archive"
	"raffleflow/config"
	"raffleflow/internal/dashboard"
	"raffleflow/ledger"
	"raffleflow/logger"
	"raffleflow/notify"
	"raffleflow/pricing"
	"raffleflow/processor"
	"raffleflow/reader/torn"
	"raffleflow/service"
	"raffleflow/store"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Raffleflow.Name,
		"version": cfg.Raffleflow.Version,
		"host":    cfg.Torn.HostID,
		"api_key": cfg.Torn.MaskedAPIKey(),
	}).Info("starting raffleflow")

	if cfg.Metrics.CloudWatchEnabled {
		logger.InitCloudWatch(cfg.Storage.S3.Region, cfg.Metrics.Namespace, cfg.Metrics.Namespace)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.New(cfg.Storage.DataDir)
	if err != nil {
		log.WithError(err).Error("failed to open data directory")
		os.Exit(1)
	}

	book, err := ledger.Open(st)
	if err != nil {
		log.WithError(err).Error("failed to open ledger")
		os.Exit(1)
	}

	client := torn.NewClient(cfg.Torn)
	table := pricing.NewTable(cfg.Pricing, client, st)
	notifier := notify.NewDiscord(cfg.Notify.DiscordWebhookURL)

	archiver, err := archive.NewWriter(cfg.Storage.S3)
	if err != nil {
		log.WithError(err).Error("failed to create round archiver")
		os.Exit(1)
	}

	svc := service.New(book, table, archiver, notifier, cfg.Raffle.ResetConfirmTimeout)
	dash := dashboard.NewServer(cfg.Dashboard, svc)

	engine := processor.NewEngine(cfg, client, table, book, notifier, sink(dash))

	var wg sync.WaitGroup

	if err := table.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start pricing worker")
		os.Exit(1)
	}

	if err := engine.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start ingestion engine")
		os.Exit(1)
	}

	if dash != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := dash.Run(ctx); err != nil {
				log.WithError(err).Warn("dashboard exited with error")
			}
		}()
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	log.Info("stopping ingestion engine")
	engine.Stop()

	log.Info("stopping pricing worker")
	table.Stop()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("raffleflow stopped")
}

// sink adapts a possibly-nil dashboard to the engine's event sink.
func sink(d *dashboard.Server) processor.EventSink {
	if d == nil {
		return nil
	}
	return d.Hub()
}
