package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"tickerflow/config"
	"tickerflow/logger"
	"tickerflow/quotes"
	"tickerflow/reconnect"
	"tickerflow/stream"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(config.ResolveConfigPath(*configPath))
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service":     cfg.Tickerflow.Name,
		"version":     cfg.Tickerflow.Version,
		"environment": config.AppEnvironment(),
	}).Info("starting tickerflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.CloudWatch {
		logger.InitCloudWatch(
			cfg.Metrics.Region,
			cfg.Metrics.Namespace,
			cfg.Logging.DashboardName,
			cfg.Metrics.AccessKeyID,
			cfg.Metrics.SecretAccessKey,
		)
	}

	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	table := quotes.NewTable()
	registry := stream.NewRegistry()
	orch := reconnect.NewOrchestrator(registry,
		reconnect.WithHistoryCap(cfg.Reconnect.HistoryCap),
		reconnect.WithPolicyOverrides(cfg.Reconnect.PolicyOverrides()),
	)

	managers := make([]*stream.Manager, 0, len(cfg.Feed.Endpoints))
	for _, endpoint := range cfg.Feed.Endpoints {
		m := stream.NewManager(cfg, endpoint, table, orch)
		registry.Register(m)
		managers = append(managers, m)
	}

	for _, m := range managers {
		if err := m.Connect(ctx); err != nil {
			// the failed connect already started a reconnection sequence
			log.WithError(err).WithFields(logger.Fields{"endpoint": m.EndpointID()}).Warn("endpoint connect failed")
		}
	}

	log.Info("all endpoints started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	for _, m := range managers {
		log.WithFields(logger.Fields{"endpoint": m.EndpointID()}).Info("stopping endpoint")
		m.Disconnect()
	}

	log.Info("tickerflow stopped")
}
