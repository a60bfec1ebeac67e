package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/xaenox/acet/internal/api"
	"github.com/xaenox/acet/internal/bot"
	"github.com/xaenox/acet/internal/glossary"
	"github.com/xaenox/acet/internal/logging"
	"github.com/xaenox/acet/internal/orchestrator"
	"github.com/xaenox/acet/pkg/config"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		bootstrap, _ := zap.NewProduction()
		bootstrap.Fatal("Failed to load config", zap.Error(err), zap.String("path", *configPath))
	}

	// Initialize logger
	logger, err := logging.NewOrReport(os.Stderr, cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		os.Exit(1)
	}
	defer logger.Sync()

	relay, err := api.NewClient(cfg.Client.RelayURL)
	if err != nil {
		logger.Fatal("Failed to create relay client", zap.Error(err), zap.String("url", cfg.Client.RelayURL))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Keep the shared glossary view fresh
	view := glossary.NewView(relay, logger)
	view.Start(ctx, cfg.Client.GlossaryInterval)

	// Initialize bot
	b, err := bot.New(cfg.Telegram.Token, relay, view, bot.Options{
		AllowedUsers:   cfg.Telegram.AllowedUsers,
		TypingInterval: cfg.Client.TypingInterval,
		Orchestrator: orchestrator.Config{
			Model:           cfg.Client.Model,
			PollInterval:    cfg.Client.PollInterval,
			NominalDuration: cfg.Client.NominalDuration,
		},
	}, logger)
	if err != nil {
		logger.Fatal("Failed to create bot", zap.Error(err))
	}

	// Start the bot
	if err := b.Start(ctx); err != nil {
		logger.Error("Bot error", zap.Error(err))
	}
}
