package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/xaenox/acet/internal/civitai"
	"github.com/xaenox/acet/internal/interpreter"
	"github.com/xaenox/acet/internal/jobstore"
	"github.com/xaenox/acet/internal/logging"
	"github.com/xaenox/acet/internal/server"
	"github.com/xaenox/acet/internal/storage"
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

	// Initialize glossary storage
	glossary, err := storage.Open(cfg.Database.Storage(), logger)
	if err != nil {
		logger.Fatal("Failed to initialize storage", zap.Error(err))
	}
	defer glossary.Close()

	// Initialize job store
	jobs, err := jobstore.Open(cfg.Server.JobsPath)
	if err != nil {
		logger.Fatal("Failed to open job store", zap.Error(err), zap.String("path", cfg.Server.JobsPath))
	}
	defer jobs.Close()

	catalog := interpreter.DefaultCatalog()
	interp := interpreter.NewGroqInterpreter(interpreter.Config{
		APIKey:             cfg.Groq.APIKey,
		BaseURL:            cfg.Groq.BaseURL,
		Model:              cfg.Groq.Model,
		EnhanceModel:       cfg.Groq.EnhanceModel,
		VisionModel:        cfg.Groq.VisionModel,
		TranscriptionModel: cfg.Groq.TranscriptionModel,
		MaxTokens:          cfg.Groq.MaxTokens,
		Temperature:        cfg.Groq.Temperature,
	}, catalog, logger)

	gen, err := civitai.NewClient(cfg.Civitai.BaseURL, cfg.Civitai.Token)
	if err != nil {
		logger.Fatal("Failed to create image generator", zap.Error(err))
	}

	uploadLimit, _ := cfg.Server.UploadLimit()
	srv, err := server.New(server.Config{
		Addr:            cfg.Server.Addr,
		OutputDir:       cfg.Server.OutputDir,
		PublicURL:       cfg.Server.PublicURL,
		RateLimit:       cfg.Server.RateLimit,
		RateBurst:       cfg.Server.RateBurst,
		MaxUploadBytes:  uploadLimit,
		RetentionCron:   cfg.Server.RetentionCron,
		RetentionMaxAge: cfg.Server.RetentionMaxAge,
	}, interp, gen, catalog, glossary, jobs, logger)
	if err != nil {
		logger.Fatal("Failed to create relay", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Serve until interrupted
	if err := srv.Run(ctx); err != nil {
		logger.Error("Relay error", zap.Error(err))
	}
}
