package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/xaenox/acet/internal/api"
	"github.com/xaenox/acet/internal/conversation"
	"github.com/xaenox/acet/internal/glossary"
	"github.com/xaenox/acet/internal/logging"
	"github.com/xaenox/acet/internal/lookup"
	"github.com/xaenox/acet/internal/orchestrator"
	"github.com/xaenox/acet/internal/tui"
	"github.com/xaenox/acet/internal/typing"
	"github.com/xaenox/acet/pkg/config"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the config file")
	logPath := flag.String("log", "acet-tui.log", "log file (the terminal belongs to the UI)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "acet: %v\n", err)
		return 1
	}

	logger, err := logging.ToFile(*logPath, cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "acet: %v\n", err)
		return 1
	}
	defer logger.Sync()

	relay, err := api.NewClient(cfg.Client.RelayURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "acet: %v\n", err)
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store := conversation.NewStore()
	typist := typing.NewEngine(store, cfg.Client.TypingInterval)
	orch := orchestrator.New(store, typist, relay, orchestrator.Config{
		Model:           cfg.Client.Model,
		PollInterval:    cfg.Client.PollInterval,
		NominalDuration: cfg.Client.NominalDuration,
	}, logger)
	defer orch.Close()

	view := glossary.NewView(relay, logger)
	view.Start(ctx, cfg.Client.GlossaryInterval)

	svc := lookup.New(store, typist, relay, relay, view, logger)
	defer svc.Wait()

	model := tui.New(tui.Options{
		Context:      ctx,
		Store:        store,
		Orchestrator: orch,
		Lookup:       svc,
		Glossary:     view,
		PrefsPath:    cfg.Client.PrefsPath,
		Logger:       logger,
	})
	defer model.Close()

	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		logger.Error("Failed to run UI", zap.Error(err))
		fmt.Fprintf(os.Stderr, "acet: %v\n", err)
		return 1
	}
	return 0
}
