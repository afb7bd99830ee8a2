package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/amma-stories/amma/internal/agent"
	"github.com/amma-stories/amma/internal/config"
	"github.com/amma-stories/amma/internal/llm/providers"
	"github.com/amma-stories/amma/internal/prompts"
)

func newRootCmd() *cobra.Command {
	serve := newServeCmd()

	root := &cobra.Command{
		Use:   "amma",
		Short: "AMMA - Bedtime Story Agent",
		Long: `AMMA chats with a parent or child, collects a name and a theme, and
writes a bedtime story that a critic reviews before it is told.

Running amma without a subcommand starts the server.`,
		SilenceUsage: true,
		RunE:         serve.RunE,
	}
	root.AddCommand(serve, newChatCmd(), newProbeCmd())
	return root
}

// loadConfig reads .env and the environment and installs the JSON logger.
func loadConfig() (*config.Config, *slog.Logger, error) {
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	if envErr != nil {
		logger.Info("No .env file found, using environment variables")
	}
	return cfg, logger, nil
}

// buildGraph assembles the model, prompts and roles into the story graph.
func buildGraph(ctx context.Context, cfg *config.Config, convLog agent.ConversationLogger, logger *slog.Logger) (*agent.Graph, error) {
	model, spec, err := providers.New(ctx, cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("initialize model: %w", err)
	}

	renderer, err := prompts.Load(cfg.PromptsFile)
	if err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}

	roles, err := agent.NewRoles(model, renderer, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize roles: %w", err)
	}

	logger.Info("Story agent ready", "model", spec.String(), "max_steps", cfg.MaxGraphSteps)

	return agent.NewGraph(roles,
		agent.WithMaxSteps(cfg.MaxGraphSteps),
		agent.WithObserver(agent.RouteLogger(convLog)),
		agent.WithLogger(logger),
	), nil
}
