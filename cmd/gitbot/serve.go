package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/alekspetrov/gitbot/internal/config"
	"github.com/alekspetrov/gitbot/internal/contextx"
	"github.com/alekspetrov/gitbot/internal/forge"
	"github.com/alekspetrov/gitbot/internal/logging"
	"github.com/alekspetrov/gitbot/internal/mention"
	"github.com/alekspetrov/gitbot/internal/model"
	"github.com/alekspetrov/gitbot/internal/poll"
	"github.com/alekspetrov/gitbot/internal/stale"
	"github.com/alekspetrov/gitbot/internal/triage"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	labelLearningSamples = 5
	triageLookbackHours  = 72
	indexRefreshInterval = 1 * time.Hour
)

func newServeCmd() *cobra.Command {
	var logFormat string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the poll loop until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(logFormat)
		},
	}
	cmd.Flags().StringVar(&logFormat, "log-format", "text", "log output format: text or json")
	return cmd
}

func runServe(logFormat string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := logging.Init(&logging.Config{Level: cfg.LogLevel, Format: logFormat, Output: "stdout"}); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	forgeClient := forge.NewClient(cfg.GitLabURL, cfg.GitLabToken)

	var cert *model.ClientCertConfig
	if cfg.ClientCertPath != "" {
		cert = &model.ClientCertConfig{CertPath: cfg.ClientCertPath, KeyPath: cfg.ClientKeyPath, Password: cfg.ClientKeyPassword}
	}
	openAIBaseURL := cfg.OpenAICustomURL
	if openAIBaseURL == "" {
		openAIBaseURL = defaultOpenAIBaseURL
	}
	modelClient, err := model.NewClient(openAIBaseURL, cfg.OpenAIAPIKey, cert)
	if err != nil {
		return fmt.Errorf("failed to build model client: %w", err)
	}

	triageCfg := triage.Config{
		LabelLearningSamples: labelLearningSamples,
		OpenAIModel:          cfg.OpenAIModel,
		Temperature:          cfg.Temperature,
		MaxTokens:            cfg.MaxTokens,
		TokenMode:            cfg.TokenMode,
	}
	triageSvc := triage.New(forgeClient, modelClient, triageCfg)

	pollCfg := poll.Config{
		PollInterval:    cfg.PollInterval,
		MaxAge:          cfg.MaxAge,
		BotUsername:     cfg.BotUsername,
		ReposToPoll:     cfg.ReposToPoll,
		DefaultBranch:   cfg.DefaultBranch,
		ContextRepoPath: cfg.ContextRepoPath,
		MentionCfg: mention.Config{
			BotUsername:      cfg.BotUsername,
			OpenAIModel:      cfg.OpenAIModel,
			Temperature:      cfg.Temperature,
			MaxTokens:        cfg.MaxTokens,
			TokenMode:        cfg.TokenMode,
			MaxToolCalls:     cfg.MaxToolCalls,
			MaxCommentLength: cfg.MaxCommentLength,
			ToolsEnabled:     true,
			ContextCfg: contextx.Config{
				MaxContextSize: cfg.MaxContextSize,
				ContextLines:   cfg.ContextLines,
				DefaultBranch:  cfg.DefaultBranch,
			},
		},
		StaleCfg:             stale.Config{StaleIssueDays: cfg.StaleIssueDays, BotUsername: cfg.BotUsername},
		TriageCfg:            triageCfg,
		TriageLookbackHours:  triageLookbackHours,
		IndexRefreshInterval: indexRefreshInterval,
	}

	engine, err := poll.New(ctx, forgeClient, modelClient, triageSvc, pollCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize poll engine: %w", err)
	}

	if err := triageSvc.LearnProjects(ctx, engine.ProjectIDs()); err != nil {
		logging.WarnContext(ctx, "initial label learning failed, triage suggestions will be skipped until it succeeds", "error", err)
	}

	logging.InfoContext(ctx, "gitbot starting", "repos", cfg.ReposToPoll, "poll_interval", cfg.PollInterval)
	engine.Run(ctx)
	logging.InfoContext(ctx, "gitbot stopped")
	return nil
}
