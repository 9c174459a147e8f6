// Package config loads gitbot's configuration from environment variables.
// There is no config file: every setting is sourced straight from the
// process environment, validated once at startup, and never reloaded.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/alekspetrov/gitbot/internal/gitboterr"
	"github.com/alekspetrov/gitbot/internal/model"
)

// Config is the fully validated runtime configuration for one gitbot
// process. Every field is populated from an environment variable; see
// Load for the exact key names.
type Config struct {
	GitLabURL   string
	GitLabToken string

	OpenAIAPIKey    string
	OpenAICustomURL string
	OpenAIModel     string
	Temperature     float64
	MaxTokens       int
	TokenMode       model.TokenMode

	ReposToPoll []string
	BotUsername string

	PollInterval   time.Duration
	MaxAge         time.Duration
	StaleIssueDays int

	ContextRepoPath  string
	MaxContextSize   int
	MaxCommentLength int
	ContextLines     int
	MaxToolCalls     int
	DefaultBranch    string

	ClientCertPath    string
	ClientKeyPath     string
	ClientKeyPassword string

	LogLevel string
}

// Load reads and validates configuration from the process environment.
// It returns a *gitboterr.URLParseError for a malformed URL and a
// *gitboterr.ConfigError for any other missing or malformed value.
func Load() (*Config, error) {
	cfg := &Config{
		OpenAIModel:      getEnv("OPENAI_MODEL", "gpt-4o"),
		Temperature:      0.2,
		MaxTokens:        4096,
		TokenMode:        model.TokenModeMaxTokens,
		BotUsername:      getEnv("BOT_USERNAME", "gitbot"),
		PollInterval:     30 * time.Second,
		MaxAge:           1 * time.Hour,
		StaleIssueDays:   30,
		MaxContextSize:   12000,
		MaxCommentLength: 4000,
		ContextLines:     5,
		MaxToolCalls:     8,
		DefaultBranch:    "main",
		LogLevel:         getEnv("LOG_LEVEL", "info"),
	}

	var err error

	if cfg.GitLabURL, err = requireEnv("GITLAB_URL"); err != nil {
		return nil, err
	}
	if _, parseErr := url.Parse(cfg.GitLabURL); parseErr != nil {
		return nil, &gitboterr.URLParseError{Value: cfg.GitLabURL, Cause: parseErr}
	}
	if cfg.GitLabToken, err = requireEnv("GITLAB_TOKEN"); err != nil {
		return nil, err
	}
	if cfg.OpenAIAPIKey, err = requireEnv("OPENAI_API_KEY"); err != nil {
		return nil, err
	}

	cfg.OpenAICustomURL = os.Getenv("OPENAI_CUSTOM_URL")
	if cfg.OpenAICustomURL != "" {
		if _, parseErr := url.Parse(cfg.OpenAICustomURL); parseErr != nil {
			return nil, &gitboterr.URLParseError{Value: cfg.OpenAICustomURL, Cause: parseErr}
		}
	}

	if raw := os.Getenv("OPENAI_TEMPERATURE"); raw != "" {
		if cfg.Temperature, err = parseFloat("OPENAI_TEMPERATURE", raw); err != nil {
			return nil, err
		}
	}
	if raw := os.Getenv("OPENAI_MAX_TOKENS"); raw != "" {
		if cfg.MaxTokens, err = parseInt("OPENAI_MAX_TOKENS", raw); err != nil {
			return nil, err
		}
	}
	if raw := os.Getenv("OPENAI_TOKEN_MODE"); raw != "" {
		switch raw {
		case "max_tokens":
			cfg.TokenMode = model.TokenModeMaxTokens
		case "max_completion_tokens":
			cfg.TokenMode = model.TokenModeMaxCompletionTokens
		default:
			return nil, &gitboterr.ConfigError{Field: "OPENAI_TOKEN_MODE", Cause: fmt.Errorf("must be one of max_tokens, max_completion_tokens, got %q", raw)}
		}
	}

	reposRaw, err := requireEnv("REPOS_TO_POLL")
	if err != nil {
		return nil, err
	}
	for _, p := range strings.Split(reposRaw, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			cfg.ReposToPoll = append(cfg.ReposToPoll, p)
		}
	}
	if len(cfg.ReposToPoll) == 0 {
		return nil, &gitboterr.ConfigError{Field: "REPOS_TO_POLL", Cause: fmt.Errorf("must list at least one project path")}
	}

	if raw := os.Getenv("POLL_INTERVAL_SECONDS"); raw != "" {
		secs, err := parseInt("POLL_INTERVAL_SECONDS", raw)
		if err != nil {
			return nil, err
		}
		cfg.PollInterval = time.Duration(secs) * time.Second
	}
	if raw := os.Getenv("MAX_AGE_HOURS"); raw != "" {
		hours, err := parseInt("MAX_AGE_HOURS", raw)
		if err != nil {
			return nil, err
		}
		cfg.MaxAge = time.Duration(hours) * time.Hour
	}
	if raw := os.Getenv("STALE_ISSUE_DAYS"); raw != "" {
		if cfg.StaleIssueDays, err = parseInt("STALE_ISSUE_DAYS", raw); err != nil {
			return nil, err
		}
	}

	cfg.ContextRepoPath = os.Getenv("CONTEXT_REPO_PATH")

	if raw := os.Getenv("MAX_CONTEXT_SIZE"); raw != "" {
		if cfg.MaxContextSize, err = parseInt("MAX_CONTEXT_SIZE", raw); err != nil {
			return nil, err
		}
	}
	if raw := os.Getenv("MAX_COMMENT_LENGTH"); raw != "" {
		if cfg.MaxCommentLength, err = parseInt("MAX_COMMENT_LENGTH", raw); err != nil {
			return nil, err
		}
	}
	if raw := os.Getenv("CONTEXT_LINES"); raw != "" {
		if cfg.ContextLines, err = parseInt("CONTEXT_LINES", raw); err != nil {
			return nil, err
		}
	}
	if raw := os.Getenv("MAX_TOOL_CALLS"); raw != "" {
		if cfg.MaxToolCalls, err = parseInt("MAX_TOOL_CALLS", raw); err != nil {
			return nil, err
		}
	}
	if raw := os.Getenv("DEFAULT_BRANCH"); raw != "" {
		cfg.DefaultBranch = raw
	}

	cfg.ClientCertPath = os.Getenv("CLIENT_CERT_PATH")
	cfg.ClientKeyPath = os.Getenv("CLIENT_KEY_PATH")
	cfg.ClientKeyPassword = os.Getenv("CLIENT_KEY_PASSWORD")
	if (cfg.ClientCertPath == "") != (cfg.ClientKeyPath == "") {
		return nil, &gitboterr.ConfigError{Field: "CLIENT_CERT_PATH", Cause: fmt.Errorf("CLIENT_CERT_PATH and CLIENT_KEY_PATH must be set together")}
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func requireEnv(key string) (string, error) {
	v := os.Getenv(key)
	if v == "" {
		return "", &gitboterr.ConfigError{Field: key, Cause: fmt.Errorf("required environment variable is not set")}
	}
	return v, nil
}

func parseInt(field, raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &gitboterr.ConfigError{Field: field, Cause: fmt.Errorf("must be an integer: %w", err)}
	}
	return n, nil
}

func parseFloat(field, raw string) (float64, error) {
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, &gitboterr.ConfigError{Field: field, Cause: fmt.Errorf("must be a number: %w", err)}
	}
	return f, nil
}
