// Package triage learns the meaning of a project's labels from sample
// issues, then suggests labels for newly opened, unlabeled issues.
package triage

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/alekspetrov/gitbot/internal/forge"
	"github.com/alekspetrov/gitbot/internal/logging"
	"github.com/alekspetrov/gitbot/internal/model"
)

const (
	projectConcurrency = 3
	labelConcurrency   = 5
	descriptionLimit   = 500
	issueDescLimit     = 2000
)

var excludedLabels = map[string]bool{
	"stale":       true,
	"doing":       true,
	"todo":        true,
	"in progress": true,
}

func isSystemLabel(name string) bool {
	return excludedLabels[strings.ToLower(name)] || strings.HasPrefix(name, "To:")
}

// Knowledge is what the service has learned about one label.
type Knowledge struct {
	Name        string
	Description string
	Color       string
	Summary     string
	SampleCount int
}

// Client is the forge surface the triage service needs.
type Client interface {
	GetLabels(ctx context.Context, projectID int) ([]forge.Label, error)
	GetIssuesSince(ctx context.Context, projectID int, opts forge.ListIssuesOptions) ([]*forge.Issue, error)
	AddIssueLabels(ctx context.Context, projectID, iid int, labels []string) error
}

// ModelClient is the chat backend used to learn label meanings and suggest
// labels.
type ModelClient interface {
	Chat(ctx context.Context, req model.ChatRequest) (*model.ChatResponse, error)
}

// Config controls learning sample size and model invocation shape.
type Config struct {
	LabelLearningSamples int
	OpenAIModel          string
	Temperature          float64
	MaxTokens            int
	TokenMode            model.TokenMode
}

// Service holds per-project label knowledge in memory, learned once at
// startup and consulted on every poll tick thereafter.
type Service struct {
	forge Client
	model ModelClient
	cfg   Config

	mu        sync.RWMutex
	knowledge map[int]map[string]Knowledge
}

// New builds an empty Service; call LearnProjects once at startup.
func New(forgeClient Client, modelClient ModelClient, cfg Config) *Service {
	return &Service{forge: forgeClient, model: modelClient, cfg: cfg, knowledge: make(map[int]map[string]Knowledge)}
}

// LearnProjects learns label meanings for every project id, up to
// projectConcurrency projects at once.
func (s *Service) LearnProjects(ctx context.Context, projectIDs []int) error {
	ctx = logging.ContextWithComponent(ctx, logging.ComponentTriage)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(projectConcurrency)

	for _, projectID := range projectIDs {
		projectID := projectID
		g.Go(func() error {
			if err := s.learnProject(gctx, projectID); err != nil {
				logging.WarnContext(gctx, "failed to learn labels for project", "project_id", projectID, "error", err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (s *Service) learnProject(ctx context.Context, projectID int) error {
	labels, err := s.forge.GetLabels(ctx, projectID)
	if err != nil {
		return fmt.Errorf("failed to fetch labels: %w", err)
	}

	learnable := lo.Filter(labels, func(l forge.Label, _ int) bool { return !isSystemLabel(l.Name) })

	var mu sync.Mutex
	learned := make(map[string]Knowledge, len(learnable))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(labelConcurrency)
	for _, label := range learnable {
		label := label
		g.Go(func() error {
			k, err := s.learnLabel(gctx, projectID, label)
			if err != nil {
				logging.WarnContext(gctx, "failed to learn label", "project_id", projectID, "label", label.Name, "error", err)
				return nil
			}
			mu.Lock()
			learned[label.Name] = k
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	s.mu.Lock()
	s.knowledge[projectID] = learned
	s.mu.Unlock()
	return nil
}

func (s *Service) learnLabel(ctx context.Context, projectID int, label forge.Label) (Knowledge, error) {
	samples, err := s.forge.GetIssuesSince(ctx, projectID, forge.ListIssuesOptions{
		Labels:  []string{label.Name},
		State:   forge.StateOpened,
		Sort:    "desc",
		OrderBy: "created_at",
	})
	if err != nil {
		return Knowledge{}, fmt.Errorf("failed to fetch sample issues: %w", err)
	}
	if len(samples) > s.cfg.LabelLearningSamples {
		samples = samples[:s.cfg.LabelLearningSamples]
	}

	if len(samples) == 0 {
		summary := label.Description
		if summary == "" {
			summary = "Label: " + label.Name
		}
		return Knowledge{Name: label.Name, Description: label.Description, Color: label.Color, Summary: summary}, nil
	}

	summary, err := s.summarizeLabel(ctx, label, samples)
	if err != nil {
		logging.WarnContext(ctx, "failed to summarize label via model, using basic summary", "label", label.Name, "error", err)
		summary = fmt.Sprintf("Label: %s - Used in %d issues", label.Name, len(samples))
	}

	return Knowledge{Name: label.Name, Description: label.Description, Color: label.Color, Summary: summary, SampleCount: len(samples)}, nil
}

func (s *Service) summarizeLabel(ctx context.Context, label forge.Label, samples []*forge.Issue) (string, error) {
	var sb strings.Builder
	sb.WriteString("You are analyzing GitLab issue labels to understand their usage patterns.\n\n")
	if label.Description != "" {
		fmt.Fprintf(&sb, "Label name: %s\nLabel description: %s\n\n", label.Name, label.Description)
	} else {
		fmt.Fprintf(&sb, "Label name: %s\n\n", label.Name)
	}

	sb.WriteString("Here are some example issues that use this label:\n\n")
	for i, issue := range samples {
		fmt.Fprintf(&sb, "--- Example %d ---\nTitle: %s\n", i+1, issue.Title)
		if issue.Description != "" {
			sb.WriteString("Description: " + truncate(issue.Description, descriptionLimit) + "\n")
		}
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "\nBased on these examples, provide a concise 1-2 sentence summary of when the '%s' label should be used. Focus on the common patterns in the examples. Do not include the word 'Summary' or any preamble - just provide the description directly.", label.Name)

	resp, err := s.chat(ctx, sb.String())
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp), nil
}

// SuggestLabels proposes labels for an unlabeled issue, filtered to names
// actually known for this project.
func (s *Service) SuggestLabels(ctx context.Context, projectID int, issue *forge.Issue) ([]string, error) {
	s.mu.RLock()
	projectLabels := s.knowledge[projectID]
	s.mu.RUnlock()
	if len(projectLabels) == 0 {
		return nil, nil
	}

	var sb strings.Builder
	sb.WriteString("You are a GitLab issue triage assistant. Your task is to suggest appropriate labels for an issue based on its title and description.\n\n")
	sb.WriteString("Available labels and their meanings:\n\n")
	for name, k := range projectLabels {
		fmt.Fprintf(&sb, "- **%s**: %s\n", name, k.Summary)
	}

	sb.WriteString("\n--- Issue to Label ---\n\n")
	fmt.Fprintf(&sb, "Title: %s\n", issue.Title)
	if issue.Description != "" {
		sb.WriteString("Description: " + truncate(issue.Description, issueDescLimit) + "\n")
	}
	sb.WriteString("\nSelect the most appropriate labels from the list above. Return ONLY a JSON array of label names that apply to this issue. If no labels are appropriate, return an empty array.\n\nExample response: [\"bug\", \"high-priority\"]\n\nLabels:")

	content, err := s.chat(ctx, sb.String())
	if err != nil {
		return nil, err
	}

	names, err := parseLabelArray(content)
	if err != nil {
		return nil, err
	}

	filtered := lo.Filter(names, func(name string, _ int) bool {
		_, ok := projectLabels[name]
		return ok
	})
	return filtered, nil
}

func (s *Service) chat(ctx context.Context, prompt string) (string, error) {
	req := model.ChatRequest{
		Model:       s.cfg.OpenAIModel,
		Messages:    []model.Message{{Role: "user", Content: prompt}},
		Temperature: s.cfg.Temperature,
	}
	if s.cfg.TokenMode == model.TokenModeMaxCompletionTokens {
		req.MaxCompletionTokens = s.cfg.MaxTokens
	} else {
		req.MaxTokens = s.cfg.MaxTokens
	}

	resp, err := s.model.Chat(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response choices from model")
	}
	return resp.Choices[0].Message.Content, nil
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
