package mention

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alekspetrov/gitbot/internal/contextx"
	"github.com/alekspetrov/gitbot/internal/forge"
	"github.com/alekspetrov/gitbot/internal/gitboterr"
	"github.com/alekspetrov/gitbot/internal/index"
	"github.com/alekspetrov/gitbot/internal/logging"
	"github.com/alekspetrov/gitbot/internal/model"
	"github.com/alekspetrov/gitbot/internal/tools"
)

// ForgeClient is everything the processor and the context it builds need
// from the forge.
type ForgeClient interface {
	contextx.Client
	tools.Client
	GetIssueNotesSince(ctx context.Context, projectID, iid int, since time.Time) ([]*forge.Note, error)
	GetMergeRequestNotesSince(ctx context.Context, projectID, iid int, since time.Time) ([]*forge.Note, error)
	PostCommentToIssue(ctx context.Context, projectID, iid int, body string) (*forge.Note, error)
	PostCommentToMergeRequest(ctx context.Context, projectID, iid int, body string) (*forge.Note, error)
	RemoveIssueLabel(ctx context.Context, projectID, iid int, label string) error
}

// ModelClient is the chat backend the processor queries.
type ModelClient interface {
	Chat(ctx context.Context, req model.ChatRequest) (*model.ChatResponse, error)
}

// Config holds the per-process settings the mention processor needs beyond
// its collaborators.
type Config struct {
	BotUsername      string
	OpenAIModel      string
	Temperature      float64
	MaxTokens        int
	TokenMode        model.TokenMode
	MaxToolCalls     int
	MaxCommentLength int
	ContextCfg       contextx.Config
	ToolsEnabled     bool
	// ContextProjectID optionally names a second repository (configured via
	// CONTEXT_REPO_PATH) searched alongside the mentioning project for
	// source listings and AGENTS.md.
	ContextProjectID *int
}

// Processor runs the mention state machine: Received -> CacheChecked ->
// LiveChecked -> ContextAssembled -> ModelQueried -> (ToolLoop*) -> Posted
// -> Cached.
type Processor struct {
	forge ForgeClient
	model ModelClient
	cache *Cache
	idx   *index.Index
	cfg   Config
}

// NewProcessor builds a Processor for one project's mention traffic. idx is
// that project's n-gram index, used both for context assembly and for the
// search_repository_files tool.
func NewProcessor(forgeClient ForgeClient, modelClient ModelClient, cache *Cache, idx *index.Index, cfg Config) *Processor {
	return &Processor{forge: forgeClient, model: modelClient, cache: cache, idx: idx, cfg: cfg}
}

// Process runs one mention event through the full state machine. A nil
// error with no reply posted means the event was legitimately skipped
// (self-mention, no command, already cached, already replied); the
// already-replied case still records the note id in the cache.
func (p *Processor) Process(ctx context.Context, event Event) error {
	ctx = logging.ContextWithMentionID(ctx, strconv.Itoa(event.NoteID))
	ctx = logging.ContextWithComponent(ctx, logging.ComponentMentionProcessor)

	if event.AuthorUsername == p.cfg.BotUsername {
		return nil
	}
	if event.ObjectKind != "note" || event.EventType != "note" {
		return nil
	}
	if p.cache.Check(event.NoteID) {
		return nil
	}

	command, mentioned := extractCommand(event.Body, p.cfg.BotUsername)
	if !mentioned || command == "" {
		return nil
	}

	if event.NoteableType != NoteableIssue && event.NoteableType != NoteableMergeRequest {
		return nil
	}
	if event.NoteableType == NoteableIssue && event.IssueIID == 0 {
		return &gitboterr.ParseError{Field: "issue_iid", Value: "0", Cause: fmt.Errorf("missing noteable reference")}
	}
	if event.NoteableType == NoteableMergeRequest && event.MergeRequestIID == 0 {
		return &gitboterr.ParseError{Field: "mr_iid", Value: "0", Cause: fmt.Errorf("missing noteable reference")}
	}

	alreadyReplied, err := p.alreadyReplied(ctx, event)
	if err != nil {
		return err
	}
	if alreadyReplied {
		p.cache.Add(event.NoteID)
		return nil
	}

	promptParts, commitHistory, err := p.assemblePrompt(ctx, event, command)
	if err != nil {
		return err
	}

	finalPrompt := strings.Join(promptParts, "\n---\n")
	reply, err := p.queryModel(ctx, event, finalPrompt)
	if err != nil {
		return err
	}

	body := formatReply(event.AuthorUsername, reply, event.NoteableType == NoteableIssue, command, commitHistory)
	if len(body) > p.cfg.MaxCommentLength {
		body = body[:p.cfg.MaxCommentLength]
	}

	if err := p.post(ctx, event, body); err != nil {
		return err
	}

	p.cache.Add(event.NoteID)
	return nil
}

// extractCommand finds the first "@botUsername" in body and returns
// everything after it, trimmed. mentioned is false if the bot is never
// named at all.
func extractCommand(body, botUsername string) (command string, mentioned bool) {
	mentionTag := "@" + botUsername
	idx := strings.Index(body, mentionTag)
	if idx < 0 {
		return "", false
	}
	return strings.TrimSpace(body[idx+len(mentionTag):]), true
}

func (p *Processor) alreadyReplied(ctx context.Context, event Event) (bool, error) {
	var notes []*forge.Note
	var err error
	switch event.NoteableType {
	case NoteableIssue:
		notes, err = p.forge.GetIssueNotesSince(ctx, event.ProjectID, event.IssueIID, event.UpdatedAt)
	case NoteableMergeRequest:
		notes, err = p.forge.GetMergeRequestNotesSince(ctx, event.ProjectID, event.MergeRequestIID, event.UpdatedAt)
	}
	if err != nil {
		logging.WarnContext(ctx, "failed to fetch subsequent notes for reply check, proceeding with caution", "note_id", event.NoteID, "error", err)
		return false, nil
	}

	for _, note := range notes {
		if note.ID == event.NoteID {
			continue
		}
		if note.Author != nil && note.Author.Username == p.cfg.BotUsername && note.UpdatedAt.After(event.UpdatedAt) {
			return true, nil
		}
	}
	return false, nil
}

func (p *Processor) assemblePrompt(ctx context.Context, event Event, command string) (parts []string, commitHistory string, err error) {
	if event.NoteableType == NoteableIssue {
		return p.assembleIssuePrompt(ctx, event, command)
	}
	return p.assembleMRPrompt(ctx, event, command)
}

func (p *Processor) assembleIssuePrompt(ctx context.Context, event Event, command string) ([]string, string, error) {
	if event.AuthorUsername != p.cfg.BotUsername {
		if issue, err := p.forge.GetIssue(ctx, event.ProjectID, event.IssueIID); err == nil {
			if forge.HasLabel(issue, "stale") {
				if err := p.forge.RemoveIssueLabel(ctx, event.ProjectID, event.IssueIID, "stale"); err != nil {
					logging.WarnContext(ctx, "failed to remove stale label", "project_id", event.ProjectID, "issue_iid", event.IssueIID, "error", err)
				}
			}
		}
	}

	issue, err := p.forge.GetIssue(ctx, event.ProjectID, event.IssueIID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch issue details: %w", err)
	}

	var parts []string
	if command != "" {
		parts = append(parts, fmt.Sprintf("The user @%s provided the following request regarding this issue: '%s'.", event.AuthorUsername, command))
	} else {
		parts = append(parts, fmt.Sprintf("Please summarize this issue for user @%s and suggest steps to address it. Be specific about which files, functions, or modules need to be modified.", event.AuthorUsername))
	}
	parts = append(parts, "Title: "+issue.Title)
	parts = append(parts, "Description: "+orDefault(issue.Description, "No description."))
	parts = append(parts, "State: "+issue.State)
	if len(issue.Labels) > 0 {
		parts = append(parts, "Labels: "+strings.Join(issue.Labels, ", "))
	}

	repoContext := contextx.ContextForIssue(ctx, p.forge, p.idx, event.ProjectID, p.cfg.ContextProjectID, issue, p.cfg.ContextCfg)
	parts = append(parts, "Repository Context: "+repoContext)

	if command != "" {
		parts = append(parts, "User's specific request: "+command)
	}
	return parts, "", nil
}

func (p *Processor) assembleMRPrompt(ctx context.Context, event Event, command string) ([]string, string, error) {
	mr, err := p.forge.GetMergeRequest(ctx, event.ProjectID, event.MergeRequestIID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch merge request details: %w", err)
	}

	var parts []string
	if command != "" {
		parts = append(parts, fmt.Sprintf("The user @%s provided the following request regarding this merge request: '%s'.", event.AuthorUsername, command))
	} else {
		parts = append(parts, fmt.Sprintf("Please review this merge request for user @%s and provide a summary of the changes.", event.AuthorUsername))
	}
	parts = append(parts, "Title: "+mr.Title)
	parts = append(parts, "Description: "+orDefault(mr.Description, "No description."))
	parts = append(parts, "State: "+mr.State)
	if len(mr.Labels) > 0 {
		parts = append(parts, "Labels: "+strings.Join(mr.Labels, ", "))
	}
	parts = append(parts, "Source Branch: "+mr.SourceBranch)
	parts = append(parts, "Target Branch: "+mr.TargetBranch)

	if guidelines, ok := contextx.FetchContributingMD(ctx, p.forge, event.ProjectID, p.cfg.ContextCfg.DefaultBranch); ok {
		parts = append(parts, "Contribution guidelines:\n"+guidelines)
		parts = append(parts, "Please review this merge request for adherence to the above guidelines.")
	}

	diffContext, commitHistory := contextx.ContextForMR(ctx, p.forge, p.idx, event.ProjectID, p.cfg.ContextProjectID, mr, p.cfg.ContextCfg)
	parts = append(parts, "Code Changes: "+diffContext)

	if command != "" {
		parts = append(parts, "User's specific request: "+command)
	}
	return parts, commitHistory, nil
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func (p *Processor) queryModel(ctx context.Context, event Event, prompt string) (string, error) {
	req := model.ChatRequest{
		Model:       p.cfg.OpenAIModel,
		Messages:    []model.Message{{Role: "user", Content: prompt}},
		Temperature: p.cfg.Temperature,
	}
	if p.cfg.TokenMode == model.TokenModeMaxCompletionTokens {
		req.MaxCompletionTokens = p.cfg.MaxTokens
	} else {
		req.MaxTokens = p.cfg.MaxTokens
	}

	if !p.cfg.ToolsEnabled {
		return chatOnce(ctx, p.model, req)
	}

	registry := tools.NewRegistry()
	tools.RegisterBuiltins(registry, p.forge, p.idx, event.ProjectID, p.cfg.ContextCfg.DefaultBranch)
	req.Tools = registry.Specs()

	chatClient, ok := p.model.(*model.Client)
	if !ok {
		return chatOnce(ctx, p.model, req)
	}
	return model.RunToolLoop(ctx, chatClient, req, registry, p.cfg.MaxToolCalls)
}

// chatOnce issues a single chat request and rejects an empty or choiceless
// reply as a model failure: a posted comment with no content is worse than
// no comment, since it still marks the mention as handled.
func chatOnce(ctx context.Context, client ModelClient, req model.ChatRequest) (string, error) {
	resp, err := client.Chat(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", &gitboterr.ModelAPIError{Status: 200, Body: "no response choices from model"}
	}
	content := resp.Choices[0].Message.Content
	if content == "" {
		return "", &gitboterr.ModelAPIError{Status: 200, Body: "empty response content"}
	}
	return content, nil
}

func formatReply(username, llmReply string, isIssue bool, command, commitHistory string) string {
	base := fmt.Sprintf("Hey @%s, here's the information you requested:\n\n---\n\n%s", username, llmReply)
	if isIssue || command != "" {
		return base
	}
	return fmt.Sprintf("%s\n\n<details><summary>Additional Commit History</summary>\n\n%s</details>", base, commitHistory)
}

func (p *Processor) post(ctx context.Context, event Event, body string) error {
	if event.NoteableType == NoteableIssue {
		_, err := p.forge.PostCommentToIssue(ctx, event.ProjectID, event.IssueIID, body)
		return err
	}
	_, err := p.forge.PostCommentToMergeRequest(ctx, event.ProjectID, event.MergeRequestIID, body)
	return err
}
