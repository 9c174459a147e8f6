// Package poll drives the periodic tick that discovers new mentions,
// sweeps stale issues, and runs label triage across every configured
// project, plus the separate background timer that keeps each project's
// search index fresh.
package poll

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/alekspetrov/gitbot/internal/forge"
	"github.com/alekspetrov/gitbot/internal/index"
	"github.com/alekspetrov/gitbot/internal/logdedup"
	"github.com/alekspetrov/gitbot/internal/logging"
	"github.com/alekspetrov/gitbot/internal/mention"
	"github.com/alekspetrov/gitbot/internal/stale"
	"github.com/alekspetrov/gitbot/internal/triage"
)

const (
	projectConcurrency   = 3
	logSuppressionWindow = 10 * time.Minute
)

// Client is the full forge surface the polling engine and everything it
// drives (mention processing, stale sweeping, label triage, index
// building) needs from one GitLab project.
type Client interface {
	mention.ForgeClient
	stale.Client
	triage.Client
	GetMergeRequestsSince(ctx context.Context, projectID int, since time.Time) ([]*forge.MergeRequest, error)
}

// Config controls tick cadence and is threaded down into the services each
// tick exercises.
type Config struct {
	PollInterval  time.Duration
	MaxAge        time.Duration
	BotUsername   string
	ReposToPoll   []string
	DefaultBranch string
	// ContextRepoPath optionally names a second repository searched
	// alongside each mentioning project for source listings and AGENTS.md.
	ContextRepoPath string

	MentionCfg mention.Config
	StaleCfg   stale.Config
	TriageCfg  triage.Config

	// TriageLookbackHours bounds triage suggestions to issues created
	// within this window; zero means no bound.
	TriageLookbackHours int

	IndexRefreshInterval time.Duration
}

// project is the engine's per-repository working state: its resolved
// numeric id, its own search index and mention dedup cache, and the
// watermark marking how far its notes have been scanned.
type project struct {
	path      string
	id        int
	idx       *index.Index
	cache     *mention.Cache
	processor *mention.Processor

	mu        sync.Mutex
	watermark time.Time
}

// Engine runs the poll loop for a fixed set of projects against one forge
// client and one model-backed triage service.
type Engine struct {
	client Client
	triage *triage.Service
	cfg    Config
	dedup  *logdedup.Deduplicator

	projects []*project
}

// New resolves every configured project path to its numeric id and builds
// the per-project processor, cache, and index. It does not start polling.
func New(ctx context.Context, client Client, modelClient mention.ModelClient, triageSvc *triage.Service, cfg Config) (*Engine, error) {
	e := &Engine{
		client: client,
		triage: triageSvc,
		cfg:    cfg,
		dedup:  logdedup.New(logSuppressionWindow),
	}

	mentionCfg := cfg.MentionCfg
	if cfg.ContextRepoPath != "" {
		contextProj, err := client.GetProjectByPath(ctx, cfg.ContextRepoPath)
		if err != nil {
			logging.WarnContext(ctx, "failed to resolve context repo, proceeding without it", "context_repo", cfg.ContextRepoPath, "error", err)
		} else {
			mentionCfg.ContextProjectID = &contextProj.ID
		}
	}

	for _, path := range cfg.ReposToPoll {
		proj, err := client.GetProjectByPath(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve project %q: %w", path, err)
		}

		idx := index.New(cfg.IndexRefreshInterval)
		if err := idx.Build(ctx, client, proj.ID, defaultBranch(proj, cfg.DefaultBranch)); err != nil {
			logging.WarnContext(ctx, "initial index build failed, continuing with an empty index", "project", path, "error", err)
		}

		cache := mention.NewCache()
		processor := mention.NewProcessor(client, modelClient, cache, idx, mentionCfg)

		e.projects = append(e.projects, &project{path: path, id: proj.ID, idx: idx, cache: cache, processor: processor})
	}

	return e, nil
}

// ProjectIDs returns the resolved numeric id of every configured project,
// for callers (such as the triage service's initial label-learning pass)
// that need them before the first tick runs.
func (e *Engine) ProjectIDs() []int {
	ids := make([]int, len(e.projects))
	for i, p := range e.projects {
		ids[i] = p.id
	}
	return ids
}

func defaultBranch(p *forge.Project, fallback string) string {
	if p.DefaultBranch != "" {
		return p.DefaultBranch
	}
	return fallback
}

// Run starts both the poll ticker and the index-refresh cron, blocking
// until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	c := cron.New()
	spec := fmt.Sprintf("@every %s", e.cfg.IndexRefreshInterval.String())
	if _, err := c.AddFunc(spec, func() { e.refreshIndexes(ctx) }); err != nil {
		logging.ErrorContext(ctx, "failed to schedule index refresh, indexes will only build once at startup", "error", err)
	} else {
		c.Start()
		defer c.Stop()
	}

	e.tick(ctx)

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

// tick runs one poll cycle across every project, bounded at
// projectConcurrency concurrent projects, and advances every project's
// watermark to the tick's start time once all of them have finished.
func (e *Engine) tick(ctx context.Context) {
	tickStart := time.Now()
	ctx = logging.ContextWithCorrelationID(ctx, uuid.NewString())
	ctx = logging.ContextWithComponent(ctx, logging.ComponentGitLabPoller)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(projectConcurrency)

	for _, p := range e.projects {
		p := p
		g.Go(func() error {
			pctx := logging.ContextWithProject(gctx, p.path)
			e.tickProject(pctx, p, tickStart)
			return nil
		})
	}
	_ = g.Wait()

	for _, p := range e.projects {
		p.mu.Lock()
		p.watermark = tickStart
		p.mu.Unlock()
	}

	e.dedup.Cleanup()
}

func (e *Engine) tickProject(ctx context.Context, p *project, tickStart time.Time) {
	p.mu.Lock()
	since := p.watermark
	p.mu.Unlock()

	if cutoff := tickStart.Add(-e.cfg.MaxAge); cutoff.After(since) {
		since = cutoff
	}

	e.scanIssueMentions(ctx, p, since)
	e.scanMergeRequestMentions(ctx, p, since)

	openIssues, err := e.client.GetIssuesSince(ctx, p.id, forge.ListIssuesOptions{State: forge.StateOpened})
	if err != nil {
		if e.dedup.ShouldLog("list-open-issues:" + p.path) {
			logging.WarnContext(ctx, "failed to list open issues for stale sweep and triage", "project", p.path, "error", err)
		}
		return
	}

	stale.Sweep(ctx, e.client, p.id, openIssues, e.cfg.StaleCfg)
	e.suggestLabels(ctx, p, openIssues)
}

func (e *Engine) scanIssueMentions(ctx context.Context, p *project, since time.Time) {
	issues, err := e.client.GetIssuesSince(ctx, p.id, forge.ListIssuesOptions{State: forge.StateOpened, Since: since})
	if err != nil {
		if e.dedup.ShouldLog("list-issues-since:" + p.path) {
			logging.WarnContext(ctx, "failed to list updated issues", "project", p.path, "error", err)
		}
		return
	}

	for _, issue := range issues {
		notes, err := e.client.GetIssueNotesSince(ctx, p.id, issue.IID, since)
		if err != nil {
			if e.dedup.ShouldLog(fmt.Sprintf("notes:issue:%s:%d", p.path, issue.IID)) {
				logging.WarnContext(ctx, "failed to list notes for issue", "project", p.path, "issue_iid", issue.IID, "error", err)
			}
			continue
		}
		for _, note := range notes {
			e.dispatchMention(ctx, p, note, mention.NoteableIssue, issue.IID, 0)
		}
	}
}

func (e *Engine) scanMergeRequestMentions(ctx context.Context, p *project, since time.Time) {
	mrs, err := e.client.GetMergeRequestsSince(ctx, p.id, since)
	if err != nil {
		if e.dedup.ShouldLog("list-mrs-since:" + p.path) {
			logging.WarnContext(ctx, "failed to list updated merge requests", "project", p.path, "error", err)
		}
		return
	}

	for _, mr := range mrs {
		notes, err := e.client.GetMergeRequestNotesSince(ctx, p.id, mr.IID, since)
		if err != nil {
			if e.dedup.ShouldLog(fmt.Sprintf("notes:mr:%s:%d", p.path, mr.IID)) {
				logging.WarnContext(ctx, "failed to list notes for merge request", "project", p.path, "mr_iid", mr.IID, "error", err)
			}
			continue
		}
		for _, note := range notes {
			e.dispatchMention(ctx, p, note, mention.NoteableMergeRequest, 0, mr.IID)
		}
	}
}

func (e *Engine) dispatchMention(ctx context.Context, p *project, note *forge.Note, noteableType string, issueIID, mrIID int) {
	if note.System || note.Author == nil {
		return
	}
	if note.Author.Username == e.cfg.BotUsername {
		return
	}
	if !containsMention(note.Body, e.cfg.BotUsername) {
		return
	}

	event := mention.Event{
		NoteID:          note.ID,
		AuthorUsername:  note.Author.Username,
		Body:            note.Body,
		UpdatedAt:       note.UpdatedAt,
		ProjectID:       p.id,
		NoteableType:    noteableType,
		IssueIID:        issueIID,
		MergeRequestIID: mrIID,
		ObjectKind:      "note",
		EventType:       "note",
	}

	if err := p.processor.Process(ctx, event); err != nil {
		logging.ErrorContext(ctx, "failed to process mention", "project", p.path, "note_id", note.ID, "error", err)
	}
}

func containsMention(body, botUsername string) bool {
	return strings.Contains(body, "@"+botUsername)
}

func (e *Engine) suggestLabels(ctx context.Context, p *project, issues []*forge.Issue) {
	var lookbackCutoff time.Time
	if e.cfg.TriageLookbackHours > 0 {
		lookbackCutoff = time.Now().Add(-time.Duration(e.cfg.TriageLookbackHours) * time.Hour)
	}

	for _, issue := range issues {
		if len(issue.Labels) > 0 {
			continue
		}
		if !lookbackCutoff.IsZero() && issue.CreatedAt.Before(lookbackCutoff) {
			continue
		}
		labels, err := e.triage.SuggestLabels(ctx, p.id, issue)
		if err != nil {
			if e.dedup.ShouldLog(fmt.Sprintf("triage:%s:%d", p.path, issue.IID)) {
				logging.WarnContext(ctx, "failed to suggest labels", "project", p.path, "issue_iid", issue.IID, "error", err)
			}
			continue
		}
		if len(labels) == 0 {
			continue
		}
		if err := e.client.AddIssueLabels(ctx, p.id, issue.IID, labels); err != nil {
			logging.WarnContext(ctx, "failed to apply suggested labels", "project", p.path, "issue_iid", issue.IID, "labels", labels, "error", err)
		}
	}
}

func (e *Engine) refreshIndexes(ctx context.Context) {
	ctx = logging.ContextWithComponent(ctx, logging.ComponentIndex)
	for _, p := range e.projects {
		proj, err := e.client.GetProjectByPath(ctx, p.path)
		branch := e.cfg.DefaultBranch
		if err == nil {
			branch = defaultBranch(proj, e.cfg.DefaultBranch)
		}
		if err := p.idx.Build(ctx, e.client, p.id, branch); err != nil {
			logging.WarnContext(ctx, "periodic index refresh failed", "project", p.path, "error", err)
		}
	}
}
