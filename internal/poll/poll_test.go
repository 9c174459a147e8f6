package poll

import (
	"context"
	"testing"
	"time"

	"github.com/alekspetrov/gitbot/internal/forge"
	"github.com/alekspetrov/gitbot/internal/mention"
	"github.com/alekspetrov/gitbot/internal/model"
	"github.com/alekspetrov/gitbot/internal/stale"
	"github.com/alekspetrov/gitbot/internal/triage"
)

type fakeClient struct {
	project *forge.Project
	issue   *forge.Issue
	note    *forge.Note

	posted []string
}

func (f *fakeClient) GetRepositoryTree(ctx context.Context, projectID int) ([]forge.TreeEntry, error) {
	return nil, nil
}
func (f *fakeClient) GetFileContent(ctx context.Context, projectID int, path, ref string) (*forge.File, error) {
	return nil, errNotFound{}
}
func (f *fakeClient) GetMergeRequestChanges(ctx context.Context, projectID, iid int) ([]forge.FileDiff, error) {
	return nil, nil
}
func (f *fakeClient) GetFileCommits(ctx context.Context, projectID int, path string, limit int) ([]forge.Commit, error) {
	return nil, nil
}
func (f *fakeClient) GetIssue(ctx context.Context, projectID, iid int) (*forge.Issue, error) {
	return f.issue, nil
}
func (f *fakeClient) GetMergeRequest(ctx context.Context, projectID, iid int) (*forge.MergeRequest, error) {
	return nil, errNotFound{}
}
func (f *fakeClient) SearchCode(ctx context.Context, projectID int, query, branch string) ([]forge.TreeEntry, error) {
	return nil, nil
}
func (f *fakeClient) GetProjectByPath(ctx context.Context, path string) (*forge.Project, error) {
	return f.project, nil
}
func (f *fakeClient) GetIssueNotesSince(ctx context.Context, projectID, iid int, since time.Time) ([]*forge.Note, error) {
	if since.After(f.note.UpdatedAt) {
		return nil, nil
	}
	return []*forge.Note{f.note}, nil
}
func (f *fakeClient) GetMergeRequestNotesSince(ctx context.Context, projectID, iid int, since time.Time) ([]*forge.Note, error) {
	return nil, nil
}
func (f *fakeClient) PostCommentToIssue(ctx context.Context, projectID, iid int, body string) (*forge.Note, error) {
	f.posted = append(f.posted, body)
	return &forge.Note{ID: 999}, nil
}
func (f *fakeClient) PostCommentToMergeRequest(ctx context.Context, projectID, iid int, body string) (*forge.Note, error) {
	return nil, nil
}
func (f *fakeClient) RemoveIssueLabel(ctx context.Context, projectID, iid int, label string) error {
	return nil
}
func (f *fakeClient) GetAllIssueNotes(ctx context.Context, projectID, iid int) ([]*forge.Note, error) {
	return []*forge.Note{f.note}, nil
}
func (f *fakeClient) AddIssueLabel(ctx context.Context, projectID, iid int, label string) error {
	return nil
}
func (f *fakeClient) GetLabels(ctx context.Context, projectID int) ([]forge.Label, error) {
	return nil, nil
}
func (f *fakeClient) GetIssuesSince(ctx context.Context, projectID int, opts forge.ListIssuesOptions) ([]*forge.Issue, error) {
	if !opts.Since.IsZero() && opts.Since.After(f.issue.UpdatedAt) {
		return nil, nil
	}
	return []*forge.Issue{f.issue}, nil
}
func (f *fakeClient) AddIssueLabels(ctx context.Context, projectID, iid int, labels []string) error {
	return nil
}
func (f *fakeClient) GetMergeRequestsSince(ctx context.Context, projectID int, since time.Time) ([]*forge.MergeRequest, error) {
	return nil, nil
}

type errNotFound struct{}

func (errNotFound) Error() string { return "not found" }

type fakeModel struct{}

func (fakeModel) Chat(ctx context.Context, req model.ChatRequest) (*model.ChatResponse, error) {
	return &model.ChatResponse{Choices: []model.Choice{{Message: model.Message{Content: "here is my reply"}}}}, nil
}

func newTestEngine(t *testing.T, fc *fakeClient) *Engine {
	t.Helper()
	cfg := Config{
		PollInterval:         time.Minute,
		MaxAge:               time.Hour,
		BotUsername:          "gitbot",
		ReposToPoll:          []string{"group/repo"},
		DefaultBranch:        "main",
		IndexRefreshInterval: time.Hour,
		MentionCfg: mention.Config{
			BotUsername:      "gitbot",
			MaxCommentLength: 4000,
		},
		StaleCfg: stale.Config{StaleIssueDays: 30, BotUsername: "gitbot"},
	}
	triageSvc := triage.New(fc, fakeModel{}, triage.Config{LabelLearningSamples: 5})

	e, err := New(t.Context(), fc, fakeModel{}, triageSvc, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func TestTickDispatchesMentionToProcessor(t *testing.T) {
	fc := &fakeClient{
		project: &forge.Project{ID: 42, DefaultBranch: "main"},
		issue:   &forge.Issue{IID: 1, ProjectID: 42, Title: "crash on save", UpdatedAt: time.Now()},
		note: &forge.Note{
			ID:        5,
			Body:      "@gitbot what's going on here?",
			Author:    &forge.User{Username: "alice"},
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		},
	}

	e := newTestEngine(t, fc)
	e.tick(t.Context())

	if len(fc.posted) != 1 {
		t.Fatalf("expected one posted reply, got %v", fc.posted)
	}
}

func TestTickAdvancesWatermarkAfterAllProjects(t *testing.T) {
	fc := &fakeClient{
		project: &forge.Project{ID: 42, DefaultBranch: "main"},
		issue:   &forge.Issue{IID: 1, ProjectID: 42, Title: "x", UpdatedAt: time.Now().Add(-2 * time.Hour)},
		note: &forge.Note{
			ID:        5,
			Body:      "no mention here",
			Author:    &forge.User{Username: "alice"},
			CreatedAt: time.Now().Add(-2 * time.Hour),
			UpdatedAt: time.Now().Add(-2 * time.Hour),
		},
	}
	e := newTestEngine(t, fc)

	before := e.projects[0].watermark
	e.tick(t.Context())
	after := e.projects[0].watermark

	if !after.After(before) {
		t.Fatalf("expected watermark to advance, before=%v after=%v", before, after)
	}
	if len(fc.posted) != 0 {
		t.Fatalf("expected no reply for a non-mentioning note, got %v", fc.posted)
	}
}

func TestContainsMention(t *testing.T) {
	if !containsMention("hey @gitbot can you help", "gitbot") {
		t.Fatal("expected mention to be detected")
	}
	if containsMention("no mention here", "gitbot") {
		t.Fatal("expected no mention to be detected")
	}
}
