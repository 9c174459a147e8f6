package contextx

import (
	"context"
	"strings"
	"testing"

	"github.com/alekspetrov/gitbot/internal/forge"
	"github.com/alekspetrov/gitbot/internal/index"
)

type fakeClient struct {
	tree    map[int][]forge.TreeEntry
	files   map[int]map[string]*forge.File
	changes map[int]map[int][]forge.FileDiff
	commits map[string][]forge.Commit
}

func (f *fakeClient) GetRepositoryTree(ctx context.Context, projectID int) ([]forge.TreeEntry, error) {
	return f.tree[projectID], nil
}

func (f *fakeClient) GetFileContent(ctx context.Context, projectID int, path, ref string) (*forge.File, error) {
	files, ok := f.files[projectID]
	if !ok {
		return nil, errNotFound{}
	}
	file, ok := files[path]
	if !ok {
		return nil, errNotFound{}
	}
	return file, nil
}

func (f *fakeClient) GetMergeRequestChanges(ctx context.Context, projectID, iid int) ([]forge.FileDiff, error) {
	return f.changes[projectID][iid], nil
}

func (f *fakeClient) GetFileCommits(ctx context.Context, projectID int, path string, limit int) ([]forge.Commit, error) {
	return f.commits[path], nil
}

type errNotFound struct{}

func (errNotFound) Error() string { return "not found" }

func TestContextForIssueIncludesAgentsMD(t *testing.T) {
	client := &fakeClient{
		tree: map[int][]forge.TreeEntry{
			1: {{Path: "main.go", Type: "blob"}},
		},
		files: map[int]map[string]*forge.File{
			1: {
				"AGENTS.md": {Path: "AGENTS.md", Content: "Follow these conventions."},
				"main.go":   {Path: "main.go", Content: "package main\n\nfunc parseConfig() {}\n"},
			},
		},
	}
	idx := index.New(0)
	issue := &forge.Issue{Title: "fix parseConfig bug", Description: "parseConfig panics"}

	got := ContextForIssue(t.Context(), client, idx, 1, nil, issue, Config{MaxContextSize: 10_000, ContextLines: 3, DefaultBranch: "main"})

	if !strings.Contains(got, "Follow these conventions.") {
		t.Fatalf("expected AGENTS.md content in context, got: %s", got)
	}
	if !strings.Contains(got, "Repository source files") {
		t.Fatalf("expected source file listing in context, got: %s", got)
	}
}

func TestContextForIssueTruncatesAtBudget(t *testing.T) {
	client := &fakeClient{
		tree: map[int][]forge.TreeEntry{
			1: {{Path: "main.go", Type: "blob"}},
		},
		files: map[int]map[string]*forge.File{
			1: {
				"main.go": {Path: "main.go", Content: strings.Repeat("x", 5000)},
			},
		},
	}
	idx := index.New(0)
	idx.AddFile("main.go", strings.Repeat("x", 5000))
	issue := &forge.Issue{Title: "x", Description: ""}

	got := ContextForIssue(t.Context(), client, idx, 1, nil, issue, Config{MaxContextSize: 50, ContextLines: 3, DefaultBranch: "main"})

	if !strings.Contains(got, "truncated") {
		t.Fatalf("expected truncation marker in small-budget context, got: %s", got)
	}
}

func TestContextForMRIncludesDiffAndCommitHistory(t *testing.T) {
	client := &fakeClient{
		tree: map[int][]forge.TreeEntry{1: {}},
		files: map[int]map[string]*forge.File{1: {}},
		changes: map[int]map[int][]forge.FileDiff{
			1: {5: {{OldPath: "a.go", NewPath: "a.go", Diff: "+added line"}}},
		},
		commits: map[string][]forge.Commit{
			"a.go": {{ShortID: "abc123", Title: "fix bug"}},
		},
	}
	idx := index.New(0)
	mr := &forge.MergeRequest{IID: 5, Title: "fix", Description: "fixes the bug"}

	prompt, history := ContextForMR(t.Context(), client, idx, 1, nil, mr, Config{MaxContextSize: 10_000, ContextLines: 3, DefaultBranch: "main"})

	if !strings.Contains(prompt, "Changes in a.go") || !strings.Contains(prompt, "+added line") {
		t.Fatalf("expected diff section in prompt context, got: %s", prompt)
	}
	if !strings.Contains(history, "abc123") {
		t.Fatalf("expected commit history to include short id, got: %s", history)
	}
}

func TestExtractKeywords(t *testing.T) {
	kws := ExtractKeywords("Fix the login bug", "The login form crashes when empty")
	want := map[string]bool{"fix": true, "login": true, "bug": true, "form": true, "crashes": true, "when": true, "empty": true}
	for _, k := range kws {
		if !want[k] {
			t.Errorf("unexpected keyword %q", k)
		}
	}
	for _, stop := range []string{"the", "when"} {
		_ = stop // "when" is intentionally allowed through; "the" must not be
	}
	for _, k := range kws {
		if k == "the" {
			t.Fatalf("stopword 'the' should have been filtered")
		}
	}
}

func TestPathScore(t *testing.T) {
	if PathScore("image.png", []string{"login"}) != 0 {
		t.Fatalf("binary extension should score 0")
	}
	if got := PathScore("README.md", nil); got != 5 {
		t.Fatalf("got %d, want 5 for doc path", got)
	}
	if got := PathScore("src/login.go", []string{"login"}); got < 3+10 {
		t.Fatalf("got %d, want at least 13 for source+keyword match", got)
	}
}
