package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/alekspetrov/gitbot/internal/forge"
	"github.com/alekspetrov/gitbot/internal/index"
	"github.com/alekspetrov/gitbot/internal/model"
)

type fakeClient struct {
	issues   map[int]map[int]*forge.Issue
	mrs      map[int]map[int]*forge.MergeRequest
	projects map[string]*forge.Project
	files    map[int]map[string]*forge.File
	search   map[int][]forge.TreeEntry
}

func (f *fakeClient) GetIssue(ctx context.Context, projectID, iid int) (*forge.Issue, error) {
	issue, ok := f.issues[projectID][iid]
	if !ok {
		return nil, errNotFound{}
	}
	return issue, nil
}

func (f *fakeClient) GetMergeRequest(ctx context.Context, projectID, iid int) (*forge.MergeRequest, error) {
	mr, ok := f.mrs[projectID][iid]
	if !ok {
		return nil, errNotFound{}
	}
	return mr, nil
}

func (f *fakeClient) SearchCode(ctx context.Context, projectID int, query, branch string) ([]forge.TreeEntry, error) {
	return f.search[projectID], nil
}

func (f *fakeClient) GetProjectByPath(ctx context.Context, path string) (*forge.Project, error) {
	p, ok := f.projects[path]
	if !ok {
		return nil, errNotFound{}
	}
	return p, nil
}

func (f *fakeClient) GetFileContent(ctx context.Context, projectID int, path, ref string) (*forge.File, error) {
	file, ok := f.files[projectID][path]
	if !ok {
		return nil, errNotFound{}
	}
	return file, nil
}

type errNotFound struct{}

func (errNotFound) Error() string { return "not found" }

func TestGetIssueDetailsTool(t *testing.T) {
	client := &fakeClient{issues: map[int]map[int]*forge.Issue{
		42: {7: {ID: 1, IID: 7, ProjectID: 42, Title: "bug"}},
	}}
	tool := &getIssueDetailsTool{client: client}

	t.Run("success", func(t *testing.T) {
		out, err := tool.Execute(t.Context(), `{"project_id": 42, "issue_iid": 7}`)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(out, `"title":"bug"`) {
			t.Fatalf("expected serialized issue, got: %s", out)
		}
	})

	t.Run("missing arguments", func(t *testing.T) {
		if _, err := tool.Execute(t.Context(), ""); err == nil {
			t.Fatal("expected error for empty arguments")
		}
	})

	t.Run("missing required param", func(t *testing.T) {
		if _, err := tool.Execute(t.Context(), `{"project_id": 42}`); err == nil {
			t.Fatal("expected error for missing issue_iid")
		}
	})

	t.Run("wrong type", func(t *testing.T) {
		if _, err := tool.Execute(t.Context(), `{"project_id": "42", "issue_iid": 7}`); err == nil {
			t.Fatal("expected error for non-integer project_id")
		}
	})

	t.Run("non-positive", func(t *testing.T) {
		if _, err := tool.Execute(t.Context(), `{"project_id": 0, "issue_iid": 7}`); err == nil {
			t.Fatal("expected error for zero project_id")
		}
	})

	t.Run("not found", func(t *testing.T) {
		if _, err := tool.Execute(t.Context(), `{"project_id": 42, "issue_iid": 999}`); err == nil {
			t.Fatal("expected forge error to propagate")
		}
	})
}

func TestSearchCodeToolDefaultsBranch(t *testing.T) {
	client := &fakeClient{search: map[int][]forge.TreeEntry{
		1: {{Path: "main.go", Type: "blob"}},
	}}
	tool := &searchCodeTool{client: client, defaultBranch: "main"}

	out, err := tool.Execute(t.Context(), `{"project_id": 1, "query": "main"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "main.go") {
		t.Fatalf("expected search results, got: %s", out)
	}
}

func TestGetProjectByPathTool(t *testing.T) {
	client := &fakeClient{projects: map[string]*forge.Project{
		"group/project": {ID: 9, PathWithNamespace: "group/project"},
	}}
	tool := &getProjectByPathTool{client: client}

	out, err := tool.Execute(t.Context(), `{"project_path": "group/project"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got forge.Project
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("expected valid JSON, got: %s", out)
	}
	if got.ID != 9 {
		t.Fatalf("got id %d, want 9", got.ID)
	}

	if _, err := tool.Execute(t.Context(), `{"project_path": ""}`); err == nil {
		t.Fatal("expected error for empty project_path")
	}
}

func TestGetFileContentToolUsesBoundProject(t *testing.T) {
	client := &fakeClient{files: map[int]map[string]*forge.File{
		5: {"main.go": {Path: "main.go", Content: "package main\n"}},
	}}
	tool := &getFileContentTool{client: client, projectID: 5, ref: "main"}

	out, err := tool.Execute(t.Context(), `{"file_path": "main.go"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "package main\n" {
		t.Fatalf("got %q, want file content verbatim", out)
	}

	if _, err := tool.Execute(t.Context(), `{"file_path": "missing.go"}`); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestGetFileLinesTool(t *testing.T) {
	client := &fakeClient{files: map[int]map[string]*forge.File{
		5: {"main.go": {Path: "main.go", Content: "a\nb\nc\nd\ne\n"}},
	}}
	tool := &getFileLinesTool{client: client, projectID: 5, ref: "main"}

	out, err := tool.Execute(t.Context(), `{"file_path": "main.go", "start_line": 2, "end_line": 4}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "b\nc\nd" {
		t.Fatalf("got %q, want %q", out, "b\nc\nd")
	}

	if _, err := tool.Execute(t.Context(), `{"file_path": "main.go", "start_line": 4, "end_line": 2}`); err == nil {
		t.Fatal("expected error when end_line precedes start_line")
	}

	out, err = tool.Execute(t.Context(), `{"file_path": "main.go", "start_line": 3, "end_line": 100}`)
	if err != nil {
		t.Fatalf("unexpected error clamping end_line: %v", err)
	}
	if out != "c\nd\ne" {
		t.Fatalf("got %q, want clamped range", out)
	}
}

func TestSearchRepositoryFilesTool(t *testing.T) {
	idx := index.New(0)
	idx.AddFile("a.go", "func login() {}")
	idx.AddFile("b.go", "func logout() {}")
	tool := &searchRepositoryFilesTool{idx: idx, projectID: 1, ref: "main"}

	out, err := tool.Execute(t.Context(), `{"keywords": ["login"]}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// "logout" shares the trigram "log" with "login", so both files are
	// candidates for the keyword.
	if !strings.Contains(out, "a.go") || !strings.Contains(out, "b.go") {
		t.Fatalf("got %s, want a.go and b.go", out)
	}

	if _, err := tool.Execute(t.Context(), `{"keywords": []}`); err == nil {
		t.Fatal("expected error for empty keywords array")
	}
	if _, err := tool.Execute(t.Context(), `{"keywords": [1]}`); err == nil {
		t.Fatal("expected error for non-string keyword element")
	}
}

func TestRegistryExecuteUnknownTool(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&getProjectByPathTool{client: &fakeClient{}})

	specs := reg.Specs()
	if len(specs) != 1 || specs[0].Function.Name != "get_project_by_path" {
		t.Fatalf("unexpected specs: %+v", specs)
	}

	_, err := reg.Execute(t.Context(), model.ToolCall{Function: model.FunctionCall{Name: "no_such_tool", Arguments: "{}"}})
	if err == nil || !strings.Contains(err.Error(), "unknown tool") {
		t.Fatalf("got %v, want unknown tool error", err)
	}
}
