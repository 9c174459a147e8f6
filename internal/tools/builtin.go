package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/alekspetrov/gitbot/internal/forge"
	"github.com/alekspetrov/gitbot/internal/index"
)

// Client is the subset of the forge client the built-in tools call.
type Client interface {
	GetIssue(ctx context.Context, projectID, iid int) (*forge.Issue, error)
	GetMergeRequest(ctx context.Context, projectID, iid int) (*forge.MergeRequest, error)
	SearchCode(ctx context.Context, projectID int, query, branch string) ([]forge.TreeEntry, error)
	GetProjectByPath(ctx context.Context, path string) (*forge.Project, error)
	GetFileContent(ctx context.Context, projectID int, path, ref string) (*forge.File, error)
}

// RegisterBuiltins wires the seven built-in tools into reg. projectID and
// defaultBranch are bound at registration time (the "call site"), so the
// model never has to supply them for the file/search tools.
func RegisterBuiltins(reg *Registry, client Client, idx *index.Index, projectID int, defaultBranch string) {
	reg.Register(&getIssueDetailsTool{client: client})
	reg.Register(&getMergeRequestDetailsTool{client: client})
	reg.Register(&searchCodeTool{client: client, defaultBranch: defaultBranch})
	reg.Register(&getProjectByPathTool{client: client})
	reg.Register(&getFileContentTool{client: client, projectID: projectID, ref: defaultBranch})
	reg.Register(&getFileLinesTool{client: client, projectID: projectID, ref: defaultBranch})
	reg.Register(&searchRepositoryFilesTool{client: client, idx: idx, projectID: projectID, ref: defaultBranch})
}

type getIssueDetailsTool struct{ client Client }

func (t *getIssueDetailsTool) Name() string { return "get_issue_details" }
func (t *getIssueDetailsTool) Description() string {
	return "Get detailed information about an issue. Use the main project ID where the issue is located."
}
func (t *getIssueDetailsTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"project_id": map[string]any{"type": "integer", "description": "The project ID"},
			"issue_iid":  map[string]any{"type": "integer", "description": "The issue IID (internal ID)"},
		},
		"required": []string{"project_id", "issue_iid"},
	}
}
func (t *getIssueDetailsTool) Execute(ctx context.Context, rawArgs string) (string, error) {
	args, err := parseArgs(rawArgs)
	if err != nil {
		return "", err
	}
	projectID, err := requirePositiveInt(args, "project_id")
	if err != nil {
		return "", err
	}
	iid, err := requirePositiveInt(args, "issue_iid")
	if err != nil {
		return "", err
	}
	issue, err := t.client.GetIssue(ctx, projectID, iid)
	if err != nil {
		return "", fmt.Errorf("forge API error: %w", err)
	}
	return marshalResult(issue)
}

type getMergeRequestDetailsTool struct{ client Client }

func (t *getMergeRequestDetailsTool) Name() string { return "get_merge_request_details" }
func (t *getMergeRequestDetailsTool) Description() string {
	return "Get detailed information about a merge request. Use the main project ID where the merge request is located."
}
func (t *getMergeRequestDetailsTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"project_id": map[string]any{"type": "integer", "description": "The project ID"},
			"mr_iid":     map[string]any{"type": "integer", "description": "The merge request IID (internal ID)"},
		},
		"required": []string{"project_id", "mr_iid"},
	}
}
func (t *getMergeRequestDetailsTool) Execute(ctx context.Context, rawArgs string) (string, error) {
	args, err := parseArgs(rawArgs)
	if err != nil {
		return "", err
	}
	projectID, err := requirePositiveInt(args, "project_id")
	if err != nil {
		return "", err
	}
	iid, err := requirePositiveInt(args, "mr_iid")
	if err != nil {
		return "", err
	}
	mr, err := t.client.GetMergeRequest(ctx, projectID, iid)
	if err != nil {
		return "", fmt.Errorf("forge API error: %w", err)
	}
	return marshalResult(mr)
}

type searchCodeTool struct {
	client        Client
	defaultBranch string
}

func (t *searchCodeTool) Name() string { return "search_code" }
func (t *searchCodeTool) Description() string {
	return "Search for code in a repository. Use the main project ID for main project files, or the context repository project ID for context files. Defaults to the repository's default branch when no branch is given."
}
func (t *searchCodeTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"project_id": map[string]any{"type": "integer", "description": "The project ID"},
			"query":      map[string]any{"type": "string", "description": "The search query"},
			"branch":     map[string]any{"type": "string", "description": "The branch to search in (optional)"},
		},
		"required": []string{"project_id", "query"},
	}
}
func (t *searchCodeTool) Execute(ctx context.Context, rawArgs string) (string, error) {
	args, err := parseArgs(rawArgs)
	if err != nil {
		return "", err
	}
	projectID, err := requirePositiveInt(args, "project_id")
	if err != nil {
		return "", err
	}
	query, err := requireString(args, "query")
	if err != nil {
		return "", err
	}
	branch := optionalString(args, "branch", t.defaultBranch)

	results, err := t.client.SearchCode(ctx, projectID, query, branch)
	if err != nil {
		return "", fmt.Errorf("forge API error: %w", err)
	}
	return marshalResult(results)
}

type getProjectByPathTool struct{ client Client }

func (t *getProjectByPathTool) Name() string { return "get_project_by_path" }
func (t *getProjectByPathTool) Description() string {
	return "Get project details (including project ID) by its path, e.g. 'group/project-name'."
}
func (t *getProjectByPathTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"project_path": map[string]any{"type": "string", "description": "The project path"},
		},
		"required": []string{"project_path"},
	}
}
func (t *getProjectByPathTool) Execute(ctx context.Context, rawArgs string) (string, error) {
	args, err := parseArgs(rawArgs)
	if err != nil {
		return "", err
	}
	path, err := requireString(args, "project_path")
	if err != nil {
		return "", err
	}
	project, err := t.client.GetProjectByPath(ctx, path)
	if err != nil {
		return "", fmt.Errorf("forge API error: %w", err)
	}
	return marshalResult(project)
}

type getFileContentTool struct {
	client    Client
	projectID int
	ref       string
}

func (t *getFileContentTool) Name() string { return "get_file_content" }
func (t *getFileContentTool) Description() string {
	return "Get the full content of a file in the current repository. The project is inferred from the mention being processed."
}
func (t *getFileContentTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"file_path": map[string]any{"type": "string", "description": "Path to the file within the repository"},
		},
		"required": []string{"file_path"},
	}
}
func (t *getFileContentTool) Execute(ctx context.Context, rawArgs string) (string, error) {
	args, err := parseArgs(rawArgs)
	if err != nil {
		return "", err
	}
	path, err := requireString(args, "file_path")
	if err != nil {
		return "", err
	}
	file, err := t.client.GetFileContent(ctx, t.projectID, path, t.ref)
	if err != nil {
		return "", fmt.Errorf("forge API error: %w", err)
	}
	return file.Content, nil
}

type getFileLinesTool struct {
	client    Client
	projectID int
	ref       string
}

func (t *getFileLinesTool) Name() string { return "get_file_lines" }
func (t *getFileLinesTool) Description() string {
	return "Get a specific line range from a file in the current repository."
}
func (t *getFileLinesTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"file_path":  map[string]any{"type": "string", "description": "Path to the file within the repository"},
			"start_line": map[string]any{"type": "integer", "description": "1-based start line"},
			"end_line":   map[string]any{"type": "integer", "description": "1-based end line, inclusive"},
		},
		"required": []string{"file_path", "start_line", "end_line"},
	}
}
func (t *getFileLinesTool) Execute(ctx context.Context, rawArgs string) (string, error) {
	args, err := parseArgs(rawArgs)
	if err != nil {
		return "", err
	}
	path, err := requireString(args, "file_path")
	if err != nil {
		return "", err
	}
	start, err := requirePositiveInt(args, "start_line")
	if err != nil {
		return "", err
	}
	end, err := requirePositiveInt(args, "end_line")
	if err != nil {
		return "", err
	}
	if end < start {
		return "", fmt.Errorf("end_line must be >= start_line")
	}

	file, err := t.client.GetFileContent(ctx, t.projectID, path, t.ref)
	if err != nil {
		return "", fmt.Errorf("forge API error: %w", err)
	}

	lines := strings.Split(strings.TrimSuffix(file.Content, "\n"), "\n")
	if start > len(lines) {
		return "", nil
	}
	if end > len(lines) {
		end = len(lines)
	}
	return strings.Join(lines[start-1:end], "\n"), nil
}

type searchRepositoryFilesTool struct {
	client    Client
	idx       *index.Index
	projectID int
	ref       string
}

func (t *searchRepositoryFilesTool) Name() string { return "search_repository_files" }
func (t *searchRepositoryFilesTool) Description() string {
	return "Search the current repository's n-gram index for files whose content matches all the given keywords."
}
func (t *searchRepositoryFilesTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"keywords": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Keywords to search for; results must match every keyword",
			},
			"limit": map[string]any{"type": "integer", "description": "Maximum number of paths to return (optional)"},
		},
		"required": []string{"keywords"},
	}
}
func (t *searchRepositoryFilesTool) Execute(ctx context.Context, rawArgs string) (string, error) {
	args, err := parseArgs(rawArgs)
	if err != nil {
		return "", err
	}
	rawKeywords, ok := args["keywords"].([]any)
	if !ok || len(rawKeywords) == 0 {
		return "", fmt.Errorf("keywords must be a non-empty array of strings")
	}
	keywords := make([]string, 0, len(rawKeywords))
	for _, k := range rawKeywords {
		s, ok := k.(string)
		if !ok {
			return "", fmt.Errorf("keywords must all be strings")
		}
		keywords = append(keywords, s)
	}

	limit := 20
	if l, err := requirePositiveInt(args, "limit"); err == nil {
		limit = l
	}

	matches := t.idx.Search(keywords)
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return marshalResult(matches)
}

func marshalResult(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to format result: %w", err)
	}
	return string(raw), nil
}
