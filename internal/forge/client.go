// Package forge wraps the remote Git forge's REST API: issues, merge
// requests, notes, file content, repository tree, commits and labels. It
// owns the in-process repository-tree cache.
package forge

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	cache "github.com/go-pkgz/expirable-cache/v2"
	"github.com/samber/lo"
	"golang.org/x/time/rate"

	"github.com/alekspetrov/gitbot/internal/gitboterr"
	"github.com/alekspetrov/gitbot/internal/logging"
)

const treeCacheTTL = 5 * time.Minute

// Client is a typed wrapper over the forge's REST API. A single Client
// instance is shared read-only across every watched project; projectID is
// always a call parameter, never baked into the client.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter

	treeCache cache.Cache[int, []TreeEntry]
}

// NewClient builds a Client against the given base URL (e.g.
// "https://gitlab.com") with a personal access token.
func NewClient(baseURL, token string) *Client {
	return &Client{
		token:   token,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter:   rate.NewLimiter(rate.Limit(10), 20),
		treeCache: cache.NewCache[int, []TreeEntry]().WithLRU().WithMaxKeys(256),
	}
}

func (c *Client) doRequest(ctx context.Context, method, path string, body, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &gitboterr.TimeoutOrTransportError{Cause: err}
	}

	var bodyReader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return &gitboterr.DeserializationError{Cause: err}
		}
		bodyReader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return &gitboterr.TimeoutOrTransportError{Cause: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("PRIVATE-TOKEN", c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &gitboterr.TimeoutOrTransportError{Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &gitboterr.TimeoutOrTransportError{Cause: err}
	}

	logging.Debug("forge request", "method", method, "path", path, "status", resp.StatusCode, "elapsed_ms", time.Since(start).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &gitboterr.ForgeAPIError{Status: resp.StatusCode, Body: string(respBody)}
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return &gitboterr.DeserializationError{Cause: err}
		}
	}
	return nil
}

// doRequestAllowNotFound is like doRequest but turns a 404 into
// gitboterr.NewNotFound instead of a ForgeAPIError, for the one call site
// (file content) where that is routinely expected rather than exceptional.
func (c *Client) doRequestAllowNotFound(ctx context.Context, method, path, notFoundPath string, body, result interface{}) error {
	err := c.doRequest(ctx, method, path, body, result)
	var apiErr *gitboterr.ForgeAPIError
	if errIs(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return gitboterr.NewNotFound(notFoundPath)
	}
	return err
}

func errIs(err error, target **gitboterr.ForgeAPIError) bool {
	ae, ok := err.(*gitboterr.ForgeAPIError)
	if !ok {
		return false
	}
	*target = ae
	return true
}

// GetProjectByPath resolves a "namespace/project" path to a project summary.
func (c *Client) GetProjectByPath(ctx context.Context, path string) (*Project, error) {
	reqPath := fmt.Sprintf("/api/v4/projects/%s", url.PathEscape(path))
	var p Project
	if err := c.doRequest(ctx, http.MethodGet, reqPath, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetIssue fetches a single issue by project id and iid.
func (c *Client) GetIssue(ctx context.Context, projectID, iid int) (*Issue, error) {
	path := fmt.Sprintf("/api/v4/projects/%d/issues/%d", projectID, iid)
	var issue Issue
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &issue); err != nil {
		return nil, err
	}
	return &issue, nil
}

// GetMergeRequest fetches a single merge request by project id and iid.
func (c *Client) GetMergeRequest(ctx context.Context, projectID, iid int) (*MergeRequest, error) {
	path := fmt.Sprintf("/api/v4/projects/%d/merge_requests/%d", projectID, iid)
	var mr MergeRequest
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &mr); err != nil {
		return nil, err
	}
	return &mr, nil
}

// GetIssuesSince lists issues updated at or after since, 100 per page,
// following opts' label/state filters. Results are ascending by updated_at
// unless opts sets Sort or OrderBy.
func (c *Client) GetIssuesSince(ctx context.Context, projectID int, opts ListIssuesOptions) ([]*Issue, error) {
	sortDir, orderBy := "asc", "updated_at"
	if opts.Sort != "" {
		sortDir = opts.Sort
	}
	if opts.OrderBy != "" {
		orderBy = opts.OrderBy
	}
	q := url.Values{}
	q.Set("sort", sortDir)
	q.Set("order_by", orderBy)
	q.Set("per_page", "100")
	if !opts.Since.IsZero() {
		q.Set("updated_after", opts.Since.Format(time.RFC3339))
	}
	if opts.State != "" {
		q.Set("state", opts.State)
	}
	for _, l := range opts.Labels {
		q.Add("labels", l)
	}

	var all []*Issue
	page := 1
	for {
		q.Set("page", strconv.Itoa(page))
		path := fmt.Sprintf("/api/v4/projects/%d/issues?%s", projectID, q.Encode())
		var batch []*Issue
		if err := c.doRequest(ctx, http.MethodGet, path, nil, &batch); err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < 100 {
			break
		}
		page++
	}
	return all, nil
}

// GetMergeRequestsSince lists merge requests updated at or after since.
func (c *Client) GetMergeRequestsSince(ctx context.Context, projectID int, since time.Time) ([]*MergeRequest, error) {
	q := url.Values{}
	q.Set("sort", "asc")
	q.Set("order_by", "updated_at")
	q.Set("per_page", "100")
	if !since.IsZero() {
		q.Set("updated_after", since.Format(time.RFC3339))
	}

	var all []*MergeRequest
	page := 1
	for {
		q.Set("page", strconv.Itoa(page))
		path := fmt.Sprintf("/api/v4/projects/%d/merge_requests?%s", projectID, q.Encode())
		var batch []*MergeRequest
		if err := c.doRequest(ctx, http.MethodGet, path, nil, &batch); err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < 100 {
			break
		}
		page++
	}
	return all, nil
}

// GetIssueNotesSince lists notes on an issue created strictly after since.
func (c *Client) GetIssueNotesSince(ctx context.Context, projectID, iid int, since time.Time) ([]*Note, error) {
	notes, err := c.GetAllIssueNotes(ctx, projectID, iid)
	if err != nil {
		return nil, err
	}
	return filterNotesSince(notes, since), nil
}

// GetMergeRequestNotesSince lists notes on an MR created strictly after since.
func (c *Client) GetMergeRequestNotesSince(ctx context.Context, projectID, iid int, since time.Time) ([]*Note, error) {
	notes, err := c.GetAllMergeRequestNotes(ctx, projectID, iid)
	if err != nil {
		return nil, err
	}
	return filterNotesSince(notes, since), nil
}

func filterNotesSince(notes []*Note, since time.Time) []*Note {
	if since.IsZero() {
		return notes
	}
	return lo.Filter(notes, func(n *Note, _ int) bool { return n.CreatedAt.After(since) })
}

// GetAllIssueNotes fetches the full, paginated note list for an issue.
func (c *Client) GetAllIssueNotes(ctx context.Context, projectID, iid int) ([]*Note, error) {
	return c.getAllNotes(ctx, fmt.Sprintf("/api/v4/projects/%d/issues/%d/notes", projectID, iid))
}

// GetAllMergeRequestNotes fetches the full, paginated note list for an MR.
func (c *Client) GetAllMergeRequestNotes(ctx context.Context, projectID, iid int) ([]*Note, error) {
	return c.getAllNotes(ctx, fmt.Sprintf("/api/v4/projects/%d/merge_requests/%d/notes", projectID, iid))
}

func (c *Client) getAllNotes(ctx context.Context, basePath string) ([]*Note, error) {
	var all []*Note
	page := 1
	for {
		path := fmt.Sprintf("%s?per_page=100&page=%d&sort=asc&order_by=created_at", basePath, page)
		var batch []*Note
		if err := c.doRequest(ctx, http.MethodGet, path, nil, &batch); err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < 100 {
			break
		}
		page++
	}
	return all, nil
}

// PostCommentToIssue posts a note to an issue and returns the created note.
func (c *Client) PostCommentToIssue(ctx context.Context, projectID, iid int, body string) (*Note, error) {
	path := fmt.Sprintf("/api/v4/projects/%d/issues/%d/notes", projectID, iid)
	var note Note
	if err := c.doRequest(ctx, http.MethodPost, path, map[string]string{"body": body}, &note); err != nil {
		return nil, err
	}
	return &note, nil
}

// PostCommentToMergeRequest posts a note to an MR and returns the created note.
func (c *Client) PostCommentToMergeRequest(ctx context.Context, projectID, iid int, body string) (*Note, error) {
	path := fmt.Sprintf("/api/v4/projects/%d/merge_requests/%d/notes", projectID, iid)
	var note Note
	if err := c.doRequest(ctx, http.MethodPost, path, map[string]string{"body": body}, &note); err != nil {
		return nil, err
	}
	return &note, nil
}

// AddIssueLabel adds a single label to an issue via add_labels.
func (c *Client) AddIssueLabel(ctx context.Context, projectID, iid int, label string) error {
	path := fmt.Sprintf("/api/v4/projects/%d/issues/%d", projectID, iid)
	return c.doRequest(ctx, http.MethodPut, path, rawLabelUpdate{AddLabels: label}, nil)
}

// RemoveIssueLabel removes a single label from an issue via remove_labels.
// A 404 (issue gone) is treated as success.
func (c *Client) RemoveIssueLabel(ctx context.Context, projectID, iid int, label string) error {
	path := fmt.Sprintf("/api/v4/projects/%d/issues/%d", projectID, iid)
	err := c.doRequest(ctx, http.MethodPut, path, rawLabelUpdate{RemoveLabels: label}, nil)
	var apiErr *gitboterr.ForgeAPIError
	if errIs(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return nil
	}
	return err
}

// AddIssueLabels adds every given label to an issue in one call.
func (c *Client) AddIssueLabels(ctx context.Context, projectID, iid int, labels []string) error {
	if len(labels) == 0 {
		return nil
	}
	path := fmt.Sprintf("/api/v4/projects/%d/issues/%d", projectID, iid)
	return c.doRequest(ctx, http.MethodPut, path, rawLabelUpdate{AddLabels: strings.Join(labels, ",")}, nil)
}

// GetRepositoryTree returns every blob path in the repository, paginating
// until X-Total-Pages is exhausted. The result is cached in-process per
// project for treeCacheTTL.
func (c *Client) GetRepositoryTree(ctx context.Context, projectID int) ([]TreeEntry, error) {
	if cached, ok := c.treeCache.Get(projectID); ok {
		return cached, nil
	}

	var all []TreeEntry
	page := 1
	for {
		path := fmt.Sprintf("/api/v4/projects/%d/repository/tree?recursive=true&per_page=100&page=%d", projectID, page)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return nil, &gitboterr.TimeoutOrTransportError{Cause: err}
		}
		req.Header.Set("PRIVATE-TOKEN", c.token)

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &gitboterr.TimeoutOrTransportError{Cause: err}
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, &gitboterr.TimeoutOrTransportError{Cause: err}
		}
		body, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			return nil, &gitboterr.TimeoutOrTransportError{Cause: err}
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &gitboterr.ForgeAPIError{Status: resp.StatusCode, Body: string(body)}
		}

		var batch []TreeEntry
		if err := json.Unmarshal(body, &batch); err != nil {
			return nil, &gitboterr.DeserializationError{Cause: err}
		}
		for _, e := range batch {
			if e.Type == "blob" {
				all = append(all, e)
			}
		}

		totalPages := resp.Header.Get("X-Total-Pages")
		tp, _ := strconv.Atoi(totalPages)
		if tp == 0 || page >= tp {
			break
		}
		page++
	}

	c.treeCache.Set(projectID, all, treeCacheTTL)
	return all, nil
}

// InvalidateTree drops the cached tree for a project, forcing the next
// GetRepositoryTree call to refetch.
func (c *Client) InvalidateTree(projectID int) {
	c.treeCache.Delete(projectID)
}

type fileContentResponse struct {
	FileName string `json:"file_name"`
	FilePath string `json:"file_path"`
	Size     int    `json:"size"`
	Encoding string `json:"encoding"`
	Content  string `json:"content"`
	BlobID   string `json:"blob_id"`
}

// GetFileContent fetches a file's decoded text content at ref. A 404
// surfaces as gitboterr.NewNotFound rather than a ForgeAPIError.
func (c *Client) GetFileContent(ctx context.Context, projectID int, path, ref string) (*File, error) {
	encodedPath := url.PathEscape(path)
	reqPath := fmt.Sprintf("/api/v4/projects/%d/repository/files/%s?ref=%s", projectID, encodedPath, url.QueryEscape(ref))

	var resp fileContentResponse
	if err := c.doRequestAllowNotFound(ctx, http.MethodGet, reqPath, path, nil, &resp); err != nil {
		return nil, err
	}

	content := resp.Content
	if resp.Encoding == "base64" {
		decoded, err := base64.StdEncoding.DecodeString(resp.Content)
		if err != nil {
			return nil, &gitboterr.DeserializationError{Cause: err}
		}
		content = string(decoded)
	}

	return &File{
		Path:        path,
		SHA:         resp.BlobID,
		SizeInBytes: resp.Size,
		Content:     content,
	}, nil
}

// GetMergeRequestChanges returns the per-file diffs for an MR.
func (c *Client) GetMergeRequestChanges(ctx context.Context, projectID, iid int) ([]FileDiff, error) {
	path := fmt.Sprintf("/api/v4/projects/%d/merge_requests/%d/changes", projectID, iid)
	var payload struct {
		Changes []FileDiff `json:"changes"`
	}
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &payload); err != nil {
		return nil, err
	}
	return payload.Changes, nil
}

// GetFileCommits returns up to limit commits touching path, most recent first.
func (c *Client) GetFileCommits(ctx context.Context, projectID int, path string, limit int) ([]Commit, error) {
	reqPath := fmt.Sprintf("/api/v4/projects/%d/repository/commits?path=%s&per_page=%d", projectID, url.QueryEscape(path), limit)
	var commits []Commit
	if err := c.doRequest(ctx, http.MethodGet, reqPath, nil, &commits); err != nil {
		return nil, err
	}
	if len(commits) > limit {
		commits = commits[:limit]
	}
	return commits, nil
}

// GetLabels lists every label defined on the project.
func (c *Client) GetLabels(ctx context.Context, projectID int) ([]Label, error) {
	path := fmt.Sprintf("/api/v4/projects/%d/labels?per_page=100", projectID)
	var labels []Label
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &labels); err != nil {
		return nil, err
	}
	return labels, nil
}

// SearchCode performs a server-side blob search scoped to a branch.
func (c *Client) SearchCode(ctx context.Context, projectID int, query, branch string) ([]TreeEntry, error) {
	q := url.Values{}
	q.Set("scope", "blobs")
	q.Set("search", query)
	if branch != "" {
		q.Set("ref", branch)
	}
	path := fmt.Sprintf("/api/v4/projects/%d/search?%s", projectID, q.Encode())

	var raw []struct {
		Path string `json:"path"`
		Ref  string `json:"ref"`
	}
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}

	entries := make([]TreeEntry, 0, len(raw))
	for _, r := range raw {
		entries = append(entries, TreeEntry{Path: r.Path, Name: pathBase(r.Path), Type: "blob"})
	}
	return entries, nil
}

func pathBase(p string) string {
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}

// HasLabel reports whether an issue carries labelName.
func HasLabel(issue *Issue, labelName string) bool {
	for _, l := range issue.Labels {
		if l == labelName {
			return true
		}
	}
	return false
}
