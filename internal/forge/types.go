package forge

import "time"

// Issue states.
const (
	StateOpened = "opened"
	StateClosed = "closed"
)

// Merge request states.
const (
	MRStateOpened = "opened"
	MRStateClosed = "closed"
	MRStateMerged = "merged"
)

// Issue is a project-scoped issue summary.
type Issue struct {
	ID          int       `json:"id"`
	IID         int       `json:"iid"`
	ProjectID   int       `json:"project_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	State       string    `json:"state"`
	Labels      []string  `json:"labels"`
	WebURL      string    `json:"web_url"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Author      *User     `json:"author,omitempty"`
}

// MergeRequest is a project-scoped merge request summary.
type MergeRequest struct {
	ID           int       `json:"id"`
	IID          int       `json:"iid"`
	ProjectID    int       `json:"project_id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	State        string    `json:"state"`
	SourceBranch string    `json:"source_branch"`
	TargetBranch string    `json:"target_branch"`
	MergeStatus  string    `json:"detailed_merge_status"`
	WebURL       string    `json:"web_url"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Author       *User     `json:"author,omitempty"`
	Labels       []string  `json:"labels"`
}

// User is a forge account identity.
type User struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

// Project is a repository summary, keyed by the numeric project id used
// in every other REST call.
type Project struct {
	ID                int    `json:"id"`
	Name              string `json:"name"`
	PathWithNamespace string `json:"path_with_namespace"`
	WebURL            string `json:"web_url"`
	DefaultBranch     string `json:"default_branch"`
}

// Note is a comment on an issue or merge request.
type Note struct {
	ID        int       `json:"id"`
	Body      string    `json:"body"`
	Author    *User     `json:"author,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	System    bool      `json:"system"`
}

// TreeEntry is one entry of a repository tree listing.
type TreeEntry struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"` // "blob" or "tree"
	Path string `json:"path"`
}

// File is repository file content as returned by GetFileContent: decoded
// text, never the raw base64 the wire format carries.
type File struct {
	Path     string
	SHA      string
	SizeInBytes int
	Content  string
}

// FileDiff is one changed file in a merge request's changes payload.
type FileDiff struct {
	OldPath string `json:"old_path"`
	NewPath string `json:"new_path"`
	Diff    string `json:"diff"`
}

// Commit is a single commit entry returned by the commits-for-path endpoint.
type Commit struct {
	ID             string    `json:"id"`
	ShortID        string    `json:"short_id"`
	Title          string    `json:"title"`
	Message        string    `json:"message"`
	AuthorName     string    `json:"author_name"`
	AuthoredDate   time.Time `json:"authored_date"`
	CommittedDate  time.Time `json:"committed_date"`
}

// Label is a project label.
type Label struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Color       string `json:"color"`
}

// ListIssuesOptions filters a call to GetIssuesSince-style listings.
type ListIssuesOptions struct {
	Labels  []string
	State   string
	Sort    string
	OrderBy string
	Since   time.Time
}

// rawLabelUpdate is the PUT body shape GitLab expects for label mutation.
type rawLabelUpdate struct {
	AddLabels    string `json:"add_labels,omitempty"`
	RemoveLabels string `json:"remove_labels,omitempty"`
}
