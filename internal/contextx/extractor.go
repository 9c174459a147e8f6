package contextx

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/alekspetrov/gitbot/internal/forge"
	"github.com/alekspetrov/gitbot/internal/index"
	"github.com/alekspetrov/gitbot/internal/logging"
)

const (
	defaultTopNFiles     = 5
	maxListedSourceFiles = 200
	agentsMdPath         = "AGENTS.md"
	contributingMdPath   = "CONTRIBUTING.md"
	commitsPerFile       = 5
)

// Config shapes how much context is assembled and under what byte ceiling.
type Config struct {
	MaxContextSize int
	ContextLines   int
	DefaultBranch  string
}

// Client is the subset of the forge client the extractor needs.
type Client interface {
	GetRepositoryTree(ctx context.Context, projectID int) ([]forge.TreeEntry, error)
	GetFileContent(ctx context.Context, projectID int, path, ref string) (*forge.File, error)
	GetMergeRequestChanges(ctx context.Context, projectID, iid int) ([]forge.FileDiff, error)
	GetFileCommits(ctx context.Context, projectID int, path string, limit int) ([]forge.Commit, error)
}

// ContextForIssue assembles grounding context for an issue prompt: a
// bounded source-file listing, AGENTS.md when present, and the top
// relevance-ranked file excerpts for the issue's keywords.
func ContextForIssue(ctx context.Context, client Client, idx *index.Index, projectID int, contextProjectID *int, issue *forge.Issue, cfg Config) string {
	ctx = logging.ContextWithComponent(ctx, logging.ComponentContextExtractor)
	b := newBudget(cfg.MaxContextSize)

	appendSourceListing(ctx, b, client, projectID, contextProjectID, cfg.DefaultBranch)
	appendAgentsMD(ctx, b, client, projectID, cfg.DefaultBranch)

	keywords := ExtractKeywords(issue.Title, issue.Description)
	appendRankedExcerpts(ctx, b, client, idx, projectID, cfg, keywords)

	return b.String()
}

// ContextForMR assembles grounding context for an MR prompt, plus a
// secondary commit-history string intended for the posted comment rather
// than the model prompt.
func ContextForMR(ctx context.Context, client Client, idx *index.Index, projectID int, contextProjectID *int, mr *forge.MergeRequest, cfg Config) (promptContext string, commitHistory string) {
	ctx = logging.ContextWithComponent(ctx, logging.ComponentContextExtractor)
	b := newBudget(cfg.MaxContextSize)

	appendSourceListing(ctx, b, client, projectID, contextProjectID, cfg.DefaultBranch)
	appendAgentsMD(ctx, b, client, projectID, cfg.DefaultBranch)

	changes, err := client.GetMergeRequestChanges(ctx, projectID, mr.IID)
	if err != nil {
		logging.WarnContext(ctx, "failed to fetch MR changes, proceeding without diff context", "project_id", projectID, "iid", mr.IID, "error", err)
		return b.String(), ""
	}

	for _, c := range changes {
		header := fmt.Sprintf("\n\n## Changes in %s\n\n", c.NewPath)
		if !b.Append(header) {
			break
		}
		if !b.Append(c.Diff) {
			break
		}
	}

	commitHistory = buildCommitHistory(ctx, client, projectID, changes)
	return b.String(), commitHistory
}

func appendSourceListing(ctx context.Context, b *budget, client Client, projectID int, contextProjectID *int, ref string) {
	var paths []string
	if tree, err := client.GetRepositoryTree(ctx, projectID); err == nil {
		paths = append(paths, collectSourcePaths(tree)...)
	}
	if contextProjectID != nil {
		if tree, err := client.GetRepositoryTree(ctx, *contextProjectID); err == nil {
			paths = append(paths, collectSourcePaths(tree)...)
		}
	}
	if len(paths) > maxListedSourceFiles {
		paths = paths[:maxListedSourceFiles]
	}
	if len(paths) == 0 {
		return
	}

	b.Append("\n\n## Repository source files\n\n")
	for _, p := range paths {
		if !b.Append("- " + p + "\n") {
			return
		}
	}
}

func collectSourcePaths(tree []forge.TreeEntry) []string {
	var out []string
	for _, e := range tree {
		if e.Type == "blob" && index.ShouldIndexFile(e.Path) {
			out = append(out, e.Path)
		}
	}
	return out
}

func appendAgentsMD(ctx context.Context, b *budget, client Client, projectID int, ref string) {
	file, err := client.GetFileContent(ctx, projectID, agentsMdPath, ref)
	if err != nil {
		return // absence is routine, not an error to propagate
	}
	b.Append(fmt.Sprintf("\n\n## AGENTS.md\n\n%s\n", file.Content))
}

// FetchContributingMD is a best-effort lookup used by the mention
// processor's MR prompt assembly; absence is not an error.
func FetchContributingMD(ctx context.Context, client Client, projectID int, ref string) (string, bool) {
	file, err := client.GetFileContent(ctx, projectID, contributingMdPath, ref)
	if err != nil {
		return "", false
	}
	return file.Content, true
}

type scoredFile struct {
	path    string
	content string
	score   int
}

func appendRankedExcerpts(ctx context.Context, b *budget, client Client, idx *index.Index, projectID int, cfg Config, keywords []string) {
	candidates := idx.Search(keywords)
	usedIndex := len(candidates) > 0

	if !usedIndex {
		tree, err := client.GetRepositoryTree(ctx, projectID)
		if err != nil {
			return
		}
		type pathScore struct {
			path  string
			score int
		}
		scored := make([]pathScore, 0, len(tree))
		for _, e := range tree {
			if e.Type != "blob" {
				continue
			}
			scored = append(scored, pathScore{e.Path, PathScore(e.Path, keywords)})
		}
		sort.Slice(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
		for i := 0; i < len(scored) && i < defaultTopNFiles*3; i++ {
			if scored[i].score > 0 {
				candidates = append(candidates, scored[i].path)
			}
		}
	}

	scoredFiles := make([]scoredFile, 0, len(candidates))
	for _, path := range candidates {
		file, err := client.GetFileContent(ctx, projectID, path, cfg.DefaultBranch)
		if err != nil {
			continue
		}
		scoredFiles = append(scoredFiles, scoredFile{
			path:    path,
			content: file.Content,
			score:   index.ContentRelevanceScore(file.Content, keywords),
		})
	}
	sort.Slice(scoredFiles, func(i, j int) bool { return scoredFiles[i].score > scoredFiles[j].score })

	limit := defaultTopNFiles
	if limit > len(scoredFiles) {
		limit = len(scoredFiles)
	}

	for _, sf := range scoredFiles[:limit] {
		if !appendFileExcerpt(b, sf, keywords, cfg.ContextLines) {
			return
		}
	}
}

func appendFileExcerpt(b *budget, sf scoredFile, keywords []string, contextLines int) bool {
	sections := index.ExtractRelevantSections(sf.content, keywords, contextLines)
	if len(sections) == 0 {
		return b.Append(fmt.Sprintf("\n\n## %s\n\n%s\n", sf.path, sf.content))
	}

	if !b.Append(fmt.Sprintf("\n\n## %s\n", sf.path)) {
		return false
	}
	for _, sec := range sections {
		header := fmt.Sprintf("\n(lines %d-%d)\n\n", sec.StartLine, sec.EndLine)
		if !b.Append(header) {
			return false
		}
		if !b.Append(strings.Join(sec.Lines, "\n") + "\n") {
			return false
		}
	}
	return true
}

func buildCommitHistory(ctx context.Context, client Client, projectID int, changes []forge.FileDiff) string {
	var sb strings.Builder
	for _, c := range changes {
		commits, err := client.GetFileCommits(ctx, projectID, c.NewPath, commitsPerFile)
		if err != nil || len(commits) == 0 {
			continue
		}
		sb.WriteString(fmt.Sprintf("\n**%s**\n", c.NewPath))
		for _, commit := range commits {
			sb.WriteString(fmt.Sprintf("- %s %s\n", commit.ShortID, commit.Title))
		}
	}
	return sb.String()
}
