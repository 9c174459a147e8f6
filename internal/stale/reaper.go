// Package stale marks opened issues "stale" after a period of human
// inactivity, and un-stales them the moment a human comments again.
package stale

import (
	"context"
	"time"

	"github.com/alekspetrov/gitbot/internal/forge"
	"github.com/alekspetrov/gitbot/internal/logging"
)

const staleLabel = "stale"

// Client is the forge surface the reaper needs.
type Client interface {
	GetAllIssueNotes(ctx context.Context, projectID, iid int) ([]*forge.Note, error)
	AddIssueLabel(ctx context.Context, projectID, iid int, label string) error
	RemoveIssueLabel(ctx context.Context, projectID, iid int, label string) error
}

// Config controls the staleness threshold and which username's notes don't
// count as human activity.
type Config struct {
	StaleIssueDays int
	BotUsername    string
}

// Sweep evaluates every opened issue and adds or removes the stale label
// as appropriate. Errors from a single issue are logged and do not abort
// the sweep.
func Sweep(ctx context.Context, client Client, projectID int, issues []*forge.Issue, cfg Config) {
	ctx = logging.ContextWithComponent(ctx, logging.ComponentGitLabCleanup)
	threshold := time.Duration(cfg.StaleIssueDays) * 24 * time.Hour

	for _, issue := range issues {
		lastHuman, err := lastHumanActivity(ctx, client, projectID, issue, cfg.BotUsername)
		if err != nil {
			logging.WarnContext(ctx, "failed to determine last human activity, skipping stale check", "project_id", projectID, "issue_iid", issue.IID, "error", err)
			continue
		}

		age := time.Since(lastHuman)
		isStale := forge.HasLabel(issue, staleLabel)

		switch {
		case age > threshold && !isStale:
			if err := client.AddIssueLabel(ctx, projectID, issue.IID, staleLabel); err != nil {
				logging.WarnContext(ctx, "failed to add stale label", "project_id", projectID, "issue_iid", issue.IID, "error", err)
			}
		case age <= threshold && isStale:
			if err := client.RemoveIssueLabel(ctx, projectID, issue.IID, staleLabel); err != nil {
				logging.WarnContext(ctx, "failed to remove stale label", "project_id", projectID, "issue_iid", issue.IID, "error", err)
			}
		}
	}
}

// lastHumanActivity returns the timestamp of the most recent note not
// authored by the bot, defaulting to the issue's own updated_at when there
// is no such note. Bot-authored notes alone never count as activity.
func lastHumanActivity(ctx context.Context, client Client, projectID int, issue *forge.Issue, botUsername string) (time.Time, error) {
	notes, err := client.GetAllIssueNotes(ctx, projectID, issue.IID)
	if err != nil {
		return time.Time{}, err
	}

	var latest time.Time
	for _, note := range notes {
		if note.Author != nil && note.Author.Username == botUsername {
			continue
		}
		if note.CreatedAt.After(latest) {
			latest = note.CreatedAt
		}
	}
	if latest.IsZero() {
		latest = issue.UpdatedAt
	}
	return latest, nil
}
