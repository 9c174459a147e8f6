package stale

import (
	"context"
	"testing"
	"time"

	"github.com/alekspetrov/gitbot/internal/forge"
)

type fakeClient struct {
	notes   map[int][]*forge.Note
	added   []string
	removed []string
}

func (f *fakeClient) GetAllIssueNotes(ctx context.Context, projectID, iid int) ([]*forge.Note, error) {
	return f.notes[iid], nil
}

func (f *fakeClient) AddIssueLabel(ctx context.Context, projectID, iid int, label string) error {
	f.added = append(f.added, label)
	return nil
}

func (f *fakeClient) RemoveIssueLabel(ctx context.Context, projectID, iid int, label string) error {
	f.removed = append(f.removed, label)
	return nil
}

func TestSweepAddsStaleLabelForInactiveIssue(t *testing.T) {
	old := time.Now().Add(-40 * 24 * time.Hour)
	fc := &fakeClient{notes: map[int][]*forge.Note{1: {}}}
	issues := []*forge.Issue{{IID: 1, UpdatedAt: old}}

	Sweep(t.Context(), fc, 100, issues, Config{StaleIssueDays: 30, BotUsername: "gitbot"})

	if len(fc.added) != 1 || fc.added[0] != "stale" {
		t.Fatalf("expected stale label added, got %v", fc.added)
	}
}

func TestSweepIgnoresBotOnlyActivity(t *testing.T) {
	old := time.Now().Add(-40 * 24 * time.Hour)
	recentBotNote := &forge.Note{Author: &forge.User{Username: "gitbot"}, CreatedAt: time.Now()}
	fc := &fakeClient{notes: map[int][]*forge.Note{1: {recentBotNote}}}
	issues := []*forge.Issue{{IID: 1, UpdatedAt: old}}

	Sweep(t.Context(), fc, 100, issues, Config{StaleIssueDays: 30, BotUsername: "gitbot"})

	if len(fc.added) != 1 {
		t.Fatalf("expected stale label still added despite recent bot-only note, got %v", fc.added)
	}
}

func TestSweepRemovesStaleLabelAfterHumanComment(t *testing.T) {
	old := time.Now().Add(-40 * 24 * time.Hour)
	recentHumanNote := &forge.Note{Author: &forge.User{Username: "alice"}, CreatedAt: time.Now()}
	fc := &fakeClient{notes: map[int][]*forge.Note{1: {recentHumanNote}}}
	issues := []*forge.Issue{{IID: 1, UpdatedAt: old, Labels: []string{"stale"}}}

	Sweep(t.Context(), fc, 100, issues, Config{StaleIssueDays: 30, BotUsername: "gitbot"})

	if len(fc.removed) != 1 || fc.removed[0] != "stale" {
		t.Fatalf("expected stale label removed after human comment, got %v", fc.removed)
	}
}

func TestSweepLeavesFreshNonStaleIssueAlone(t *testing.T) {
	fc := &fakeClient{notes: map[int][]*forge.Note{1: {}}}
	issues := []*forge.Issue{{IID: 1, UpdatedAt: time.Now()}}

	Sweep(t.Context(), fc, 100, issues, Config{StaleIssueDays: 30, BotUsername: "gitbot"})

	if len(fc.added) != 0 || len(fc.removed) != 0 {
		t.Fatalf("expected no label changes for fresh issue, got added=%v removed=%v", fc.added, fc.removed)
	}
}
