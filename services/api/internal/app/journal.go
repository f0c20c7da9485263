package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"wellnest/internal/util"
	"wellnest/pkg/domain"
)

const exportDateLayout = "Monday, 02 January 2006 15:04 MST"

// ListEntries returns the user's entries, newest first.
func (a *App) ListEntries(ctx context.Context, userID string) ([]domain.JournalEntry, error) {
	entries, err := a.store.ListEntriesByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	if entries == nil {
		entries = []domain.JournalEntry{}
	}
	return entries, nil
}

// AddEntry stores a new entry. content is nil only when the request omitted
// it; an empty string is a valid entry.
func (a *App) AddEntry(ctx context.Context, userID string, content *string, analysis *domain.Analysis) (domain.JournalEntry, error) {
	if content == nil {
		return domain.JournalEntry{}, ErrContentRequired
	}
	if analysis != nil && emptyAnalysis(*analysis) {
		analysis = nil
	}
	entry := domain.JournalEntry{
		ID:       util.NewTimeID("entry"),
		UserID:   userID,
		Date:     a.now(),
		Content:  *content,
		Analysis: analysis,
	}
	if err := a.store.SaveEntry(ctx, entry); err != nil {
		return domain.JournalEntry{}, fmt.Errorf("save entry: %w", err)
	}
	return entry, nil
}

func emptyAnalysis(a domain.Analysis) bool {
	return a.OverallSentiment == "" && len(a.Emotions) == 0 && a.Summary == "" && a.Affirmation == ""
}

// ExportEntries renders every entry of the user as a plain-text document.
func (a *App) ExportEntries(ctx context.Context, userID string) (string, error) {
	user, err := a.GetUser(ctx, userID)
	if err != nil {
		return "", err
	}
	entries, err := a.ListEntries(ctx, userID)
	if err != nil {
		return "", err
	}
	return renderExport(user, entries, a.now()), nil
}

func renderExport(user domain.User, entries []domain.JournalEntry, at time.Time) string {
	var b strings.Builder
	b.WriteString("WellNest Journal\n")
	owner := user.Email
	if user.Name != "" {
		owner = fmt.Sprintf("%s <%s>", user.Name, user.Email)
	}
	fmt.Fprintf(&b, "Owner: %s\n", owner)
	fmt.Fprintf(&b, "Exported: %s\n", at.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Entries: %d\n", len(entries))
	for _, e := range entries {
		b.WriteString("\n")
		header := e.Date.UTC().Format(exportDateLayout)
		b.WriteString(header + "\n")
		b.WriteString(strings.Repeat("-", len(header)) + "\n")
		b.WriteString(e.Content + "\n")
		if e.Analysis == nil {
			continue
		}
		if e.Analysis.OverallSentiment != "" {
			fmt.Fprintf(&b, "Sentiment: %s\n", e.Analysis.OverallSentiment)
		}
		if len(e.Analysis.Emotions) > 0 {
			parts := make([]string, 0, len(e.Analysis.Emotions))
			for _, em := range e.Analysis.Emotions {
				parts = append(parts, fmt.Sprintf("%s (%.2f)", em.Emotion, em.Score))
			}
			fmt.Fprintf(&b, "Emotions: %s\n", strings.Join(parts, ", "))
		}
		if e.Analysis.Summary != "" {
			fmt.Fprintf(&b, "Summary: %s\n", e.Analysis.Summary)
		}
		if e.Analysis.Affirmation != "" {
			fmt.Fprintf(&b, "Affirmation: %s\n", e.Analysis.Affirmation)
		}
	}
	return b.String()
}
