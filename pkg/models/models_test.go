package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupe(t *testing.T) {
	items := []Item{
		Issue{Owner: "org", Project: "repo", Number: "1", Title: "first"},
		Issue{Owner: "org", Project: "repo", Number: "2", Title: "second"},
		Issue{Owner: "org", Project: "repo", Number: "1", Title: "first again"},
	}

	deduped := Dedupe(items)
	assert.Len(t, deduped, 2)
	assert.Equal(t, "org/repo#1", deduped[0].Key())
	assert.Equal(t, "org/repo#2", deduped[1].Key())

	// Applying it twice changes nothing.
	assert.Equal(t, deduped, Dedupe(deduped))
}

func TestDedupeKeyedByIdentityNotText(t *testing.T) {
	// Same issue found by two different queries, one carrying the body.
	items := []Item{
		Issue{Owner: "org", Project: "repo", Number: "7", Title: "bug"},
		Issue{Owner: "org", Project: "repo", Number: "7", Title: "bug", Body: "details"},
	}
	assert.Len(t, Dedupe(items), 1)
}

func TestPadID(t *testing.T) {
	testCases := []struct {
		input    string
		expected string
	}{
		{"1", "001"},
		{"42", "042"},
		{"123", "123"},
		{"98765", "98765"},
		{"unknown", "unknown"},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.expected, PadID(tc.input))
	}
}

func TestIssueRender(t *testing.T) {
	issue := Issue{
		Owner:   "org",
		Project: "repo",
		Number:  "7",
		Title:   "Fix the flux capacitor",
		Body:    "First line\n\nSecond line",
		WebURL:  "https://example.com/org/repo/issues/7",
	}

	assert.Equal(t,
		"org/repo#007 - Fix the flux capacitor",
		issue.Render(RenderOptions{Format: FormatPlain}))

	assert.Equal(t,
		"[org/repo#7](https://example.com/org/repo/issues/7) - Fix the flux capacitor",
		issue.Render(RenderOptions{Format: FormatMarkdown}))

	assert.Equal(t,
		"org/repo#007 - Fix the flux capacitor\n        First line\n        Second line",
		issue.Render(RenderOptions{Format: FormatPlain, FullMessage: true}))
}

func TestIssueRenderWithoutBody(t *testing.T) {
	issue := Issue{Owner: "org", Project: "repo", Number: "7", Title: "bug"}
	assert.Equal(t, "org/repo#007 - bug",
		issue.Render(RenderOptions{Format: FormatPlain, FullMessage: true}))
}

func TestTicketRender(t *testing.T) {
	ticket := Ticket{
		IssueKey: "PROJ-123",
		Prefix:   "CUSTOM",
		ID:       "123",
		Summary:  "Do the thing",
		URL:      "https://jira.example.com/browse/PROJ-123",
	}
	assert.Equal(t, "PROJ-123", ticket.Key())
	assert.Equal(t, "CUSTOM-123 - Do the thing",
		ticket.Render(RenderOptions{Format: FormatPlain}))
	assert.Equal(t,
		"[CUSTOM-123](https://jira.example.com/browse/PROJ-123) - Do the thing",
		ticket.Render(RenderOptions{Format: FormatMarkdown}))
}

func TestChangeRender(t *testing.T) {
	change := Change{Prefix: "GR", Number: 42, Project: "tools", Subject: "Refactor"}
	assert.Equal(t, "GR#42", change.Key())
	assert.Equal(t, "GR#42 - tools - Refactor", change.Render(RenderOptions{}))
}

func TestPageRender(t *testing.T) {
	page := Page{Title: "Home", URL: "https://wiki.example.com/x/Home"}
	assert.Equal(t, "Home", page.Render(RenderOptions{Format: FormatPlain}))
	assert.Equal(t, "[Home](https://wiki.example.com/x/Home)",
		page.Render(RenderOptions{Format: FormatMarkdown}))
}

func TestIndentBody(t *testing.T) {
	body := "one\n\n  \ntwo\nthree"
	assert.Equal(t, "one\n        two\n        three", IndentBody(body))
}
