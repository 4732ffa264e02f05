// Package models defines the normalized display entities shared across
// connectors and the rendering options applied to them.
package models

import (
	"fmt"
	"strings"
)

// Format selects the text rendering of a report.
type Format string

const (
	// FormatPlain renders label and title as plain text.
	FormatPlain Format = "plain"
	// FormatMarkdown renders the label as a hyperlink.
	FormatMarkdown Format = "markdown"
)

// Padding is the minimum width numeric identifiers are zero-padded to.
const Padding = 3

// RenderOptions carries the rendering choices for a whole run.
type RenderOptions struct {
	Format Format

	// FullMessage additionally renders a reformatted, indented body below
	// the title where the item carries one.
	FullMessage bool
}

// Item is a normalized, immutable display entity. Identity is defined by
// provider-stable key fields, never by the rendered text, so overlapping
// queries merge into one entry.
type Item interface {
	// Key returns the stable identity used for deduplication.
	Key() string

	// Render returns the textual representation for the given options.
	Render(opts RenderOptions) string
}

// Dedupe drops items whose Key was already seen, preserving first-seen
// order.
func Dedupe(items []Item) []Item {
	seen := make(map[string]struct{}, len(items))
	result := make([]Item, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item.Key()]; ok {
			continue
		}
		seen[item.Key()] = struct{}{}
		result = append(result, item)
	}
	return result
}

// IndentBody reformats a multi-line body for full-message mode: blank
// lines are dropped and the remaining ones indented under the title.
func IndentBody(body string) string {
	var lines []string
	for _, line := range strings.Split(body, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n        ")
}

// renderLabeled is the shared plain/markdown/full-message layout of a
// label, an optional link and a title.
func renderLabeled(opts RenderOptions, label, url, title, body string) string {
	var head string
	if opts.Format == FormatMarkdown && url != "" {
		head = fmt.Sprintf("[%s](%s) - %s", label, url, title)
	} else {
		head = fmt.Sprintf("%s - %s", label, title)
	}
	if opts.FullMessage && strings.TrimSpace(body) != "" {
		return head + "\n        " + IndentBody(strings.TrimSpace(body))
	}
	return head
}

// Issue is an issue or pull request hosted in an owner/project namespace.
type Issue struct {
	Owner   string
	Project string
	Number  string
	Title   string
	Body    string
	WebURL  string
}

// Key identifies the issue by owner, project and number.
func (i Issue) Key() string {
	return i.Owner + "/" + i.Project + "#" + i.Number
}

// Render returns "owner/project#001 - title" with optional link and body.
// The markdown link text keeps the identifier unpadded.
func (i Issue) Render(opts RenderOptions) string {
	number := PadID(i.Number)
	if opts.Format == FormatMarkdown && i.WebURL != "" {
		number = i.Number
	}
	label := fmt.Sprintf("%s/%s#%s", i.Owner, i.Project, number)
	return renderLabeled(opts, label, i.WebURL, strings.TrimSpace(i.Title), i.Body)
}

// PadID zero-pads a numeric identifier to the configured width.
func PadID(id string) string {
	for len(id) < Padding {
		id = "0" + id
	}
	return id
}

// Change is a code-review change identified by a numeric change number.
type Change struct {
	Prefix  string
	Number  int
	Project string
	Subject string
}

// Key identifies the change by prefix and number.
func (c Change) Key() string {
	return fmt.Sprintf("%s#%d", c.Prefix, c.Number)
}

// Render returns "PREFIX#123 - project - subject".
func (c Change) Render(RenderOptions) string {
	return fmt.Sprintf("%s#%d - %s - %s", c.Prefix, c.Number, c.Project, c.Subject)
}

// Ticket is an issue-tracker ticket identified by a provider key such as
// "PROJ-123". Prefix may override the display prefix without changing
// identity.
type Ticket struct {
	IssueKey string
	Prefix   string
	ID       string
	Summary  string
	URL      string
}

// Key identifies the ticket by its provider key.
func (t Ticket) Key() string {
	return t.IssueKey
}

// Render returns "PREFIX-123 - summary" with optional link.
func (t Ticket) Render(opts RenderOptions) string {
	label := t.Prefix + "-" + t.ID
	return renderLabeled(opts, label, t.URL, t.Summary, "")
}

// Page is a wiki page identified by its URL.
type Page struct {
	Title string
	URL   string
}

// Key identifies the page by URL.
func (p Page) Key() string {
	return p.URL
}

// Render returns the page title, hyperlinked in markdown mode.
func (p Page) Render(opts RenderOptions) string {
	if opts.Format == FormatMarkdown && p.URL != "" {
		return fmt.Sprintf("[%s](%s)", p.Title, p.URL)
	}
	return p.Title
}

// Line is a pre-rendered single-line result whose identity is its text.
type Line string

// Key returns the line itself.
func (l Line) Key() string {
	return string(l)
}

// Render returns the line unchanged.
func (l Line) Render(RenderOptions) string {
	return string(l)
}
