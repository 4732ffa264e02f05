// Package gerrit reports code review changes: abandoned, merged,
// submitted, work in progress and reviewed. Review activity is confirmed
// through each change's detail messages rather than trusting the
// reviewer search alone.
package gerrit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/whatdid/whatdid/internal/config"
	"github.com/whatdid/whatdid/internal/fetch"
	"github.com/whatdid/whatdid/internal/logging"
	"github.com/whatdid/whatdid/internal/report"
	"github.com/whatdid/whatdid/pkg/models"
)

// magicPrefix guards Gerrit JSON responses against XSSI and has to be
// stripped before decoding.
var magicPrefix = []byte(")]}'")

type changeRecord struct {
	Number   int    `json:"_number"`
	ChangeID string `json:"change_id"`
	Subject  string `json:"subject"`
	Project  string `json:"project"`
	Created  string `json:"created"`
}

type messageRecord struct {
	Author *struct {
		Email string `json:"email"`
	} `json:"author"`
	Date           string `json:"date"`
	Message        string `json:"message"`
	RevisionNumber int    `json:"_revision_number"`
}

type detailRecord struct {
	Owner struct {
		Email string `json:"email"`
	} `json:"owner"`
	Messages []messageRecord `json:"messages"`
}

// Client encapsulates one Gerrit config section.
type Client struct {
	option  string
	url     string
	prefix  string
	wip     bool
	fetcher *fetch.Fetcher
}

// New creates a Gerrit client from its config section.
func New(option string, section map[string]string) (*Client, error) {
	rawURL, ok := section["url"]
	if !ok {
		return nil, report.ConfigError(option, "no gerrit url set in the [%s] section", option)
	}
	prefix, ok := section["prefix"]
	if !ok {
		return nil, report.ConfigError(option, "no prefix set in the [%s] section", option)
	}
	wip, err := config.Bool(section, "wip", true)
	if err != nil {
		return nil, report.ConfigError(option, "%v", err)
	}
	timeout, err := config.Timeout(section)
	if err != nil {
		return nil, report.ConfigError(option, "%v", err)
	}
	return &Client{
		option:  option,
		url:     strings.TrimRight(rawURL, "/"),
		prefix:  prefix,
		wip:     wip,
		fetcher: fetch.New(fetch.Options{Timeout: timeout}),
	}, nil
}

// Name returns the config section name.
func (c *Client) Name() string {
	return c.option
}

// Fetch collects change activity for the window.
func (c *Client) Fetch(ctx context.Context, user report.User, window report.DateWindow) ([]report.Section, error) {
	login := user.Login
	age := int(time.Now().UTC().Sub(window.Since).Hours() / 24)

	var sections []report.Section

	logging.Info("searching for changes abandoned", "section", c.option, "user", login)
	abandoned, err := c.query(ctx, fmt.Sprintf("status:abandoned+owner:%s+-age:%dd", login, age), window, false)
	if err != nil {
		return nil, err
	}
	sections = append(sections, report.Section{
		Title: fmt.Sprintf("Changes abandoned on %s", c.option),
		Items: c.normalize(abandoned),
	})

	logging.Info("searching for changes merged", "section", c.option, "user", login)
	merged, err := c.query(ctx, fmt.Sprintf("status:merged+owner:%s+-age:%dd", login, age), window, false)
	if err != nil {
		return nil, err
	}
	sections = append(sections, report.Section{
		Title: fmt.Sprintf("Changes merged on %s", c.option),
		Items: c.normalize(merged),
	})

	logging.Info("searching for changes submitted", "section", c.option, "user", login)
	open := "status:open"
	if c.wip {
		open = "status:open+-is:wip"
	}
	submitted, err := c.query(ctx, open+"+owner:"+login, window, true)
	if err != nil {
		return nil, err
	}
	sections = append(sections, report.Section{
		Title: fmt.Sprintf("Changes submitted on %s", c.option),
		Items: c.normalize(submitted),
	})

	if c.wip {
		logging.Info("searching for wip changes", "section", c.option, "user", login)
		wip, err := c.query(ctx, "status:open+is:wip+owner:"+login, window, true)
		if err != nil {
			return nil, err
		}
		sections = append(sections, report.Section{
			Title: fmt.Sprintf("Work in progress on %s", c.option),
			Items: c.normalize(wip),
		})
	}

	logging.Info("searching for changes reviewed", "section", c.option, "user", login)
	reviewed, err := c.reviewed(ctx, user, window)
	if err != nil {
		return nil, err
	}
	sections = append(sections, report.Section{
		Title: fmt.Sprintf("Changes reviewed on %s", c.option),
		Items: c.normalize(reviewed),
	})

	return sections, nil
}

// query runs one change search with the window bounds appended. With
// limitSince the results are additionally filtered by creation date,
// open changes would otherwise reach arbitrarily far back.
func (c *Client) query(ctx context.Context, query string, window report.DateWindow, limitSince bool) ([]changeRecord, error) {
	query += fmt.Sprintf("+since:%s+until:%s", window.SinceDate(), window.UntilDate())
	changes, err := c.search(ctx, query)
	if err != nil {
		return nil, err
	}
	if !limitSince {
		return changes, nil
	}
	var recent []changeRecord
	for _, change := range changes {
		created, err := changeDate(change.Created)
		if err != nil {
			return nil, report.InSection(err, c.option)
		}
		if !created.Before(window.Since) {
			recent = append(recent, change)
		}
	}
	return recent, nil
}

// reviewed finds changes of other owners where the user actually left a
// message within the window. Changes whose detail cannot be fetched are
// skipped, a single missing changelog must not lose the whole section.
func (c *Client) reviewed(ctx context.Context, user report.User, window report.DateWindow) ([]changeRecord, error) {
	login := user.Login
	candidates, err := c.query(ctx,
		fmt.Sprintf("reviewer:%s+-owner:%s", login, login), window, true)
	if err != nil {
		return nil, err
	}
	var confirmed []changeRecord
	for _, candidate := range candidates {
		detail, err := c.detail(ctx, candidate.ChangeID)
		if err != nil {
			logging.Debug("failing to retrieve details",
				"section", c.option, "change", candidate.ChangeID, "error", err)
			continue
		}
		if commentedSince(detail.Messages, login, window.Since) {
			confirmed = append(confirmed, candidate)
		}
	}
	return confirmed, nil
}

// commentedSince reports whether any message was authored by the
// reviewer on or after the window start.
func commentedSince(messages []messageRecord, reviewer string, since time.Time) bool {
	for _, message := range messages {
		if message.Author == nil || message.Author.Email == "" {
			continue
		}
		if !strings.Contains(message.Author.Email, reviewer) {
			continue
		}
		date, err := changeDate(message.Date)
		if err != nil {
			continue
		}
		if !date.Before(since) {
			return true
		}
	}
	return false
}

// search fetches one query result. A query holding multiple q clauses
// returns a list per clause; those are merged.
func (c *Client) search(ctx context.Context, query string) ([]changeRecord, error) {
	url := c.url + "/changes/?q=" + query
	resp, err := c.fetcher.Get(ctx, url)
	if err != nil {
		return nil, report.InSection(err, c.option)
	}
	body := bytes.TrimSpace(bytes.TrimPrefix(resp.Body, magicPrefix))

	if strings.Contains(query, "&") {
		var nested [][]changeRecord
		if err := json.Unmarshal(body, &nested); err != nil {
			return nil, report.InSection(
				report.MalformedError("gerrit json failed: %v", err), c.option)
		}
		var merged []changeRecord
		for _, sublist := range nested {
			merged = append(merged, sublist...)
		}
		return merged, nil
	}

	var changes []changeRecord
	if err := json.Unmarshal(body, &changes); err != nil {
		return nil, report.InSection(
			report.MalformedError("gerrit json failed: %v", err), c.option)
	}
	return changes, nil
}

// detail fetches the changelog of one change.
func (c *Client) detail(ctx context.Context, changeID string) (*detailRecord, error) {
	resp, err := c.fetcher.Get(ctx, fmt.Sprintf("%s/changes/%s/detail", c.url, changeID))
	if err != nil {
		return nil, err
	}
	body := bytes.TrimSpace(bytes.TrimPrefix(resp.Body, magicPrefix))
	var detail detailRecord
	if err := json.Unmarshal(body, &detail); err != nil {
		return nil, report.MalformedError("gerrit json failed: %v", err)
	}
	return &detail, nil
}

func (c *Client) normalize(changes []changeRecord) []models.Item {
	items := make([]models.Item, 0, len(changes))
	for _, change := range changes {
		items = append(items, models.Change{
			Prefix:  c.prefix,
			Number:  change.Number,
			Project: change.Project,
			Subject: change.Subject,
		})
	}
	return items
}

// changeDate parses the date part of a Gerrit timestamp.
func changeDate(value string) (time.Time, error) {
	if len(value) < len(report.DateFormat) {
		return time.Time{}, report.MalformedError("unexpected gerrit timestamp %q", value)
	}
	date, err := time.Parse(report.DateFormat, value[:len(report.DateFormat)])
	if err != nil {
		return time.Time{}, report.MalformedError("unexpected gerrit timestamp %q", value)
	}
	return date, nil
}
