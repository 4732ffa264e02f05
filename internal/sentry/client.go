// Package sentry reports issues resolved and commented from the
// organization activity feed.
package sentry

import (
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

type activityRecord struct {
	Type string `json:"type"`
	User struct {
		Email string `json:"email"`
	} `json:"user"`
	DateCreated string `json:"dateCreated"`
	Issue       struct {
		ShortID string `json:"shortId"`
		Title   string `json:"title"`
	} `json:"issue"`
}

// Client encapsulates one Sentry config section. The activity feed is
// fetched once and shared by both stats.
type Client struct {
	option       string
	url          string
	organization string
	fetcher      *fetch.Fetcher

	activities []activityRecord
	loaded     bool
}

// New creates a Sentry client from its config section.
func New(option string, section map[string]string) (*Client, error) {
	rawURL, ok := section["url"]
	if !ok {
		return nil, report.ConfigError(option, "no url set in the [%s] section", option)
	}
	organization, ok := section["organization"]
	if !ok {
		return nil, report.ConfigError(option, "no organization set in the [%s] section", option)
	}
	token, err := config.Secret(section, "token")
	if err != nil {
		return nil, report.ConfigError(option, "%v", err)
	}
	if token == "" {
		return nil, report.ConfigError(option, "no token or token_file set in the [%s] section", option)
	}
	timeout, err := config.Timeout(section)
	if err != nil {
		return nil, report.ConfigError(option, "%v", err)
	}
	return &Client{
		option:       option,
		url:          strings.TrimRight(rawURL, "/"),
		organization: organization,
		fetcher: fetch.New(fetch.Options{
			Timeout: timeout,
			Headers: map[string]string{"Authorization": "Bearer " + token},
		}),
	}, nil
}

// Name returns the config section name.
func (c *Client) Name() string {
	return c.option
}

// Fetch collects resolved and commented issues for the window.
func (c *Client) Fetch(ctx context.Context, user report.User, window report.DateWindow) ([]report.Section, error) {
	if err := c.loadActivities(ctx, window); err != nil {
		return nil, report.InSection(err, c.option)
	}

	logging.Info("searching for issues resolved", "section", c.option, "user", user.Email)
	resolved := c.issues("set_resolved", user.Email)

	logging.Info("searching for issues commented", "section", c.option, "user", user.Email)
	commented := c.issues("note", user.Email)

	return []report.Section{
		{Title: fmt.Sprintf("Issues resolved in %s", c.option), Items: resolved},
		{Title: fmt.Sprintf("Issues commented in %s", c.option), Items: commented},
	}, nil
}

// loadActivities walks the newest-first activity feed once, stopping as
// soon as a record predates the window. Pagination follows only next
// links flagged with results="true"; the header is present without
// further pages too.
func (c *Client) loadActivities(ctx context.Context, window report.DateWindow) error {
	if c.loaded {
		return nil
	}
	first := fmt.Sprintf("%s/organizations/%s/activity/", c.url, c.organization)
	err := c.fetcher.FollowLinks(ctx, first, func(resp *fetch.Response) (string, error) {
		var page []activityRecord
		if err := json.Unmarshal(resp.Body, &page); err != nil {
			return "", report.MalformedError("sentry json failed: %v", err)
		}
		logging.Debug("sentry activities fetched", "count", len(page))
		for _, activity := range page {
			created, err := time.Parse(time.RFC3339, activity.DateCreated)
			if err != nil {
				return "", report.MalformedError("unexpected sentry timestamp %q", activity.DateCreated)
			}
			if created.UTC().Before(window.Since) {
				return "", nil
			}
			if created.UTC().Before(window.Until) {
				c.activities = append(c.activities, activity)
			}
		}
		for _, link := range resp.Links() {
			if link.Rel == "next" && link.Params["results"] == "true" {
				return link.URL, nil
			}
		}
		return "", nil
	})
	if err != nil {
		return err
	}
	c.loaded = true
	return nil
}

// issues filters the cached activities by type and user email.
func (c *Client) issues(kind, email string) []models.Item {
	var items []models.Item
	for _, activity := range c.activities {
		if activity.Type != kind || activity.User.Email != email {
			continue
		}
		items = append(items, models.Line(
			activity.Issue.ShortID+" - "+activity.Issue.Title))
	}
	return items
}
