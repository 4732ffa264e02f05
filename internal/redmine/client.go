// Package redmine reports user activity collected from the activity
// Atom feed. The feed has no pagination links; it is walked by moving
// the from date backwards in server-sized steps until the window start
// is covered.
package redmine

import (
	"context"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/whatdid/whatdid/internal/config"
	"github.com/whatdid/whatdid/internal/fetch"
	"github.com/whatdid/whatdid/internal/logging"
	"github.com/whatdid/whatdid/internal/report"
	"github.com/whatdid/whatdid/pkg/models"
)

type atomEntry struct {
	Title   string `xml:"title"`
	Updated string `xml:"updated"`
}

type atomFeed struct {
	XMLName xml.Name    `xml:"feed"`
	Entries []atomEntry `xml:"entry"`
}

// Client encapsulates one Redmine config section.
type Client struct {
	option  string
	url     string
	login   string
	step    time.Duration
	fetcher *fetch.Fetcher
}

// New creates a Redmine client from its config section. The login key
// holds the numeric database id of the user, not the login name, and
// activity_days has to match the server side paging setting.
func New(option string, section map[string]string) (*Client, error) {
	rawURL, ok := section["url"]
	if !ok {
		return nil, report.ConfigError(option, "no redmine url set in the [%s] section", option)
	}
	step := fetch.DefaultActivityStep
	if value, ok := section["activity_days"]; ok {
		parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, report.ConfigError(option,
				"invalid activity_days value %q in the [%s] section", value, option)
		}
		step = time.Duration(parsed * 24 * float64(time.Hour))
	}
	timeout, err := config.Timeout(section)
	if err != nil {
		return nil, report.ConfigError(option, "%v", err)
	}
	return &Client{
		option:  option,
		url:     strings.TrimRight(rawURL, "/"),
		login:   section["login"],
		step:    step,
		fetcher: fetch.New(fetch.Options{Timeout: timeout}),
	}, nil
}

// Name returns the config section name.
func (c *Client) Name() string {
	return c.option
}

// Fetch collects activity entries for the window.
func (c *Client) Fetch(ctx context.Context, user report.User, window report.DateWindow) ([]report.Section, error) {
	login := c.login
	if login == "" {
		login = user.Login
	}
	logging.Info("searching for activity", "section", c.option, "user", login)

	var items []models.Item
	for _, from := range fetch.DateWindows(window.Since, window.Until, c.step) {
		feedURL := fmt.Sprintf("%s/activity.atom?user_id=%s&from=%s",
			c.url, login, from.Format(report.DateFormat))
		resp, err := c.fetcher.Get(ctx, feedURL)
		if err != nil {
			return nil, report.InSection(err, c.option)
		}
		var feed atomFeed
		if err := xml.Unmarshal(resp.Body, &feed); err != nil {
			return nil, report.InSection(
				report.MalformedError("redmine feed failed: %v", err), c.option)
		}
		logging.Debug("redmine feed fetched", "from", from.Format(report.DateFormat),
			"entries", len(feed.Entries))
		for _, entry := range feed.Entries {
			updated, err := time.Parse(time.RFC3339, entry.Updated)
			if err != nil {
				return nil, report.InSection(
					report.MalformedError("unexpected redmine timestamp %q", entry.Updated), c.option)
			}
			if !updated.UTC().Before(window.Since) {
				items = append(items, models.Line(entry.Title))
			}
		}
	}

	return []report.Section{
		{Title: fmt.Sprintf("Redmine activity on %s", c.option), Items: items},
	}, nil
}
