// Package github provides functionality for interacting with the GitHub
// search API: issues and pull requests created, commented, closed or
// reviewed by the user.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/whatdid/whatdid/internal/config"
	"github.com/whatdid/whatdid/internal/fetch"
	"github.com/whatdid/whatdid/internal/logging"
	"github.com/whatdid/whatdid/internal/report"
	"github.com/whatdid/whatdid/pkg/models"
)

// perPage is the number of items fetched per search page.
const perPage = 100

// proactiveRate keeps the request rate safely under the authenticated
// search quota.
const proactiveRate = 1.2

// issueURLRegex extracts owner, project and number from an item's API
// URL. An item whose URL does not match is a malformed record.
var issueURLRegex = regexp.MustCompile(`/repos/([^/]+)/([^/]+)/issues/(\d+)`)

// Client encapsulates the GitHub search API client for one config
// section.
type Client struct {
	option  string
	url     string
	filter  string
	fetcher *fetch.Fetcher
}

// issueRecord is the provider-native search item.
type issueRecord struct {
	Title       string `json:"title"`
	Body        string `json:"body"`
	URL         string `json:"url"`
	HTMLURL     string `json:"html_url"`
	CommentsURL string `json:"comments_url"`
}

// commentRecord is one entry of an issue's comment list.
type commentRecord struct {
	CreatedAt time.Time `json:"created_at"`
	User      struct {
		Login string `json:"login"`
	} `json:"user"`
}

// New creates a GitHub client from its config section. The token is
// optional; unauthenticated queries work with tighter quotas.
func New(option string, section map[string]string) (*Client, error) {
	url, ok := section["url"]
	if !ok {
		return nil, report.ConfigError(option, "no github url set in the [%s] section", option)
	}

	token, err := config.Secret(section, "token")
	if err != nil {
		return nil, report.ConfigError(option, "%v", err)
	}
	timeout, err := config.Timeout(section)
	if err != nil {
		return nil, report.ConfigError(option, "%v", err)
	}

	logging.Debug("github configuration",
		"section", option, "url", url, "token", logging.MaskSensitive(token))

	opts := fetch.Options{
		Timeout:  timeout,
		Throttle: proactiveRate,
		Policy: &fetch.Policy{
			RemainingHeader:  "X-RateLimit-Remaining",
			ResetHeader:      "X-RateLimit-Reset",
			UnauthorizedHint: "defined token is not valid, either update it or remove it",
			ParseError:       parseSearchError,
		},
	}
	if token != "" {
		source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		client := oauth2.NewClient(context.Background(), source)
		client.Timeout = timeout
		opts.Client = client
	}

	return &Client{
		option:  option,
		url:     strings.TrimRight(url, "/"),
		filter:  buildFilter(section),
		fetcher: fetch.New(opts),
	}, nil
}

// buildFilter joins the optional user/org/repo conditions into the
// search-query fragment appended to every query.
func buildFilter(section map[string]string) string {
	var conditions []string
	condition := func(key, names string) {
		for _, name := range config.Split(names) {
			conditions = append(conditions, key+":"+name)
		}
	}
	condition("+user", section["user"])
	condition("+org", section["org"])
	condition("+repo", section["repo"])
	condition("+-org", section["exclude_org"])
	return strings.Join(conditions, "")
}

// parseSearchError digs the first error message out of a failed search
// response body.
func parseSearchError(body []byte) string {
	var payload struct {
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if len(payload.Errors) > 0 {
		return payload.Errors[0].Message
	}
	return payload.Message
}

// Name returns the config section name.
func (c *Client) Name() string {
	return c.option
}

// Fetch collects all GitHub stats for the user and window.
func (c *Client) Fetch(ctx context.Context, user report.User, window report.DateWindow) ([]report.Section, error) {
	login := user.Login
	since := window.SinceDate()
	// The search API treats the upper bound as exclusive of the given
	// date, so shift it by one day to include the end date the user
	// asked for.
	until := window.Until.AddDate(0, 0, -1).Format(report.DateFormat)

	stats := []struct {
		title     string
		query     string
		commented bool
	}{
		{
			title: fmt.Sprintf("Issues created on %s", c.option),
			query: fmt.Sprintf("search/issues?q=author:%s+created:%s..%s+type:issue", login, since, until),
		},
		{
			title:     fmt.Sprintf("Issues commented on %s", c.option),
			query:     fmt.Sprintf("search/issues?q=commenter:%s+updated:%s..*+type:issue+created:*..%s", login, since, until),
			commented: true,
		},
		{
			title: fmt.Sprintf("Issues closed on %s", c.option),
			query: fmt.Sprintf("search/issues?q=assignee:%s+closed:%s..%s+type:issue", login, since, until),
		},
		{
			title: fmt.Sprintf("Pull requests created on %s", c.option),
			query: fmt.Sprintf("search/issues?q=author:%s+created:%s..%s+type:pr", login, since, until),
		},
		{
			title:     fmt.Sprintf("Pull requests commented on %s", c.option),
			query:     fmt.Sprintf("search/issues?q=commenter:%s+updated:%s..*+type:pr+created:*..%s", login, since, until),
			commented: true,
		},
		{
			title: fmt.Sprintf("Pull requests closed on %s", c.option),
			query: fmt.Sprintf("search/issues?q=assignee:%s+closed:%s..%s+type:pr", login, since, until),
		},
		{
			title: fmt.Sprintf("Pull requests reviewed on %s", c.option),
			query: fmt.Sprintf("search/issues?q=reviewed-by:%s+-author:%s+closed:%s..%s+type:pr", login, login, since, until),
		},
	}

	var sections []report.Section
	for _, stat := range stats {
		logging.Info("searching github", "section", c.option, "stat", stat.title, "user", login)
		records, err := c.search(ctx, stat.query)
		if err != nil {
			return nil, report.InSection(err, c.option)
		}
		if stat.commented {
			records = c.commentedInRange(ctx, records, window, login)
		}
		items, err := normalize(records)
		if err != nil {
			return nil, report.InSection(err, c.option)
		}
		sections = append(sections, report.Section{Title: stat.title, Items: items})
	}
	return sections, nil
}

// search walks the Link-header pagination chain of one search query and
// accumulates all items.
func (c *Client) search(ctx context.Context, query string) ([]issueRecord, error) {
	url := fmt.Sprintf("%s/%s%s&per_page=%d", c.url, query, c.filter, perPage)
	var records []issueRecord
	err := c.fetcher.FollowLinks(ctx, url, func(resp *fetch.Response) (string, error) {
		var page struct {
			Items []issueRecord `json:"items"`
		}
		if err := json.Unmarshal(resp.Body, &page); err != nil {
			return "", report.MalformedError("github json failed: %v", err)
		}
		records = append(records, page.Items...)
		return resp.NextLink(), nil
	})
	if err != nil {
		return nil, err
	}
	logging.Debug("github search finished", "query", query, "items", len(records))
	return records, nil
}

// commentedInRange keeps the candidates that the user actually commented
// on within the window, fetching each candidate's comment list. A failed
// per-candidate lookup is logged and that candidate skipped.
func (c *Client) commentedInRange(ctx context.Context, candidates []issueRecord, window report.DateWindow, login string) []issueRecord {
	var valid []issueRecord
	for _, candidate := range candidates {
		matched, err := c.hasCommentInRange(ctx, candidate, window, login)
		if err != nil {
			logging.Error("failed to fetch comments, skipping candidate",
				"section", c.option, "url", candidate.CommentsURL, "error", err)
			continue
		}
		if matched {
			valid = append(valid, candidate)
		}
	}
	return valid
}

// hasCommentInRange walks one candidate's comments (sorted ascending by
// creation) until a match is found or the window is passed.
func (c *Client) hasCommentInRange(ctx context.Context, candidate issueRecord, window report.DateWindow, login string) (bool, error) {
	url := fmt.Sprintf("%s?per_page=%d&since=%s",
		candidate.CommentsURL, perPage, window.Since.Format(time.RFC3339))
	var matched bool
	err := c.fetcher.FollowLinks(ctx, url, func(resp *fetch.Response) (string, error) {
		var comments []commentRecord
		if err := json.Unmarshal(resp.Body, &comments); err != nil {
			return "", report.MalformedError("github comments json failed: %v", err)
		}
		for _, comment := range comments {
			if !comment.CreatedAt.Before(window.Until) {
				// Comments are sorted by created_at ascending.
				return "", nil
			}
			if comment.User.Login == login && window.Contains(comment.CreatedAt) {
				matched = true
				return "", nil
			}
		}
		return resp.NextLink(), nil
	})
	if err != nil {
		return false, report.LookupError("comment lookup failed", err)
	}
	return matched, nil
}

// normalize converts search items to display issues. A record whose URL
// fails the pattern match fails the whole batch; silently dropping data
// would misrepresent the report.
func normalize(records []issueRecord) ([]models.Item, error) {
	items := make([]models.Item, 0, len(records))
	for _, record := range records {
		matched := issueURLRegex.FindStringSubmatch(record.URL)
		if matched == nil {
			return nil, report.MalformedError("malformed github issue data: %q", record.URL)
		}
		items = append(items, models.Issue{
			Owner:   matched[1],
			Project: matched[2],
			Number:  matched[3],
			Title:   record.Title,
			Body:    record.Body,
			WebURL:  record.HTMLURL,
		})
	}
	return items, nil
}
