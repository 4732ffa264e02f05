// Package jira reports issues created, updated or resolved by the user,
// searched with JQL over the REST API.
package jira

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/whatdid/whatdid/internal/auth"
	"github.com/whatdid/whatdid/internal/config"
	"github.com/whatdid/whatdid/internal/fetch"
	"github.com/whatdid/whatdid/internal/logging"
	"github.com/whatdid/whatdid/internal/report"
	"github.com/whatdid/whatdid/pkg/models"
)

// maxResults is the batch size of one search request.
const maxResults = 1000

// keyRegex splits an issue key like "PROJ-123" into prefix and number.
var keyRegex = regexp.MustCompile(`^(\w+)-(\d+)$`)

// Client encapsulates one Jira config section.
type Client struct {
	option          string
	url             string
	project         string
	prefix          string
	login           string
	useScriptrunner bool
	session         *auth.Session
}

type commentRecord struct {
	Created string `json:"created"`
	Author  struct {
		EmailAddress string `json:"emailAddress"`
	} `json:"author"`
}

type issueRecord struct {
	Key    string `json:"key"`
	Fields struct {
		Summary string `json:"summary"`
		Comment struct {
			Comments []commentRecord `json:"comments"`
		} `json:"comment"`
	} `json:"fields"`
}

// New creates a Jira client from its config section.
func New(option string, section map[string]string) (*Client, error) {
	rawURL, ok := section["url"]
	if !ok {
		return nil, report.ConfigError(option, "no jira url set in the [%s] section", option)
	}
	baseURL := strings.TrimRight(rawURL, "/")

	authCfg, err := auth.ParseSection(option, section, baseURL)
	if err != nil {
		return nil, err
	}
	authCfg.VerifyPath = "/rest/api/2/myself"
	authCfg.Hint = "check credentials or kinit"
	authCfg.Policy = &fetch.Policy{ParseError: parseSearchError}

	useScriptrunner, err := config.Bool(section, "use_scriptrunner", true)
	if err != nil {
		return nil, report.ConfigError(option, "%v", err)
	}
	project := section["project"]
	if !useScriptrunner && project == "" {
		return nil, report.ConfigError(option,
			"when scriptrunner is disabled with 'use_scriptrunner=false', 'project' has to be defined for each jira section")
	}

	return &Client{
		option:          option,
		url:             baseURL,
		project:         project,
		prefix:          section["prefix"],
		login:           section["login"],
		useScriptrunner: useScriptrunner,
		session:         auth.NewSession(authCfg),
	}, nil
}

// parseSearchError joins the errorMessages array of a failed response.
func parseSearchError(body []byte) string {
	var payload struct {
		ErrorMessages []string `json:"errorMessages"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return strings.Join(payload.ErrorMessages, " ")
}

// Name returns the config section name.
func (c *Client) Name() string {
	return c.option
}

// Fetch collects created, updated and resolved issues for the window.
func (c *Client) Fetch(ctx context.Context, user report.User, window report.DateWindow) ([]report.Section, error) {
	login := c.login
	if login == "" {
		login = user.Login
	}
	if login == "" {
		login = user.Email
	}
	since := window.SinceDate()
	until := window.UntilDate()

	var sections []report.Section

	logging.Info("searching for issues created", "section", c.option, "user", login)
	created, err := c.search(ctx, c.scoped(
		fmt.Sprintf("creator = '%s' AND created >= %s AND created <= %s", login, since, until)))
	if err != nil {
		return nil, err
	}
	createdItems, err := c.normalize(created)
	if err != nil {
		return nil, err
	}
	sections = append(sections, report.Section{
		Title: fmt.Sprintf("Issues created in %s", c.option),
		Items: createdItems,
	})

	logging.Info("searching for issues updated", "section", c.option, "user", login)
	updated, err := c.updated(ctx, user, login, window)
	if err != nil {
		return nil, err
	}
	updatedItems, err := c.normalize(updated)
	if err != nil {
		return nil, err
	}
	sections = append(sections, report.Section{
		Title: fmt.Sprintf("Issues updated in %s", c.option),
		Items: updatedItems,
	})

	logging.Info("searching for issues resolved", "section", c.option, "user", login)
	resolved, err := c.search(ctx, c.scoped(
		fmt.Sprintf("assignee = '%s' AND resolved >= %s AND resolved <= %s", login, since, until)))
	if err != nil {
		return nil, err
	}
	resolvedItems, err := c.normalize(resolved)
	if err != nil {
		return nil, err
	}
	sections = append(sections, report.Section{
		Title: fmt.Sprintf("Issues resolved in %s", c.option),
		Items: resolvedItems,
	})

	return sections, nil
}

// updated finds issues the user commented on. With scriptrunner a single
// issueFunction query does the filtering server side; without it the
// project's updated issues are fetched and filtered by their comment
// authors locally.
func (c *Client) updated(ctx context.Context, user report.User, login string, window report.DateWindow) ([]issueRecord, error) {
	if c.useScriptrunner {
		query := fmt.Sprintf("issueFunction in commented('by %s after %s before %s')",
			login, window.SinceDate(), window.UntilDate())
		return c.search(ctx, c.scoped(query))
	}
	query := fmt.Sprintf("project = '%s' AND updated >= %s AND created <= %s",
		c.project, window.SinceDate(), window.UntilDate())
	records, err := c.search(ctx, query)
	if err != nil {
		return nil, err
	}
	var filtered []issueRecord
	for _, record := range records {
		if commentedBy(record, user.Email, window) {
			filtered = append(filtered, record)
		}
	}
	return filtered, nil
}

// scoped narrows a query to the configured project.
func (c *Client) scoped(query string) string {
	if c.project == "" {
		return query
	}
	return query + fmt.Sprintf(" AND project = '%s'", c.project)
}

// search fetches all issues of a JQL query in batches of maxResults,
// stopping once the reported total is reached.
func (c *Client) search(ctx context.Context, jql string) ([]issueRecord, error) {
	fetcher, err := c.session.Fetcher(ctx)
	if err != nil {
		return nil, report.InSection(err, c.option)
	}
	logging.Debug("jira search", "section", c.option, "query", jql)

	var issues []issueRecord
	err = fetcher.Offset(ctx, func(batch int) string {
		params := url.Values{}
		params.Set("jql", jql)
		params.Set("fields", "summary,comment")
		params.Set("maxResults", strconv.Itoa(maxResults))
		params.Set("startAt", strconv.Itoa(batch*maxResults))
		return fmt.Sprintf("%s/rest/api/latest/search?%s", c.url, params.Encode())
	}, func(batch int, resp *fetch.Response) (bool, error) {
		var page struct {
			Issues []issueRecord `json:"issues"`
			Total  int           `json:"total"`
		}
		if err := json.Unmarshal(resp.Body, &page); err != nil {
			return false, report.MalformedError("jira json failed: %v", err)
		}
		issues = append(issues, page.Issues...)
		logging.Debug("jira batch fetched", "batch", batch, "issues", len(page.Issues))
		return len(issues) >= page.Total, nil
	})
	if err != nil {
		return nil, report.InSection(err, c.option)
	}
	return issues, nil
}

// commentedBy reports whether the user commented on the issue within the
// window. Comments with unparsable or missing fields are ignored.
func commentedBy(record issueRecord, email string, window report.DateWindow) bool {
	for _, comment := range record.Fields.Comment.Comments {
		if comment.Author.EmailAddress != email {
			continue
		}
		created, err := parseCommentTime(comment.Created)
		if err != nil {
			continue
		}
		if window.Contains(created.UTC()) {
			return true
		}
	}
	return false
}

// parseCommentTime accepts the provider's millisecond-offset layout with
// an RFC 3339 fallback.
func parseCommentTime(value string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02T15:04:05.000-0700", value); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, value)
}

// normalize converts issues to display tickets. An unexpected issue key
// fails the whole batch, partial sections would silently under-report.
func (c *Client) normalize(records []issueRecord) ([]models.Item, error) {
	items := make([]models.Item, 0, len(records))
	for _, record := range records {
		matched := keyRegex.FindStringSubmatch(record.Key)
		if matched == nil {
			return nil, report.InSection(
				report.MalformedError("unexpected jira issue key %q", record.Key), c.option)
		}
		prefix := c.prefix
		if prefix == "" {
			prefix = matched[1]
		}
		items = append(items, models.Ticket{
			IssueKey: record.Key,
			Prefix:   prefix,
			ID:       matched[2],
			Summary:  record.Fields.Summary,
			URL:      c.url + "/browse/" + record.Key,
		})
	}
	return items, nil
}
