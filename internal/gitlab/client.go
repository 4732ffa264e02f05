// Package gitlab reports issue and merge request activity collected from
// the user's event feed, with project and iid details resolved through
// cached secondary lookups.
package gitlab

import (
	"context"
	"encoding/json"
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

const (
	apiVersion = 4

	// Connection retry is more generous here than the shared default,
	// some instances drop connections under load.
	attempts      = 5
	retryInterval = 5 * time.Second

	// maxPageList caps project issue and merge request listings. Larger
	// projects are skipped instead of paging through them for minutes;
	// their records then render with an unresolved identifier.
	maxPageList = 20
)

type noteRecord struct {
	NoteableType string `json:"noteable_type"`
	NoteableID   int64  `json:"noteable_id"`
}

type eventRecord struct {
	ProjectID   int64       `json:"project_id"`
	TargetID    int64       `json:"target_id"`
	TargetType  string      `json:"target_type"`
	ActionName  string      `json:"action_name"`
	TargetTitle string      `json:"target_title"`
	CreatedAt   string      `json:"created_at"`
	Note        *noteRecord `json:"note"`
}

type projectRecord struct {
	PathWithNamespace string `json:"path_with_namespace"`
}

// workRecord is one entry of a project issue or merge request listing.
type workRecord struct {
	ID          int64  `json:"id"`
	IID         int64  `json:"iid"`
	Description string `json:"description"`
}

// Client encapsulates one GitLab config section together with the
// per-run lookup caches.
type Client struct {
	option  string
	url     string
	login   string
	fetcher *fetch.Fetcher

	events        []eventRecord
	projects      map[int64]projectRecord
	projectMRs    map[int64][]workRecord
	projectIssues map[int64][]workRecord
}

// New creates a GitLab client from its config section.
func New(option string, section map[string]string) (*Client, error) {
	rawURL, ok := section["url"]
	if !ok {
		return nil, report.ConfigError(option, "no gitlab url set in the [%s] section", option)
	}
	token, err := config.Secret(section, "token")
	if err != nil {
		return nil, report.ConfigError(option, "%v", err)
	}
	if token == "" {
		return nil, report.ConfigError(option, "no gitlab token set in the [%s] section", option)
	}
	sslVerify, err := config.Bool(section, "ssl_verify", true)
	if err != nil {
		return nil, report.ConfigError(option,
			"invalid ssl_verify option for gitlab in the [%s] section", option)
	}
	timeout, err := config.Timeout(section)
	if err != nil {
		return nil, report.ConfigError(option, "%v", err)
	}

	fetcher := fetch.New(fetch.Options{
		Timeout:       timeout,
		Insecure:      !sslVerify,
		Attempts:      attempts,
		RetryInterval: retryInterval,
		Headers:       map[string]string{"PRIVATE-TOKEN": token},
		Policy: &fetch.Policy{
			UnauthorizedHint: "check the api scope of the configured token",
			ParseError:       parseAPIError,
		},
	})

	return &Client{
		option:        option,
		url:           strings.TrimRight(rawURL, "/"),
		login:         section["login"],
		fetcher:       fetcher,
		projects:      make(map[int64]projectRecord),
		projectMRs:    make(map[int64][]workRecord),
		projectIssues: make(map[int64][]workRecord),
	}, nil
}

// parseAPIError extracts the error and error_description fields of a
// failed response.
func parseAPIError(body []byte) string {
	var payload struct {
		Error       string `json:"error"`
		Description string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Error == "" {
		return ""
	}
	if payload.Description == "" {
		return payload.Error
	}
	return payload.Error + ": " + payload.Description
}

// Name returns the config section name.
func (c *Client) Name() string {
	return c.option
}

// Fetch collects issue and merge request activity for the window.
func (c *Client) Fetch(ctx context.Context, user report.User, window report.DateWindow) ([]report.Section, error) {
	login := c.login
	if login == "" {
		login = user.Login
	}
	if err := c.loadEvents(ctx, login, window); err != nil {
		return nil, report.InSection(err, c.option)
	}

	type stat struct {
		title    string
		target   string
		action   string
		noteable string
	}
	stats := []stat{
		{title: "Issues created on %s", target: "Issue", action: "opened"},
		{title: "Issues commented on %s", target: "Note", action: "commented on", noteable: "Issue"},
		{title: "Issues closed on %s", target: "Issue", action: "closed"},
		{title: "Merge requests created on %s", target: "MergeRequest", action: "opened"},
		{title: "Merge requests commented on %s", target: "Note", action: "commented on", noteable: "MergeRequest"},
		{title: "Merge requests approved on %s", target: "MergeRequest", action: "approved"},
		{title: "Merge requests closed on %s", target: "MergeRequest", action: "accepted"},
	}

	sections := make([]report.Section, 0, len(stats))
	for _, s := range stats {
		logging.Info("searching gitlab events",
			"section", c.option, "target", s.target, "action", s.action, "user", login)
		var items []models.Item
		for _, event := range c.match(s.target, s.action, s.noteable, window) {
			item, err := c.normalize(ctx, event)
			if err != nil {
				return nil, report.InSection(err, c.option)
			}
			items = append(items, item)
		}
		sections = append(sections, report.Section{
			Title: fmt.Sprintf(s.title, c.option),
			Items: items,
		})
	}
	return sections, nil
}

// loadEvents resolves the user id and fetches the event feed once per
// run. The feed is newest first, so pagination stops early when a page
// ends before the window.
func (c *Client) loadEvents(ctx context.Context, login string, window report.DateWindow) error {
	if c.events != nil {
		return nil
	}
	resp, err := c.fetcher.Get(ctx, c.api("users?username="+login))
	if err != nil {
		return err
	}
	var users []struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(resp.Body, &users); err != nil {
		return report.MalformedError("unable to query user %q on %s: %v", login, c.url, err)
	}
	if len(users) == 0 {
		return report.ConfigError(c.option, "unable to find user %q on %s", login, c.url)
	}

	after := window.Since.AddDate(0, 0, -1).Format(report.DateFormat)
	first := c.api(fmt.Sprintf("users/%d/events?after=%s&before=%s",
		users[0].ID, after, window.UntilDate()))
	c.events = []eventRecord{}
	return c.fetcher.FollowLinks(ctx, first, func(resp *fetch.Response) (string, error) {
		var page []eventRecord
		if err := json.Unmarshal(resp.Body, &page); err != nil {
			return "", report.MalformedError("gitlab json failed: %v", err)
		}
		c.events = append(c.events, page...)
		if len(page) > 0 {
			last, err := parseEventTime(page[len(page)-1].CreatedAt)
			if err != nil {
				return "", err
			}
			if last.Before(window.Since) {
				return "", nil
			}
		}
		return resp.NextLink(), nil
	})
}

// match filters the cached events by target type, action name, optional
// noteable type and the date window.
func (c *Client) match(target, action, noteable string, window report.DateWindow) []eventRecord {
	var result []eventRecord
	for _, event := range c.events {
		if event.TargetType != target || event.ActionName != action {
			continue
		}
		if noteable != "" && (event.Note == nil || event.Note.NoteableType != noteable) {
			continue
		}
		created, err := parseEventTime(event.CreatedAt)
		if err != nil {
			continue
		}
		if window.ContainsDate(created) {
			result = append(result, event)
		}
	}
	logging.Debug("gitlab events matched",
		"target", target, "action", action, "count", len(result))
	return result
}

// normalize resolves the event's project path, iid and description and
// builds the display item. Records whose iid cannot be resolved within
// the listing cap keep the "unknown" identifier.
func (c *Client) normalize(ctx context.Context, event eventRecord) (models.Item, error) {
	project, err := c.project(ctx, event.ProjectID)
	if err != nil {
		return nil, err
	}

	endpoint := "merge_requests"
	if event.TargetType == "Issue" ||
		(event.Note != nil && event.Note.NoteableType == "Issue") {
		endpoint = "issues"
	}

	var work *workRecord
	switch {
	case event.Note != nil && event.Note.NoteableType == "Issue":
		work, err = c.findIssue(ctx, event.ProjectID, event.Note.NoteableID)
	case event.Note != nil && event.Note.NoteableType == "MergeRequest":
		work, err = c.findMR(ctx, event.ProjectID, event.Note.NoteableID)
	case event.TargetType == "Issue":
		work, err = c.findIssue(ctx, event.ProjectID, event.TargetID)
	default:
		work, err = c.findMR(ctx, event.ProjectID, event.TargetID)
	}
	if err != nil {
		return nil, err
	}

	id := "unknown"
	body := ""
	if work != nil {
		id = strconv.FormatInt(work.IID, 10)
		body = work.Description
	}

	path := project.PathWithNamespace
	owner, name := path, ""
	if slash := strings.LastIndex(path, "/"); slash >= 0 {
		owner, name = path[:slash], path[slash+1:]
	}
	return models.Issue{
		Owner:   owner,
		Project: name,
		Number:  id,
		Title:   event.TargetTitle,
		Body:    body,
		WebURL:  fmt.Sprintf("%s/%s/-/%s/%s", c.url, path, endpoint, id),
	}, nil
}

func (c *Client) api(endpoint string) string {
	return fmt.Sprintf("%s/api/v%d/%s", c.url, apiVersion, endpoint)
}

func (c *Client) project(ctx context.Context, id int64) (projectRecord, error) {
	if project, ok := c.projects[id]; ok {
		return project, nil
	}
	resp, err := c.fetcher.Get(ctx, c.api(fmt.Sprintf("projects/%d", id)))
	if err != nil {
		return projectRecord{}, err
	}
	var project projectRecord
	if err := json.Unmarshal(resp.Body, &project); err != nil {
		return projectRecord{}, report.MalformedError("gitlab json failed: %v", err)
	}
	c.projects[id] = project
	return project, nil
}

func (c *Client) findIssue(ctx context.Context, projectID, id int64) (*workRecord, error) {
	issues, err := c.workList(ctx, c.projectIssues, projectID, "issues")
	if err != nil {
		return nil, err
	}
	return find(issues, id), nil
}

func (c *Client) findMR(ctx context.Context, projectID, id int64) (*workRecord, error) {
	mrs, err := c.workList(ctx, c.projectMRs, projectID, "merge_requests")
	if err != nil {
		return nil, err
	}
	return find(mrs, id), nil
}

func find(records []workRecord, id int64) *workRecord {
	for i := range records {
		if records[i].ID == id {
			return &records[i]
		}
	}
	return nil
}

// workList fetches and caches one project listing. Listings longer than
// maxPageList pages are cached as empty instead of being paged through.
func (c *Client) workList(ctx context.Context, cache map[int64][]workRecord, projectID int64, endpoint string) ([]workRecord, error) {
	if records, ok := cache[projectID]; ok {
		return records, nil
	}
	first := c.api(fmt.Sprintf("projects/%d/%s", projectID, endpoint))
	var records []workRecord
	pages := 0
	err := c.fetcher.FollowLinks(ctx, first, func(resp *fetch.Response) (string, error) {
		pages++
		if pages == 1 {
			if total, err := strconv.Atoi(resp.Header.Get("x-total-pages")); err == nil && total > maxPageList {
				logging.Debug("skipping large project listing",
					"project", projectID, "endpoint", endpoint, "pages", total)
				records = nil
				return "", nil
			}
		}
		var page []workRecord
		if err := json.Unmarshal(resp.Body, &page); err != nil {
			return "", report.MalformedError("gitlab json failed: %v", err)
		}
		records = append(records, page...)
		return resp.NextLink(), nil
	})
	if err != nil {
		return nil, err
	}
	cache[projectID] = records
	return records, nil
}

func parseEventTime(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, report.MalformedError("unexpected gitlab timestamp %q", value)
	}
	return t.UTC(), nil
}
