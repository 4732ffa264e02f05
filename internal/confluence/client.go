// Package confluence reports wiki pages created or updated by the user
// and comments they added, searched with CQL.
package confluence

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/whatdid/whatdid/internal/auth"
	"github.com/whatdid/whatdid/internal/fetch"
	"github.com/whatdid/whatdid/internal/logging"
	"github.com/whatdid/whatdid/internal/report"
	"github.com/whatdid/whatdid/pkg/models"
)

// maxResults is the batch size of one content search request.
const maxResults = 100

var (
	replyPrefixRegex = regexp.MustCompile(`^Re: `)
	paragraphRegex   = regexp.MustCompile(`</p><p>`)
	htmlTagRegex     = regexp.MustCompile(`<[^<]+?>`)
)

// Client encapsulates one Confluence config section.
type Client struct {
	option  string
	url     string
	login   string
	session *auth.Session
}

type contentRecord struct {
	Title string `json:"title"`
	Links struct {
		WebUI string `json:"webui"`
	} `json:"_links"`
	Body struct {
		Editor struct {
			Value string `json:"value"`
		} `json:"editor"`
	} `json:"body"`
}

// New creates a Confluence client from its config section.
func New(option string, section map[string]string) (*Client, error) {
	rawURL, ok := section["url"]
	if !ok {
		return nil, report.ConfigError(option, "no confluence url set in the [%s] section", option)
	}
	baseURL := strings.TrimRight(rawURL, "/")

	authCfg, err := auth.ParseSection(option, section, baseURL)
	if err != nil {
		return nil, err
	}
	authCfg.VerifyPath = "/rest/api/content"
	authCfg.Hint = "try kinit"
	authCfg.Policy = &fetch.Policy{}

	return &Client{
		option:  option,
		url:     baseURL,
		login:   section["login"],
		session: auth.NewSession(authCfg),
	}, nil
}

// Name returns the config section name.
func (c *Client) Name() string {
	return c.option
}

// Fetch collects created pages, updated pages and added comments for the
// window.
func (c *Client) Fetch(ctx context.Context, user report.User, window report.DateWindow) ([]report.Section, error) {
	login := c.login
	if login == "" {
		login = user.Login
	}
	since := window.SinceDate()
	until := window.UntilDate()

	var sections []report.Section

	logging.Info("searching for pages created", "section", c.option, "user", login)
	created, err := c.search(ctx, fmt.Sprintf(
		"type=page AND creator = '%s' AND created >= %s AND created < %s",
		login, since, until), "")
	if err != nil {
		return nil, err
	}
	sections = append(sections, report.Section{
		Title: fmt.Sprintf("Pages created in %s", c.option),
		Items: c.pages(created),
	})

	logging.Info("searching for pages updated", "section", c.option, "user", login)
	modified, err := c.search(ctx, fmt.Sprintf(
		"type=page AND contributor = '%s' AND lastmodified >= %s AND lastmodified < %s",
		login, since, until), "")
	if err != nil {
		return nil, err
	}
	sections = append(sections, report.Section{
		Title: fmt.Sprintf("Pages updated in %s", c.option),
		Items: c.pages(modified),
	})

	logging.Info("searching for comments added", "section", c.option, "user", login)
	comments, err := c.search(ctx, fmt.Sprintf(
		"type=comment AND creator = '%s' AND created >= %s AND created < %s",
		login, since, until), "body.editor")
	if err != nil {
		return nil, err
	}
	sections = append(sections, report.Section{
		Title: fmt.Sprintf("Comments added in %s", c.option),
		Items: c.comments(comments),
	})

	return sections, nil
}

// search fetches all content of a CQL query in batches of maxResults,
// stopping once the response carries no next link.
func (c *Client) search(ctx context.Context, cql, expand string) ([]contentRecord, error) {
	fetcher, err := c.session.Fetcher(ctx)
	if err != nil {
		return nil, report.InSection(err, c.option)
	}
	logging.Debug("confluence search", "section", c.option, "query", cql)

	var content []contentRecord
	err = fetcher.Offset(ctx, func(batch int) string {
		params := url.Values{}
		params.Set("cql", cql)
		params.Set("limit", strconv.Itoa(maxResults))
		params.Set("expand", expand)
		params.Set("start", strconv.Itoa(batch*maxResults))
		return fmt.Sprintf("%s/rest/api/content/search?%s", c.url, params.Encode())
	}, func(batch int, resp *fetch.Response) (bool, error) {
		var page struct {
			Results []contentRecord `json:"results"`
			Links   struct {
				Next string `json:"next"`
			} `json:"_links"`
		}
		if err := json.Unmarshal(resp.Body, &page); err != nil {
			return false, report.MalformedError("confluence json failed: %v", err)
		}
		content = append(content, page.Results...)
		logging.Debug("confluence batch fetched", "batch", batch, "results", len(page.Results))
		return page.Links.Next == "", nil
	})
	if err != nil {
		return nil, report.InSection(err, c.option)
	}
	return content, nil
}

// pages converts content records to page items linked through their
// webui location.
func (c *Client) pages(records []contentRecord) []models.Item {
	items := make([]models.Item, 0, len(records))
	for _, record := range records {
		items = append(items, models.Page{
			Title: record.Title,
			URL:   c.url + record.Links.WebUI,
		})
	}
	return items
}

// comments converts comment records to single lines of "title: body"
// with the reply prefix and markup stripped.
func (c *Client) comments(records []contentRecord) []models.Item {
	items := make([]models.Item, 0, len(records))
	for _, record := range records {
		title := replyPrefixRegex.ReplaceAllString(record.Title, "")
		body := paragraphRegex.ReplaceAllString(record.Body.Editor.Value, " ")
		body = htmlTagRegex.ReplaceAllString(body, "")
		items = append(items, models.Line(title+": "+body))
	}
	return items
}
