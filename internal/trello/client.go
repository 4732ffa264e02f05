// Package trello reports card activity collected from the member
// actions feed, optionally narrowed to selected boards.
package trello

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"

	"github.com/whatdid/whatdid/internal/config"
	"github.com/whatdid/whatdid/internal/fetch"
	"github.com/whatdid/whatdid/internal/logging"
	"github.com/whatdid/whatdid/internal/report"
	"github.com/whatdid/whatdid/pkg/models"
)

const (
	apiURL = "https://trello.com/1"

	// maxActions is the feed limit of one request; fetching more than
	// 1000 actions is not supported by the API.
	maxActions = 1000
)

// defaultFilters selects the action types reported when the section
// does not configure its own.
var defaultFilters = []string{
	"commentCard", "createCard", "updateCard",
	"updateCard:idList", "updateCard:closed",
	"updateCheckItemStateOnCard",
}

type actionRecord struct {
	Data struct {
		Board struct {
			ID string `json:"id"`
		} `json:"board"`
		Card struct {
			Name   string `json:"name"`
			Closed bool   `json:"closed"`
		} `json:"card"`
		ListBefore struct {
			Name string `json:"name"`
		} `json:"listBefore"`
		ListAfter struct {
			Name string `json:"name"`
		} `json:"listAfter"`
		CheckItem struct {
			Name string `json:"name"`
		} `json:"checkItem"`
	} `json:"data"`
}

// Client encapsulates one Trello config section.
type Client struct {
	option     string
	key        string
	token      string
	username   string
	boardLinks []string
	filters    []string
	fetcher    *fetch.Fetcher

	boardIDs map[string]struct{}
}

// New creates a Trello client from its config section.
func New(option string, section map[string]string) (*Client, error) {
	token, err := config.Secret(section, "token")
	if err != nil {
		return nil, report.ConfigError(option, "%v", err)
	}
	key := section["apikey"]
	username := section["user"]
	if (key == "" || token == "") && username == "" {
		return nil, report.ConfigError(option,
			"no ('apikey' and 'token') or 'user' set in the [%s] section", option)
	}
	if username == "" {
		username = "me"
	}
	timeout, err := config.Timeout(section)
	if err != nil {
		return nil, report.ConfigError(option, "%v", err)
	}
	filters := config.Split(section["filters"])
	if _, ok := section["filters"]; !ok {
		filters = defaultFilters
	}
	return &Client{
		option:     option,
		key:        key,
		token:      token,
		username:   username,
		boardLinks: config.Split(section["board_links"]),
		filters:    filters,
		fetcher:    fetch.New(fetch.Options{Timeout: timeout}),
	}, nil
}

// Name returns the config section name.
func (c *Client) Name() string {
	return c.option
}

// titles maps each action filter to its section title.
var titles = map[string]string{
	"commentCard":                "Cards commented in %s",
	"createCard":                 "Cards created in %s",
	"updateCard":                 "Cards updated in %s",
	"updateCard:closed":          "Cards closed in %s",
	"updateCard:idList":          "Cards moved in %s",
	"updateCheckItemStateOnCard": "Checklist items completed in %s",
}

// Fetch collects card activity for the window, one section per
// configured action filter.
func (c *Client) Fetch(ctx context.Context, user report.User, window report.DateWindow) ([]report.Section, error) {
	if err := c.loadBoards(ctx); err != nil {
		return nil, report.InSection(err, c.option)
	}

	var sections []report.Section
	for _, filter := range c.filters {
		title, ok := titles[filter]
		if !ok {
			return nil, report.ConfigError(c.option,
				"unknown action filter %q in the [%s] section", filter, c.option)
		}
		logging.Info("searching for card actions",
			"section", c.option, "filter", filter, "user", c.username)
		actions, err := c.actions(ctx, filter, window)
		if err != nil {
			return nil, report.InSection(err, c.option)
		}
		sections = append(sections, report.Section{
			Title: fmt.Sprintf(title, c.option),
			Items: render(filter, actions),
		})
	}
	return sections, nil
}

// loadBoards resolves the configured board links to ids. Without
// board_links every board of the member is included.
func (c *Client) loadBoards(ctx context.Context) error {
	if c.boardIDs != nil {
		return nil
	}
	params := c.params()
	params.Set("fields", "shortLink")
	resp, err := c.fetcher.Get(ctx,
		fmt.Sprintf("%s/members/%s/boards?%s", apiURL, c.username, params.Encode()))
	if err != nil {
		return err
	}
	var boards []struct {
		ID        string `json:"id"`
		ShortLink string `json:"shortLink"`
	}
	if err := json.Unmarshal(resp.Body, &boards); err != nil {
		return report.MalformedError("trello json failed: %v", err)
	}
	c.boardIDs = make(map[string]struct{}, len(boards))
	for _, board := range boards {
		if len(c.boardLinks) == 0 || contains(c.boardLinks, board.ShortLink) {
			c.boardIDs[board.ID] = struct{}{}
		}
	}
	return nil
}

// actions fetches one filtered slice of the member actions feed and
// drops actions outside the selected boards.
func (c *Client) actions(ctx context.Context, filter string, window report.DateWindow) ([]actionRecord, error) {
	params := c.params()
	params.Set("filter", filter)
	params.Set("limit", strconv.Itoa(maxActions))
	params.Set("since", window.SinceDate())
	params.Set("before", window.UntilDate())
	resp, err := c.fetcher.Get(ctx,
		fmt.Sprintf("%s/members/%s/actions?%s", apiURL, c.username, params.Encode()))
	if err != nil {
		return nil, err
	}
	var actions []actionRecord
	if err := json.Unmarshal(resp.Body, &actions); err != nil {
		return nil, report.MalformedError("trello json failed: %v", err)
	}
	var selected []actionRecord
	for _, action := range actions {
		if _, ok := c.boardIDs[action.Data.Board.ID]; ok {
			selected = append(selected, action)
		}
	}
	return selected, nil
}

func (c *Client) params() url.Values {
	params := url.Values{}
	if c.key != "" {
		params.Set("key", c.key)
	}
	if c.token != "" {
		params.Set("token", c.token)
	}
	return params
}

// render formats actions into sorted unique lines, the shape depends on
// the action type.
func render(filter string, actions []actionRecord) []models.Item {
	lines := make([]string, 0, len(actions))
	for _, action := range actions {
		card := action.Data.Card.Name
		switch filter {
		case "updateCard:closed":
			status := "opened"
			if action.Data.Card.Closed {
				status = "closed"
			}
			lines = append(lines, card+": "+status)
		case "updateCard:idList":
			lines = append(lines, fmt.Sprintf("[%s] moved from [%s] to [%s]",
				card, action.Data.ListBefore.Name, action.Data.ListAfter.Name))
		case "updateCheckItemStateOnCard":
			lines = append(lines, card+": "+action.Data.CheckItem.Name)
		default:
			lines = append(lines, card)
		}
	}
	sort.Strings(lines)
	items := make([]models.Item, 0, len(lines))
	for _, line := range lines {
		items = append(items, models.Line(line))
	}
	return items
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}
