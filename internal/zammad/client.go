// Package zammad reports helpdesk tickets the user touched, confirmed
// through each ticket's articles.
package zammad

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/whatdid/whatdid/internal/config"
	"github.com/whatdid/whatdid/internal/fetch"
	"github.com/whatdid/whatdid/internal/logging"
	"github.com/whatdid/whatdid/internal/report"
	"github.com/whatdid/whatdid/pkg/models"
)

type ticketRecord struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

type articleRecord struct {
	CreatedBy string `json:"created_by"`
	UpdatedAt string `json:"updated_at"`
}

// Client encapsulates one Zammad config section.
type Client struct {
	option  string
	url     string
	fetcher *fetch.Fetcher
}

// New creates a Zammad client from its config section. The token is
// optional, public instances answer unauthenticated searches.
func New(option string, section map[string]string) (*Client, error) {
	rawURL, ok := section["url"]
	if !ok {
		return nil, report.ConfigError(option, "no zammad url set in the [%s] section", option)
	}
	token, err := config.Secret(section, "token")
	if err != nil {
		return nil, report.ConfigError(option, "%v", err)
	}
	timeout, err := config.Timeout(section)
	if err != nil {
		return nil, report.ConfigError(option, "%v", err)
	}
	var headers map[string]string
	if token != "" {
		headers = map[string]string{"Authorization": "Token token=" + token}
	}
	return &Client{
		option:  option,
		url:     strings.TrimRight(rawURL, "/"),
		fetcher: fetch.New(fetch.Options{Timeout: timeout, Headers: headers}),
	}, nil
}

// Name returns the config section name.
func (c *Client) Name() string {
	return c.option
}

// Fetch collects tickets updated by the user within the window. The
// search matches by display name; each candidate is confirmed through
// its articles by email and date.
func (c *Client) Fetch(ctx context.Context, user report.User, window report.DateWindow) ([]report.Section, error) {
	logging.Info("searching for tickets updated", "section", c.option, "user", user.Email)
	search := fmt.Sprintf("article.from:\"%s\" and article.created_at:[%s TO %s]",
		user.Name, window.SinceDate(), window.UntilDate())
	resp, err := c.fetcher.Get(ctx,
		fmt.Sprintf("%s/tickets/search?query=%s", c.url, url.QueryEscape(search)))
	if err != nil {
		return nil, report.InSection(err, c.option)
	}
	var payload struct {
		Assets struct {
			Ticket map[string]ticketRecord `json:"Ticket"`
		} `json:"assets"`
	}
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return nil, report.InSection(
			report.MalformedError("zammad json failed: %v", err), c.option)
	}

	tickets := make([]ticketRecord, 0, len(payload.Assets.Ticket))
	for _, ticket := range payload.Assets.Ticket {
		tickets = append(tickets, ticket)
	}
	sort.Slice(tickets, func(i, j int) bool { return tickets[i].ID < tickets[j].ID })

	var items []models.Item
	for _, ticket := range tickets {
		confirmed, err := c.confirm(ctx, ticket, user, window)
		if err != nil {
			logging.Warn("skipping ticket, articles not available",
				"section", c.option, "ticket", ticket.ID, "error", err)
			continue
		}
		if confirmed {
			items = append(items, models.Line(fmt.Sprintf(
				"%s - %s", models.PadID(fmt.Sprintf("%d", ticket.ID)), ticket.Title)))
		}
	}

	return []report.Section{
		{Title: fmt.Sprintf("Tickets updated on %s", c.option), Items: items},
	}, nil
}

// confirm fetches the ticket's articles and reports whether any was
// written by the user within the window, date boundaries inclusive.
func (c *Client) confirm(ctx context.Context, ticket ticketRecord, user report.User, window report.DateWindow) (bool, error) {
	resp, err := c.fetcher.Get(ctx,
		fmt.Sprintf("%s/ticket_articles/by_ticket/%d", c.url, ticket.ID))
	if err != nil {
		return false, err
	}
	var articles []articleRecord
	if err := json.Unmarshal(resp.Body, &articles); err != nil {
		return false, report.MalformedError("zammad json failed: %v", err)
	}
	for _, article := range articles {
		if article.CreatedBy != user.Email {
			continue
		}
		updated, err := time.Parse(time.RFC3339, article.UpdatedAt)
		if err != nil {
			continue
		}
		if window.ContainsDate(updated.UTC()) {
			return true, nil
		}
	}
	return false, nil
}
