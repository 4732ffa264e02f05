package zammad

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whatdid/whatdid/internal/fetch"
	"github.com/whatdid/whatdid/internal/report"
	"github.com/whatdid/whatdid/pkg/models"
)

func testWindow(t *testing.T) report.DateWindow {
	t.Helper()
	window, err := report.NewWindow("2024-01-01", "2024-01-08")
	require.NoError(t, err)
	return window
}

func testUser() report.User {
	return report.User{Login: "jane", Email: "jane@example.com", Name: "Jane Doe"}
}

func TestNewRequiresURL(t *testing.T) {
	_, err := New("helpdesk", map[string]string{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no zammad url set")
}

func TestFetchConfirmsTicketsThroughArticles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/tickets/search":
			query := r.URL.Query().Get("query")
			assert.Equal(t, `article.from:"Jane Doe" and article.created_at:[2024-01-01 TO 2024-01-08]`, query)
			w.Write([]byte(`{"assets": {"Ticket": {
				"12": {"id": 12, "title": "printer on fire"},
				"7": {"id": 7, "title": "password reset"},
				"9": {"id": 9, "title": "someone else wrote this"}
			}}}`))
		case "/ticket_articles/by_ticket/7":
			w.Write([]byte(`[{"created_by": "jane@example.com", "updated_at": "2024-01-03T10:00:00Z"}]`))
		case "/ticket_articles/by_ticket/9":
			w.Write([]byte(`[{"created_by": "bob@example.com", "updated_at": "2024-01-03T10:00:00Z"}]`))
		case "/ticket_articles/by_ticket/12":
			w.Write([]byte(`[{"created_by": "jane@example.com", "updated_at": "2024-01-05T10:00:00Z"}]`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := &Client{option: "helpdesk", url: server.URL, fetcher: fetch.New(fetch.Options{})}
	sections, err := client.Fetch(context.Background(), testUser(), testWindow(t))
	require.NoError(t, err)
	require.Len(t, sections, 1)
	assert.Equal(t, "Tickets updated on helpdesk", sections[0].Title)

	// Confirmed tickets only, sorted by id, with padded identifiers.
	require.Len(t, sections[0].Items, 2)
	assert.Equal(t, models.Line("007 - password reset"), sections[0].Items[0])
	assert.Equal(t, models.Line("012 - printer on fire"), sections[0].Items[1])
}

func TestFetchSkipsTicketWithoutArticles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/tickets/search":
			w.Write([]byte(`{"assets": {"Ticket": {
				"7": {"id": 7, "title": "good"},
				"9": {"id": 9, "title": "articles broken"}
			}}}`))
		case "/ticket_articles/by_ticket/7":
			w.Write([]byte(`[{"created_by": "jane@example.com", "updated_at": "2024-01-03T10:00:00Z"}]`))
		case "/ticket_articles/by_ticket/9":
			http.Error(w, "forbidden", http.StatusForbidden)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := &Client{option: "helpdesk", url: server.URL, fetcher: fetch.New(fetch.Options{})}
	sections, err := client.Fetch(context.Background(), testUser(), testWindow(t))
	require.NoError(t, err)
	require.Len(t, sections[0].Items, 1)
	assert.Equal(t, models.Line("007 - good"), sections[0].Items[0])
}

func TestConfirmChecksAuthorAndDate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"created_by": "jane@example.com", "updated_at": "2023-11-01T10:00:00Z"},
			{"created_by": "bob@example.com", "updated_at": "2024-01-03T10:00:00Z"}
		]`))
	}))
	defer server.Close()

	client := &Client{option: "helpdesk", url: server.URL, fetcher: fetch.New(fetch.Options{})}
	confirmed, err := client.confirm(context.Background(),
		ticketRecord{ID: 7}, testUser(), testWindow(t))
	require.NoError(t, err)
	assert.False(t, confirmed)
}
