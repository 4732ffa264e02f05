package confluence

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whatdid/whatdid/internal/auth"
	"github.com/whatdid/whatdid/internal/report"
	"github.com/whatdid/whatdid/pkg/models"
)

func testWindow(t *testing.T) report.DateWindow {
	t.Helper()
	window, err := report.NewWindow("2024-01-01", "2024-01-08")
	require.NoError(t, err)
	return window
}

func testClient(serverURL string) *Client {
	return &Client{
		option: "wiki",
		url:    serverURL,
		session: auth.NewSession(auth.Config{
			Section:  "wiki",
			BaseURL:  serverURL,
			AuthURL:  serverURL + "/login",
			Type:     auth.TypeBasic,
			Username: "jane",
			Password: "secret",
		}),
	}
}

func TestNewRequiresURL(t *testing.T) {
	_, err := New("wiki", map[string]string{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no confluence url set")
}

func TestFetchRunsContentQueries(t *testing.T) {
	var queries []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/login":
			w.WriteHeader(http.StatusOK)
		case "/rest/api/content/search":
			queries = append(queries, r.URL.Query().Get("cql"))
			w.Write([]byte(`{"results": [
				{"title": "Release notes", "_links": {"webui": "/display/PROJ/Release+notes"}}
			], "_links": {"next": ""}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := testClient(server.URL)
	sections, err := client.Fetch(context.Background(),
		report.User{Login: "jane"}, testWindow(t))
	require.NoError(t, err)
	require.Len(t, sections, 3)

	assert.Equal(t, "Pages created in wiki", sections[0].Title)
	assert.Equal(t, "Pages updated in wiki", sections[1].Title)
	assert.Equal(t, "Comments added in wiki", sections[2].Title)

	require.Len(t, queries, 3)
	assert.Equal(t, "type=page AND creator = 'jane' AND created >= 2024-01-01 AND created < 2024-01-08", queries[0])
	assert.Equal(t, "type=page AND contributor = 'jane' AND lastmodified >= 2024-01-01 AND lastmodified < 2024-01-08", queries[1])
	assert.Equal(t, "type=comment AND creator = 'jane' AND created >= 2024-01-01 AND created < 2024-01-08", queries[2])

	page, ok := sections[0].Items[0].(models.Page)
	require.True(t, ok)
	assert.Equal(t, "Release notes", page.Title)
	assert.Equal(t, server.URL+"/display/PROJ/Release+notes", page.URL)
}

func TestSearchPagesUntilNoNextLink(t *testing.T) {
	var starts []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/login":
			w.WriteHeader(http.StatusOK)
		case "/rest/api/content/search":
			start := r.URL.Query().Get("start")
			starts = append(starts, start)
			if start == "0" {
				w.Write([]byte(`{"results": [{"title": "one"}], "_links": {"next": "/rest/api/content/search?start=100"}}`))
				return
			}
			w.Write([]byte(`{"results": [{"title": "two"}], "_links": {"next": ""}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := testClient(server.URL)
	records, err := client.search(context.Background(), "type=page", "")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, []string{"0", "100"}, starts)
	assert.Equal(t, "two", records[1].Title)
}

func TestCommentsStripMarkup(t *testing.T) {
	client := &Client{}
	record := contentRecord{Title: "Re: Deployment plan"}
	record.Body.Editor.Value = "<p>first thought</p><p>second <b>bold</b> thought</p>"

	items := client.comments([]contentRecord{record})
	require.Len(t, items, 1)
	line, ok := items[0].(models.Line)
	require.True(t, ok)
	assert.Equal(t, "Deployment plan: first thought second bold thought", string(line))
}
