package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whatdid/whatdid/internal/report"
)

func TestSessionBasicNegotiation(t *testing.T) {
	var authRequests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/login":
			authRequests++
			username, password, ok := r.BasicAuth()
			require.True(t, ok)
			assert.Equal(t, "jane", username)
			assert.Equal(t, "secret", password)
			w.WriteHeader(http.StatusOK)
		default:
			w.Write([]byte(`{}`))
		}
	}))
	defer server.Close()

	session := NewSession(Config{
		Section:  "wiki",
		BaseURL:  server.URL,
		AuthURL:  server.URL + "/login",
		Type:     TypeBasic,
		Username: "jane",
		Password: "secret",
	})
	assert.Equal(t, StateUnauthenticated, session.State())

	fetcher, err := session.Fetcher(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateAuthenticated, session.State())

	_, err = fetcher.Get(context.Background(), server.URL+"/rest/api/2/search")
	require.NoError(t, err)

	// The handshake is reused, not repeated.
	_, err = session.Fetcher(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, authRequests)
}

func TestSessionTokenNegotiation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rest/api/2/myself", r.URL.Path)
		require.Equal(t, "Bearer abc", r.Header.Get("Authorization"))
		w.Write([]byte(`{"name": "jane"}`))
	}))
	defer server.Close()

	session := NewSession(Config{
		Section:    "issues",
		BaseURL:    server.URL,
		Type:       TypeToken,
		Token:      "abc",
		VerifyPath: "/rest/api/2/myself",
	})
	_, err := session.Fetcher(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateAuthenticated, session.State())
}

func TestSessionFailureIsSticky(t *testing.T) {
	var authRequests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authRequests++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	session := NewSession(Config{
		Section:  "wiki",
		BaseURL:  server.URL,
		AuthURL:  server.URL + "/login",
		Type:     TypeBasic,
		Username: "jane",
		Password: "wrong",
		Hint:     "try kinit",
	})

	_, err := session.Fetcher(context.Background())
	require.Error(t, err)
	kind, ok := report.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, report.KindAuth, kind)
	assert.Contains(t, err.Error(), "try kinit")
	assert.Equal(t, StateFailed, session.State())

	_, second := session.Fetcher(context.Background())
	assert.Equal(t, err, second)
	assert.Equal(t, 1, authRequests)
}
