// Package auth establishes and caches the authenticated session used by
// the enterprise-wiki style connectors. A session is negotiated lazily on
// first use and then reused for every request of its connector group; it
// is never re-negotiated mid-run.
package auth

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/dpotapov/go-spnego"

	"github.com/whatdid/whatdid/internal/fetch"
	"github.com/whatdid/whatdid/internal/logging"
	"github.com/whatdid/whatdid/internal/report"
)

// Type is the authentication mode of a session.
type Type string

const (
	// TypeGSS authenticates with a negotiated (SPNEGO) handshake.
	TypeGSS Type = "gss"
	// TypeBasic authenticates with username and password.
	TypeBasic Type = "basic"
	// TypeToken authenticates with a bearer token.
	TypeToken Type = "token"
)

// State tracks the session lifecycle. Authenticated and Failed are
// terminal for the connector's lifetime.
type State int

const (
	StateUnauthenticated State = iota
	StateNegotiating
	StateAuthenticated
	StateFailed
)

// tokenTimeLayout matches the expiration timestamps of the token
// metadata endpoint.
const tokenTimeLayout = "2006-01-02T15:04:05.000-0700"

// Config describes how a session authenticates.
type Config struct {
	// Section names the config section for error messages.
	Section string

	// BaseURL is the service root, without a trailing slash.
	BaseURL string

	// AuthURL is the endpoint hit to establish the session. Defaults to
	// BaseURL + "/step-auth-gss".
	AuthURL string

	// Type selects the mode; default gss.
	Type Type

	// Username and Password apply to basic mode only.
	Username string
	Password string

	// Token applies to token mode only.
	Token string

	// VerifyPath is the relative endpoint confirming a bearer token
	// works, e.g. "/rest/api/2/myself".
	VerifyPath string

	// TokenName and TokenExpiration enable the non-fatal expiration
	// warning: warn when the named token expires within that many days.
	TokenName       string
	TokenExpiration int

	// Hint is the remedy attached to a failed handshake.
	Hint string

	// Insecure disables TLS verification.
	Insecure bool

	// Timeout bounds each request.
	Timeout time.Duration

	// Policy customizes rate-limit and error handling of the fetcher
	// handed out after authentication.
	Policy *fetch.Policy
}

// Session is an authenticated HTTP client bound to a base URL and a
// credential. Owned exclusively by one connector group and queried
// sequentially; no locking needed.
type Session struct {
	cfg     Config
	state   State
	fetcher *fetch.Fetcher
	err     error
}

// NewSession prepares an unauthenticated session.
func NewSession(cfg Config) *Session {
	if cfg.AuthURL == "" {
		cfg.AuthURL = cfg.BaseURL + "/step-auth-gss"
	}
	if cfg.Type == "" {
		cfg.Type = TypeGSS
	}
	return &Session{cfg: cfg}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return s.state
}

// Fetcher returns the authenticated fetcher, negotiating the session on
// first use. A failed negotiation is sticky: every later call returns
// the same error.
func (s *Session) Fetcher(ctx context.Context) (*fetch.Fetcher, error) {
	switch s.state {
	case StateAuthenticated:
		return s.fetcher, nil
	case StateFailed:
		return nil, s.err
	}
	s.state = StateNegotiating
	if err := s.negotiate(ctx); err != nil {
		s.state = StateFailed
		s.err = err
		return nil, err
	}
	s.state = StateAuthenticated
	return s.fetcher, nil
}

// negotiate performs the auth handshake and builds the shared fetcher.
func (s *Session) negotiate(ctx context.Context) error {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return fmt.Errorf("unable to create cookie jar: %w", err)
	}
	client := &http.Client{Jar: jar, Timeout: s.cfg.Timeout}

	var tlsConfig *tls.Config
	if s.cfg.Insecure {
		tlsConfig = &tls.Config{InsecureSkipVerify: true}
	}

	headers := map[string]string{}
	var authURL string
	switch s.cfg.Type {
	case TypeBasic, TypeGSS:
		authURL = s.cfg.AuthURL
	case TypeToken:
		headers["Authorization"] = "Bearer " + s.cfg.Token
		authURL = s.cfg.BaseURL + s.cfg.VerifyPath
	default:
		return report.ConfigError(s.cfg.Section, "unsupported authentication type: %s", s.cfg.Type)
	}

	if s.cfg.Type == TypeGSS {
		transport := &spnego.Transport{}
		if tlsConfig != nil {
			transport.TLSClientConfig = tlsConfig
		}
		client.Transport = transport
	} else if tlsConfig != nil {
		client.Transport = &http.Transport{TLSClientConfig: tlsConfig}
	}

	logging.Debug("connecting", "url", authURL, "auth_type", string(s.cfg.Type))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, authURL, nil)
	if err != nil {
		return fmt.Errorf("invalid auth url %q: %w", authURL, err)
	}
	if s.cfg.Type == TypeBasic {
		req.SetBasicAuth(s.cfg.Username, s.cfg.Password)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := client.Do(req)
	if err != nil {
		return report.AuthError(s.cfg.Section, "authentication request failed", s.cfg.Hint, err)
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return report.AuthError(s.cfg.Section,
			fmt.Sprintf("authentication failed with status %s", resp.Status), s.cfg.Hint, nil)
	}

	s.fetcher = fetch.New(fetch.Options{
		Client:  client,
		Headers: headers,
		Timeout: s.cfg.Timeout,
		Policy:  s.cfg.Policy,
	})

	if s.cfg.Type == TypeToken && s.cfg.TokenExpiration > 0 {
		s.checkTokenExpiration(ctx)
	}
	return nil
}

// checkTokenExpiration warns when the configured token expires within
// the threshold. Any failure here is logged and ignored; the session
// stays authenticated.
func (s *Session) checkTokenExpiration(ctx context.Context) {
	resp, err := s.fetcher.Get(ctx, s.cfg.BaseURL+"/rest/pat/latest/tokens")
	if err != nil {
		logging.Warn("unable to check token expiration", "error", err)
		return
	}
	var tokens []struct {
		Name       string `json:"name"`
		ExpiringAt string `json:"expiringAt"`
	}
	if err := json.Unmarshal(resp.Body, &tokens); err != nil {
		logging.Warn("unable to parse token metadata", "error", err)
		return
	}
	for _, token := range tokens {
		if token.Name != s.cfg.TokenName {
			continue
		}
		expiringAt, err := time.Parse(tokenTimeLayout, token.ExpiringAt)
		if err != nil {
			if expiringAt, err = time.Parse(time.RFC3339, token.ExpiringAt); err != nil {
				logging.Warn("unable to parse token expiration", "value", token.ExpiringAt)
				return
			}
		}
		days := int(time.Until(expiringAt).Hours() / 24)
		if days < s.cfg.TokenExpiration {
			logging.Warn("token expires soon",
				"token", s.cfg.TokenName, "days", days)
		}
		return
	}
	logging.Warn("cannot check token validity, token not found",
		"token", s.cfg.TokenName)
}
