package fetch

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/whatdid/whatdid/internal/report"
)

// Action is the rate-limit verdict on a completed response.
type Action int

const (
	// Proceed hands the response to the caller.
	Proceed Action = iota
	// Sleep waits for the quota window and re-issues the same request.
	Sleep
	// Fatal aborts the fetch with the attached error.
	Fatal
)

// Decision is one policy verdict.
type Decision struct {
	Action Action
	Delay  time.Duration
	Err    error
}

// Policy inspects completed responses for credential rejection and
// rate-limit conditions. 401 is always fatal. 403 and 429 sleep until
// the advertised reset when the remaining-quota header reads zero and
// fail otherwise. Any other non-2xx response is fatal with the provider
// error message embedded where one can be parsed from the body.
type Policy struct {
	// RemainingHeader names the remaining-quota header, e.g.
	// "X-RateLimit-Remaining". Empty disables quota handling.
	RemainingHeader string

	// ResetHeader names the header carrying the quota reset time as a
	// Unix epoch.
	ResetHeader string

	// Margin is added on top of the computed wait. Defaults to 1s.
	Margin time.Duration

	// UnauthorizedHint is the remedy hint attached to 401 errors.
	UnauthorizedHint string

	// ParseError extracts a provider error message from a failed
	// response body, or returns "" when none is found.
	ParseError func(body []byte) string

	// Now is replaced in tests.
	Now func() time.Time
}

// Inspect classifies one response.
func (p *Policy) Inspect(resp *Response) Decision {
	if resp.OK() {
		return Decision{Action: Proceed}
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return Decision{Action: Fatal, Err: report.AuthError(
			"", "credential was rejected by the server", p.UnauthorizedHint, nil)}
	}

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests {
		if p.RemainingHeader != "" && resp.Header.Get(p.RemainingHeader) == "0" {
			return Decision{Action: Sleep, Delay: p.sleepTime(resp)}
		}
		return Decision{Action: Fatal, Err: &report.Error{
			Kind:    report.KindAuth,
			Message: fmt.Sprintf("query was refused: %s", string(resp.Body)),
		}}
	}

	message := "unknown"
	if p.ParseError != nil {
		if parsed := p.ParseError(resp.Body); parsed != "" {
			message = parsed
		}
	}
	return Decision{Action: Fatal, Err: report.MalformedError(
		"query failed, the reason was %q and the error was %q", resp.Status, message)}
}

// sleepTime computes the wait until the advertised quota reset, floored
// at zero, plus the safety margin.
func (p *Policy) sleepTime(resp *Response) time.Duration {
	margin := p.Margin
	if margin <= 0 {
		margin = time.Second
	}
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	epoch, err := strconv.ParseInt(resp.Header.Get(p.ResetHeader), 10, 64)
	if err != nil {
		return margin
	}
	wait := time.Unix(epoch, 0).Sub(now())
	if wait < 0 {
		wait = 0
	}
	return wait + margin
}
