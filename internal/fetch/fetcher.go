// Package fetch implements the shared fetch protocol used by every
// connector: GET with timeout and TLS toggle, bounded retry on transient
// network failures, rate-limit handling, and the pagination strategies
// the providers' APIs require.
package fetch

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/whatdid/whatdid/internal/logging"
	"github.com/whatdid/whatdid/internal/report"
)

const (
	// DefaultAttempts is the bounded retry count for connection-level
	// failures.
	DefaultAttempts = 3

	// DefaultRetryInterval is the pause between those attempts.
	DefaultRetryInterval = 5 * time.Second
)

// Options configures a Fetcher. Zero values fall back to the documented
// defaults.
type Options struct {
	// Timeout bounds one request including the response body read.
	Timeout time.Duration

	// Insecure disables TLS certificate verification.
	Insecure bool

	// Attempts bounds the retries on connection-level failures.
	Attempts int

	// RetryInterval is the pause between transient-failure attempts.
	RetryInterval time.Duration

	// Headers are sent with every request (auth and accept headers).
	Headers map[string]string

	// Throttle, when non-zero, proactively limits the request rate in
	// front of the provider's own quota accounting.
	Throttle rate.Limit

	// Policy decides how completed responses are treated. Nil selects a
	// policy that accepts 2xx and fails everything else.
	Policy *Policy

	// Client overrides the HTTP client, typically to carry an
	// authenticated transport or a session cookie jar.
	Client *http.Client
}

// Response is one completed HTTP response with its body consumed.
type Response struct {
	StatusCode int
	Status     string
	Header     http.Header
	Body       []byte
}

// OK reports whether the status code is in the 2xx range.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Fetcher issues GET requests for one connector. It is not safe for
// concurrent use; each connector owns exactly one and queries it
// sequentially.
type Fetcher struct {
	client   *http.Client
	headers  map[string]string
	attempts int
	interval time.Duration
	limiter  *rate.Limiter
	policy   *Policy

	// sleep is replaced in tests to avoid real rate-limit waits.
	sleep func(context.Context, time.Duration) error
}

// New creates a Fetcher from the given options.
func New(opts Options) *Fetcher {
	f := &Fetcher{
		headers:  opts.Headers,
		attempts: opts.Attempts,
		interval: opts.RetryInterval,
		policy:   opts.Policy,
		sleep:    sleepContext,
	}
	if f.attempts <= 0 {
		f.attempts = DefaultAttempts
	}
	if f.interval <= 0 {
		f.interval = DefaultRetryInterval
	}
	if f.policy == nil {
		f.policy = &Policy{}
	}
	if opts.Throttle > 0 {
		f.limiter = rate.NewLimiter(opts.Throttle, 1)
	}
	f.client = opts.Client
	if f.client == nil {
		f.client = &http.Client{}
	}
	if f.client.Timeout == 0 {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		f.client.Timeout = timeout
	}
	if opts.Insecure && f.client.Transport == nil {
		f.client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	return f
}

// Get fetches the URL, retrying transient failures a bounded number of
// times and waiting out rate-limit windows indefinitely. Any other
// non-2xx response is returned as a typed fatal error.
func (f *Fetcher) Get(ctx context.Context, url string) (*Response, error) {
	for {
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		resp, err := f.do(ctx, url)
		if err != nil {
			return nil, err
		}

		decision := f.policy.Inspect(resp)
		switch decision.Action {
		case Proceed:
			return resp, nil
		case Sleep:
			logging.Warn("rate limit exceeded, waiting for the quota window",
				"url", url, "sleep", decision.Delay)
			if err := f.sleep(ctx, decision.Delay); err != nil {
				return nil, err
			}
		case Fatal:
			return nil, decision.Err
		}
	}
}

// do issues one logical request with bounded retry on connection-level
// failures.
func (f *Fetcher) do(ctx context.Context, url string) (*Response, error) {
	var lastErr error
	for attempt := 1; attempt <= f.attempts; attempt++ {
		if attempt > 1 {
			logging.Debug("retrying connection", "url", url, "attempt", attempt)
			if err := f.sleep(ctx, f.interval); err != nil {
				return nil, err
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("invalid request url %q: %w", url, err)
		}
		for key, value := range f.headers {
			req.Header.Set(key, value)
		}

		resp, err := f.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		logging.Debug("response received",
			"url", url, "status", resp.StatusCode, "bytes", len(body))
		return &Response{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Header:     resp.Header,
			Body:       body,
		}, nil
	}
	return nil, report.TransientError(
		fmt.Sprintf("request to %s failed after %d attempts", url, f.attempts), lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
