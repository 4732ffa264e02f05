package fetch

import (
	"context"
	"time"
)

// MaxBatches caps offset-based pagination as a runaway-loop safety net.
// Reaching the cap is a stopping condition, not an error; the fetch may
// under-report rather than loop forever.
const MaxBatches = 100

// DefaultActivityStep is the default window for date-decrementing feeds.
const DefaultActivityStep = 30 * 24 * time.Hour

// FollowLinks fetches the URL, hands each response to page, and follows
// the next URL the callback returns until it comes back empty. The
// callback decides how the next link is derived so providers with
// non-standard Link parameters stay in control.
func (f *Fetcher) FollowLinks(ctx context.Context, url string, page func(*Response) (string, error)) error {
	for url != "" {
		resp, err := f.Get(ctx, url)
		if err != nil {
			return err
		}
		next, err := page(resp)
		if err != nil {
			return err
		}
		url = next
	}
	return nil
}

// Offset drives offset+limit pagination: url builds the request for one
// batch, page consumes the response and reports whether the server
// signalled the end (an explicit has-next field, a short page, or the
// reported total reached). Stops after MaxBatches regardless.
func (f *Fetcher) Offset(ctx context.Context, url func(batch int) string, page func(batch int, resp *Response) (done bool, err error)) error {
	for batch := 0; batch < MaxBatches; batch++ {
		resp, err := f.Get(ctx, url(batch))
		if err != nil {
			return err
		}
		done, err := page(batch, resp)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
	return nil
}

// DateWindows returns the successive "from" boundaries for feeds that
// only support "activity before date X": starting at until and stepping
// backward until the boundary is at or before since. The caller filters
// each page into the real window.
func DateWindows(since, until time.Time, step time.Duration) []time.Time {
	if step <= 0 {
		step = DefaultActivityStep
	}
	var froms []time.Time
	for from := until; from.After(since); from = from.Add(-step) {
		froms = append(froms, from)
	}
	return froms
}
