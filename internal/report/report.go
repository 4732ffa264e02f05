// Package report defines the shared vocabulary of a report run: the user
// whose activity is queried, the date window limiting it, the connector
// contract, and the typed errors connectors surface.
package report

import (
	"context"
	"fmt"
	"time"

	"github.com/whatdid/whatdid/pkg/models"
)

// DateFormat is the calendar-date layout used in queries and flags.
const DateFormat = "2006-01-02"

// User identifies the person whose activity is being queried. Immutable
// for the whole run.
type User struct {
	// Login is the account name used in provider queries.
	Login string

	// Email is the address used where providers match authors by email.
	Email string

	// Name is the full display name, used by providers that match the
	// human-readable "from" field.
	Name string
}

// String returns the user for log messages.
func (u User) String() string {
	if u.Name != "" && u.Email != "" {
		return fmt.Sprintf("%s <%s>", u.Name, u.Email)
	}
	if u.Email != "" {
		return u.Email
	}
	return u.Login
}

// DateWindow is a half-open interval [Since, Until) over calendar dates.
// Both bounds are midnights in UTC. Connectors must not mutate a window;
// provider-specific boundary adjustments happen on derived values.
type DateWindow struct {
	Since time.Time
	Until time.Time
}

// NewWindow parses since/until calendar dates into a window.
func NewWindow(since, until string) (DateWindow, error) {
	s, err := time.ParseInLocation(DateFormat, since, time.UTC)
	if err != nil {
		return DateWindow{}, fmt.Errorf("invalid since date %q: %w", since, err)
	}
	u, err := time.ParseInLocation(DateFormat, until, time.UTC)
	if err != nil {
		return DateWindow{}, fmt.Errorf("invalid until date %q: %w", until, err)
	}
	if !u.After(s) {
		return DateWindow{}, fmt.Errorf("until date %q is not after since date %q", until, since)
	}
	return DateWindow{Since: s, Until: u}, nil
}

// Contains reports whether the timestamp falls inside the half-open
// interval [Since, Until).
func (w DateWindow) Contains(t time.Time) bool {
	return !t.Before(w.Since) && t.Before(w.Until)
}

// ContainsDate reports whether the calendar date of t falls inside the
// window, with both boundary dates inclusive. Used by providers whose
// records carry dates rather than instants.
func (w DateWindow) ContainsDate(t time.Time) bool {
	d := t.Truncate(24 * time.Hour)
	return !d.Before(w.Since) && !d.After(w.Until)
}

// SinceDate returns the lower bound formatted as a calendar date.
func (w DateWindow) SinceDate() string {
	return w.Since.Format(DateFormat)
}

// UntilDate returns the upper bound formatted as a calendar date.
func (w DateWindow) UntilDate() string {
	return w.Until.Format(DateFormat)
}

// Section is one named group of result items produced by a connector stat.
type Section struct {
	// Title is the human-readable heading, e.g. "Issues created on github".
	Title string

	// Items are the deduplicated results for this stat.
	Items []models.Item
}

// Connector queries one remote service for the user's activity. A
// connector owns its session and caches exclusively; instances are not
// shared and never queried concurrently.
type Connector interface {
	// Name returns the config section this connector was built from.
	Name() string

	// Fetch collects all stats for the user within the window. Any error
	// other than a per-candidate enrichment failure aborts the whole
	// connector; partial per-stat output is not returned alongside an error.
	Fetch(ctx context.Context, user User, window DateWindow) ([]Section, error)
}
