package report

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whatdid/whatdid/pkg/models"
)

type stubConnector struct {
	name     string
	sections []Section
	err      error
}

func (s *stubConnector) Name() string { return s.name }

func (s *stubConnector) Fetch(context.Context, User, DateWindow) ([]Section, error) {
	return s.sections, s.err
}

func testWindow(t *testing.T) DateWindow {
	t.Helper()
	window, err := NewWindow("2024-01-01", "2024-01-08")
	require.NoError(t, err)
	return window
}

func TestRunnerPrintsSectionsInConfigOrder(t *testing.T) {
	var out bytes.Buffer
	runner := &Runner{
		Connectors: []Connector{
			&stubConnector{name: "gh", sections: []Section{
				{Title: "Issues created on gh", Items: []models.Item{
					models.Issue{Owner: "org", Project: "repo", Number: "1", Title: "first"},
					models.Issue{Owner: "org", Project: "repo", Number: "1", Title: "first"},
					models.Issue{Owner: "org", Project: "repo", Number: "2", Title: "second"},
				}},
			}},
			&stubConnector{name: "issues", sections: []Section{
				{Title: "Issues resolved in issues"},
			}},
		},
		Options: models.RenderOptions{Format: models.FormatPlain},
		Out:     &out,
	}

	user := User{Login: "jane", Email: "jane@example.com"}
	require.NoError(t, runner.Run(context.Background(), user, testWindow(t)))

	output := out.String()
	assert.Contains(t, output,
		"Status report for jane@example.com (2024-01-01 to 2024-01-08).")
	assert.Contains(t, output, "[gh]")
	assert.Contains(t, output, "[issues]")
	assert.Less(t, strings.Index(output, "[gh]"), strings.Index(output, "[issues]"))

	// Duplicates merged before counting.
	assert.Contains(t, output, "* Issues created on gh: 2")
	assert.Contains(t, output, "    org/repo#001 - first")
	assert.Contains(t, output, "* Issues resolved in issues: 0")
}

func TestRunnerContinuesPastFailingConnector(t *testing.T) {
	var out bytes.Buffer
	runner := &Runner{
		Connectors: []Connector{
			&stubConnector{name: "broken", err: errors.New("boom")},
			&stubConnector{name: "working", sections: []Section{
				{Title: "Results", Items: []models.Item{models.Line("something")}},
			}},
		},
		Out: &out,
	}

	require.NoError(t, runner.Run(context.Background(), User{Login: "jane"}, testWindow(t)))

	output := out.String()
	assert.Contains(t, output, "* Error: boom")
	assert.Contains(t, output, "* Results: 1")
}

func TestRunnerFailsWhenEverythingFails(t *testing.T) {
	var out bytes.Buffer
	runner := &Runner{
		Connectors: []Connector{
			&stubConnector{name: "one", err: errors.New("boom")},
			&stubConnector{name: "two", err: errors.New("bang")},
		},
		Out: &out,
	}

	err := runner.Run(context.Background(), User{Login: "jane"}, testWindow(t))
	assert.Error(t, err)
}
