package report

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	err := AuthError("jira", "authentication failed", "try kinit", nil)
	assert.Equal(t, "[jira] authentication failed (try kinit)", err.Error())

	err = MalformedError("bad json")
	assert.Equal(t, "bad json", err.Error())
}

func TestErrorKindMatching(t *testing.T) {
	err := fmt.Errorf("fetching: %w", TransientError("gave up", errors.New("reset")))

	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindTransient, kind)

	assert.True(t, errors.Is(err, &Error{Kind: KindTransient}))
	assert.False(t, errors.Is(err, &Error{Kind: KindAuth}))

	_, ok = KindOf(errors.New("plain"))
	assert.False(t, ok)
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := TransientError("gave up", cause)
	assert.True(t, errors.Is(err, cause))
}

func TestInSection(t *testing.T) {
	assert.NoError(t, InSection(nil, "gh"))

	// A typed error without a section gets stamped.
	err := InSection(MalformedError("bad json"), "gh")
	var re *Error
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "gh", re.Section)

	// An already stamped error keeps its original section.
	err = InSection(ConfigError("jira", "no url"), "gh")
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "jira", re.Section)

	// A plain error is wrapped with the section name.
	err = InSection(errors.New("boom"), "gh")
	assert.Contains(t, err.Error(), "[gh]")
}
