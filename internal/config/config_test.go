package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.ini")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadAndSections(t *testing.T) {
	path := writeConfig(t, `
[general]
email = Jane Doe <jane@example.com>

[gh]
type = github
url = https://api.github.com/

[issues]
type = jira
url = https://issues.example.com
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	sections := cfg.Sections()
	assert.Equal(t, []string{"gh", "issues"}, sections)

	section := cfg.Section("gh")
	assert.Equal(t, "github", section["type"])
	assert.Equal(t, "https://api.github.com/", section["url"])
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.ini"))
	assert.Error(t, err)
}

func TestUser(t *testing.T) {
	path := writeConfig(t, `
[general]
email = Jane Doe <jane@example.com>
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	user, err := cfg.User()
	require.NoError(t, err)
	assert.Equal(t, "jane@example.com", user.Email)
	assert.Equal(t, "Jane Doe", user.Name)
	// Login defaults to the local part of the address.
	assert.Equal(t, "jane", user.Login)
}

func TestUserLoginOverride(t *testing.T) {
	path := writeConfig(t, `
[general]
email = jane@example.com
login = jdoe
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	user, err := cfg.User()
	require.NoError(t, err)
	assert.Equal(t, "jdoe", user.Login)
}

func TestUserMissingEmail(t *testing.T) {
	path := writeConfig(t, `
[general]
login = jdoe
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	_, err = cfg.User()
	assert.Error(t, err)
}

func TestSecretInlineHasPriority(t *testing.T) {
	tokenFile := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(tokenFile, []byte("file-token\n"), 0o600))

	secret, err := Secret(map[string]string{
		"token":      "inline-token",
		"token_file": tokenFile,
	}, "token")
	require.NoError(t, err)
	assert.Equal(t, "inline-token", secret)
}

func TestSecretFromFile(t *testing.T) {
	tokenFile := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(tokenFile, []byte("  file-token\n"), 0o600))

	secret, err := Secret(map[string]string{"token_file": tokenFile}, "token")
	require.NoError(t, err)
	assert.Equal(t, "file-token", secret)
}

func TestSecretAbsent(t *testing.T) {
	secret, err := Secret(map[string]string{}, "token")
	require.NoError(t, err)
	assert.Equal(t, "", secret)

	// A blank inline value does not shadow the file.
	tokenFile := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(tokenFile, []byte("file-token"), 0o600))
	secret, err = Secret(map[string]string{
		"token":      "   ",
		"token_file": tokenFile,
	}, "token")
	require.NoError(t, err)
	assert.Equal(t, "file-token", secret)
}

func TestSecretUnreadableFile(t *testing.T) {
	_, err := Secret(map[string]string{
		"token_file": filepath.Join(t.TempDir(), "missing"),
	}, "token")
	assert.Error(t, err)
}

func TestBool(t *testing.T) {
	testCases := []struct {
		value    string
		expected bool
		invalid  bool
	}{
		{"true", true, false},
		{"True", true, false},
		{"yes", true, false},
		{"on", true, false},
		{"1", true, false},
		{"false", false, false},
		{"no", false, false},
		{"off", false, false},
		{"0", false, false},
		{"maybe", false, true},
	}
	for _, tc := range testCases {
		got, err := Bool(map[string]string{"key": tc.value}, "key", true)
		if tc.invalid {
			assert.Error(t, err, tc.value)
			continue
		}
		require.NoError(t, err, tc.value)
		assert.Equal(t, tc.expected, got, tc.value)
	}
}

func TestBoolFallback(t *testing.T) {
	got, err := Bool(map[string]string{}, "key", true)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = Bool(map[string]string{}, "key", false)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestTimeout(t *testing.T) {
	timeout, err := Timeout(map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeout, timeout)

	timeout, err = Timeout(map[string]string{"timeout": "10"})
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, timeout)

	timeout, err = Timeout(map[string]string{"timeout": "0.5"})
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, timeout)

	_, err = Timeout(map[string]string{"timeout": "soon"})
	assert.Error(t, err)
}

func TestSplit(t *testing.T) {
	assert.Nil(t, Split(""))
	assert.Equal(t, []string{"a", "b", "c"}, Split("a, b ,c"))
	assert.Equal(t, []string{"one"}, Split("one,"))
}

func TestDefaultPathFromEnvironment(t *testing.T) {
	t.Setenv("WHATDID_CONFIG", "/tmp/custom.ini")
	assert.Equal(t, "/tmp/custom.ini", DefaultPath())
}
