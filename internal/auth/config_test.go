package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSectionDefaults(t *testing.T) {
	cfg, err := ParseSection("wiki", map[string]string{}, "https://wiki.example.com")
	require.NoError(t, err)
	assert.Equal(t, TypeGSS, cfg.Type)
	assert.False(t, cfg.Insecure)
	assert.Equal(t, 60*time.Second, cfg.Timeout)
}

func TestParseSectionBasic(t *testing.T) {
	cfg, err := ParseSection("wiki", map[string]string{
		"auth_type":     "basic",
		"auth_username": "jane",
		"auth_password": "secret",
		"auth_url":      "https://wiki.example.com/rest/auth/latest/session",
	}, "https://wiki.example.com")
	require.NoError(t, err)
	assert.Equal(t, TypeBasic, cfg.Type)
	assert.Equal(t, "jane", cfg.Username)
	assert.Equal(t, "secret", cfg.Password)
	assert.Equal(t, "https://wiki.example.com/rest/auth/latest/session", cfg.AuthURL)
}

func TestParseSectionToken(t *testing.T) {
	cfg, err := ParseSection("wiki", map[string]string{
		"auth_type":        "token",
		"token":            "abc",
		"token_name":       "reporting",
		"token_expiration": "30",
	}, "https://wiki.example.com")
	require.NoError(t, err)
	assert.Equal(t, TypeToken, cfg.Type)
	assert.Equal(t, "abc", cfg.Token)
	assert.Equal(t, "reporting", cfg.TokenName)
	assert.Equal(t, 30, cfg.TokenExpiration)
}

func TestParseSectionRejectsInvalidCombinations(t *testing.T) {
	testCases := []struct {
		name    string
		section map[string]string
	}{
		{"unsupported type", map[string]string{"auth_type": "oauth"}},
		{"basic without username", map[string]string{"auth_type": "basic", "auth_password": "x"}},
		{"basic without password", map[string]string{"auth_type": "basic", "auth_username": "jane"}},
		{"username outside basic", map[string]string{"auth_username": "jane"}},
		{"password outside basic", map[string]string{"auth_password": "x"}},
		{"password file outside basic", map[string]string{"auth_password_file": "/tmp/x"}},
		{"token mode without token", map[string]string{"auth_type": "token"}},
		{"token name without expiration", map[string]string{
			"auth_type": "token", "token": "abc", "token_name": "reporting"}},
		{"expiration without name", map[string]string{
			"auth_type": "token", "token": "abc", "token_expiration": "30"}},
		{"expiration not a number", map[string]string{
			"auth_type": "token", "token": "abc",
			"token_name": "reporting", "token_expiration": "soon"}},
		{"invalid ssl_verify", map[string]string{"ssl_verify": "perhaps"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseSection("wiki", tc.section, "https://wiki.example.com")
			assert.Error(t, err)
		})
	}
}

func TestParseSectionInsecure(t *testing.T) {
	cfg, err := ParseSection("wiki", map[string]string{"ssl_verify": "false"},
		"https://wiki.example.com")
	require.NoError(t, err)
	assert.True(t, cfg.Insecure)
}
