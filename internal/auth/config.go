package auth

import (
	"strconv"
	"strings"

	"github.com/whatdid/whatdid/internal/config"
	"github.com/whatdid/whatdid/internal/report"
)

// ParseSection resolves the shared auth configuration of a connector
// section: auth type, credentials with their file fallbacks, and the
// optional token expiration check. Field combinations that do not match
// the selected auth type are configuration errors.
func ParseSection(section string, cfg map[string]string, baseURL string) (Config, error) {
	parsed := Config{
		Section: section,
		BaseURL: baseURL,
		AuthURL: cfg["auth_url"],
		Type:    TypeGSS,
	}

	if value, ok := cfg["auth_type"]; ok {
		switch Type(value) {
		case TypeGSS, TypeBasic, TypeToken:
			parsed.Type = Type(value)
		default:
			return Config{}, report.ConfigError(section,
				"unsupported authentication type: %s", value)
		}
	}

	if parsed.Type == TypeBasic {
		username, ok := cfg["auth_username"]
		if !ok || strings.TrimSpace(username) == "" {
			return Config{}, report.ConfigError(section,
				"`auth_username` not set in the [%s] section", section)
		}
		parsed.Username = username
		password, err := config.Secret(cfg, "auth_password")
		if err != nil {
			return Config{}, report.ConfigError(section, "%v", err)
		}
		if password == "" {
			return Config{}, report.ConfigError(section,
				"`auth_password` or `auth_password_file` must be set in the [%s] section", section)
		}
		parsed.Password = password
	} else {
		if _, ok := cfg["auth_username"]; ok {
			return Config{}, report.ConfigError(section,
				"`auth_username` is only valid for basic authentication (section [%s])", section)
		}
		if _, ok := cfg["auth_password"]; ok {
			return Config{}, report.ConfigError(section,
				"`auth_password` and `auth_password_file` are only valid for basic authentication (section [%s])", section)
		}
		if _, ok := cfg["auth_password_file"]; ok {
			return Config{}, report.ConfigError(section,
				"`auth_password` and `auth_password_file` are only valid for basic authentication (section [%s])", section)
		}
	}

	if parsed.Type == TypeToken {
		token, err := config.Secret(cfg, "token")
		if err != nil {
			return Config{}, report.ConfigError(section, "%v", err)
		}
		if token == "" {
			return Config{}, report.ConfigError(section,
				"the `token` or `token_file` key must be set in the [%s] section", section)
		}
		parsed.Token = token

		_, hasExpiration := cfg["token_expiration"]
		_, hasName := cfg["token_name"]
		if hasExpiration || hasName {
			if !hasExpiration || !hasName {
				return Config{}, report.ConfigError(section,
					"`token_name` and `token_expiration` must be set at the same time in the [%s] section", section)
			}
			expiration, err := strconv.Atoi(strings.TrimSpace(cfg["token_expiration"]))
			if err != nil {
				return Config{}, report.ConfigError(section,
					"`token_expiration` must contain a number in the [%s] section", section)
			}
			parsed.TokenExpiration = expiration
			parsed.TokenName = cfg["token_name"]
		}
	}

	insecure, err := config.Bool(cfg, "ssl_verify", true)
	if err != nil {
		return Config{}, report.ConfigError(section, "%v", err)
	}
	parsed.Insecure = !insecure

	timeout, err := config.Timeout(cfg)
	if err != nil {
		return Config{}, report.ConfigError(section, "%v", err)
	}
	parsed.Timeout = timeout

	return parsed, nil
}
