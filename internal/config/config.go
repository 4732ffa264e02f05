// Package config provides centralized configuration management for the
// application: the INI config file with one section per connector, plus
// helpers for resolving secrets and typed option values.
package config

import (
	"fmt"
	"net/mail"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/whatdid/whatdid/internal/report"
)

// GeneralSection holds the user identity; every other section configures
// one connector.
const GeneralSection = "general"

// DefaultTimeout is the per-request timeout applied when a section does
// not set one.
const DefaultTimeout = 60 * time.Second

// Config wraps the parsed INI configuration file.
type Config struct {
	v    *viper.Viper
	path string
}

// DefaultPath returns the config file location: WHATDID_CONFIG if set,
// otherwise ~/.config/whatdid/config.ini.
func DefaultPath() string {
	if path := os.Getenv("WHATDID_CONFIG"); path != "" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.ini"
	}
	return filepath.Join(home, ".config", "whatdid", "config.ini")
}

// Load reads and parses the INI config file at the given path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("ini")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("unable to read the config file %q: %w", path, err)
	}
	return &Config{v: v, path: path}, nil
}

// Path returns the location the configuration was loaded from.
func (c *Config) Path() string {
	return c.path
}

// Sections returns all connector section names in stable order, excluding
// [general].
func (c *Config) Sections() []string {
	var sections []string
	for key, value := range c.v.AllSettings() {
		if key == GeneralSection {
			continue
		}
		if _, ok := value.(map[string]any); !ok {
			continue
		}
		sections = append(sections, key)
	}
	sort.Strings(sections)
	return sections
}

// Section returns the string key/value mapping of one section.
func (c *Config) Section(name string) map[string]string {
	return c.v.GetStringMapString(name)
}

// User resolves the reported user from the [general] section. The email
// key is required and may carry a display name ("Name Surname <email>");
// login defaults to the local part of the address.
func (c *Config) User() (report.User, error) {
	general := c.Section(GeneralSection)
	email := strings.TrimSpace(general["email"])
	if email == "" {
		return report.User{}, report.ConfigError(
			GeneralSection, "no email address set in the [%s] section", GeneralSection)
	}
	user := report.User{Email: email}
	if address, err := mail.ParseAddress(email); err == nil {
		user.Name = address.Name
		user.Email = address.Address
	}
	if at := strings.Index(user.Email, "@"); at > 0 {
		user.Login = user.Email[:at]
	}
	if login := strings.TrimSpace(general["login"]); login != "" {
		user.Login = login
	}
	return user, nil
}

// Secret resolves a secret for the given key: the inline value has
// priority over the companion "<key>_file" path, the result is trimmed of
// whitespace, and a blank value counts as absent.
func Secret(section map[string]string, key string) (string, error) {
	if value := strings.TrimSpace(section[key]); value != "" {
		return value, nil
	}
	path := strings.TrimSpace(section[key+"_file"])
	if path == "" {
		return "", nil
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("unable to expand %q: %w", path, err)
		}
		path = filepath.Join(home, path[2:])
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("unable to read the %s file %q: %w", key, path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Bool parses a configured boolean ("1/0/true/false/yes/no/on/off"),
// returning fallback when the key is absent.
func Bool(section map[string]string, key string, fallback bool) (bool, error) {
	value, ok := section[key]
	if !ok || strings.TrimSpace(value) == "" {
		return fallback, nil
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on", "y", "t":
		return true, nil
	case "0", "false", "no", "off", "n", "f":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean value %q for %q", value, key)
}

// Timeout parses the per-section request timeout in seconds, defaulting
// to DefaultTimeout.
func Timeout(section map[string]string) (time.Duration, error) {
	value, ok := section["timeout"]
	if !ok || strings.TrimSpace(value) == "" {
		return DefaultTimeout, nil
	}
	seconds, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout value %q: %w", value, err)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

// Split parses a comma-separated option value into trimmed fields.
func Split(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
