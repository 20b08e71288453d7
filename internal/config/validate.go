package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"unicode"
)

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

// ValidationResult separates problems that make the config unusable from
// values that were clamped back into range.
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

// HasFatals reports whether any fatal problem was found.
func (r ValidationResult) HasFatals() bool {
	return len(r.Fatals) > 0
}

// Validate checks the config and returns all errors found, fatal or not.
func (c *Config) Validate() []error {
	result := c.ValidateTiered()
	return append(result.Fatals, result.Warnings...)
}

// ValidateTiered checks the config. Out-of-range numbers are clamped to safe
// defaults and reported as warnings; malformed URLs and helper names are fatal.
func (c *Config) ValidateTiered() ValidationResult {
	var result ValidationResult

	for key, raw := range map[string]string{
		"nvidia_search_url": c.NVIDIASearchURL,
		"bodhi_url":         c.BodhiURL,
	} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil {
			result.Fatals = append(result.Fatals, fmt.Errorf("%s %q is not a valid URL: %w", key, raw, err))
		} else if u.Scheme != "http" && u.Scheme != "https" {
			result.Fatals = append(result.Fatals, fmt.Errorf("%s scheme must be http or https, got %q", key, u.Scheme))
		}
	}

	// The helper and its task name end up in argv of a privileged process.
	for key, value := range map[string]string{
		"privilege_program": c.PrivilegeProgram,
		"root_helper_task":  c.RootHelperTask,
	} {
		if value == "" {
			result.Fatals = append(result.Fatals, fmt.Errorf("%s must not be empty", key))
			continue
		}
		if strings.ContainsFunc(value, func(r rune) bool { return unicode.IsSpace(r) || unicode.IsControl(r) }) {
			result.Fatals = append(result.Fatals, fmt.Errorf("%s %q must be a single program name", key, value))
		}
	}

	if strings.ContainsFunc(c.UserAgent, unicode.IsControl) {
		result.Fatals = append(result.Fatals, fmt.Errorf("user_agent contains control characters"))
	}

	if c.HTTPTimeoutSeconds < 1 {
		result.Warnings = append(result.Warnings, fmt.Errorf("http_timeout_seconds %d is below minimum 1, clamping", c.HTTPTimeoutSeconds))
		c.HTTPTimeoutSeconds = 1
	} else if c.HTTPTimeoutSeconds > 300 {
		result.Warnings = append(result.Warnings, fmt.Errorf("http_timeout_seconds %d exceeds maximum 300, clamping", c.HTTPTimeoutSeconds))
		c.HTTPTimeoutSeconds = 300
	}

	if c.ChangelogLineLimit < 10 {
		result.Warnings = append(result.Warnings, fmt.Errorf("changelog_line_limit %d is below minimum 10, clamping", c.ChangelogLineLimit))
		c.ChangelogLineLimit = 10
	} else if c.ChangelogLineLimit > 5000 {
		result.Warnings = append(result.Warnings, fmt.Errorf("changelog_line_limit %d exceeds maximum 5000, clamping", c.ChangelogLineLimit))
		c.ChangelogLineLimit = 5000
	}

	if c.MaxVersions < 1 {
		result.Warnings = append(result.Warnings, fmt.Errorf("max_versions %d is below minimum 1, clamping", c.MaxVersions))
		c.MaxVersions = 1
	} else if c.MaxVersions > 50 {
		result.Warnings = append(result.Warnings, fmt.Errorf("max_versions %d exceeds maximum 50, clamping", c.MaxVersions))
		c.MaxVersions = 50
	}

	if c.RefreshIntervalSeconds < 1 {
		result.Warnings = append(result.Warnings, fmt.Errorf("refresh_interval_seconds %d is below minimum 1, clamping", c.RefreshIntervalSeconds))
		c.RefreshIntervalSeconds = 1
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		result.Warnings = append(result.Warnings, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel))
	}

	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		result.Warnings = append(result.Warnings, fmt.Errorf("log_format %q is not valid (use text or json)", c.LogFormat))
	}

	for _, err := range result.Warnings {
		slog.Warn("config validation", "error", err)
	}

	return result
}
