package config

import (
	"fmt"
	"log/slog"
	"net"
	"strings"
)

const (
	minCommandTimeoutSeconds = 1
	maxCommandTimeoutSeconds = 1800
	minOutputLines           = 1
	maxOutputLines           = 1000000
)

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

// ValidationResult separates errors that must stop startup from ones that
// were corrected in place.
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

// HasFatals reports whether any fatal error was found.
func (r ValidationResult) HasFatals() bool {
	return len(r.Fatals) > 0
}

// AllErrors returns fatals followed by warnings.
func (r ValidationResult) AllErrors() []error {
	all := make([]error, 0, len(r.Fatals)+len(r.Warnings))
	all = append(all, r.Fatals...)
	all = append(all, r.Warnings...)
	return all
}

// Validate checks the config and returns every problem found. Out-of-range
// values are clamped to safe defaults; see ValidateTiered for severities.
func (c *Config) Validate() []error {
	return c.ValidateTiered().AllErrors()
}

// ValidateTiered validates the config, clamping recoverable values and
// logging warnings.
func (c *Config) ValidateTiered() ValidationResult {
	var r ValidationResult
	d := Default()

	if strings.TrimSpace(c.DataFile) == "" {
		r.Fatals = append(r.Fatals, fmt.Errorf("data_file must not be empty"))
	}

	if c.ListenAddr != "" {
		if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
			r.Fatals = append(r.Fatals, fmt.Errorf("listen_addr %q is not host:port: %w", c.ListenAddr, err))
		}
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel))
	}

	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_format %q is not valid (use text or json)", c.LogFormat))
	}

	if c.LogMaxSizeMB < 1 {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_max_size_mb %d is below minimum 1, using %d", c.LogMaxSizeMB, d.LogMaxSizeMB))
		c.LogMaxSizeMB = d.LogMaxSizeMB
	}
	if c.LogMaxBackups < 0 {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_max_backups %d is negative, clamping to 0", c.LogMaxBackups))
		c.LogMaxBackups = 0
	}

	s := &c.Scan
	if s.CommandTimeoutSeconds < minCommandTimeoutSeconds {
		r.Warnings = append(r.Warnings, fmt.Errorf("scan.command_timeout_seconds %d is below minimum %d, clamping", s.CommandTimeoutSeconds, minCommandTimeoutSeconds))
		s.CommandTimeoutSeconds = minCommandTimeoutSeconds
	} else if s.CommandTimeoutSeconds > maxCommandTimeoutSeconds {
		r.Warnings = append(r.Warnings, fmt.Errorf("scan.command_timeout_seconds %d exceeds maximum %d, clamping", s.CommandTimeoutSeconds, maxCommandTimeoutSeconds))
		s.CommandTimeoutSeconds = maxCommandTimeoutSeconds
	}

	if s.MaxOutputLines < minOutputLines {
		r.Warnings = append(r.Warnings, fmt.Errorf("scan.max_output_lines %d is below minimum %d, clamping", s.MaxOutputLines, minOutputLines))
		s.MaxOutputLines = minOutputLines
	} else if s.MaxOutputLines > maxOutputLines {
		r.Warnings = append(r.Warnings, fmt.Errorf("scan.max_output_lines %d exceeds maximum %d, clamping", s.MaxOutputLines, maxOutputLines))
		s.MaxOutputLines = maxOutputLines
	}

	if len(s.RegistryRoots) == 0 {
		r.Warnings = append(r.Warnings, fmt.Errorf("scan.registry_roots is empty, using defaults"))
		s.RegistryRoots = d.Scan.RegistryRoots
	}
	if strings.TrimSpace(s.RegTool) == "" {
		r.Warnings = append(r.Warnings, fmt.Errorf("scan.reg_tool is empty, using %q", d.Scan.RegTool))
		s.RegTool = d.Scan.RegTool
	}
	if strings.TrimSpace(s.SubkeyPrefix) == "" {
		r.Warnings = append(r.Warnings, fmt.Errorf("scan.subkey_prefix is empty, using %q", d.Scan.SubkeyPrefix))
		s.SubkeyPrefix = d.Scan.SubkeyPrefix
	}
	if strings.TrimSpace(s.ValueSeparator) == "" {
		r.Warnings = append(r.Warnings, fmt.Errorf("scan.value_separator is empty, using %q", d.Scan.ValueSeparator))
		s.ValueSeparator = d.Scan.ValueSeparator
	}
	if strings.TrimSpace(s.RichQueryScript) == "" {
		r.Warnings = append(r.Warnings, fmt.Errorf("scan.rich_query_script is empty, using default"))
		s.RichQueryScript = d.Scan.RichQueryScript
	}

	for _, err := range r.Warnings {
		slog.Warn("config validation", "error", err)
	}
	return r
}
