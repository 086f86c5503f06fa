package config

import (
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"strings"
	"time"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "bridge.api_url")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateServer()...)
	errors = append(errors, c.validateBridge()...)
	errors = append(errors, c.validateMonitor()...)
	errors = append(errors, c.validateDetect()...)
	errors = append(errors, c.validateLogs()...)
	errors = append(errors, c.validateJournal()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

// validateServer validates the ServerConfig
func (c *Config) validateServer() []ValidationError {
	var errors []ValidationError

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "server.port",
			Value:   c.Server.Port,
			Message: "must be between 1 and 65535",
		})
	}

	errors = append(errors, positiveDuration("server.read_header_timeout", c.Server.ReadHeaderTimeout)...)
	errors = append(errors, positiveDuration("server.shutdown_timeout", c.Server.ShutdownTimeout)...)

	return errors
}

// validateBridge validates the BridgeConfig
func (c *Config) validateBridge() []ValidationError {
	var errors []ValidationError

	if strings.TrimSpace(c.Bridge.Command) == "" {
		errors = append(errors, ValidationError{
			Field:   "bridge.command",
			Value:   c.Bridge.Command,
			Message: "must not be empty",
		})
	}

	if strings.TrimSpace(c.Bridge.LogFile) == "" {
		errors = append(errors, ValidationError{
			Field:   "bridge.log_file",
			Value:   c.Bridge.LogFile,
			Message: "must not be empty",
		})
	}

	u, err := url.Parse(c.Bridge.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errors = append(errors, ValidationError{
			Field:   "bridge.api_url",
			Value:   c.Bridge.APIURL,
			Message: "must be an absolute http or https URL",
		})
	}

	errors = append(errors, positiveDuration("bridge.api_timeout", c.Bridge.APITimeout)...)
	errors = append(errors, positiveDuration("bridge.stop_timeout", c.Bridge.StopTimeout)...)

	// Zero restarts immediately
	if c.Bridge.RestartDelay < 0 {
		errors = append(errors, ValidationError{
			Field:   "bridge.restart_delay",
			Value:   c.Bridge.RestartDelay,
			Message: "must be non-negative",
		})
	}

	for key := range c.Bridge.Env {
		if key == "" || strings.Contains(key, "=") {
			errors = append(errors, ValidationError{
				Field:   "bridge.env",
				Value:   key,
				Message: "keys must be non-empty and must not contain '='",
			})
		}
	}

	return errors
}

// validateMonitor validates the MonitorConfig
func (c *Config) validateMonitor() []ValidationError {
	var errors []ValidationError

	errors = append(errors, positiveDuration("monitor.poll_interval", c.Monitor.PollInterval)...)
	errors = append(errors, positiveDuration("monitor.error_backoff", c.Monitor.ErrorBackoff)...)
	errors = append(errors, positiveDuration("monitor.qr_delay_threshold", c.Monitor.QRDelayThreshold)...)

	// A QR block is a few kilobytes; anything smaller cannot hold one
	const minWindowBytes = 4096
	if c.Monitor.WindowBytes < minWindowBytes {
		errors = append(errors, ValidationError{
			Field:   "monitor.window_bytes",
			Value:   c.Monitor.WindowBytes,
			Message: fmt.Sprintf("must be at least %d", minWindowBytes),
		})
	}

	return errors
}

// validateDetect validates the DetectConfig
func (c *Config) validateDetect() []ValidationError {
	var errors []ValidationError

	if c.Detect.AuthenticatedPattern == "" {
		errors = append(errors, ValidationError{
			Field:   "detect.authenticated_pattern",
			Value:   c.Detect.AuthenticatedPattern,
			Message: "must not be empty",
		})
	}

	if c.Detect.QRMarker == "" {
		errors = append(errors, ValidationError{
			Field:   "detect.qr_marker",
			Value:   c.Detect.QRMarker,
			Message: "must not be empty",
		})
	}

	errors = append(errors, validRegex("detect.qr_block_pattern", c.Detect.QRBlockPattern)...)
	errors = append(errors, validRegex("detect.pairing_code_pattern", c.Detect.PairingCodePattern)...)

	return errors
}

// validateLogs validates the LogsConfig
func (c *Config) validateLogs() []ValidationError {
	var errors []ValidationError

	if c.Logs.TailLines < 1 {
		errors = append(errors, ValidationError{
			Field:   "logs.tail_lines",
			Value:   c.Logs.TailLines,
			Message: "must be at least 1",
		})
	}

	return errors
}

// validateJournal validates the JournalConfig
func (c *Config) validateJournal() []ValidationError {
	var errors []ValidationError

	if !c.Journal.Enabled {
		return errors
	}

	if strings.TrimSpace(c.Journal.Path) == "" {
		errors = append(errors, ValidationError{
			Field:   "journal.path",
			Value:   c.Journal.Path,
			Message: "must not be empty when the journal is enabled",
		})
	}

	if c.Journal.MaxEvents < 1 {
		errors = append(errors, ValidationError{
			Field:   "journal.max_events",
			Value:   c.Journal.MaxEvents,
			Message: "must be at least 1",
		})
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	// Max size must be positive
	if c.Logging.MaxSizeMB <= 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be positive",
		})
	}

	const maxLogSizeMB = 1000 // 1GB
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}

func positiveDuration(field string, d time.Duration) []ValidationError {
	if d > 0 {
		return nil
	}
	return []ValidationError{{
		Field:   field,
		Value:   d,
		Message: "must be positive",
	}}
}

// validRegex accepts an empty pattern as "not configured"
func validRegex(field, pattern string) []ValidationError {
	if pattern == "" {
		return nil
	}
	if _, err := regexp.Compile(pattern); err != nil {
		return []ValidationError{{
			Field:   field,
			Value:   pattern,
			Message: fmt.Sprintf("invalid regular expression: %v", err),
		}}
	}
	return nil
}
