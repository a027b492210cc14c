package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError is one invalid configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors collects every invalid field.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration and returns ValidationErrors if any
// field is invalid.
func (c *Config) Validate() error {
	var errs ValidationErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if c.KeyFile == "" {
		add("key_file", "must not be empty")
	}
	if c.Database == "" {
		add("database", "must not be empty")
	}
	if len(c.Relays) == 0 {
		add("relays", "at least one relay is required")
	}
	for _, r := range c.Relays {
		if msg := checkRelayURL(r); msg != "" {
			add("relays", "%q: %s", r, msg)
		}
	}
	if c.Timeout <= 0 {
		add("timeout", "must be positive")
	}
	if c.Retries < 0 {
		add("retries", "must not be negative")
	}
	if c.Concurrency < 1 {
		add("concurrency", "must be at least 1")
	}
	if c.PublishRate < 0 {
		add("publish_rate", "must not be negative")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		add("logging.level", "unknown level %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		add("logging.format", "must be text or json, got %q", c.Logging.Format)
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		add("metrics.addr", "required when metrics are enabled")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func checkRelayURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return err.Error()
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "scheme must be ws or wss"
	}
	if u.Host == "" {
		return "missing host"
	}
	return ""
}
