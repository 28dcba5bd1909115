package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
// Missing endpoints are reported as a model.EndpointError so callers can
// match model.ErrInvalidEndpoints.
func (c *ConnectorConfig) Validate() error {
	if err := c.Endpoints.Validate(); err != nil {
		return err
	}

	if c.Connector.CommandTimeout <= 0 {
		return errors.New("connector.command_timeout must be > 0")
	}
	if c.Connector.ShutdownTimeout <= 0 {
		return errors.New("connector.shutdown_timeout must be > 0")
	}
	if c.Connector.DialMaxRetries < -1 {
		return errors.New("connector.dial_max_retries must be -1 or >= 0")
	}
	if c.Connector.ReconnectBaseWait <= 0 {
		return errors.New("connector.reconnect_base_wait must be > 0")
	}
	if c.Connector.ReconnectMaxWait < c.Connector.ReconnectBaseWait {
		return errors.New("connector.reconnect_max_wait must be >= reconnect_base_wait")
	}
	if c.Connector.EventBufferSize < 1 {
		return errors.New("connector.event_buffer_size must be >= 1")
	}
	if c.Connector.StartupCommand.Delay < 0 {
		return errors.New("connector.startup_command.delay must be >= 0")
	}

	if c.Status.SubscriberBuffer < 1 {
		return errors.New("status.subscriber_buffer must be >= 1")
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	return nil
}

// ParseLevel converts a config level name to a slog.Level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("log.level must be debug, info, warn or error, got %q", level)
}
