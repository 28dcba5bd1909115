package config

import (
	"time"

	"github.com/rickgao/tradebridge/internal/model"
)

// ConnectorConfig is the root configuration for a connector instance.
type ConnectorConfig struct {
	Instance  InstanceConfig       `yaml:"instance"`
	Endpoints model.EndpointConfig `yaml:"endpoints"`
	Connector WorkerConfig         `yaml:"connector"`
	Status    StatusConfig         `yaml:"status"`
	Monitor   MonitorConfig        `yaml:"monitor"`
	Log       LogConfig            `yaml:"log"`
}

// InstanceConfig identifies this connector.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// WorkerConfig holds connector worker settings.
type WorkerConfig struct {
	CommandTimeout      time.Duration        `yaml:"command_timeout"`
	ShutdownTimeout     time.Duration        `yaml:"shutdown_timeout"`
	DialTimeout         time.Duration        `yaml:"dial_timeout"`
	DialRetry           time.Duration        `yaml:"dial_retry"`
	DialMaxRetries      int                  `yaml:"dial_max_retries"` // -1 retries until stopped
	ReceiveErrorBackoff time.Duration        `yaml:"receive_error_backoff"`
	ReconnectBaseWait   time.Duration        `yaml:"reconnect_base_wait"`
	ReconnectMaxWait    time.Duration        `yaml:"reconnect_max_wait"`
	EventBufferSize     int                  `yaml:"event_buffer_size"`
	StartupCommand      StartupCommandConfig `yaml:"startup_command"`
}

// StartupCommandConfig describes the one-shot command sent after start.
// An empty Name disables it.
type StartupCommandConfig struct {
	Name       string        `yaml:"name"`
	Delay      time.Duration `yaml:"delay"`
	Parameters any           `yaml:"parameters"`
	Disabled   bool          `yaml:"disabled"`
}

// StatusConfig holds status sink settings. The recent logs always keep 10
// entries.
type StatusConfig struct {
	SubscriberBuffer int `yaml:"subscriber_buffer"`
}

// MonitorConfig holds the HTTP monitoring server settings.
type MonitorConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Address string `yaml:"address"`
}

// IsEnabled reports whether the monitor server should run (default true).
func (m MonitorConfig) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}
