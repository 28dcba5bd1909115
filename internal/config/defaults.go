package config

import (
	"time"

	"github.com/google/uuid"
)

// Default values for optional configuration fields.
const (
	DefaultCommandTimeout      = 5 * time.Second
	DefaultShutdownTimeout     = 5 * time.Second
	DefaultDialTimeout         = 5 * time.Second
	DefaultDialRetry           = 250 * time.Millisecond
	DefaultDialMaxRetries      = -1
	DefaultReceiveErrorBackoff = 100 * time.Millisecond
	DefaultReconnectBaseWait   = 1 * time.Second
	DefaultReconnectMaxWait    = 60 * time.Second
	DefaultEventBufferSize     = 1024
	DefaultStartupCommand      = "GET_ACCOUNT_BALANCE"
	DefaultStartupDelay        = 1 * time.Second
	DefaultSubscriberBuffer    = 64
	DefaultMonitorAddress      = ":8080"
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "text"
)

func (c *ConnectorConfig) applyDefaults() {
	if c.Instance.ID == "" {
		c.Instance.ID = "connector-" + uuid.NewString()[:8]
	}

	// Connector defaults
	if c.Connector.CommandTimeout == 0 {
		c.Connector.CommandTimeout = DefaultCommandTimeout
	}
	if c.Connector.ShutdownTimeout == 0 {
		c.Connector.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.Connector.DialTimeout == 0 {
		c.Connector.DialTimeout = DefaultDialTimeout
	}
	if c.Connector.DialRetry == 0 {
		c.Connector.DialRetry = DefaultDialRetry
	}
	if c.Connector.DialMaxRetries == 0 {
		c.Connector.DialMaxRetries = DefaultDialMaxRetries
	}
	if c.Connector.ReceiveErrorBackoff == 0 {
		c.Connector.ReceiveErrorBackoff = DefaultReceiveErrorBackoff
	}
	if c.Connector.ReconnectBaseWait == 0 {
		c.Connector.ReconnectBaseWait = DefaultReconnectBaseWait
	}
	if c.Connector.ReconnectMaxWait == 0 {
		c.Connector.ReconnectMaxWait = DefaultReconnectMaxWait
	}
	if c.Connector.EventBufferSize == 0 {
		c.Connector.EventBufferSize = DefaultEventBufferSize
	}
	if c.Connector.StartupCommand.Name == "" && !c.Connector.StartupCommand.Disabled {
		c.Connector.StartupCommand.Name = DefaultStartupCommand
	}
	if c.Connector.StartupCommand.Delay == 0 {
		c.Connector.StartupCommand.Delay = DefaultStartupDelay
	}

	// Status defaults
	if c.Status.SubscriberBuffer == 0 {
		c.Status.SubscriberBuffer = DefaultSubscriberBuffer
	}

	// Monitor defaults
	if c.Monitor.Address == "" {
		c.Monitor.Address = DefaultMonitorAddress
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}
