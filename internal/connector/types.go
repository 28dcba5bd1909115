package connector

import (
	"errors"
	"time"

	"github.com/rickgao/tradebridge/internal/metrics"
	"github.com/rickgao/tradebridge/internal/model"
	"github.com/rickgao/tradebridge/internal/transport"
)

// Errors
var (
	ErrAlreadyStarted = errors.New("connector already started")
	ErrReactorRunning = errors.New("reactor already running")
	ErrNoFactory      = errors.New("socket factory required")
)

// StatusSink receives one-way status notifications from the connector.
type StatusSink interface {
	SetChannelStatus(ch model.Channel, status string)
	UpdateMarketData(d model.MarketData)
	UpdateStatusReport(r model.StatusReport)
}

// StrategySink consumes market data and strategy status reports.
type StrategySink interface {
	OnMarketUpdate(d model.MarketData)
	OnStatusUpdate(r model.StatusReport)
}

// PerformanceSink consumes market data.
type PerformanceSink interface {
	OnMarketUpdate(d model.MarketData)
}

// Outcome is how a command round ended.
type Outcome int

const (
	OutcomeReply    Outcome = iota // Reply received
	OutcomeTimeout                 // No reply within the timeout
	OutcomeReleased                // Socket released before or during the round
	OutcomeUnavailable             // No connected socket; nothing was sent
)

func (o Outcome) String() string {
	switch o {
	case OutcomeReply:
		return "reply"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeReleased:
		return "released"
	case OutcomeUnavailable:
		return "unavailable"
	}
	return "unknown"
}

// Result describes a finished command round.
type Result struct {
	Outcome  Outcome
	Reply    string // Reply payload when Outcome is OutcomeReply
	RoundID  string // Log correlation only, never sent
	Duration time.Duration
}

// Config holds worker settings.
type Config struct {
	Endpoints           model.EndpointConfig
	CommandTimeout      time.Duration // Max wait for a command reply
	ShutdownTimeout     time.Duration // Max wait for receivers during teardown
	ReceiveErrorBackoff time.Duration // Pause after a non-teardown receive error
	ReconnectBaseWait   time.Duration // First wait before redialing a lost peer
	ReconnectMaxWait    time.Duration // Cap for the doubling redial wait
	EventBufferSize     int           // Reactor event queue size
	StartupCommand      StartupCommand
}

// StartupCommand is sent once, Delay after Start.
type StartupCommand struct {
	Enabled bool
	Delay   time.Duration
	Command model.Command
}

// Deps are the worker's collaborators. Nil sinks are replaced with no-ops.
type Deps struct {
	Factory     transport.Factory
	Status      StatusSink
	Strategy    StrategySink
	Performance PerformanceSink
	Metrics     *metrics.Metrics
}

// Default values for zero Config fields.
const (
	DefaultCommandTimeout      = 5 * time.Second
	DefaultShutdownTimeout     = 5 * time.Second
	DefaultReceiveErrorBackoff = 100 * time.Millisecond
	DefaultReconnectBaseWait   = 1 * time.Second
	DefaultReconnectMaxWait    = 60 * time.Second
	DefaultEventBufferSize     = 1024
)

func (c *Config) applyDefaults() {
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = DefaultCommandTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.ReceiveErrorBackoff <= 0 {
		c.ReceiveErrorBackoff = DefaultReceiveErrorBackoff
	}
	if c.ReconnectBaseWait <= 0 {
		c.ReconnectBaseWait = DefaultReconnectBaseWait
	}
	if c.ReconnectMaxWait <= 0 {
		c.ReconnectMaxWait = DefaultReconnectMaxWait
	}
	c.ReconnectMaxWait = max(c.ReconnectMaxWait, c.ReconnectBaseWait)
	if c.EventBufferSize <= 0 {
		c.EventBufferSize = DefaultEventBufferSize
	}
}

func (d *Deps) applyDefaults() {
	if d.Status == nil {
		d.Status = nopSink{}
	}
	if d.Strategy == nil {
		d.Strategy = nopSink{}
	}
	if d.Performance == nil {
		d.Performance = nopSink{}
	}
}

// nopSink discards everything.
type nopSink struct{}

func (nopSink) SetChannelStatus(model.Channel, string) {}
func (nopSink) UpdateMarketData(model.MarketData) {}
func (nopSink) UpdateStatusReport(model.StatusReport) {}
func (nopSink) OnMarketUpdate(model.MarketData) {}
func (nopSink) OnStatusUpdate(model.StatusReport) {}
