package model

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Errors
var (
	ErrInvalidEndpoints = errors.New("invalid endpoint configuration")
	ErrEmptyPayload     = errors.New("empty payload")
)

// -----------------------------------------------------------------------------
// Inbound Types
// -----------------------------------------------------------------------------

// MarketData is a single top-of-book quote from the market-data broadcast.
type MarketData struct {
	Symbol    string    // Instrument symbol (e.g., "EURUSD")
	Bid       float64   // Best bid
	Ask       float64   // Best ask
	Timestamp time.Time // Publisher timestamp (UTC)
}

// Spread returns Ask - Bid.
func (m MarketData) Spread() float64 {
	return m.Ask - m.Bid
}

// StatusReport is a strategy status message pushed by the trading engine.
type StatusReport struct {
	StrategyID string    // Strategy identifier
	Status     string    // e.g., "RUNNING", "STOPPED"
	Message    string    // Free-form detail
	Timestamp  time.Time // Publisher timestamp (UTC)
}

// -----------------------------------------------------------------------------
// Outbound Types
// -----------------------------------------------------------------------------

// Command is a request sent over the command channel.
// Parameters are opaque to the connector; nil encodes as JSON null.
type Command struct {
	Name       string
	Parameters json.RawMessage
}

// NewCommand builds a Command, marshalling params when non-nil.
func NewCommand(name string, params any) (Command, error) {
	cmd := Command{Name: name}
	if params == nil {
		return cmd, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return Command{}, err
	}
	cmd.Parameters = raw
	return cmd, nil
}

// -----------------------------------------------------------------------------
// Endpoints and Channels
// -----------------------------------------------------------------------------

// EndpointConfig holds the three transport addresses of the bus.
type EndpointConfig struct {
	MarketDataAddress   string `yaml:"market_data_address"`
	CommandAddress      string `yaml:"command_address"`
	StatusReportAddress string `yaml:"status_report_address"`
}

// Validate returns an error wrapping ErrInvalidEndpoints naming every
// missing address.
func (e EndpointConfig) Validate() error {
	var missing []string
	if strings.TrimSpace(e.MarketDataAddress) == "" {
		missing = append(missing, "market_data_address")
	}
	if strings.TrimSpace(e.CommandAddress) == "" {
		missing = append(missing, "command_address")
	}
	if strings.TrimSpace(e.StatusReportAddress) == "" {
		missing = append(missing, "status_report_address")
	}
	if len(missing) > 0 {
		return &EndpointError{Missing: missing}
	}
	return nil
}

// Address returns the configured address for a channel.
func (e EndpointConfig) Address(ch Channel) string {
	switch ch {
	case ChannelMarketData:
		return e.MarketDataAddress
	case ChannelCommand:
		return e.CommandAddress
	case ChannelStatusReport:
		return e.StatusReportAddress
	}
	return ""
}

// EndpointError reports missing endpoint addresses.
type EndpointError struct {
	Missing []string
}

func (e *EndpointError) Error() string {
	return "endpoints: " + strings.Join(e.Missing, ", ") + " required"
}

// Unwrap lets callers match with errors.Is(err, ErrInvalidEndpoints).
func (e *EndpointError) Unwrap() error {
	return ErrInvalidEndpoints
}

// Channel identifies one of the three bus channels.
type Channel string

const (
	ChannelMarketData   Channel = "market_data"
	ChannelCommand      Channel = "command"
	ChannelStatusReport Channel = "status_report"
)

// Channels lists all channels in a stable order.
var Channels = []Channel{ChannelMarketData, ChannelCommand, ChannelStatusReport}

// -----------------------------------------------------------------------------
// Connector State
// -----------------------------------------------------------------------------

// ConnectorState is the lifecycle state of the connector worker.
type ConnectorState int

const (
	StateCreated ConnectorState = iota
	StateInitializing
	StateConnecting
	StateRunning
	StateStopping
	StateStopped
	StateFailed
)

var stateNames = [...]string{
	StateCreated:      "created",
	StateInitializing: "initializing",
	StateConnecting:   "connecting",
	StateRunning:      "running",
	StateStopping:     "stopping",
	StateStopped:      "stopped",
	StateFailed:       "failed",
}

func (s ConnectorState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// MarshalText encodes the state by name.
func (s ConnectorState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether the worker can no longer make progress.
func (s ConnectorState) Terminal() bool {
	return s == StateStopped || s == StateFailed
}

// Status strings reported per channel.
const (
	StatusInitializing = "Initializing"
	StatusDisconnected = "Disconnected"
)

// ConnectedStatus formats the status string for a connected channel.
func ConnectedStatus(address string) string {
	return "Connected to " + address
}

// ErrorStatus formats the status string for a failed channel.
func ErrorStatus(err error) string {
	return "Error: " + err.Error()
}
