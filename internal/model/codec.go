package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Wire types for JSON parsing

// marketDataWire is the wire format for market-data payloads (frame 2).
type marketDataWire struct {
	Symbol    string    `json:"Symbol"`
	Bid       float64   `json:"Bid"`
	Ask       float64   `json:"Ask"`
	Timestamp timestamp `json:"Timestamp"`
}

// statusReportWire is the wire format for status-report payloads.
type statusReportWire struct {
	StrategyID string    `json:"StrategyId"`
	Status     string    `json:"Status"`
	Message    string    `json:"Message"`
	Timestamp  timestamp `json:"Timestamp"`
}

// commandWire is the wire format for command requests.
type commandWire struct {
	CommandName string          `json:"CommandName"`
	Parameters  json.RawMessage `json:"Parameters"`
}

// MarshalJSON encodes MarketData in wire format.
func (m MarketData) MarshalJSON() ([]byte, error) {
	return json.Marshal(marketDataWire{
		Symbol:    m.Symbol,
		Bid:       m.Bid,
		Ask:       m.Ask,
		Timestamp: timestamp(m.Timestamp),
	})
}

// UnmarshalJSON decodes MarketData from wire format.
func (m *MarketData) UnmarshalJSON(data []byte) error {
	if isNull(data) {
		return ErrEmptyPayload
	}
	var wire marketDataWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*m = MarketData{
		Symbol:    wire.Symbol,
		Bid:       wire.Bid,
		Ask:       wire.Ask,
		Timestamp: time.Time(wire.Timestamp),
	}
	return nil
}

// MarshalJSON encodes StatusReport in wire format.
func (r StatusReport) MarshalJSON() ([]byte, error) {
	return json.Marshal(statusReportWire{
		StrategyID: r.StrategyID,
		Status:     r.Status,
		Message:    r.Message,
		Timestamp:  timestamp(r.Timestamp),
	})
}

// UnmarshalJSON decodes StatusReport from wire format.
func (r *StatusReport) UnmarshalJSON(data []byte) error {
	if isNull(data) {
		return ErrEmptyPayload
	}
	var wire statusReportWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*r = StatusReport{
		StrategyID: wire.StrategyID,
		Status:     wire.Status,
		Message:    wire.Message,
		Timestamp:  time.Time(wire.Timestamp),
	}
	return nil
}

// MarshalJSON encodes Command in wire format.
func (c Command) MarshalJSON() ([]byte, error) {
	return json.Marshal(commandWire{
		CommandName: c.Name,
		Parameters:  c.Parameters,
	})
}

// UnmarshalJSON decodes Command from wire format. A null Parameters value
// decodes to nil.
func (c *Command) UnmarshalJSON(data []byte) error {
	if isNull(data) {
		return ErrEmptyPayload
	}
	var wire commandWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	params := wire.Parameters
	if isNull(params) {
		params = nil
	}
	*c = Command{Name: wire.CommandName, Parameters: params}
	return nil
}

// DecodeMarketData parses a market-data payload.
func DecodeMarketData(payload []byte) (MarketData, error) {
	if len(bytes.TrimSpace(payload)) == 0 {
		return MarketData{}, ErrEmptyPayload
	}
	var m MarketData
	if err := json.Unmarshal(payload, &m); err != nil {
		return MarketData{}, fmt.Errorf("decode market data: %w", err)
	}
	return m, nil
}

// DecodeStatusReport parses a status-report payload.
func DecodeStatusReport(payload []byte) (StatusReport, error) {
	if len(bytes.TrimSpace(payload)) == 0 {
		return StatusReport{}, ErrEmptyPayload
	}
	var r StatusReport
	if err := json.Unmarshal(payload, &r); err != nil {
		return StatusReport{}, fmt.Errorf("decode status report: %w", err)
	}
	return r, nil
}

// EncodeCommand serializes a command into a single request frame.
func EncodeCommand(c Command) ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode command %q: %w", c.Name, err)
	}
	return data, nil
}

func isNull(data []byte) bool {
	return bytes.Equal(bytes.TrimSpace(data), []byte("null"))
}

// timestamp accepts RFC 3339 and zone-less ISO-8601 datetimes.
// Zone-less values are taken as UTC.
type timestamp time.Time

// Layouts tried in order for zone-less datetimes.
var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func (t timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Time(t).UTC().Format(time.RFC3339Nano))
}

func (t *timestamp) UnmarshalJSON(data []byte) error {
	if isNull(data) {
		*t = timestamp(time.Time{})
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	parsed, err := parseTimestamp(s)
	if err != nil {
		return err
	}
	*t = timestamp(parsed)
	return nil
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts.UTC(), nil
	}
	for _, layout := range localLayouts {
		if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("timestamp: unrecognized format %q", s)
}
