package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rickgao/tradebridge/internal/model"
)

const namespace = "tradebridge"

// Metrics holds the connector's collectors.
type Metrics struct {
	messagesReceived *prometheus.CounterVec
	decodeErrors     *prometheus.CounterVec
	transportErrors  *prometheus.CounterVec
	handlerPanics    *prometheus.CounterVec
	reconnects       *prometheus.CounterVec
	commandRounds    *prometheus.CounterVec
	commandDuration  prometheus.Histogram
	connectorState   prometheus.Gauge
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		messagesReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_received_total",
				Help:      "Inbound messages decoded successfully",
			},
			[]string{"channel"},
		),
		decodeErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decode_errors_total",
				Help:      "Inbound messages dropped because they could not be decoded",
			},
			[]string{"channel"},
		),
		transportErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transport_errors_total",
				Help:      "Socket receive errors that were not part of teardown",
			},
			[]string{"channel"},
		),
		handlerPanics: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "handler_panics_total",
				Help:      "Panics recovered in inbound handlers",
			},
			[]string{"channel"},
		),
		reconnects: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconnects_total",
				Help:      "Sockets replaced by a fresh dial after a lost peer or reply",
			},
			[]string{"channel"},
		),
		commandRounds: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "command_rounds_total",
				Help:      "Command request/reply rounds by outcome",
			},
			[]string{"outcome"},
		),
		commandDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "command_round_seconds",
				Help:      "Duration of command rounds from send to reply or timeout",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
		),
		connectorState: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "connector_state",
				Help:      "Connector lifecycle state (0=created ... 5=stopped, 6=failed)",
			},
		),
	}
}

// MessageReceived counts a decoded inbound message.
func (m *Metrics) MessageReceived(ch model.Channel) {
	if m == nil {
		return
	}
	m.messagesReceived.WithLabelValues(string(ch)).Inc()
}

// DecodeError counts a dropped, undecodable message.
func (m *Metrics) DecodeError(ch model.Channel) {
	if m == nil {
		return
	}
	m.decodeErrors.WithLabelValues(string(ch)).Inc()
}

// TransportError counts a non-teardown receive error.
func (m *Metrics) TransportError(ch model.Channel) {
	if m == nil {
		return
	}
	m.transportErrors.WithLabelValues(string(ch)).Inc()
}

// HandlerPanic counts a recovered handler panic.
func (m *Metrics) HandlerPanic(ch model.Channel) {
	if m == nil {
		return
	}
	m.handlerPanics.WithLabelValues(string(ch)).Inc()
}

// Reconnected counts a socket that was redialed.
func (m *Metrics) Reconnected(ch model.Channel) {
	if m == nil {
		return
	}
	m.reconnects.WithLabelValues(string(ch)).Inc()
}

// CommandRound records one command round.
func (m *Metrics) CommandRound(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.commandRounds.WithLabelValues(outcome).Inc()
	m.commandDuration.Observe(d.Seconds())
}

// SetState records the connector state.
func (m *Metrics) SetState(s model.ConnectorState) {
	if m == nil {
		return
	}
	m.connectorState.Set(float64(s))
}
