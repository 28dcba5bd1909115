package connector

import (
	"log/slog"

	"github.com/rickgao/tradebridge/internal/metrics"
	"github.com/rickgao/tradebridge/internal/model"
)

// maxLoggedPayload caps how much of a bad payload is logged.
const maxLoggedPayload = 256

// inbound decodes deliveries and forwards them to collaborators.
type inbound struct {
	logger      *slog.Logger
	status      StatusSink
	strategy    StrategySink
	performance PerformanceSink
	metrics     *metrics.Metrics
	isTeardown  func(error) bool
}

// handleMarketData expects two frames: topic, then a JSON MarketData.
func (h *inbound) handleMarketData(d Delivery) {
	if d.Err != nil {
		h.transportError(d)
		return
	}

	frames := d.Msg.Frames
	if len(frames) == 0 {
		return
	}
	if len(frames) != 2 {
		h.logger.Warn("unexpected market data frame count, dropping",
			"frames", len(frames),
		)
		h.metrics.DecodeError(model.ChannelMarketData)
		return
	}

	data, err := model.DecodeMarketData(frames[1])
	if err != nil {
		h.logger.Warn("cannot decode market data, dropping",
			"topic", string(frames[0]),
			"payload", truncate(frames[1]),
			"error", err,
		)
		h.metrics.DecodeError(model.ChannelMarketData)
		return
	}

	h.logger.Debug("market data",
		"symbol", data.Symbol,
		"bid", data.Bid,
		"ask", data.Ask,
		"timestamp", data.Timestamp,
	)

	h.metrics.MessageReceived(model.ChannelMarketData)
	h.strategy.OnMarketUpdate(data)
	h.performance.OnMarketUpdate(data)
	h.status.UpdateMarketData(data)
}

// handleStatusReport expects one JSON StatusReport frame.
func (h *inbound) handleStatusReport(d Delivery) {
	if d.Err != nil {
		h.transportError(d)
		return
	}

	frames := d.Msg.Frames
	if len(frames) == 0 {
		return
	}
	if len(frames) > 1 {
		h.logger.Warn("ignoring extra status report frames", "frames", len(frames))
	}

	report, err := model.DecodeStatusReport(frames[0])
	if err != nil {
		h.logger.Warn("cannot decode status report, dropping",
			"payload", truncate(frames[0]),
			"error", err,
		)
		h.metrics.DecodeError(model.ChannelStatusReport)
		return
	}

	h.logger.Info("status report",
		"strategy_id", report.StrategyID,
		"status", report.Status,
		"message", report.Message,
		"timestamp", report.Timestamp,
	)

	h.metrics.MessageReceived(model.ChannelStatusReport)
	h.strategy.OnStatusUpdate(report)
	h.status.UpdateStatusReport(report)
}

func (h *inbound) transportError(d Delivery) {
	if h.isTeardown(d.Err) {
		h.logger.Debug("receive stopped by teardown", "channel", d.Channel, "error", d.Err)
		return
	}
	h.metrics.TransportError(d.Channel)
	h.logger.Error("receive error", "channel", d.Channel, "error", d.Err)
}

func truncate(b []byte) string {
	if len(b) > maxLoggedPayload {
		return string(b[:maxLoggedPayload]) + "..."
	}
	return string(b)
}
