package connector

import (
	"errors"
	"net"
	"testing"

	"github.com/go-zeromq/zmq4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rickgao/tradebridge/internal/metrics"
	"github.com/rickgao/tradebridge/internal/model"
	"github.com/rickgao/tradebridge/internal/services"
	"github.com/rickgao/tradebridge/internal/status"
	"github.com/rickgao/tradebridge/internal/transport"
)

func newInbound() (*inbound, *status.Service, *services.StrategyManager, *services.PerformanceManager) {
	st := status.NewService(status.Options{}, quietLogger())
	strat := services.NewStrategyManager(quietLogger())
	perf := services.NewPerformanceManager(quietLogger())
	h := &inbound{
		logger:      quietLogger(),
		status:      st,
		strategy:    strat,
		performance: perf,
		metrics:     metrics.New(prometheus.NewRegistry()),
		isTeardown:  transport.IsClosedError,
	}
	return h, st, strat, perf
}

func frames(parts ...string) zmq4.Msg {
	bs := make([][]byte, len(parts))
	for i, p := range parts {
		bs[i] = []byte(p)
	}
	return zmq4.NewMsgFrom(bs...)
}

func TestHandleMarketData_Forwards(t *testing.T) {
	h, st, strat, perf := newInbound()

	h.handleMarketData(Delivery{Channel: model.ChannelMarketData, Msg: frames("EURUSD", eurusd)})

	last := st.Snapshot().LastMarketData
	if last == nil || last.Symbol != "EURUSD" || last.Bid != 1.1 || last.Ask != 1.1002 {
		t.Fatalf("last market data = %+v", last)
	}
	if strat.Stats().MarketUpdates != 1 {
		t.Errorf("strategy market updates = %d, want 1", strat.Stats().MarketUpdates)
	}
	if perf.Stats().MarketUpdates != 1 {
		t.Errorf("performance market updates = %d, want 1", perf.Stats().MarketUpdates)
	}
}

func TestHandleMarketData_Drops(t *testing.T) {
	tests := []struct {
		name string
		msg  zmq4.Msg
	}{
		{"zero frames", zmq4.Msg{}},
		{"one frame", frames(eurusd)},
		{"three frames", frames("EURUSD", eurusd, "extra")},
		{"malformed json", frames("EURUSD", `{"Symbol":`)},
		{"not json", frames("EURUSD", "hello")},
		{"null payload", frames("EURUSD", "null")},
		{"empty payload", frames("EURUSD", "")},
		{"wrong types", frames("EURUSD", `{"Symbol":"X","Bid":"high"}`)},
		{"bad timestamp", frames("EURUSD", `{"Symbol":"X","Timestamp":"yesterday"}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, st, strat, _ := newInbound()

			// Seed a known last value.
			h.handleMarketData(Delivery{Msg: frames("EURUSD", eurusd)})
			before := *st.Snapshot().LastMarketData

			h.handleMarketData(Delivery{Channel: model.ChannelMarketData, Msg: tt.msg})

			after := st.Snapshot().LastMarketData
			if after == nil || *after != before {
				t.Errorf("last value changed: before %+v, after %+v", before, after)
			}
			if strat.Stats().MarketUpdates != 1 {
				t.Errorf("strategy saw %d updates, want 1", strat.Stats().MarketUpdates)
			}
		})
	}
}

func TestHandleStatusReport(t *testing.T) {
	h, st, strat, _ := newInbound()

	payload := `{"StrategyId":"S1","Status":"RUNNING","Message":"ok","Timestamp":"2024-01-02T03:04:05.1234567"}`
	h.handleStatusReport(Delivery{Channel: model.ChannelStatusReport, Msg: frames(payload)})

	last := st.Snapshot().LastStatusReport
	if last == nil || last.StrategyID != "S1" || last.Status != "RUNNING" {
		t.Fatalf("last status report = %+v", last)
	}
	if strat.Stats().StatusUpdates != 1 {
		t.Errorf("strategy status updates = %d, want 1", strat.Stats().StatusUpdates)
	}

	// Extra frames are ignored, first frame still decoded.
	h.handleStatusReport(Delivery{Msg: frames(`{"StrategyId":"S2","Status":"STOPPED"}`, "trailer")})
	if got := st.Snapshot().LastStatusReport.StrategyID; got != "S2" {
		t.Errorf("StrategyID = %q, want S2", got)
	}

	// Malformed leaves the last value alone.
	h.handleStatusReport(Delivery{Msg: frames("{broken")})
	if got := st.Snapshot().LastStatusReport.StrategyID; got != "S2" {
		t.Errorf("StrategyID after malformed = %q, want S2", got)
	}

	h.handleStatusReport(Delivery{Msg: zmq4.Msg{}})
	if strat.Stats().StatusUpdates != 2 {
		t.Errorf("strategy status updates = %d, want 2", strat.Stats().StatusUpdates)
	}
}

func TestHandlers_TransportErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"teardown", net.ErrClosed},
		{"released", transport.ErrReleased},
		{"real fault", errors.New("connection reset")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, st, strat, _ := newInbound()

			h.handleMarketData(Delivery{Channel: model.ChannelMarketData, Err: tt.err})
			h.handleStatusReport(Delivery{Channel: model.ChannelStatusReport, Err: tt.err})

			snap := st.Snapshot()
			if snap.LastMarketData != nil || snap.LastStatusReport != nil {
				t.Error("transport error produced a value")
			}
			if strat.Stats().MarketUpdates != 0 || strat.Stats().StatusUpdates != 0 {
				t.Error("transport error reached the strategy")
			}
		})
	}
}
