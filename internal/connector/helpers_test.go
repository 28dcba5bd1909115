package connector

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rickgao/tradebridge/internal/metrics"
	"github.com/rickgao/tradebridge/internal/model"
	"github.com/rickgao/tradebridge/internal/services"
	"github.com/rickgao/tradebridge/internal/status"
	"github.com/rickgao/tradebridge/internal/transport"
	"github.com/rickgao/tradebridge/internal/transport/transporttest"
)

var testEndpoints = model.EndpointConfig{
	MarketDataAddress:   "tcp://127.0.0.1:5556",
	CommandAddress:      "tcp://127.0.0.1:5557",
	StatusReportAddress: "tcp://127.0.0.1:5558",
}

const eurusd = `{"Symbol":"EURUSD","Bid":1.1,"Ask":1.1002,"Timestamp":"2024-01-02T03:04:05Z"}`

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// eventually polls cond until it holds or timeout elapses.
func eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout: %s", msg)
}

// fixture wires a Worker to in-memory sockets and real collaborators.
type fixture struct {
	factory  *transporttest.Factory
	status   *status.Service
	strategy *services.StrategyManager
	perf     *services.PerformanceManager
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	worker   *Worker

	errCh chan error
}

func newFixture(t *testing.T, mutate func(*Config), configure func(*transporttest.Socket)) *fixture {
	t.Helper()

	fx := &fixture{
		factory:  transporttest.NewFactory(),
		status:   status.NewService(status.Options{}, quietLogger()),
		strategy: services.NewStrategyManager(quietLogger()),
		perf:     services.NewPerformanceManager(quietLogger()),
		registry: prometheus.NewRegistry(),
	}
	fx.metrics = metrics.New(fx.registry)
	fx.factory.Configure = configure

	cfg := Config{
		Endpoints:           testEndpoints,
		CommandTimeout:      time.Second,
		ShutdownTimeout:     time.Second,
		ReceiveErrorBackoff: 10 * time.Millisecond,
		ReconnectBaseWait:   10 * time.Millisecond,
		ReconnectMaxWait:    40 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	w, err := NewWorker(cfg, Deps{
		Factory:     fx.factory.Build,
		Status:      fx.status,
		Strategy:    fx.strategy,
		Performance: fx.perf,
		Metrics:     fx.metrics,
	}, quietLogger())
	if err != nil {
		t.Fatalf("NewWorker failed: %v", err)
	}
	fx.worker = w

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		w.Stop(ctx)
	})
	return fx
}

// start runs the worker and waits until it is Running.
func (fx *fixture) start(t *testing.T) {
	t.Helper()
	fx.errCh = make(chan error, 1)
	go func() {
		fx.errCh <- fx.worker.Start(context.Background())
	}()
	eventually(t, 2*time.Second, func() bool {
		return fx.worker.State() == model.StateRunning
	}, "worker never reached running")
}

func (fx *fixture) socket(role transport.Role) *transporttest.Socket {
	return fx.factory.Last(role)
}
