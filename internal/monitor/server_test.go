package monitor

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rickgao/tradebridge/internal/metrics"
	"github.com/rickgao/tradebridge/internal/model"
	"github.com/rickgao/tradebridge/internal/status"
)

type fakeState struct {
	state atomic.Int32
}

func (f *fakeState) State() model.ConnectorState {
	return model.ConnectorState(f.state.Load())
}

func (f *fakeState) set(s model.ConnectorState) {
	f.state.Store(int32(s))
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T) (*Server, *fakeState, *status.Service, *metrics.Metrics) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	st := &fakeState{}
	svc := status.NewService(status.Options{}, quietLogger())
	srv := NewServer(Options{Address: "127.0.0.1:0"}, st, svc, reg, quietLogger())
	return srv, st, svc, m
}

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		state      model.ConnectorState
		wantCode   int
		wantStatus string
	}{
		{model.StateRunning, http.StatusOK, "healthy"},
		{model.StateCreated, http.StatusOK, "degraded"},
		{model.StateConnecting, http.StatusOK, "degraded"},
		{model.StateStopping, http.StatusOK, "degraded"},
		{model.StateFailed, http.StatusServiceUnavailable, "unhealthy"},
		{model.StateStopped, http.StatusServiceUnavailable, "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			srv, st, svc, _ := newTestServer(t)
			st.set(tt.state)
			svc.SetChannelStatus(model.ChannelCommand, model.ConnectedStatus("tcp://127.0.0.1:5557"))

			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tt.wantCode)
			}

			var body struct {
				Status   string            `json:"status"`
				State    string            `json:"state"`
				Channels map[string]string `json:"channels"`
			}
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", body.Status, tt.wantStatus)
			}
			if body.State != tt.state.String() {
				t.Errorf("state = %q, want %q", body.State, tt.state.String())
			}
			if got := body.Channels["command"]; got != "Connected to tcp://127.0.0.1:5557" {
				t.Errorf("command channel = %q", got)
			}
		})
	}
}

func TestStatusHandler(t *testing.T) {
	srv, _, svc, _ := newTestServer(t)
	svc.UpdateMarketData(model.MarketData{
		Symbol:    "EURUSD",
		Bid:       1.1,
		Ask:       1.1002,
		Timestamp: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var snap status.Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.LastMarketData == nil || snap.LastMarketData.Symbol != "EURUSD" {
		t.Errorf("LastMarketData = %+v", snap.LastMarketData)
	}
	if len(snap.RecentMarketData) != 1 {
		t.Errorf("RecentMarketData = %d entries, want 1", len(snap.RecentMarketData))
	}
}

func TestMetricsHandler(t *testing.T) {
	srv, _, _, m := newTestServer(t)
	m.MessageReceived(model.ChannelMarketData)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `tradebridge_messages_received_total{channel="market_data"} 1`) {
		t.Errorf("metrics output missing counter:\n%s", rec.Body.String())
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("code = %d, want 405", rec.Code)
	}
}

func dialStream(t *testing.T, baseURL string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(baseURL, "http") + "/ws/status"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) streamMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg streamMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func TestStatusStream(t *testing.T) {
	srv, _, svc, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn := dialStream(t, ts.URL)

	first := readMessage(t, conn)
	if first.Type != "snapshot" || first.Snapshot == nil {
		t.Fatalf("first message = %+v, want snapshot", first)
	}
	if got := first.Snapshot.Channels[model.ChannelMarketData]; got != model.StatusInitializing {
		t.Errorf("snapshot market data status = %q", got)
	}

	svc.SetChannelStatus(model.ChannelMarketData, model.ConnectedStatus("tcp://127.0.0.1:5556"))
	svc.UpdateStatusReport(model.StatusReport{StrategyID: "S1", Status: "RUNNING"})

	ev := readMessage(t, conn)
	if ev.Type != "event" || ev.Event == nil {
		t.Fatalf("message = %+v, want event", ev)
	}
	if ev.Event.Kind != status.EventChannelStatus || ev.Event.Status != "Connected to tcp://127.0.0.1:5556" {
		t.Errorf("event = %+v", ev.Event)
	}

	ev = readMessage(t, conn)
	if ev.Event == nil || ev.Event.Kind != status.EventStatusReport || ev.Event.StatusReport.StrategyID != "S1" {
		t.Errorf("event = %+v", ev.Event)
	}
}

func TestStatusStream_ClientGoneUnsubscribes(t *testing.T) {
	srv, _, svc, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn := dialStream(t, ts.URL)
	readMessage(t, conn)

	if svc.Subscribers() != 1 {
		t.Fatalf("Subscribers() = %d, want 1", svc.Subscribers())
	}

	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for svc.Subscribers() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if svc.Subscribers() != 0 {
		t.Errorf("Subscribers() = %d after client left, want 0", svc.Subscribers())
	}
}

func TestServer_StartStop(t *testing.T) {
	srv, st, _, _ := newTestServer(t)
	st.set(model.StateRunning)

	if err := srv.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	addr := srv.Addr()
	if addr == "" {
		t.Fatal("Addr() empty after Start")
	}

	resp, err := http.Get("http://" + addr + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("code = %d", resp.StatusCode)
	}

	conn := dialStream(t, "http://"+addr)
	readMessage(t, conn)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	// The stream is closed by the server.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("read after Stop error = %v, want going-away close", err)
	}
}
