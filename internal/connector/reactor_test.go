package connector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rickgao/tradebridge/internal/model"
	"github.com/rickgao/tradebridge/internal/transport"
	"github.com/rickgao/tradebridge/internal/transport/transporttest"
)

// collector records deliveries from the dispatch goroutine.
type collector struct {
	mu  sync.Mutex
	got []Delivery
}

func (c *collector) handle(d Delivery) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, d)
}

func (c *collector) deliveries() []Delivery {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Delivery(nil), c.got...)
}

func runReactor(t *testing.T, r *Reactor) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, errCh
}

func TestReactor_PreservesPerSocketOrder(t *testing.T) {
	r := NewReactor(ReactorOptions{}, quietLogger())
	sub := transporttest.NewSocket(transport.RoleSubscribe)
	pull := transporttest.NewSocket(transport.RolePull)

	var md, sr collector
	r.Register(model.ChannelMarketData, sub, md.handle)
	r.Register(model.ChannelStatusReport, pull, sr.handle)
	runReactor(t, r)

	for i := 0; i < 50; i++ {
		sub.Push("topic", string(rune('a'+i%26)))
		pull.Push(string(rune('A' + i%26)))
	}

	eventually(t, 2*time.Second, func() bool {
		return len(md.deliveries()) == 50 && len(sr.deliveries()) == 50
	}, "not all deliveries dispatched")

	for i, d := range md.deliveries() {
		if d.Channel != model.ChannelMarketData {
			t.Fatalf("delivery %d channel = %s", i, d.Channel)
		}
		if want := string(rune('a' + i%26)); string(d.Msg.Frames[1]) != want {
			t.Fatalf("market delivery %d = %q, want %q", i, d.Msg.Frames[1], want)
		}
		if d.ReceivedAt.IsZero() {
			t.Fatalf("delivery %d missing ReceivedAt", i)
		}
	}
	for i, d := range sr.deliveries() {
		if want := string(rune('A' + i%26)); string(d.Msg.Frames[0]) != want {
			t.Fatalf("status delivery %d = %q, want %q", i, d.Msg.Frames[0], want)
		}
	}
}

func TestReactor_HandlersRunSerially(t *testing.T) {
	r := NewReactor(ReactorOptions{}, quietLogger())
	sub := transporttest.NewSocket(transport.RoleSubscribe)
	pull := transporttest.NewSocket(transport.RolePull)

	var (
		mu       sync.Mutex
		inside   int
		overlaps int
		total    int
	)
	h := func(Delivery) {
		mu.Lock()
		inside++
		if inside > 1 {
			overlaps++
		}
		mu.Unlock()

		time.Sleep(time.Millisecond)

		mu.Lock()
		inside--
		total++
		mu.Unlock()
	}
	r.Register(model.ChannelMarketData, sub, h)
	r.Register(model.ChannelStatusReport, pull, h)
	runReactor(t, r)

	for i := 0; i < 20; i++ {
		sub.Push("t", "x")
		pull.Push("y")
	}

	eventually(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return total == 40
	}, "handlers did not finish")

	if overlaps != 0 {
		t.Errorf("handlers overlapped %d times", overlaps)
	}
}

func TestReactor_RecoversHandlerPanic(t *testing.T) {
	r := NewReactor(ReactorOptions{}, quietLogger())
	sub := transporttest.NewSocket(transport.RoleSubscribe)

	var c collector
	r.Register(model.ChannelMarketData, sub, func(d Delivery) {
		if string(d.Msg.Frames[0]) == "boom" {
			panic("handler exploded")
		}
		c.handle(d)
	})
	runReactor(t, r)

	sub.Push("boom")
	sub.Push("fine")

	eventually(t, time.Second, func() bool {
		return len(c.deliveries()) == 1
	}, "reactor stopped dispatching after panic")

	if r.panics.Load() != 1 {
		t.Errorf("panics = %d, want 1", r.panics.Load())
	}
}

func TestReactor_StopsOnCancel(t *testing.T) {
	r := NewReactor(ReactorOptions{}, quietLogger())
	sub := transporttest.NewSocket(transport.RoleSubscribe)
	r.Register(model.ChannelMarketData, sub, func(Delivery) {})

	cancel, errCh := runReactor(t, r)
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	// Receiver stays blocked in Recv until the socket closes.
	sub.Close()
	if !r.Wait(time.Second) {
		t.Error("receiver did not exit after socket close")
	}

	r.Stop() // idempotent
}

func TestReactor_RunTwice(t *testing.T) {
	r := NewReactor(ReactorOptions{}, quietLogger())
	_, errCh := runReactor(t, r)

	eventually(t, time.Second, func() bool { return r.running.Load() }, "reactor not running")

	if err := r.Run(context.Background()); !errors.Is(err, ErrReactorRunning) {
		t.Errorf("second Run error = %v, want ErrReactorRunning", err)
	}
	if err := r.Register(model.ChannelMarketData, transporttest.NewSocket(transport.RolePull), func(Delivery) {}); !errors.Is(err, ErrReactorRunning) {
		t.Errorf("Register after Run error = %v, want ErrReactorRunning", err)
	}

	r.Stop()
	<-errCh
}

func TestReactor_ReceiveErrors(t *testing.T) {
	r := NewReactor(ReactorOptions{Backoff: 5 * time.Millisecond}, quietLogger())
	pull := transporttest.NewSocket(transport.RolePull)

	var c collector
	r.Register(model.ChannelStatusReport, pull, c.handle)
	runReactor(t, r)

	// A real fault is delivered, then receiving resumes after the backoff.
	pull.PushErr(errors.New("connection reset"))
	eventually(t, time.Second, func() bool {
		return len(c.deliveries()) == 1
	}, "receive error not delivered")
	pull.Push("after fault")

	eventually(t, time.Second, func() bool {
		return len(c.deliveries()) == 2
	}, "receiver did not resume after fault")

	got := c.deliveries()
	if got[0].Err == nil {
		t.Error("first delivery should carry the receive error")
	}
	if got[1].Err != nil || string(got[1].Msg.Frames[0]) != "after fault" {
		t.Errorf("second delivery = %+v", got[1])
	}

	// A teardown error ends the receiver.
	pull.PushErr(transport.ErrReleased)
	if !r.Wait(time.Second) {
		t.Error("receiver kept running after teardown error")
	}
}

func TestReactor_ReconnectReplacesSocket(t *testing.T) {
	r := NewReactor(ReactorOptions{}, quietLogger())
	first := transporttest.NewSocket(transport.RoleSubscribe)
	second := transporttest.NewSocket(transport.RoleSubscribe)

	var causes []error
	var mu sync.Mutex
	rc := func(ctx context.Context, cause error) (transport.Socket, error) {
		mu.Lock()
		causes = append(causes, cause)
		mu.Unlock()
		return second, nil
	}

	var c collector
	r.RegisterReconnecting(model.ChannelMarketData, first, c.handle, rc)
	runReactor(t, r)

	lost := errors.New("EOF")
	first.PushErr(lost)
	second.Push("topic", "after reconnect")

	eventually(t, time.Second, func() bool {
		return len(c.deliveries()) == 2
	}, "receiver did not move to the new socket")

	got := c.deliveries()
	if !errors.Is(got[0].Err, lost) {
		t.Errorf("first delivery error = %v, want %v", got[0].Err, lost)
	}
	if string(got[1].Msg.Frames[1]) != "after reconnect" {
		t.Errorf("second delivery = %q", got[1].Msg.Frames[1])
	}

	mu.Lock()
	defer mu.Unlock()
	if len(causes) != 1 || !errors.Is(causes[0], lost) {
		t.Errorf("reconnect causes = %v, want [%v]", causes, lost)
	}
}

func TestReactor_StopCancelsReconnect(t *testing.T) {
	r := NewReactor(ReactorOptions{}, quietLogger())
	pull := transporttest.NewSocket(transport.RolePull)

	entered := make(chan struct{})
	rc := func(ctx context.Context, cause error) (transport.Socket, error) {
		close(entered)
		<-ctx.Done()
		return nil, ctx.Err()
	}

	var c collector
	r.RegisterReconnecting(model.ChannelStatusReport, pull, c.handle, rc)
	_, errCh := runReactor(t, r)

	pull.PushErr(errors.New("connection reset"))
	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("reconnect not called")
	}

	r.Stop()
	<-errCh
	if !r.Wait(time.Second) {
		t.Error("receiver still blocked in reconnect after Stop")
	}
}
