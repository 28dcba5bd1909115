package connector

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-zeromq/zmq4"

	"github.com/rickgao/tradebridge/internal/metrics"
	"github.com/rickgao/tradebridge/internal/model"
	"github.com/rickgao/tradebridge/internal/transport"
)

// Delivery is one receive result from a registered socket.
type Delivery struct {
	Channel    model.Channel
	Msg        zmq4.Msg
	Err        error     // Non-nil if Recv failed
	ReceivedAt time.Time // Captured right after Recv returns
}

// Handler processes a delivery on the dispatch goroutine.
type Handler func(Delivery)

// Reconnect replaces a socket after cause, a non-teardown receive error. It
// blocks until a new socket is ready or ctx is cancelled when the reactor
// stops.
type Reconnect func(ctx context.Context, cause error) (transport.Socket, error)

// ReactorOptions configures a Reactor.
type ReactorOptions struct {
	BufferSize int           // Event queue size shared by all receivers
	Backoff    time.Duration // Pause after a non-teardown receive error

	// IsTeardown reports whether a receive error means the socket is gone.
	// Defaults to transport.IsClosedError.
	IsTeardown func(error) bool

	Metrics *metrics.Metrics
}

type registration struct {
	channel   model.Channel
	sock      transport.Socket // Owned by the receiver goroutine once running
	handler   Handler
	reconnect Reconnect
}

type event struct {
	reg      *registration
	delivery Delivery
}

// Reactor multiplexes inbound sockets onto a single dispatch goroutine.
// A Reactor runs once.
type Reactor struct {
	opts   ReactorOptions
	logger *slog.Logger

	mu   sync.Mutex
	regs []*registration

	events   chan event
	stop     chan struct{}
	stopOnce sync.Once
	ctx      context.Context // Cancelled by Stop
	cancel   context.CancelFunc
	running  atomic.Bool
	wg       sync.WaitGroup // receivers

	dispatched atomic.Int64
	panics     atomic.Int64
}

// NewReactor creates a Reactor with no registrations.
func NewReactor(opts ReactorOptions, logger *slog.Logger) *Reactor {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultEventBufferSize
	}
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultReceiveErrorBackoff
	}
	if opts.IsTeardown == nil {
		opts.IsTeardown = transport.IsClosedError
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Reactor{
		opts:   opts,
		logger: logger.With("component", "reactor"),
		events: make(chan event, opts.BufferSize),
		stop:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Register adds a socket and its handler. Registration is closed once Run
// has started.
func (r *Reactor) Register(ch model.Channel, sock transport.Socket, h Handler) error {
	return r.RegisterReconnecting(ch, sock, h, nil)
}

// RegisterReconnecting is Register with a reconnect hook. After a receive
// error that is not a teardown, the error is dispatched and then rc
// replaces the socket. A nil rc keeps the socket and pauses for the
// configured backoff instead.
func (r *Reactor) RegisterReconnecting(ch model.Channel, sock transport.Socket, h Handler, rc Reconnect) error {
	if r.running.Load() {
		return ErrReactorRunning
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.regs = append(r.regs, &registration{channel: ch, sock: sock, handler: h, reconnect: rc})
	return nil
}

// Run dispatches deliveries until ctx is cancelled or Stop is called.
// Handlers run on the calling goroutine.
func (r *Reactor) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return ErrReactorRunning
	}

	stopOnCancel := context.AfterFunc(ctx, r.Stop)
	defer stopOnCancel()

	r.mu.Lock()
	regs := append([]*registration(nil), r.regs...)
	r.mu.Unlock()

	for _, reg := range regs {
		r.wg.Add(1)
		go r.receive(reg)
	}

	r.logger.Info("reactor started", "sockets", len(regs))

	for {
		select {
		case <-r.stop:
			r.logger.Info("reactor stopped",
				"dispatched", r.dispatched.Load(),
				"panics", r.panics.Load(),
			)
			return nil
		case ev := <-r.events:
			r.dispatch(ev)
		}
	}
}

// Stop asks Run to return. Safe to call more than once.
func (r *Reactor) Stop() {
	r.stopOnce.Do(func() {
		close(r.stop)
		r.cancel()
	})
}

// Wait blocks until every receiver goroutine has exited or timeout elapses.
// Receivers exit once their socket is closed. Returns false on timeout.
func (r *Reactor) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (r *Reactor) stopped() bool {
	select {
	case <-r.stop:
		return true
	default:
		return false
	}
}

// receive forwards Recv results for one socket until the reactor stops or
// the socket is torn down.
func (r *Reactor) receive(reg *registration) {
	defer r.wg.Done()

	for {
		msg, err := reg.sock.Recv()
		receivedAt := time.Now()

		if r.stopped() {
			return
		}

		ev := event{
			reg: reg,
			delivery: Delivery{
				Channel:    reg.channel,
				Msg:        msg,
				Err:        err,
				ReceivedAt: receivedAt,
			},
		}

		select {
		case r.events <- ev:
		case <-r.stop:
			return
		}

		if err == nil {
			continue
		}
		if r.opts.IsTeardown(err) {
			return
		}

		if reg.reconnect != nil {
			sock, rerr := reg.reconnect(r.ctx, err)
			if rerr != nil {
				if !r.stopped() {
					r.logger.Warn("receiver giving up", "channel", reg.channel, "error", rerr)
				}
				return
			}
			reg.sock = sock
			continue
		}

		select {
		case <-time.After(r.opts.Backoff):
		case <-r.stop:
			return
		}
	}
}

// dispatch runs one handler, recovering panics.
func (r *Reactor) dispatch(ev event) {
	defer func() {
		if p := recover(); p != nil {
			r.panics.Add(1)
			r.opts.Metrics.HandlerPanic(ev.reg.channel)
			r.logger.Error("handler panic recovered",
				"channel", ev.reg.channel,
				"panic", p,
			)
		}
	}()

	r.dispatched.Add(1)
	ev.reg.handler(ev.delivery)
}
