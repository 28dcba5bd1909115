package connector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/tradebridge/internal/model"
	"github.com/rickgao/tradebridge/internal/transport"
)

// Worker owns the connector lifecycle.
type Worker struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger

	sockets  *transport.SocketSet
	commands *CommandChannel
	reactor  *Reactor
	inbound  *inbound

	mu    sync.RWMutex
	state model.ConnectorState

	started  atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewWorker validates cfg and builds a Worker. No socket exists until Start.
func NewWorker(cfg Config, deps Deps, logger *slog.Logger) (*Worker, error) {
	if err := cfg.Endpoints.Validate(); err != nil {
		return nil, fmt.Errorf("connector config: %w", err)
	}
	if deps.Factory == nil {
		return nil, ErrNoFactory
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg.applyDefaults()
	deps.applyDefaults()
	logger = logger.With("component", "connector")

	sockets := transport.NewSocketSet(cfg.Endpoints, deps.Factory, logger)

	w := &Worker{
		cfg:      cfg,
		deps:     deps,
		logger:   logger,
		sockets:  sockets,
		commands: NewCommandChannel(sockets, cfg.CommandTimeout, deps.Status, deps.Metrics, logger),
		reactor: NewReactor(ReactorOptions{
			BufferSize: cfg.EventBufferSize,
			Backoff:    cfg.ReceiveErrorBackoff,
			IsTeardown: sockets.IsTeardown,
			Metrics:    deps.Metrics,
		}, logger),
		inbound: &inbound{
			logger:      logger,
			status:      deps.Status,
			strategy:    deps.Strategy,
			performance: deps.Performance,
			metrics:     deps.Metrics,
			isTeardown:  sockets.IsTeardown,
		},
		state:  model.StateCreated,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	deps.Metrics.SetState(model.StateCreated)

	return w, nil
}

// Start creates and connects the sockets, then dispatches inbound messages
// until ctx is cancelled or Stop is called. It returns nil after a clean
// shutdown and the cause after an initialization failure.
func (w *Worker) Start(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	defer close(w.done)

	select {
	case <-w.stopCh:
		w.setState(model.StateStopped)
		return nil
	default:
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	w.setState(model.StateInitializing)
	for _, ch := range model.Channels {
		w.deps.Status.SetChannelStatus(ch, model.StatusInitializing)
	}

	if err := w.sockets.Create(ctx); err != nil {
		return w.fail(fmt.Errorf("initialize sockets: %w", err))
	}

	w.setState(model.StateConnecting)
	if err := w.sockets.Connect(ctx); err != nil {
		w.sockets.Close()
		if ctx.Err() != nil || errors.Is(err, transport.ErrReleased) {
			w.logger.Info("connect interrupted by shutdown", "error", err)
			for _, ch := range model.Channels {
				w.deps.Status.SetChannelStatus(ch, model.StatusDisconnected)
			}
			w.setState(model.StateStopped)
			return nil
		}
		return w.fail(fmt.Errorf("connect sockets: %w", err))
	}
	for _, ch := range model.Channels {
		w.deps.Status.SetChannelStatus(ch, model.ConnectedStatus(w.cfg.Endpoints.Address(ch)))
	}

	if err := w.register(); err != nil {
		w.sockets.Close()
		return w.fail(err)
	}

	g, gctx := errgroup.WithContext(ctx)
	if w.cfg.StartupCommand.Enabled {
		g.Go(func() error {
			w.runStartupCommand(gctx)
			return nil
		})
	}

	w.setState(model.StateRunning)
	w.logger.Info("connector running",
		"market_data", w.cfg.Endpoints.MarketDataAddress,
		"command", w.cfg.Endpoints.CommandAddress,
		"status_report", w.cfg.Endpoints.StatusReportAddress,
	)

	if err := w.reactor.Run(ctx); err != nil {
		w.logger.Error("reactor exited", "error", err)
	}

	w.setState(model.StateStopping)
	cancel()
	w.teardown()

	if err := g.Wait(); err != nil {
		w.logger.Warn("background task error", "error", err)
	}

	w.setState(model.StateStopped)
	return nil
}

// register hooks the inbound sockets into the reactor, each with a
// reconnect. REQ is never registered.
func (w *Worker) register() error {
	sub, err := w.sockets.Subscriber()
	if err != nil {
		return fmt.Errorf("register market data: %w", err)
	}
	pull, err := w.sockets.Pull()
	if err != nil {
		return fmt.Errorf("register status report: %w", err)
	}

	if err := w.reactor.RegisterReconnecting(model.ChannelMarketData, sub,
		w.inbound.handleMarketData, w.reconnector(model.ChannelMarketData)); err != nil {
		return err
	}
	return w.reactor.RegisterReconnecting(model.ChannelStatusReport, pull,
		w.inbound.handleStatusReport, w.reconnector(model.ChannelStatusReport))
}

// reconnector reports ch as failed, then redials it with exponential
// backoff until it succeeds or ctx is cancelled.
func (w *Worker) reconnector(ch model.Channel) Reconnect {
	address := w.cfg.Endpoints.Address(ch)

	return func(ctx context.Context, cause error) (transport.Socket, error) {
		w.deps.Status.SetChannelStatus(ch, model.ErrorStatus(cause))
		wait := w.cfg.ReconnectBaseWait

		for {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}

			w.logger.Info("attempting reconnection", "channel", ch, "address", address)

			sock, err := w.sockets.Redial(ctx, ch)
			if err == nil {
				w.logger.Info("reconnected", "channel", ch, "address", address)
				w.deps.Metrics.Reconnected(ch)
				w.deps.Status.SetChannelStatus(ch, model.ConnectedStatus(address))
				return sock, nil
			}
			if ctx.Err() != nil || errors.Is(err, transport.ErrReleased) {
				return nil, err
			}

			w.logger.Warn("reconnection failed", "channel", ch, "error", err)
			w.deps.Status.SetChannelStatus(ch, model.ErrorStatus(err))

			wait *= 2
			if wait > w.cfg.ReconnectMaxWait {
				wait = w.cfg.ReconnectMaxWait
			}
		}
	}
}

// Stop requests shutdown and waits for Start to return, bounded by ctx.
// If ctx expires first the sockets are released immediately. Stop is
// idempotent and returns nil before Start.
func (w *Worker) Stop(ctx context.Context) error {
	w.stopOnce.Do(func() {
		w.logger.Info("stopping connector")
		close(w.stopCh)
	})

	if !w.started.Load() {
		return nil
	}

	select {
	case <-w.done:
	case <-ctx.Done():
		w.logger.Warn("shutdown timeout, forcing close")
		w.reactor.Stop()
		if err := w.sockets.Close(); err != nil {
			w.logger.Error("release sockets", "error", err)
		}
	}
	return nil
}

// SendCommand runs one command round on the REQ socket.
func (w *Worker) SendCommand(ctx context.Context, cmd model.Command) (Result, error) {
	return w.commands.Send(ctx, cmd)
}

// State returns the current lifecycle state.
func (w *Worker) State() model.ConnectorState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// Done is closed when Start returns.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Endpoints returns the validated endpoint configuration.
func (w *Worker) Endpoints() model.EndpointConfig {
	return w.cfg.Endpoints
}

func (w *Worker) setState(s model.ConnectorState) {
	w.mu.Lock()
	prev := w.state
	w.state = s
	w.mu.Unlock()

	w.deps.Metrics.SetState(s)
	w.logger.Info("connector state", "from", prev, "to", s)
}

// fail moves to Failed and reports the cause on every channel.
func (w *Worker) fail(err error) error {
	w.setState(model.StateFailed)
	w.logger.Error("connector failed", "error", err)
	for _, ch := range model.Channels {
		w.deps.Status.SetChannelStatus(ch, model.ErrorStatus(err))
	}
	return err
}

// teardown stops dispatch and releases the sockets.
func (w *Worker) teardown() {
	w.reactor.Stop()

	if err := w.sockets.Close(); err != nil {
		w.logger.Error("release sockets", "error", err)
	}
	if !w.reactor.Wait(w.cfg.ShutdownTimeout) {
		w.logger.Warn("receivers still blocked after socket release",
			"timeout", w.cfg.ShutdownTimeout,
		)
	}

	for _, ch := range model.Channels {
		w.deps.Status.SetChannelStatus(ch, model.StatusDisconnected)
	}
}

// runStartupCommand sends the configured command once after its delay.
func (w *Worker) runStartupCommand(ctx context.Context) {
	sc := w.cfg.StartupCommand

	timer := time.NewTimer(sc.Delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	res, err := w.commands.Send(ctx, sc.Command)
	if err != nil {
		if ctx.Err() != nil {
			w.logger.Debug("startup command cancelled", "command", sc.Command.Name)
			return
		}
		w.logger.Error("startup command failed", "command", sc.Command.Name, "error", err)
		return
	}

	w.logger.Info("startup command finished",
		"command", sc.Command.Name,
		"outcome", res.Outcome.String(),
		"round_id", res.RoundID,
		"duration", res.Duration,
	)
}
