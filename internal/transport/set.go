package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/go-zeromq/zmq4"

	"github.com/rickgao/tradebridge/internal/model"
)

// slot holds one socket and its binding.
type slot struct {
	role    Role
	channel model.Channel
	address string
	sock    Socket
}

// SocketSet creates and owns the SUB, REQ and PULL sockets.
type SocketSet struct {
	endpoints model.EndpointConfig
	factory   Factory
	logger    *slog.Logger

	// Socket lifetime, detached from the caller's cancellation so teardown
	// stays under Close's control.
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	slots    [3]*slot // subscribe, request, pull
	created  bool
	released atomic.Bool
}

const (
	idxSubscribe = iota
	idxRequest
	idxPull
)

// NewSocketSet creates an empty socket set. No socket exists until Create.
func NewSocketSet(endpoints model.EndpointConfig, factory Factory, logger *slog.Logger) *SocketSet {
	if logger == nil {
		logger = slog.Default()
	}
	return &SocketSet{
		endpoints: endpoints,
		factory:   factory,
		logger:    logger,
		slots: [3]*slot{
			{role: RoleSubscribe, channel: model.ChannelMarketData, address: endpoints.MarketDataAddress},
			{role: RoleRequest, channel: model.ChannelCommand, address: endpoints.CommandAddress},
			{role: RolePull, channel: model.ChannelStatusReport, address: endpoints.StatusReportAddress},
		},
	}
}

// Create builds all three sockets. On failure the sockets created so far
// are closed and the set is left released.
func (s *SocketSet) Create(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released.Load() {
		return ErrReleased
	}
	if s.created {
		return nil
	}

	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))

	for _, sl := range s.slots {
		sock, err := s.factory(s.ctx, sl.role)
		if err != nil {
			s.releaseLocked()
			return fmt.Errorf("create %s socket: %w", sl.role, err)
		}
		sl.sock = sock
	}

	s.created = true
	return nil
}

// Connect dials every socket and subscribes the SUB socket to all topics.
// Dialing happens outside the set's lock, so Close can interrupt it. A
// cancelled ctx also interrupts it, leaving the set unusable.
func (s *SocketSet) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.released.Load() {
		s.mu.Unlock()
		return ErrReleased
	}
	if !s.created {
		s.mu.Unlock()
		return ErrNotCreated
	}
	slots := make([]slot, len(s.slots))
	for i, sl := range s.slots {
		slots[i] = *sl
	}
	cancel := s.cancel
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	for _, sl := range slots {
		if err := s.dial(sl.sock, sl.role, sl.address); err != nil {
			if s.released.Load() {
				return ErrReleased
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &ChannelError{Channel: sl.channel, Op: err.op, Err: err.err}
		}
		s.logger.Info("socket connected",
			"role", sl.role,
			"channel", sl.channel,
			"address", sl.address,
		)
	}

	if s.released.Load() {
		return ErrReleased
	}
	return nil
}

type dialError struct {
	op  string
	err error
}

// dial connects sock and, for SUB, subscribes to every topic.
func (s *SocketSet) dial(sock Socket, role Role, address string) *dialError {
	if err := sock.Dial(address); err != nil {
		return &dialError{op: "dial " + address, err: err}
	}
	if role == RoleSubscribe {
		if err := sock.SetOption(zmq4.OptionSubscribe, ""); err != nil {
			return &dialError{op: "subscribe", err: err}
		}
	}
	return nil
}

// Subscriber returns the SUB socket.
func (s *SocketSet) Subscriber() (Socket, error) {
	return s.socket(idxSubscribe)
}

// Request returns the REQ socket. Callers must serialize access.
func (s *SocketSet) Request() (Socket, error) {
	return s.socket(idxRequest)
}

// Pull returns the PULL socket.
func (s *SocketSet) Pull() (Socket, error) {
	return s.socket(idxPull)
}

func (s *SocketSet) socket(idx int) (Socket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released.Load() {
		return nil, ErrReleased
	}
	if !s.created {
		return nil, ErrNotCreated
	}
	if s.slots[idx].sock == nil {
		return nil, ErrDisconnected
	}
	return s.slots[idx].sock, nil
}

// ResetRequest replaces the REQ socket, clearing any half-finished
// request/reply round. ctx bounds the dial.
func (s *SocketSet) ResetRequest(ctx context.Context) error {
	_, err := s.Redial(ctx, model.ChannelCommand)
	return err
}

// Redial closes the socket serving ch and replaces it with a freshly dialed
// one. Until the new socket is connected, accessors for ch return
// ErrDisconnected. ctx bounds the dial; on failure the channel stays
// disconnected and a later Redial may retry.
func (s *SocketSet) Redial(ctx context.Context, ch model.Channel) (Socket, error) {
	idx, err := slotIndex(ch)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.released.Load() {
		s.mu.Unlock()
		return nil, ErrReleased
	}
	if !s.created {
		s.mu.Unlock()
		return nil, ErrNotCreated
	}
	sl := s.slots[idx]
	old := sl.sock
	sl.sock = nil // detached: Close must not release it a second time
	parent := s.ctx
	s.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil && !IsClosedError(err) {
			s.logger.Debug("close stale socket", "channel", ch, "error", err)
		}
	}

	sctx, scancel := context.WithCancel(parent)
	sock, err := s.factory(sctx, sl.role)
	if err != nil {
		scancel()
		return nil, fmt.Errorf("recreate %s socket: %w", sl.role, err)
	}

	stop := context.AfterFunc(ctx, scancel)
	derr := s.dial(sock, sl.role, sl.address)
	interrupted := !stop()
	if derr != nil || interrupted {
		sock.Close()
		scancel()
		if s.released.Load() {
			return nil, ErrReleased
		}
		if derr == nil || ctx.Err() != nil {
			return nil, &ChannelError{Channel: ch, Op: "dial " + sl.address, Err: ctx.Err()}
		}
		return nil, &ChannelError{Channel: ch, Op: derr.op, Err: derr.err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released.Load() {
		// Released while dialing.
		sock.Close()
		scancel()
		return nil, ErrReleased
	}
	sl.sock = sock

	s.logger.Info("socket redialed", "channel", ch, "address", sl.address)
	return sock, nil
}

func slotIndex(ch model.Channel) (int, error) {
	switch ch {
	case model.ChannelMarketData:
		return idxSubscribe, nil
	case model.ChannelCommand:
		return idxRequest, nil
	case model.ChannelStatusReport:
		return idxPull, nil
	}
	return 0, fmt.Errorf("%w: channel %q", ErrUnknownRole, ch)
}

// Released reports whether Close has run.
func (s *SocketSet) Released() bool {
	return s.released.Load()
}

// Close releases every socket exactly once. Later calls return nil.
func (s *SocketSet) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.releaseLocked()
}

// releaseLocked must be called with mu held.
func (s *SocketSet) releaseLocked() error {
	if !s.released.CompareAndSwap(false, true) {
		return nil
	}

	var errs []error
	for _, sl := range s.slots {
		if sl.sock == nil {
			continue
		}
		if err := sl.sock.Close(); err != nil && !IsClosedError(err) {
			errs = append(errs, fmt.Errorf("close %s socket: %w", sl.role, err))
		}
		sl.sock = nil
		s.logger.Debug("socket released", "role", sl.role, "channel", sl.channel)
	}

	if s.cancel != nil {
		s.cancel()
	}

	return errors.Join(errs...)
}

// IsTeardown reports whether err is expected because the set is being
// released. Anything else is a real transport fault.
func (s *SocketSet) IsTeardown(err error) bool {
	return s.released.Load() || IsClosedError(err)
}

// Endpoints returns the configured endpoints.
func (s *SocketSet) Endpoints() model.EndpointConfig {
	return s.endpoints
}

// ChannelError is a socket failure attributed to one bus channel.
type ChannelError struct {
	Channel model.Channel
	Op      string
	Err     error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Channel, e.Op, e.Err)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}
