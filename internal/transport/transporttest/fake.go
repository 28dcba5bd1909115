// Package transporttest provides in-memory sockets for tests.
package transporttest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/go-zeromq/zmq4"

	"github.com/rickgao/tradebridge/internal/transport"
)

// ErrProtocol is returned by Send when a strict socket already has a
// request awaiting its reply.
var ErrProtocol = errors.New("send while awaiting reply")

// Socket is an in-memory transport.Socket.
type Socket struct {
	Role transport.Role

	// Reply, when set, is called for every sent message. A non-nil result
	// is delivered to Recv. It runs on its own goroutine.
	Reply func(req zmq4.Msg) *zmq4.Msg

	// Strict enforces request/reply alternation on Send.
	Strict bool

	DialErr   error
	OptionErr error
	SendErr   error

	// DialBlock makes Dial wait until the socket is closed or its context
	// cancelled, like a dial retrying against an absent peer.
	DialBlock bool

	inbox  chan zmq4.Msg
	errs   chan error
	closed chan struct{}

	closeOnce  sync.Once
	closeCount atomic.Int32
	violations atomic.Int32
	pending    atomic.Bool

	mu      sync.Mutex
	dialed  []string
	options map[string]interface{}
	sent    []zmq4.Msg
}

// NewSocket returns an open socket with a buffered inbox.
func NewSocket(role transport.Role) *Socket {
	return &Socket{
		Role:    role,
		Strict:  role == transport.RoleRequest,
		inbox:   make(chan zmq4.Msg, 256),
		errs:    make(chan error, 16),
		closed:  make(chan struct{}),
		options: make(map[string]interface{}),
	}
}

// Push queues an inbound message made of the given frames.
func (s *Socket) Push(frames ...string) {
	bs := make([][]byte, len(frames))
	for i, f := range frames {
		bs[i] = []byte(f)
	}
	s.inbox <- zmq4.NewMsgFrom(bs...)
}

// PushErr makes the next Recv return err.
func (s *Socket) PushErr(err error) {
	s.errs <- err
}

func (s *Socket) Dial(endpoint string) error {
	if s.DialErr != nil {
		return s.DialErr
	}
	if s.DialBlock {
		<-s.closed
		return fmt.Errorf("dial %s: %w", endpoint, context.Canceled)
	}
	s.mu.Lock()
	s.dialed = append(s.dialed, endpoint)
	s.mu.Unlock()
	return nil
}

func (s *Socket) SetOption(name string, value interface{}) error {
	if s.OptionErr != nil {
		return s.OptionErr
	}
	s.mu.Lock()
	s.options[name] = value
	s.mu.Unlock()
	return nil
}

func (s *Socket) Send(msg zmq4.Msg) error {
	select {
	case <-s.closed:
		return fmt.Errorf("send: %w", net.ErrClosed)
	default:
	}

	if s.SendErr != nil {
		return s.SendErr
	}

	if s.Strict && !s.pending.CompareAndSwap(false, true) {
		s.violations.Add(1)
		return ErrProtocol
	}

	s.mu.Lock()
	s.sent = append(s.sent, msg)
	s.mu.Unlock()

	if s.Reply != nil {
		go func() {
			if reply := s.Reply(msg); reply != nil {
				select {
				case s.inbox <- *reply:
				case <-s.closed:
				}
			}
		}()
	}
	return nil
}

func (s *Socket) Recv() (zmq4.Msg, error) {
	select {
	case msg := <-s.inbox:
		s.pending.Store(false)
		return msg, nil
	case err := <-s.errs:
		return zmq4.Msg{}, err
	case <-s.closed:
		return zmq4.Msg{}, fmt.Errorf("recv: %w", net.ErrClosed)
	}
}

func (s *Socket) Close() error {
	s.closeCount.Add(1)
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

// Closed reports whether Close has been called.
func (s *Socket) Closed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// CloseCount returns how many times Close was called.
func (s *Socket) CloseCount() int {
	return int(s.closeCount.Load())
}

// Violations returns how many sends broke request/reply alternation.
func (s *Socket) Violations() int {
	return int(s.violations.Load())
}

// Dialed returns the endpoints passed to Dial.
func (s *Socket) Dialed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.dialed...)
}

// Option returns a value set with SetOption.
func (s *Socket) Option(name string) (interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.options[name]
	return v, ok
}

// Sent returns the messages passed to Send.
func (s *Socket) Sent() []zmq4.Msg {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]zmq4.Msg(nil), s.sent...)
}

// Factory records every socket it builds.
type Factory struct {
	// Configure, when set, customizes each new socket before it is returned.
	Configure func(*Socket)

	// Err fails creation for a role.
	Err map[transport.Role]error

	calls atomic.Int32

	mu      sync.Mutex
	sockets map[transport.Role][]*Socket
}

// NewFactory returns an empty Factory.
func NewFactory() *Factory {
	return &Factory{sockets: make(map[transport.Role][]*Socket)}
}

// Build implements transport.Factory.
func (f *Factory) Build(ctx context.Context, role transport.Role) (transport.Socket, error) {
	f.calls.Add(1)
	if err := f.Err[role]; err != nil {
		return nil, err
	}

	sock := NewSocket(role)
	if f.Configure != nil {
		f.Configure(sock)
	}

	f.mu.Lock()
	f.sockets[role] = append(f.sockets[role], sock)
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		sock.closeOnce.Do(func() { close(sock.closed) })
	}()

	return sock, nil
}

// Calls returns how many sockets were requested.
func (f *Factory) Calls() int {
	return int(f.calls.Load())
}

// Last returns the most recent socket built for role, or nil.
func (f *Factory) Last(role transport.Role) *Socket {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.sockets[role]
	if len(list) == 0 {
		return nil
	}
	return list[len(list)-1]
}

// All returns every socket built for role.
func (f *Factory) All(role transport.Role) []*Socket {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Socket(nil), f.sockets[role]...)
}
