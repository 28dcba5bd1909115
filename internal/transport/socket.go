package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/go-zeromq/zmq4"
)

// Errors
var (
	ErrReleased     = errors.New("socket released")
	ErrNotCreated   = errors.New("sockets not created")
	ErrUnknownRole  = errors.New("unknown socket role")
	ErrDisconnected = errors.New("socket disconnected")
)

// Socket is the subset of zmq4.Socket used by the connector.
type Socket interface {
	Dial(endpoint string) error
	Send(msg zmq4.Msg) error
	Recv() (zmq4.Msg, error)
	SetOption(name string, value interface{}) error
	Close() error
}

// Role identifies the messaging pattern of a socket.
type Role string

const (
	RoleSubscribe Role = "subscribe"
	RoleRequest   Role = "request"
	RolePull      Role = "pull"
)

// Factory creates an unconnected socket for a role. Sockets must stop
// blocking in Recv once ctx is cancelled or Close is called.
type Factory func(ctx context.Context, role Role) (Socket, error)

// Options configures the zmq4 factory.
type Options struct {
	DialTimeout    time.Duration // Max time for a single dial attempt
	DialRetry      time.Duration // Wait between dial attempts
	DialMaxRetries int           // -1 retries until the socket is closed, 0 keeps the zmq4 default
}

// NewZMQFactory returns a Factory backed by github.com/go-zeromq/zmq4.
func NewZMQFactory(opts Options, logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	zlog := slog.NewLogLogger(logger.With("component", "zmq4").Handler(), slog.LevelDebug)

	return func(ctx context.Context, role Role) (Socket, error) {
		zopts := []zmq4.Option{zmq4.WithLogger(zlog)}
		if opts.DialTimeout > 0 {
			zopts = append(zopts, zmq4.WithDialerTimeout(opts.DialTimeout))
		}
		if opts.DialRetry > 0 {
			zopts = append(zopts, zmq4.WithDialerRetry(opts.DialRetry))
		}
		if opts.DialMaxRetries != 0 {
			zopts = append(zopts, zmq4.WithDialerMaxRetries(opts.DialMaxRetries))
		}

		switch role {
		case RoleSubscribe:
			return zmq4.NewSub(ctx, zopts...), nil
		case RoleRequest:
			return zmq4.NewReq(ctx, zopts...), nil
		case RolePull:
			return zmq4.NewPull(ctx, zopts...), nil
		}
		return nil, fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
}

// IsClosedError reports whether err is what a socket returns after it has
// been closed or its context cancelled.
func IsClosedError(err error) bool {
	return errors.Is(err, ErrReleased) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, net.ErrClosed)
}
