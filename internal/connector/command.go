package connector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/google/uuid"

	"github.com/rickgao/tradebridge/internal/metrics"
	"github.com/rickgao/tradebridge/internal/model"
	"github.com/rickgao/tradebridge/internal/transport"
)

// CommandChannel runs request/reply rounds over the REQ socket, one at a
// time.
type CommandChannel struct {
	sockets *transport.SocketSet
	timeout time.Duration
	status  StatusSink
	metrics *metrics.Metrics
	logger  *slog.Logger

	sem chan struct{} // one slot: the round in flight
}

// NewCommandChannel creates a CommandChannel over the set's REQ socket.
// Redials of the REQ socket are reported to status; nil discards them.
func NewCommandChannel(sockets *transport.SocketSet, timeout time.Duration, status StatusSink, m *metrics.Metrics, logger *slog.Logger) *CommandChannel {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	if status == nil {
		status = nopSink{}
	}
	return &CommandChannel{
		sockets: sockets,
		timeout: timeout,
		status:  status,
		metrics: m,
		logger:  logger.With("component", "command"),
		sem:     make(chan struct{}, 1),
	}
}

type recvResult struct {
	msg zmq4.Msg
	err error
}

// Send sends cmd and waits for its reply. A caller that arrives while
// another round is in flight waits its turn; ctx bounds only that wait.
// Timeouts, released sockets and an unreachable peer are reported through
// Result.Outcome, not as errors. A REQ socket that lost its peer or its
// reply is redialed, at the latest by the next Send.
func (c *CommandChannel) Send(ctx context.Context, cmd model.Command) (Result, error) {
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	defer func() { <-c.sem }()

	res := Result{RoundID: uuid.NewString()}
	logger := c.logger.With("round_id", res.RoundID, "command", cmd.Name)
	start := time.Now()

	finish := func(o Outcome) (Result, error) {
		res.Outcome = o
		res.Duration = time.Since(start)
		c.metrics.CommandRound(o.String(), res.Duration)
		return res, nil
	}

	payload, err := model.EncodeCommand(cmd)
	if err != nil {
		return res, fmt.Errorf("encode command: %w", err)
	}

	sock, err := c.sockets.Request()
	switch {
	case err == nil:
	case errors.Is(err, transport.ErrReleased):
		logger.Warn("command socket released, not sending")
		return finish(OutcomeReleased)
	case errors.Is(err, transport.ErrNotCreated):
		logger.Warn("command socket not initialized, not sending")
		return finish(OutcomeUnavailable)
	case errors.Is(err, transport.ErrDisconnected):
		if sock, err = c.redial(ctx, logger); err != nil {
			if errors.Is(err, transport.ErrReleased) {
				return finish(OutcomeReleased)
			}
			return finish(OutcomeUnavailable)
		}
	default:
		return res, fmt.Errorf("command socket: %w", err)
	}

	logger.Info("sending command", "payload", string(payload))

	if err := sock.Send(zmq4.NewMsg(payload)); err != nil {
		if c.sockets.IsTeardown(err) {
			logger.Warn("command socket released during send")
			return finish(OutcomeReleased)
		}
		logger.Error("send command", "error", err)
		c.status.SetChannelStatus(model.ChannelCommand, model.ErrorStatus(err))
		c.redial(ctx, logger)
		return finish(OutcomeUnavailable)
	}

	replyCh := make(chan recvResult, 1)
	go func() {
		msg, err := sock.Recv()
		replyCh <- recvResult{msg: msg, err: err}
	}()

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case r := <-replyCh:
		if r.err != nil {
			if c.sockets.IsTeardown(r.err) {
				logger.Warn("command socket released while awaiting reply")
				return finish(OutcomeReleased)
			}
			c.status.SetChannelStatus(model.ChannelCommand, model.ErrorStatus(r.err))
			c.redial(ctx, logger)
			return res, fmt.Errorf("receive reply: %w", r.err)
		}
		res.Reply = string(bytes.Join(r.msg.Frames, nil))
		logger.Info("command reply", "reply", res.Reply)
		return finish(OutcomeReply)

	case <-timer.C:
		logger.Warn("command reply timeout", "timeout", c.timeout)
		// REQ is stuck awaiting a reply; replace it so the next send is valid.
		c.redial(ctx, logger)
		return finish(OutcomeTimeout)
	}
}

// redial replaces the REQ socket, bounded by the command timeout. On
// failure the channel stays disconnected until the next Send retries.
func (c *CommandChannel) redial(ctx context.Context, logger *slog.Logger) (transport.Socket, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	sock, err := c.sockets.Redial(ctx, model.ChannelCommand)
	if err != nil {
		if errors.Is(err, transport.ErrReleased) {
			logger.Debug("skip command socket redial, released")
			return nil, err
		}
		logger.Error("redial command socket", "error", err)
		c.status.SetChannelStatus(model.ChannelCommand, model.ErrorStatus(err))
		return nil, err
	}

	c.metrics.Reconnected(model.ChannelCommand)
	c.status.SetChannelStatus(model.ChannelCommand, model.ConnectedStatus(c.sockets.Endpoints().CommandAddress))
	return sock, nil
}
