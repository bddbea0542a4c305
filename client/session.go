// Package client implements the two stream-rpc client wrappers.
//
// Client is driven by goroutines: callers write requests themselves and block on their own
// call while one reader goroutine settles responses. LoopClient keeps all connection state on
// a single loop goroutine; callers post work to it and await the returned call.
//
// Both send the handshake first, correlate responses by request id, and on close send a
// best-effort quit and fail every pending call with rpcerr.ErrConnectionAborted.
package client

import (
	"context"
	"encoding/json"
	"net"
	"time"

	"github.com/pkg/errors"

	"stream-rpc/codec"
	"stream-rpc/conf"
	"stream-rpc/correlation"
	"stream-rpc/logger"
	"stream-rpc/message"
	"stream-rpc/rpcerr"
	"stream-rpc/transport"
)

const (
	readBufferSize = 8192
	writeTimeout   = 5 * time.Second
)

var errServerQuit = errors.New("server sent quit")

// Method is a remote function bound to its name.
type Method func(ctx context.Context, args ...any) (any, error)

// Caller is the call surface shared by Client and LoopClient.
type Caller interface {
	CallAsync(name string, args []any, kw map[string]any) (*correlation.Call, error)
	Call(ctx context.Context, name string, args ...any) (any, error)
	CallKw(ctx context.Context, name string, args []any, kw map[string]any) (any, error)
	Method(name string) Method
	Close() error
}

// session is the connection state common to both wrappers.
type session struct {
	conf  conf.ClientConfig
	conn  net.Conn
	addr  string
	codec codec.Codec
	table *correlation.Table
}

func dialSession(ctx context.Context, cfg conf.ClientConfig) (*session, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	tlsConf, err := cfg.TLS.ToGoTLSConfig()
	if err != nil {
		return nil, err
	}
	conn, err := transport.Dial(ctx, cfg.Host, cfg.Port, tlsConf)
	if err != nil {
		return nil, err
	}
	return &session{
		conf:  cfg,
		conn:  conn,
		addr:  conn.RemoteAddr().String(),
		codec: codec.Default,
		table: correlation.NewTable(),
	}, nil
}

func (s *session) handshake() ([]byte, error) {
	return s.codec.Encode(message.NewHandshake(s.conf.InOrder(), s.conf.Timeout))
}

func (s *session) quit() ([]byte, error) {
	return s.codec.Encode(message.NewQuit())
}

// startCall registers a call and encodes its request. On encode failure the call is removed.
func (s *session) startCall(name string, args []any, kw map[string]any) (*correlation.Call, []byte, error) {
	call, err := s.table.Register(name)
	if err != nil {
		return nil, nil, err
	}
	data, err := s.codec.Encode(message.NewRequest(call.ID, name, args, kw))
	if err != nil {
		s.table.Remove(call.ID)
		return nil, nil, err
	}
	return call, data, nil
}

func (s *session) writeRaw(data []byte) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return errors.WithStack(err)
	}
	_, err := s.conn.Write(data)
	return errors.WithStack(err)
}

// onMsg settles calls from responses. Any other message from the server ends the session.
func (s *session) onMsg(msg message.Message) error {
	switch msg.Kind {
	case message.KindResponse:
		resp := msg.Response
		if resp.OK() {
			return s.table.Resolve(resp.RequestID, resp.Result)
		}
		return s.table.Reject(resp.RequestID, rpcerr.NewRemoteError(resp.RetCode, resp.Msg))
	case message.KindQuit:
		return errServerQuit
	default:
		return errors.Errorf("unexpected %s message from server", msg.Kind)
	}
}

// await applies the configured call timeout when ctx has no deadline of its own.
func (s *session) await(ctx context.Context, call *correlation.Call) (any, error) {
	if _, ok := ctx.Deadline(); !ok && s.conf.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.conf.CallTimeout)
		defer cancel()
	}
	return call.Await(ctx)
}

// teardown sends a best-effort quit, aborts pending calls and closes the transport.
func (s *session) teardown(reason error, write func([]byte) error) {
	if data, err := s.quit(); err == nil {
		if err := write(data); err != nil {
			logger.Debugf("[%s] quit not sent: %v", s.addr, err)
		}
	}
	if n := s.table.AbortAll(reason); n > 0 {
		logger.Debugf("[%s] aborted %d pending calls", s.addr, n)
	}
	if err := s.conn.Close(); err != nil {
		logger.Debugf("[%s] close failed: %v", s.addr, err)
	}
	if reason != nil && !errors.Is(reason, errServerQuit) {
		logger.Warnf("[%s] connection closed: %v", s.addr, reason)
	}
}

// DecodeResult converts a decoded JSON result into out, which must be a pointer.
func DecodeResult(result any, out any) error {
	data, err := json.Marshal(result)
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(json.Unmarshal(data, out))
}
