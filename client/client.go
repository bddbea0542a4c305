package client

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"stream-rpc/conf"
	"stream-rpc/correlation"
	"stream-rpc/logger"
	"stream-rpc/protocol"
	"stream-rpc/rpcerr"
)

// Client is the goroutine-driven client. It is safe for concurrent use.
type Client struct {
	s         *session
	framer    *protocol.Framer
	writeLock sync.Mutex
	closing   atomic.Bool
	closeOnce sync.Once
	closed    chan struct{}
}

// Dial connects, sends the handshake and starts the reader goroutine.
func Dial(ctx context.Context, cfg conf.ClientConfig) (*Client, error) {
	s, err := dialSession(ctx, cfg)
	if err != nil {
		return nil, err
	}
	c := &Client{s: s, closed: make(chan struct{})}
	c.framer = protocol.NewFramer(s.conf.MaxPayloadLength, s.onMsg)
	data, err := s.handshake()
	if err == nil {
		err = c.write(data)
	}
	if err != nil {
		_ = s.conn.Close()
		return nil, errors.Wrap(err, "failed to send handshake")
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) write(data []byte) error {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()
	return c.s.writeRaw(data)
}

func (c *Client) readLoop() {
	defer c.readPanicHandler()
	buf := make([]byte, readBufferSize)
	for {
		n, err := c.s.conn.Read(buf)
		if n > 0 {
			if ferr := c.framer.Feed(buf[:n]); ferr != nil && !errors.Is(ferr, rpcerr.ErrNeedMore) {
				c.closeWith(ferr)
				return
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = errors.New("connection closed by server")
			}
			c.closeWith(err)
			return
		}
	}
}

func (c *Client) readPanicHandler() {
	if r := recover(); r != nil {
		logger.Errorf("failure in client connection read loop: %v", r)
		c.closeWith(errors.Errorf("read loop panic: %v", r))
	}
}

// CallAsync sends a request and returns its pending call without waiting.
func (c *Client) CallAsync(name string, args []any, kw map[string]any) (*correlation.Call, error) {
	if c.closing.Load() {
		return nil, rpcerr.ErrClientClosed
	}
	call, data, err := c.s.startCall(name, args, kw)
	if err != nil {
		return nil, err
	}
	if err := c.write(data); err != nil {
		c.s.table.Remove(call.ID)
		c.closeWith(err)
		return nil, rpcerr.Aborted(err)
	}
	return call, nil
}

func (c *Client) Call(ctx context.Context, name string, args ...any) (any, error) {
	return c.CallKw(ctx, name, args, nil)
}

func (c *Client) CallKw(ctx context.Context, name string, args []any, kw map[string]any) (any, error) {
	call, err := c.CallAsync(name, args, kw)
	if err != nil {
		return nil, err
	}
	return c.s.await(ctx, call)
}

func (c *Client) Method(name string) Method {
	return func(ctx context.Context, args ...any) (any, error) {
		return c.Call(ctx, name, args...)
	}
}

// Pending returns the number of calls awaiting a response.
func (c *Client) Pending() int {
	return c.s.table.Len()
}

// Closed is closed once the connection has been torn down.
func (c *Client) Closed() <-chan struct{} {
	return c.closed
}

// Close does not wait for the reader goroutine.
func (c *Client) Close() error {
	c.closeWith(nil)
	return nil
}

func (c *Client) closeWith(reason error) {
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		c.s.teardown(reason, c.write)
		close(c.closed)
	})
}
