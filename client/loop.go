package client

import (
	"context"
	"io"
	"sync"

	"github.com/pkg/errors"

	"stream-rpc/conf"
	"stream-rpc/correlation"
	"stream-rpc/logger"
	"stream-rpc/protocol"
	"stream-rpc/rpcerr"
)

type chunk struct {
	data []byte
	err  error
}

type started struct {
	call *correlation.Call
	err  error
}

// LoopClient owns its connection from a single loop goroutine. The framer, the writes and
// the teardown all happen there; a reader goroutine only forwards what it reads.
type LoopClient struct {
	s      *session
	framer *protocol.Framer
	posts  chan func()
	chunks chan chunk
	stop   chan struct{}
	done   chan struct{}

	stopOnce sync.Once
}

// DialLoop connects, sends the handshake and starts the loop and reader goroutines.
func DialLoop(ctx context.Context, cfg conf.ClientConfig) (*LoopClient, error) {
	s, err := dialSession(ctx, cfg)
	if err != nil {
		return nil, err
	}
	c := &LoopClient{
		s:      s,
		posts:  make(chan func()),
		chunks: make(chan chunk, 16),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	c.framer = protocol.NewFramer(s.conf.MaxPayloadLength, s.onMsg)
	data, err := s.handshake()
	if err == nil {
		err = s.writeRaw(data)
	}
	if err != nil {
		_ = s.conn.Close()
		return nil, errors.Wrap(err, "failed to send handshake")
	}
	go c.loop()
	go c.readLoop()
	return c, nil
}

func (c *LoopClient) loop() {
	defer close(c.done)
	for {
		select {
		case fn := <-c.posts:
			fn()
		case ch := <-c.chunks:
			if ch.err != nil {
				c.shutdown(ch.err)
				return
			}
			if err := c.framer.Feed(ch.data); err != nil && !errors.Is(err, rpcerr.ErrNeedMore) {
				c.shutdown(err)
				return
			}
		case <-c.stop:
			c.shutdown(nil)
			return
		}
	}
}

func (c *LoopClient) shutdown(reason error) {
	c.s.teardown(reason, c.s.writeRaw)
	c.framer.Reset()
}

func (c *LoopClient) readLoop() {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("failure in loop client read loop: %v", r)
			c.forward(chunk{err: errors.Errorf("read loop panic: %v", r)})
		}
	}()
	for {
		buf := make([]byte, readBufferSize)
		n, err := c.s.conn.Read(buf)
		if n > 0 {
			if !c.forward(chunk{data: buf[:n]}) {
				return
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = errors.New("connection closed by server")
			}
			c.forward(chunk{err: err})
			return
		}
	}
}

func (c *LoopClient) forward(ch chunk) bool {
	select {
	case c.chunks <- ch:
		return true
	case <-c.done:
		return false
	}
}

// post runs fn on the loop goroutine. It returns false once the loop has exited.
func (c *LoopClient) post(fn func()) bool {
	select {
	case c.posts <- fn:
		return true
	case <-c.done:
		return false
	}
}

// CallAsync hands the request to the loop and returns the pending call once it is written.
func (c *LoopClient) CallAsync(name string, args []any, kw map[string]any) (*correlation.Call, error) {
	result := make(chan started, 1)
	ok := c.post(func() {
		call, data, err := c.s.startCall(name, args, kw)
		if err != nil {
			result <- started{err: err}
			return
		}
		if err := c.s.writeRaw(data); err != nil {
			c.s.table.Remove(call.ID)
			result <- started{err: rpcerr.Aborted(err)}
			c.requestStop()
			return
		}
		result <- started{call: call}
	})
	if !ok {
		return nil, rpcerr.ErrClientClosed
	}
	r := <-result
	return r.call, r.err
}

func (c *LoopClient) Call(ctx context.Context, name string, args ...any) (any, error) {
	return c.CallKw(ctx, name, args, nil)
}

func (c *LoopClient) CallKw(ctx context.Context, name string, args []any, kw map[string]any) (any, error) {
	call, err := c.CallAsync(name, args, kw)
	if err != nil {
		return nil, err
	}
	return c.s.await(ctx, call)
}

func (c *LoopClient) Method(name string) Method {
	return func(ctx context.Context, args ...any) (any, error) {
		return c.Call(ctx, name, args...)
	}
}

func (c *LoopClient) Pending() int {
	return c.s.table.Len()
}

// Closed is closed once the loop has torn the connection down.
func (c *LoopClient) Closed() <-chan struct{} {
	return c.done
}

// Close stops the loop and waits for it to finish the teardown.
func (c *LoopClient) Close() error {
	c.requestStop()
	<-c.done
	return nil
}

func (c *LoopClient) requestStop() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}
