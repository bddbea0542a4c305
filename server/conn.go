package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"stream-rpc/codec"
	"stream-rpc/logger"
	"stream-rpc/message"
	"stream-rpc/protocol"
	"stream-rpc/rpcerr"
)

const (
	readBufferSize = 64 * 1024
	writeTimeout   = 5 * time.Second
)

type connState int32

const (
	stateHandshaking connState = iota
	stateServing
	stateClosing
	stateClosed
)

var (
	errQuit          = errors.New("peer sent quit")
	errLateHandshake = errors.New("handshake after the first message")
)

// task carries one request from decode to write.
type task struct {
	req      *message.Request
	done     chan struct{}
	resp     *message.Response
	finished sync.Once
	onFinish func()
}

func (t *task) finish() {
	t.finished.Do(t.onFinish)
}

type serverConn struct {
	s       *Server
	conn    net.Conn
	addr    string
	codec   codec.Codec
	framer  *protocol.Framer
	ctx     context.Context
	cancel  context.CancelFunc
	state   atomic.Int32
	inOrder bool
	queue   chan *task

	writeLock sync.Mutex
	closeOnce sync.Once
}

func newServerConn(s *Server, conn net.Conn) *serverConn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &serverConn{
		s:       s,
		conn:    conn,
		addr:    conn.RemoteAddr().String(),
		codec:   codec.Default,
		ctx:     ctx,
		cancel:  cancel,
		inOrder: true,
	}
	c.framer = protocol.NewFramer(s.conf.MaxPayloadLength, c.onMsg)
	return c
}

func (c *serverConn) getState() connState {
	return connState(c.state.Load())
}

func (c *serverConn) readLoop() {
	defer c.readPanicHandler()
	defer c.framer.Reset()
	defer c.drainQueue()
	defer c.close()
	logger.Debugf("[%s] connection opened", c.addr)
	buf := make([]byte, readBufferSize)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			if ferr := c.framer.Feed(buf[:n]); ferr != nil && !errors.Is(ferr, rpcerr.ErrNeedMore) {
				c.logFeedError(ferr)
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !isClosedErr(err) {
				c.s.log.Warnf("[%s] read failed: %v", c.addr, err)
			}
			return
		}
	}
}

func (c *serverConn) logFeedError(err error) {
	switch {
	case errors.Is(err, errQuit):
		logger.Debugf("[%s] quit received", c.addr)
	case errors.Is(err, context.Canceled):
	default:
		c.s.log.Warnf("[%s] protocol violation, closing connection: %v", c.addr, err)
	}
}

func (c *serverConn) readPanicHandler() {
	if r := recover(); r != nil {
		c.s.log.Errorf("[%s] failure in connection read loop: %v", c.addr, r)
		c.close()
	}
}

// onMsg runs on the read loop goroutine. A returned error closes the connection.
func (c *serverConn) onMsg(msg message.Message) error {
	if logger.DebugEnabled() {
		logger.Debugf("[%s] message recv: %s", c.addr, describe(msg))
	}
	if c.getState() == stateHandshaking {
		if msg.Kind == message.KindHandshake {
			c.inOrder = msg.Handshake.InOrder
			logger.Debugf("[%s] handshake in_order=%t timeout=%s", c.addr, c.inOrder, msg.Handshake.Timeout)
		}
		c.startServing()
		if msg.Kind == message.KindHandshake {
			return nil
		}
	}
	switch msg.Kind {
	case message.KindHandshake:
		return errLateHandshake
	case message.KindQuit:
		return errQuit
	case message.KindResponse:
		c.s.log.Warnf("[%s] ignoring response for request %q sent to server", c.addr, msg.Response.RequestID)
		return nil
	case message.KindRequest:
		return c.submit(msg.Request)
	}
	return errors.Errorf("unexpected message kind %d", msg.Kind)
}

func (c *serverConn) startServing() {
	c.state.CompareAndSwap(int32(stateHandshaking), int32(stateServing))
	if c.inOrder {
		c.queue = make(chan *task, c.s.conf.InOrderQueueSize)
		go c.writeBack()
	}
}

func (c *serverConn) submit(req *message.Request) error {
	if !c.s.beginRequest() {
		resp := req.Reply()
		resp.RetCode = rpcerr.CodeHandlerError
		resp.Msg = "server is shutting down"
		c.write(resp)
		return nil
	}
	t := &task{req: req, done: make(chan struct{}), onFinish: c.s.endRequest}
	go c.run(t)
	if !c.inOrder {
		return nil
	}
	select {
	case c.queue <- t:
		return nil
	case <-c.ctx.Done():
		t.finish()
		return errors.WithStack(c.ctx.Err())
	}
}

func (c *serverConn) run(t *task) {
	t.resp = c.handle(t.req)
	close(t.done)
	if !c.inOrder {
		c.write(t.resp)
		t.finish()
	}
}

func (c *serverConn) handle(req *message.Request) (resp *message.Response) {
	defer func() {
		if r := recover(); r != nil {
			c.s.log.Errorf("[%s] failure handling request %q: %v", c.addr, req.RequestID, r)
			resp = req.Reply()
			resp.RetCode = rpcerr.CodeHandlerError
			resp.Msg = fmt.Sprint(r)
		}
	}()
	resp = c.s.handler(c.ctx, req)
	if resp == nil {
		resp = req.Reply()
		resp.RetCode = rpcerr.CodeHandlerError
		resp.Msg = "no response"
	}
	return resp
}

// writeBack writes in-order responses strictly in arrival order. It exits on close without
// waiting for queued tasks.
func (c *serverConn) writeBack() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case t := <-c.queue:
			select {
			case <-t.done:
				c.write(t.resp)
				t.finish()
			case <-c.ctx.Done():
				t.finish()
				return
			}
		}
	}
}

// drainQueue releases tasks left in the in-order queue once the connection has closed.
func (c *serverConn) drainQueue() {
	if c.queue == nil {
		return
	}
	for {
		select {
		case t := <-c.queue:
			t.finish()
		default:
			return
		}
	}
}

func (c *serverConn) write(resp *message.Response) {
	data, err := c.codec.Encode(message.NewResponse(resp))
	if err != nil {
		fallback := &message.Response{
			RequestID: resp.RequestID,
			FuncName:  resp.FuncName,
			RetCode:   rpcerr.CodeHandlerError,
			Msg:       "failed to encode result: " + err.Error(),
		}
		if data, err = c.codec.Encode(message.NewResponse(fallback)); err != nil {
			c.s.log.Errorf("[%s] failed to encode response: %v", c.addr, err)
			return
		}
	}
	if err := c.writeBytes(data); err != nil {
		c.s.log.Warnf("[%s] write failed, closing connection: %v", c.addr, err)
		c.close()
	}
}

func (c *serverConn) writeBytes(data []byte) error {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()
	if c.getState() >= stateClosing {
		return nil
	}
	if logger.DebugEnabled() {
		logger.Debugf("[%s] message write: %s", c.addr, data)
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return errors.WithStack(err)
	}
	_, err := c.conn.Write(data)
	return errors.WithStack(err)
}

// close is idempotent and does not wait for queued work.
func (c *serverConn) close() {
	c.closeOnce.Do(func() {
		c.state.Store(int32(stateClosing))
		c.cancel()
		if err := c.conn.Close(); err != nil && !isClosedErr(err) {
			logger.Debugf("[%s] close failed: %v", c.addr, err)
		}
		c.state.Store(int32(stateClosed))
		c.s.removeConn(c)
		logger.Debugf("[%s] connection closed", c.addr)
	})
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed) || strings.Contains(err.Error(), "use of closed network connection")
}

func describe(msg message.Message) string {
	switch msg.Kind {
	case message.KindRequest:
		return "request " + msg.Request.RequestID + " " + msg.Request.FuncName
	case message.KindResponse:
		return "response " + msg.Response.RequestID
	case message.KindHandshake:
		return "handshake"
	default:
		return msg.Kind.String()
	}
}
