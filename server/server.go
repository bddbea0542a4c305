// Package server accepts stream-rpc connections and dispatches their requests to registered
// handlers.
//
// Request pipeline for one connection:
//
//	read loop (one goroutine) → Framer.Feed → onMsg
//	  Request → go task: middleware chain → registry lookup → Executor.Invoke
//	    in_order: task queued, writeBack goroutine writes responses in arrival order
//	    free:     task writes its own response when it completes
package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"stream-rpc/conf"
	"stream-rpc/executor"
	"stream-rpc/handler"
	"stream-rpc/logger"
	"stream-rpc/message"
	"stream-rpc/middleware"
	"stream-rpc/rpcerr"
	"stream-rpc/transport"
)

type Server struct {
	conf        conf.ServerConfig
	registry    *handler.Registry
	executor    *executor.Executor
	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc
	log         *zap.SugaredLogger

	lock         sync.Mutex
	listener     net.Listener
	conns        map[*serverConn]struct{}
	shuttingDown bool
	inflight     sync.WaitGroup
	acceptWG     sync.WaitGroup
	shutdown     atomic.Bool
}

// NewServer creates a server for the handlers in registry. Defaults are applied to cfg.
func NewServer(cfg conf.ServerConfig, registry *handler.Registry) *Server {
	cfg.ApplyDefaults()
	s := &Server{
		conf:     cfg,
		registry: registry,
		executor: executor.New(cfg.Workers, cfg.MaxUnwrapDepth),
		conns:    make(map[*serverConn]struct{}),
		log:      logger.Named("server"),
	}
	s.handler = s.buildChain()
	return s
}

// Use appends middlewares, applied after the built-in logging, rate limit and timeout
// middlewares. It must be called before Start.
func (s *Server) Use(middlewares ...middleware.Middleware) {
	s.middlewares = append(s.middlewares, middlewares...)
	s.handler = s.buildChain()
}

func (s *Server) buildChain() middleware.HandlerFunc {
	chain := []middleware.Middleware{middleware.LoggingMiddleware(s.log)}
	if s.conf.RateLimit > 0 {
		chain = append(chain, middleware.RateLimitMiddleware(s.conf.RateLimit, s.conf.RateBurst))
	}
	if s.conf.HandlerTimeout > 0 {
		chain = append(chain, middleware.TimeoutMiddleware(s.conf.HandlerTimeout))
	}
	chain = append(chain, s.middlewares...)
	return middleware.Chain(chain...)(s.dispatch)
}

// Start validates the configuration, listens and accepts connections in the background.
func (s *Server) Start() error {
	if err := s.conf.Validate(); err != nil {
		return err
	}
	tlsConf, err := s.conf.TLS.ToGoTLSConfig()
	if err != nil {
		return err
	}
	list, err := transport.Listen(s.conf.ListenAddress, tlsConf)
	if err != nil {
		return err
	}
	s.lock.Lock()
	s.listener = list
	s.lock.Unlock()
	s.acceptWG.Add(1)
	go s.acceptLoop(list)
	s.log.Infof("stream-rpc server listening on %s", list.Addr().String())
	return nil
}

// Addr is the listening address, nil before Start.
func (s *Server) Addr() net.Addr {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) acceptLoop(list net.Listener) {
	defer s.acceptWG.Done()
	for {
		conn, err := list.Accept()
		if err != nil {
			if !s.shutdown.Load() {
				s.log.Errorf("failed to accept connection: %v", err)
			}
			return
		}
		if err := transport.PrepareAccepted(conn); err != nil {
			s.log.Warnf("failed to configure connection from %s: %v", conn.RemoteAddr(), err)
		}
		go s.ServeConn(conn)
	}
}

// ServeConn runs the protocol on conn until it closes. It blocks.
func (s *Server) ServeConn(conn net.Conn) {
	c := newServerConn(s, conn)
	if !s.addConn(c) {
		c.close()
		return
	}
	c.readLoop()
}

func (s *Server) addConn(c *serverConn) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.shuttingDown {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) removeConn(c *serverConn) {
	s.lock.Lock()
	defer s.lock.Unlock()
	delete(s.conns, c)
}

// ConnectionCount returns the number of open connections.
func (s *Server) ConnectionCount() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.conns)
}

func (s *Server) beginRequest() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.shuttingDown {
		return false
	}
	s.inflight.Add(1)
	return true
}

func (s *Server) endRequest() {
	s.inflight.Done()
}

// Stop shuts down with the configured shutdown timeout.
func (s *Server) Stop() error {
	return s.Shutdown(s.conf.ShutdownTimeout)
}

// Shutdown stops accepting connections, waits up to timeout for in-flight requests to be
// answered, then closes every connection. Requests arriving meanwhile are refused with
// ret_code 500.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.lock.Lock()
	if s.shuttingDown {
		s.lock.Unlock()
		return nil
	}
	s.shuttingDown = true
	list := s.listener
	s.lock.Unlock()

	s.shutdown.Store(true)
	if list != nil {
		if err := list.Close(); err != nil {
			s.log.Warnf("failed to close listener: %v", err)
		}
	}

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		err = errors.New("timeout waiting for ongoing requests to finish")
	}

	s.lock.Lock()
	conns := make([]*serverConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.lock.Unlock()
	for _, c := range conns {
		c.close()
	}
	s.acceptWG.Wait()
	s.log.Infof("stream-rpc server stopped")
	return err
}

// dispatch is the innermost HandlerFunc.
func (s *Server) dispatch(ctx context.Context, req *message.Request) *message.Response {
	resp := req.Reply()
	h, ok := s.registry.Lookup(req.FuncName)
	if !ok {
		resp.RetCode = rpcerr.CodeMethodNotFound
		resp.Msg = fmt.Sprintf("method [%s] not found", req.FuncName)
		return resp
	}
	result, err := s.executor.Invoke(ctx, h, handler.NewArgs(req.Args, req.Kw))
	if err != nil {
		resp.RetCode = rpcerr.CodeHandlerError
		resp.Msg = err.Error()
		return resp
	}
	resp.Result = result
	return resp
}
