package client

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"stream-rpc/codec"
	"stream-rpc/conf"
	"stream-rpc/correlation"
	"stream-rpc/handler"
	"stream-rpc/message"
	"stream-rpc/protocol"
	"stream-rpc/rpcerr"
	"stream-rpc/server"
	"stream-rpc/testutils"
)

type dialFunc func(ctx context.Context, cfg conf.ClientConfig) (Caller, error)

var modes = []struct {
	name string
	dial dialFunc
}{
	{"blocking", func(ctx context.Context, cfg conf.ClientConfig) (Caller, error) {
		return Dial(ctx, cfg)
	}},
	{"loop", func(ctx context.Context, cfg conf.ClientConfig) (Caller, error) {
		return DialLoop(ctx, cfg)
	}},
}

func forEachMode(t *testing.T, test func(t *testing.T, dial dialFunc)) {
	for _, mode := range modes {
		t.Run(mode.name, func(t *testing.T) {
			test(t, mode.dial)
		})
	}
}

func testRegistry(t *testing.T) *handler.Registry {
	t.Helper()
	reg := handler.NewRegistry()
	require.NoError(t, reg.RegisterSync("add", func(ctx context.Context, args *handler.Args) (any, error) {
		a, err := args.Float64(0)
		if err != nil {
			return nil, err
		}
		b, err := args.Float64(1)
		if err != nil {
			return nil, err
		}
		return a + b, nil
	}))
	require.NoError(t, reg.RegisterSync("fail", func(ctx context.Context, args *handler.Args) (any, error) {
		return nil, errors.New("bad")
	}))
	require.NoError(t, reg.RegisterSync("sleep", func(ctx context.Context, args *handler.Args) (any, error) {
		secs, err := args.Float64(0)
		if err != nil {
			return nil, err
		}
		select {
		case <-time.After(time.Duration(secs * float64(time.Second))):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return args.Get(1)
	}))
	require.NoError(t, reg.RegisterSync("echo_kw", func(ctx context.Context, args *handler.Args) (any, error) {
		return args.Keyword, nil
	}))
	return reg
}

func startServer(t *testing.T, mutate func(cfg *conf.ServerConfig)) *server.Server {
	t.Helper()
	cfg := conf.ServerConfig{ListenAddress: "127.0.0.1:0"}
	if mutate != nil {
		mutate(&cfg)
	}
	s := server.NewServer(cfg, testRegistry(t))
	require.NoError(t, s.Start())
	t.Cleanup(func() {
		_ = s.Shutdown(time.Second)
	})
	return s
}

func clientConfig(addr net.Addr) conf.ClientConfig {
	cfg := conf.DefaultClientConfig()
	cfg.Port = addr.(*net.TCPAddr).Port
	return cfg
}

func connect(t *testing.T, dial dialFunc, cfg conf.ClientConfig) Caller {
	t.Helper()
	c, err := dial(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = c.Close()
	})
	return c
}

func pending(c Caller) int {
	switch cl := c.(type) {
	case *Client:
		return cl.Pending()
	case *LoopClient:
		return cl.Pending()
	}
	return -1
}

func closed(c Caller) <-chan struct{} {
	switch cl := c.(type) {
	case *Client:
		return cl.Closed()
	case *LoopClient:
		return cl.Closed()
	}
	return nil
}

func TestCall(t *testing.T) {
	s := startServer(t, nil)
	forEachMode(t, func(t *testing.T, dial dialFunc) {
		c := connect(t, dial, clientConfig(s.Addr()))
		res, err := c.Call(context.Background(), "add", 2, 3)
		require.NoError(t, err)
		require.Equal(t, float64(5), res)
	})
}

func TestMethodNotFound(t *testing.T) {
	s := startServer(t, nil)
	forEachMode(t, func(t *testing.T, dial dialFunc) {
		c := connect(t, dial, clientConfig(s.Addr()))
		_, err := c.Call(context.Background(), "sub", 2, 3)
		require.True(t, rpcerr.IsMethodNotFound(err))
		require.EqualError(t, err, "method [sub] not found")

		// the connection stays usable
		res, err := c.Call(context.Background(), "add", 1, 1)
		require.NoError(t, err)
		require.Equal(t, float64(2), res)
	})
}

func TestHandlerError(t *testing.T) {
	s := startServer(t, nil)
	forEachMode(t, func(t *testing.T, dial dialFunc) {
		c := connect(t, dial, clientConfig(s.Addr()))
		_, err := c.Call(context.Background(), "fail")
		require.True(t, rpcerr.IsHandlerError(err))
		var re *rpcerr.RemoteError
		require.True(t, errors.As(err, &re))
		require.Equal(t, 500, re.Code)
		require.Equal(t, "bad", re.Msg)
	})
}

func TestMethodProxy(t *testing.T) {
	s := startServer(t, nil)
	forEachMode(t, func(t *testing.T, dial dialFunc) {
		c := connect(t, dial, clientConfig(s.Addr()))
		add := c.Method("add")
		res, err := add(context.Background(), 40, 2)
		require.NoError(t, err)
		require.Equal(t, float64(42), res)
	})
}

func TestCallKw(t *testing.T) {
	s := startServer(t, nil)
	forEachMode(t, func(t *testing.T, dial dialFunc) {
		c := connect(t, dial, clientConfig(s.Addr()))
		res, err := c.CallKw(context.Background(), "echo_kw", nil, map[string]any{"name": "x"})
		require.NoError(t, err)
		require.Equal(t, map[string]any{"name": "x"}, res)
	})
}

func TestConcurrentCalls(t *testing.T) {
	s := startServer(t, nil)
	forEachMode(t, func(t *testing.T, dial dialFunc) {
		cfg := clientConfig(s.Addr())
		cfg.Unordered = true
		c := connect(t, dial, cfg)
		var g errgroup.Group
		for i := 0; i < 50; i++ {
			i := i
			g.Go(func() error {
				res, err := c.Call(context.Background(), "add", i, i)
				if err != nil {
					return err
				}
				if res != float64(2*i) {
					return fmt.Errorf("add(%d, %d) returned %v", i, i, res)
				}
				return nil
			})
		}
		require.NoError(t, g.Wait())
		require.Zero(t, pending(c))
	})
}

func TestOrderingModes(t *testing.T) {
	s := startServer(t, nil)
	forEachMode(t, func(t *testing.T, dial dialFunc) {
		for _, inOrder := range []bool{true, false} {
			cfg := clientConfig(s.Addr())
			cfg.Unordered = !inOrder
			c := connect(t, dial, cfg)
			slow, err := c.CallAsync("sleep", []any{0.2, "slow"}, nil)
			require.NoError(t, err)
			fast, err := c.CallAsync("sleep", []any{0, "fast"}, nil)
			require.NoError(t, err)

			var first string
			select {
			case <-slow.Done():
				first = "slow"
			case <-fast.Done():
				first = "fast"
			case <-time.After(5 * time.Second):
				require.FailNow(t, "no response")
			}
			if inOrder {
				require.Equal(t, "slow", first)
			} else {
				require.Equal(t, "fast", first)
			}
			res, err := slow.Wait()
			require.NoError(t, err)
			require.Equal(t, "slow", res)
			res, err = fast.Wait()
			require.NoError(t, err)
			require.Equal(t, "fast", res)
			require.NoError(t, c.Close())
		}
	})
}

func TestCloseAbortsPending(t *testing.T) {
	s := startServer(t, nil)
	forEachMode(t, func(t *testing.T, dial dialFunc) {
		c := connect(t, dial, clientConfig(s.Addr()))
		var calls []*correlation.Call
		for i := 0; i < 5; i++ {
			call, err := c.CallAsync("sleep", []any{10, i}, nil)
			require.NoError(t, err)
			calls = append(calls, call)
		}
		require.Equal(t, 5, pending(c))
		require.NoError(t, c.Close())
		require.NoError(t, c.Close())

		for _, call := range calls {
			_, err := call.Wait()
			require.ErrorIs(t, err, rpcerr.ErrConnectionAborted)
		}
		require.Zero(t, pending(c))

		_, err := c.Call(context.Background(), "add", 1, 2)
		require.Error(t, err)
		require.True(t, errors.Is(err, rpcerr.ErrClientClosed) || errors.Is(err, rpcerr.ErrConnectionAborted))
	})
}

func TestServerGoneAbortsPending(t *testing.T) {
	forEachMode(t, func(t *testing.T, dial dialFunc) {
		s := startServer(t, nil)
		c := connect(t, dial, clientConfig(s.Addr()))
		call, err := c.CallAsync("sleep", []any{10, "never"}, nil)
		require.NoError(t, err)
		testutils.WaitUntil(t, func() (bool, error) {
			return s.ConnectionCount() == 1, nil
		})
		_ = s.Shutdown(10 * time.Millisecond)

		_, err = call.Wait()
		require.ErrorIs(t, err, rpcerr.ErrConnectionAborted)
		select {
		case <-closed(c):
		case <-time.After(5 * time.Second):
			require.FailNow(t, "client did not notice the server going away")
		}
	})
}

func TestCallContext(t *testing.T) {
	s := startServer(t, nil)
	forEachMode(t, func(t *testing.T, dial dialFunc) {
		c := connect(t, dial, clientConfig(s.Addr()))
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err := c.Call(ctx, "sleep", 1, "late")
		require.ErrorIs(t, err, context.DeadlineExceeded)

		cfg := clientConfig(s.Addr())
		cfg.CallTimeout = 20 * time.Millisecond
		c2 := connect(t, dial, cfg)
		_, err = c2.Call(context.Background(), "sleep", 1, "late")
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestTLS(t *testing.T) {
	files := testutils.NewSelfSignedCert(t)
	s := startServer(t, func(cfg *conf.ServerConfig) {
		cfg.TLS = conf.TLSConf{Enabled: true, ServerCertFile: files.CertPath, ServerPrivateKeyFile: files.KeyPath}
	})
	forEachMode(t, func(t *testing.T, dial dialFunc) {
		cfg := clientConfig(s.Addr())
		cfg.TLS = conf.ClientTLSConf{Enabled: true, ServerCertFile: files.CertPath, ServerName: "localhost"}
		c := connect(t, dial, cfg)
		res, err := c.Call(context.Background(), "add", 2, 3)
		require.NoError(t, err)
		require.Equal(t, float64(5), res)

		cfg.TLS.ServerName = ""
		_, err = dial(context.Background(), cfg)
		require.Error(t, err)
		require.Contains(t, err.Error(), "tls-server-name missing")
	})
}

func TestDialFails(t *testing.T) {
	forEachMode(t, func(t *testing.T, dial dialFunc) {
		list, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		cfg := clientConfig(list.Addr())
		require.NoError(t, list.Close())
		_, err = dial(context.Background(), cfg)
		require.Error(t, err)
	})
}

// fakeServer answers every request twice, so the second answer hits an unknown id.
func fakeServer(t *testing.T) net.Addr {
	t.Helper()
	list, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = list.Close()
	})
	go func() {
		for {
			conn, err := list.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				answered := false
				framer := protocol.NewFramer(0, func(msg message.Message) error {
					if msg.Kind != message.KindRequest || answered {
						return nil
					}
					answered = true
					resp := msg.Request.Reply()
					resp.Result = "once"
					data, err := codec.Default.Encode(message.NewResponse(resp))
					if err != nil {
						return err
					}
					_, err = conn.Write(append(data, data...))
					return err
				})
				buf := make([]byte, 1024)
				for {
					n, err := conn.Read(buf)
					if n > 0 {
						if ferr := framer.Feed(buf[:n]); ferr != nil && !errors.Is(ferr, rpcerr.ErrNeedMore) {
							return
						}
					}
					if err != nil {
						return
					}
				}
			}()
		}
	}()
	return list.Addr()
}

func TestDuplicateResponseAbortsConnection(t *testing.T) {
	addr := fakeServer(t)
	forEachMode(t, func(t *testing.T, dial dialFunc) {
		c := connect(t, dial, clientConfig(addr))
		first, err := c.CallAsync("a", nil, nil)
		require.NoError(t, err)
		res, err := first.Wait()
		require.NoError(t, err)
		require.Equal(t, "once", res)

		select {
		case <-closed(c):
		case <-time.After(5 * time.Second):
			require.FailNow(t, "duplicate response did not close the connection")
		}
		_, err = c.Call(context.Background(), "b")
		require.Error(t, err)
	})
}

func TestDuplicateResponseFailsOtherPending(t *testing.T) {
	forEachMode(t, func(t *testing.T, dial dialFunc) {
		list, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		defer list.Close()
		requests := make(chan *message.Request, 10)
		go func() {
			conn, err := list.Accept()
			if err != nil {
				return
			}
			framer := protocol.NewFramer(0, func(msg message.Message) error {
				if msg.Kind == message.KindRequest {
					requests <- msg.Request
				}
				return nil
			})
			go func() {
				buf := make([]byte, 1024)
				for {
					n, err := conn.Read(buf)
					if n > 0 {
						_ = framer.Feed(buf[:n])
					}
					if err != nil {
						return
					}
				}
			}()
			req := <-requests
			<-requests
			resp := req.Reply()
			data, _ := codec.Default.Encode(message.NewResponse(resp))
			_, _ = conn.Write(append(data, data...))
		}()

		c := connect(t, dial, clientConfig(list.Addr()))
		a, err := c.CallAsync("a", nil, nil)
		require.NoError(t, err)
		b, err := c.CallAsync("b", nil, nil)
		require.NoError(t, err)

		_, err = a.Wait()
		require.NoError(t, err)
		_, err = b.Wait()
		require.ErrorIs(t, err, rpcerr.ErrConnectionAborted)
		require.ErrorIs(t, err, rpcerr.ErrUnknownRequestID)
	})
}

func TestDecodeResult(t *testing.T) {
	type pair struct {
		A int `json:"a"`
		B int `json:"b"`
	}
	var p pair
	require.NoError(t, DecodeResult(map[string]any{"a": float64(1), "b": float64(2)}, &p))
	require.Equal(t, pair{A: 1, B: 2}, p)
	require.Error(t, DecodeResult("x", &p))
}

func TestHandshakeFromConfigLiteralIsInOrder(t *testing.T) {
	cfg := conf.ClientConfig{Host: "127.0.0.1", Port: 9000}
	cfg.ApplyDefaults()
	s := &session{conf: cfg, codec: codec.Default}
	data, err := s.handshake()
	require.NoError(t, err)
	msg, err := codec.Default.Decode(data)
	require.NoError(t, err)
	require.Equal(t, message.KindHandshake, msg.Kind)
	require.True(t, msg.Handshake.InOrder)

	s.conf.Unordered = true
	data, err = s.handshake()
	require.NoError(t, err)
	msg, err = codec.Default.Decode(data)
	require.NoError(t, err)
	require.False(t, msg.Handshake.InOrder)
}
