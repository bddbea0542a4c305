// Package transport opens the byte streams the protocol runs on: plain TCP, or TCP wrapped
// in TLS when a *tls.Config is given.
package transport

import (
	"context"
	"crypto/tls"
	"net"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

const dialTimeout = 5 * time.Second

// Dial connects to host:port. With tlsConf set the TLS handshake completes before Dial
// returns.
func Dial(ctx context.Context, host string, port int, tlsConf *tls.Config) (net.Conn, error) {
	address := net.JoinHostPort(host, strconv.Itoa(port))
	d := &net.Dialer{Timeout: dialTimeout}
	var netConn net.Conn
	var tcpConn *net.TCPConn
	if tlsConf != nil {
		td := &tls.Dialer{NetDialer: d, Config: tlsConf}
		conn, err := td.DialContext(ctx, "tcp", address)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to connect to %s", address)
		}
		netConn = conn
		tcpConn, _ = conn.(*tls.Conn).NetConn().(*net.TCPConn)
	} else {
		conn, err := d.DialContext(ctx, "tcp", address)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to connect to %s", address)
		}
		netConn = conn
		tcpConn, _ = conn.(*net.TCPConn)
	}
	if tcpConn != nil {
		if err := configureTCP(tcpConn); err != nil {
			_ = netConn.Close()
			return nil, err
		}
	}
	return netConn, nil
}

// Listen listens on address. With tlsConf set, accepted connections are TLS server
// connections.
func Listen(address string, tlsConf *tls.Config) (net.Listener, error) {
	list, err := net.Listen("tcp", address)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to listen on %s", address)
	}
	if tlsConf != nil {
		list = tls.NewListener(list, tlsConf)
	}
	return list, nil
}

// PrepareAccepted applies the TCP options used for every connection.
func PrepareAccepted(conn net.Conn) error {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		if tc, isTLS := conn.(*tls.Conn); isTLS {
			tcpConn, ok = tc.NetConn().(*net.TCPConn)
		}
	}
	if !ok {
		return nil
	}
	return configureTCP(tcpConn)
}

func configureTCP(tcpConn *net.TCPConn) error {
	if err := tcpConn.SetNoDelay(true); err != nil {
		return errors.WithStack(err)
	}
	if err := tcpConn.SetKeepAlive(true); err != nil {
		return errors.WithStack(err)
	}
	return nil
}
