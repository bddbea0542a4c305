// Package conf holds the server and client configuration. Struct tags drive the kong command
// line and the HCL config file of the binaries.
package conf

import (
	"time"

	"github.com/pkg/errors"
)

const (
	DefaultListenAddress    = "127.0.0.1:8080"
	DefaultMaxPayloadLength = 16 * 1024 * 1024
	DefaultWorkers          = 64
	DefaultMaxUnwrapDepth   = 16
	DefaultInOrderQueueSize = 1024
	DefaultShutdownTimeout  = 10 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
)

type ServerConfig struct {
	ListenAddress    string        `help:"Address to listen on for client connections" default:"127.0.0.1:8080"`
	MaxPayloadLength int           `help:"Largest number of bytes a peer may leave buffered in an incomplete message" default:"16777216"`
	Workers          int64         `help:"Worker goroutines available to synchronous handlers" default:"64"`
	MaxUnwrapDepth   int           `help:"Levels of nested deferred results a handler may return" default:"16"`
	InOrderQueueSize int           `help:"Requests an in-order connection may have in flight before reading pauses" default:"1024"`
	RateLimit        float64       `help:"Requests per second accepted per server, 0 disables rate limiting" default:"0"`
	RateBurst        int           `help:"Burst size for the rate limiter" default:"100"`
	HandlerTimeout   time.Duration `help:"Longest a handler may run before its call fails, 0 disables the limit" default:"0"`
	ShutdownTimeout  time.Duration `help:"How long shutdown waits for in-flight requests" default:"10s"`
	TLS              TLSConf       `help:"TLS configuration for the listener" embed:"" prefix:"tls-"`
}

func (c *ServerConfig) ApplyDefaults() {
	if c.ListenAddress == "" {
		c.ListenAddress = DefaultListenAddress
	}
	if c.MaxPayloadLength == 0 {
		c.MaxPayloadLength = DefaultMaxPayloadLength
	}
	if c.Workers == 0 {
		c.Workers = DefaultWorkers
	}
	if c.MaxUnwrapDepth == 0 {
		c.MaxUnwrapDepth = DefaultMaxUnwrapDepth
	}
	if c.InOrderQueueSize == 0 {
		c.InOrderQueueSize = DefaultInOrderQueueSize
	}
	if c.RateLimit > 0 && c.RateBurst == 0 {
		c.RateBurst = 1
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
}

func (c *ServerConfig) Validate() error {
	if c.ListenAddress == "" {
		return errors.New("invalid configuration - listen-address must be specified")
	}
	if c.MaxPayloadLength < 0 {
		return errors.New("invalid configuration - max-payload-length must be > 0")
	}
	if c.Workers < 0 {
		return errors.New("invalid configuration - workers must be > 0")
	}
	if c.MaxUnwrapDepth < 0 {
		return errors.New("invalid configuration - max-unwrap-depth must be > 0")
	}
	if c.InOrderQueueSize < 0 {
		return errors.New("invalid configuration - in-order-queue-size must be > 0")
	}
	if c.RateLimit < 0 {
		return errors.New("invalid configuration - rate-limit must be >= 0")
	}
	if c.RateLimit > 0 && c.RateBurst <= 0 {
		return errors.New("invalid configuration - rate-burst must be > 0 when rate-limit is set")
	}
	if c.HandlerTimeout < 0 {
		return errors.New("invalid configuration - handler-timeout must be >= 0")
	}
	if c.ShutdownTimeout < 0 {
		return errors.New("invalid configuration - shutdown-timeout must be >= 0")
	}
	return c.TLS.Validate()
}

type ClientConfig struct {
	Host             string        `help:"Server host" default:"127.0.0.1"`
	Port             int           `help:"Server port" default:"8080"`
	Unordered        bool          `help:"Let the server answer requests as they complete instead of in the order they were sent"`
	Timeout          time.Duration `help:"Timeout advertised to the server in the handshake" default:"10s"`
	MaxPayloadLength int           `help:"Largest number of bytes the server may leave buffered in an incomplete message" default:"16777216"`
	CallTimeout      time.Duration `help:"Default time a call waits for its response, 0 waits forever" default:"0"`
	TLS              ClientTLSConf `help:"TLS configuration for the connection" embed:"" prefix:"tls-"`
}

// DefaultClientConfig returns the client configuration the kong defaults describe.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Host:             "127.0.0.1",
		Port:             8080,
		Timeout:          DefaultHandshakeTimeout,
		MaxPayloadLength: DefaultMaxPayloadLength,
	}
}

// InOrder reports whether the handshake asks for responses in request order.
func (c *ClientConfig) InOrder() bool {
	return !c.Unordered
}

func (c *ClientConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultHandshakeTimeout
	}
	if c.MaxPayloadLength == 0 {
		c.MaxPayloadLength = DefaultMaxPayloadLength
	}
}

func (c *ClientConfig) Validate() error {
	if c.Host == "" {
		return errors.New("invalid configuration - host must be specified")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return errors.Errorf("invalid configuration - port %d is out of range", c.Port)
	}
	if c.Timeout < 0 {
		return errors.New("invalid configuration - timeout must be >= 0")
	}
	if c.MaxPayloadLength < 0 {
		return errors.New("invalid configuration - max-payload-length must be > 0")
	}
	if c.CallTimeout < 0 {
		return errors.New("invalid configuration - call-timeout must be >= 0")
	}
	return c.TLS.Validate()
}
