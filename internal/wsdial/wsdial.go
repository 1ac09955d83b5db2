// Package wsdial builds a configured gorilla/websocket dialer,
// centralizing timeouts,
// buffer sizing, and header defaults behind a small set of functional
// options instead of leaving every call site to configure a
// websocket.Dialer by hand.
package wsdial

import (
	"crypto/tls"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Default timeouts and buffer sizes for the dialer.
const (
	// DefaultHandshakeTimeout is the maximum time to complete the
	// WebSocket opening handshake.
	DefaultHandshakeTimeout = 10 * time.Second

	// DefaultReadBufferSize is the dialer's read buffer size.
	DefaultReadBufferSize = 4096

	// DefaultWriteBufferSize is the dialer's write buffer size.
	DefaultWriteBufferSize = 4096

	// DefaultReadLimit bounds the size of a single inbound frame.
	// Collection snapshots can be large; this is generous but not
	// unbounded.
	DefaultReadLimit = 32 * 1024 * 1024
)

// Option configures a Dialer built by New.
type Option func(*config)

type config struct {
	handshakeTimeout time.Duration
	readBufferSize   int
	writeBufferSize  int
	readLimit        int64
	tlsConfig        *tls.Config
	header           http.Header
}

// WithHandshakeTimeout overrides the opening-handshake timeout.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *config) { c.handshakeTimeout = d }
}

// WithBufferSizes overrides the dialer's read/write buffer sizes.
func WithBufferSizes(read, write int) Option {
	return func(c *config) { c.readBufferSize, c.writeBufferSize = read, write }
}

// WithReadLimit overrides the maximum size of a single inbound frame.
func WithReadLimit(n int64) Option {
	return func(c *config) { c.readLimit = n }
}

// WithTLSConfig overrides the TLS configuration used for wss:// URLs.
func WithTLSConfig(tc *tls.Config) Option {
	return func(c *config) { c.tlsConfig = tc }
}

// WithHeader adds a header sent with the opening handshake request,
// e.g. a User-Agent or an auth token carried outside the protocol.
func WithHeader(key, value string) Option {
	return func(c *config) {
		if c.header == nil {
			c.header = make(http.Header)
		}
		c.header.Add(key, value)
	}
}

// Dialer bundles a configured websocket.Dialer with the header to send
// and the read limit to apply to new connections (websocket.Dialer has
// no read-limit field of its own; it's set per-connection after dial).
type Dialer struct {
	WS        *websocket.Dialer
	Header    http.Header
	ReadLimit int64
}

// New builds a Dialer with sensible defaults, overridden by opts.
func New(opts ...Option) *Dialer {
	cfg := &config{
		handshakeTimeout: DefaultHandshakeTimeout,
		readBufferSize:   DefaultReadBufferSize,
		writeBufferSize:  DefaultWriteBufferSize,
		readLimit:        DefaultReadLimit,
	}
	for _, o := range opts {
		o(cfg)
	}

	return &Dialer{
		WS: &websocket.Dialer{
			HandshakeTimeout: cfg.handshakeTimeout,
			ReadBufferSize:   cfg.readBufferSize,
			WriteBufferSize:  cfg.writeBufferSize,
			TLSClientConfig:  cfg.tlsConfig,
		},
		Header:    cfg.header,
		ReadLimit: cfg.readLimit,
	}
}
