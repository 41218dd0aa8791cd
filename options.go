package wtlink

import (
	"crypto/tls"
	"log/slog"
	"time"

	"github.com/hashicorp/go-metrics"
	"github.com/raskyld/wtlink/pkg/flow"
)

type config struct {
	logHandler   slog.Handler
	msink        metrics.MetricSink
	metricLabels []metrics.Label

	tlsConfig   *tls.Config
	dialTimeout time.Duration
	keepAlive   time.Duration
	idleTimeout time.Duration
	connector   Connector

	rawFraming     bool
	maxMessageSize int

	onChannelEvent func(ChannelEvent)
}

func defaultConfig() config {
	return config{
		dialTimeout:    30 * time.Second,
		keepAlive:      10 * time.Second,
		idleTimeout:    1 * time.Minute,
		maxMessageSize: flow.DefaultMaxMessageSize,
	}
}

// codec returns the framing used by every channel of a session.
func (c *config) codec() flow.Codec {
	if c.rawFraming {
		return flow.NewRawCodec(c.maxMessageSize)
	}
	return flow.NewBytesCodec(c.maxMessageSize)
}

// Option to pass to `NewEndpoint`
type Option func(*config) error

// WithLog specifies which `slog.Handler` to use.
func WithLog(handler slog.Handler) Option {
	return func(c *config) error {
		c.logHandler = handler
		return nil
	}
}

// WithMetricLabels adds static labels to all metrics produced by the
// sessions of the endpoint.
func WithMetricLabels(labels []metrics.Label) Option {
	return func(c *config) error {
		c.metricLabels = labels
		return nil
	}
}

// WithMetricSink allows you to chose how to collect the metrics emitted
// by your sessions.
func WithMetricSink(ms metrics.MetricSink) Option {
	return func(c *config) error {
		if ms == nil {
			ms = &metrics.BlackholeSink{}
		}
		c.msink = ms
		return nil
	}
}

// WithTlsConfig sets the base `tls.Config` of the connection, e.g. to
// present a client certificate. Server verification is always
// replaced by certificate pinning.
func WithTlsConfig(tlsConf *tls.Config) Option {
	return func(c *config) error {
		if tlsConf == nil {
			return ErrInvalidCfg
		}
		c.tlsConfig = tlsConf.Clone()
		return nil
	}
}

// WithDialTimeout controls how much time we are willing to wait for the
// server to accept the session.
func WithDialTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		c.dialTimeout = timeout
		return nil
	}
}

// WithKeepAlive controls how often the connection is kept alive when
// no channel traffic happens. A negative value disables keep-alives.
func WithKeepAlive(period time.Duration) Option {
	return func(c *config) error {
		if period == 0 {
			period = 10 * time.Second
		}
		c.keepAlive = period
		return nil
	}
}

// WithIdleTimeout controls after how much silence from the server the
// session is considered dead.
func WithIdleTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		if timeout == 0 {
			timeout = 1 * time.Minute
		}
		c.idleTimeout = timeout
		return nil
	}
}

// WithRawFraming disables length-prefixing: every Write is assumed to
// reach the peer as exactly one Read.
//
// Only use it against servers which do not frame their messages, it is
// incorrect as soon as the transport coalesces or splits writes.
func WithRawFraming() Option {
	return func(c *config) error {
		c.rawFraming = true
		return nil
	}
}

// WithMaxMessageSize bounds the size of a single message, in both
// directions. Defaults to 64 KiB.
func WithMaxMessageSize(size int) Option {
	return func(c *config) error {
		if size < 0 {
			return ErrInvalidCfg
		}
		if size == 0 {
			size = flow.DefaultMaxMessageSize
		}
		c.maxMessageSize = size
		return nil
	}
}

// WithConnector replaces the WebTransport dialer, mostly useful for
// tests or to tunnel sessions over another transport.
func WithConnector(connector Connector) Option {
	return func(c *config) error {
		if connector == nil {
			return ErrInvalidCfg
		}
		c.connector = connector
		return nil
	}
}

// WithChannelEventHandler registers a callback invoked once per channel
// when its receive loop ends, whatever the reason.
//
// It is called from the loop goroutine and MUST NOT block.
func WithChannelEventHandler(handler func(ChannelEvent)) Option {
	return func(c *config) error {
		c.onChannelEvent = handler
		return nil
	}
}
