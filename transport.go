package wtlink

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"github.com/quic-go/webtransport-go"
	"github.com/raskyld/wtlink/pkg/flow"
)

// Connector establishes the secure connection a [Session] runs on.
type Connector interface {
	Connect(ctx context.Context, address string, digest CertificateDigest) (Conn, error)
}

// Conn is an established connection able to multiplex bidirectional
// streams.
type Conn interface {
	// OpenStream opens a new bidirectional stream.
	OpenStream(ctx context.Context) (flow.Raw, error)
	// CloseWithError tears the connection down, every stream fails.
	CloseWithError(code webtransport.SessionErrorCode, msg string) error
	// Done is closed once the connection is closed, whoever closed it.
	Done() <-chan struct{}
	// Err returns why the connection was closed, or nil.
	Err() error
}

// connectionLost reports whether a stream error comes from the loss of
// the whole connection rather than of the stream alone.
func connectionLost(err error) bool {
	var (
		sessErr      *webtransport.SessionError
		appErr       *quic.ApplicationError
		idleErr      *quic.IdleTimeoutError
		resetErr     *quic.StatelessResetError
		transportErr *quic.TransportError
	)
	return errors.As(err, &sessErr) ||
		errors.As(err, &appErr) ||
		errors.As(err, &idleErr) ||
		errors.As(err, &resetErr) ||
		errors.As(err, &transportErr)
}

// TransportConfig represents configuration for the WebTransport
// connector.
type TransportConfig struct {
	// TlsConfig is the base TLS configuration. Server certificate
	// verification is replaced by digest pinning.
	TlsConfig *tls.Config

	// DialTimeout bounds the QUIC handshake plus the WebTransport
	// session establishment.
	DialTimeout time.Duration

	// KeepAlivePeriod of the QUIC connection, negative disables it.
	KeepAlivePeriod time.Duration

	// MaxIdleTimeout of the QUIC connection.
	MaxIdleTimeout time.Duration
}

// WebTransportConnector dials WebTransport sessions over HTTP/3.
type WebTransportConnector struct {
	cfg TransportConfig
}

var _ Connector = (*WebTransportConnector)(nil)

func NewWebTransportConnector(cfg TransportConfig) *WebTransportConnector {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 30 * time.Second
	}
	return &WebTransportConnector{cfg: cfg}
}

func (c *WebTransportConnector) quicConfig() *quic.Config {
	qconf := &quic.Config{
		// WebTransport requires HTTP/3 datagram support to be
		// negotiated even if we only use streams.
		EnableDatagrams:      true,
		HandshakeIdleTimeout: c.cfg.DialTimeout,
		MaxIdleTimeout:       c.cfg.MaxIdleTimeout,
	}
	if c.cfg.KeepAlivePeriod > 0 {
		qconf.KeepAlivePeriod = c.cfg.KeepAlivePeriod
	}
	return qconf
}

func (c *WebTransportConnector) Connect(
	ctx context.Context,
	address string,
	digest CertificateDigest,
) (Conn, error) {
	var tlsConf *tls.Config
	if c.cfg.TlsConfig != nil {
		tlsConf = c.cfg.TlsConfig.Clone()
	} else {
		tlsConf = &tls.Config{}
	}

	var pinFailed atomic.Bool
	verify := PinnedVerifier(digest)
	tlsConf.InsecureSkipVerify = true
	tlsConf.VerifyPeerCertificate = func(raw [][]byte, chains [][]*x509.Certificate) error {
		if err := verify(raw, chains); err != nil {
			pinFailed.Store(true)
			return err
		}
		return nil
	}
	tlsConf.NextProtos = []string{http3.NextProtoH3}
	if tlsConf.MinVersion < tls.VersionTLS13 {
		tlsConf.MinVersion = tls.VersionTLS13
	}

	dialer := &webtransport.Dialer{
		TLSClientConfig: tlsConf,
		QUICConfig:      c.quicConfig(),
	}

	// NB: the context given to Dial outlives it, cancelling it later
	// tears the session down. We only cancel it on dial failure or
	// when the connection is closed.
	sessCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	timer := time.AfterFunc(c.cfg.DialTimeout, cancel)
	stop := context.AfterFunc(ctx, cancel)

	rsp, sess, err := dialer.Dial(sessCtx, address, nil)
	timedOut := !timer.Stop()
	cancelled := !stop()
	if err != nil || timedOut || cancelled {
		cancel()
		if sess != nil {
			_ = sess.CloseWithError(SErrInternal.Code, "dial aborted")
		}
		switch {
		case err != nil:
		case cancelled:
			err = ctx.Err()
		default:
			err = context.DeadlineExceeded
		}
		if pinFailed.Load() {
			return nil, fmt.Errorf("%w: %w", ErrCertificatePin, err)
		}
		if rsp != nil {
			return nil, fmt.Errorf("server answered %s: %w", rsp.Status, err)
		}
		return nil, err
	}

	return &wtConn{sess: sess, cancel: cancel}, nil
}

type wtConn struct {
	sess      *webtransport.Session
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func (c *wtConn) OpenStream(ctx context.Context) (flow.Raw, error) {
	stream, err := c.sess.OpenStreamSync(ctx)
	if err != nil {
		return flow.Raw{}, err
	}
	return flow.Split(stream), nil
}

func (c *wtConn) CloseWithError(code webtransport.SessionErrorCode, msg string) (err error) {
	c.closeOnce.Do(func() {
		err = c.sess.CloseWithError(code, msg)
		c.cancel()
	})
	return
}

func (c *wtConn) Done() <-chan struct{} {
	return c.sess.Context().Done()
}

func (c *wtConn) Err() error {
	return context.Cause(c.sess.Context())
}
