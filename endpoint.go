package wtlink

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"
)

// Endpoint is the server a client connects to: an address and the
// digest its certificate is pinned to.
//
// An Endpoint owns at most one live [Session] at a time.
type Endpoint struct {
	address string
	digest  CertificateDigest

	cfg config
	tel *telemetry

	lk      sync.Mutex
	current *Session
}

// NewEndpoint validates the address (an `https` URL) and digest, and
// applies options. No network activity happens before Connect.
func NewEndpoint(address string, digest CertificateDigest, opts ...Option) (*Endpoint, error) {
	parsed, err := url.Parse(address)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAddr, err)
	}
	if parsed.Scheme != "https" || parsed.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddr, address)
	}
	if digest.IsZero() {
		return nil, ErrNoCertificateDigest
	}

	ep := &Endpoint{
		address: address,
		digest:  digest,
		cfg:     defaultConfig(),
	}
	for _, opt := range opts {
		if err := opt(&ep.cfg); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidCfg, err)
		}
	}

	if ep.cfg.connector == nil {
		ep.cfg.connector = NewWebTransportConnector(TransportConfig{
			TlsConfig:       ep.cfg.tlsConfig,
			DialTimeout:     ep.cfg.dialTimeout,
			KeepAlivePeriod: ep.cfg.keepAlive,
			MaxIdleTimeout:  ep.cfg.idleTimeout,
		})
	}
	ep.tel = newTelemetry(&ep.cfg)
	ep.tel.logger = ep.tel.logger.With(LabelAddress.L(address))
	return ep, nil
}

func (ep *Endpoint) Address() string {
	return ep.address
}

func (ep *Endpoint) Digest() CertificateDigest {
	return ep.digest
}

// Connect establishes a new [Session]. It fails with
// [ErrSessionActive] if the previous session is still alive, and
// wraps [ErrConnectionUnreachable] if the server could not be reached
// or its certificate did not match. There is no retry.
func (ep *Endpoint) Connect(ctx context.Context) (*Session, error) {
	ep.lk.Lock()
	defer ep.lk.Unlock()
	if ep.current != nil && !ep.current.IsClosed() {
		return nil, ErrSessionActive
	}

	start := time.Now()
	ep.tel.logger.Debug("connecting", LabelDigest.L(ep.digest))
	conn, err := ep.cfg.connector.Connect(ctx, ep.address, ep.digest)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrConnectionUnreachable, err)
		ep.tel.incr(MetricSessionErrorCount, 1.0, LabelError.M(errorKind(err)))
		ep.tel.logger.Error("failed to connect", LabelError.L(err))
		return nil, err
	}

	sess := newSession(conn, &ep.cfg, ep.tel)
	ep.current = sess
	ep.tel.incr(MetricSessionEstCount, 1.0)
	ep.tel.logger.Info("session established", LabelDuration.L(time.Since(start)))
	return sess, nil
}

// Session returns the live session, if any.
func (ep *Endpoint) Session() (*Session, bool) {
	ep.lk.Lock()
	defer ep.lk.Unlock()
	if ep.current == nil || ep.current.IsClosed() {
		return nil, false
	}
	return ep.current, true
}
