package wtlink

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/glycerine/idem"
)

// Session is an established connection to an [Endpoint], hosting at
// most one live [Channel] per [Category].
type Session struct {
	conn Conn
	cfg  *config
	tel  *telemetry
	disp *dispatcher

	// closed is closed exactly once, when the connection is gone.
	closed *idem.IdemCloseChan

	lk       sync.Mutex
	closing  bool
	closeErr *ClosedError
	channels map[Category]*Channel
	pending  map[Category]struct{}
}

func newSession(conn Conn, cfg *config, tel *telemetry) *Session {
	s := &Session{
		conn:     conn,
		cfg:      cfg,
		tel:      tel,
		closed:   idem.NewIdemCloseChan(),
		channels: make(map[Category]*Channel),
		pending:  make(map[Category]struct{}),
	}
	s.disp = newDispatcher(tel, conn.Done(), s.isClosing, s.release, cfg.onChannelEvent)
	go s.watch()
	return s
}

// OpenChannel performs the init handshake for category in the context
// contextID, then starts delivering every inbound message to consumer
// along with hostCtx.
//
// On failure a [*HandshakeError] is returned and nothing is left
// registered. ctx bounds the handshake only, not the channel lifetime.
func (s *Session) OpenChannel(
	ctx context.Context,
	category Category,
	contextID string,
	consumer Consumer,
	hostCtx any,
) (*Channel, error) {
	fail := func(err error) error {
		s.tel.incr(MetricHandshakeErrorCount, 1.0,
			LabelCategory.M(category.String()), LabelError.M(errorKind(err)))
		return &HandshakeError{
			Category:  category,
			ContextID: contextID,
			State:     StateOpening,
			Err:       err,
		}
	}

	if !category.Valid() {
		return nil, fail(fmt.Errorf("%w: %d", ErrUnknownCategory, uint8(category)))
	}
	if consumer == nil {
		return nil, fail(fmt.Errorf("%w: nil consumer", ErrInvalidCfg))
	}

	s.lk.Lock()
	if s.closing {
		s.lk.Unlock()
		return nil, fail(ErrSessionNotActive)
	}
	if _, busy := s.pending[category]; busy {
		s.lk.Unlock()
		return nil, fail(ErrChannelExists)
	}
	if _, live := s.channels[category]; live {
		s.lk.Unlock()
		return nil, fail(ErrChannelExists)
	}
	s.pending[category] = struct{}{}
	s.lk.Unlock()

	ch, err := s.handshake(ctx, category, contextID)

	s.lk.Lock()
	defer s.lk.Unlock()
	delete(s.pending, category)
	if err != nil {
		return nil, err
	}
	if s.closing {
		ch.abortWith(ErrSessionNotActive)
		return nil, fail(ErrSessionNotActive)
	}
	s.channels[category] = ch
	s.disp.start(ch, consumer, hostCtx)
	return ch, nil
}

// Channel returns the live channel of a category.
func (s *Session) Channel(category Category) (*Channel, bool) {
	s.lk.Lock()
	defer s.lk.Unlock()
	ch, ok := s.channels[category]
	return ch, ok
}

// Send sends msg on the live channel of category.
func (s *Session) Send(ctx context.Context, category Category, msg string) error {
	if s.IsClosed() {
		return ErrSessionNotActive
	}
	ch, ok := s.Channel(category)
	if !ok {
		return fmt.Errorf("%w: %s", ErrChannelNotOpen, category)
	}
	return ch.Send(ctx, msg)
}

// Close tears down the connection: every send handle fails with
// `flow.ErrStreamClosed` and every receive loop ends with
// [ErrChannelClosed]. It is a no-op on a closed session.
func (s *Session) Close() error {
	if !s.markClosing(&ClosedError{By: ClosedByUser, Msg: "closed by client"}) {
		return nil
	}
	err := SErrNormal.Close(s.conn, "client closed the session")
	s.teardown()
	return err
}

// Closed is closed once the session ended, locally or remotely.
func (s *Session) Closed() <-chan struct{} {
	return s.closed.Chan
}

func (s *Session) IsClosed() bool {
	return s.closed.IsClosed()
}

// Err returns a [*ClosedError] once the session is closed.
func (s *Session) Err() error {
	s.lk.Lock()
	defer s.lk.Unlock()
	if s.closeErr == nil {
		return nil
	}
	return s.closeErr
}

// Wait blocks until the session is closed, locally or remotely, and
// every receive loop of the session ended.
func (s *Session) Wait() {
	<-s.closed.Chan
	s.disp.wait()
}

func (s *Session) watch() {
	select {
	case <-s.closed.Chan:
		return
	case <-s.conn.Done():
	}

	msg := "connection lost"
	if cause := s.conn.Err(); cause != nil {
		msg = cause.Error()
	}
	if s.markClosing(&ClosedError{By: ClosedByRemote, Msg: msg}) {
		// release what the transport may still hold for us.
		_ = SErrInternal.Close(s.conn, "connection lost")
		s.teardown()
	}
}

// markClosing records why the session ends, it reports whether the
// caller is the one who must tear it down.
func (s *Session) markClosing(cause *ClosedError) bool {
	s.lk.Lock()
	defer s.lk.Unlock()
	if s.closing {
		return false
	}
	s.closing = true
	s.closeErr = cause
	return true
}

func (s *Session) teardown() {
	s.lk.Lock()
	cause := s.closeErr
	channels := make([]*Channel, 0, len(s.channels))
	for _, ch := range s.channels {
		channels = append(channels, ch)
	}
	s.lk.Unlock()

	for _, ch := range channels {
		ch.abortWith(cause)
	}
	s.closed.Close()

	s.tel.incr(MetricSessionClosedCount, 1.0, LabelClosedBy.M(cause.By.String()))
	level := slog.LevelInfo
	if cause.By != ClosedByUser {
		level = slog.LevelWarn
	}
	s.tel.logger.Log(context.Background(), level, "session closed",
		LabelClosedBy.L(cause.By.String()), LabelReason.L(cause.Msg))
}

func (s *Session) isClosing() bool {
	select {
	case <-s.conn.Done():
		return true
	default:
	}
	s.lk.Lock()
	defer s.lk.Unlock()
	return s.closing
}

// release frees the category slot of a terminated channel.
func (s *Session) release(ch *Channel) {
	s.lk.Lock()
	defer s.lk.Unlock()
	if s.channels[ch.category] == ch {
		delete(s.channels, ch.category)
	}
}
