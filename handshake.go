package wtlink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/raskyld/wtlink/pkg/flow"
)

// HandshakeState is the progress of a channel handshake.
type HandshakeState uint8

const (
	StateOpening HandshakeState = iota
	StateAwaitingAck
	StateEstablished
	StateFailed
)

func (st HandshakeState) String() string {
	switch st {
	case StateOpening:
		return "opening"
	case StateAwaitingAck:
		return "awaiting acknowledgment"
	case StateEstablished:
		return "established"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", uint8(st))
	}
}

// handshake opens a bidirectional stream, sends the init message and
// waits for the server acknowledgment.
//
// The streams are cancelled on every failure path, only an established
// channel leaves this function.
func (s *Session) handshake(ctx context.Context, category Category, contextID string) (*Channel, error) {
	start := time.Now()
	logger := s.tel.logger.With(LabelCategory.L(category), LabelContextID.L(contextID))
	state := StateOpening

	fail := func(err error, body string) error {
		s.tel.incr(MetricHandshakeErrorCount, 1.0,
			LabelCategory.M(category.String()), LabelError.M(errorKind(err)))
		if errors.Is(err, ErrRejected) {
			logger.Warn("handshake rejected", LabelState.L(state), LabelReason.L(body))
		} else {
			logger.Warn("handshake failed", LabelState.L(state), LabelError.L(err))
		}
		return &HandshakeError{
			Category:  category,
			ContextID: contextID,
			State:     state,
			Body:      body,
			Err:       err,
		}
	}

	logger.Debug("opening stream", LabelState.L(state))
	raw, err := s.conn.OpenStream(ctx)
	if err != nil {
		if s.isClosing() {
			return nil, fail(fmt.Errorf("%w: %w", ErrSessionNotActive, err), "")
		}
		return nil, fail(fmt.Errorf("%w: %w", ErrStreamOpenFailed, err), "")
	}

	// the caller context bounds the whole exchange, cancelling the
	// streams unblocks any pending read or write.
	stop := context.AfterFunc(ctx, raw.Cancel)
	abort := func(err error, body string) error {
		stop()
		raw.Cancel()
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = fmt.Errorf("%w: %w", err, ctxErr)
		}
		return fail(err, body)
	}

	codec := s.cfg.codec()
	initMsg := NewInitMessage(category, contextID)
	if err := flow.NewJsonCodec[InitMessage](codec).Encode(raw.SendStream, initMsg); err != nil {
		return nil, abort(fmt.Errorf("%w: %w", ErrWriteFailed, err), "")
	}

	state = StateAwaitingAck
	logger.Debug("init sent", LabelState.L(state))
	ack, err := flow.NewJsonCodec[ServerMessage](codec).Decode(raw.ReceiveStream)
	switch {
	case err == nil:
	case errors.Is(err, flow.ErrMalformed):
		return nil, abort(fmt.Errorf("%w: %w", ErrMalformedAck, err), "")
	case errors.Is(err, io.EOF):
		return nil, abort(ErrEmptyResponse, "")
	default:
		return nil, abort(fmt.Errorf("%w: %w", ErrReadFailed, err), "")
	}

	if !ack.Accepted() {
		return nil, abort(
			fmt.Errorf("%w: message type %q", ErrRejected, ack.MessageType),
			ack.Body,
		)
	}

	if !stop() {
		// ctx ended right after the ack, the streams are gone.
		return nil, abort(fmt.Errorf("%w: %w", ErrReadFailed, context.Cause(ctx)), "")
	}

	state = StateEstablished
	elapsed := time.Since(start)
	s.tel.incr(MetricHandshakeEstCount, 1.0, LabelCategory.M(category.String()))
	s.tel.sample(MetricHandshakeDuration, float32(elapsed.Milliseconds()),
		LabelCategory.M(category.String()))
	logger.Info("channel established", LabelDuration.L(elapsed), LabelReason.L(ack.Body))

	return newChannel(category, contextID, raw, codec, s.tel), nil
}
