package wtlink

import (
	"errors"
	"fmt"

	"github.com/quic-go/webtransport-go"
)

var (
	ErrInvalidCfg          = errors.New("endpoint: invalid options")
	ErrInvalidAddr         = errors.New("endpoint: address must be an https URL")
	ErrNoCertificateDigest = errors.New("endpoint: a certificate digest is required")
	ErrSessionActive       = errors.New("endpoint: a session is already active")

	ErrConnectionUnreachable = errors.New("session: endpoint unreachable")
	ErrCertificatePin        = errors.New("session: server certificate does not match the pinned digest")
	ErrSessionNotActive      = errors.New("session: not active")

	ErrUnknownCategory  = errors.New("channel: unknown category")
	ErrChannelExists    = errors.New("channel: a channel of this category is already open")
	ErrChannelNotOpen   = errors.New("channel: no open channel for this category")
	ErrStreamOpenFailed = errors.New("channel: could not open stream")
	ErrWriteFailed      = errors.New("channel: could not write init message")
	ErrReadFailed       = errors.New("channel: read failed")
	ErrSendFailed       = errors.New("channel: send failed")
	ErrEmptyResponse    = errors.New("channel: stream ended before acknowledgment")
	ErrMalformedAck     = errors.New("channel: malformed acknowledgment")
	ErrRejected         = errors.New("channel: init rejected by server")
	ErrDecode           = errors.New("channel: message is not valid utf-8")
	ErrChannelClosed    = errors.New("channel: closed")
	ErrConsumerPanic    = errors.New("channel: consumer panicked")
)

var (
	SErrNormal = SessionApplicationError{
		Code:   0x0,
		Prefix: "normal",
	}
	SErrInternal = SessionApplicationError{
		Code:   0x1,
		Prefix: "internal",
	}
)

const (
	ClosedByUnknown ClosedBy = iota
	ClosedByUser
	ClosedByRemote
)

// SessionApplicationError is sent to the server when we close a
// session.
type SessionApplicationError struct {
	Code   webtransport.SessionErrorCode
	Prefix string
}

func (serr *SessionApplicationError) Close(conn Conn, msg string) error {
	if conn != nil {
		return conn.CloseWithError(serr.Code, fmt.Sprintf("%s: %s", serr.Prefix, msg))
	}
	return nil
}

type ClosedBy uint8

func (cause ClosedBy) String() string {
	switch cause {
	case ClosedByUser:
		return "explicit user close"
	case ClosedByRemote:
		return "remote"
	default:
		return "unknown"
	}
}

// ClosedError is the reason a [Session] ended.
type ClosedError struct {
	By  ClosedBy
	Msg string
}

func (endErr *ClosedError) Error() string {
	return fmt.Sprintf("session closed by %s: %s", endErr.By, endErr.Msg)
}

func (endErr *ClosedError) Unwrap() error {
	return ErrSessionNotActive
}

// HandshakeError is returned by [Session.OpenChannel] when a channel
// could not be established.
type HandshakeError struct {
	Category  Category
	ContextID string
	// State is the handshake state in which the failure happened.
	State HandshakeState
	// Body is the acknowledgment body sent by the server, if any.
	Body string
	Err  error
}

func (herr *HandshakeError) Error() string {
	msg := fmt.Sprintf(
		"handshake %s/%s failed while %s: %s",
		herr.Category, herr.ContextID, herr.State, herr.Err,
	)
	if herr.Body != "" {
		msg += fmt.Sprintf(" (%q)", herr.Body)
	}
	return msg
}

func (herr *HandshakeError) Unwrap() error {
	return herr.Err
}

// ChannelError reports why a channel receive loop ended.
type ChannelError struct {
	Category  Category
	ContextID string
	Err       error
}

func (cerr *ChannelError) Error() string {
	return fmt.Sprintf("channel %s/%s: %s", cerr.Category, cerr.ContextID, cerr.Err)
}

func (cerr *ChannelError) Unwrap() error {
	return cerr.Err
}
