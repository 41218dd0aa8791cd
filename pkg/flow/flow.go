package flow

import (
	"errors"
	"io"
	"time"
)

var (
	ErrStreamClosed  = errors.New("flow: stream closed")
	ErrFrameTooLarge = errors.New("flow: frame exceeds maximum message size")
	ErrMalformed     = errors.New("flow: malformed message")
)

// DefaultMaxMessageSize bounds a single read, both for the handshake
// acknowledgment and for every application message.
const DefaultMaxMessageSize = 64 << 10

// SendStream is the outbound half of a bidirectional stream.
//
// Implementations are not required to be safe for concurrent use,
// [Sender] serialises access.
type SendStream interface {
	io.Writer
	Close() error
}

// ReceiveStream is the inbound half of a bidirectional stream.
type ReceiveStream interface {
	io.Reader
	// CancelRead aborts the receive side, pending and future reads
	// return an error.
	CancelRead()
}

// writeCanceler is implemented by send streams able to abort a pending
// Write from another goroutine.
type writeCanceler interface {
	CancelWrite()
}

// sizeBounded is implemented by codecs refusing messages above a size.
type sizeBounded interface {
	MaxSize() int
}

type writeDeadliner interface {
	SetWriteDeadline(time.Time) error
}

type readDeadliner interface {
	SetReadDeadline(time.Time) error
}

// Raw is the pair of streams obtained from a single bidirectional
// stream opening.
type Raw struct {
	ReceiveStream
	SendStream
}

func (r Raw) Close() error {
	r.ReceiveStream.CancelRead()
	return r.SendStream.Close()
}

// Cancel aborts both halves, it is used when a stream must be
// abandoned before it was handed to anyone.
func (r Raw) Cancel() {
	r.ReceiveStream.CancelRead()
	if c, ok := r.SendStream.(writeCanceler); ok {
		c.CancelWrite()
		return
	}
	_ = r.SendStream.Close()
}
