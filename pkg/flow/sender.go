package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Sender is a thread-safe writer owning one [SendStream].
//
// At most one write is in flight at any time: concurrent callers of
// [Sender.Send] wait for their turn, each message is written as one
// frame and never interleaved with another.
type Sender struct {
	raw   SendStream
	codec Codec

	// sem is a 1-slot semaphore rather than a sync.Mutex so waiting
	// callers can give up on context cancellation or closure.
	sem     chan struct{}
	closeCh chan struct{}

	// handle Close sync.
	err       error
	rawClosed bool
	lk        sync.Mutex
}

func NewSender(raw SendStream, codec Codec) *Sender {
	if codec == nil {
		codec = NewBytesCodec(0)
	}
	return &Sender{
		raw:     raw,
		codec:   codec,
		sem:     make(chan struct{}, 1),
		closeCh: make(chan struct{}),
	}
}

// Send writes msg as a single frame. Once the stream failed or was
// closed, every call returns an error wrapping [ErrStreamClosed].
//
// A message refused by the codec for its size returns [ErrFrameTooLarge]
// and leaves the sender usable.
func (w *Sender) Send(ctx context.Context, msg []byte) error {
	if err := w.Err(); err != nil {
		return err
	}
	if b, ok := w.codec.(sizeBounded); ok && b.MaxSize() > 0 && len(msg) > b.MaxSize() {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(msg))
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-w.closeCh:
		return w.Err()
	case w.sem <- struct{}{}:
	}
	defer func() { <-w.sem }()

	// we may have been closed while waiting for our turn.
	if err := w.Err(); err != nil {
		return err
	}

	if dl, ok := ctx.Deadline(); ok {
		if d, ok := w.raw.(writeDeadliner); ok {
			_ = d.SetWriteDeadline(dl)
			defer func() { _ = d.SetWriteDeadline(time.Time{}) }()
		}
	}

	if err := w.codec.Encode(w.raw, msg); err != nil {
		if errors.Is(err, ErrFrameTooLarge) {
			// refused before anything was written.
			return err
		}
		if ctx.Err() != nil {
			// A timed out write may have left a partial frame behind,
			// the stream can not be reused.
			w.fail(fmt.Errorf("%w: %w", ErrStreamClosed, ctx.Err()))
			return ctx.Err()
		}
		cause := fmt.Errorf("%w: %w", ErrStreamClosed, err)
		w.fail(cause)
		return cause
	}
	return nil
}

// Err returns the reason the sender was closed, or nil.
func (w *Sender) Err() error {
	w.lk.Lock()
	defer w.lk.Unlock()
	return w.err
}

// Closed is closed once the sender does not accept messages anymore.
func (w *Sender) Closed() <-chan struct{} {
	return w.closeCh
}

func (w *Sender) Close() error {
	return w.CloseWith(ErrStreamClosed)
}

// CloseWith closes the sender, cause is returned by subsequent calls
// to Send.
//
// Streams are not safe for concurrent Write and Close, so an in-flight
// write is aborted with CancelWrite when the stream supports it, then
// waited for. A stream without CancelWrite is only closed once its
// pending write returns.
func (w *Sender) CloseWith(cause error) error {
	if cause == nil {
		cause = ErrStreamClosed
	} else if !errors.Is(cause, ErrStreamClosed) {
		cause = fmt.Errorf("%w: %w", ErrStreamClosed, cause)
	}
	w.fail(cause)

	select {
	case w.sem <- struct{}{}:
	default:
		// a peer that stopped reading can hold a write forever.
		if c, ok := w.raw.(writeCanceler); ok {
			c.CancelWrite()
		}
		w.sem <- struct{}{}
	}
	defer func() { <-w.sem }()

	w.lk.Lock()
	if w.rawClosed {
		w.lk.Unlock()
		return nil
	}
	w.rawClosed = true
	w.lk.Unlock()
	return w.raw.Close()
}

// fail records cause, reports whether this call closed the sender.
func (w *Sender) fail(cause error) bool {
	w.lk.Lock()
	defer w.lk.Unlock()
	if w.err != nil {
		return false
	}
	w.err = cause
	close(w.closeCh)
	return true
}
