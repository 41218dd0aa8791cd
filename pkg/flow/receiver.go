package flow

import (
	"context"
	"sync"
)

// Receiver reads frames off a [ReceiveStream].
//
// Recv MUST NOT be called concurrently, it is meant to be driven by a
// single receive loop.
type Receiver struct {
	raw   ReceiveStream
	codec Codec

	closeOnce sync.Once
}

func NewReceiver(raw ReceiveStream, codec Codec) *Receiver {
	if codec == nil {
		codec = NewBytesCodec(0)
	}
	return &Receiver{raw: raw, codec: codec}
}

// Recv blocks until a whole message is available. ctx is only
// honoured if the stream supports read deadlines, otherwise closing
// the receiver is the way to unblock it.
func (r *Receiver) Recv(ctx context.Context) ([]byte, error) {
	if dl, ok := ctx.Deadline(); ok {
		if d, ok := r.raw.(readDeadliner); ok {
			_ = d.SetReadDeadline(dl)
		}
	}
	return r.codec.Decode(r.raw)
}

// Close cancels the underlying stream, a blocked Recv returns.
func (r *Receiver) Close() error {
	r.closeOnce.Do(r.raw.CancelRead)
	return nil
}
