package wtlink

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/glycerine/idem"
	"github.com/raskyld/wtlink/pkg/flow"
)

// Channel is an established, category-scoped pair of streams: the
// outbound half is wrapped in a [flow.Sender] any goroutine can use,
// the inbound half is drained by the session receive loop.
//
// A Channel is only ever handed out once the server acknowledged it.
type Channel struct {
	category  Category
	contextID string

	sender   *flow.Sender
	receiver *flow.Receiver
	tel      *telemetry

	done       *idem.IdemCloseChan
	userClosed atomic.Bool

	// handle termination sync.
	err error
	lk  sync.Mutex
}

func newChannel(
	category Category,
	contextID string,
	raw flow.Raw,
	codec flow.Codec,
	tel *telemetry,
) *Channel {
	return &Channel{
		category:  category,
		contextID: contextID,
		sender:    flow.NewSender(raw.SendStream, codec),
		receiver:  flow.NewReceiver(raw.ReceiveStream, codec),
		tel:       tel,
		done:      idem.NewIdemCloseChan(),
	}
}

func (ch *Channel) Category() Category {
	return ch.category
}

func (ch *Channel) ContextID() string {
	return ch.contextID
}

// SendHandle returns the handle guarding the outbound stream. It is
// safe for concurrent use and becomes unusable once the channel or its
// session is closed.
func (ch *Channel) SendHandle() *flow.Sender {
	return ch.sender
}

// Send writes msg as one message on the outbound stream.
func (ch *Channel) Send(ctx context.Context, msg string) error {
	label := LabelCategory.M(ch.category.String())
	if err := ch.sender.Send(ctx, []byte(msg)); err != nil {
		ch.tel.incr(MetricChannelOutErrorCount, 1.0, label, LabelError.M(errorKind(err)))
		return err
	}
	ch.tel.incr(MetricChannelOutBytes, float32(len(msg)), label)
	return nil
}

// Close ends the channel: the receive loop stops with
// [ErrChannelClosed] and the category can be opened again.
func (ch *Channel) Close() error {
	ch.userClosed.Store(true)
	ch.abortWith(ErrChannelClosed)
	return nil
}

// Done is closed once the receive loop of the channel ended.
func (ch *Channel) Done() <-chan struct{} {
	return ch.done.Chan
}

// Err returns the [*ChannelError] the receive loop ended with, or nil
// while the channel is alive.
func (ch *Channel) Err() error {
	ch.lk.Lock()
	defer ch.lk.Unlock()
	return ch.err
}

// abortWith cancels both streams, a blocked receive returns and
// subsequent sends fail with cause.
func (ch *Channel) abortWith(cause error) {
	_ = ch.receiver.Close()
	_ = ch.sender.CloseWith(cause)
}

// terminate records the end of the receive loop.
func (ch *Channel) terminate(err error) {
	ch.abortWith(err)

	ch.lk.Lock()
	defer ch.lk.Unlock()
	if ch.done.IsClosed() {
		return
	}
	ch.err = err
	ch.done.Close()
}
