package wtlink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
	"unicode/utf8"
)

// sessionLossGrace is how long a failed read waits for the connection
// to report its own loss. Transports may fail streams first.
const sessionLossGrace = 200 * time.Millisecond

// Consumer receives every message of a channel, along with the opaque
// host context given to [Session.OpenChannel].
//
// It is called from the channel receive loop: messages of one channel
// are delivered in order, consumers of distinct channels run
// concurrently.
type Consumer func(hostCtx any, message string)

// ChannelEvent reports the end of a channel receive loop.
type ChannelEvent struct {
	Category  Category
	ContextID string
	// Err is a [*ChannelError].
	Err error
}

// dispatcher runs one receive loop per channel. A loop ending only
// affects its own channel.
type dispatcher struct {
	tel     *telemetry
	lost    <-chan struct{}
	closing func() bool
	release func(*Channel)
	onEvent func(ChannelEvent)

	wg sync.WaitGroup
}

func newDispatcher(
	tel *telemetry,
	lost <-chan struct{},
	closing func() bool,
	release func(*Channel),
	onEvent func(ChannelEvent),
) *dispatcher {
	return &dispatcher{
		tel:     tel,
		lost:    lost,
		closing: closing,
		release: release,
		onEvent: onEvent,
	}
}

// start must not be called once wait was.
func (d *dispatcher) start(ch *Channel, consumer Consumer, hostCtx any) {
	d.wg.Add(2)
	go func() {
		defer d.wg.Done()
		d.loop(ch, consumer, hostCtx)
	}()
	go func() {
		defer d.wg.Done()
		select {
		case <-ch.sender.Closed():
			// nobody can talk on a channel whose send side failed.
			_ = ch.receiver.Close()
		case <-ch.done.Chan:
		}
	}()
}

func (d *dispatcher) wait() {
	d.wg.Wait()
}

func (d *dispatcher) loop(ch *Channel, consumer Consumer, hostCtx any) {
	logger := d.tel.logger.With(
		LabelCategory.L(ch.category),
		LabelContextID.L(ch.contextID),
	)
	label := LabelCategory.M(ch.category.String())

	var cause error
	for {
		buf, err := ch.receiver.Recv(context.Background())
		if err != nil {
			cause = d.classify(ch, err)
			break
		}
		if !utf8.Valid(buf) {
			cause = ErrDecode
			break
		}

		d.tel.incr(MetricChannelInCount, 1.0, label)
		d.tel.incr(MetricChannelInBytes, float32(len(buf)), label)
		if err := deliver(consumer, hostCtx, string(buf)); err != nil {
			cause = err
			break
		}
	}

	chErr := &ChannelError{
		Category:  ch.category,
		ContextID: ch.contextID,
		Err:       cause,
	}
	// the slot is free before Done fires, the category can be
	// reopened as soon as the termination is observed.
	d.release(ch)
	ch.terminate(chErr)

	d.tel.incr(MetricChannelTerminationCount, 1.0, label, LabelReason.M(errorKind(cause)))
	if errors.Is(cause, ErrChannelClosed) {
		logger.Debug("channel closed")
	} else {
		logger.Warn("channel terminated", LabelError.L(chErr))
	}

	if d.onEvent != nil {
		d.onEvent(ChannelEvent{
			Category:  ch.category,
			ContextID: ch.contextID,
			Err:       chErr,
		})
	}
}

// classify maps a read failure to the reason the loop ended.
func (d *dispatcher) classify(ch *Channel, err error) error {
	closed := fmt.Errorf("%w: %w", ErrChannelClosed, err)
	if errors.Is(err, io.EOF) || ch.userClosed.Load() || d.closing() || connectionLost(err) {
		return closed
	}

	timer := time.NewTimer(sessionLossGrace)
	defer timer.Stop()
	select {
	case <-d.lost:
		return closed
	case <-timer.C:
	}
	if d.closing() {
		return closed
	}

	if sendErr := ch.sender.Err(); sendErr != nil {
		return fmt.Errorf("%w: %w", ErrSendFailed, sendErr)
	}
	return fmt.Errorf("%w: %w", ErrReadFailed, err)
}

func deliver(consumer Consumer, hostCtx any, msg string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrConsumerPanic, r)
		}
	}()
	consumer(hostCtx, msg)
	return nil
}
