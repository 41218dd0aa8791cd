package flow

import (
	"time"

	"github.com/quic-go/webtransport-go"
)

// Stream error codes sent to the peer when we abort a stream half.
const (
	StreamCodeCancelled webtransport.StreamErrorCode = 0x0
	StreamCodeShutdown  webtransport.StreamErrorCode = 0x1
)

// RemoteSender is the outbound half of a WebTransport stream.
type RemoteSender struct {
	webtransport.Stream
}

var _ SendStream = RemoteSender{}

func (s RemoteSender) Write(b []byte) (int, error) {
	return s.Stream.Write(b)
}

// Close sends a FIN, the peer sees a clean end of stream.
func (s RemoteSender) Close() error {
	return s.Stream.Close()
}

func (s RemoteSender) CancelWrite() {
	s.Stream.CancelWrite(StreamCodeCancelled)
}

func (s RemoteSender) SetWriteDeadline(t time.Time) error {
	return s.Stream.SetWriteDeadline(t)
}

// RemoteReceiver is the inbound half of a WebTransport stream.
type RemoteReceiver struct {
	webtransport.Stream
}

var _ ReceiveStream = RemoteReceiver{}

func (r RemoteReceiver) Read(b []byte) (int, error) {
	return r.Stream.Read(b)
}

func (r RemoteReceiver) CancelRead() {
	r.Stream.CancelRead(StreamCodeShutdown)
}

func (r RemoteReceiver) SetReadDeadline(t time.Time) error {
	return r.Stream.SetReadDeadline(t)
}

// Split turns a bidirectional WebTransport stream into a [Raw] pair.
func Split(stream webtransport.Stream) Raw {
	return Raw{
		ReceiveStream: RemoteReceiver{Stream: stream},
		SendStream:    RemoteSender{Stream: stream},
	}
}
