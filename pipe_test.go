package wtlink

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-metrics"
	"github.com/quic-go/webtransport-go"
	"github.com/raskyld/wtlink/pkg/flow"
	"github.com/stretchr/testify/require"
)

var testDigest = DigestOf([]byte("not a real certificate"))

type pipeSend struct{ net.Conn }

func (p pipeSend) CancelWrite() { _ = p.Conn.Close() }

type pipeRecv struct{ net.Conn }

func (p pipeRecv) CancelRead() { _ = p.Conn.Close() }

// serverStream is the server end of a stream opened by the client.
type serverStream struct {
	in  net.Conn
	out net.Conn
}

func (s *serverStream) readInit() (InitMessage, error) {
	buf, err := flow.NewBytesCodec(0).Decode(s.in)
	if err != nil {
		return InitMessage{}, err
	}
	return flow.Unmarshal[InitMessage](buf)
}

func (s *serverStream) write(msg string) error {
	return flow.NewBytesCodec(0).Encode(s.out, []byte(msg))
}

func (s *serverStream) ack(messageType, body string) error {
	buf, err := flow.Marshal(ServerMessage{MessageType: messageType, Body: body})
	if err != nil {
		return err
	}
	return s.write(string(buf))
}

func (s *serverStream) recv() (string, error) {
	buf, err := flow.NewBytesCodec(0).Decode(s.in)
	return string(buf), err
}

// fakeConn is an in-memory [Conn], each stream is a pair of net.Pipe.
type fakeConn struct {
	accept chan *serverStream
	done   chan struct{}

	lk      sync.Mutex
	err     error
	code    webtransport.SessionErrorCode
	msg     string
	openErr error
	pipes   []net.Conn
	readers []net.Conn
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		accept: make(chan *serverStream, 16),
		done:   make(chan struct{}),
	}
}

func (c *fakeConn) OpenStream(ctx context.Context) (flow.Raw, error) {
	c.lk.Lock()
	defer c.lk.Unlock()
	if c.err != nil {
		return flow.Raw{}, c.err
	}
	if c.openErr != nil {
		return flow.Raw{}, c.openErr
	}

	clientIn, serverOut := net.Pipe()
	serverIn, clientOut := net.Pipe()
	c.pipes = append(c.pipes, clientIn, serverOut, serverIn, clientOut)
	c.readers = append(c.readers, clientIn)
	select {
	case c.accept <- &serverStream{in: serverIn, out: serverOut}:
	default:
		return flow.Raw{}, errors.New("too many pending streams")
	}
	return flow.Raw{
		ReceiveStream: pipeRecv{clientIn},
		SendStream:    pipeSend{clientOut},
	}, nil
}

func (c *fakeConn) CloseWithError(code webtransport.SessionErrorCode, msg string) error {
	c.lk.Lock()
	defer c.lk.Unlock()
	if c.err != nil {
		return nil
	}
	c.code = code
	c.msg = msg
	c.shutdownLocked(errors.New(msg))
	return nil
}

// closeRemote simulates the server closing the connection.
func (c *fakeConn) closeRemote(cause error) {
	c.lk.Lock()
	defer c.lk.Unlock()
	if c.err == nil {
		c.shutdownLocked(cause)
	}
}

// resetStreams fails every pending client read. When cause is not nil
// the connection reports its loss after lossAfter, the way a transport
// may reset streams before the session.
func (c *fakeConn) resetStreams(cause error, lossAfter time.Duration) {
	c.lk.Lock()
	for _, r := range c.readers {
		_ = r.Close()
	}
	c.lk.Unlock()
	if cause != nil {
		time.AfterFunc(lossAfter, func() { c.closeRemote(cause) })
	}
}

func (c *fakeConn) shutdownLocked(cause error) {
	c.err = cause
	close(c.done)
	for _, p := range c.pipes {
		_ = p.Close()
	}
}

func (c *fakeConn) Done() <-chan struct{} {
	return c.done
}

func (c *fakeConn) Err() error {
	c.lk.Lock()
	defer c.lk.Unlock()
	return c.err
}

func (c *fakeConn) closeCode() (webtransport.SessionErrorCode, string) {
	c.lk.Lock()
	defer c.lk.Unlock()
	return c.code, c.msg
}

// serve runs handler on every stream the client opens.
func (c *fakeConn) serve(handler func(s *serverStream)) {
	go func() {
		for {
			select {
			case <-c.done:
				return
			case s := <-c.accept:
				go handler(s)
			}
		}
	}()
}

type fakeConnector struct {
	lk    sync.Mutex
	err   error
	conns []*fakeConn
}

func (fc *fakeConnector) Connect(context.Context, string, CertificateDigest) (Conn, error) {
	fc.lk.Lock()
	defer fc.lk.Unlock()
	if fc.err != nil {
		return nil, fc.err
	}
	conn := newFakeConn()
	fc.conns = append(fc.conns, conn)
	return conn, nil
}

func (fc *fakeConnector) last() *fakeConn {
	fc.lk.Lock()
	defer fc.lk.Unlock()
	return fc.conns[len(fc.conns)-1]
}

func testLogHandler() slog.Handler {
	return slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
}

func newTestEndpoint(t *testing.T, connector Connector, opts ...Option) *Endpoint {
	t.Helper()
	base := []Option{
		WithConnector(connector),
		WithLog(testLogHandler()),
		WithMetricSink(metrics.NewInmemSink(time.Second, time.Minute)),
	}
	ep, err := NewEndpoint("https://127.0.0.1:4433/wt", testDigest, append(base, opts...)...)
	require.NoError(t, err)
	return ep
}

func newTestSession(t *testing.T, opts ...Option) (*Session, *fakeConn) {
	t.Helper()
	connector := &fakeConnector{}
	ep := newTestEndpoint(t, connector, opts...)
	sess, err := ep.Connect(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sess.Close()
		sess.Wait()
	})
	return sess, connector.last()
}

// acceptAll acknowledges every init and keeps the stream open.
func acceptAll(s *serverStream) {
	if _, err := s.readInit(); err != nil {
		return
	}
	_ = s.ack(MessageTypeSuccess, "welcome")
}

// collect is a [Consumer] forwarding messages to the chan passed as
// host context.
func collect(hostCtx any, msg string) {
	hostCtx.(chan string) <- msg
}

func waitClosed(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out")
	}
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out")
	}
	var zero T
	return zero
}
