package flow

import (
	"encoding/binary"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

// Codec frames application messages on a stream.
//
// Encode MUST emit a message with a single Write call so a [Sender]
// holding the stream never interleaves two messages.
type Codec interface {
	Encode(w io.Writer, msg []byte) error
	Decode(r io.Reader) ([]byte, error)
}

var _ Codec = BytesCodec{}
var _ Codec = RawCodec{}

// BytesCodec is a simple framing codec using varint length-prefixed
// frames, independent of how the transport chunks its reads.
type BytesCodec struct {
	maxSize int
}

func NewBytesCodec(maxSize int) BytesCodec {
	if maxSize <= 0 {
		maxSize = DefaultMaxMessageSize
	}
	return BytesCodec{maxSize: maxSize}
}

func (c BytesCodec) MaxSize() int {
	if c.maxSize <= 0 {
		return DefaultMaxMessageSize
	}
	return c.maxSize
}

func (c BytesCodec) Encode(w io.Writer, msg []byte) error {
	if len(msg) > c.MaxSize() {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(msg))
	}

	varintBuf := protowire.AppendVarint(nil, uint64(len(msg)))
	prefixedBuf := make([]byte, len(varintBuf)+len(msg))
	copy(prefixedBuf, varintBuf)
	copy(prefixedBuf[len(varintBuf):], msg)
	_, err := w.Write(prefixedBuf)
	return err
}

// Decode returns [io.EOF] only if the stream ended cleanly on a frame
// boundary, a stream ending mid-frame is an [io.ErrUnexpectedEOF].
func (c BytesCodec) Decode(r io.Reader) ([]byte, error) {
	buf := make([]byte, binary.MaxVarintLen64)
	n := 0
	for {
		if n == len(buf) {
			return nil, fmt.Errorf("%w: length prefix overflow", ErrMalformed)
		}
		m, err := r.Read(buf[n : n+1])
		if m != 0 {
			n++
			if buf[n-1] < 0x80 {
				break
			}
			continue
		}
		if err != nil {
			if err == io.EOF && n > 0 {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
	}

	prefix, prefixSize := protowire.ConsumeVarint(buf[:n])
	if err := protowire.ParseError(prefixSize); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if prefix > uint64(c.MaxSize()) {
		return nil, fmt.Errorf("%w: announced %d bytes", ErrFrameTooLarge, prefix)
	}

	msg := make([]byte, prefix)
	if _, err := io.ReadFull(r, msg); err != nil {
		if err == io.EOF {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return msg, nil
}

// RawCodec assumes the transport preserves message boundaries: one
// Write is one message and one Read returns exactly one message.
// It is only correct on such transports and exists for servers that
// do not frame their messages.
type RawCodec struct {
	maxSize int
}

func NewRawCodec(maxSize int) RawCodec {
	if maxSize <= 0 {
		maxSize = DefaultMaxMessageSize
	}
	return RawCodec{maxSize: maxSize}
}

func (c RawCodec) MaxSize() int {
	if c.maxSize <= 0 {
		return DefaultMaxMessageSize
	}
	return c.maxSize
}

func (c RawCodec) Encode(w io.Writer, msg []byte) error {
	if len(msg) > c.MaxSize() {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(msg))
	}
	_, err := w.Write(msg)
	return err
}

// Decode performs a single bounded read. Data is returned even if the
// read also reported the end of the stream, the next call reports it.
// A read yielding nothing is reported as [io.EOF].
func (c RawCodec) Decode(r io.Reader) ([]byte, error) {
	buf := make([]byte, c.MaxSize())
	n, err := r.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	if err == nil {
		err = io.EOF
	}
	return nil, err
}
