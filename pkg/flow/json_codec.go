package flow

import (
	"fmt"
	"io"
	"unicode/utf8"

	gjson "github.com/goccy/go-json"
)

// JsonCodec exchanges JSON documents of type Msg, one per frame of
// the inner [Codec].
type JsonCodec[Msg any] struct {
	inner Codec
}

func NewJsonCodec[Msg any](inner Codec) JsonCodec[Msg] {
	if inner == nil {
		inner = NewBytesCodec(0)
	}
	return JsonCodec[Msg]{inner: inner}
}

func (c JsonCodec[Msg]) Encode(w io.Writer, msg Msg) error {
	buf, err := Marshal(msg)
	if err != nil {
		return err
	}
	return c.inner.Encode(w, buf)
}

// Decode reads one frame. Errors coming from the stream are returned
// as is, while invalid UTF-8 or JSON wrap [ErrMalformed].
func (c JsonCodec[Msg]) Decode(r io.Reader) (result Msg, err error) {
	buf, err := c.inner.Decode(r)
	if err != nil {
		return result, err
	}
	return Unmarshal[Msg](buf)
}

// Unmarshal decodes a UTF-8 JSON document.
func Unmarshal[Msg any](buf []byte) (result Msg, err error) {
	if !utf8.Valid(buf) {
		return result, fmt.Errorf("%w: invalid utf-8", ErrMalformed)
	}
	if err = gjson.Unmarshal(buf, &result); err != nil {
		return result, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return result, nil
}

// Marshal is the counterpart of [Unmarshal].
func Marshal[Msg any](msg Msg) ([]byte, error) {
	buf, err := gjson.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return buf, nil
}
