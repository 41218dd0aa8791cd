// Package wtlink is the client side of a realtime collaboration link: a
// single WebTransport session to a server whose certificate is pinned,
// carrying one bidirectional *channel* per event `Category`.
//
// ## How it works
//
// An `Endpoint` is an address plus the SHA-256 digest of the server
// certificate. There is no CA involved, the digest is the trust anchor,
// just like the `serverCertificateHashes` option of browsers.
//
// `Endpoint.Connect` dials a `Session`. For each category you care about
// (board, element, active-member, client or default), you then call
// `Session.OpenChannel`, which:
//
// * opens a bidirectional stream;
// * writes an `InitMessage` naming the category and your context id;
// * waits for the server `ServerMessage`, anything but `success` is a
//   rejection.
//
// Once established, the outbound half of the stream is guarded by a
// `flow.Sender` so any goroutine can `Send`, and the inbound half is
// drained by a dedicated goroutine delivering every message to your
// `Consumer`.
//
// ## Failure isolation
//
// Each channel lives and dies on its own. A malformed message, a panicking
// consumer, a stream reset or a failed send ends *that* channel, reports a
// `ChannelError` through `Channel.Err` and the optional
// `WithChannelEventHandler` callback, and frees its category so it can be
// opened again. Siblings are not affected. A message too large to be framed
// is refused with `flow.ErrFrameTooLarge` and leaves the channel alive.
//
// Closing the `Session`, or losing the connection, ends every channel with
// `ErrChannelClosed` and makes every send fail with `flow.ErrStreamClosed`.
// Nothing is retried for you: callers MUST be ready to reconnect.
//
// ## Framing
//
// WebTransport streams are byte streams, so by default every message is
// prefixed by its length as an unsigned varint. Servers that rely on one
// write being one read can be reached using `WithRawFraming`, with the
// caveat that this only holds as long as the network does not split or
// coalesce writes.
package wtlink
