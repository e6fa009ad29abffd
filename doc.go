// The [sockett] package implements a WebSocket client that keeps itself connected.
//
// # Reconnection
//
// A [Socket] starts connecting as soon as it is created with [New]. Whenever the
// underlying connection closes with a code accepted by the [ReconnectPolicy]
// (1000, 1001, 1005 and 1006 by default), or the peer refuses the connection,
// the Socket waits for the retry delay and dials a fresh transport.
//
// Reconnections are counted, and the counter is reset on every successful open.
// Once [Config.MaxAttempts] consecutive reconnections have been scheduled, the
// Socket emits [EventMaximum] and stops trying until [Socket.Open] is called.
//
// [Socket.Close] disables reconnection for good.
//
// # Sending
//
// Messages sent while the transport is still connecting are buffered and
// written in order once it opens. A message equal to one already buffered is
// not buffered twice. Messages sent while the socket is neither open nor
// connecting are dropped, and an [EventError] carrying [ErrNotOpen] is emitted.
//
// # Events
//
// Subscribe with [Socket.On] or [Socket.Once]. Every listener receives the
// event value reported by the transport, unmodified: a [transport.OpenEvent],
// [transport.MessageEvent], [transport.CloseEvent] or [transport.ErrorEvent].
// [EventReconnect] and [EventMaximum] carry the close or error event that
// triggered them.
//
// Listeners registered with On may miss events emitted before the call
// returns. Use [OnEvent] to register them before the first transport is dialed.
//
// # Transports
//
// The connection itself is provided by a [transport.Dialer]. gorilla/websocket
// is used unless [WithDialer] selects another one, such as
// [github.com/sockett/sockett.go/pkg/transport/gws] or
// [github.com/sockett/sockett.go/pkg/transport/coderws].
//
// [github.com/sockett/sockett.go/pkg/transport/transporttest] provides an
// in-memory transport for testing code built on top of a Socket.
package sockett
