// Package transport defines the capability a sockett.Socket needs from an underlying
// WebSocket connection, and the native event values that connection reports.
//
// A Transport is owned by exactly one Socket and is never reused:
// reconnecting means dialing a new Transport.
//
// Concrete implementations live in the sub-packages:
//
//   - [github.com/sockett/sockett.go/pkg/transport/gorillaws] (github.com/gorilla/websocket)
//   - [github.com/sockett/sockett.go/pkg/transport/gws] (github.com/lxzan/gws)
//   - [github.com/sockett/sockett.go/pkg/transport/coderws] (github.com/coder/websocket)
package transport

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

var (
	// ErrNotOpen is returned by Send when the transport is not Open.
	ErrNotOpen = errors.New("transport is not open")

	// ErrInvalidCloseCode is returned by Close for codes that cannot appear in a close frame.
	ErrInvalidCloseCode = errors.New("invalid close code")
)

// ReadyState mirrors the readyState values of a browser WebSocket.
type ReadyState int32

const (
	// Connecting means the opening handshake has not completed yet.
	Connecting ReadyState = iota
	// Open means messages can be sent.
	Open
	// Closing means the closing handshake is in progress.
	Closing
	// Closed means the connection is gone, or could not be opened.
	Closed
)

func (s ReadyState) String() string {
	switch s {
	case Connecting:
		return "Connecting"
	case Open:
		return "Open"
	case Closing:
		return "Closing"
	case Closed:
		return "Closed"
	default:
		return fmt.Sprintf("ReadyState(%d)", int32(s))
	}
}

// Transport is a single underlying connection.
type Transport interface {
	// ReadyState returns the current state of the connection.
	ReadyState() ReadyState

	// Send writes one message. It fails unless the transport is Open.
	Send(msg Message) error

	// Close starts the closing handshake with the given code and reason.
	// OnClose fires once the connection is actually gone.
	Close(code int, reason string) error
}

// Handlers are the four callback slots of a Transport.
//
// Each handler is invoked from a goroutine owned by the transport, never from
// inside Dial. For a single transport, OnOpen happens before any OnMessage,
// and OnClose is the last callback invoked.
// A nil handler is skipped.
type Handlers struct {
	OnOpen    func(ev *OpenEvent)
	OnMessage func(ev *MessageEvent)
	OnClose   func(ev *CloseEvent)
	OnError   func(ev *ErrorEvent)
}

func (h Handlers) Open(ev *OpenEvent) {
	if h.OnOpen != nil {
		h.OnOpen(ev)
	}
}

func (h Handlers) Message(ev *MessageEvent) {
	if h.OnMessage != nil {
		h.OnMessage(ev)
	}
}

func (h Handlers) Close(ev *CloseEvent) {
	if h.OnClose != nil {
		h.OnClose(ev)
	}
}

func (h Handlers) Error(ev *ErrorEvent) {
	if h.OnError != nil {
		h.OnError(ev)
	}
}

// Options are passed through to the transport untouched by the Socket.
type Options struct {
	// Header is sent with the opening handshake request.
	Header http.Header

	// TLSConfig is used for wss:// addresses.
	TLSConfig *tls.Config

	// HandshakeTimeout bounds the opening handshake. Zero means DefaultHandshakeTimeout.
	HandshakeTimeout time.Duration

	// CloseTimeout bounds how long Close waits for the peer to answer
	// the close frame before the connection is dropped. Zero means DefaultCloseTimeout.
	CloseTimeout time.Duration

	// EnableCompression negotiates permessage-deflate when the transport supports it.
	EnableCompression bool
}

const (
	DefaultHandshakeTimeout = 45 * time.Second
	DefaultCloseTimeout     = 5 * time.Second
)

// HandshakeTimeoutOrDefault returns o.HandshakeTimeout, or DefaultHandshakeTimeout when unset.
func (o Options) HandshakeTimeoutOrDefault() time.Duration {
	if o.HandshakeTimeout > 0 {
		return o.HandshakeTimeout
	}
	return DefaultHandshakeTimeout
}

// CloseTimeoutOrDefault returns o.CloseTimeout, or DefaultCloseTimeout when unset.
func (o Options) CloseTimeoutOrDefault() time.Duration {
	if o.CloseTimeout > 0 {
		return o.CloseTimeout
	}
	return DefaultCloseTimeout
}

// Dialer creates a new Transport and starts connecting it.
//
// Dial must not block on the network: the handshake runs in the background and its
// outcome is reported through h.
type Dialer interface {
	Dial(address string, protocols []string, opts Options, h Handlers) Transport
}

// DialFunc adapts a function to the Dialer interface.
type DialFunc func(address string, protocols []string, opts Options, h Handlers) Transport

func (f DialFunc) Dial(address string, protocols []string, opts Options, h Handlers) Transport {
	return f(address, protocols, opts, h)
}

// WebSocketURL rewrites http and https addresses to ws and wss.
// Other schemes are rejected.
func WebSocketURL(address string) (string, error) {
	u, err := url.Parse(address)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported websocket scheme %q", u.Scheme)
	}
	return u.String(), nil
}
