package transport

import (
	"bytes"
	"errors"
	"fmt"
	"syscall"
)

// MessageType identifies the frame type of a Message.
// The values match the WebSocket opcodes.
type MessageType int

const (
	TextMessage   MessageType = 1
	BinaryMessage MessageType = 2
)

func (t MessageType) String() string {
	switch t {
	case TextMessage:
		return "text"
	case BinaryMessage:
		return "binary"
	default:
		return fmt.Sprintf("MessageType(%d)", int(t))
	}
}

// Message is a text or binary payload.
type Message struct {
	Type MessageType
	Data []byte
}

// Text returns a text message holding s.
func Text(s string) Message {
	return Message{Type: TextMessage, Data: []byte(s)}
}

// Binary returns a binary message holding b.
func Binary(b []byte) Message {
	return Message{Type: BinaryMessage, Data: b}
}

// Equal reports whether m and other carry the same type and payload.
func (m Message) Equal(other Message) bool {
	return m.Type == other.Type && bytes.Equal(m.Data, other.Data)
}

func (m Message) String() string {
	if m.Type == TextMessage {
		return string(m.Data)
	}
	return fmt.Sprintf("<%d bytes binary>", len(m.Data))
}

// Event is implemented by every value a Transport reports.
type Event interface {
	EventType() string
}

// OpenEvent is reported once the opening handshake completes.
type OpenEvent struct {
	// Protocol is the sub-protocol selected by the server, if any.
	Protocol string
}

func (*OpenEvent) EventType() string { return "open" }

// MessageEvent carries one received message.
type MessageEvent struct {
	Message
}

func (*MessageEvent) EventType() string { return "message" }

// CloseEvent is reported when the connection is gone.
//
// It also implements error, so that it can be handed to retry strategies
// as the reason for a reconnection.
type CloseEvent struct {
	Code     int
	Reason   string
	WasClean bool
}

func (*CloseEvent) EventType() string { return "close" }

func (ev *CloseEvent) Error() string {
	if ev.Reason == "" {
		return fmt.Sprintf("websocket closed with code %d (%s)", ev.Code, CloseCodeText(ev.Code))
	}
	return fmt.Sprintf("websocket closed with code %d (%s): %s", ev.Code, CloseCodeText(ev.Code), ev.Reason)
}

// ErrorEvent wraps a transport failure.
type ErrorEvent struct {
	Err error
}

func (*ErrorEvent) EventType() string { return "error" }

func (ev *ErrorEvent) Error() string {
	if ev.Err == nil {
		return "websocket error"
	}
	return ev.Err.Error()
}

func (ev *ErrorEvent) Unwrap() error {
	return ev.Err
}

// ConnectionRefused reports whether the error was caused by the peer refusing the connection.
func (ev *ErrorEvent) ConnectionRefused() bool {
	return IsConnectionRefused(ev.Err)
}

// IsConnectionRefused reports whether err is, or wraps, ECONNREFUSED.
func IsConnectionRefused(err error) bool {
	return err != nil && errors.Is(err, syscall.ECONNREFUSED)
}
