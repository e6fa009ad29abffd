package transport

import (
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMessageEqual(t *testing.T) {
	assert.True(t, Text("a").Equal(Text("a")))
	assert.False(t, Text("a").Equal(Text("b")))
	assert.False(t, Text("a").Equal(Binary([]byte("a"))))
	assert.True(t, Binary(nil).Equal(Binary([]byte{})))
}

func TestIsConnectionRefused(t *testing.T) {
	refused := &net.OpError{
		Op:  "dial",
		Net: "tcp",
		Err: os.NewSyscallError("connect", syscall.ECONNREFUSED),
	}

	assert.True(t, IsConnectionRefused(refused))
	assert.True(t, IsConnectionRefused(fmt.Errorf("dial failed: %w", refused)))
	assert.True(t, (&ErrorEvent{Err: refused}).ConnectionRefused())

	assert.False(t, IsConnectionRefused(nil))
	assert.False(t, IsConnectionRefused(errors.New("connection refused")))
	assert.False(t, (&ErrorEvent{Err: os.ErrDeadlineExceeded}).ConnectionRefused())
}

func TestCloseEventError(t *testing.T) {
	assert.Equal(t, "websocket closed with code 1006 (abnormal closure)", (&CloseEvent{Code: 1006}).Error())
	assert.Equal(t, "websocket closed with code 4001 (private use): bye", (&CloseEvent{Code: 4001, Reason: "bye"}).Error())
}

func TestCanSendCloseCode(t *testing.T) {
	assert.True(t, CanSendCloseCode(CloseNormalClosure))
	assert.True(t, CanSendCloseCode(4000))
	assert.False(t, CanSendCloseCode(CloseNoStatusReceived))
	assert.False(t, CanSendCloseCode(CloseAbnormalClosure))
	assert.False(t, CanSendCloseCode(999))
}

func TestOptionsDefaults(t *testing.T) {
	var opts Options
	assert.Equal(t, DefaultHandshakeTimeout, opts.HandshakeTimeoutOrDefault())
	assert.Equal(t, DefaultCloseTimeout, opts.CloseTimeoutOrDefault())

	opts = Options{HandshakeTimeout: time.Second, CloseTimeout: 2 * time.Second}
	assert.Equal(t, time.Second, opts.HandshakeTimeoutOrDefault())
	assert.Equal(t, 2*time.Second, opts.CloseTimeoutOrDefault())
}

func TestHandlersSkipNil(t *testing.T) {
	var h Handlers
	assert.NotPanics(t, func() {
		h.Open(&OpenEvent{})
		h.Message(&MessageEvent{})
		h.Close(&CloseEvent{})
		h.Error(&ErrorEvent{})
	})
}

func TestWebSocketURL(t *testing.T) {
	for in, want := range map[string]string{
		"ws://localhost:8080/echo":  "ws://localhost:8080/echo",
		"wss://example.com":         "wss://example.com",
		"http://localhost:8080/a?b": "ws://localhost:8080/a?b",
		"https://example.com/feed":  "wss://example.com/feed",
	} {
		got, err := WebSocketURL(in)
		assert.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := WebSocketURL("ftp://example.com")
	assert.Error(t, err)
}
