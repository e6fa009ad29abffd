package gws

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sockett/sockett.go/internal/fakews"
	"github.com/sockett/sockett.go/pkg/transport"
	"github.com/sockett/sockett.go/pkg/transport/transporttest"
)

func TestConformance(t *testing.T) {
	transporttest.RunConformance(t, Dial)
}

func TestClientOption(t *testing.T) {
	header := http.Header{}
	header.Set("Authorization", "Bearer token")

	c := &Conn{opts: transport.Options{Header: header, HandshakeTimeout: time.Second, EnableCompression: true}}
	opt := c.clientOption("ws://localhost/echo", []string{"chat", "superchat"})

	assert.Equal(t, "ws://localhost/echo", opt.Addr)
	assert.Equal(t, "chat, superchat", opt.RequestHeader.Get("Sec-WebSocket-Protocol"))
	assert.Equal(t, "Bearer token", opt.RequestHeader.Get("Authorization"))
	assert.Empty(t, header.Get("Sec-WebSocket-Protocol"), "the caller's header is left untouched")
	assert.Equal(t, time.Second, opt.HandshakeTimeout)
	assert.True(t, opt.PermessageDeflate.Enabled)
}

func TestDialInvalidScheme(t *testing.T) {
	rec := transporttest.NewRecorder()
	Dial("ftp://localhost/echo", nil, transport.Options{}, rec.Handlers())

	seen, ce := rec.UntilClose(t)
	assert.Len(t, seen, 2)
	assert.IsType(t, &transport.ErrorEvent{}, seen[0])
	assert.Equal(t, transport.CloseAbnormalClosure, ce.Code)
}

func TestCloseReportsSentCode(t *testing.T) {
	server := fakews.NewServer("127.0.0.1:0")
	require.NoError(t, server.Start())
	defer server.Stop()

	rec := transporttest.NewRecorder()
	tr := Dial(server.URL("/echo"), nil, transport.Options{}, rec.Handlers())
	require.IsType(t, &transport.OpenEvent{}, rec.Next(t))

	require.NoError(t, tr.Close(transport.CloseNormalClosure, "bye"))

	seen, ce := rec.UntilClose(t)
	assert.Len(t, seen, 1, "no error event for a deliberate close")
	assert.Equal(t, &transport.CloseEvent{Code: transport.CloseNormalClosure, Reason: "bye", WasClean: true}, ce)
	assert.Equal(t, transport.Closed, tr.ReadyState())
}

func TestWriteFailed(t *testing.T) {
	rec := transporttest.NewRecorder()
	c := &Conn{h: rec.Handlers()}

	c.state.Store(int32(transport.Open))
	c.writeFailed("pong", nil)
	c.writeFailed("pong", errors.New("broken pipe"))

	ev := rec.Next(t)
	require.IsType(t, &transport.ErrorEvent{}, ev)
	assert.EqualError(t, ev.(*transport.ErrorEvent).Err, "gws: failed to write pong: broken pipe")

	c.state.Store(int32(transport.Closing))
	c.writeFailed("pong", errors.New("broken pipe"))
	c.h.Close(&transport.CloseEvent{Code: transport.CloseNormalClosure})
	assert.IsType(t, &transport.CloseEvent{}, rec.Next(t), "nothing is reported while closing")
}
