package transporttest

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sockett/sockett.go/internal/fakews"
	"github.com/sockett/sockett.go/pkg/transport"
)

// EventTimeout bounds how long Recorder.Next waits for an event.
var EventTimeout = 5 * time.Second

// Recorder collects the events reported through its Handlers.
type Recorder struct {
	events chan transport.Event
}

func NewRecorder() *Recorder {
	return &Recorder{events: make(chan transport.Event, 64)}
}

// Handlers returns handlers feeding r.
func (r *Recorder) Handlers() transport.Handlers {
	return transport.Handlers{
		OnOpen:    func(ev *transport.OpenEvent) { r.events <- ev },
		OnMessage: func(ev *transport.MessageEvent) { r.events <- ev },
		OnClose:   func(ev *transport.CloseEvent) { r.events <- ev },
		OnError:   func(ev *transport.ErrorEvent) { r.events <- ev },
	}
}

// Next returns the next event, failing t after EventTimeout.
func (r *Recorder) Next(t testing.TB) transport.Event {
	t.Helper()

	select {
	case ev := <-r.events:
		return ev
	case <-time.After(EventTimeout):
		t.Fatalf("no transport event within %v", EventTimeout)
		return nil
	}
}

// UntilClose returns every event up to and including the close event.
func (r *Recorder) UntilClose(t testing.TB) ([]transport.Event, *transport.CloseEvent) {
	t.Helper()

	var seen []transport.Event
	for {
		ev := r.Next(t)
		seen = append(seen, ev)
		if ce, ok := ev.(*transport.CloseEvent); ok {
			return seen, ce
		}
	}
}

// RunConformance checks dial against a fakews server: the lifecycle
// every transport.Transport implementation has to follow.
func RunConformance(t *testing.T, dial transport.DialFunc) {
	server := fakews.NewServer("127.0.0.1:0", "chat")
	require.NoError(t, server.Start())
	t.Cleanup(func() {
		if err := server.Stop(); err != nil {
			t.Logf("failed to stop server: %v", err)
		}
	})

	open := func(t *testing.T, path string, protocols ...string) (transport.Transport, *Recorder, *transport.OpenEvent) {
		t.Helper()

		rec := NewRecorder()
		tr := dial(server.URL(path), protocols, transport.Options{HandshakeTimeout: 2 * time.Second}, rec.Handlers())
		require.NotNil(t, tr)

		ev := rec.Next(t)
		require.IsType(t, &transport.OpenEvent{}, ev)
		assert.Equal(t, transport.Open, tr.ReadyState())

		return tr, rec, ev.(*transport.OpenEvent)
	}

	t.Run("echo and close", func(t *testing.T) {
		tr, rec, _ := open(t, "/echo")

		require.NoError(t, tr.Send(transport.Text("hello")))
		ev := rec.Next(t)
		require.IsType(t, &transport.MessageEvent{}, ev)
		assert.True(t, transport.Text("hello").Equal(ev.(*transport.MessageEvent).Message))

		require.NoError(t, tr.Send(transport.Binary([]byte{1, 2, 3})))
		ev = rec.Next(t)
		require.IsType(t, &transport.MessageEvent{}, ev)
		assert.True(t, transport.Binary([]byte{1, 2, 3}).Equal(ev.(*transport.MessageEvent).Message))

		require.NoError(t, tr.Close(transport.CloseNormalClosure, "bye"))

		_, ce := rec.UntilClose(t)
		assert.Equal(t, transport.CloseNormalClosure, ce.Code)
		assert.True(t, ce.WasClean)
		assert.Equal(t, transport.Closed, tr.ReadyState())

		assert.ErrorIs(t, tr.Send(transport.Text("late")), transport.ErrNotOpen)
	})

	t.Run("sub-protocol", func(t *testing.T) {
		tr, rec, ev := open(t, "/echo", "chat")
		assert.Equal(t, "chat", ev.Protocol)

		require.NoError(t, tr.Close(transport.CloseNormalClosure, ""))
		rec.UntilClose(t)
	})

	t.Run("server closes", func(t *testing.T) {
		_, rec, _ := open(t, "/close/4001")

		_, ce := rec.UntilClose(t)
		assert.Equal(t, 4001, ce.Code)
		assert.Equal(t, "server closing", ce.Reason)
		assert.True(t, ce.WasClean)
	})

	t.Run("connection dropped", func(t *testing.T) {
		_, rec, _ := open(t, "/echo")
		require.Eventually(t, func() bool { return server.Connections() > 0 }, time.Second, 10*time.Millisecond)

		server.DropAll()

		_, ce := rec.UntilClose(t)
		assert.Equal(t, transport.CloseAbnormalClosure, ce.Code)
		assert.False(t, ce.WasClean)
	})

	t.Run("handshake rejected", func(t *testing.T) {
		rec := NewRecorder()
		dial(server.URL("/reject"), nil, transport.Options{}, rec.Handlers())

		seen, ce := rec.UntilClose(t)
		require.Len(t, seen, 2)
		require.IsType(t, &transport.ErrorEvent{}, seen[0])
		assert.False(t, seen[0].(*transport.ErrorEvent).ConnectionRefused())
		assert.Equal(t, transport.CloseAbnormalClosure, ce.Code)
	})

	t.Run("connection refused", func(t *testing.T) {
		rec := NewRecorder()
		dial("ws://"+unusedAddress(t)+"/echo", nil, transport.Options{}, rec.Handlers())

		seen, ce := rec.UntilClose(t)
		require.Len(t, seen, 2)
		require.IsType(t, &transport.ErrorEvent{}, seen[0])
		assert.True(t, seen[0].(*transport.ErrorEvent).ConnectionRefused(), "%v", seen[0])
		assert.Equal(t, transport.CloseAbnormalClosure, ce.Code)
	})

	t.Run("invalid close code", func(t *testing.T) {
		tr, rec, _ := open(t, "/echo")

		assert.ErrorIs(t, tr.Close(transport.CloseAbnormalClosure, ""), transport.ErrInvalidCloseCode)
		assert.Equal(t, transport.Open, tr.ReadyState())

		require.NoError(t, tr.Close(transport.CloseGoingAway, ""))
		rec.UntilClose(t)
	})
}

// unusedAddress returns a loopback address nothing listens on.
func unusedAddress(t testing.TB) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	return addr
}
