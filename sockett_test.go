package sockett

import (
	"errors"
	"log/slog"
	"net"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sockett/sockett.go/pkg/codec"
	"github.com/sockett/sockett.go/pkg/logger"
	"github.com/sockett/sockett.go/pkg/transport"
	"github.com/sockett/sockett.go/pkg/transport/transporttest"
)

const testAddress = "ws://127.0.0.1:8080/feed"

// eventLog records every event a Socket emits, in order.
type eventLog struct {
	mu     sync.Mutex
	names  []EventName
	events []transport.Event
}

func (l *eventLog) options() []Option {
	opts := make([]Option, 0, len(Events))
	for _, name := range Events {
		name := name
		opts = append(opts, OnEvent(name, func(ev transport.Event) {
			l.mu.Lock()
			defer l.mu.Unlock()
			l.names = append(l.names, name)
			l.events = append(l.events, ev)
		}))
	}
	return opts
}

func (l *eventLog) Names() []EventName {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]EventName(nil), l.names...)
}

func (l *eventLog) Count(name EventName) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, got := range l.names {
		if got == name {
			n++
		}
	}
	return n
}

func (l *eventLog) Of(name EventName) []transport.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []transport.Event
	for i, got := range l.names {
		if got == name {
			out = append(out, l.events[i])
		}
	}
	return out
}

func newTestSocket(t *testing.T, opts ...Option) (*Socket, *transporttest.Dialer, *eventLog) {
	t.Helper()

	d := transporttest.NewDialer()
	log := &eventLog{}

	all := []Option{
		WithDialer(d),
		WithReconnectDelay(10 * time.Millisecond),
		WithLogger(logger.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))),
	}
	all = append(all, log.options()...)
	all = append(all, opts...)

	s, err := New(testAddress, all...)
	require.NoError(t, err)

	return s, d, log
}

func nextDial(t *testing.T, d *transporttest.Dialer) *transporttest.Fake {
	t.Helper()

	select {
	case f := <-d.Dialed():
		return f
	case <-time.After(time.Second):
		t.Fatal("no transport was dialed")
		return nil
	}
}

func assertNoDial(t *testing.T, d *transporttest.Dialer, count int) {
	t.Helper()

	assert.Never(t, func() bool { return d.Count() > count }, 100*time.Millisecond, 10*time.Millisecond)
}

func refused() error {
	return &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}
}

func TestNewDialsImmediately(t *testing.T) {
	s, d, _ := newTestSocket(t, WithProtocols("chat", "superchat"), WithHeader(map[string][]string{"X-Token": {"t"}}))

	f := nextDial(t, d)
	assert.Equal(t, testAddress, f.Address)
	assert.Equal(t, []string{"chat", "superchat"}, f.Protocols)
	assert.Equal(t, "t", f.Options.Header.Get("X-Token"))
	assert.Equal(t, testAddress, s.Address())

	assert.False(t, s.IsOpen())
	assert.Equal(t, transport.Connecting, s.ReadyState())

	f.Open()
	assert.True(t, s.IsOpen())
	assert.Equal(t, transport.Open, s.ReadyState())
}

func TestNewInvalid(t *testing.T) {
	for _, address := range []string{"", "ftp://example.com", "ws://", "://nope"} {
		_, err := New(address, WithDialer(transporttest.NewDialer()))
		assert.ErrorIs(t, err, ErrInvalidAddress, address)
	}

	_, err := New(testAddress, WithDialer(transporttest.NewDialer()), WithReconnectDelay(-time.Second))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(testAddress, WithDialer(nil))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(testAddress, WithDialer(transporttest.NewDialer()), WithProtocols("chat", ""))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestReconnectUntilMaximum(t *testing.T) {
	s, d, log := newTestSocket(t, WithMaxAttempts(2))

	f := nextDial(t, d)
	f.Drop(transport.CloseAbnormalClosure, "")

	f = nextDial(t, d)
	assert.Equal(t, 1, s.Attempts())
	f.Drop(transport.CloseAbnormalClosure, "")

	f = nextDial(t, d)
	assert.Equal(t, 2, s.Attempts())
	f.Drop(transport.CloseAbnormalClosure, "")

	assertNoDial(t, d, 3)

	assert.Equal(t, 2, log.Count(EventReconnect))
	assert.Equal(t, 1, log.Count(EventMaximum))
	assert.Equal(t, 3, log.Count(EventClose))

	want := []EventName{
		EventClose, EventReconnect,
		EventClose, EventReconnect,
		EventMaximum, EventClose,
	}
	if diff := cmp.Diff(want, log.Names()); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}

	// The reconnect event carries the close event that caused it.
	ce, ok := log.Of(EventReconnect)[0].(*transport.CloseEvent)
	require.True(t, ok)
	assert.Equal(t, transport.CloseAbnormalClosure, ce.Code)
}

func TestMaxAttemptsZero(t *testing.T) {
	_, d, log := newTestSocket(t, WithMaxAttempts(0))

	nextDial(t, d).Drop(transport.CloseGoingAway, "")

	assertNoDial(t, d, 1)
	assert.Equal(t, 1, log.Count(EventMaximum))
	assert.Equal(t, 0, log.Count(EventReconnect))
}

func TestReconnectCodes(t *testing.T) {
	for _, code := range []int{1000, 1001, 1005, 1006} {
		_, d, log := newTestSocket(t)
		nextDial(t, d).Drop(code, "")
		nextDial(t, d)
		assert.Equal(t, 1, log.Count(EventReconnect), "code %d", code)
	}

	for _, code := range []int{1002, 1008, 1011, 4000} {
		_, d, log := newTestSocket(t)
		nextDial(t, d).Drop(code, "")
		assertNoDial(t, d, 1)
		assert.Equal(t, 0, log.Count(EventReconnect), "code %d", code)
		assert.Equal(t, 0, log.Count(EventMaximum), "code %d", code)
		assert.Equal(t, 1, log.Count(EventClose), "code %d", code)
	}
}

func TestLegacyReconnectPolicy(t *testing.T) {
	_, d, log := newTestSocket(t, WithReconnectPolicy(LegacyReconnectPolicy))

	nextDial(t, d).Drop(transport.CloseAbnormalClosure, "")
	assertNoDial(t, d, 1)
	assert.Equal(t, 0, log.Count(EventReconnect))
	assert.Equal(t, 1, log.Count(EventClose))

	_, d, log = newTestSocket(t, WithReconnectPolicy(LegacyReconnectPolicy))
	nextDial(t, d).Drop(transport.CloseGoingAway, "")
	nextDial(t, d)
	assert.Equal(t, 1, log.Count(EventReconnect))
}

func TestAttemptsResetOnOpen(t *testing.T) {
	s, d, log := newTestSocket(t)

	nextDial(t, d).Drop(transport.CloseAbnormalClosure, "")
	nextDial(t, d).Drop(transport.CloseAbnormalClosure, "")

	f := nextDial(t, d)
	assert.Equal(t, 2, s.Attempts())

	f.Open()
	assert.Equal(t, 0, s.Attempts())
	assert.Equal(t, 1, log.Count(EventOpen))
}

func TestSendBufferedWhileConnecting(t *testing.T) {
	s, d, _ := newTestSocket(t)
	f := nextDial(t, d)

	require.NoError(t, s.SendText("a"))
	require.NoError(t, s.SendText("b"))
	require.NoError(t, s.SendText("a"))
	require.NoError(t, s.SendBinary([]byte("a")))
	assert.Empty(t, f.Sent())
	assert.Equal(t, 3, s.Buffered())

	f.Open()

	want := []transport.Message{
		transport.Text("a"),
		transport.Text("b"),
		transport.Binary([]byte("a")),
	}
	if diff := cmp.Diff(want, f.Sent()); diff != "" {
		t.Errorf("sent mismatch (-want +got):\n%s", diff)
	}

	assert.Zero(t, s.Buffered())
	s.mu.Lock()
	assert.True(t, s.flushed)
	s.mu.Unlock()

	require.NoError(t, s.SendText("c"))
	assert.Equal(t, []string{"a", "b", "a", "c"}, f.SentText())
}

func TestOutboxSurvivesReconnect(t *testing.T) {
	s, d, _ := newTestSocket(t)

	f := nextDial(t, d)
	require.NoError(t, s.SendText("a"))
	f.Drop(transport.CloseAbnormalClosure, "")

	f = nextDial(t, d)
	require.NoError(t, s.SendText("b"))
	f.Open()

	assert.Equal(t, []string{"a", "b"}, f.SentText())
}

func TestSendWhileClosed(t *testing.T) {
	s, d, log := newTestSocket(t)

	f := nextDial(t, d)
	f.Open()
	f.Drop(4000, "done")

	require.NoError(t, s.SendText("z"))

	require.Equal(t, 1, log.Count(EventError))
	ev, ok := log.Of(EventError)[0].(*transport.ErrorEvent)
	require.True(t, ok)
	assert.ErrorIs(t, ev, ErrNotOpen)

	s.mu.Lock()
	assert.Empty(t, s.outbox)
	s.mu.Unlock()
	assert.Empty(t, f.Sent())
}

func TestSendWriteError(t *testing.T) {
	s, d, log := newTestSocket(t)

	f := nextDial(t, d)
	f.Open()

	boom := errors.New("boom")
	f.SendErr = boom

	err := s.SendText("x")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, log.Count(EventError))
}

func TestFlushWriteErrorIsReported(t *testing.T) {
	s, d, log := newTestSocket(t)

	f := nextDial(t, d)
	boom := errors.New("boom")
	f.SendErr = boom

	require.NoError(t, s.SendText("x"))
	f.Open()

	require.Equal(t, 1, log.Count(EventError))
	assert.ErrorIs(t, log.Of(EventError)[0].(*transport.ErrorEvent), boom)
}

func TestCloseDisablesReconnect(t *testing.T) {
	s, d, log := newTestSocket(t)

	f := nextDial(t, d)
	f.Open()

	require.NoError(t, s.Close(1000, "bye"))
	if diff := cmp.Diff([]transporttest.CloseCall{{Code: 1000, Reason: "bye"}}, f.CloseCalls()); diff != "" {
		t.Errorf("close calls mismatch (-want +got):\n%s", diff)
	}

	f.Drop(transport.CloseAbnormalClosure, "")

	assertNoDial(t, d, 1)
	assert.Equal(t, 0, log.Count(EventReconnect))
	assert.Equal(t, 1, log.Count(EventClose))
	assert.Equal(t, 1, log.Count(EventMaximum))
}

func TestCloseInvalidCode(t *testing.T) {
	s, d, log := newTestSocket(t)

	f := nextDial(t, d)
	f.Open()

	for _, code := range []int{transport.CloseNoStatusReceived, transport.CloseAbnormalClosure} {
		assert.ErrorIs(t, s.Close(code, ""), transport.ErrInvalidCloseCode)
	}
	assert.Empty(t, f.CloseCalls())
	assert.True(t, s.IsOpen())

	// Reconnection is still enabled.
	f.Drop(transport.CloseAbnormalClosure, "")
	nextDial(t, d)
	assert.Equal(t, 1, log.Count(EventReconnect))
	assert.Zero(t, log.Count(EventMaximum))
}

func TestCloseAfterReconnect(t *testing.T) {
	s, d, log := newTestSocket(t, WithReconnectDelay(50*time.Millisecond))

	f := nextDial(t, d)
	f.Open()
	f.Drop(transport.CloseGoingAway, "")

	// The transport is gone, so Close is a no-op and the retry still fires.
	require.NoError(t, s.Close(0, ""))
	f = nextDial(t, d)
	f.Open()

	require.NoError(t, s.Close(0, ""))
	assert.Equal(t, []transporttest.CloseCall{{Code: 1000}}, f.CloseCalls())
	f.Drop(transport.CloseNormalClosure, "")

	assertNoDial(t, d, 2)
	assert.Equal(t, 1, log.Count(EventReconnect))
}

func TestCloseWhenNotOpen(t *testing.T) {
	s, d, _ := newTestSocket(t)

	f := nextDial(t, d)
	require.NoError(t, s.Close(1000, ""))
	assert.Empty(t, f.CloseCalls())

	// Reconnection is still enabled.
	f.Drop(transport.CloseAbnormalClosure, "")
	nextDial(t, d)
}

func TestStaleTransportIsIgnored(t *testing.T) {
	s, d, log := newTestSocket(t)

	stale := nextDial(t, d)
	s.Open()
	current := nextDial(t, d)

	assert.Equal(t, []transporttest.CloseCall{{Code: 1000, Reason: "superseded"}}, stale.CloseCalls())

	stale.Open()
	stale.Receive(transport.Text("late"))
	stale.Fail(errors.New("late"))
	stale.Drop(transport.CloseAbnormalClosure, "")

	assert.Empty(t, log.Names())
	assertNoDial(t, d, 2)

	current.Open()
	current.Receive(transport.Text("hello"))
	assert.Equal(t, []EventName{EventOpen, EventMessage}, log.Names())
}

func TestOpenCancelsPendingRetry(t *testing.T) {
	s, d, log := newTestSocket(t, WithReconnectDelay(time.Hour))

	nextDial(t, d).Drop(transport.CloseAbnormalClosure, "")
	s.Open()
	nextDial(t, d)

	s.mu.Lock()
	assert.Equal(t, retryIdle, s.retry.state)
	s.mu.Unlock()
	assert.Equal(t, 0, log.Count(EventReconnect))
}

func TestConnectionRefused(t *testing.T) {
	s, d, log := newTestSocket(t, WithReconnectDelay(50*time.Millisecond))

	f := nextDial(t, d)
	f.Fail(refused())
	f.Drop(transport.CloseAbnormalClosure, "")

	nextDial(t, d)
	assertNoDial(t, d, 2)

	assert.Equal(t, 1, s.Attempts())
	assert.Equal(t, 0, log.Count(EventError), "a refused connection is not reported as an error")
	assert.Equal(t, 1, log.Count(EventClose))
	assert.Equal(t, 1, log.Count(EventReconnect))

	_, ok := log.Of(EventReconnect)[0].(*transport.ErrorEvent)
	assert.True(t, ok, "the reconnect event carries the error event")
}

func TestErrorEvent(t *testing.T) {
	_, d, log := newTestSocket(t)

	f := nextDial(t, d)
	f.Fail(errors.New("tls: bad certificate"))

	require.Equal(t, 1, log.Count(EventError))
	assert.Equal(t, 0, log.Count(EventReconnect))
}

func TestMessagePassThrough(t *testing.T) {
	s, d, log := newTestSocket(t)

	f := nextDial(t, d)
	f.Open()
	f.Receive(transport.Text(`{"x":1}`))

	msgs := log.Of(EventMessage)
	require.Len(t, msgs, 1)
	ev := msgs[0].(*transport.MessageEvent)
	assert.Equal(t, `{"x":1}`, string(ev.Data))

	var v struct{ X int }
	require.NoError(t, s.Decode(ev, &v))
	assert.Equal(t, 1, v.X)
}

func TestJSON(t *testing.T) {
	s, d, _ := newTestSocket(t)

	f := nextDial(t, d)
	f.Open()

	require.NoError(t, s.JSON(map[string]int{"x": 1}))
	if diff := cmp.Diff([]transport.Message{transport.Text(`{"x":1}`)}, f.Sent()); diff != "" {
		t.Errorf("sent mismatch (-want +got):\n%s", diff)
	}
}

func TestJSONEncodeError(t *testing.T) {
	s, d, log := newTestSocket(t)

	f := nextDial(t, d)
	f.Open()

	assert.Error(t, s.JSON(make(chan int)))
	assert.Error(t, s.JSON(func() {}))

	assert.Empty(t, f.Sent())
	assert.Equal(t, 0, log.Count(EventError))
}

func TestEncodeCBOR(t *testing.T) {
	s, d, _ := newTestSocket(t, WithCodec(codec.NewCBOR()))

	f := nextDial(t, d)
	f.Open()

	require.NoError(t, s.Encode(map[string]any{"x": uint64(1)}))

	sent := f.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, transport.BinaryMessage, sent[0].Type)

	var got map[string]any
	require.NoError(t, s.Decode(&transport.MessageEvent{Message: sent[0]}, &got))
	assert.Equal(t, map[string]any{"x": uint64(1)}, got)
}

func TestEncodeJSON(t *testing.T) {
	s, d, _ := newTestSocket(t)

	f := nextDial(t, d)
	require.NoError(t, s.Encode([]int{1, 2}))
	f.Open()

	assert.Equal(t, []transport.Message{transport.Text("[1,2]")}, f.Sent())
}

func TestOpenAfterMaximum(t *testing.T) {
	s, d, log := newTestSocket(t, WithMaxAttempts(0))

	nextDial(t, d).Drop(transport.CloseAbnormalClosure, "")
	require.Equal(t, 1, log.Count(EventMaximum))

	s.Open()
	f := nextDial(t, d)
	f.Open()
	assert.True(t, s.IsOpen())
}

func TestOpenListenerResendsBufferedPayload(t *testing.T) {
	s, d, log := newTestSocket(t)

	s.On(EventOpen, func(transport.Event) {
		require.NoError(t, s.SendText("a"))
	})

	f := nextDial(t, d)
	require.NoError(t, s.SendText("a"))
	require.NoError(t, s.SendText("a"))
	f.Open()

	assert.Equal(t, []string{"a", "a"}, f.SentText(), "only the connecting duplicate is collapsed")
	assert.Zero(t, s.Buffered())
	assert.Zero(t, log.Count(EventError))
}

func TestListenerCanSend(t *testing.T) {
	s, d, _ := newTestSocket(t)

	s.On(EventOpen, func(transport.Event) {
		require.NoError(t, s.SendText("hello"))
	})

	f := nextDial(t, d)
	require.NoError(t, s.SendText("queued"))
	f.Open()

	assert.Equal(t, []string{"queued", "hello"}, f.SentText())
}
