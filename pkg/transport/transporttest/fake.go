// Package transporttest provides a scriptable in-memory transport.
//
// A Fake never touches the network. Tests drive it explicitly with
// Open, Receive, Fail and Drop, which invoke the registered handlers
// synchronously on the calling goroutine.
package transporttest

import (
	"sync"

	"github.com/sockett/sockett.go/pkg/transport"
)

// ErrNotOpen is returned by Fake.Send unless the fake is open.
var ErrNotOpen = transport.ErrNotOpen

// CloseCall records one call to Fake.Close.
type CloseCall struct {
	Code   int
	Reason string
}

// Fake is a transport.Transport whose lifecycle is driven by the test.
type Fake struct {
	Address   string
	Protocols []string
	Options   transport.Options

	mu       sync.Mutex
	state    transport.ReadyState
	handlers transport.Handlers
	sent     []transport.Message
	closes   []CloseCall

	// SendErr, when set, is returned by Send while the fake is open.
	SendErr error
}

var _ transport.Transport = (*Fake)(nil)

// NewFake returns a Fake in the Connecting state.
func NewFake(address string, protocols []string, opts transport.Options, h transport.Handlers) *Fake {
	return &Fake{
		Address:   address,
		Protocols: protocols,
		Options:   opts,
		state:     transport.Connecting,
		handlers:  h,
	}
}

func (f *Fake) ReadyState() transport.ReadyState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *Fake) Send(msg transport.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != transport.Open {
		return ErrNotOpen
	}
	if f.SendErr != nil {
		return f.SendErr
	}
	f.sent = append(f.sent, msg)
	return nil
}

// Close records the call and moves an open or connecting fake to Closing.
// It does not report a close event; call Drop for that.
func (f *Fake) Close(code int, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closes = append(f.closes, CloseCall{Code: code, Reason: reason})
	if f.state == transport.Open || f.state == transport.Connecting {
		f.state = transport.Closing
	}
	return nil
}

// Sent returns a copy of all messages written while open.
func (f *Fake) Sent() []transport.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]transport.Message(nil), f.sent...)
}

// SentText returns the payloads of all sent messages as strings.
func (f *Fake) SentText() []string {
	sent := f.Sent()
	out := make([]string, 0, len(sent))
	for _, msg := range sent {
		out = append(out, string(msg.Data))
	}
	return out
}

// CloseCalls returns a copy of all recorded Close calls.
func (f *Fake) CloseCalls() []CloseCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]CloseCall(nil), f.closes...)
}

func (f *Fake) setState(state transport.ReadyState) {
	f.mu.Lock()
	f.state = state
	f.mu.Unlock()
}

// Open completes the handshake and reports an open event.
func (f *Fake) Open() {
	f.setState(transport.Open)
	f.handlers.Open(&transport.OpenEvent{})
}

// Receive reports an incoming message.
func (f *Fake) Receive(msg transport.Message) {
	f.handlers.Message(&transport.MessageEvent{Message: msg})
}

// Fail reports an error without changing the state.
func (f *Fake) Fail(err error) {
	f.handlers.Error(&transport.ErrorEvent{Err: err})
}

// Drop moves the fake to Closed and reports a close event with the given code.
func (f *Fake) Drop(code int, reason string) {
	f.setState(transport.Closed)
	f.handlers.Close(&transport.CloseEvent{
		Code:     code,
		Reason:   reason,
		WasClean: code != transport.CloseAbnormalClosure,
	})
}

// Dialer records every Fake it creates.
type Dialer struct {
	mu     sync.Mutex
	fakes  []*Fake
	dialed chan *Fake
}

var _ transport.Dialer = (*Dialer)(nil)

// NewDialer returns an empty Dialer.
func NewDialer() *Dialer {
	return &Dialer{dialed: make(chan *Fake, 64)}
}

func (d *Dialer) Dial(address string, protocols []string, opts transport.Options, h transport.Handlers) transport.Transport {
	f := NewFake(address, protocols, opts, h)

	d.mu.Lock()
	d.fakes = append(d.fakes, f)
	d.mu.Unlock()

	select {
	case d.dialed <- f:
	default:
	}

	return f
}

// Dialed is fed every new Fake, for tests waiting on timer-driven reconnections.
func (d *Dialer) Dialed() <-chan *Fake {
	return d.dialed
}

// Count returns how many transports have been dialed.
func (d *Dialer) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.fakes)
}

// Last returns the most recently dialed Fake, or nil.
func (d *Dialer) Last() *Fake {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.fakes) == 0 {
		return nil
	}
	return d.fakes[len(d.fakes)-1]
}

// All returns every Fake dialed so far, oldest first.
func (d *Dialer) All() []*Fake {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Fake(nil), d.fakes...)
}
