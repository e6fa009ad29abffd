// Package gorillaws implements transport.Transport on top of github.com/gorilla/websocket.
//
// Dial returns immediately. The opening handshake, the read loop and the
// closing handshake all run on a goroutine owned by the returned Conn,
// which is also the goroutine every handler is invoked from.
package gorillaws

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	gorilla "github.com/gorilla/websocket"

	"github.com/sockett/sockett.go/pkg/transport"
)

// Conn is a single gorilla/websocket connection.
type Conn struct {
	opts transport.Options
	h    transport.Handlers

	state atomic.Int32

	// connLock guards conn and serializes writes, as gorilla allows
	// only one concurrent writer.
	connLock sync.Mutex
	conn     *gorilla.Conn

	// cancel aborts the opening handshake.
	cancel context.CancelFunc

	// closeTimer drops the connection when the peer does not answer our close frame.
	closeTimer *time.Timer

	closeOnce sync.Once
}

var _ transport.Transport = (*Conn)(nil)

// Dial starts connecting to address and returns without waiting for the handshake.
// It satisfies transport.DialFunc.
func Dial(address string, protocols []string, opts transport.Options, h transport.Handlers) transport.Transport {
	return DialContext(context.Background(), address, protocols, opts, h)
}

// DialContext is Dial with a context bounding the opening handshake.
func DialContext(ctx context.Context, address string, protocols []string, opts transport.Options, h transport.Handlers) *Conn {
	ctx, cancel := context.WithCancel(ctx)

	c := &Conn{
		opts:   opts,
		h:      h,
		cancel: cancel,
	}
	c.state.Store(int32(transport.Connecting))

	go c.run(ctx, address, protocols)

	return c
}

func (c *Conn) dialer(protocols []string) *gorilla.Dialer {
	return &gorilla.Dialer{
		Proxy:             gorilla.DefaultDialer.Proxy,
		HandshakeTimeout:  c.opts.HandshakeTimeoutOrDefault(),
		TLSClientConfig:   c.opts.TLSConfig,
		EnableCompression: c.opts.EnableCompression,
		Subprotocols:      protocols,
	}
}

func (c *Conn) run(ctx context.Context, address string, protocols []string) {
	defer c.cancel()

	conn, err := c.connect(ctx, address, protocols)
	if err != nil {
		closing := c.ReadyState() == transport.Closing
		c.state.Store(int32(transport.Closed))
		// Closing during the handshake only reports an abnormal closure.
		if !closing && !errors.Is(err, context.Canceled) && !errors.Is(ctx.Err(), context.Canceled) {
			c.h.Error(&transport.ErrorEvent{Err: err})
		}
		c.reportClose(&transport.CloseEvent{Code: transport.CloseAbnormalClosure})
		return
	}

	c.h.Open(&transport.OpenEvent{Protocol: conn.Subprotocol()})

	c.readLoop(conn)
}

func (c *Conn) connect(ctx context.Context, address string, protocols []string) (*gorilla.Conn, error) {
	wsURL, err := transport.WebSocketURL(address)
	if err != nil {
		return nil, err
	}

	conn, res, err := c.dialer(protocols).DialContext(ctx, wsURL, c.opts.Header)
	if res != nil && res.Body != nil {
		res.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("gorillaws: failed to dial %s: %w", address, err)
	}

	c.connLock.Lock()
	defer c.connLock.Unlock()

	// Close was called while the handshake was in flight.
	if !c.state.CompareAndSwap(int32(transport.Connecting), int32(transport.Open)) {
		conn.Close()
		return nil, context.Canceled
	}

	if c.opts.EnableCompression {
		conn.EnableWriteCompression(true)
	}
	c.conn = conn

	return conn, nil
}

func (c *Conn) readLoop(conn *gorilla.Conn) {
	for {
		typ, data, err := conn.ReadMessage()
		if err != nil {
			c.finish(conn, err)
			return
		}
		c.h.Message(&transport.MessageEvent{
			Message: transport.Message{Type: transport.MessageType(typ), Data: data},
		})
	}
}

// finish turns the error that ended the read loop into the final close event.
func (c *Conn) finish(conn *gorilla.Conn, err error) {
	closing := c.ReadyState() == transport.Closing

	c.connLock.Lock()
	c.state.Store(int32(transport.Closed))
	c.conn = nil
	if c.closeTimer != nil {
		c.closeTimer.Stop()
	}
	c.connLock.Unlock()

	conn.Close()

	ev := &transport.CloseEvent{Code: transport.CloseAbnormalClosure}

	var ce *gorilla.CloseError
	switch {
	case errors.As(err, &ce):
		ev.Code = ce.Code
		ev.Reason = ce.Text
		ev.WasClean = true
	case !closing:
		c.h.Error(&transport.ErrorEvent{Err: fmt.Errorf("gorillaws: connection lost: %w", err)})
	}

	c.reportClose(ev)
}

func (c *Conn) reportClose(ev *transport.CloseEvent) {
	c.closeOnce.Do(func() {
		c.h.Close(ev)
	})
}

func (c *Conn) ReadyState() transport.ReadyState {
	return transport.ReadyState(c.state.Load())
}

func (c *Conn) Send(msg transport.Message) error {
	c.connLock.Lock()
	defer c.connLock.Unlock()

	if c.conn == nil || c.ReadyState() != transport.Open {
		return transport.ErrNotOpen
	}

	return c.conn.WriteMessage(int(msg.Type), msg.Data)
}

// Close sends a close frame and waits up to CloseTimeout for the peer
// to answer before dropping the connection. Closing while the handshake
// is in flight aborts it.
func (c *Conn) Close(code int, reason string) error {
	if !transport.CanSendCloseCode(code) {
		return fmt.Errorf("gorillaws: %w: %d", transport.ErrInvalidCloseCode, code)
	}

	c.connLock.Lock()

	switch c.ReadyState() {
	case transport.Connecting:
		c.state.Store(int32(transport.Closing))
		c.connLock.Unlock()
		c.cancel()
		return nil
	case transport.Open:
	default:
		c.connLock.Unlock()
		return nil
	}

	c.state.Store(int32(transport.Closing))
	conn := c.conn

	timeout := c.opts.CloseTimeoutOrDefault()
	c.closeTimer = time.AfterFunc(timeout, func() {
		conn.Close()
	})
	c.connLock.Unlock()

	// WriteControl may be called concurrently with the other write methods.
	err := conn.WriteControl(gorilla.CloseMessage, gorilla.FormatCloseMessage(code, reason), time.Now().Add(timeout))
	if err != nil {
		conn.Close()
		return fmt.Errorf("gorillaws: failed to write close message: %w", err)
	}

	return nil
}
