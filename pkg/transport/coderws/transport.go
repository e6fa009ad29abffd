// Package coderws implements transport.Transport on top of github.com/coder/websocket.
package coderws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"

	"github.com/sockett/sockett.go/pkg/transport"
)

// Conn is a single coder/websocket connection.
type Conn struct {
	opts transport.Options
	h    transport.Handlers

	state atomic.Int32

	// ctx lives as long as the connection; cancelling it aborts the
	// handshake or tears down an open connection.
	ctx    context.Context
	cancel context.CancelFunc

	connLock  sync.Mutex
	conn      *websocket.Conn
	closeCode int

	closeOnce sync.Once
}

var _ transport.Transport = (*Conn)(nil)

// Dial starts connecting to address and returns without waiting for the handshake.
// It satisfies transport.DialFunc.
func Dial(address string, protocols []string, opts transport.Options, h transport.Handlers) transport.Transport {
	ctx, cancel := context.WithCancel(context.Background())

	c := &Conn{
		opts:   opts,
		h:      h,
		ctx:    ctx,
		cancel: cancel,
	}
	c.state.Store(int32(transport.Connecting))

	go c.run(address, protocols)

	return c
}

func (c *Conn) dialOptions(protocols []string) *websocket.DialOptions {
	opts := &websocket.DialOptions{
		HTTPHeader:      c.opts.Header,
		Subprotocols:    protocols,
		CompressionMode: websocket.CompressionDisabled,
	}
	if c.opts.EnableCompression {
		opts.CompressionMode = websocket.CompressionContextTakeover
	}
	if c.opts.TLSConfig != nil {
		opts.HTTPClient = &http.Client{
			Transport: &http.Transport{TLSClientConfig: c.opts.TLSConfig},
		}
	}
	return opts
}

func (c *Conn) run(address string, protocols []string) {
	defer c.cancel()

	conn, err := c.connect(address, protocols)
	if err != nil {
		closing := c.ReadyState() == transport.Closing
		c.state.Store(int32(transport.Closed))
		if !closing && !errors.Is(err, context.Canceled) {
			c.h.Error(&transport.ErrorEvent{Err: err})
		}
		c.reportClose(&transport.CloseEvent{Code: transport.CloseAbnormalClosure})
		return
	}

	c.h.Open(&transport.OpenEvent{Protocol: conn.Subprotocol()})

	c.readLoop(conn)
}

func (c *Conn) connect(address string, protocols []string) (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(c.ctx, c.opts.HandshakeTimeoutOrDefault())
	defer cancel()

	conn, res, err := websocket.Dial(ctx, address, c.dialOptions(protocols))
	if res != nil && res.Body != nil {
		res.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("coderws: failed to dial %s: %w", address, err)
	}

	c.connLock.Lock()
	defer c.connLock.Unlock()

	if !c.state.CompareAndSwap(int32(transport.Connecting), int32(transport.Open)) {
		conn.CloseNow()
		return nil, context.Canceled
	}
	c.conn = conn

	return conn, nil
}

func (c *Conn) readLoop(conn *websocket.Conn) {
	for {
		typ, data, err := conn.Read(c.ctx)
		if err != nil {
			c.finish(conn, err)
			return
		}

		msgType := transport.BinaryMessage
		if typ == websocket.MessageText {
			msgType = transport.TextMessage
		}
		c.h.Message(&transport.MessageEvent{Message: transport.Message{Type: msgType, Data: data}})
	}
}

func (c *Conn) finish(conn *websocket.Conn, err error) {
	closing := c.ReadyState() == transport.Closing

	c.connLock.Lock()
	c.state.Store(int32(transport.Closed))
	c.conn = nil
	closeCode := c.closeCode
	c.connLock.Unlock()

	conn.CloseNow()

	ev := &transport.CloseEvent{Code: transport.CloseAbnormalClosure}

	var ce websocket.CloseError
	switch {
	case errors.As(err, &ce):
		ev.Code = int(ce.Code)
		ev.Reason = ce.Reason
		ev.WasClean = true
	case closing && closeCode != 0:
		// coder/websocket completed our closing handshake itself.
		ev.Code = closeCode
		ev.WasClean = true
	case !closing:
		c.h.Error(&transport.ErrorEvent{Err: fmt.Errorf("coderws: connection lost: %w", err)})
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
	conn := c.conn
	open := c.ReadyState() == transport.Open
	c.connLock.Unlock()

	if conn == nil || !open {
		return transport.ErrNotOpen
	}

	typ := websocket.MessageBinary
	if msg.Type == transport.TextMessage {
		typ = websocket.MessageText
	}

	// coder/websocket serializes concurrent writers itself.
	return conn.Write(c.ctx, typ, msg.Data)
}

// Close runs the closing handshake in the background. coder/websocket
// waits up to five seconds for the peer before dropping the connection.
func (c *Conn) Close(code int, reason string) error {
	if !transport.CanSendCloseCode(code) {
		return fmt.Errorf("coderws: %w: %d", transport.ErrInvalidCloseCode, code)
	}

	c.connLock.Lock()
	defer c.connLock.Unlock()

	switch c.ReadyState() {
	case transport.Connecting:
		c.state.Store(int32(transport.Closing))
		c.cancel()
		return nil
	case transport.Open:
	default:
		return nil
	}

	c.state.Store(int32(transport.Closing))
	c.closeCode = code
	conn := c.conn

	go func() {
		// The outcome is reported by the read loop.
		_ = conn.Close(websocket.StatusCode(code), reason)
	}()

	return nil
}
