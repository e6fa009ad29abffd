// Package gws implements transport.Transport on top of github.com/lxzan/gws.
package gws

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lxzan/gws"

	"github.com/sockett/sockett.go/pkg/transport"
)

// Conn is a single gws connection.
type Conn struct {
	opts transport.Options
	h    transport.Handlers

	state atomic.Int32

	connLock   sync.Mutex
	conn       *gws.Conn
	closeTimer *time.Timer

	// closeCode and closeReason are what Close sent. gws reports a locally
	// written close frame as a plain error, not a *gws.CloseError.
	closeCode   int
	closeReason string

	closeOnce sync.Once
}

var _ transport.Transport = (*Conn)(nil)

type websocketHandler struct {
	gws.BuiltinEventHandler

	conn *Conn
}

// OnOpen is invoked by ReadLoop before the first frame is read.
func (h *websocketHandler) OnOpen(socket *gws.Conn) {
	h.conn.h.Open(&transport.OpenEvent{Protocol: socket.SubProtocol()})
}

func (h *websocketHandler) OnClose(socket *gws.Conn, err error) {
	h.conn.finish(err)
}

func (h *websocketHandler) OnPing(socket *gws.Conn, payload []byte) {
	h.conn.writeFailed("pong", socket.WritePong(payload))
}

func (h *websocketHandler) OnMessage(socket *gws.Conn, message *gws.Message) {
	defer message.Close()

	typ := transport.BinaryMessage
	if message.Opcode == gws.OpcodeText {
		typ = transport.TextMessage
	}
	// message.Bytes() is recycled by Close.
	data := append([]byte(nil), message.Bytes()...)

	h.conn.h.Message(&transport.MessageEvent{Message: transport.Message{Type: typ, Data: data}})
}

// Dial starts connecting to address and returns without waiting for the handshake.
// It satisfies transport.DialFunc.
func Dial(address string, protocols []string, opts transport.Options, h transport.Handlers) transport.Transport {
	c := &Conn{opts: opts, h: h}
	c.state.Store(int32(transport.Connecting))

	go c.run(address, protocols)

	return c
}

func (c *Conn) clientOption(address string, protocols []string) *gws.ClientOption {
	header := c.opts.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	if len(protocols) > 0 {
		header.Set("Sec-WebSocket-Protocol", strings.Join(protocols, ", "))
	}

	return &gws.ClientOption{
		Addr:             address,
		RequestHeader:    header,
		HandshakeTimeout: c.opts.HandshakeTimeoutOrDefault(),
		TlsConfig:        c.opts.TLSConfig,
		PermessageDeflate: gws.PermessageDeflate{
			Enabled: c.opts.EnableCompression,
		},
	}
}

func (c *Conn) run(address string, protocols []string) {
	wsURL, err := transport.WebSocketURL(address)
	if err == nil {
		var conn *gws.Conn
		conn, _, err = gws.NewClient(&websocketHandler{conn: c}, c.clientOption(wsURL, protocols))
		if err == nil {
			c.start(conn)
			return
		}
	}

	closing := c.ReadyState() == transport.Closing
	c.state.Store(int32(transport.Closed))
	if !closing {
		c.h.Error(&transport.ErrorEvent{Err: fmt.Errorf("gws: failed to dial %s: %w", address, err)})
	}
	c.reportClose(&transport.CloseEvent{Code: transport.CloseAbnormalClosure})
}

func (c *Conn) start(conn *gws.Conn) {
	c.connLock.Lock()
	if !c.state.CompareAndSwap(int32(transport.Connecting), int32(transport.Open)) {
		// Close was called while the handshake was in flight.
		c.connLock.Unlock()
		conn.NetConn().Close()
		c.state.Store(int32(transport.Closed))
		c.reportClose(&transport.CloseEvent{Code: transport.CloseAbnormalClosure})
		return
	}
	c.conn = conn
	c.connLock.Unlock()

	conn.ReadLoop()
}

func (c *Conn) finish(err error) {
	closing := c.ReadyState() == transport.Closing

	c.connLock.Lock()
	c.state.Store(int32(transport.Closed))
	c.conn = nil
	if c.closeTimer != nil {
		c.closeTimer.Stop()
	}
	closeCode, closeReason := c.closeCode, c.closeReason
	c.connLock.Unlock()

	ev := &transport.CloseEvent{Code: transport.CloseAbnormalClosure}

	var ce *gws.CloseError
	switch {
	case errors.As(err, &ce):
		ev.Code = int(ce.Code)
		ev.Reason = string(ce.Reason)
		ev.WasClean = true
		if ev.Code == 0 {
			ev.Code = transport.CloseNoStatusReceived
		}
	case closing && closeCode != 0:
		ev.Code = closeCode
		ev.Reason = closeReason
		ev.WasClean = true
	case !closing && err != nil:
		c.h.Error(&transport.ErrorEvent{Err: fmt.Errorf("gws: connection lost: %w", err)})
	}

	c.reportClose(ev)
}

// writeFailed reports a failed control frame write on an open connection.
// Once closing, the close event carries the outcome.
func (c *Conn) writeFailed(frame string, err error) {
	if err == nil || c.ReadyState() != transport.Open {
		return
	}
	c.h.Error(&transport.ErrorEvent{Err: fmt.Errorf("gws: failed to write %s: %w", frame, err)})
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

	opcode := gws.OpcodeBinary
	if msg.Type == transport.TextMessage {
		opcode = gws.OpcodeText
	}
	return c.conn.WriteMessage(opcode, msg.Data)
}

// Close writes a close frame. gws tears the connection down right after,
// and OnClose reports the code and reason we sent. If that does not happen within
// CloseTimeout, the network connection is dropped.
func (c *Conn) Close(code int, reason string) error {
	if !transport.CanSendCloseCode(code) {
		return fmt.Errorf("gws: %w: %d", transport.ErrInvalidCloseCode, code)
	}

	c.connLock.Lock()

	switch c.ReadyState() {
	case transport.Connecting:
		c.state.Store(int32(transport.Closing))
		c.connLock.Unlock()
		return nil
	case transport.Open:
	default:
		c.connLock.Unlock()
		return nil
	}

	c.state.Store(int32(transport.Closing))
	c.closeCode = code
	c.closeReason = reason
	conn := c.conn

	c.closeTimer = time.AfterFunc(c.opts.CloseTimeoutOrDefault(), func() {
		conn.NetConn().Close()
	})
	c.connLock.Unlock()

	conn.WriteClose(uint16(code), []byte(reason))

	return nil
}
