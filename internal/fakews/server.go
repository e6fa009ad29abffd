// Package fakews provides a fake WebSocket server for integration tests.
//
// The server upgrades connections with the `gws` library and routes
// requests with gorilla/mux:
//
//	/echo              echoes every message back with the same frame type
//	/close/{code}      accepts the handshake, then closes with the given code
//	/reject            refuses the handshake with 403 Forbidden
//
// Every message received on /echo is recorded, and tests can inject
// failures on live connections with CloseAll and DropAll.
package fakews

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/lxzan/gws"

	"github.com/sockett/sockett.go/pkg/transport"
)

// Server is a fake WebSocket server.
type Server struct {
	addr       string
	listener   net.Listener
	httpServer *http.Server
	// upgrader negotiates one of the server's sub-protocols; plain serves
	// clients that offer none, which gws would otherwise reject.
	upgrader *gws.Upgrader
	plain    *gws.Upgrader

	mu          sync.RWMutex
	connections map[*gws.Conn]bool
	received    []transport.Message
	handshakes  int
}

// Handler implements gws.Event for connections accepted by the Server.
type Handler struct {
	server *Server
}

// NewServer creates a new fake server.
// Use "127.0.0.1:0" to bind to a random available port.
// The server selects the first of protocols offered by a client, and
// accepts clients that offer no sub-protocol at all.
func NewServer(addr string, protocols ...string) *Server {
	s := &Server{
		addr:        addr,
		connections: make(map[*gws.Conn]bool),
	}

	s.upgrader = gws.NewUpgrader(&Handler{server: s}, &gws.ServerOption{
		SubProtocols: protocols,
	})
	s.plain = gws.NewUpgrader(&Handler{server: s}, &gws.ServerOption{})

	router := mux.NewRouter()
	router.HandleFunc("/echo", s.handleEcho)
	router.HandleFunc("/close/{code:[0-9]+}", s.handleClose)
	router.HandleFunc("/reject", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	})

	s.httpServer = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

// Start starts the server and begins accepting WebSocket connections.
// Returns an error if the server cannot bind to the specified address.
func (s *Server) Start() error {
	var lc net.ListenConfig
	listener, err := lc.Listen(context.Background(), "tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = listener

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("fakews: server error: %v", err)
		}
	}()

	return nil
}

// Stop shuts the server down and drops every connection.
func (s *Server) Stop() error {
	s.DropAll()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// Address returns the actual address the server is listening on.
// This is useful when using "127.0.0.1:0" to get the assigned port.
func (s *Server) Address() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// URL returns the ws:// URL of path on this server.
func (s *Server) URL(path string) string {
	return "ws://" + s.Address() + path
}

func (s *Server) upgrade(w http.ResponseWriter, r *http.Request) (*gws.Conn, bool) {
	upgrader := s.plain
	if r.Header.Get("Sec-WebSocket-Protocol") != "" {
		upgrader = s.upgrader
	}

	socket, err := upgrader.Upgrade(w, r)
	if err != nil {
		log.Printf("fakews: upgrade failed: %v", err)
		return nil, false
	}

	s.mu.Lock()
	s.handshakes++
	s.mu.Unlock()

	return socket, true
}

func (s *Server) handleEcho(w http.ResponseWriter, r *http.Request) {
	socket, ok := s.upgrade(w, r)
	if !ok {
		return
	}
	go socket.ReadLoop()
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	code, err := strconv.Atoi(mux.Vars(r)["code"])
	if err != nil || code > 4999 {
		http.Error(w, fmt.Sprintf("invalid close code %q", mux.Vars(r)["code"]), http.StatusBadRequest)
		return
	}

	socket, ok := s.upgrade(w, r)
	if !ok {
		return
	}
	go socket.ReadLoop()
	socket.WriteClose(uint16(code), []byte("server closing"))
}

// Received returns every message received so far, oldest first.
func (s *Server) Received() []transport.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]transport.Message(nil), s.received...)
}

// Handshakes returns how many WebSocket handshakes have completed.
func (s *Server) Handshakes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handshakes
}

// Connections returns how many connections are currently open.
func (s *Server) Connections() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.connections)
}

func (s *Server) sockets() []*gws.Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sockets := make([]*gws.Conn, 0, len(s.connections))
	for socket := range s.connections {
		sockets = append(sockets, socket)
	}
	return sockets
}

// CloseAll sends a close frame with code and reason on every open connection.
func (s *Server) CloseAll(code uint16, reason string) {
	for _, socket := range s.sockets() {
		socket.WriteClose(code, []byte(reason))
	}
}

// DropAll closes the network connection under every open connection,
// without a closing handshake.
func (s *Server) DropAll() {
	for _, socket := range s.sockets() {
		socket.NetConn().Close()
	}
}

// Broadcast writes msg to every open connection.
func (s *Server) Broadcast(msg transport.Message) error {
	opcode := gws.OpcodeBinary
	if msg.Type == transport.TextMessage {
		opcode = gws.OpcodeText
	}

	var errs []error
	for _, socket := range s.sockets() {
		if err := socket.WriteMessage(opcode, msg.Data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *Handler) OnOpen(socket *gws.Conn) {
	h.server.mu.Lock()
	h.server.connections[socket] = true
	h.server.mu.Unlock()
}

func (h *Handler) OnClose(socket *gws.Conn, err error) {
	h.server.mu.Lock()
	delete(h.server.connections, socket)
	h.server.mu.Unlock()
}

func (h *Handler) OnPing(socket *gws.Conn, payload []byte) {
	if err := socket.WritePong(payload); err != nil {
		log.Printf("fakews: error writing pong: %v", err)
	}
}

func (h *Handler) OnPong(socket *gws.Conn, payload []byte) {
}

func (h *Handler) OnMessage(socket *gws.Conn, message *gws.Message) {
	defer message.Close()

	typ := transport.BinaryMessage
	if message.Opcode == gws.OpcodeText {
		typ = transport.TextMessage
	}
	msg := transport.Message{Type: typ, Data: append([]byte(nil), message.Bytes()...)}

	h.server.mu.Lock()
	h.server.received = append(h.server.received, msg)
	h.server.mu.Unlock()

	if err := socket.WriteMessage(message.Opcode, msg.Data); err != nil {
		log.Printf("fakews: error echoing message: %v", err)
	}
}
