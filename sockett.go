package sockett

import (
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gofrs/uuid"

	"github.com/sockett/sockett.go/pkg/codec"
	"github.com/sockett/sockett.go/pkg/transport"
)

var jsonCodec codec.JSON

// Socket is a WebSocket client that reopens itself after reconnect-worthy
// closures, buffers messages sent while connecting, and re-emits the
// lifecycle events of whichever transport it currently owns.
//
// A Socket owns exactly one transport at a time. Every Open dials a new
// transport and bumps the generation; callbacks of older generations are
// ignored, so a superseded transport cannot affect the current state.
type Socket struct {
	address string
	cfg     Config
	retryer Retryer
	events  emitter

	// mu guards everything below.
	mu sync.Mutex

	transport transport.Transport
	// generation identifies transport; it is bumped on every Open.
	generation uint64
	// connID is a per-generation identifier, only used for logging.
	connID string
	// flushed is set once the outbox has been written to the current transport.
	flushed bool
	// decided is the last generation that has triggered a reconnect decision.
	decided uint64

	// attempts counts reconnections scheduled since the last successful open.
	attempts int
	retry    retryTimer
	outbox   []transport.Message
}

// New creates a Socket for address and immediately starts connecting.
//
// Connection failures are never returned: they are reported through
// the error, close, reconnect and maximum events. An error is returned only
// for an unusable address or configuration.
func New(address string, opts ...Option) (*Socket, error) {
	if err := validateAddress(address); err != nil {
		return nil, err
	}

	cfg := NewConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = NewConfig().Logger
	}

	s := &Socket{
		address: address,
		cfg:     *cfg,
		retryer: cfg.retryer(),
	}
	for _, l := range cfg.listeners {
		s.events.add(l.name, l.fn, l.once)
	}
	s.cfg.listeners = nil

	s.Open()

	return s, nil
}

func validateAddress(address string) error {
	if address == "" {
		return fmt.Errorf("%w: empty address", ErrInvalidAddress)
	}
	u, err := url.Parse(address)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidAddress, err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidAddress, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidAddress)
	}
	return nil
}

// Address returns the endpoint the Socket connects to.
func (s *Socket) Address() string {
	return s.address
}

// Attempts returns the number of reconnections scheduled since the last successful open.
func (s *Socket) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// ReadyState returns the state of the current transport.
func (s *Socket) ReadyState() transport.ReadyState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transport == nil {
		return transport.Closed
	}
	return s.transport.ReadyState()
}

// Buffered returns the number of messages waiting to be written to the
// transport once it opens.
func (s *Socket) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.outbox)
}

// IsOpen reports whether the current transport is open.
func (s *Socket) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isOpenLocked()
}

func (s *Socket) isOpenLocked() bool {
	return s.transport != nil && s.transport.ReadyState() == transport.Open
}

// Open dials a new transport, replacing the current one.
//
// New calls Open once; reconnections call it again. Calling it directly
// reopens a socket that gave up after MaxAttempts. A socket closed with Close
// stays without automatic reconnection.
func (s *Socket) Open() {
	s.mu.Lock()
	old := s.transport

	if s.retry.state == retryPending {
		s.retry.cancel()
	}

	s.generation++
	gen := s.generation
	s.connID = uuid.Must(uuid.NewV4()).String()
	s.flushed = false

	s.cfg.Logger.Debug("sockett.Socket is opening a transport",
		"address", s.address,
		"generation", gen,
		"conn_id", s.connID,
	)

	// Dial never invokes handlers synchronously, so holding mu here only
	// delays the first callback until the transport is recorded.
	s.transport = s.cfg.Dialer.Dial(s.address, s.cfg.Protocols, s.cfg.Transport, s.handlers(gen))
	s.mu.Unlock()

	if old != nil {
		switch old.ReadyState() {
		case transport.Connecting, transport.Open:
			if err := old.Close(transport.CloseNormalClosure, "superseded"); err != nil {
				s.cfg.Logger.Debug("sockett.Socket failed to close a superseded transport", "error", err)
			}
		}
	}
}

func (s *Socket) handlers(gen uint64) transport.Handlers {
	return transport.Handlers{
		OnOpen: func(ev *transport.OpenEvent) {
			s.handleOpen(gen, ev)
		},
		OnMessage: func(ev *transport.MessageEvent) {
			if s.current(gen) {
				s.events.emit(EventMessage, ev)
			}
		},
		OnClose: func(ev *transport.CloseEvent) {
			s.handleClose(gen, ev)
		},
		OnError: func(ev *transport.ErrorEvent) {
			s.handleError(gen, ev)
		},
	}
}

func (s *Socket) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		s.cfg.Logger.Debug("sockett.Socket ignored an event from a superseded transport",
			"generation", gen,
			"current_generation", s.generation,
		)
		return false
	}
	return true
}

func (s *Socket) handleOpen(gen uint64, ev *transport.OpenEvent) {
	if !s.current(gen) {
		return
	}

	s.events.emit(EventOpen, ev)

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return
	}
	s.attempts = 0
	s.retryer.Reset()
	t := s.transport
	s.cfg.Logger.Debug("sockett.Socket is open", "generation", gen, "conn_id", s.connID)
	s.mu.Unlock()

	s.flush(gen, t)
}

// flush writes the outbox to t in FIFO order. Each pass iterates over a
// snapshot and removes it only afterwards; messages buffered meanwhile are
// picked up by the next pass.
func (s *Socket) flush(gen uint64, t transport.Transport) {
	for {
		s.mu.Lock()
		if s.generation != gen {
			s.mu.Unlock()
			return
		}
		snapshot := s.outbox
		if len(snapshot) == 0 {
			s.outbox = nil
			s.flushed = true
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		for _, msg := range snapshot {
			if err := s.write(t, msg); err != nil {
				s.events.emit(EventError, &transport.ErrorEvent{Err: err})
			}
		}

		s.mu.Lock()
		if s.generation == gen {
			s.outbox = s.outbox[len(snapshot):]
		}
		s.mu.Unlock()
	}
}

func (s *Socket) handleClose(gen uint64, ev *transport.CloseEvent) {
	if !s.current(gen) {
		return
	}

	s.cfg.Logger.Debug("sockett.Socket transport closed",
		"generation", gen,
		"code", ev.Code,
		"reason", ev.Reason,
		"was_clean", ev.WasClean,
	)

	if s.cfg.ReconnectPolicy(ev.Code) {
		s.reconnect(gen, ev)
	}

	s.events.emit(EventClose, ev)
}

func (s *Socket) handleError(gen uint64, ev *transport.ErrorEvent) {
	if !s.current(gen) {
		return
	}

	if ev.ConnectionRefused() {
		s.reconnect(gen, ev)
		return
	}

	s.events.emit(EventError, ev)
}

// reconnect schedules a reopen after the retry delay, or emits EventMaximum
// when reconnection is disabled or the attempts are exhausted.
// A transport generation gets at most one decision: a refused connection is
// usually reported both as an error and as an abnormal closure.
func (s *Socket) reconnect(gen uint64, trigger transport.Event) {
	s.mu.Lock()
	if s.generation != gen || s.decided == gen {
		s.mu.Unlock()
		return
	}
	s.decided = gen

	if s.retry.state == retryPending {
		s.mu.Unlock()
		return
	}

	var (
		delay time.Duration
		ok    = s.retry.state != retryDisabled && (s.cfg.unlimited() || s.attempts < s.cfg.MaxAttempts)
	)
	if ok {
		delay, ok = s.retryer.NextDelay(s.attempts, asError(trigger))
	}

	if !ok {
		attempts, state := s.attempts, s.retry.state
		s.mu.Unlock()

		s.cfg.Logger.Info("sockett.Socket will not reconnect",
			"attempts", attempts,
			"max_attempts", s.cfg.MaxAttempts,
			"retry", state,
		)
		s.events.emit(EventMaximum, trigger)
		return
	}

	s.attempts++
	attempt := s.attempts
	s.retry.schedule(delay, func(seq uint64) {
		s.fireRetry(seq, trigger)
	})
	s.mu.Unlock()

	s.cfg.Logger.Info("sockett.Socket scheduled a reconnection",
		"attempt", attempt,
		"delay", delay,
		"cause", asError(trigger),
	)
}

func (s *Socket) fireRetry(seq uint64, trigger transport.Event) {
	s.mu.Lock()
	if !s.retry.claim(seq) {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.events.emit(EventReconnect, trigger)
	s.Open()
}

// Send writes msg to the socket.
//
// While the transport is connecting, msg is buffered unless an equal message
// is already buffered, and the buffer is flushed in order once the transport
// opens. When the socket is neither open nor connecting, an error event
// carrying ErrNotOpen is emitted and msg is dropped; Send still returns nil.
//
// An error is returned only when the open transport fails to write msg.
func (s *Socket) Send(msg transport.Message) error {
	s.mu.Lock()
	t := s.transport
	var state transport.ReadyState
	if t != nil {
		state = t.ReadyState()
	} else {
		state = transport.Closed
	}

	switch {
	case state == transport.Connecting:
		if !s.buffered(msg) {
			s.outbox = append(s.outbox, msg)
		}
		s.mu.Unlock()
		return nil
	case state == transport.Open && !s.flushed:
		// The transport is open but the outbox is still being flushed:
		// queue behind the buffered messages. An open socket never drops
		// a message as a duplicate.
		s.outbox = append(s.outbox, msg)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if state != transport.Open {
		s.events.emit(EventError, &transport.ErrorEvent{Err: ErrNotOpen})
		return nil
	}

	return s.write(t, msg)
}

func (s *Socket) buffered(msg transport.Message) bool {
	for _, m := range s.outbox {
		if m.Equal(msg) {
			return true
		}
	}
	return false
}

func (s *Socket) write(t transport.Transport, msg transport.Message) error {
	if err := t.Send(msg); err != nil {
		s.cfg.Logger.Error("sockett.Socket failed to write a message", "error", err)
		return fmt.Errorf("sockett.Socket failed to write a message: %w", err)
	}
	return nil
}

// SendText sends a text message.
func (s *Socket) SendText(text string) error {
	return s.Send(transport.Text(text))
}

// SendBinary sends a binary message.
func (s *Socket) SendBinary(data []byte) error {
	return s.Send(transport.Binary(data))
}

// JSON encodes v as JSON and sends it as a text message.
// An encoding failure is returned as is, it is never reported as an error event.
func (s *Socket) JSON(v any) error {
	data, err := jsonCodec.Marshal(v)
	if err != nil {
		return err
	}
	return s.Send(transport.Message{Type: transport.TextMessage, Data: data})
}

// Encode encodes v with the configured codec and sends it,
// as a binary message when the codec is binary.
func (s *Socket) Encode(v any) error {
	data, err := s.cfg.Codec.Marshal(v)
	if err != nil {
		return err
	}
	typ := transport.TextMessage
	if s.cfg.Codec.Binary() {
		typ = transport.BinaryMessage
	}
	return s.Send(transport.Message{Type: typ, Data: data})
}

// Decode decodes the payload of ev into dst with the configured codec.
func (s *Socket) Decode(ev *transport.MessageEvent, dst any) error {
	return s.cfg.Codec.Unmarshal(ev.Data, dst)
}

// Close closes the socket with the given code and reason, and disables
// automatic reconnection. A zero code means 1000 (normal closure).
//
// Close does nothing unless the socket is open. The close event still fires
// when the transport is gone, but it never leads to a reconnection.
//
// Codes that cannot be sent in a close frame, such as 1005 and 1006, are
// rejected with transport.ErrInvalidCloseCode and leave the socket untouched.
func (s *Socket) Close(code int, reason string) error {
	if code == 0 {
		code = transport.CloseNormalClosure
	}
	if !transport.CanSendCloseCode(code) {
		return fmt.Errorf("sockett.Socket cannot close with code %d: %w", code, transport.ErrInvalidCloseCode)
	}

	s.mu.Lock()
	if !s.isOpenLocked() {
		s.mu.Unlock()
		return nil
	}
	s.retry.disable()
	t := s.transport
	s.mu.Unlock()

	s.cfg.Logger.Debug("sockett.Socket is closing", "code", code, "reason", reason)

	if err := t.Close(code, reason); err != nil {
		return fmt.Errorf("sockett.Socket failed to close the transport: %w", err)
	}
	return nil
}

func asError(ev transport.Event) error {
	if err, ok := ev.(error); ok {
		return err
	}
	return nil
}
