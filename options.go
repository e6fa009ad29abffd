package sockett

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/sockett/sockett.go/pkg/codec"
	"github.com/sockett/sockett.go/pkg/logger"
	"github.com/sockett/sockett.go/pkg/transport"
	"github.com/sockett/sockett.go/pkg/transport/gorillaws"
)

const (
	// DefaultReconnectDelay is the pause between an abnormal closure and the next attempt.
	DefaultReconnectDelay = 3 * time.Second

	// Unlimited disables the bound on reconnection attempts.
	Unlimited = -1
)

// Config holds the merged options of a Socket.
type Config struct {
	// Protocols are the sub-protocols offered during the opening handshake.
	Protocols []string

	// ReconnectDelay is how long to wait before reopening after a
	// reconnect-worthy closure. It is used by the default Retryer only.
	ReconnectDelay time.Duration

	// MaxAttempts bounds the number of consecutive reconnections.
	// Unlimited (any negative value) removes the bound; 0 never reconnects.
	MaxAttempts int

	// Transport is passed through to the Dialer untouched.
	Transport transport.Options

	// Dialer creates the underlying connections. Defaults to gorillaws.
	Dialer transport.Dialer

	// ReconnectPolicy decides which close codes trigger a reconnection.
	ReconnectPolicy ReconnectPolicy

	// Retryer computes the delay before each reconnection.
	// When nil, a FixedDelayRetryer with ReconnectDelay is used.
	Retryer Retryer

	// Codec is used by Encode and Decode. Defaults to JSON.
	Codec codec.Codec

	Logger logger.Logger

	listeners []initialListener
}

type initialListener struct {
	name EventName
	fn   Listener
	once bool
}

// NewConfig returns a Config filled with the defaults.
func NewConfig() *Config {
	return &Config{
		ReconnectDelay:  DefaultReconnectDelay,
		MaxAttempts:     Unlimited,
		Dialer:          transport.DialFunc(gorillaws.Dial),
		ReconnectPolicy: DefaultReconnectPolicy,
		Codec:           codec.JSON{},
		Logger:          logger.New(slog.NewTextHandler(os.Stderr, nil)),
	}
}

// Validate reports configuration values a Socket cannot work with.
func (c *Config) Validate() error {
	if c.ReconnectDelay < 0 {
		return fmt.Errorf("%w: negative reconnect delay %v", ErrInvalidConfig, c.ReconnectDelay)
	}
	if c.Dialer == nil {
		return fmt.Errorf("%w: no dialer", ErrInvalidConfig)
	}
	if c.ReconnectPolicy == nil {
		return fmt.Errorf("%w: no reconnect policy", ErrInvalidConfig)
	}
	if c.Codec == nil {
		return fmt.Errorf("%w: no codec", ErrInvalidConfig)
	}
	for _, p := range c.Protocols {
		if p == "" {
			return fmt.Errorf("%w: empty sub-protocol", ErrInvalidConfig)
		}
	}
	return nil
}

func (c *Config) unlimited() bool {
	return c.MaxAttempts < 0
}

func (c *Config) retryer() Retryer {
	if c.Retryer != nil {
		return c.Retryer
	}
	return NewFixedDelayRetryer(c.ReconnectDelay, 0)
}

// Option changes one setting of a Config.
type Option func(c *Config)

// WithConfig replaces every setting with the ones in cfg.
// Options given after it still apply.
func WithConfig(cfg Config) Option {
	return func(c *Config) {
		*c = cfg
	}
}

func WithProtocols(protocols ...string) Option {
	return func(c *Config) {
		c.Protocols = append([]string(nil), protocols...)
	}
}

func WithReconnectDelay(d time.Duration) Option {
	return func(c *Config) {
		c.ReconnectDelay = d
	}
}

// WithMaxAttempts bounds consecutive reconnections. Pass Unlimited to remove the bound.
func WithMaxAttempts(n int) Option {
	return func(c *Config) {
		c.MaxAttempts = n
	}
}

func WithHeader(h http.Header) Option {
	return func(c *Config) {
		c.Transport.Header = h.Clone()
	}
}

func WithTLSConfig(tlsConfig *tls.Config) Option {
	return func(c *Config) {
		c.Transport.TLSConfig = tlsConfig
	}
}

func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.Transport.HandshakeTimeout = d
	}
}

func WithCloseTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.Transport.CloseTimeout = d
	}
}

func WithCompression(enabled bool) Option {
	return func(c *Config) {
		c.Transport.EnableCompression = enabled
	}
}

func WithTransportOptions(opts transport.Options) Option {
	return func(c *Config) {
		c.Transport = opts
	}
}

func WithDialer(d transport.Dialer) Option {
	return func(c *Config) {
		c.Dialer = d
	}
}

func WithReconnectPolicy(p ReconnectPolicy) Option {
	return func(c *Config) {
		c.ReconnectPolicy = p
	}
}

func WithRetryer(r Retryer) Option {
	return func(c *Config) {
		c.Retryer = r
	}
}

func WithCodec(cd codec.Codec) Option {
	return func(c *Config) {
		c.Codec = cd
	}
}

func WithLogger(l logger.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// OnEvent registers fn before the first transport is dialed,
// so that no early event can be missed.
func OnEvent(name EventName, fn Listener) Option {
	return func(c *Config) {
		c.listeners = append(c.listeners, initialListener{name: name, fn: fn})
	}
}

// OnceEvent is OnEvent for the first occurrence only.
func OnceEvent(name EventName, fn Listener) Option {
	return func(c *Config) {
		c.listeners = append(c.listeners, initialListener{name: name, fn: fn, once: true})
	}
}
