// Package config loads the settings of the sockett command from a TOML file
// and SOCKETT_ environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	toml "github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of the environment variables read by Load.
// SOCKETT_RECONNECT_MAX__ATTEMPTS sets reconnect.max_attempts: single
// underscores separate sections, double underscores are kept literally.
const EnvPrefix = "SOCKETT_"

// Config is the complete configuration of the sockett command.
type Config struct {
	URL        string           `koanf:"url"`
	Protocols  []string         `koanf:"protocols"`
	Transport  string           `koanf:"transport"`
	Codec      string           `koanf:"codec"`
	Connection ConnectionConfig `koanf:"connection"`
	Reconnect  ReconnectConfig  `koanf:"reconnect"`
	Logging    LoggingConfig    `koanf:"logging"`
}

type ConnectionConfig struct {
	Headers          map[string]string `koanf:"headers"`
	HandshakeTimeout time.Duration     `koanf:"handshake_timeout"`
	CloseTimeout     time.Duration     `koanf:"close_timeout"`
	Compression      bool              `koanf:"compression"`
	// InsecureSkipVerify disables certificate verification for wss:// URLs.
	InsecureSkipVerify bool `koanf:"insecure_skip_verify"`
}

type ReconnectConfig struct {
	Delay time.Duration `koanf:"delay"`
	// MaxAttempts below zero means unlimited.
	MaxAttempts int `koanf:"max_attempts"`
	// Policy is "default" (1000, 1001, 1005, 1006) or "legacy" (without 1006).
	Policy string `koanf:"policy"`
	// Backoff switches from a fixed delay to exponential backoff capped at MaxDelay.
	Backoff  bool          `koanf:"backoff"`
	MaxDelay time.Duration `koanf:"max_delay"`
}

type LoggingConfig struct {
	// Level is one of debug, info, warn or error.
	Level string `koanf:"level"`
	// Format is text or json (log/slog), zerolog, or zap.
	Format string `koanf:"format"`
	// File receives the logs instead of stderr. Only used by the zerolog format.
	File string `koanf:"file"`
}

var (
	Transports = []string{"gorilla", "gws", "coder"}
	Codecs     = []string{"json", "cbor"}
	Policies   = []string{"default", "legacy"}
	Levels     = []string{"debug", "info", "warn", "error"}
	Formats    = []string{"text", "json", "zerolog", "zap"}
)

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Transport: "gorilla",
		Codec:     "json",
		Connection: ConnectionConfig{
			HandshakeTimeout: 45 * time.Second,
			CloseTimeout:     5 * time.Second,
		},
		Reconnect: ReconnectConfig{
			Delay:       3 * time.Second,
			MaxAttempts: -1,
			Policy:      "default",
			MaxDelay:    30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configPath, when not empty, then the environment, over Default.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	k := koanf.New(".")

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		DecoderConfig: &mapstructure.DecoderConfig{
			TagName:          "koanf",
			WeaklyTypedInput: true,
			Result:           cfg,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
		},
	}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	s = strings.ToLower(s)

	s = strings.ReplaceAll(s, "__", "%UNDERSCORE%")
	s = strings.ReplaceAll(s, "_", ".")
	return strings.ReplaceAll(s, "%UNDERSCORE%", "_")
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.URL == "" {
		errs = append(errs, errors.New("url is required"))
	} else if u, err := url.Parse(c.URL); err != nil {
		errs = append(errs, fmt.Errorf("invalid url: %w", err))
	} else if u.Host == "" {
		errs = append(errs, fmt.Errorf("url %q has no host", c.URL))
	}

	errs = append(errs,
		oneOf("transport", c.Transport, Transports),
		oneOf("codec", c.Codec, Codecs),
		oneOf("reconnect.policy", c.Reconnect.Policy, Policies),
		oneOf("logging.level", c.Logging.Level, Levels),
		oneOf("logging.format", c.Logging.Format, Formats),
	)

	if c.Reconnect.Delay < 0 {
		errs = append(errs, fmt.Errorf("reconnect.delay must not be negative, got %v", c.Reconnect.Delay))
	}
	if c.Reconnect.Backoff && c.Reconnect.MaxDelay < c.Reconnect.Delay {
		errs = append(errs, fmt.Errorf("reconnect.max_delay (%v) must not be below reconnect.delay (%v)", c.Reconnect.MaxDelay, c.Reconnect.Delay))
	}
	if c.Connection.HandshakeTimeout < 0 || c.Connection.CloseTimeout < 0 {
		errs = append(errs, errors.New("connection timeouts must not be negative"))
	}
	if c.Logging.File != "" && c.Logging.Format != "zerolog" {
		errs = append(errs, fmt.Errorf("logging.file is only supported by the zerolog format, not %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}

func oneOf(key, value string, allowed []string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %s, got %q", key, strings.Join(allowed, ", "), value)
}
