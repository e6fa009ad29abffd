package cli

import (
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sockett/sockett.go"
	"github.com/sockett/sockett.go/internal/config"
	"github.com/sockett/sockett.go/pkg/codec"
	"github.com/sockett/sockett.go/pkg/logger"
	"github.com/sockett/sockett.go/pkg/logger/zaplog"
	"github.com/sockett/sockett.go/pkg/logger/zerolog"
	"github.com/sockett/sockett.go/pkg/transport"
	"github.com/sockett/sockett.go/pkg/transport/coderws"
	"github.com/sockett/sockett.go/pkg/transport/gorillaws"
	"github.com/sockett/sockett.go/pkg/transport/gws"
)

var dialers = map[string]transport.DialFunc{
	"gorilla": gorillaws.Dial,
	"gws":     gws.Dial,
	"coder":   coderws.Dial,
}

// socketOptions translates cfg into the options of a sockett.Socket.
func socketOptions(cfg *config.Config, log logger.Logger) ([]sockett.Option, error) {
	dial, ok := dialers[cfg.Transport]
	if !ok {
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
	cd, ok := codec.ByName(cfg.Codec)
	if !ok {
		return nil, fmt.Errorf("unknown codec %q", cfg.Codec)
	}

	header := make(http.Header, len(cfg.Connection.Headers))
	for k, v := range cfg.Connection.Headers {
		header.Set(k, v)
	}

	opts := []sockett.Option{
		sockett.WithDialer(dial),
		sockett.WithCodec(cd),
		sockett.WithLogger(log),
		sockett.WithProtocols(cfg.Protocols...),
		sockett.WithHeader(header),
		sockett.WithHandshakeTimeout(cfg.Connection.HandshakeTimeout),
		sockett.WithCloseTimeout(cfg.Connection.CloseTimeout),
		sockett.WithCompression(cfg.Connection.Compression),
		sockett.WithReconnectDelay(cfg.Reconnect.Delay),
		sockett.WithMaxAttempts(cfg.Reconnect.MaxAttempts),
	}

	if cfg.Connection.InsecureSkipVerify {
		opts = append(opts, sockett.WithTLSConfig(&tls.Config{InsecureSkipVerify: true})) //nolint:gosec
	}

	switch cfg.Reconnect.Policy {
	case "legacy":
		opts = append(opts, sockett.WithReconnectPolicy(sockett.LegacyReconnectPolicy))
	default:
		opts = append(opts, sockett.WithReconnectPolicy(sockett.DefaultReconnectPolicy))
	}

	if cfg.Reconnect.Backoff {
		r := sockett.NewExponentialBackoffRetryer()
		r.InitialDelay = cfg.Reconnect.Delay
		r.MaxDelay = cfg.Reconnect.MaxDelay
		opts = append(opts, sockett.WithRetryer(r))
	}

	return opts, nil
}

// newLogger returns the logger selected by cfg, writing to w unless cfg
// names a log file. The returned function flushes and releases it.
func newLogger(cfg config.LoggingConfig, w io.Writer) (logger.Logger, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Format {
	case "text", "json":
		var level slog.Level
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, nil, fmt.Errorf("invalid log level: %w", err)
		}
		opts := &slog.HandlerOptions{Level: level}
		if cfg.Format == "json" {
			return logger.New(slog.NewJSONHandler(w, opts)), noop, nil
		}
		return logger.New(slog.NewTextHandler(w, opts)), noop, nil

	case "zerolog":
		build := zerolog.New().Level(cfg.Level)
		if cfg.File != "" {
			build = build.FromPath(cfg.File)
		} else {
			build = build.FromBuffer(w)
		}
		l, err := build.Make()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		return l, l.Close, nil

	case "zap":
		level, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid log level: %w", err)
		}
		core := zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(w),
			level,
		)
		l := zaplog.New(zap.New(core))
		return l, l.Sync, nil

	default:
		return nil, nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
}
