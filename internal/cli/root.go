// Package cli implements the sockett command: an interactive WebSocket
// client that stays connected, sending stdin lines and printing every
// socket event.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/sockett/sockett.go"
	"github.com/sockett/sockett.go/internal/config"
	"github.com/sockett/sockett.go/pkg/codec"
	"github.com/sockett/sockett.go/pkg/transport"
)

// ErrGaveUp is returned when the socket stopped reconnecting before stdin ended.
var ErrGaveUp = errors.New("gave up reconnecting")

type flags struct {
	configPath  string
	protocols   []string
	headers     []string
	transport   string
	codec       string
	delay       time.Duration
	maxAttempts int
	policy      string
	backoff     bool
	insecure    bool
	logLevel    string
	logFormat   string
	json        bool
	extract     string
}

// NewRootCommand returns the sockett command.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&flags{})
}

func newRootCommand(f *flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sockett [url]",
		Short: "sockett is a WebSocket client that reconnects on its own",
		Long: `sockett connects to a WebSocket server, sends every line read from stdin
and prints every event of the connection. Closures with codes 1000, 1001,
1005 and 1006 and refused connections are retried.

Settings are read from the --config TOML file, then from SOCKETT_ environment
variables, then from flags.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.load(cmd, args)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, f, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	fs := cmd.Flags()
	fs.StringVarP(&f.configPath, "config", "c", "", "TOML configuration file")
	fs.StringSliceVarP(&f.protocols, "protocol", "p", nil, "sub-protocol to request, may be repeated")
	fs.StringArrayVarP(&f.headers, "header", "H", nil, `handshake header as "Name: value", may be repeated`)
	fs.StringVarP(&f.transport, "transport", "t", "", "WebSocket implementation: "+strings.Join(config.Transports, ", "))
	fs.StringVar(&f.codec, "codec", "", "codec used with --json: "+strings.Join(config.Codecs, ", "))
	fs.DurationVar(&f.delay, "reconnect-delay", 0, "delay before each reconnection")
	fs.IntVar(&f.maxAttempts, "max-attempts", 0, "consecutive reconnections before giving up, -1 for unlimited")
	fs.StringVar(&f.policy, "policy", "", "close codes to reconnect on: "+strings.Join(config.Policies, ", "))
	fs.BoolVar(&f.backoff, "backoff", false, "grow the reconnect delay exponentially")
	fs.BoolVarP(&f.insecure, "insecure", "k", false, "skip TLS certificate verification")
	fs.StringVar(&f.logLevel, "log-level", "", "log level: "+strings.Join(config.Levels, ", "))
	fs.StringVar(&f.logFormat, "log-format", "", "log format: "+strings.Join(config.Formats, ", "))
	fs.BoolVar(&f.json, "json", false, "parse stdin lines as JSON and send them with the codec")
	fs.StringVarP(&f.extract, "extract", "x", "", "print only this dot-separated key path of JSON messages")

	return cmd
}

// Execute runs the sockett command with ctx, usually cancelled on interrupt.
func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}

// load applies the flags the user set over the configuration file and environment.
func (f *flags) load(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}

	if len(args) == 1 {
		cfg.URL = args[0]
	}

	changed := cmd.Flags().Changed
	if changed("protocol") {
		cfg.Protocols = f.protocols
	}
	if changed("header") {
		if cfg.Connection.Headers == nil {
			cfg.Connection.Headers = make(map[string]string)
		}
		for _, h := range f.headers {
			name, value, ok := strings.Cut(h, ":")
			if !ok {
				return nil, fmt.Errorf("invalid header %q, expected \"Name: value\"", h)
			}
			cfg.Connection.Headers[strings.TrimSpace(name)] = strings.TrimSpace(value)
		}
	}
	if changed("transport") {
		cfg.Transport = f.transport
	}
	if changed("codec") {
		cfg.Codec = f.codec
	}
	if changed("reconnect-delay") {
		cfg.Reconnect.Delay = f.delay
	}
	if changed("max-attempts") {
		cfg.Reconnect.MaxAttempts = f.maxAttempts
	}
	if changed("policy") {
		cfg.Reconnect.Policy = f.policy
	}
	if changed("backoff") {
		cfg.Reconnect.Backoff = f.backoff
	}
	if changed("insecure") {
		cfg.Connection.InsecureSkipVerify = f.insecure
	}
	if changed("log-level") {
		cfg.Logging.Level = f.logLevel
	}
	if changed("log-format") {
		cfg.Logging.Format = f.logFormat
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func run(ctx context.Context, cfg *config.Config, f *flags, in io.Reader, out, errOut io.Writer) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}

	log, closeLog, err := newLogger(cfg.Logging, errOut)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, closeLog())
	}()

	opts, err := socketOptions(cfg, log)
	if err != nil {
		return err
	}

	p := &printer{out: out}
	if f.extract != "" {
		p.extract = strings.Split(f.extract, ".")
	}
	if cd, ok := codec.ByName(cfg.Codec); ok && cd.Binary() {
		p.decode = func(ev *transport.MessageEvent) (any, error) {
			var v any
			err := cd.Unmarshal(ev.Data, &v)
			return v, err
		}
	}

	opened := make(chan struct{}, 1)
	closed := make(chan struct{}, 1)
	maximum := make(chan struct{}, 1)
	notify := func(ch chan struct{}) sockett.Listener {
		return func(transport.Event) {
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	}

	for _, name := range sockett.Events {
		opts = append(opts, sockett.OnEvent(name, p.listener(name)))
	}
	opts = append(opts,
		sockett.OnEvent(sockett.EventOpen, notify(opened)),
		sockett.OnEvent(sockett.EventClose, notify(closed)),
		sockett.OnEvent(sockett.EventMaximum, notify(maximum)),
	)

	socket, err := sockett.New(cfg.URL, opts...)
	if err != nil {
		return err
	}

	lines := readLines(in)
	stop := func() error {
		return shutdown(socket, opened, closed, cfg.Connection)
	}

	for {
		select {
		case <-ctx.Done():
			return stop()

		case <-maximum:
			return fmt.Errorf("%w after %d attempts", ErrGaveUp, socket.Attempts())

		case line, ok := <-lines:
			if !ok {
				return stop()
			}
			if err := send(socket, line, f.json); err != nil {
				fmt.Fprintf(errOut, "! %v\n", err)
			}
		}
	}
}

func send(socket *sockett.Socket, line string, asJSON bool) error {
	if !asJSON {
		return socket.SendText(line)
	}

	var v any
	if err := json.Unmarshal([]byte(line), &v); err != nil {
		return fmt.Errorf("not sent, invalid JSON: %w", err)
	}
	return socket.Encode(v)
}

// shutdown closes socket normally and waits for the close event. A socket
// still connecting gets the handshake timeout to open, and the outbox is
// given the close timeout to drain.
func shutdown(socket *sockett.Socket, opened, closed <-chan struct{}, cfg config.ConnectionConfig) error {
	if socket.ReadyState() == transport.Connecting {
		select {
		case <-opened:
		case <-time.After(cfg.HandshakeTimeout):
		}
	}
	if !socket.IsOpen() {
		return nil
	}

	deadline := time.Now().Add(cfg.CloseTimeout)
	for socket.Buffered() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	// Drop a close notification that predates this call.
	select {
	case <-closed:
	default:
	}

	if err := socket.Close(transport.CloseNormalClosure, "bye"); err != nil {
		return err
	}

	select {
	case <-closed:
	case <-time.After(cfg.CloseTimeout + time.Second):
	}
	return nil
}

// readLines streams the lines of r, closing the channel at EOF.
func readLines(r io.Reader) <-chan string {
	lines := make(chan string)

	go func() {
		defer close(lines)

		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	return lines
}
