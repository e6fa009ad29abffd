package cli

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/buger/jsonparser"
	"github.com/goccy/go-json"

	"github.com/sockett/sockett.go"
	"github.com/sockett/sockett.go/pkg/transport"
)

// printer writes one line per socket event. Events arrive from transport
// goroutines, so writes are serialized.
type printer struct {
	mu  sync.Mutex
	out io.Writer

	// extract is a jsonparser key path applied to text messages.
	extract []string
	// decode turns a binary message into a value, when the codec is binary.
	decode func(ev *transport.MessageEvent) (any, error)
}

func (p *printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format+"\n", args...)
}

// listener returns the listener printing events of the given name.
func (p *printer) listener(name sockett.EventName) sockett.Listener {
	return func(ev transport.Event) {
		switch ev := ev.(type) {
		case *transport.MessageEvent:
			p.printf("< %s", p.message(ev))
		case *transport.OpenEvent:
			if ev.Protocol != "" {
				p.printf("* %s (protocol %s)", name, ev.Protocol)
				return
			}
			p.printf("* %s", name)
		case *transport.CloseEvent:
			p.printf("* %s: %s", name, describeClose(ev))
		case *transport.ErrorEvent:
			p.printf("* %s: %v", name, ev.Err)
		default:
			p.printf("* %s", name)
		}
	}
}

func describeClose(ev *transport.CloseEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d %s", ev.Code, transport.CloseCodeText(ev.Code))
	if ev.Reason != "" {
		fmt.Fprintf(&b, " %q", ev.Reason)
	}
	if !ev.WasClean {
		b.WriteString(" (unclean)")
	}
	return b.String()
}

func (p *printer) message(ev *transport.MessageEvent) string {
	if ev.Type == transport.BinaryMessage {
		if p.decode == nil {
			return "binary " + hex.EncodeToString(ev.Data)
		}
		v, err := p.decode(ev)
		if err != nil {
			return fmt.Sprintf("binary %s (%v)", hex.EncodeToString(ev.Data), err)
		}
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return p.extractFrom(data)
	}

	return p.extractFrom(ev.Data)
}

func (p *printer) extractFrom(data []byte) string {
	if len(p.extract) == 0 {
		return string(data)
	}

	value, dataType, _, err := jsonparser.Get(data, p.extract...)
	switch {
	case err != nil:
		return fmt.Sprintf("%s (no %s)", data, strings.Join(p.extract, "."))
	case dataType == jsonparser.String:
		s, err := jsonparser.ParseString(value)
		if err != nil {
			return string(value)
		}
		return s
	default:
		return string(value)
	}
}
