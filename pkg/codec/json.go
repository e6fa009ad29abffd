package codec

import (
	"io"

	"github.com/goccy/go-json"
)

// JSON encodes with github.com/goccy/go-json. The output is compact,
// with map keys sorted, as produced by encoding/json.
type JSON struct{}

var _ Codec = JSON{}

func (JSON) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSON) NewEncoder(w io.Writer) Encoder {
	return json.NewEncoder(w)
}

func (JSON) Unmarshal(data []byte, dst any) error {
	return json.Unmarshal(data, dst)
}

func (JSON) NewDecoder(r io.Reader) Decoder {
	return json.NewDecoder(r)
}

func (JSON) Binary() bool { return false }

func (JSON) Name() string { return "json" }
