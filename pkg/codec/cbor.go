package codec

import (
	"io"

	"github.com/fxamacker/cbor/v2"
)

// CBOR encodes with github.com/fxamacker/cbor/v2 using core deterministic encoding.
type CBOR struct {
	em cbor.EncMode
	dm cbor.DecMode
}

var _ Codec = (*CBOR)(nil)

// NewCBOR returns a CBOR codec. Decoded maps default to map[string]any,
// matching what the JSON codec produces.
func NewCBOR() *CBOR {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	dm, err := cbor.DecOptions{
		DefaultMapType: mapStringAnyType,
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return &CBOR{em: em, dm: dm}
}

func (c *CBOR) Marshal(v any) ([]byte, error) {
	return c.em.Marshal(v)
}

func (c *CBOR) NewEncoder(w io.Writer) Encoder {
	return c.em.NewEncoder(w)
}

func (c *CBOR) Unmarshal(data []byte, dst any) error {
	return c.dm.Unmarshal(data, dst)
}

func (c *CBOR) NewDecoder(r io.Reader) Decoder {
	return c.dm.NewDecoder(r)
}

func (*CBOR) Binary() bool { return true }

func (*CBOR) Name() string { return "cbor" }
