// Package codec turns Go values into WebSocket payloads and back.
//
// JSON is sent as text frames and CBOR as binary frames.
package codec

import "io"

type Encoder interface {
	Encode(v any) error
}

type Decoder interface {
	Decode(v any) error
}

type Marshaler interface {
	Marshal(v any) ([]byte, error)
	NewEncoder(w io.Writer) Encoder
}

type Unmarshaler interface {
	Unmarshal(data []byte, dst any) error
	NewDecoder(r io.Reader) Decoder
}

// Codec is a Marshaler and Unmarshaler pair for one wire format.
type Codec interface {
	Marshaler
	Unmarshaler

	// Binary reports whether encoded payloads belong in binary frames.
	Binary() bool

	// Name is the format name, also usable as a sub-protocol ("json", "cbor").
	Name() string
}

// ByName returns the built-in codec called name, or false.
func ByName(name string) (Codec, bool) {
	switch name {
	case "json":
		return JSON{}, true
	case "cbor":
		return NewCBOR(), true
	default:
		return nil, false
	}
}
