package sockett

import "errors"

var (
	// ErrNotOpen is carried by the error event reported when a message is
	// sent while the socket is neither open nor connecting.
	ErrNotOpen = errors.New("websocket is not open")

	ErrInvalidConfig  = errors.New("invalid socket configuration")
	ErrInvalidAddress = errors.New("invalid websocket address")
)
