package sockett

import "github.com/sockett/sockett.go/pkg/transport"

// ReconnectPolicy reports whether a closure with the given code should be
// followed by a reconnection attempt.
//
// The policy is a client-side heuristic. 1000 is deliberately included:
// a manual Close is told apart by disabling reconnection, not by its code.
type ReconnectPolicy func(code int) bool

// DefaultReconnectPolicy reconnects on 1000, 1001, 1005 and 1006.
func DefaultReconnectPolicy(code int) bool {
	switch code {
	case transport.CloseNormalClosure,
		transport.CloseGoingAway,
		transport.CloseNoStatusReceived,
		transport.CloseAbnormalClosure:
		return true
	}
	return false
}

// LegacyReconnectPolicy reconnects on 1000, 1001 and 1005 only.
// Abnormal closures (1006) end the connection for good.
func LegacyReconnectPolicy(code int) bool {
	return code != transport.CloseAbnormalClosure && DefaultReconnectPolicy(code)
}

// ReconnectOn returns a policy matching exactly the given codes.
func ReconnectOn(codes ...int) ReconnectPolicy {
	set := make(map[int]struct{}, len(codes))
	for _, code := range codes {
		set[code] = struct{}{}
	}
	return func(code int) bool {
		_, ok := set[code]
		return ok
	}
}
