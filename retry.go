package sockett

import (
	"math"
	"math/rand"
	"time"
)

// Retryer computes the pause before each reconnection of a Socket.
//
// NextDelay is asked once per reconnect-worthy closure. attempt is the number
// of reconnections already scheduled since the last successful open, and
// cause is the close or error event that triggered the decision.
// Returning false makes the Socket give up and emit EventMaximum.
//
// Reset is called on every successful open.
type Retryer interface {
	NextDelay(attempt int, cause error) (time.Duration, bool)
	Reset()
}

// ExponentialBackoffRetryer doubles (by Multiplier) the delay on every attempt,
// up to MaxDelay, optionally spreading it with random jitter.
type ExponentialBackoffRetryer struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64

	// MaxRetries gives up after that many attempts. Zero never gives up,
	// leaving the bound to Config.MaxAttempts.
	MaxRetries int

	Jitter bool
	// JitterFactor is the largest deviation from the computed delay,
	// as a fraction of it.
	JitterFactor float64
}

// NewExponentialBackoffRetryer returns a retryer going from 1s to 30s with 30% jitter.
func NewExponentialBackoffRetryer() *ExponentialBackoffRetryer {
	return &ExponentialBackoffRetryer{
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
		Jitter:       true,
		JitterFactor: 0.3,
	}
}

func (r *ExponentialBackoffRetryer) NextDelay(attempt int, _ error) (time.Duration, bool) {
	if r.MaxRetries > 0 && attempt >= r.MaxRetries {
		return 0, false
	}

	delay := math.Min(float64(r.InitialDelay)*math.Pow(r.Multiplier, float64(attempt)), float64(r.MaxDelay))

	if r.Jitter && r.JitterFactor > 0 {
		//nolint:gosec // jitter does not need a secure source
		delay += delay * r.JitterFactor * (2*rand.Float64() - 1)
		if delay < 0 {
			delay = float64(r.InitialDelay)
		}
	}

	return time.Duration(delay), true
}

func (r *ExponentialBackoffRetryer) Reset() {}

// FixedDelayRetryer waits the same Delay before every attempt.
// It is the default, built from Config.ReconnectDelay.
type FixedDelayRetryer struct {
	Delay time.Duration

	// MaxRetries gives up after that many attempts. Zero never gives up.
	MaxRetries int
}

func NewFixedDelayRetryer(delay time.Duration, maxRetries int) *FixedDelayRetryer {
	return &FixedDelayRetryer{Delay: delay, MaxRetries: maxRetries}
}

func (r *FixedDelayRetryer) NextDelay(attempt int, _ error) (time.Duration, bool) {
	if r.MaxRetries > 0 && attempt >= r.MaxRetries {
		return 0, false
	}
	return r.Delay, true
}

func (r *FixedDelayRetryer) Reset() {}

// retryState is the reconnection timer slot of a Socket.
type retryState int

const (
	// retryIdle means no reconnection is scheduled.
	retryIdle retryState = iota
	// retryPending means a timer will reopen the socket.
	retryPending
	// retryDisabled means Close was called; nothing reopens the socket automatically.
	retryDisabled
)

func (s retryState) String() string {
	switch s {
	case retryIdle:
		return "idle"
	case retryPending:
		return "pending"
	case retryDisabled:
		return "disabled"
	default:
		return "invalid"
	}
}

// retryTimer holds the retry state together with the timer it owns.
// seq identifies the scheduled timer so that a timer stopped too late
// cannot reopen the socket.
type retryTimer struct {
	state retryState
	timer *time.Timer
	seq   uint64
}

func (r *retryTimer) schedule(d time.Duration, fire func(seq uint64)) {
	r.seq++
	seq := r.seq
	r.state = retryPending
	r.timer = time.AfterFunc(d, func() { fire(seq) })
}

// claim moves a fired timer back to idle. It returns false when the
// timer was cancelled or superseded in the meantime.
func (r *retryTimer) claim(seq uint64) bool {
	if r.state != retryPending || r.seq != seq {
		return false
	}
	r.state = retryIdle
	r.timer = nil
	return true
}

// cancel stops a pending timer and returns to idle.
func (r *retryTimer) cancel() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.state = retryIdle
}

// disable cancels any pending timer and blocks future scheduling.
func (r *retryTimer) disable() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.state = retryDisabled
}
