package gateway

import "time"

// ConnState is a client-side connection lifecycle state.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateBackoff
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateBackoff:
		return "backoff"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	}
	return "unknown"
}

// Backoff computes reconnect delays: Base doubled per attempt, capped at Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns the wait before reconnect attempt n (0-based).
func (b Backoff) Delay(attempt int) time.Duration {
	d := b.Base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= b.Max {
			return b.Max
		}
	}
	if d > b.Max {
		return b.Max
	}
	return d
}

// Reconnector drives the client reconnect cycle
// disconnected -> backoff(n) -> connecting -> connected as explicit state.
type Reconnector struct {
	backoff Backoff
	state   ConnState
	attempt int
}

func NewReconnector(b Backoff) *Reconnector {
	return &Reconnector{backoff: b, state: StateDisconnected}
}

func (r *Reconnector) State() ConnState { return r.state }

// Wait moves disconnected -> backoff and returns how long to sleep before
// the next attempt.
func (r *Reconnector) Wait() time.Duration {
	d := r.backoff.Delay(r.attempt)
	r.attempt++
	r.state = StateBackoff
	return d
}

// Connecting moves backoff -> connecting.
func (r *Reconnector) Connecting() { r.state = StateConnecting }

// Connected moves connecting -> connected and resets the attempt counter.
func (r *Reconnector) Connected() {
	r.state = StateConnected
	r.attempt = 0
}

// Disconnected records loss of the connection from any state.
func (r *Reconnector) Disconnected() { r.state = StateDisconnected }
