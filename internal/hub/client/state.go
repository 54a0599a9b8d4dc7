package client

import (
	"math/rand"
	"time"
)

// State is the connection lifecycle state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
)

// Backoff parameters for reconnect delays.
const (
	backoffInitial    = 1 * time.Second
	backoffMax        = 30 * time.Second
	backoffMultiplier = 2.0
)

// Next computes the transition out of state after attempt consecutive
// failures. It is pure apart from jitter and drives every reconnect
// decision the Client makes.
//
// From disconnected it moves to connecting with the attempt's backoff
// delay (zero for the first attempt), or to error once attempt reaches
// maxAttempts. maxAttempts <= 0 means retry forever. The other states
// are stable: connecting and connected stay put (a second Connect call
// is a no-op) and error is terminal until Retry.
func Next(state State, attempt, maxAttempts int) (State, time.Duration) {
	switch state {
	case StateDisconnected:
		if maxAttempts > 0 && attempt >= maxAttempts {
			return StateError, 0
		}
		return StateConnecting, Delay(attempt)
	case StateConnecting, StateConnected, StateError:
		return state, 0
	default:
		return StateDisconnected, 0
	}
}

// Delay returns the truncated exponential backoff delay for the given
// retry attempt with ±25% jitter. Attempt 0 is the first try and waits
// nothing; attempt n waits about initial × 2^(n-1), capped.
func Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	d := backoffInitial
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * backoffMultiplier)
		if d >= backoffMax {
			d = backoffMax
			break
		}
	}

	// Apply ±25 % jitter.
	jitter := time.Duration(float64(d) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	d += jitter
	if d < 0 {
		d = 0
	}
	return d
}
