package fault

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for the fault-tolerance executor (§4.2).
var (
	// ErrCircuitOpen is returned immediately, without attempting the
	// operation, when the circuit for (peer, op_type) is open. Use
	// errors.As to recover the CircuitOpenError wrapping it for
	// retry_after.
	ErrCircuitOpen = errors.New("fault: circuit is open")
	// ErrTimeout is returned when an attempt's context deadline elapses.
	ErrTimeout = errors.New("fault: operation timed out")
	// ErrCancelled is returned when the caller's context is cancelled
	// before the operation completes or before a retry is attempted.
	ErrCancelled = errors.New("fault: operation cancelled")
	// ErrRetriesExhausted is returned when every retry attempt failed.
	ErrRetriesExhausted = errors.New("fault: retries exhausted")
)

// CircuitOpenError wraps ErrCircuitOpen with the retry_after duration
// §4.2 specifies: timeout_seconds - (now - last_failure).
type CircuitOpenError struct {
	Peer       string
	OpType     string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("fault: circuit open for %s/%s, retry after %s", e.Peer, e.OpType, e.RetryAfter)
}

func (e *CircuitOpenError) Unwrap() error { return ErrCircuitOpen }
