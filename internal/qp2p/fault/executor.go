package fault

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// RetryConfig controls the executor's retry/backoff behavior (§4.2).
type RetryConfig struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int
	// BaseDelay is the unscaled backoff base (2^n is multiplied by this).
	BaseDelay time.Duration
	// MaxDelay caps the exponential growth before jitter is applied.
	MaxDelay time.Duration
	// AttemptTimeout bounds each individual attempt; zero means no
	// per-attempt deadline beyond the caller's context.
	AttemptTimeout time.Duration
}

// DefaultRetryConfig matches original_source's retry defaults (§4.2).
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    4,
		BaseDelay:      time.Second,
		MaxDelay:       30 * time.Second,
		AttemptTimeout: 30 * time.Second,
	}
}

// Operation is a unit of work the executor protects. It must respect ctx
// cancellation/deadline.
type Operation func(ctx context.Context) error

// Executor runs operations behind per-(peer, op_type) circuit breakers
// with retry, exponential backoff and jitter.
type Executor struct {
	circuitCfg CircuitConfig
	retryCfg   RetryConfig
	logger     zerolog.Logger

	mu        sync.Mutex
	breakers  map[string]*circuitBreaker
	randMu    sync.Mutex
	randSrc   *rand.Rand
}

// NewExecutor builds a fault-tolerance executor. Pass zero-value configs
// to use the documented defaults.
func NewExecutor(circuitCfg CircuitConfig, retryCfg RetryConfig, logger zerolog.Logger) *Executor {
	if circuitCfg.FailureThreshold == 0 {
		circuitCfg = DefaultCircuitConfig()
	}
	if retryCfg.MaxAttempts == 0 {
		retryCfg = DefaultRetryConfig()
	}
	return &Executor{
		circuitCfg: circuitCfg,
		retryCfg:   retryCfg,
		logger:     logger.With().Str("component", "fault-executor").Logger(),
		breakers:   make(map[string]*circuitBreaker),
		randSrc:    rand.New(rand.NewSource(1)),
	}
}

func breakerKey(peer, opType string) string {
	return peer + "\x00" + opType
}

func (e *Executor) breakerFor(peer, opType string) *circuitBreaker {
	key := breakerKey(peer, opType)
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.breakers[key]
	if !ok {
		b = newCircuitBreaker(e.circuitCfg)
		e.breakers[key] = b
	}
	return b
}

// State returns the current circuit state for (peer, op_type), mainly for
// metrics and diagnostics.
func (e *Executor) State(peer, opType string) State {
	return e.breakerFor(peer, opType).currentState()
}

// Execute runs op under the circuit breaker and retry policy for
// (peer, op_type). Admission is gated once, before any attempt: if the
// circuit is tripped, Execute returns a *CircuitOpenError without calling
// op at all. Once admitted, every one of MaxAttempts retries runs
// regardless of failures recorded along the way (original_source's
// fault_tolerance.py checks _can_execute once per call, not once per
// attempt). Returns ErrCancelled if ctx is done, or the last attempt's
// error wrapped in ErrRetriesExhausted once attempts run out.
func (e *Executor) Execute(ctx context.Context, peer, opType string, op Operation) error {
	breaker := e.breakerFor(peer, opType)

	if !breaker.allow() {
		retryAfter := breaker.retryAfter()
		e.logger.Debug().Str("peer", peer).Str("op_type", opType).Dur("retry_after", retryAfter).
			Msg("circuit open, short-circuiting")
		return &CircuitOpenError{Peer: peer, OpType: opType, RetryAfter: retryAfter}
	}

	var lastErr error
	for attempt := 0; attempt < e.retryCfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return ErrCancelled
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if e.retryCfg.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, e.retryCfg.AttemptTimeout)
		}
		err := op(attemptCtx)
		if cancel != nil {
			cancel()
		}

		if err == nil {
			breaker.recordSuccess()
			return nil
		}

		breaker.recordFailure()
		lastErr = err
		if attemptCtx.Err() == context.DeadlineExceeded {
			lastErr = ErrTimeout
		}

		if attempt == e.retryCfg.MaxAttempts-1 {
			break
		}

		delay := e.backoffDelay(peer, attempt)
		e.logger.Debug().Str("peer", peer).Str("op_type", opType).Int("attempt", attempt).
			Dur("delay", delay).Err(err).Msg("retrying after failure")

		select {
		case <-ctx.Done():
			return ErrCancelled
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("%w: %w", ErrRetriesExhausted, lastErr)
}

// backoffDelay implements min(2^n, 30) * U(0.5, 1.5) * (1 + (hash(peer)%100)/1000),
// base-delay scaled (§4.2). n is the zero-based attempt number.
func (e *Executor) backoffDelay(peer string, n int) time.Duration {
	capped := math.Min(math.Pow(2, float64(n)), e.retryCfg.MaxDelay.Seconds()/e.retryCfg.BaseDelay.Seconds())
	jitter := 0.5 + e.random()*1.0
	spread := 1.0 + float64(hashPeer(peer)%100)/1000.0
	seconds := capped * jitter * spread * e.retryCfg.BaseDelay.Seconds()
	return time.Duration(seconds * float64(time.Second))
}

func (e *Executor) random() float64 {
	e.randMu.Lock()
	defer e.randMu.Unlock()
	return e.randSrc.Float64()
}

// hashPeer is the deterministic hash(peer_id) the retry jitter formula
// calls for (§4.2, Open Question resolved to FNV-1a 32-bit).
func hashPeer(peer string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(peer))
	return h.Sum32()
}
