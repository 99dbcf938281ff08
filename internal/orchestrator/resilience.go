package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
)

// CircuitBreakerRegistry manages per-agent circuit breakers.
type CircuitBreakerRegistry struct {
	mu        sync.Mutex
	breakers  map[string]*gobreaker.CircuitBreaker
	threshold uint32
	openFor   time.Duration
	logger    *slog.Logger
}

// NewCircuitBreakerRegistry creates a registry whose breakers open after
// threshold consecutive failures and stay open for openFor before probing.
func NewCircuitBreakerRegistry(threshold int, openFor time.Duration, logger *slog.Logger) *CircuitBreakerRegistry {
	if threshold < 1 {
		threshold = 5
	}
	if openFor <= 0 {
		openFor = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CircuitBreakerRegistry{
		breakers:  make(map[string]*gobreaker.CircuitBreaker),
		threshold: uint32(threshold),
		openFor:   openFor,
		logger:    logger,
	}
}

// Get returns the circuit breaker for the given agent.
// Creates a new one if it doesn't exist.
func (r *CircuitBreakerRegistry) Get(agentID string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[agentID]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        agentID,
		MaxRequests: 1, // One probe request in half-open state
		Interval:    0, // Don't clear counts automatically
		Timeout:     r.openFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= r.threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			r.logger.Warn("circuit breaker state changed", "agent", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			// Cancellation is not the agent's fault
			return err == nil || errors.Is(err, ErrCancelled) ||
				errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	})

	r.breakers[agentID] = cb
	return cb
}

// State returns the breaker state for agentID; closed when none exists yet.
func (r *CircuitBreakerRegistry) State(agentID string) gobreaker.State {
	r.mu.Lock()
	cb, ok := r.breakers[agentID]
	r.mu.Unlock()
	if !ok {
		return gobreaker.StateClosed
	}
	return cb.State()
}

func isBreakerRejection(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// retryConstant calls op until it succeeds, returns a permanent error, ctx is
// done, or attempts extra retries are used up, sleeping delay between calls.
// notify runs before each retry with the 1-based number of the failed attempt.
func retryConstant(ctx context.Context, attempts int, delay time.Duration, op func() error, notify func(attempt int, err error, wait time.Duration)) error {
	calls := 0
	operation := func() error {
		// Check context first - fail fast if cancelled
		if ctx.Err() != nil {
			return backoff.Permanent(cancelled(context.Cause(ctx)))
		}
		calls++
		err := op()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || errors.Is(err, ErrCancelled) || isBreakerRejection(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), uint64(attempts)), ctx)
	err := backoff.RetryNotify(operation, policy, func(err error, wait time.Duration) {
		if notify != nil {
			notify(calls, err, wait)
		}
	})
	if err != nil && ctx.Err() != nil && !errors.Is(err, ErrCancelled) {
		// Context ended while waiting between attempts
		return cancelled(context.Cause(ctx))
	}
	return err
}
