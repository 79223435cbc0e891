package agent

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/convoy-sh/convoy/internal/config"
)

// RetryConfig configures exponential backoff around coding-agent
// invocations.
type RetryConfig struct {
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	MaxElapsedTime      time.Duration
	Multiplier          float64
	RandomizationFactor float64
}

// DefaultRetryConfig returns the default retry policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval:     100 * time.Millisecond,
		MaxInterval:         10 * time.Second,
		MaxElapsedTime:      2 * time.Minute,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

// BreakerRegistry holds one circuit breaker per agent. A flapping backing
// service trips the breaker for that agent only.
type BreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	log      *zap.Logger
}

// NewBreakerRegistry creates a registry.
func NewBreakerRegistry(log *zap.Logger) *BreakerRegistry {
	if log == nil {
		log = zap.NewNop()
	}
	return &BreakerRegistry{breakers: make(map[string]*gobreaker.CircuitBreaker), log: log}
}

// Get returns the breaker for an agent, creating it on first use.
func (r *BreakerRegistry) Get(agent string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[agent]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        agent,
		MaxRequests: 3,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.log.Warn("circuit breaker state change",
				zap.String("agent", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to))
		},
		IsSuccessful: func(err error) bool {
			// Cancellation is the operator's doing, not a backend
			// failure.
			if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return true
			}
			return false
		},
	})
	r.breakers[agent] = cb
	return cb
}

// invokeWithRetry calls the coding agent through the breaker, retrying
// transient failures with exponential backoff. Open-breaker and cancelled
// contexts stop the retry loop immediately.
func invokeWithRetry(ctx context.Context, inv Invoker, spec *config.AgentSpec,
	prompt string, cb *gobreaker.CircuitBreaker, retryCfg RetryConfig) (string, error) {
	var output string

	operation := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		result, err := cb.Execute(func() (interface{}, error) {
			return inv.Invoke(ctx, spec, prompt)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		output = result.(string)
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = retryCfg.InitialInterval
	policy.MaxInterval = retryCfg.MaxInterval
	policy.MaxElapsedTime = retryCfg.MaxElapsedTime
	policy.Multiplier = retryCfg.Multiplier
	policy.RandomizationFactor = retryCfg.RandomizationFactor

	err := backoff.Retry(operation, backoff.WithContext(policy, ctx))
	return output, err
}
