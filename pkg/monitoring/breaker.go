package monitoring

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"media-toolkit/internal/core/ports"
)

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerState represents circuit breaker states
type CircuitBreakerState string

const (
	CircuitBreakerClosed   CircuitBreakerState = "closed"
	CircuitBreakerOpen     CircuitBreakerState = "open"
	CircuitBreakerHalfOpen CircuitBreakerState = "half_open"
)

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	Name             string        `json:"name"`
	FailureThreshold int           `json:"failure_threshold"`
	RecoveryTimeout  time.Duration `json:"recovery_timeout"`
	SuccessThreshold int           `json:"success_threshold"`
}

// DefaultCircuitBreakerConfig returns default breaker settings for name
func DefaultCircuitBreakerConfig(name string) *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		Name:             name,
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		SuccessThreshold: 2,
	}
}

// CircuitBreakerStats tracks circuit breaker statistics
type CircuitBreakerStats struct {
	State               CircuitBreakerState `json:"state"`
	Requests            int64               `json:"requests"`
	Successes           int64               `json:"successes"`
	Failures            int64               `json:"failures"`
	Rejected            int64               `json:"rejected"`
	ConsecutiveFailures int                 `json:"consecutive_failures"`
	LastFailureTime     time.Time           `json:"last_failure_time"`
	NextRetryTime       time.Time           `json:"next_retry_time"`
}

// CircuitBreaker stops calling a failing dependency until a recovery
// timeout has passed, then lets trial calls through.
type CircuitBreaker struct {
	config         *CircuitBreakerConfig
	stats          CircuitBreakerStats
	trialSuccesses int
	mu             sync.Mutex
	logger         zerolog.Logger
	now            func() time.Time
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(config *CircuitBreakerConfig, logger zerolog.Logger) *CircuitBreaker {
	if config == nil {
		config = DefaultCircuitBreakerConfig("default")
	}
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	return &CircuitBreaker{
		config: config,
		stats:  CircuitBreakerStats{State: CircuitBreakerClosed},
		logger: logger.With().Str("circuit_breaker", config.Name).Logger(),
		now:    time.Now,
	}
}

// Execute runs fn unless the breaker is open. isFailure decides which
// errors count against the dependency; nil counts every error.
func (cb *CircuitBreaker) Execute(fn func() error, isFailure func(error) bool) error {
	if !cb.allow() {
		return ErrCircuitOpen
	}

	err := fn()
	failed := err != nil && (isFailure == nil || isFailure(err))
	cb.record(failed)
	return err
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.stats.State == CircuitBreakerOpen {
		if cb.now().Before(cb.stats.NextRetryTime) {
			cb.stats.Rejected++
			return false
		}
		cb.stats.State = CircuitBreakerHalfOpen
		cb.trialSuccesses = 0
		cb.logger.Info().Msg("Circuit breaker transitioning to half-open")
	}
	cb.stats.Requests++
	return true
}

func (cb *CircuitBreaker) record(failed bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if failed {
		cb.stats.Failures++
		cb.stats.ConsecutiveFailures++
		cb.stats.LastFailureTime = cb.now()

		if cb.stats.State == CircuitBreakerHalfOpen ||
			(cb.stats.State == CircuitBreakerClosed && cb.stats.ConsecutiveFailures >= cb.config.FailureThreshold) {
			cb.stats.State = CircuitBreakerOpen
			cb.stats.NextRetryTime = cb.now().Add(cb.config.RecoveryTimeout)
			cb.logger.Warn().
				Int("failures", cb.stats.ConsecutiveFailures).
				Time("retry_at", cb.stats.NextRetryTime).
				Msg("Circuit breaker opened")
		}
		return
	}

	cb.stats.Successes++
	cb.stats.ConsecutiveFailures = 0

	if cb.stats.State == CircuitBreakerHalfOpen {
		cb.trialSuccesses++
		if cb.trialSuccesses >= cb.config.SuccessThreshold {
			cb.stats.State = CircuitBreakerClosed
			cb.logger.Info().Msg("Circuit breaker closed after successful recovery")
		}
	}
}

// Stats returns a snapshot of the breaker
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.stats
}

// GuardedCache puts a circuit breaker in front of a cache so that a dead
// backend costs one fast error per lookup instead of a network timeout.
type GuardedCache struct {
	inner     ports.Cache
	breaker   *CircuitBreaker
	isFailure func(error) bool
}

// NewGuardedCache wraps inner. Errors for which isFailure returns false,
// such as cache misses, do not trip the breaker.
func NewGuardedCache(inner ports.Cache, breaker *CircuitBreaker, isFailure func(error) bool) *GuardedCache {
	return &GuardedCache{inner: inner, breaker: breaker, isFailure: isFailure}
}

func (g *GuardedCache) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := g.breaker.Execute(func() error {
		var err error
		data, err = g.inner.Get(ctx, key)
		return err
	}, g.isFailure)
	return data, err
}

func (g *GuardedCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return g.breaker.Execute(func() error {
		return g.inner.Set(ctx, key, value, ttl)
	}, g.isFailure)
}

func (g *GuardedCache) Delete(ctx context.Context, key string) error {
	return g.breaker.Execute(func() error {
		return g.inner.Delete(ctx, key)
	}, g.isFailure)
}

func (g *GuardedCache) Exists(ctx context.Context, key string) (bool, error) {
	var ok bool
	err := g.breaker.Execute(func() error {
		var err error
		ok, err = g.inner.Exists(ctx, key)
		return err
	}, g.isFailure)
	return ok, err
}

func (g *GuardedCache) Close() error {
	return g.inner.Close()
}

// Breaker exposes the breaker for health reporting.
func (g *GuardedCache) Breaker() *CircuitBreaker {
	return g.breaker
}
