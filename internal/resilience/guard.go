package resilience

import (
	"context"
	"errors"
	"time"
)

// Settings is the configuration form of a Guard.
type Settings struct {
	MaxAttempts      int     `mapstructure:"max_attempts"`
	InitialBackoffMs int     `mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `mapstructure:"max_backoff_ms"`
	Multiplier       float64 `mapstructure:"multiplier"`
	FailureThreshold int     `mapstructure:"failure_threshold"`
	ResetTimeoutSecs int     `mapstructure:"reset_timeout_secs"`
}

// Guard wraps every call to one provider: the breaker is consulted per
// attempt and transient failures are retried.
type Guard struct {
	service string
	retry   RetryConfig
	breaker *Breaker
}

// NewGuard builds a Guard for service from settings. Zero values take defaults.
func NewGuard(service string, s Settings) *Guard {
	rc := DefaultRetryConfig()
	if s.MaxAttempts > 0 {
		rc.MaxAttempts = s.MaxAttempts
	}
	if s.InitialBackoffMs > 0 {
		rc.InitialBackoff = time.Duration(s.InitialBackoffMs) * time.Millisecond
	}
	if s.MaxBackoffMs > 0 {
		rc.MaxBackoff = time.Duration(s.MaxBackoffMs) * time.Millisecond
	}
	if s.Multiplier > 0 {
		rc.Multiplier = s.Multiplier
	}
	bc := DefaultBreakerConfig()
	if s.FailureThreshold > 0 {
		bc.FailureThreshold = s.FailureThreshold
	}
	if s.ResetTimeoutSecs > 0 {
		bc.ResetTimeout = time.Duration(s.ResetTimeoutSecs) * time.Second
	}
	return NewGuardWith(service, rc, NewBreaker(bc))
}

// NewGuardWith builds a Guard from explicit parts.
func NewGuardWith(service string, rc RetryConfig, b *Breaker) *Guard {
	if rc.OnRetry == nil {
		rc.OnRetry = RetryLogger(service, "call")
	}
	return &Guard{service: service, retry: rc, breaker: b}
}

// Service names the guarded provider.
func (g *Guard) Service() string { return g.service }

// Breaker exposes the guard's breaker.
func (g *Guard) Breaker() *Breaker { return g.breaker }

// Call runs fn through g. An open circuit is not retried.
func Call[T any](ctx context.Context, g *Guard, fn func(ctx context.Context) (T, error)) (T, error) {
	rc := g.retry
	base := rc.ShouldRetry
	if base == nil {
		base = IsTransient
	}
	rc.ShouldRetry = func(err error) bool {
		return !errors.Is(err, ErrCircuitOpen) && base(err)
	}
	return DoVal(ctx, rc, func(ctx context.Context) (T, error) {
		return Execute(ctx, g.breaker, fn)
	})
}
