package llmbus

import (
	"time"

	"github.com/sony/gobreaker"
)

// BreakerConfig mirrors the CircuitBreaker parameters named in the spec
// (§3, defaults in §6): failure_threshold=5, recovery_timeout=60s,
// half_open_max_calls=3.
type BreakerConfig struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	HalfOpenMaxCalls uint32
}

// DefaultBreakerConfig returns the spec's documented defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		HalfOpenMaxCalls: 3,
	}
}

// newBreaker builds a sony/gobreaker instance whose trip/reset semantics
// match §4.4's transition table: closed->open after FailureThreshold
// consecutive failures; open->half_open after RecoveryTimeout elapses on
// the next call attempt; half_open->closed after HalfOpenMaxCalls
// consecutive successes; half_open->open on any failure.
func newBreaker(name string, cfg BreakerConfig) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.HalfOpenMaxCalls,
		Timeout:     cfg.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.FailureThreshold)
		},
	})
}

// breakerOpen reports whether a provider's breaker is currently refusing
// calls (state open, recovery window not yet elapsed). gobreaker itself
// transitions open->half_open lazily on the next Execute call, so this is
// only used to decide whether to skip the provider before attempting the
// call at all (§4.4 step 2b: "If open and not yet recovered, skip").
func breakerOpen(cb *gobreaker.CircuitBreaker) bool {
	return cb.State() == gobreaker.StateOpen
}
