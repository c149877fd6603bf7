package resilience

import (
	"context"
	"fmt"
	"math/rand"
	"time"
	
	"github.com/meridian-run/meridian/core"
)

// RetryConfig configures retry behavior
type RetryConfig struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	BackoffFactor   float64
	JitterEnabled   bool
}

// DefaultRetryConfig provides sensible defaults
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		JitterEnabled: true,
	}
}

// Retry executes a function with retry logic
func Retry(ctx context.Context, config *RetryConfig, fn func() error) error {
	if config == nil {
		config = DefaultRetryConfig()
	}
	
	var lastErr error
	delay := config.InitialDelay
	
	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		// Check context
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		
		// Try the function
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
		}
		
		// Don't sleep after the last attempt
		if attempt == config.MaxAttempts {
			break
		}
		
		// Calculate next delay with exponential backoff
		if attempt > 1 {
			delay = time.Duration(float64(delay) * config.BackoffFactor)
			if delay > config.MaxDelay {
				delay = config.MaxDelay
			}
		}
		
		// Add jitter if enabled to prevent synchronized retries
		// across multiple clients (thundering herd mitigation)
		if config.JitterEnabled {
			jitter := time.Duration(float64(delay) * 0.1 * (2*rand.Float64() - 1))
			delay += jitter
		}
		
		// Sleep with context cancellation
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	
	return fmt.Errorf("max retry attempts (%d) exceeded for %v: %w", config.MaxAttempts, lastErr, core.ErrMaxRetriesExceeded)
}

// RetryExecutor wraps Retry with structured logging, so callers that need
// visibility into individual attempts and backoff decisions don't have to
// instrument Retry themselves.
type RetryExecutor struct {
	config           *RetryConfig
	logger           core.Logger
	telemetryEnabled bool
}

// NewRetryExecutor creates a logging retry executor. A nil config falls
// back to DefaultRetryConfig.
func NewRetryExecutor(config *RetryConfig) *RetryExecutor {
	if config == nil {
		config = DefaultRetryConfig()
	}
	return &RetryExecutor{
		config: config,
		logger: &core.NoOpLogger{},
	}
}

// SetLogger injects the logger used for retry start/backoff/exhaustion events.
func (e *RetryExecutor) SetLogger(logger core.Logger) {
	if logger == nil {
		e.logger = &core.NoOpLogger{}
		return
	}
	e.logger = logger
}

// Execute runs fn with the executor's retry policy, logging the start of the
// operation, each backoff, and the final outcome.
func (e *RetryExecutor) Execute(ctx context.Context, operation string, fn func() error) error {
	e.logger.Info("Starting retry operation", map[string]interface{}{
		"operation":      "retry_start",
		"retry_operation": operation,
		"max_attempts":   e.config.MaxAttempts,
		"initial_delay":  e.config.InitialDelay.String(),
		"backoff_factor": e.config.BackoffFactor,
	})

	var lastErr error
	delay := e.config.InitialDelay

	for attempt := 1; attempt <= e.config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := fn(); err == nil {
			e.logger.Info("retry operation succeeded", map[string]interface{}{
				"operation":        "retry_success",
				"retry_operation":  operation,
				"attempt":          attempt,
			})
			return nil
		} else {
			lastErr = err
			e.logger.Debug("retry attempt failed", map[string]interface{}{
				"operation":       "retry_attempt",
				"retry_operation": operation,
				"attempt":         attempt,
				"error":           err.Error(),
			})
		}

		if attempt == e.config.MaxAttempts {
			break
		}

		if attempt > 1 {
			delay = time.Duration(float64(delay) * e.config.BackoffFactor)
			if delay > e.config.MaxDelay {
				delay = e.config.MaxDelay
			}
		}

		if e.config.JitterEnabled {
			jitter := time.Duration(float64(delay) * 0.1 * (2*rand.Float64() - 1))
			delay += jitter
		}

		e.logger.Debug("retry backoff", map[string]interface{}{
			"operation":       "retry_backoff",
			"retry_operation": operation,
			"attempt":         attempt,
			"delay_ms":        delay.Milliseconds(),
		})

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	finalErr := fmt.Errorf("max retry attempts (%d) exceeded for %v: %w", e.config.MaxAttempts, lastErr, core.ErrMaxRetriesExceeded)
	e.logger.Error("retry operation exhausted", map[string]interface{}{
		"operation":       "retry_exhausted",
		"retry_operation": operation,
		"attempts":        e.config.MaxAttempts,
		"error":           lastErr.Error(),
	})
	return finalErr
}

// RetryWithCircuitBreaker combines retry logic with circuit breaker
func RetryWithCircuitBreaker(ctx context.Context, config *RetryConfig, cb *CircuitBreaker, fn func() error) error {
	return Retry(ctx, config, func() error {
		if !cb.CanExecute() {
			return core.ErrCircuitOpen
		}
		
		err := fn()
		if err != nil {
			cb.RecordFailure()
			return err
		}
		
		cb.RecordSuccess()
		return nil
	})
}