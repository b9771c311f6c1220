// Package state holds process-wide mutable state shared across requests,
// currently the per-source circuit breakers.
package state

import (
	"fmt"
	"sync"
	"time"

	"github.com/carecost/carecost/internal/metrics"
)

// CircuitBreaker tracks error rates per upstream source with a sliding window
// and trips when the error rate exceeds a threshold, so a failing benefit or
// accumulator source stops absorbing request latency.
// Supports half-open state: after a cooldown period, one probe request is
// allowed through. If it succeeds, the breaker resets; if it fails, it re-trips.
type CircuitBreaker struct {
	mu        sync.RWMutex
	threshold float64       // error rate threshold (0.0-1.0) to trip
	window    time.Duration // sliding window duration
	cooldown  time.Duration // cooldown before half-open (default = window)
	states    map[string]*sourceState
}

type sourceState struct {
	successes []time.Time
	failures  []time.Time
	tripped   bool
	trippedAt time.Time
	halfOpen  bool // In half-open state, one probe is allowed through
}

// NewCircuitBreaker creates a new circuit breaker with the given threshold and window.
// threshold is the error rate (0.0-1.0) above which the breaker trips.
// window is the sliding window for tracking success/failure counts.
func NewCircuitBreaker(threshold float64, window time.Duration) *CircuitBreaker {
	if threshold <= 0 || threshold > 1 {
		threshold = 0.5
	}
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &CircuitBreaker{
		threshold: threshold,
		window:    window,
		cooldown:  window, // Default cooldown equals the sliding window
		states:    make(map[string]*sourceState),
	}
}

func (cb *CircuitBreaker) getOrCreate(source string) *sourceState {
	s, ok := cb.states[source]
	if !ok {
		s = &sourceState{}
		cb.states[source] = s
	}
	return s
}

// RecordSuccess records a successful call to the given source.
// If the breaker is in half-open state, a success resets it to closed.
func (cb *CircuitBreaker) RecordSuccess(source string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	s := cb.getOrCreate(source)
	s.successes = append(s.successes, time.Now())
	cb.pruneUnlocked(s)
	if s.halfOpen {
		// Probe succeeded — reset the breaker
		s.tripped = false
		s.halfOpen = false
		s.successes = nil
		s.failures = nil
		metrics.SourceBreakerOpen.WithLabelValues(source).Set(0)
	}
}

// RecordFailure records a failed call. If the error rate exceeds
// the threshold, the breaker trips automatically. If in half-open state,
// a failure re-trips the breaker immediately.
func (cb *CircuitBreaker) RecordFailure(source string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	s := cb.getOrCreate(source)
	s.failures = append(s.failures, time.Now())

	// Half-open probe failed — re-trip immediately
	if s.halfOpen {
		s.halfOpen = false
		s.tripped = true
		s.trippedAt = time.Now()
		metrics.SourceBreakerOpen.WithLabelValues(source).Set(1)
		return
	}

	// Check if we should trip
	cb.pruneUnlocked(s)
	total := len(s.successes) + len(s.failures)
	if total >= 5 { // Require at least 5 data points before tripping
		errorRate := float64(len(s.failures)) / float64(total)
		if errorRate >= cb.threshold && !s.tripped {
			s.tripped = true
			s.trippedAt = time.Now()
			metrics.SourceBreakerOpen.WithLabelValues(source).Set(1)
		}
	}
}

// IsTripped returns true if the circuit breaker is tripped for the given source.
// After the cooldown period, the breaker transitions to half-open state, allowing
// one probe request through. If that probe succeeds (RecordSuccess), the breaker
// resets. If it fails (RecordFailure), it re-trips.
func (cb *CircuitBreaker) IsTripped(source string) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	s, ok := cb.states[source]
	if !ok {
		return false
	}
	if !s.tripped {
		return false
	}
	// Check if cooldown has elapsed — transition to half-open
	if !s.halfOpen && time.Since(s.trippedAt) >= cb.cooldown {
		s.halfOpen = true
		return false // Allow one probe through
	}
	if s.halfOpen {
		return false // Already in half-open, allow the probe
	}
	return true
}

// Reset resets the circuit breaker for the given source.
func (cb *CircuitBreaker) Reset(source string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	s, ok := cb.states[source]
	if !ok {
		return
	}
	s.tripped = false
	s.successes = nil
	s.failures = nil
	metrics.SourceBreakerOpen.WithLabelValues(source).Set(0)
}

// Status returns a human-readable status for the given source.
func (cb *CircuitBreaker) Status(source string) string {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	s, ok := cb.states[source]
	if !ok {
		return "closed"
	}
	if s.halfOpen {
		return fmt.Sprintf("half-open (since %s)", s.trippedAt.Format(time.RFC3339))
	}
	if s.tripped {
		return fmt.Sprintf("tripped (since %s)", s.trippedAt.Format(time.RFC3339))
	}
	return "closed"
}

// pruneUnlocked removes entries outside the sliding window. Must be called with mu held.
func (cb *CircuitBreaker) pruneUnlocked(s *sourceState) {
	cutoff := time.Now().Add(-cb.window)
	s.successes = pruneOlderThan(s.successes, cutoff)
	s.failures = pruneOlderThan(s.failures, cutoff)
}

func pruneOlderThan(times []time.Time, cutoff time.Time) []time.Time {
	idx := 0
	for _, t := range times {
		if t.After(cutoff) {
			times[idx] = t
			idx++
		}
	}
	return times[:idx]
}
