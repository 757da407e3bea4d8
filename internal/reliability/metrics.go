package reliability

import "time"

// Metrics captures retry block telemetry
type Metrics interface {
	// ObserveAttempt records the duration and outcome of one handler invocation.
	ObserveAttempt(duration time.Duration, success bool)
	// AddCompleted increments the count of successfully handled items.
	AddCompleted(count int)
	// AddRetries increments the count of items re-queued after a failure.
	AddRetries(count int)
	// AddDiscarded increments the count of items dropped after exhausting attempts.
	AddDiscarded(count int)
	// SetQueued updates the number of items waiting in the queue.
	SetQueued(count int)
}

// NopMetrics is a no-op metrics recorder
type NopMetrics struct{}

// ObserveAttempt implements Metrics
func (NopMetrics) ObserveAttempt(time.Duration, bool) {}

// AddCompleted implements Metrics
func (NopMetrics) AddCompleted(int) {}

// AddRetries implements Metrics
func (NopMetrics) AddRetries(int) {}

// AddDiscarded implements Metrics
func (NopMetrics) AddDiscarded(int) {}

// SetQueued implements Metrics
func (NopMetrics) SetQueued(int) {}
