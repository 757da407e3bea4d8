package health

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/glimte/mmate-outbound/internal/reliability"
)

// StatsSource reports retry block statistics per destination
type StatsSource interface {
	Stats() map[string]reliability.BlockStats
}

// SendingChecker reports on the sending agents of a client. It is degraded once envelopes have
// been discarded or a queue grows past the backlog threshold.
type SendingChecker struct {
	source  StatsSource
	backlog int
}

// NewSendingChecker creates a checker; a backlog of zero disables the queue threshold
func NewSendingChecker(source StatsSource, backlog int) *SendingChecker {
	return &SendingChecker{source: source, backlog: backlog}
}

func (c *SendingChecker) Name() string {
	return "sending"
}

func (c *SendingChecker) Check(ctx context.Context) CheckResult {
	result := CheckResult{
		Status:    StatusHealthy,
		Message:   "sending agents are keeping up",
		Details:   make(map[string]any),
		Timestamp: time.Now(),
	}

	var discarded int64
	var backlogged []string
	for dest, stats := range c.source.Stats() {
		result.Details[dest] = map[string]any{
			"queued":    stats.Queued,
			"pending":   stats.Pending,
			"completed": stats.Completed,
			"retried":   stats.Retried,
			"discarded": stats.Discarded,
		}
		discarded += stats.Discarded
		if c.backlog > 0 && stats.Queued > c.backlog {
			backlogged = append(backlogged, dest)
		}
	}

	switch {
	case len(backlogged) > 0:
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("%d destination(s) over a backlog of %d", len(backlogged), c.backlog)
	case discarded > 0:
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("%d envelope(s) discarded after exhausting their attempts", discarded)
	}
	return result
}

// RuntimeChecker watches the goroutine count
type RuntimeChecker struct {
	warning  int
	critical int
}

func NewRuntimeChecker(warning, critical int) *RuntimeChecker {
	return &RuntimeChecker{warning: warning, critical: critical}
}

func (c *RuntimeChecker) Name() string {
	return "runtime"
}

func (c *RuntimeChecker) Check(ctx context.Context) CheckResult {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	goroutines := runtime.NumGoroutine()

	result := CheckResult{
		Status:  StatusHealthy,
		Message: "runtime is normal",
		Details: map[string]any{
			"goroutines":     goroutines,
			"memory_used_mb": float64(m.Sys) / 1024 / 1024,
			"gc_runs":        m.NumGC,
		},
		Timestamp: time.Now(),
	}

	switch {
	case goroutines > c.critical:
		result.Status = StatusUnhealthy
		result.Message = fmt.Sprintf("too many goroutines: %d", goroutines)
	case goroutines > c.warning:
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("high goroutine count: %d", goroutines)
	}
	return result
}

// CheckerFunc adapts a function to a Checker
type CheckerFunc struct {
	name string
	fn   func(ctx context.Context) CheckResult
}

func NewCheckerFunc(name string, fn func(ctx context.Context) CheckResult) *CheckerFunc {
	return &CheckerFunc{name: name, fn: fn}
}

func (c *CheckerFunc) Name() string { return c.name }

func (c *CheckerFunc) Check(ctx context.Context) CheckResult { return c.fn(ctx) }
