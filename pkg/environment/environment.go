// Package environment holds process-scoped state shared by the completion machinery.
package environment

import (
	"fmt"
	"log/slog"
	"sync/atomic"
)

const logPrefix = "environment:environment"

// AtomicCounter is an int64 counter safe for concurrent use.
type AtomicCounter struct {
	v atomic.Int64
}

// Increment adds one and returns the new value.
func (c *AtomicCounter) Increment() int64 {
	return c.v.Add(1)
}

// Decrement subtracts one and returns the new value.
func (c *AtomicCounter) Decrement() int64 {
	return c.v.Add(-1)
}

// Count returns the current value.
func (c *AtomicCounter) Count() int64 {
	return c.v.Load()
}

// DebugStats are instrumentation counters used for backlog diagnostics and tests.
type DebugStats struct {
	// PendingBatchCompletions is the number of registered but not yet extracted tags.
	PendingBatchCompletions AtomicCounter
}

// CheckOK reports whether nothing is left in flight.
func (s *DebugStats) CheckOK() bool {
	pending := s.PendingBatchCompletions.Count()
	if pending != 0 {
		slog.Warn(fmt.Sprintf("%s - Detected %d pending batch completions", logPrefix, pending))
		return false
	}
	return true
}

// Environment is the process-scoped owner of DebugStats. Create one per node and
// pass it to every registry built for that node.
type Environment struct {
	name   string
	stats  *DebugStats
	closed atomic.Bool
}

// New creates an Environment. name is used for logging only.
func New(name string) *Environment {
	slog.Debug(fmt.Sprintf("%s - Creating environment %s", logPrefix, name))
	return &Environment{name: name, stats: &DebugStats{}}
}

// Name returns the environment name.
func (e *Environment) Name() string {
	return e.name
}

// DebugStats returns the environment's counters.
func (e *Environment) DebugStats() *DebugStats {
	return e.stats
}

// Close tears the environment down and reports whether all completions were drained.
// Calling Close more than once is a no-op that returns true.
func (e *Environment) Close() bool {
	if !e.closed.CompareAndSwap(false, true) {
		return true
	}
	ok := e.stats.CheckOK()
	slog.Debug(fmt.Sprintf("%s - Environment %s closed", logPrefix, e.name))
	return ok
}
