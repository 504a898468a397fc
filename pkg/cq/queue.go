// Package cq defines the completion queue that reports finished operations by tag.
package cq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/morezero/completion-registry/pkg/completion"
)

const logPrefix = "cq:queue"

// ErrShutdown is returned by Next once the queue is shut down and drained.
var ErrShutdown = errors.New("completion queue shut down")

// Event is one completion reported by the queue.
type Event struct {
	Tag     completion.Tag
	Success bool
}

// Queue is the source of completion events consumed by the pump.
type Queue interface {
	// Next blocks until an event is available, ctx is done, or the queue is shut down and drained.
	Next(ctx context.Context) (Event, error)
	// Shutdown stops accepting events. Events already posted are still delivered.
	Shutdown()
}

// MemoryQueue is an in-process Queue fed by Post.
type MemoryQueue struct {
	events chan Event
	done   chan struct{}
	once   sync.Once

	mu     sync.RWMutex
	closed bool
}

// NewMemoryQueue creates a MemoryQueue buffering up to capacity events.
func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity < 0 {
		capacity = 0
	}
	return &MemoryQueue{events: make(chan Event, capacity), done: make(chan struct{})}
}

// Post reports tag as completed. It blocks while the buffer is full and returns
// ErrShutdown if the queue no longer accepts events, including when Shutdown
// starts while Post is blocked. The caller still owns the tag in that case.
func (q *MemoryQueue) Post(tag completion.Tag, success bool) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		slog.Warn(fmt.Sprintf("%s - dropping completion for %s after shutdown", logPrefix, tag))
		return ErrShutdown
	}
	select {
	case q.events <- Event{Tag: tag, Success: success}:
		return nil
	case <-q.done:
		slog.Warn(fmt.Sprintf("%s - dropping completion for %s, queue shutting down", logPrefix, tag))
		return ErrShutdown
	}
}

// Next implements Queue.
func (q *MemoryQueue) Next(ctx context.Context) (Event, error) {
	select {
	case ev, ok := <-q.events:
		if !ok {
			return Event{}, ErrShutdown
		}
		return ev, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// Shutdown implements Queue. Posts blocked on a full buffer are released with
// ErrShutdown, so Shutdown does not depend on the pump still draining.
func (q *MemoryQueue) Shutdown() {
	q.once.Do(func() { close(q.done) })
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.events)
	slog.Debug(fmt.Sprintf("%s - queue shut down", logPrefix))
}

// Len returns the number of buffered events.
func (q *MemoryQueue) Len() int {
	return len(q.events)
}
