package completion

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/morezero/completion-registry/pkg/environment"
)

const logPrefix = "completion:registry"

// Registry maps outstanding tags to their completion callbacks. Register and
// Extract are linearizable and safe for concurrent use.
//
// A tag must be registered before its operation is submitted to the completion
// queue, and extracted exactly once when the queue reports it. Registering an
// outstanding tag or extracting an absent one panics with *ProtocolViolation.
type Registry struct {
	env *environment.Environment

	mu                sync.Mutex
	pending           map[Tag]OpCompletionCallback
	lastRegisteredKey Tag // tests only
}

// NewRegistry creates a Registry whose pending count is tracked in env's DebugStats.
func NewRegistry(env *environment.Environment) *Registry {
	return &Registry{
		env:     env,
		pending: make(map[Tag]OpCompletionCallback),
	}
}

// Register associates tag with callback.
func (r *Registry) Register(tag Tag, callback OpCompletionCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.pending[tag]; ok {
		slog.Error(fmt.Sprintf("%s - duplicate registration of tag %s", logPrefix, tag))
		panic(&ProtocolViolation{Kind: DuplicateTag, Tag: tag})
	}
	r.pending[tag] = callback
	r.lastRegisteredKey = tag
	r.env.DebugStats().PendingBatchCompletions.Increment()
}

// RegisterBatchCompletion attaches callback to ctx and registers ctx under its handle.
func (r *Registry) RegisterBatchCompletion(ctx *BatchContext, callback BatchCompletionFunc) {
	ctx.completionCallback = callback
	r.Register(ctx.Handle(), ctx)
}

// RegisterRequestCallCompletion attaches callback to ctx and registers ctx under its handle.
func (r *Registry) RegisterRequestCallCompletion(ctx *RequestCallContext, callback RequestCallCompletionFunc) {
	ctx.completionCallback = callback
	r.Register(ctx.Handle(), ctx)
}

// Extract removes and returns the callback registered for tag.
func (r *Registry) Extract(tag Tag) OpCompletionCallback {
	r.mu.Lock()
	defer r.mu.Unlock()

	cb, ok := r.pending[tag]
	if !ok {
		slog.Error(fmt.Sprintf("%s - extract of unregistered tag %s", logPrefix, tag))
		panic(&ProtocolViolation{Kind: UnknownTag, Tag: tag})
	}
	delete(r.pending, tag)
	r.env.DebugStats().PendingBatchCompletions.Decrement()
	return cb
}

// Len returns the number of outstanding tags.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// LastRegisteredKey returns the most recently registered tag.
// For testing only. NOT safe for concurrent use with Register.
func (r *Registry) LastRegisteredKey() Tag {
	return r.lastRegisteredKey
}
