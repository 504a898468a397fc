package completion

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

const contextLogPrefix = "completion:context"

// OpCompletionCallback is what the registry stores for each tag. The pump calls
// OnComplete exactly once after extracting it.
type OpCompletionCallback interface {
	OnComplete(success bool)
}

// BatchCompletionFunc handles completion of a client-side operation batch.
type BatchCompletionFunc func(success bool, ctx *BatchContext)

// RequestCallCompletionFunc handles acceptance of an incoming server-side call.
type RequestCallCompletionFunc func(success bool, ctx *RequestCallContext)

// Responder sends the reply for an accepted call.
type Responder func(payload []byte, err error) error

// ErrNoResponder is returned by RequestCallContext.Respond when no call was attached.
var ErrNoResponder = errors.New("no call attached to request call context")

// BatchContext carries the state of one client operation batch. Its Handle is the
// tag the operation is submitted under.
type BatchContext struct {
	handle             Tag
	completionCallback BatchCompletionFunc
	released           atomic.Bool

	Method   string
	Deadline time.Time
	response []byte
	err      error
}

// NewBatchContext allocates a BatchContext with a fresh tag.
func NewBatchContext(method string) *BatchContext {
	return &BatchContext{handle: nextTag(), Method: method}
}

// Handle returns the tag identifying this batch.
func (c *BatchContext) Handle() Tag {
	return c.handle
}

// SetResult records the batch outcome. The submitter calls it before posting the
// tag to the completion queue.
func (c *BatchContext) SetResult(response []byte, err error) {
	c.response = response
	c.err = err
}

// Response returns the received payload, if any.
func (c *BatchContext) Response() []byte {
	return c.response
}

// Err returns the transport or remote error recorded for the batch.
func (c *BatchContext) Err() error {
	return c.err
}

// Release drops the payload. Safe to call more than once.
func (c *BatchContext) Release() {
	if c.released.CompareAndSwap(false, true) {
		c.response = nil
	}
}

// Released reports whether Release has been called.
func (c *BatchContext) Released() bool {
	return c.released.Load()
}

// OnComplete invokes the attached BatchCompletionFunc once and clears the slot.
func (c *BatchContext) OnComplete(success bool) {
	cb := c.completionCallback
	c.completionCallback = nil
	if cb == nil {
		slog.Error(fmt.Sprintf("%s - batch %s completed without a callback", contextLogPrefix, c.handle))
		return
	}
	invokeGuarded("batch", c.handle, func() { cb(success, c) })
}

// RequestCallContext carries one server-side call acceptance. It is completed when
// an incoming call has been attached, or with success=false on shutdown.
type RequestCallContext struct {
	handle             Tag
	completionCallback RequestCallCompletionFunc
	released           atomic.Bool

	method    string
	payload   []byte
	deadline  time.Time
	responder Responder
}

// NewRequestCallContext allocates a RequestCallContext with a fresh tag.
func NewRequestCallContext() *RequestCallContext {
	return &RequestCallContext{handle: nextTag()}
}

// Handle returns the tag identifying this acceptance.
func (c *RequestCallContext) Handle() Tag {
	return c.handle
}

// SetCall attaches the accepted call.
func (c *RequestCallContext) SetCall(method string, payload []byte, deadline time.Time, respond Responder) {
	c.method = method
	c.payload = payload
	c.deadline = deadline
	c.responder = respond
}

// Method returns the accepted call's method name.
func (c *RequestCallContext) Method() string {
	return c.method
}

// Payload returns the accepted call's request payload.
func (c *RequestCallContext) Payload() []byte {
	return c.payload
}

// Deadline returns the caller's deadline, zero if none was sent.
func (c *RequestCallContext) Deadline() time.Time {
	return c.deadline
}

// Respond replies to the accepted call.
func (c *RequestCallContext) Respond(payload []byte, err error) error {
	if c.responder == nil {
		return ErrNoResponder
	}
	return c.responder(payload, err)
}

// Release drops the request payload. Safe to call more than once.
func (c *RequestCallContext) Release() {
	if c.released.CompareAndSwap(false, true) {
		c.payload = nil
	}
}

// Released reports whether Release has been called.
func (c *RequestCallContext) Released() bool {
	return c.released.Load()
}

// OnComplete invokes the attached RequestCallCompletionFunc once and clears the slot.
func (c *RequestCallContext) OnComplete(success bool) {
	cb := c.completionCallback
	c.completionCallback = nil
	if cb == nil {
		slog.Error(fmt.Sprintf("%s - request call %s completed without a callback", contextLogPrefix, c.handle))
		return
	}
	invokeGuarded("request call", c.handle, func() { cb(success, c) })
}

// invokeGuarded runs a user callback, logging its panics. Protocol violations are re-raised.
func invokeGuarded(kind string, tag Tag, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			if v, ok := r.(*ProtocolViolation); ok {
				panic(v)
			}
			slog.Error(fmt.Sprintf("%s - panic in %s completion callback for %s: %v", contextLogPrefix, kind, tag, r))
		}
	}()
	fn()
}
