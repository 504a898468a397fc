// Package client issues RPC operation batches over COMMS. Each batch is registered
// with the completion registry before it is sent; its reply is reported back
// through the completion queue.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/completion-registry/pkg/completion"
	"github.com/morezero/completion-registry/pkg/cq"
	"github.com/morezero/completion-registry/pkg/wire"
)

const logPrefix = "client:client"

const defaultTimeout = 25 * time.Second

// ErrClosed is returned by StartBatch after Close.
var ErrClosed = errors.New("client closed")

// Client sends batches for one remote service.
type Client struct {
	nc       *comms.Conn
	registry *completion.Registry
	queue    *cq.MemoryQueue
	service  string
	prefix   string
	version  string
	checker  *wire.VersionChecker
	timeout  time.Duration

	mu       sync.RWMutex
	closed   bool
	inflight sync.WaitGroup
}

// NewClientParams holds parameters for NewClient.
type NewClientParams struct {
	Conn     *comms.Conn
	Registry *completion.Registry
	Queue    *cq.MemoryQueue
	Service  string
	// SubjectPrefix defaults to wire.DefaultSubjectPrefix.
	SubjectPrefix string
	// Version is sent in every frame. Defaults to wire.DefaultProtocolVersion.
	Version string
	// Constraint, if set, is checked against every reply's version.
	Constraint string
	// Timeout applies when the caller's context has no deadline.
	Timeout time.Duration
}

// NewClient creates a Client.
func NewClient(params NewClientParams) (*Client, error) {
	if params.Conn == nil || params.Registry == nil || params.Queue == nil {
		return nil, fmt.Errorf("%s - Conn, Registry and Queue are required", logPrefix)
	}
	if params.Service == "" {
		return nil, fmt.Errorf("%s - Service is required", logPrefix)
	}

	c := &Client{
		nc:       params.Conn,
		registry: params.Registry,
		queue:    params.Queue,
		service:  params.Service,
		prefix:   params.SubjectPrefix,
		version:  params.Version,
		timeout:  params.Timeout,
	}
	if c.prefix == "" {
		c.prefix = wire.DefaultSubjectPrefix
	}
	if c.version == "" {
		c.version = wire.DefaultProtocolVersion
	}
	if err := wire.ValidateVersion(c.version); err != nil {
		return nil, fmt.Errorf("%s - %w", logPrefix, err)
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	if params.Constraint != "" {
		checker, err := wire.NewVersionChecker(params.Constraint)
		if err != nil {
			return nil, fmt.Errorf("%s - %w", logPrefix, err)
		}
		c.checker = checker
	}
	return c, nil
}

// StartBatch registers a batch completion for method and sends payload. cb runs on
// the pump once the reply arrives or the request fails; success is false in the
// latter case and ctx.Err() on the batch context explains why.
func (c *Client) StartBatch(ctx context.Context, method string, payload []byte, cb completion.BatchCompletionFunc) (*completion.BatchContext, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, ErrClosed
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.timeout)
	}

	req := &wire.Frame{
		ID:      uuid.NewString(),
		Version: c.version,
		Method:  method,
		Payload: payload,
	}
	req.SetDeadline(deadline)
	data, err := wire.EncodeFrame(req)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to encode request: %w", logPrefix, err)
	}

	bctx := completion.NewBatchContext(method)
	bctx.Deadline = deadline
	c.registry.RegisterBatchCompletion(bctx, cb)

	subject := wire.BuildMethodSubject(c.prefix, c.service, method)
	slog.Debug(fmt.Sprintf("%s - method=%s id=%s tag=%s", logPrefix, method, req.ID, bctx.Handle()))

	c.inflight.Add(1)
	go c.submit(ctx, bctx, subject, data, deadline)
	return bctx, nil
}

func (c *Client) submit(ctx context.Context, bctx *completion.BatchContext, subject string, data []byte, deadline time.Time) {
	defer c.inflight.Done()

	reqCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	payload, err := c.roundTrip(reqCtx, subject, data)
	if err != nil {
		slog.Debug(fmt.Sprintf("%s - batch %s failed: %v", logPrefix, bctx.Handle(), err))
	}
	bctx.SetResult(payload, err)
	if perr := c.queue.Post(bctx.Handle(), err == nil); perr != nil {
		// The pump will never see this tag; complete it here so it is still extracted once.
		slog.Warn(fmt.Sprintf("%s - completing %s inline: %v", logPrefix, bctx.Handle(), perr))
		if err == nil {
			bctx.SetResult(nil, wire.NewRemoteError(wire.CodeUnavailable, "completion queue shut down"))
		}
		c.registry.Extract(bctx.Handle()).OnComplete(false)
	}
}

func (c *Client) roundTrip(ctx context.Context, subject string, data []byte) ([]byte, error) {
	msg, err := c.nc.RequestWithContext(ctx, subject, data)
	if err != nil {
		return nil, transportError(err)
	}
	resp, err := wire.DecodeFrame(msg.Data)
	if err != nil {
		return nil, wire.NewRemoteError(wire.CodeInvalidRequest, "failed to decode response: %v", err)
	}
	if c.checker != nil {
		if err := c.checker.Check(resp.Version); err != nil {
			return nil, wire.NewRemoteError(wire.CodeIncompatibleVersion, "%v", err)
		}
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	return resp.Payload, nil
}

func transportError(err error) error {
	switch {
	case errors.Is(err, comms.ErrNoResponders):
		return &wire.RemoteError{Code: wire.CodeUnavailable, Message: err.Error(), Retryable: true}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, comms.ErrTimeout):
		return &wire.RemoteError{Code: wire.CodeDeadlineExceeded, Message: err.Error(), Retryable: true}
	default:
		return err
	}
}

type result struct {
	payload []byte
	err     error
}

// Call sends payload to method and waits for the reply. Without a deadline on
// ctx the client timeout applies.
func (c *Client) Call(ctx context.Context, method string, payload []byte) ([]byte, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	done := make(chan result, 1)
	_, err := c.StartBatch(ctx, method, payload, func(success bool, bctx *completion.BatchContext) {
		defer bctx.Release()
		if !success {
			done <- result{err: bctx.Err()}
			return
		}
		done <- result{payload: bctx.Response()}
	})
	if err != nil {
		return nil, err
	}
	select {
	case r := <-done:
		return r.payload, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops new batches and waits until every submitted batch has posted its completion.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.inflight.Wait()
	slog.Debug(fmt.Sprintf("%s - client for %s closed", logPrefix, c.service))
}
