package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/morezero/completion-registry/pkg/completion"
	"github.com/morezero/completion-registry/pkg/wire"
)

const serveLogPrefix = "server:serve"

// Handler answers one accepted call.
type Handler interface {
	ServeCall(ctx context.Context, method string, payload []byte) ([]byte, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, method string, payload []byte) ([]byte, error)

// ServeCall calls f.
func (f HandlerFunc) ServeCall(ctx context.Context, method string, payload []byte) ([]byte, error) {
	return f(ctx, method, payload)
}

// Mux routes calls by method name.
type Mux struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewMux creates an empty Mux.
func NewMux() *Mux {
	return &Mux{handlers: make(map[string]HandlerFunc)}
}

// Handle registers fn for method, replacing any previous handler.
func (m *Mux) Handle(method string, fn HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[method] = fn
}

// ServeCall implements Handler.
func (m *Mux) ServeCall(ctx context.Context, method string, payload []byte) ([]byte, error) {
	m.mu.RLock()
	fn, ok := m.handlers[method]
	m.mu.RUnlock()
	if !ok {
		return nil, wire.NewRemoteError(wire.CodeMethodNotFound, "Unknown method: %s", method)
	}
	return fn(ctx, method, payload)
}

type acceptance struct {
	success bool
	rctx    *completion.RequestCallContext
}

// Serve keeps one acceptance outstanding and runs handler for every accepted call
// on its own goroutine. It returns nil after Shutdown, or ctx.Err() after shutting
// the server down when ctx is done. In-flight handlers are waited for, and the
// pump must keep draining the queue until Serve returns.
func (s *Server) Serve(ctx context.Context, handler Handler) error {
	if err := s.Start(); err != nil {
		return err
	}

	var handlers sync.WaitGroup
	defer handlers.Wait()

	for {
		accepted := make(chan acceptance, 1)
		err := s.RequestCall(func(success bool, rctx *completion.RequestCallContext) {
			accepted <- acceptance{success: success, rctx: rctx}
		})
		if err != nil {
			return err
		}

		select {
		case a := <-accepted:
			if !a.success {
				slog.Debug(fmt.Sprintf("%s - acceptance cancelled, stopping", serveLogPrefix))
				return nil
			}
			handlers.Add(1)
			go func() {
				defer handlers.Done()
				s.handle(ctx, handler, a.rctx)
			}()
		case <-ctx.Done():
			// Shutdown completes the acceptance unless a call already took it;
			// either way exactly one completion still arrives.
			s.Shutdown()
			if a := <-accepted; a.success {
				s.reject(a.rctx)
			}
			return ctx.Err()
		}
	}
}

// reject answers a call accepted after Serve stopped.
func (s *Server) reject(rctx *completion.RequestCallContext) {
	defer rctx.Release()
	err := wire.NewRemoteError(wire.CodeUnavailable, "server shutting down")
	if rerr := rctx.Respond(nil, err); rerr != nil {
		slog.Error(fmt.Sprintf("%s - failed to reject %s: %v", serveLogPrefix, rctx.Method(), rerr))
	}
}

func (s *Server) handle(ctx context.Context, handler Handler, rctx *completion.RequestCallContext) {
	defer rctx.Release()

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	if d := rctx.Deadline(); !d.IsZero() && time.Until(d) < s.timeout {
		cancel()
		callCtx, cancel = context.WithDeadline(ctx, d)
	}
	defer cancel()

	slog.Debug(fmt.Sprintf("%s - method=%s tag=%s", serveLogPrefix, rctx.Method(), rctx.Handle()))
	payload, err := handler.ServeCall(callCtx, rctx.Method(), rctx.Payload())
	if err != nil && callCtx.Err() == context.DeadlineExceeded {
		err = &wire.RemoteError{Code: wire.CodeDeadlineExceeded, Message: err.Error(), Retryable: true}
	}
	if rerr := rctx.Respond(payload, err); rerr != nil {
		slog.Error(fmt.Sprintf("%s - failed to respond to %s: %v", serveLogPrefix, rctx.Method(), rerr))
	}
}
