// Package server accepts incoming RPC calls from COMMS. Every acceptance is
// registered with the completion registry and reported through the completion
// queue once a call has been attached to it.
package server

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/completion-registry/pkg/completion"
	"github.com/morezero/completion-registry/pkg/cq"
	"github.com/morezero/completion-registry/pkg/wire"
)

const logPrefix = "server:server"

const (
	defaultTimeout    = 25 * time.Second
	defaultMaxBacklog = 1024
)

var (
	// ErrNotStarted is returned by RequestCall before Start.
	ErrNotStarted = errors.New("server not started")
	// ErrShutdown is returned by Start and RequestCall after Shutdown.
	ErrShutdown = errors.New("server shut down")
)

// Server matches incoming calls for one service to registered acceptances.
type Server struct {
	nc         *comms.Conn
	registry   *completion.Registry
	queue      *cq.MemoryQueue
	service    string
	prefix     string
	version    string
	checker    *wire.VersionChecker
	timeout    time.Duration
	maxBacklog int

	mu      sync.Mutex
	sub     *comms.Subscription
	closed  bool
	waiting []*completion.RequestCallContext
	backlog []*incomingCall
}

type incomingCall struct {
	msg   *comms.Msg
	frame *wire.Frame
}

// NewServerParams holds parameters for NewServer.
type NewServerParams struct {
	Conn     *comms.Conn
	Registry *completion.Registry
	Queue    *cq.MemoryQueue
	Service  string
	// SubjectPrefix defaults to wire.DefaultSubjectPrefix.
	SubjectPrefix string
	// Version is sent in every reply. Defaults to wire.DefaultProtocolVersion.
	Version string
	// Constraint, if set, rejects calls whose version does not satisfy it.
	Constraint string
	// Timeout bounds handlers when the caller sent no deadline.
	Timeout time.Duration
	// MaxBacklog caps calls held while no acceptance is waiting.
	MaxBacklog int
}

// NewServer creates a Server. Call Start to begin receiving calls.
func NewServer(params NewServerParams) (*Server, error) {
	if params.Conn == nil || params.Registry == nil || params.Queue == nil {
		return nil, fmt.Errorf("%s - Conn, Registry and Queue are required", logPrefix)
	}
	if params.Service == "" {
		return nil, fmt.Errorf("%s - Service is required", logPrefix)
	}

	s := &Server{
		nc:         params.Conn,
		registry:   params.Registry,
		queue:      params.Queue,
		service:    params.Service,
		prefix:     params.SubjectPrefix,
		version:    params.Version,
		timeout:    params.Timeout,
		maxBacklog: params.MaxBacklog,
	}
	if s.prefix == "" {
		s.prefix = wire.DefaultSubjectPrefix
	}
	if s.version == "" {
		s.version = wire.DefaultProtocolVersion
	}
	if err := wire.ValidateVersion(s.version); err != nil {
		return nil, fmt.Errorf("%s - %w", logPrefix, err)
	}
	if s.timeout <= 0 {
		s.timeout = defaultTimeout
	}
	if s.maxBacklog <= 0 {
		s.maxBacklog = defaultMaxBacklog
	}
	if params.Constraint != "" {
		checker, err := wire.NewVersionChecker(params.Constraint)
		if err != nil {
			return nil, fmt.Errorf("%s - %w", logPrefix, err)
		}
		s.checker = checker
	}
	return s, nil
}

// Start subscribes to the service subject.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrShutdown
	}
	if s.sub != nil {
		return nil
	}

	subject := wire.BuildServiceSubject(s.prefix, s.service)
	sub, err := s.nc.Subscribe(subject, s.onMessage)
	if err != nil {
		return fmt.Errorf("%s - failed to subscribe to %s: %w", logPrefix, subject, err)
	}
	s.sub = sub
	slog.Info(fmt.Sprintf("%s - Subscribed to %s", logPrefix, subject))
	return nil
}

// RequestCall registers an acceptance and completes it when the next call
// arrives. After Shutdown the acceptance completes with success=false.
func (s *Server) RequestCall(cb completion.RequestCallCompletionFunc) error {
	s.mu.Lock()
	started, closed := s.sub != nil, s.closed
	s.mu.Unlock()
	if closed {
		return ErrShutdown
	}
	if !started {
		return ErrNotStarted
	}

	rctx := completion.NewRequestCallContext()
	s.registry.RegisterRequestCallCompletion(rctx, cb)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.post(rctx, false)
		return nil
	}
	if len(s.backlog) > 0 {
		call := s.backlog[0]
		s.backlog = s.backlog[1:]
		s.mu.Unlock()
		s.attach(rctx, call)
		if !s.post(rctx, true) {
			s.reply(call.msg, call.frame, nil, wire.NewRemoteError(wire.CodeUnavailable, "server shutting down"))
		}
		return nil
	}
	s.waiting = append(s.waiting, rctx)
	s.mu.Unlock()
	return nil
}

func (s *Server) onMessage(msg *comms.Msg) {
	frame, err := wire.DecodeFrame(msg.Data)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - failed to decode request: %v", logPrefix, err))
		s.reply(msg, &wire.Frame{}, nil, wire.NewRemoteError(wire.CodeInvalidRequest, "Failed to decode request"))
		return
	}
	if s.checker != nil {
		if err := s.checker.Check(frame.Version); err != nil {
			s.reply(msg, frame, nil, wire.NewRemoteError(wire.CodeIncompatibleVersion, "%v", err))
			return
		}
	}
	call := &incomingCall{msg: msg, frame: frame}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.reply(msg, frame, nil, wire.NewRemoteError(wire.CodeUnavailable, "server shutting down"))
		return
	}
	if len(s.waiting) > 0 {
		rctx := s.waiting[0]
		s.waiting = s.waiting[1:]
		s.mu.Unlock()
		s.attach(rctx, call)
		if !s.post(rctx, true) {
			s.reply(msg, frame, nil, wire.NewRemoteError(wire.CodeUnavailable, "server shutting down"))
		}
		return
	}
	if len(s.backlog) >= s.maxBacklog {
		s.mu.Unlock()
		slog.Warn(fmt.Sprintf("%s - backlog full, rejecting %s", logPrefix, frame.Method))
		s.reply(msg, frame, nil, &wire.RemoteError{Code: wire.CodeUnavailable, Message: "server busy", Retryable: true})
		return
	}
	s.backlog = append(s.backlog, call)
	s.mu.Unlock()
}

func (s *Server) attach(rctx *completion.RequestCallContext, call *incomingCall) {
	rctx.SetCall(call.frame.Method, call.frame.Payload, call.frame.Deadline(), func(payload []byte, err error) error {
		return s.reply(call.msg, call.frame, payload, err)
	})
}

// post reports rctx to the queue. When the queue no longer accepts events the
// acceptance is extracted and completed here with success=false, and post
// returns false; the caller then owns any reply to an attached call.
func (s *Server) post(rctx *completion.RequestCallContext, success bool) bool {
	if err := s.queue.Post(rctx.Handle(), success); err != nil {
		slog.Warn(fmt.Sprintf("%s - completing acceptance %s inline: %v", logPrefix, rctx.Handle(), err))
		s.registry.Extract(rctx.Handle()).OnComplete(false)
		return false
	}
	return true
}

func (s *Server) reply(msg *comms.Msg, req *wire.Frame, payload []byte, err error) error {
	data, encErr := wire.EncodeFrame(wire.ResponseFrame(req, s.version, payload, err))
	if encErr != nil {
		slog.Error(fmt.Sprintf("%s - failed to encode response: %v", logPrefix, encErr))
		return encErr
	}
	return msg.Respond(data)
}

// Waiting returns the number of acceptances not yet matched to a call.
func (s *Server) Waiting() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.waiting)
}

// Shutdown unsubscribes, completes every waiting acceptance with success=false,
// and rejects calls still held in the backlog. The pump must still be running.
func (s *Server) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	sub := s.sub
	waiting := s.waiting
	backlog := s.backlog
	s.waiting = nil
	s.backlog = nil
	s.mu.Unlock()

	if sub != nil {
		if err := sub.Unsubscribe(); err != nil {
			slog.Warn(fmt.Sprintf("%s - unsubscribe failed: %v", logPrefix, err))
		}
	}
	for _, rctx := range waiting {
		s.post(rctx, false)
	}
	for _, call := range backlog {
		s.reply(call.msg, call.frame, nil, wire.NewRemoteError(wire.CodeUnavailable, "server shutting down"))
	}
	slog.Info(fmt.Sprintf("%s - Shut down %s (%d acceptances cancelled, %d calls rejected)", logPrefix, s.service, len(waiting), len(backlog)))
}
