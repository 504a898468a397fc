// Package wire defines the request/response frames exchanged over COMMS and the
// helpers for connecting, encoding, and versioning them.
package wire

import (
	"fmt"
	"time"
)

// Error codes carried in ErrorDetail.Code.
const (
	CodeInvalidRequest      = "INVALID_REQUEST"
	CodeIncompatibleVersion = "INCOMPATIBLE_VERSION"
	CodeMethodNotFound      = "METHOD_NOT_FOUND"
	CodeUnavailable         = "UNAVAILABLE"
	CodeDeadlineExceeded    = "DEADLINE_EXCEEDED"
	CodeInternal            = "INTERNAL_ERROR"
)

// Frame is the JSON envelope for both requests and responses.
type Frame struct {
	ID         string       `json:"id"`
	Version    string       `json:"version"`
	Method     string       `json:"method,omitempty"`
	Payload    []byte       `json:"payload,omitempty"`
	DeadlineMs int64        `json:"deadlineMs,omitempty"`
	Ok         bool         `json:"ok"`
	Error      *ErrorDetail `json:"error,omitempty"`
}

// ErrorDetail holds structured error information.
type ErrorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// Deadline returns the absolute deadline carried by the frame, zero if none.
func (f *Frame) Deadline() time.Time {
	if f.DeadlineMs <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(f.DeadlineMs)
}

// SetDeadline stores d in the frame. A zero d clears it.
func (f *Frame) SetDeadline(d time.Time) {
	if d.IsZero() {
		f.DeadlineMs = 0
		return
	}
	f.DeadlineMs = d.UnixMilli()
}

// Err returns the frame's error as a *RemoteError, or nil for a successful frame.
func (f *Frame) Err() error {
	if f.Ok {
		return nil
	}
	if f.Error == nil {
		return &RemoteError{Code: CodeInternal, Message: "response not ok without error detail"}
	}
	return &RemoteError{Code: f.Error.Code, Message: f.Error.Message, Retryable: f.Error.Retryable}
}

// RemoteError is an error reported by the peer.
type RemoteError struct {
	Code      string
	Message   string
	Retryable bool
}

func (e *RemoteError) Error() string {
	return e.Code + ": " + e.Message
}

// NewRemoteError creates a RemoteError.
func NewRemoteError(code, format string, args ...interface{}) *RemoteError {
	return &RemoteError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// ResponseFrame builds the reply for req. A non-nil err produces a failed frame;
// a *RemoteError keeps its code, anything else becomes INTERNAL_ERROR.
func ResponseFrame(req *Frame, version string, payload []byte, err error) *Frame {
	resp := &Frame{ID: req.ID, Version: version, Method: req.Method}
	if err == nil {
		resp.Ok = true
		resp.Payload = payload
		return resp
	}
	if re, ok := err.(*RemoteError); ok {
		resp.Error = &ErrorDetail{Code: re.Code, Message: re.Message, Retryable: re.Retryable}
		return resp
	}
	resp.Error = &ErrorDetail{Code: CodeInternal, Message: err.Error(), Retryable: true}
	return resp
}
