package monitor

import (
	"context"
	"fmt"
	"log/slog"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/completion-registry/pkg/wire"
)

// Recorder receives backlog samples.
type Recorder interface {
	Record(ctx context.Context, sample *Sample) error
}

// NoOpRecorder is a Recorder that does nothing.
type NoOpRecorder struct{}

// Record is a no-op.
func (r *NoOpRecorder) Record(_ context.Context, _ *Sample) error {
	return nil
}

// CallbackRecorder is a Recorder that calls a callback function (for testing).
type CallbackRecorder struct {
	callback func(ctx context.Context, sample *Sample) error
}

// NewCallbackRecorder creates a new CallbackRecorder.
func NewCallbackRecorder(cb func(ctx context.Context, sample *Sample) error) *CallbackRecorder {
	return &CallbackRecorder{callback: cb}
}

// Record calls the callback.
func (r *CallbackRecorder) Record(ctx context.Context, sample *Sample) error {
	return r.callback(ctx, sample)
}

const commsRecorderLogPrefix = "monitor:comms_recorder"

// CommsRecorder publishes samples to a COMMS subject.
type CommsRecorder struct {
	nc      *comms.Conn
	subject string
}

// NewCommsRecorder creates a CommsRecorder. An empty subject derives one from the sample's service.
func NewCommsRecorder(nc *comms.Conn, subject string) *CommsRecorder {
	return &CommsRecorder{nc: nc, subject: subject}
}

// Record publishes the sample as JSON.
func (r *CommsRecorder) Record(_ context.Context, sample *Sample) error {
	data, err := wire.EncodePayload(sample)
	if err != nil {
		return fmt.Errorf("%s - failed to encode sample: %w", commsRecorderLogPrefix, err)
	}
	subject := r.subject
	if subject == "" {
		subject = wire.BuildStatsSubject(wire.DefaultSubjectPrefix, sample.Service)
	}
	if err := r.nc.Publish(subject, data); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", commsRecorderLogPrefix, subject, err))
		return err
	}
	return nil
}

// MultiRecorder fans a sample out to several recorders, returning the first error.
type MultiRecorder []Recorder

// Record implements Recorder.
func (m MultiRecorder) Record(ctx context.Context, sample *Sample) error {
	var first error
	for _, r := range m {
		if err := r.Record(ctx, sample); err != nil && first == nil {
			first = err
		}
	}
	return first
}
