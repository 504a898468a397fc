// Package monitor samples the pending-completions counter to detect completion
// queue backlog.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/morezero/completion-registry/pkg/environment"
)

const logPrefix = "monitor:monitor"

const defaultInterval = 10 * time.Second

// Sample is one observation of the pending-completions counter.
type Sample struct {
	Service   string    `json:"service"`
	Pending   int64     `json:"pending"`
	Backlog   bool      `json:"backlog"`
	Timestamp time.Time `json:"timestamp"`
}

// Monitor periodically samples an Environment's DebugStats.
type Monitor struct {
	env       *environment.Environment
	service   string
	recorder  Recorder
	interval  time.Duration
	threshold int64
	now       func() time.Time
}

// NewMonitorParams holds parameters for NewMonitor.
type NewMonitorParams struct {
	Env      *environment.Environment
	Service  string
	Recorder Recorder
	Interval time.Duration
	// Threshold marks a sample as backlog when Pending exceeds it. Zero disables the warning.
	Threshold int64
}

// NewMonitor creates a Monitor. A nil Recorder defaults to NoOpRecorder.
func NewMonitor(params NewMonitorParams) *Monitor {
	rec := params.Recorder
	if rec == nil {
		rec = &NoOpRecorder{}
	}
	interval := params.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Monitor{
		env:       params.Env,
		service:   params.Service,
		recorder:  rec,
		interval:  interval,
		threshold: params.Threshold,
		now:       time.Now,
	}
}

// Sample takes one observation and hands it to the recorder.
func (m *Monitor) Sample(ctx context.Context) (*Sample, error) {
	pending := m.env.DebugStats().PendingBatchCompletions.Count()
	s := &Sample{
		Service:   m.service,
		Pending:   pending,
		Backlog:   m.threshold > 0 && pending > m.threshold,
		Timestamp: m.now().UTC(),
	}
	if s.Backlog {
		slog.Warn(fmt.Sprintf("%s - %s has %d pending completions (threshold %d)", logPrefix, m.service, pending, m.threshold))
	}
	if err := m.recorder.Record(ctx, s); err != nil {
		return s, fmt.Errorf("%s - failed to record sample: %w", logPrefix, err)
	}
	return s, nil
}

// Run samples every interval until ctx is done. Recorder errors are logged, not fatal.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Sample(ctx); err != nil {
				slog.Error(err.Error())
			}
		}
	}
}
