package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/morezero/completion-registry/pkg/environment"
)

func TestNewMonitor_Defaults(t *testing.T) {
	m := NewMonitor(NewMonitorParams{Env: environment.New("m")})
	if _, ok := m.recorder.(*NoOpRecorder); !ok {
		t.Errorf("monitor:monitor_test - expected NoOpRecorder when Recorder is nil, got %T", m.recorder)
	}
	if m.interval != defaultInterval {
		t.Errorf("monitor:monitor_test - interval = %v, want %v", m.interval, defaultInterval)
	}
}

func TestMonitor_Sample(t *testing.T) {
	tests := []struct {
		name        string
		pending     int
		threshold   int64
		wantBacklog bool
	}{
		{"idle", 0, 5, false},
		{"at threshold", 5, 5, false},
		{"over threshold", 6, 5, true},
		{"threshold disabled", 100, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := environment.New("m")
			for i := 0; i < tt.pending; i++ {
				env.DebugStats().PendingBatchCompletions.Increment()
			}

			var captured *Sample
			m := NewMonitor(NewMonitorParams{
				Env:       env,
				Service:   "node-a",
				Threshold: tt.threshold,
				Recorder: NewCallbackRecorder(func(_ context.Context, s *Sample) error {
					captured = s
					return nil
				}),
			})
			fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
			m.now = func() time.Time { return fixed }

			s, err := m.Sample(context.Background())
			if err != nil {
				t.Fatalf("monitor:monitor_test - unexpected error: %v", err)
			}
			if captured != s {
				t.Fatal("monitor:monitor_test - recorder did not receive the sample")
			}
			if s.Pending != int64(tt.pending) || s.Backlog != tt.wantBacklog {
				t.Errorf("monitor:monitor_test - sample = %+v", s)
			}
			if s.Service != "node-a" || !s.Timestamp.Equal(fixed) {
				t.Errorf("monitor:monitor_test - sample header = %+v", s)
			}
		})
	}
}

func TestMonitor_SampleRecorderError(t *testing.T) {
	boom := errors.New("boom")
	m := NewMonitor(NewMonitorParams{
		Env:      environment.New("m"),
		Recorder: NewCallbackRecorder(func(context.Context, *Sample) error { return boom }),
	})
	s, err := m.Sample(context.Background())
	if !errors.Is(err, boom) {
		t.Errorf("monitor:monitor_test - err = %v, want boom", err)
	}
	if s == nil {
		t.Error("monitor:monitor_test - expected sample even on recorder error")
	}
}

func TestMonitor_RunSamplesUntilCancelled(t *testing.T) {
	samples := make(chan *Sample, 16)
	m := NewMonitor(NewMonitorParams{
		Env:      environment.New("m"),
		Interval: 5 * time.Millisecond,
		Recorder: NewCallbackRecorder(func(_ context.Context, s *Sample) error {
			select {
			case samples <- s:
			default:
			}
			return nil
		}),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	select {
	case <-samples:
	case <-time.After(5 * time.Second):
		t.Fatal("monitor:monitor_test - no sample recorded")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("monitor:monitor_test - Run did not return after cancel")
	}
}

func TestMultiRecorder(t *testing.T) {
	first := errors.New("first")
	calls := 0
	count := NewCallbackRecorder(func(context.Context, *Sample) error {
		calls++
		return nil
	})
	fail := NewCallbackRecorder(func(context.Context, *Sample) error { return first })

	err := MultiRecorder{count, fail, count, &NoOpRecorder{}}.Record(context.Background(), &Sample{})
	if !errors.Is(err, first) {
		t.Errorf("monitor:monitor_test - err = %v, want first", err)
	}
	if calls != 2 {
		t.Errorf("monitor:monitor_test - calls = %d, want 2", calls)
	}
}
