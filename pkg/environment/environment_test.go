package environment

import (
	"sync"
	"testing"
)

func TestAtomicCounter(t *testing.T) {
	var c AtomicCounter
	if got := c.Increment(); got != 1 {
		t.Errorf("environment:environment_test - Increment() = %d, want 1", got)
	}
	c.Increment()
	if got := c.Decrement(); got != 1 {
		t.Errorf("environment:environment_test - Decrement() = %d, want 1", got)
	}
	if got := c.Count(); got != 1 {
		t.Errorf("environment:environment_test - Count() = %d, want 1", got)
	}
}

func TestAtomicCounter_Concurrent(t *testing.T) {
	var c AtomicCounter
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Increment()
				c.Decrement()
				c.Increment()
			}
		}()
	}
	wg.Wait()
	if got := c.Count(); got != 5000 {
		t.Errorf("environment:environment_test - Count() = %d, want 5000", got)
	}
}

func TestEnvironment_Close(t *testing.T) {
	tests := []struct {
		name    string
		pending int
		want    bool
	}{
		{"drained", 0, true},
		{"leaked", 2, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := New("test")
			for i := 0; i < tt.pending; i++ {
				env.DebugStats().PendingBatchCompletions.Increment()
			}
			if got := env.Close(); got != tt.want {
				t.Errorf("environment:environment_test - Close() = %v, want %v", got, tt.want)
			}
			if !env.Close() {
				t.Error("environment:environment_test - second Close() should be a no-op returning true")
			}
		})
	}
}

func TestEnvironment_Name(t *testing.T) {
	env := New("node-a")
	if env.Name() != "node-a" {
		t.Errorf("environment:environment_test - Name() = %q, want %q", env.Name(), "node-a")
	}
	if env.DebugStats() == nil {
		t.Fatal("environment:environment_test - DebugStats() returned nil")
	}
}
