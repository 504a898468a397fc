// Package pump drains a completion queue and dispatches each completion to the
// callback registered for its tag.
package pump

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/morezero/completion-registry/pkg/completion"
	"github.com/morezero/completion-registry/pkg/cq"
)

const logPrefix = "pump:pump"

const defaultWorkers = 1

// Pump extracts and invokes completions reported by a queue.
type Pump struct {
	queue    cq.Queue
	registry *completion.Registry
	workers  int

	dispatched atomic.Int64
}

// NewPumpParams holds parameters for NewPump.
type NewPumpParams struct {
	Queue    cq.Queue
	Registry *completion.Registry
	// Workers is the number of goroutines draining the queue. Zero means one.
	Workers int
}

// NewPump creates a Pump.
func NewPump(params NewPumpParams) *Pump {
	workers := params.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Pump{
		queue:    params.Queue,
		registry: params.Registry,
		workers:  workers,
	}
}

// Run drains the queue until it is shut down (returns nil) or ctx is done
// (returns ctx.Err()). A *completion.ProtocolViolation raised while
// dispatching is not recovered.
func (p *Pump) Run(ctx context.Context) error {
	slog.Info(fmt.Sprintf("%s - Starting %d workers", logPrefix, p.workers))

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		g.Go(func() error {
			return p.work(gctx, i)
		})
	}
	err := g.Wait()

	slog.Info(fmt.Sprintf("%s - Stopped after %d completions", logPrefix, p.dispatched.Load()))
	return err
}

func (p *Pump) work(ctx context.Context, id int) error {
	for {
		ev, err := p.queue.Next(ctx)
		if err != nil {
			if errors.Is(err, cq.ErrShutdown) {
				slog.Debug(fmt.Sprintf("%s - worker %d: queue shut down", logPrefix, id))
				return nil
			}
			return err
		}
		p.Dispatch(ev)
	}
}

// Dispatch extracts the callback for ev.Tag and invokes it with ev.Success.
func (p *Pump) Dispatch(ev cq.Event) {
	cb := p.registry.Extract(ev.Tag)
	cb.OnComplete(ev.Success)
	p.dispatched.Add(1)
}

// Dispatched returns the number of completions handled so far.
func (p *Pump) Dispatched() int64 {
	return p.dispatched.Load()
}
