package node

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/morezero/completion-registry/internal/config"
	"github.com/morezero/completion-registry/pkg/completion"
	"github.com/morezero/completion-registry/pkg/cq"
	"github.com/morezero/completion-registry/pkg/environment"
	"github.com/morezero/completion-registry/pkg/pump"
)

const coreLogPrefix = "node:core"

// Core is the completion machinery shared by clients and servers in one process:
// environment, registry, queue and pump.
type Core struct {
	Env      *environment.Environment
	Registry *completion.Registry
	Queue    *cq.MemoryQueue
	Pump     *pump.Pump

	pumpDone chan error
}

// NewCore builds a Core from cfg. Call Start to run the pump.
func NewCore(cfg *config.Config) *Core {
	env := environment.New(cfg.COMMSName)
	reg := completion.NewRegistry(env)
	queue := cq.NewMemoryQueue(cfg.QueueCapacity)
	return &Core{
		Env:      env,
		Registry: reg,
		Queue:    queue,
		Pump:     pump.NewPump(pump.NewPumpParams{Queue: queue, Registry: reg, Workers: cfg.PumpWorkers}),
	}
}

// Start runs the pump in the background.
func (c *Core) Start() {
	c.pumpDone = make(chan error, 1)
	go func() { c.pumpDone <- c.Pump.Run(context.Background()) }()
}

// Stop shuts the queue down, waits up to timeout for the pump to drain it, and
// closes the environment. Issuers must be stopped first.
func (c *Core) Stop(timeout time.Duration) error {
	c.Queue.Shutdown()
	if c.pumpDone != nil {
		select {
		case err := <-c.pumpDone:
			if err != nil {
				return fmt.Errorf("%s - pump stopped with error: %w", coreLogPrefix, err)
			}
		case <-time.After(timeout):
			return fmt.Errorf("%s - pump did not drain within %v", coreLogPrefix, timeout)
		}
	}
	if !c.Env.Close() {
		slog.Warn(fmt.Sprintf("%s - environment closed with completions still pending", coreLogPrefix))
	}
	return nil
}
