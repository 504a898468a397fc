package wire

import (
	"fmt"
	"log/slog"
	"time"

	comms "github.com/nats-io/nats.go"
)

const logPrefix = "wire:connect"

const (
	defaultReconnectWait = 2 * time.Second
	defaultMaxReconnects = 60
	connectTimeout       = 10 * time.Second
)

// ConnectParams holds parameters for Connect.
type ConnectParams struct {
	URL  string
	Name string
	// ReconnectWait defaults to 2s; MaxReconnects defaults to 60, negative means forever.
	ReconnectWait time.Duration
	MaxReconnects int
	// Pending reports outstanding completions. Their replies travel over this
	// connection, so the count is logged whenever it drops, returns or closes.
	Pending func() int64
}

func (p ConnectParams) options() []comms.Option {
	wait := p.ReconnectWait
	if wait <= 0 {
		wait = defaultReconnectWait
	}
	maxReconnects := p.MaxReconnects
	if maxReconnects == 0 {
		maxReconnects = defaultMaxReconnects
	}
	return []comms.Option{
		comms.Name(p.Name),
		comms.Timeout(connectTimeout),
		comms.ReconnectWait(wait),
		comms.MaxReconnects(maxReconnects),
		comms.DisconnectErrHandler(disconnectHandler(p.Pending)),
		comms.ReconnectHandler(reconnectHandler(p.Pending)),
		comms.ClosedHandler(closedHandler(p.Pending)),
	}
}

// Connect creates a COMMS connection for a node whose in-flight completions are reported by params.Pending.
func Connect(params ConnectParams) (*comms.Conn, error) {
	slog.Info(fmt.Sprintf("%s - Connecting to COMMS at %s as %s", logPrefix, params.URL, params.Name))

	nc, err := comms.Connect(params.URL, params.options()...)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to connect to COMMS: %w", logPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Connected to COMMS at %s", logPrefix, nc.ConnectedUrl()))
	return nc, nil
}

func pendingCount(pending func() int64) int64 {
	if pending == nil {
		return 0
	}
	return pending()
}

func disconnectHandler(pending func() int64) comms.ConnErrHandler {
	return func(_ *comms.Conn, err error) {
		n := pendingCount(pending)
		if n > 0 {
			slog.Warn(fmt.Sprintf("%s - COMMS disconnected with %d completions pending: %v", logPrefix, n, err))
			return
		}
		slog.Warn(fmt.Sprintf("%s - COMMS disconnected: %v", logPrefix, err))
	}
}

func reconnectHandler(pending func() int64) comms.ConnHandler {
	return func(nc *comms.Conn) {
		slog.Info(fmt.Sprintf("%s - COMMS reconnected to %s, %d completions pending", logPrefix, nc.ConnectedUrl(), pendingCount(pending)))
	}
}

func closedHandler(pending func() int64) comms.ConnHandler {
	return func(_ *comms.Conn) {
		if n := pendingCount(pending); n > 0 {
			slog.Warn(fmt.Sprintf("%s - COMMS connection closed with %d completions pending", logPrefix, n))
			return
		}
		slog.Info(fmt.Sprintf("%s - COMMS connection closed", logPrefix))
	}
}
