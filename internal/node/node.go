// Package node orchestrates all components: completion core, NATS server, backlog monitor, HTTP health.
package node

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/completion-registry/internal/config"
	"github.com/morezero/completion-registry/pkg/monitor"
	"github.com/morezero/completion-registry/pkg/server"
	"github.com/morezero/completion-registry/pkg/statsdb"
	"github.com/morezero/completion-registry/pkg/wire"
)

const logPrefix = "node:node"

const shutdownTimeout = 10 * time.Second

// Node is the rpcnode orchestrator.
type Node struct {
	cfg     *config.Config
	nc      *comms.Conn
	pool    *pgxpool.Pool
	core    *Core
	srv     *server.Server
	monitor *monitor.Monitor
	http    *http.Server

	cancel    context.CancelFunc
	serveDone chan error
	monDone   chan struct{}
}

// Run starts the node, blocks until shutdown signal, then cleans up.
func Run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", logPrefix, err)
	}
	if err := cfg.ValidateForServe(); err != nil {
		return err
	}
	SetupLogging(cfg.LogLevel)

	slog.Info(fmt.Sprintf("%s - Starting %s", logPrefix, cfg.COMMSName))

	core := NewCore(cfg)
	nc, err := wire.Connect(ConnectParams(cfg, cfg.COMMSName, core))
	if err != nil {
		return fmt.Errorf("%s - failed to connect to NATS: %w", logPrefix, err)
	}
	slog.Info(fmt.Sprintf("%s - Connected to NATS at %s", logPrefix, cfg.COMMSURL))

	ctx := context.Background()
	n, err := New(ctx, cfg, core, nc)
	if err != nil {
		nc.Close()
		return err
	}
	if err := n.Start(); err != nil {
		n.Shutdown(ctx)
		nc.Close()
		return err
	}

	httpAddr := fmt.Sprintf(":%d", cfg.HTTPPort)
	n.http = &http.Server{Addr: httpAddr, Handler: n.mux()}
	go func() {
		slog.Info(fmt.Sprintf("%s - HTTP health server listening on %s", logPrefix, httpAddr))
		if err := n.http.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error(fmt.Sprintf("%s - HTTP server error: %v", logPrefix, err))
		}
	}()

	slog.Info(fmt.Sprintf("%s - %s is ready", logPrefix, cfg.COMMSName))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info(fmt.Sprintf("%s - Received signal %s, shutting down", logPrefix, sig))

	err = n.Shutdown(ctx)
	nc.Drain()

	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
	return err
}

// SetupLogging installs a text slog handler on stdout at the given level.
func SetupLogging(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

// ConnectParams builds COMMS connection settings that report core's pending completions.
func ConnectParams(cfg *config.Config, name string, core *Core) wire.ConnectParams {
	return wire.ConnectParams{
		URL:           cfg.COMMSURL,
		Name:          name,
		ReconnectWait: cfg.COMMSReconnectWait,
		MaxReconnects: cfg.COMMSMaxReconnects,
		Pending:       core.Env.DebugStats().PendingBatchCompletions.Count,
	}
}

// New wires the node around core on an existing connection. When
// cfg.DatabaseURL is set, samples are also persisted through statsdb.
func New(ctx context.Context, cfg *config.Config, core *Core, nc *comms.Conn) (*Node, error) {
	n := &Node{cfg: cfg, nc: nc, core: core}

	srv, err := server.NewServer(server.NewServerParams{
		Conn:          nc,
		Registry:      n.core.Registry,
		Queue:         n.core.Queue,
		Service:       cfg.COMMSName,
		SubjectPrefix: cfg.SubjectPrefix,
		Version:       cfg.ProtocolVersion,
		Constraint:    cfg.ProtocolConstraint,
		Timeout:       cfg.RequestTimeout,
		MaxBacklog:    cfg.QueueCapacity,
	})
	if err != nil {
		return nil, err
	}
	n.srv = srv

	subject := cfg.StatsSubject
	if subject == "" {
		subject = wire.BuildStatsSubject(cfg.SubjectPrefix, cfg.COMMSName)
	}
	recorders := monitor.MultiRecorder{monitor.NewCommsRecorder(nc, subject)}

	if cfg.DatabaseURL != "" {
		pool, err := statsdb.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("%s - failed to connect to database: %w", logPrefix, err)
		}
		if err := statsdb.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("%s - failed to ensure schema: %w", logPrefix, err)
		}
		n.pool = pool
		recorders = append(recorders, statsdb.NewRepository(pool))
	}

	n.monitor = monitor.NewMonitor(monitor.NewMonitorParams{
		Env:       n.core.Env,
		Service:   cfg.COMMSName,
		Recorder:  recorders,
		Interval:  cfg.StatsInterval,
		Threshold: cfg.BacklogThreshold,
	})
	return n, nil
}

// Handlers returns the methods every node serves: echo returns its payload,
// stats returns the node's Stats as JSON.
func (n *Node) Handlers() *server.Mux {
	mux := server.NewMux()
	mux.Handle("echo", func(_ context.Context, _ string, payload []byte) ([]byte, error) {
		return payload, nil
	})
	mux.Handle("stats", func(_ context.Context, _ string, _ []byte) ([]byte, error) {
		return json.Marshal(n.Stats())
	})
	return mux
}

// Start runs the pump, subscribes the server, and starts serving and sampling.
func (n *Node) Start() error {
	n.core.Start()
	if err := n.srv.Start(); err != nil {
		return fmt.Errorf("%s - failed to start server: %w", logPrefix, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel
	n.serveDone = make(chan error, 1)
	n.monDone = make(chan struct{})
	go func() { n.serveDone <- n.srv.Serve(ctx, n.Handlers()) }()
	go func() {
		defer close(n.monDone)
		n.monitor.Run(ctx)
	}()
	return nil
}

// Shutdown stops serving, completes outstanding acceptances, drains the pump,
// and releases the environment. The NATS connection is left to the caller.
func (n *Node) Shutdown(ctx context.Context) error {
	var errs []error
	n.srv.Shutdown()
	if n.cancel != nil {
		n.cancel()
		if err := <-n.serveDone; err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, server.ErrShutdown) {
			errs = append(errs, err)
		}
		<-n.monDone
	}
	if err := n.core.Stop(shutdownTimeout); err != nil {
		errs = append(errs, err)
	}
	if n.http != nil {
		if err := n.http.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if n.pool != nil {
		n.pool.Close()
	}
	return errors.Join(errs...)
}
