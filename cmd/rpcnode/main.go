// Package main is the entrypoint for rpcnode.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/morezero/completion-registry/internal/config"
	"github.com/morezero/completion-registry/internal/node"
	"github.com/morezero/completion-registry/pkg/client"
	"github.com/morezero/completion-registry/pkg/statsdb"
	"github.com/morezero/completion-registry/pkg/wire"
)

const usage = `Usage: rpcnode [command]
       rpcnode serve                    Start the node (NATS server, completion pump, HTTP health).
       rpcnode call <method> [payload]  Call a method on SERVICE_NAME and print the reply.
       rpcnode migrate                  Create the completion_samples table.
       rpcnode ensure-db                Create the DATABASE_URL database if missing.
       rpcnode clear                    Delete all stored backlog samples; schema is preserved.

Commands:
  serve      (default) Start the node.
  call       Issue one call through the completion registry and wait for the reply.
  migrate    Create sample storage only (does not start the node).
  ensure-db  Create the database on the same host as DATABASE_URL.
  clear      Truncate stored samples.

Environment: COMMS_URL, COMMS_RECONNECT_WAIT, COMMS_MAX_RECONNECTS, SERVICE_NAME,
SUBJECT_PREFIX, REQUEST_TIMEOUT, PUMP_WORKERS, QUEUE_CAPACITY, BACKLOG_THRESHOLD,
STATS_INTERVAL, STATS_SUBJECT, DATABASE_URL (migrate, ensure-db, clear; optional for serve),
HTTP_PORT, LOG_LEVEL. See README.
`

func main() {
	args := os.Args[1:]
	cmd := ""
	if len(args) > 0 && args[0] != "" {
		cmd = args[0]
	}

	switch cmd {
	case "call":
		if len(args) < 2 {
			log.Fatalf("rpcnode call: require method")
		}
		payload := ""
		if len(args) > 2 {
			payload = args[2]
		}
		if err := runCall(args[1], payload); err != nil {
			log.Fatalf("rpcnode call: %v", err)
		}
		return
	case "migrate":
		if err := runMigrate(); err != nil {
			log.Fatalf("rpcnode migrate: %v", err)
		}
		return
	case "ensure-db":
		if err := runEnsureDB(); err != nil {
			log.Fatalf("rpcnode ensure-db: %v", err)
		}
		return
	case "clear":
		if err := runClear(); err != nil {
			log.Fatalf("rpcnode clear: %v", err)
		}
		return
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	case "serve", "":
		// serve (explicit or default)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q.\n%s", cmd, usage)
		os.Exit(1)
	}

	if err := node.Run(); err != nil {
		log.Fatalf("rpcnode: %v", err)
	}
}

func runCall(method, payload string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForCall(); err != nil {
		return err
	}
	node.SetupLogging(cfg.LogLevel)

	core := node.NewCore(cfg)
	nc, err := wire.Connect(node.ConnectParams(cfg, cfg.COMMSName+"-call", core))
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer nc.Close()

	core.Start()

	c, err := client.NewClient(client.NewClientParams{
		Conn:          nc,
		Registry:      core.Registry,
		Queue:         core.Queue,
		Service:       cfg.COMMSName,
		SubjectPrefix: cfg.SubjectPrefix,
		Version:       cfg.ProtocolVersion,
		Constraint:    cfg.ProtocolConstraint,
		Timeout:       cfg.RequestTimeout,
	})
	if err != nil {
		core.Stop(cfg.RequestTimeout)
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
	defer cancel()
	out, callErr := c.Call(ctx, method, []byte(payload))
	c.Close()
	if err := core.Stop(cfg.RequestTimeout); err != nil {
		return err
	}
	if callErr != nil {
		return callErr
	}
	fmt.Println(string(out))
	return nil
}

func runMigrate() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := statsdb.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	return statsdb.EnsureSchema(ctx, pool)
}

func runEnsureDB() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	return statsdb.EnsureDatabase(context.Background(), cfg.DatabaseURL)
}

func runClear() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := statsdb.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	if err := statsdb.NewRepository(pool).Clear(ctx); err != nil {
		return fmt.Errorf("clear samples: %w", err)
	}
	return nil
}
