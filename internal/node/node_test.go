package node

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"
	comms "github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/morezero/completion-registry/internal/config"
	"github.com/morezero/completion-registry/pkg/client"
	"github.com/morezero/completion-registry/pkg/completion"
)

const nodeTestPrefix = "node:node_test"

func testConfig() *config.Config {
	return &config.Config{
		COMMSName:          "nodetest",
		SubjectPrefix:      "rpc",
		ProtocolVersion:    "1.0.0",
		ProtocolConstraint: "^1.0.0",
		RequestTimeout:     5 * time.Second,
		PumpWorkers:        2,
		QueueCapacity:      64,
		BacklogThreshold:   512,
		StatsInterval:      time.Hour,
		HTTPPort:           8080,
		LogLevel:           "info",
	}
}

func startComms(t *testing.T, port int) *comms.Conn {
	t.Helper()
	ns, err := commsserver.NewServer(&commsserver.Options{
		Host:   "127.0.0.1",
		Port:   port,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		t.Fatalf("%s - failed to create NATS server: %v", nodeTestPrefix, err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatalf("%s - NATS server failed to start", nodeTestPrefix)
	}
	nc, err := comms.Connect(ns.ClientURL(), comms.Timeout(5*time.Second))
	if err != nil {
		ns.Shutdown()
		t.Fatalf("%s - failed to connect: %v", nodeTestPrefix, err)
	}
	t.Cleanup(func() {
		nc.Close()
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return nc
}

func TestCore_StartStop(t *testing.T) {
	core := NewCore(testConfig())
	core.Start()

	done := make(chan bool, 1)
	bctx := completion.NewBatchContext("noop")
	core.Registry.RegisterBatchCompletion(bctx, func(success bool, _ *completion.BatchContext) {
		done <- success
	})
	require.Equal(t, int64(1), core.Env.DebugStats().PendingBatchCompletions.Count())
	require.NoError(t, core.Queue.Post(bctx.Handle(), true))

	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatalf("%s - completion not delivered", nodeTestPrefix)
	}

	require.NoError(t, core.Stop(5*time.Second))
	assert.Equal(t, int64(0), core.Env.DebugStats().PendingBatchCompletions.Count())
	assert.Equal(t, 0, core.Registry.Len())
	assert.Equal(t, int64(1), core.Pump.Dispatched())
}

func TestCore_StopWithoutStart(t *testing.T) {
	core := NewCore(testConfig())
	if err := core.Stop(time.Second); err != nil {
		t.Fatalf("%s - Stop without Start should succeed: %v", nodeTestPrefix, err)
	}
}

func TestNode_EchoAndStats(t *testing.T) {
	nc := startComms(t, 14280)
	cfg := testConfig()

	n, err := New(context.Background(), cfg, NewCore(cfg), nc)
	require.NoError(t, err)
	require.NoError(t, n.Start())

	c, err := client.NewClient(client.NewClientParams{
		Conn:       nc,
		Registry:   n.core.Registry,
		Queue:      n.core.Queue,
		Service:    cfg.COMMSName,
		Constraint: cfg.ProtocolConstraint,
		Timeout:    5 * time.Second,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	out, err := c.Call(ctx, "echo", []byte(`"hello"`))
	require.NoError(t, err)
	assert.JSONEq(t, `"hello"`, string(out))

	out, err = c.Call(ctx, "stats", nil)
	require.NoError(t, err)
	var stats Stats
	require.NoError(t, json.Unmarshal(out, &stats))
	assert.Equal(t, cfg.COMMSName, stats.Service)
	assert.GreaterOrEqual(t, stats.Dispatched, int64(1))

	c.Close()
	require.NoError(t, n.Shutdown(context.Background()))
	assert.Equal(t, int64(0), n.core.Env.DebugStats().PendingBatchCompletions.Count())
	assert.Equal(t, 0, n.core.Registry.Len())
}

func TestNode_HTTPEndpoints(t *testing.T) {
	nc := startComms(t, 14281)
	cfg := testConfig()
	n, err := New(context.Background(), cfg, NewCore(cfg), nc)
	require.NoError(t, err)
	require.NoError(t, n.Start())
	defer n.Shutdown(context.Background())

	handler := n.mux()

	tests := []struct {
		path string
		code int
		key  string
		want interface{}
	}{
		{path: "/health", code: http.StatusOK, key: "status", want: "healthy"},
		{path: "/ready", code: http.StatusOK, key: "status", want: "ready"},
		{path: "/stats", code: http.StatusOK, key: "service", want: "nodetest"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.code {
				t.Fatalf("%s - %s: expected %d, got %d", nodeTestPrefix, tt.path, tt.code, rec.Code)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("%s - %s: expected application/json, got %q", nodeTestPrefix, tt.path, ct)
			}
			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.want, body[tt.key])
		})
	}
}

func TestHandleHealth_Unhealthy(t *testing.T) {
	cfg := testConfig()
	cfg.BacklogThreshold = 1
	n := &Node{cfg: cfg, core: NewCore(cfg)}

	n.core.Env.DebugStats().PendingBatchCompletions.Increment()
	n.core.Env.DebugStats().PendingBatchCompletions.Increment()

	rec := httptest.NewRecorder()
	n.handleHealth()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("%s - expected 503, got %d", nodeTestPrefix, rec.Code)
	}
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "unhealthy", body["status"])
	assert.Equal(t, false, body["comms"])
	assert.Equal(t, true, body["backlog"])
	assert.Equal(t, float64(2), body["pending"])
}

func TestNew_InvalidConstraint(t *testing.T) {
	nc := startComms(t, 14282)
	cfg := testConfig()
	cfg.ProtocolConstraint = "not-a-constraint"

	if _, err := New(context.Background(), cfg, NewCore(cfg), nc); err == nil {
		t.Fatalf("%s - expected error for invalid constraint", nodeTestPrefix)
	}
}

func TestSetupLogging(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "bogus"} {
		SetupLogging(level)
	}
	SetupLogging("info")
}

func TestConnectParams_ReportsCorePending(t *testing.T) {
	cfg := testConfig()
	cfg.COMMSURL = "nats://127.0.0.1:4222"
	cfg.COMMSReconnectWait = 3 * time.Second
	cfg.COMMSMaxReconnects = -1
	core := NewCore(cfg)

	params := ConnectParams(cfg, "nodetest-call", core)
	assert.Equal(t, cfg.COMMSURL, params.URL)
	assert.Equal(t, "nodetest-call", params.Name)
	assert.Equal(t, 3*time.Second, params.ReconnectWait)
	assert.Equal(t, -1, params.MaxReconnects)

	require.NotNil(t, params.Pending)
	assert.Equal(t, int64(0), params.Pending())
	core.Registry.RegisterBatchCompletion(completion.NewBatchContext("noop"), func(bool, *completion.BatchContext) {})
	assert.Equal(t, int64(1), params.Pending())
}
