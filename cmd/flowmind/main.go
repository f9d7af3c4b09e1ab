// Command flowmind runs the orchestrator dashboard process: it loads
// configuration, connects to one or more gateways, builds the agent
// registry, and serves the dashboard's HTTP + SSE API.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/flowmind/orchestrator/cache"
	"github.com/flowmind/orchestrator/core"
	"github.com/flowmind/orchestrator/dashboard"
	"github.com/flowmind/orchestrator/gateway"
	"github.com/flowmind/orchestrator/orchestrator"
	"github.com/flowmind/orchestrator/ratelimit"
	"github.com/flowmind/orchestrator/registry"
	"github.com/flowmind/orchestrator/runstore"
	"github.com/flowmind/orchestrator/telemetry"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	logger := core.NewStandardLogger()

	cfg, err := core.NewConfig(*configPath, core.WithLogger(logger))
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	identity, err := gateway.LoadOrCreateDeviceIdentity(cfg.DeviceIdentityPath)
	if err != nil {
		log.Fatalf("loading device identity: %v", err)
	}
	logger.Info("device identity ready", map[string]interface{}{"deviceId": identity.DeviceID})

	gwRegistry := buildGatewayRegistry(cfg, identity, logger)

	taskCache := cache.New(cache.DefaultOptions())
	limiter := ratelimit.New(ratelimit.DefaultOptions(), logger)
	defer limiter.Stop()

	agentRegistry := registry.New(30*time.Second, logger)
	primaryThinker := registerGatewayAgents(context.Background(), gwRegistry, agentRegistry, taskCache, limiter, logger)
	if primaryThinker == nil {
		log.Fatal("no gateway available to drive the orchestrator loop")
	}

	store := buildRunStore(cfg, logger)

	telemetryProvider, err := telemetry.New("flowmind", os.Stdout)
	if err != nil {
		log.Fatalf("building telemetry provider: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetryProvider.Shutdown(ctx); err != nil {
			logger.Warn("telemetry shutdown failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	loop := orchestrator.NewLoop(primaryThinker, agentRegistry, logger,
		orchestrator.WithTelemetry(telemetryProvider.Tracer(), telemetryProvider.Meter()))
	opts := orchestrator.Options{
		MaxConcurrency:   cfg.MaxConcurrency,
		MaxSteps:         cfg.MaxSteps,
		OutputTruncation: cfg.OutputTruncation,
	}

	gatewayConns := gwRegistry.All()
	gatewayNames := make([]string, len(gatewayConns))
	for i, c := range gatewayConns {
		gatewayNames[i] = c.Name()
	}

	server := dashboard.NewServer(store, agentRegistry, loop, opts, logger, gatewayNames)

	httpServer := &http.Server{Addr: cfg.DashboardAddr, Handler: server.Handler()}

	go func() {
		logger.Info("dashboard listening", map[string]interface{}{"addr": cfg.DashboardAddr})
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("dashboard server: %v", err)
		}
	}()

	waitForShutdown(httpServer, logger)
}

// buildGatewayRegistry constructs one GatewayClient per configured
// gateway entry (spec §4.5). A deployment with no gateways configured
// falls back to a single "default" entry read from GATEWAY_URL /
// GATEWAY_TOKEN, matching how single-gateway setups are expected to run
// without a config file.
func buildGatewayRegistry(cfg *core.Config, identity *gateway.DeviceIdentity, logger core.Logger) *gateway.Registry {
	entries := cfg.Gateways
	if len(entries) == 0 {
		if url := os.Getenv("GATEWAY_URL"); url != "" {
			entries = []core.GatewayEntry{{Name: "default", URL: url, Token: os.Getenv("GATEWAY_TOKEN")}}
		}
	}

	reg := gateway.NewRegistry(logger)
	for _, e := range entries {
		client := gateway.NewGatewayClient(gateway.GatewayConfig{Name: e.Name, URL: e.URL, Token: e.Token}, identity, logger)
		reg.Add(client)
	}
	return reg
}

// registerGatewayAgents connects to the preferred (first) gateway,
// discovers its agents, and registers a GatewayAdapter per discovered
// agent plus one named after the gateway itself so routing can target
// either a specific sub-agent or the gateway's default chat. It returns
// that gateway's client to use as the orchestrator's Thinker.
func registerGatewayAgents(ctx context.Context, gwRegistry *gateway.Registry, agentRegistry *registry.Registry, taskCache *cache.Cache, limiter *ratelimit.Limiter, logger core.Logger) *gateway.GatewayClient {
	conn, err := gwRegistry.Pick(ctx, "")
	if err != nil {
		logger.Error("failed to connect to any gateway", map[string]interface{}{"error": err.Error()})
		return nil
	}

	client, ok := conn.(*gateway.GatewayClient)
	if !ok {
		logger.Error("gateway registry returned a non-GatewayClient connector", nil)
		return nil
	}

	defaultAdapter := wrapWithCacheAndLimiter(gateway.NewGatewayAdapter(client.Name(), client), taskCache, limiter)
	if err := agentRegistry.Add(defaultAdapter); err != nil {
		logger.Warn("failed to register gateway as default adapter", map[string]interface{}{"error": err.Error()})
	}

	discovered, err := client.DiscoverAgents(ctx)
	if err != nil {
		logger.Warn("agent discovery failed, continuing with gateway-only routing", map[string]interface{}{"error": err.Error()})
		return client
	}

	for _, d := range discovered {
		adapter := wrapWithCacheAndLimiter(gateway.NewGatewayAdapterFromDiscovery(client, d), taskCache, limiter)
		if err := agentRegistry.Add(adapter); err != nil {
			logger.Warn("failed to register discovered agent", map[string]interface{}{"agent": d.Name, "error": err.Error()})
		}
	}

	return client
}

// buildRunStore uses Redis when cfg.RedisURL is set, else the bounded
// in-memory store.
func buildRunStore(cfg *core.Config, logger core.Logger) runstore.RunStore {
	if cfg.RedisURL == "" {
		return runstore.NewInMemoryStore(cfg.MaxRuns)
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Error("invalid redis url, falling back to in-memory run store", map[string]interface{}{"error": err.Error()})
		return runstore.NewInMemoryStore(cfg.MaxRuns)
	}

	client := redis.NewClient(opt)
	return runstore.NewRedisStore(client, "flowmind:", cfg.MaxRuns)
}

func waitForShutdown(httpServer *http.Server, logger core.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", map[string]interface{}{"error": err.Error()})
	}
}
