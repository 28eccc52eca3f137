// Command meshnode runs one mesh node: the HTTP/TLS front door plus
// every collective-coordination subsystem wired together, grounded on
// the teacher's examples/weather-tool-v2/main.go signal
// handling and fatal-init-then-os.Exit convention.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/meshfabric/agentmesh/auth"
	"github.com/meshfabric/agentmesh/collective"
	"github.com/meshfabric/agentmesh/graph"
	"github.com/meshfabric/agentmesh/httpapi"
	"github.com/meshfabric/agentmesh/mesh"
	"github.com/meshfabric/agentmesh/meshcore"
	"github.com/meshfabric/agentmesh/policy"
	"github.com/meshfabric/agentmesh/store"
	"github.com/meshfabric/agentmesh/synccoord"
	"github.com/meshfabric/agentmesh/telemetry"
	"github.com/meshfabric/agentmesh/tlsmgr"
	"github.com/meshfabric/agentmesh/workflow"
)

// Exit codes: 0 normal, non-zero on fatal init failure
// (TLS material missing/corrupt, port bind error, persistence open
// error). We don't distinguish further than that; stderr carries the
// reason.
const exitInitFailure = 1

func main() {
	cfg, err := meshcore.NewConfig(
		meshcore.WithSigningKey(signingKeyFromEnv()),
	)
	if err != nil {
		log.Printf("meshnode: configuration error: %v", err)
		os.Exit(exitInitFailure)
	}
	logger := cfg.Logger()

	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}
	if cfg.Hostname == "" {
		if h, err := os.Hostname(); err == nil {
			cfg.Hostname = h
		} else {
			cfg.Hostname = "localhost"
		}
	}

	tlsDir, err := tlsDirectory()
	if err != nil {
		logger.Error("resolving TLS directory", map[string]interface{}{"error": err.Error()})
		os.Exit(exitInitFailure)
	}
	tlsMgr := tlsmgr.NewManager(logger)
	if tlsmgr.Exists(tlsDir) {
		if err := tlsMgr.Load(tlsDir); err != nil {
			logger.Error("loading TLS material", map[string]interface{}{"error": err.Error(), "dir": tlsDir})
			os.Exit(exitInitFailure)
		}
	} else {
		if err := tlsMgr.Generate(cfg.Hostname, cfg.TLS.ExtraSANs, cfg.TLS.ValidityDays); err != nil {
			logger.Error("generating TLS material", map[string]interface{}{"error": err.Error()})
			os.Exit(exitInitFailure)
		}
		if err := tlsMgr.Save(tlsDir); err != nil {
			logger.Error("persisting TLS material", map[string]interface{}{"error": err.Error(), "dir": tlsDir})
			os.Exit(exitInitFailure)
		}
	}

	st := store.NewMemStore()

	resolver := graph.NewResolver()
	graphEngine := graph.NewEngine(st, resolver, logger)

	registry := mesh.NewRegistry(cfg.Discovery.StaleTimeout, cfg.Discovery.SweepInterval, logger)
	router := mesh.NewRouter(registry, logger)
	registry.Register(mesh.Instance{InstanceID: cfg.InstanceID, Hostname: cfg.Hostname, Port: cfg.Port})

	rules, err := policy.LoadRulesFile(os.Getenv("GOMESH_POLICY_FILE"))
	if err != nil {
		logger.Error("loading policy rules", map[string]interface{}{"error": err.Error()})
		os.Exit(exitInitFailure)
	}
	policyEngine := policy.NewEngine(rules)
	dispatcher := policy.NewDispatcher(st, logger)

	authSvc := auth.NewService(st, []byte(cfg.Auth.SigningKey), cfg.Auth.PBKDF2Iterations, cfg.Auth.TokenTTL)

	capability := collective.NewCapabilityTracker(cfg.InstanceID)
	learning := collective.NewLearningFabric()
	consensus := collective.NewCoordinator(meshcore.SystemClock{})
	delegation := collective.NewDelegationManager(meshcore.SystemClock{})

	workflowEngine := workflow.NewEngine(5)
	if dir := os.Getenv("GOMESH_WORKFLOW_DIR"); dir != "" {
		defs, loadErrs := workflow.LoadDefinitionsDir(dir)
		for _, loadErr := range loadErrs {
			logger.Warn("skipping malformed workflow definition", map[string]interface{}{"error": loadErr.Error()})
		}
		for _, def := range defs {
			if err := workflowEngine.RegisterWorkflow(def); err != nil {
				logger.Warn("rejecting workflow definition", map[string]interface{}{"workflow": def.Name, "error": err.Error()})
			}
		}
	}

	otel, err := telemetry.NewOTelProvider("meshnode")
	if err != nil {
		logger.Warn("telemetry disabled: failed to initialize OTel provider", map[string]interface{}{"error": err.Error()})
	}
	var tel meshcore.Telemetry = meshcore.NoOpTelemetry{}
	if otel != nil {
		tel = otel
	}

	namespaces := synccoord.NewStoreNamespaceSource(st)
	dialer := synccoord.NewHTTPDialer(cfg.InstanceID, cfg.Namespace, "")
	dialer.Logger = logger
	dialer.CircuitBreaker = meshcore.CircuitBreakerConfig{
		FailureThreshold: cfg.Resilience.CircuitBreakerThreshold,
		SleepWindow:      cfg.Resilience.CircuitBreakerTimeout,
		HalfOpenRequests: cfg.Resilience.CircuitBreakerHalfOpenMax,
	}
	syncCoord := synccoord.NewCoordinator(cfg.InstanceID, namespaces, registry, dialer, graphEngine, synccoord.Config{
		SyncIntervalSecs:   int(cfg.SyncPolicy.Interval.Seconds()),
		MaxConcurrentSyncs: cfg.SyncPolicy.MaxConcurrentSyncs,
		RetryIntervalSecs:  int(cfg.SyncPolicy.RetryInterval.Seconds()),
		MaxRetries:         cfg.SyncPolicy.MaxRetries,
	}, logger)

	server := httpapi.NewServer(httpapi.Deps{
		InstanceID:  cfg.InstanceID,
		Store:       st,
		Auth:        authSvc,
		TLS:         tlsMgr,
		Registry:    registry,
		Router:      router,
		Policy:      policyEngine,
		Dispatcher:  dispatcher,
		Graph:       graphEngine,
		Consensus:   consensus,
		Delegation:  delegation,
		Capability:  capability,
		Learning:    learning,
		Workflow:    workflowEngine,
		SyncCoord:   syncCoord,
		Telemetry:   tel,
		Logger:      logger,
		AuthEnabled: cfg.Auth.Enabled,
		CORS: httpapi.CORSConfig{
			Enabled:        cfg.HTTP.CORS.Enabled,
			AllowedOrigins: cfg.HTTP.CORS.AllowedOrigins,
			AllowedMethods: cfg.HTTP.CORS.AllowedMethods,
			AllowedHeaders: cfg.HTTP.CORS.AllowedHeaders,
		},
		Development:     cfg.Dev.Enabled,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
	})

	go registry.RunSweep()
	go syncCoord.Run(context.Background())

	serveErrCh := make(chan error, 1)
	go func() {
		serveErrCh <- server.Start(fmt.Sprintf(":%d", cfg.Port))
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serveErrCh:
		if err != nil {
			logger.Error("http server failed", map[string]interface{}{"error": err.Error()})
			os.Exit(exitInitFailure)
		}
	case <-sigCh:
		logger.Info("shutting down", nil)
		registry.Stop()
		syncCoord.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("error during shutdown", map[string]interface{}{"error": err.Error()})
		}
		if otel != nil {
			if err := otel.Shutdown(shutdownCtx); err != nil {
				logger.Warn("error shutting down telemetry", map[string]interface{}{"error": err.Error()})
			}
		}
	}
}

func signingKeyFromEnv() string {
	if k := os.Getenv("GOMESH_AUTH_SIGNING_KEY"); k != "" {
		return k
	}
	return uuid.NewString()
}

func tlsDirectory() (string, error) {
	if dir := os.Getenv("GOMESH_TLS_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".spec-ai", "tls"), nil
}
