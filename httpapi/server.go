package httpapi

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/meshfabric/agentmesh/auth"
	"github.com/meshfabric/agentmesh/collective"
	"github.com/meshfabric/agentmesh/graph"
	"github.com/meshfabric/agentmesh/mesh"
	"github.com/meshfabric/agentmesh/meshcore"
	"github.com/meshfabric/agentmesh/policy"
	"github.com/meshfabric/agentmesh/store"
	"github.com/meshfabric/agentmesh/synccoord"
	"github.com/meshfabric/agentmesh/tlsmgr"
	"github.com/meshfabric/agentmesh/workflow"
)

// Deps bundles every subsystem the server dispatches into. Every field
// is required except Telemetry and Logger (default to no-ops), CORS
// (defaults disabled) and ShutdownTimeout (defaults to 30s), matching
// the teacher's constructor-time wiring style.
type Deps struct {
	InstanceID string

	Store      store.Store
	Auth       *auth.Service
	TLS        *tlsmgr.Manager
	Registry   *mesh.Registry
	Router     *mesh.Router
	Policy     *policy.Engine
	Dispatcher *policy.Dispatcher
	Graph      *graph.Engine
	Consensus  *collective.Coordinator
	Delegation *collective.DelegationManager
	Capability *collective.CapabilityTracker
	Learning   *collective.LearningFabric
	Workflow   *workflow.Engine
	SyncCoord  *synccoord.Coordinator

	Telemetry meshcore.Telemetry
	Logger    meshcore.Logger

	AuthEnabled     bool
	CORS            CORSConfig
	Development     bool
	ShutdownTimeout time.Duration
}

// Server is the mesh node's HTTP/TLS front door.
type Server struct {
	deps   Deps
	mux    *http.ServeMux
	server *http.Server
}

// NewServer builds the route table and middleware chain but does not
// bind a socket; call Start to do that.
func NewServer(deps Deps) *Server {
	if deps.Telemetry == nil {
		deps.Telemetry = meshcore.NoOpTelemetry{}
	}
	if deps.Logger == nil {
		deps.Logger = meshcore.NoOpLogger{}
	}
	if scoped, ok := deps.Logger.(meshcore.ComponentAwareLogger); ok {
		deps.Logger = scoped.WithComponent("httpapi")
	}
	if deps.ShutdownTimeout <= 0 {
		deps.ShutdownTimeout = 30 * time.Second
	}

	s := &Server{deps: deps, mux: http.NewServeMux()}
	s.registerRoutes()
	return s
}

// Handler exposes the fully wrapped handler for tests that want to
// drive the server with httptest.NewServer/NewTLSServer directly.
func (s *Server) Handler() http.Handler {
	// Order (outermost to innermost): tracing -> CORS -> auth -> logging
	// -> recovery -> mux, with recovery innermost per the teacher's
	// core/agent.go ordering.
	var h http.Handler = s.mux
	h = recoveryMiddleware(s.deps.Logger)(h)
	h = loggingMiddleware(s.deps.Logger, s.deps.Development)(h)
	h = s.authForRoute(h)
	h = corsMiddleware(s.deps.CORS)(h)
	h = tracingMiddleware(s.deps.Telemetry)(h)
	return h
}

// authForRoute skips the bearer check for the public routes (health,
// cert, auth/token, auth/hash) and enforces it on everything else.
func (s *Server) authForRoute(next http.Handler) http.Handler {
	protect := authMiddleware(s.deps.Auth, s.deps.AuthEnabled)(next)
	public := map[string]bool{"/health": true, "/cert": true, "/auth/token": true, "/auth/hash": true}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if public[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}
		protect.ServeHTTP(w, r)
	})
}

func (s *Server) registerRoutes() {
	// Public routes
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /cert", s.handleCert)
	s.mux.HandleFunc("POST /auth/token", s.handleAuthToken)
	s.mux.HandleFunc("POST /auth/hash", s.handleAuthHash)

	// Agent/task surface
	s.mux.HandleFunc("GET /agents", s.handleAgents)
	s.mux.HandleFunc("POST /query", s.handleQuery)
	s.mux.HandleFunc("POST /stream", s.handleStream)
	s.mux.HandleFunc("POST /api/search", s.handleSearch)
	s.mux.HandleFunc("POST /bootstrap", s.handleBootstrap)

	// Registry
	s.mux.HandleFunc("POST /registry/register", s.handleRegister)
	s.mux.HandleFunc("GET /registry/agents", s.handleRegistryAgents)
	s.mux.HandleFunc("POST /registry/heartbeat/{id}", s.handleHeartbeat)
	s.mux.HandleFunc("DELETE /registry/deregister/{id}", s.handleDeregister)

	// Messages
	s.mux.HandleFunc("POST /messages/send/{src}", s.handleMessageSend)
	s.mux.HandleFunc("GET /messages/{id}", s.handleMessageGet)
	s.mux.HandleFunc("POST /messages/ack/{id}", s.handleMessageAck)

	// Sync
	s.mux.HandleFunc("POST /sync/request", s.handleSyncRequest)
	s.mux.HandleFunc("POST /sync/apply", s.handleSyncApply)
	s.mux.HandleFunc("GET /sync/status/{session}/{graph}", s.handleSyncStatus)
	s.mux.HandleFunc("POST /sync/enable/{session}/{graph}", s.handleSyncEnable)
	s.mux.HandleFunc("GET /sync/configs/{session}", s.handleSyncConfigs)
	s.mux.HandleFunc("POST /sync/bulk/{session}", s.handleSyncBulk)
	s.mux.HandleFunc("POST /sync/configure/{session}/{graph}", s.handleSyncConfigure)
	s.mux.HandleFunc("GET /sync/conflicts", s.handleSyncConflicts)

	// Graph
	s.mux.HandleFunc("GET /graph/nodes", s.handleListNodes)
	s.mux.HandleFunc("POST /graph/nodes", s.handleCreateNode)
	s.mux.HandleFunc("GET /graph/nodes/{id}", s.handleGetNode)
	s.mux.HandleFunc("PUT /graph/nodes/{id}", s.handleUpdateNode)
	s.mux.HandleFunc("DELETE /graph/nodes/{id}", s.handleDeleteNode)
	s.mux.HandleFunc("GET /graph/edges", s.handleListEdges)
	s.mux.HandleFunc("POST /graph/edges", s.handleCreateEdge)
	s.mux.HandleFunc("DELETE /graph/edges/{id}", s.handleDeleteEdge)
	s.mux.HandleFunc("GET /graph/stream", s.handleGraphStream)
}

// Start binds the TLS listener and blocks until Shutdown is called or
// the server fails. hostAddr is "host:port".
func (s *Server) Start(hostAddr string) error {
	cert, err := s.deps.TLS.TLSCertificate()
	if err != nil {
		return fmt.Errorf("httpapi: load TLS certificate: %w", err)
	}

	s.server = &http.Server{
		Addr:      hostAddr,
		Handler:   s.Handler(),
		TLSConfig: &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12},
	}

	s.deps.Logger.Info("starting http server", map[string]interface{}{"addr": hostAddr})
	if err := s.server.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests with the configured timeout
// (default 30s).
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.deps.ShutdownTimeout)
	defer cancel()
	return s.server.Shutdown(ctx)
}
