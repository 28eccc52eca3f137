package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/meshfabric/agentmesh/auth"
	"github.com/meshfabric/agentmesh/collective"
	"github.com/meshfabric/agentmesh/graph"
	"github.com/meshfabric/agentmesh/mesh"
	"github.com/meshfabric/agentmesh/meshcore"
	"github.com/meshfabric/agentmesh/policy"
	"github.com/meshfabric/agentmesh/store"
	"github.com/meshfabric/agentmesh/tlsmgr"
	"github.com/meshfabric/agentmesh/workflow"
)

type echoTool struct{}

func (echoTool) Name() string { return "echo" }
func (echoTool) Execute(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	return args, nil
}

func newTestServer(t *testing.T, authEnabled bool) (*Server, *store.MemStore) {
	t.Helper()
	st := store.NewMemStore()
	resolver := graph.NewResolver()
	ge := graph.NewEngine(st, resolver, meshcore.NoOpLogger{})
	registry := mesh.NewRegistry(time.Minute, time.Minute, meshcore.NoOpLogger{})
	registry.Register(mesh.Instance{InstanceID: "self"})
	router := mesh.NewRouter(registry, meshcore.NoOpLogger{})
	policyEngine := policy.NewEngine([]policy.Rule{{Agent: "*", Action: "*", Resource: "*", Effect: policy.Allow}})
	dispatcher := policy.NewDispatcher(st, meshcore.NoOpLogger{})
	dispatcher.Register(echoTool{})
	authSvc := auth.NewService(st, []byte("test-signing-key"), 1000, time.Hour)
	tls := tlsmgr.NewManager(meshcore.NoOpLogger{})
	if err := tls.Generate("test-host", nil, 1); err != nil {
		t.Fatalf("generate cert: %v", err)
	}

	deps := Deps{
		InstanceID:  "self",
		Store:       st,
		Auth:        authSvc,
		TLS:         tls,
		Registry:    registry,
		Router:      router,
		Policy:      policyEngine,
		Dispatcher:  dispatcher,
		Graph:       ge,
		Consensus:   collective.NewCoordinator(nil),
		Delegation:  collective.NewDelegationManager(nil),
		Capability:  collective.NewCapabilityTracker("self"),
		Learning:    collective.NewLearningFabric(),
		Workflow:    workflow.NewEngine(5),
		AuthEnabled: authEnabled,
	}
	return NewServer(deps), st
}

func TestHealthIsPublicAndUnauthenticated(t *testing.T) {
	s, _ := newTestServer(t, true)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestProtectedRouteRejectsMissingToken(t *testing.T) {
	s, _ := newTestServer(t, true)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/registry/agents")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestAuthHashThenTokenThenProtectedRoute(t *testing.T) {
	s, _ := newTestServer(t, true)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	hashBody, _ := json.Marshal(map[string]string{"username": "alice", "password": "hunter2"})
	resp, err := http.Post(srv.URL+"/auth/hash", "application/json", bytes.NewReader(hashBody))
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("hash: %v status=%v", err, resp)
	}
	resp.Body.Close()

	tokenBody, _ := json.Marshal(map[string]string{"username": "alice", "password": "hunter2"})
	resp, err = http.Post(srv.URL+"/auth/token", "application/json", bytes.NewReader(tokenBody))
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("token: %v status=%v", err, resp)
	}
	var tokenResp map[string]string
	json.NewDecoder(resp.Body).Decode(&tokenResp)
	resp.Body.Close()
	token := tokenResp["token"]
	if token == "" {
		t.Fatalf("expected a token")
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/registry/agents", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with valid token, got %d", resp.StatusCode)
	}
}

func TestAuthDisabledSkipsTokenCheck(t *testing.T) {
	s, _ := newTestServer(t, false)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/registry/agents")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with auth disabled, got %d", resp.StatusCode)
	}
}

func TestGraphNodeCreateGetDelete(t *testing.T) {
	s, _ := newTestServer(t, false)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	body, _ := json.Marshal(map[string]interface{}{
		"session_id": "s1", "node_type": "fact", "label": "widget",
	})
	resp, err := http.Post(srv.URL+"/graph/nodes", "application/json", bytes.NewReader(body))
	if err != nil || resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: %v status=%v", err, resp)
	}
	var created map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&created)
	resp.Body.Close()
	id := int64(created["id"].(float64))
	idStr := strconv.FormatInt(id, 10)

	resp, err = http.Get(srv.URL + "/graph/nodes/" + idStr + "?session=s1")
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("get: %v status=%v", err, resp)
	}
	resp.Body.Close()

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/graph/nodes/"+idStr+"?session=s1", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil || resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete: %v status=%v", err, resp)
	}
	resp.Body.Close()
}

func TestQueryDispatchesRegisteredTool(t *testing.T) {
	s, _ := newTestServer(t, false)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	body, _ := json.Marshal(map[string]interface{}{"tool": "echo", "args": map[string]interface{}{"x": 1.0}})
	resp, err := http.Post(srv.URL+"/query", "application/json", bytes.NewReader(body))
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("query: %v status=%v", err, resp)
	}
	defer resp.Body.Close()
	var result map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&result)
	if result["success"] != true {
		t.Fatalf("expected success, got %v", result)
	}
}

func TestQueryUnknownToolReturnsFailureNotError(t *testing.T) {
	s, _ := newTestServer(t, false)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	body, _ := json.Marshal(map[string]interface{}{"tool": "nonexistent"})
	resp, err := http.Post(srv.URL+"/query", "application/json", bytes.NewReader(body))
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("query: %v status=%v", err, resp)
	}
	defer resp.Body.Close()
	var result map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&result)
	if result["success"] != false {
		t.Fatalf("expected success=false for unknown tool, got %v", result)
	}
}
