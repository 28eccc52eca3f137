package synccoord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/meshfabric/agentmesh/graph"
	"github.com/meshfabric/agentmesh/mesh"
	"github.com/meshfabric/agentmesh/meshcore"
)

// HTTPDialer resolves a mesh.Instance into an httpPeer that speaks the
// same wire protocol httpapi.handleSyncRequest serves, so a production
// node calls its peers the same way a test harness calls the node
// itself. Each peer gets its own circuit breaker so one unreachable
// instance doesn't exhaust every sync worker's retry budget hammering
// it every cycle.
type HTTPDialer struct {
	SelfID  string
	Session string
	Token   string
	Client  *http.Client

	CircuitBreaker meshcore.CircuitBreakerConfig
	Logger         meshcore.Logger

	mu       sync.Mutex
	breakers map[string]*meshcore.CircuitBreaker
}

// NewHTTPDialer builds a dialer that authenticates outbound sync calls
// with a bearer token, matching every other protected route's auth
// requirement.
func NewHTTPDialer(selfID, session, token string) *HTTPDialer {
	return &HTTPDialer{
		SelfID:   selfID,
		Session:  session,
		Token:    token,
		Client:   &http.Client{Timeout: 30 * time.Second},
		Logger:   meshcore.NoOpLogger{},
		breakers: make(map[string]*meshcore.CircuitBreaker),
	}
}

func (d *HTTPDialer) breakerFor(instanceID string) *meshcore.CircuitBreaker {
	d.mu.Lock()
	defer d.mu.Unlock()
	cb, ok := d.breakers[instanceID]
	if !ok {
		cfg := d.CircuitBreaker
		cfg.Name = "sync-peer-" + instanceID
		cb = meshcore.NewCircuitBreaker(cfg, d.Logger)
		d.breakers[instanceID] = cb
	}
	return cb
}

func (d *HTTPDialer) Dial(instance mesh.Instance) Peer {
	return &httpPeer{
		baseURL: fmt.Sprintf("https://%s:%d", instance.Hostname, instance.Port),
		dialer:  d,
		breaker: d.breakerFor(instance.InstanceID),
	}
}

type httpPeer struct {
	baseURL string
	dialer  *HTTPDialer
	breaker *meshcore.CircuitBreaker
}

type httpSyncRequestBody struct {
	InstanceID  string            `json:"instance_id"`
	Session     string            `json:"session_id"`
	Graph       string            `json:"graph_name"`
	VectorClock graph.VectorClock `json:"vector_clock"`
}

// RequestSync POSTs to the peer's /sync/request with the local vector
// clock and decodes whatever sync payload the peer decides to send
// back (full, incremental, or none). The call runs behind this peer's
// circuit breaker so a persistently unreachable instance fails fast
// instead of blocking a sync worker on every retry.
func (p *httpPeer) RequestSync(ctx context.Context, namespace string, localClock graph.VectorClock) (*graph.GraphSyncPayload, error) {
	var payload graph.GraphSyncPayload
	err := p.breaker.Execute(ctx, func(ctx context.Context) error {
		got, err := p.doRequestSync(ctx, namespace, localClock)
		if err != nil {
			return err
		}
		payload = *got
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &payload, nil
}

func (p *httpPeer) doRequestSync(ctx context.Context, namespace string, localClock graph.VectorClock) (*graph.GraphSyncPayload, error) {
	body, err := json.Marshal(httpSyncRequestBody{
		InstanceID:  p.dialer.SelfID,
		Session:     p.dialer.Session,
		Graph:       namespace,
		VectorClock: localClock,
	})
	if err != nil {
		return nil, fmt.Errorf("synccoord: encode sync request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/sync/request", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("synccoord: build sync request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.dialer.Token != "" {
		req.Header.Set("Authorization", "Bearer "+p.dialer.Token)
	}

	resp, err := p.dialer.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("synccoord: sync request to %s: %w", p.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("synccoord: peer %s returned status %d", p.baseURL, resp.StatusCode)
	}

	var payload graph.GraphSyncPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("synccoord: decode sync payload: %w", err)
	}
	return &payload, nil
}
