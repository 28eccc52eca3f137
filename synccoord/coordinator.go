// Package synccoord implements the background sync coordinator: a
// periodic loop that enumerates sync-enabled namespaces, fans out
// per-(namespace × peer) sync attempts under a bounded semaphore, and
// retries failures up to a limit. Grounded on SWARM's
// FederatedState.StartAntiEntropy/runAntiEntropyRound
// (services/federation/sync_protocol.go), generalized from random
// gossip-peer selection to a full active-peer fanout, and from
// ticker-only cancellation to a semaphore-bounded per-pair task model.
package synccoord

import (
	"context"
	"sync"
	"time"

	"github.com/meshfabric/agentmesh/graph"
	"github.com/meshfabric/agentmesh/mesh"
	"github.com/meshfabric/agentmesh/meshcore"
	"github.com/meshfabric/agentmesh/store"
)

const (
	defaultSyncIntervalSecs   = 30
	defaultMaxConcurrentSyncs = 3
	defaultRetryIntervalSecs  = 5
	defaultMaxRetries         = 3
)

// Peer abstracts the transport used to reach another instance;
// production wiring implements this over HTTP POST /sync/request,
// matching SWARM's sendSyncMessage.
type Peer interface {
	// RequestSync sends the local vector clock for namespace and
	// returns the peer's sync payload.
	RequestSync(ctx context.Context, namespace string, localClock graph.VectorClock) (*graph.GraphSyncPayload, error)
}

// PeerDialer resolves a mesh.Instance into a callable Peer.
type PeerDialer interface {
	Dial(instance mesh.Instance) Peer
}

// NamespaceSource enumerates which (session, graph) namespaces are
// sync-enabled and whether they have pending local changes since the
// last cycle.
type NamespaceSource interface {
	SyncEnabledNamespaces(ctx context.Context) ([]Namespace, error)
	HasPendingChanges(ctx context.Context, ns Namespace, since time.Time) (bool, error)
}

// Namespace identifies one syncable (session, graph) pair.
type Namespace struct {
	Session string
	Graph   string
}

// Result is one (namespace × peer) sync outcome, retained for
// inspection/testing.
type Result struct {
	Namespace Namespace
	PeerID    string
	Stats     graph.SyncStats
	Err       error
	Attempt   int
}

// Coordinator runs the periodic sync loop.
type Coordinator struct {
	namespaces NamespaceSource
	registry   *mesh.Registry
	dialer     PeerDialer
	engine     *graph.Engine
	selfID     string
	logger     meshcore.Logger

	syncInterval  time.Duration
	maxConcurrent int
	retryInterval time.Duration
	maxRetries    int

	mu        sync.Mutex
	lastCycle time.Time
	results   []Result

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// Config bundles the coordinator's tunables; zero values fall back
// to the documented defaults.
type Config struct {
	SyncIntervalSecs   int
	MaxConcurrentSyncs int
	RetryIntervalSecs  int
	MaxRetries         int
}

// NewCoordinator constructs a Coordinator. logger defaults to
// meshcore.NoOpLogger when nil.
func NewCoordinator(selfID string, namespaces NamespaceSource, registry *mesh.Registry, dialer PeerDialer, engine *graph.Engine, cfg Config, logger meshcore.Logger) *Coordinator {
	if logger == nil {
		logger = meshcore.NoOpLogger{}
	}
	if scoped, ok := logger.(meshcore.ComponentAwareLogger); ok {
		logger = scoped.WithComponent("synccoord")
	}
	if cfg.SyncIntervalSecs <= 0 {
		cfg.SyncIntervalSecs = defaultSyncIntervalSecs
	}
	if cfg.MaxConcurrentSyncs <= 0 {
		cfg.MaxConcurrentSyncs = defaultMaxConcurrentSyncs
	}
	if cfg.RetryIntervalSecs <= 0 {
		cfg.RetryIntervalSecs = defaultRetryIntervalSecs
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}

	return &Coordinator{
		namespaces:    namespaces,
		registry:      registry,
		dialer:        dialer,
		engine:        engine,
		selfID:        selfID,
		logger:        logger,
		syncInterval:  time.Duration(cfg.SyncIntervalSecs) * time.Second,
		maxConcurrent: cfg.MaxConcurrentSyncs,
		retryInterval: time.Duration(cfg.RetryIntervalSecs) * time.Second,
		maxRetries:    cfg.MaxRetries,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
}

// Run executes the periodic loop until ctx is canceled or Stop is
// called. On shutdown, no new cycles are scheduled but in-flight work
// is allowed to finish.
func (c *Coordinator) Run(ctx context.Context) {
	defer close(c.doneCh)
	ticker := time.NewTicker(c.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.runCycle(ctx)
		}
	}
}

// Stop requests the loop to stop scheduling new cycles and blocks
// until the current one (if any) finishes.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	<-c.doneCh
}

// RunOnce executes a single sync cycle synchronously; exposed for
// tests and for callers that want deterministic control over timing.
func (c *Coordinator) RunOnce(ctx context.Context) []Result {
	return c.runCycle(ctx)
}

func (c *Coordinator) runCycle(ctx context.Context) []Result {
	since := c.lastCycleTime()

	namespaces, err := c.namespaces.SyncEnabledNamespaces(ctx)
	if err != nil {
		c.logger.ErrorWithContext(ctx, "failed to enumerate sync namespaces", map[string]interface{}{"error": err.Error()})
		return nil
	}

	peers := c.activePeers()
	if len(peers) == 0 {
		c.setLastCycle()
		return nil
	}

	sem := make(chan struct{}, c.maxConcurrent)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var cycleResults []Result

	for _, ns := range namespaces {
		pending, err := c.namespaces.HasPendingChanges(ctx, ns, since)
		if err != nil {
			c.logger.ErrorWithContext(ctx, "failed to check pending changes", map[string]interface{}{
				"namespace": ns, "error": err.Error(),
			})
			continue
		}
		if !pending {
			continue
		}

		for _, peer := range peers {
			if peer.InstanceID == c.selfID {
				continue
			}
			ns, peer := ns, peer
			wg.Add(1)
			sem <- struct{}{}
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				result := c.syncWithRetry(ctx, ns, peer)
				mu.Lock()
				cycleResults = append(cycleResults, result)
				mu.Unlock()
			}()
		}
	}

	wg.Wait()

	c.mu.Lock()
	c.results = append(c.results, cycleResults...)
	c.mu.Unlock()
	c.setLastCycle()
	return cycleResults
}

func (c *Coordinator) activePeers() []mesh.Instance {
	return c.registry.List()
}

func (c *Coordinator) syncWithRetry(ctx context.Context, ns Namespace, peer mesh.Instance) Result {
	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		stats, err := c.syncOnce(ctx, ns, peer)
		if err == nil {
			return Result{Namespace: ns, PeerID: peer.InstanceID, Stats: stats, Attempt: attempt}
		}
		lastErr = err
		c.logger.WarnWithContext(ctx, "sync attempt failed", map[string]interface{}{
			"namespace": ns, "peer": peer.InstanceID, "attempt": attempt, "error": err.Error(),
		})
		if attempt < c.maxRetries {
			select {
			case <-ctx.Done():
				return Result{Namespace: ns, PeerID: peer.InstanceID, Err: ctx.Err(), Attempt: attempt}
			case <-time.After(c.retryInterval):
			}
		}
	}
	return Result{Namespace: ns, PeerID: peer.InstanceID, Err: lastErr, Attempt: c.maxRetries}
}

func (c *Coordinator) syncOnce(ctx context.Context, ns Namespace, peer mesh.Instance) (graph.SyncStats, error) {
	dialed := c.dialer.Dial(peer)
	localClock, err := c.engine.LocalClock(ctx, c.selfID, ns.Session, ns.Graph)
	if err != nil {
		return graph.SyncStats{}, err
	}

	payload, err := dialed.RequestSync(ctx, ns.Graph, localClock)
	if err != nil {
		return graph.SyncStats{}, err
	}

	stats, err := c.engine.ApplySync(ctx, c.selfID, payload, store.StrategyVectorClock)
	if err != nil {
		return graph.SyncStats{}, err
	}
	return *stats, nil
}

func (c *Coordinator) lastCycleTime() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastCycle
}

func (c *Coordinator) setLastCycle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastCycle = time.Now()
}

// Results returns a copy of every (namespace × peer) result recorded
// so far, most recent last.
func (c *Coordinator) Results() []Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Result, len(c.results))
	copy(out, c.results)
	return out
}
