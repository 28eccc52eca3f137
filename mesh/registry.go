// Package mesh implements the instance registry and message router that
// let mesh nodes discover each other and exchange agent messages,
// grounded on the teacher's core.RedisRegistry/RedisDiscovery pattern
// and on the SWARM pack's FederatedState peer-lifecycle logic
// (services/federation/sync_protocol.go), adapted from Redis- and
// HTTP-backed originals to an in-memory registry.
package mesh

import (
	"sort"
	"sync"
	"time"

	"github.com/meshfabric/agentmesh/meshcore"
)

// Instance is one mesh node's registration record.
type Instance struct {
	InstanceID        string            `json:"instance_id"`
	Hostname          string            `json:"hostname"`
	Port              int               `json:"port"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	RegisteredAt      time.Time         `json:"registered_at"`
	LastHeartbeat     time.Time         `json:"last_heartbeat"`
	SyncEnabledGraphs []GraphSyncState  `json:"sync_enabled_graphs,omitempty"`
}

// GraphSyncState is the minimal per-namespace staleness signal the
// registry needs to answer heartbeat's should_sync question without
// depending on the store package directly.
type GraphSyncState struct {
	SessionID           string
	GraphName           string
	SyncIntervalSeconds int
	LastSyncAt          time.Time
}

// RegisterResult is returned by Register.
type RegisterResult struct {
	IsLeader bool       `json:"is_leader"`
	LeaderID string     `json:"leader_id"`
	Peers    []Instance `json:"peers"`
}

// HeartbeatResult is returned by Heartbeat.
type HeartbeatResult struct {
	LeaderID   string `json:"leader_id"`
	ShouldSync bool   `json:"should_sync"`
}

// Registry tracks live instances, elects an advisory leader (first to
// register — never fenced, never used to gate correctness), and evicts
// stale entries on a background sweep.
type Registry struct {
	mu            sync.RWMutex
	instances     map[string]*Instance
	leaderID      string
	staleTimeout  time.Duration
	sweepInterval time.Duration
	logger        meshcore.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRegistry constructs a Registry. staleTimeout is the heartbeat
// staleness threshold T; the background sweep evicts instances once
// they've gone silent past 3T.
func NewRegistry(staleTimeout, sweepInterval time.Duration, logger meshcore.Logger) *Registry {
	if staleTimeout <= 0 {
		staleTimeout = 30 * time.Second
	}
	if sweepInterval <= 0 {
		sweepInterval = staleTimeout
	}
	if logger == nil {
		logger = meshcore.NoOpLogger{}
	}
	if scoped, ok := logger.(meshcore.ComponentAwareLogger); ok {
		logger = scoped.WithComponent("mesh/registry")
	}
	return &Registry{
		instances:     make(map[string]*Instance),
		staleTimeout:  staleTimeout,
		sweepInterval: sweepInterval,
		logger:        logger,
		stopCh:        make(chan struct{}),
	}
}

// Register inserts or refreshes an instance's registration. The first
// instance ever registered (or the first after all peers left) becomes
// leader. Returns the current peer list excluding self.
func (r *Registry) Register(info Instance) RegisterResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	info.RegisteredAt = now
	info.LastHeartbeat = now
	r.instances[info.InstanceID] = &info

	if r.leaderID == "" {
		r.leaderID = info.InstanceID
	}

	r.logger.Info("instance registered", map[string]interface{}{
		"instance_id": info.InstanceID, "is_leader": r.leaderID == info.InstanceID,
	})

	return RegisterResult{
		IsLeader: r.leaderID == info.InstanceID,
		LeaderID: r.leaderID,
		Peers:    r.peersLocked(info.InstanceID),
	}
}

// Heartbeat refreshes liveness and reports whether any sync-enabled
// namespace for this instance is due for a sync cycle.
func (r *Registry) Heartbeat(instanceID string, syncGraphs []GraphSyncState) (HeartbeatResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, ok := r.instances[instanceID]
	if !ok {
		return HeartbeatResult{}, false
	}
	inst.LastHeartbeat = time.Now()
	inst.SyncEnabledGraphs = syncGraphs

	shouldSync := false
	for _, g := range syncGraphs {
		interval := time.Duration(g.SyncIntervalSeconds) * time.Second
		if interval <= 0 {
			continue
		}
		if time.Since(g.LastSyncAt) > interval {
			shouldSync = true
			break
		}
	}

	return HeartbeatResult{LeaderID: r.leaderID, ShouldSync: shouldSync}, true
}

// Deregister removes an instance, re-electing the leader (lowest
// surviving instance id, advisory only) if it was the leader.
func (r *Registry) Deregister(instanceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(instanceID)
}

func (r *Registry) removeLocked(instanceID string) {
	if _, ok := r.instances[instanceID]; !ok {
		return
	}
	delete(r.instances, instanceID)
	if r.leaderID == instanceID {
		r.electLeaderLocked()
	}
	r.logger.Info("instance deregistered", map[string]interface{}{"instance_id": instanceID})
}

func (r *Registry) electLeaderLocked() {
	var ids []string
	for id := range r.instances {
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		r.leaderID = ""
		return
	}
	sort.Strings(ids)
	r.leaderID = ids[0]
	r.logger.Info("leader re-elected", map[string]interface{}{"leader_id": r.leaderID})
}

// List returns every registered instance.
func (r *Registry) List() []Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.peersLocked("")
}

func (r *Registry) peersLocked(excludeID string) []Instance {
	out := make([]Instance, 0, len(r.instances))
	for id, inst := range r.instances {
		if id == excludeID {
			continue
		}
		out = append(out, *inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InstanceID < out[j].InstanceID })
	return out
}

// LeaderID returns the current advisory leader, or "" if none.
func (r *Registry) LeaderID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.leaderID
}

// RunSweep starts the background staleness sweep. It blocks until Stop
// is called; callers typically run it in its own goroutine.
func (r *Registry) RunSweep() {
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.sweepOnce()
		}
	}
}

// Stop terminates the background sweep loop.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

func (r *Registry) sweepOnce() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := 3 * r.staleTimeout
	for id, inst := range r.instances {
		if time.Since(inst.LastHeartbeat) > cutoff {
			r.logger.Warn("evicting stale instance", map[string]interface{}{
				"instance_id": id, "last_heartbeat": inst.LastHeartbeat,
			})
			r.removeLocked(id)
		}
	}
}
