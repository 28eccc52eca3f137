package collective

import (
	"sort"
	"sync"
	"time"

	"github.com/meshfabric/agentmesh/meshcore"
)

// TaskStatus is the lifecycle state of a delegated task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskDelegated TaskStatus = "delegated"
	TaskFailed    TaskStatus = "failed"
	TaskTimedOut  TaskStatus = "timed_out"
)

const (
	defaultMinCapabilityScore = 0.3
	maxDelegationChainLen     = 10
)

// DelegatedTask tracks one unit of work routed across the mesh.
type DelegatedTask struct {
	ID              string
	RequiredDomains []string
	MaxRetries      int
	RetryCount      int
	Deadline        time.Time
	Status          TaskStatus
	DelegationChain []string
	PrimaryAgent    string
	FallbackAgents  []string
}

// RoutingDecision is the outcome of selecting agents for a task.
type RoutingDecision struct {
	PrimaryAgent   string
	FallbackAgents []string
}

// DelegationManager routes tasks to capable agents and tracks their
// progress through the delegation lifecycle.
type DelegationManager struct {
	mu    sync.Mutex
	tasks map[string]*DelegatedTask
	clock meshcore.Clock
}

// NewDelegationManager constructs a manager. clock defaults to
// meshcore.SystemClock when nil.
func NewDelegationManager(clock meshcore.Clock) *DelegationManager {
	if clock == nil {
		clock = meshcore.SystemClock{}
	}
	return &DelegationManager{tasks: make(map[string]*DelegatedTask), clock: clock}
}

// AddTask registers a task as Pending.
func (m *DelegationManager) AddTask(task DelegatedTask) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task.Status = TaskPending
	m.tasks[task.ID] = &task
}

// GetRoutingDecision selects a primary agent (highest scoring) and up
// to 3 fallbacks among agents meeting minCapabilityScore (default 0.3).
// Returns meshcore.ErrNoCapableAgent if none qualify.
func GetRoutingDecision(candidates []CandidateScore, minCapabilityScore float64) (RoutingDecision, error) {
	if minCapabilityScore <= 0 {
		minCapabilityScore = defaultMinCapabilityScore
	}
	var capable []CandidateScore
	for _, c := range candidates {
		if c.Score >= minCapabilityScore {
			capable = append(capable, c)
		}
	}
	if len(capable) == 0 {
		return RoutingDecision{}, meshcore.ErrNoCapableAgent
	}
	sort.Slice(capable, func(i, j int) bool { return capable[i].Score > capable[j].Score })

	decision := RoutingDecision{PrimaryAgent: capable[0].AgentID}
	for i := 1; i < len(capable) && len(decision.FallbackAgents) < 3; i++ {
		decision.FallbackAgents = append(decision.FallbackAgents, capable[i].AgentID)
	}
	return decision, nil
}

// RouteTask computes and stores the routing decision for taskID.
func (m *DelegationManager) RouteTask(taskID string, candidates []CandidateScore, minCapabilityScore float64) (RoutingDecision, error) {
	decision, err := GetRoutingDecision(candidates, minCapabilityScore)
	if err != nil {
		return RoutingDecision{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[taskID]
	if !ok {
		return RoutingDecision{}, meshcore.ErrTaskNotFound
	}
	task.PrimaryAgent = decision.PrimaryAgent
	task.FallbackAgents = decision.FallbackAgents
	return decision, nil
}

// MarkDelegated transitions a Pending task to Delegated, appending
// agentID to the delegation chain. Returns
// meshcore.ErrDelegationChainTooLong past 10 hops.
func (m *DelegationManager) MarkDelegated(taskID, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[taskID]
	if !ok {
		return meshcore.ErrTaskNotFound
	}
	if len(task.DelegationChain) >= maxDelegationChainLen {
		return meshcore.ErrDelegationChainTooLong
	}
	task.DelegationChain = append(task.DelegationChain, agentID)
	task.Status = TaskDelegated
	return nil
}

// HandleFailure increments the retry count; the task returns to
// Pending if retries remain under MaxRetries, otherwise it is marked
// Failed.
func (m *DelegationManager) HandleFailure(taskID string) (TaskStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[taskID]
	if !ok {
		return "", meshcore.ErrTaskNotFound
	}
	task.RetryCount++
	if task.RetryCount < task.MaxRetries {
		task.Status = TaskPending
	} else {
		task.Status = TaskFailed
	}
	return task.Status, nil
}

// CleanupExpired marks any non-terminal task past its deadline
// TimedOut, returning the affected task ids.
func (m *DelegationManager) CleanupExpired() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	var expired []string
	for id, task := range m.tasks {
		if task.Deadline.IsZero() || !now.After(task.Deadline) {
			continue
		}
		if task.Status == TaskFailed || task.Status == TaskTimedOut {
			continue
		}
		task.Status = TaskTimedOut
		expired = append(expired, id)
	}
	sort.Strings(expired)
	return expired
}

// Get returns a copy of the task's current state.
func (m *DelegationManager) Get(taskID string) (DelegatedTask, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[taskID]
	if !ok {
		return DelegatedTask{}, false
	}
	return *task, true
}
