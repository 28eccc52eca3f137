// Package workflow implements the DAG-based orchestration engine:
// stage dependency validation with cycle detection, stage readiness,
// and the five stage-type execution semantics (Sequential, Parallel,
// MapReduce, Consensus, ConditionalBranch). Grounded on gomind's
// pkg/routing workflow definitions (WorkflowDefinition, step
// dependency resolution in generatePlanFromWorkflow) generalized from
// a linear step list to a general DAG with real cycle detection via
// Kahn's algorithm — the teacher only rejects self-dependencies, never
// arbitrary cycles.
package workflow

import (
	"sync"

	"github.com/meshfabric/agentmesh/meshcore"
)

// StageType is the execution discipline for a workflow stage.
type StageType string

const (
	StageSequential  StageType = "sequential"
	StageParallel    StageType = "parallel"
	StageMapReduce   StageType = "map_reduce"
	StageConsensus   StageType = "consensus"
	StageConditional StageType = "conditional_branch"
)

// StageStatus is the lifecycle state of one stage in an execution.
type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageRunning   StageStatus = "running"
	StageCompleted StageStatus = "completed"
	StageFailed    StageStatus = "failed"
	StageSkipped   StageStatus = "skipped"
)

// ExecutionStatus is the lifecycle state of a workflow execution.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

const defaultMinCapabilityScore = 0 // stage-level required_capabilities are advisory, not gated here

// StageConfig holds stage-type-specific parameters and the
// ConditionalBranch/Skipped authoring decisions.
type StageConfig struct {
	MinAgents               int     // Parallel
	Chunks                  int     // MapReduce
	Reducer                 string  // MapReduce: "concat" | "merge" | "count"
	MinAgreement            float64 // Consensus
	Condition               string  // ConditionalBranch: evaluated by the caller against upstream result
	SkipSatisfiesDependency *bool   // nil defaults to true
}

func (c StageConfig) skipSatisfies() bool {
	if c.SkipSatisfiesDependency == nil {
		return true
	}
	return *c.SkipSatisfiesDependency
}

// StageDefinition is one node in a workflow's DAG.
type StageDefinition struct {
	StageID              string
	Name                 string
	Type                 StageType
	RequiredCapabilities []string
	Dependencies         []string
	Config               StageConfig
}

// Definition is a registered workflow DAG.
type Definition struct {
	Name   string
	Stages []StageDefinition
}

// StageState is the runtime state of one stage within an execution.
type StageState struct {
	StageID string
	Status  StageStatus
	Result  interface{}
	Error   string
}

// Execution tracks one run of a Definition.
type Execution struct {
	ID       string
	Workflow string
	Status   ExecutionStatus
	Stages   map[string]*StageState
}

// Engine validates workflow definitions and tracks running executions.
type Engine struct {
	mu            sync.Mutex
	definitions   map[string]*Definition
	executions    map[string]*Execution
	maxConcurrent int
	running       int
}

// NewEngine constructs an Engine. maxConcurrent defaults to 5.
func NewEngine(maxConcurrent int) *Engine {
	if maxConcurrent <= 0 {
		maxConcurrent = 5
	}
	return &Engine{
		definitions:   make(map[string]*Definition),
		executions:    make(map[string]*Execution),
		maxConcurrent: maxConcurrent,
	}
}

// RegisterWorkflow validates and registers def: stage ids must be
// unique, every dependency must resolve to a known stage id, no stage
// may depend on itself, and the dependency graph must be acyclic
// (Kahn's topological sort; a residual node after the sort means a
// cycle).
func (e *Engine) RegisterWorkflow(def Definition) error {
	seen := make(map[string]bool, len(def.Stages))
	for _, s := range def.Stages {
		if seen[s.StageID] {
			return meshcore.ErrWorkflowDuplicateStage
		}
		seen[s.StageID] = true
	}
	for _, s := range def.Stages {
		for _, dep := range s.Dependencies {
			if dep == s.StageID {
				return meshcore.ErrWorkflowBadDependency
			}
			if !seen[dep] {
				return meshcore.ErrWorkflowBadDependency
			}
		}
	}
	if cyclic(def.Stages) {
		return meshcore.ErrWorkflowCyclic
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	d := def
	e.definitions[def.Name] = &d
	return nil
}

// cyclic reports whether the stage dependency graph contains a cycle,
// via Kahn's algorithm: repeatedly remove nodes with in-degree 0; if
// any node remains unremoved, a cycle exists.
func cyclic(stages []StageDefinition) bool {
	inDegree := make(map[string]int, len(stages))
	dependents := make(map[string][]string, len(stages))
	for _, s := range stages {
		if _, ok := inDegree[s.StageID]; !ok {
			inDegree[s.StageID] = 0
		}
		for _, dep := range s.Dependencies {
			inDegree[s.StageID]++
			dependents[dep] = append(dependents[dep], s.StageID)
		}
	}

	var queue []string
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range dependents[id] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	return visited != len(stages)
}

// StartExecution allocates a new execution of workflowName, capped at
// maxConcurrent concurrent executions. A definition with no stages has
// nothing to run, so it starts and finishes in the same call.
func (e *Engine) StartExecution(executionID, workflowName string) (*Execution, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	def, ok := e.definitions[workflowName]
	if !ok {
		return nil, meshcore.ErrWorkflowNotFound
	}
	if e.running >= e.maxConcurrent {
		return nil, meshcore.ErrWorkflowTooManyRunning
	}

	stages := make(map[string]*StageState, len(def.Stages))
	for _, s := range def.Stages {
		stages[s.StageID] = &StageState{StageID: s.StageID, Status: StagePending}
	}

	exec := &Execution{ID: executionID, Workflow: workflowName, Status: ExecutionRunning, Stages: stages}
	e.executions[executionID] = exec
	e.running++

	if len(def.Stages) == 0 {
		exec.Status = ExecutionCompleted
		e.finishLocked(exec)
	}

	return exec, nil
}

// ReadyStages returns the stage ids whose state is Pending and whose
// every dependency is Completed (or Skipped, when that stage's config
// says Skipped satisfies dependencies).
func (e *Engine) ReadyStages(executionID string) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	exec, ok := e.executions[executionID]
	if !ok {
		return nil, meshcore.ErrWorkflowNotFound
	}
	def, ok := e.definitions[exec.Workflow]
	if !ok {
		return nil, meshcore.ErrWorkflowNotFound
	}

	byID := make(map[string]StageDefinition, len(def.Stages))
	for _, s := range def.Stages {
		byID[s.StageID] = s
	}

	var ready []string
	for _, s := range def.Stages {
		state := exec.Stages[s.StageID]
		if state.Status != StagePending {
			continue
		}
		allSatisfied := true
		for _, dep := range s.Dependencies {
			depState := exec.Stages[dep]
			switch depState.Status {
			case StageCompleted:
				// satisfied
			case StageSkipped:
				if !byID[dep].Config.skipSatisfies() {
					allSatisfied = false
				}
			default:
				allSatisfied = false
			}
			if !allSatisfied {
				break
			}
		}
		if allSatisfied {
			ready = append(ready, s.StageID)
		}
	}
	return ready, nil
}

// CompleteStage marks a stage Completed with its result and, if every
// stage in the execution has reached a terminal state, marks the
// execution Completed.
func (e *Engine) CompleteStage(executionID, stageID string, result interface{}) error {
	return e.finishStage(executionID, stageID, StageCompleted, result, "")
}

// FailStage marks a stage Failed and the whole execution Failed,
// mirroring CompleteStage's complete/fail pairing.
func (e *Engine) FailStage(executionID, stageID string, reason string) error {
	return e.finishStage(executionID, stageID, StageFailed, nil, reason)
}

// SkipStage marks a stage Skipped, used by ConditionalBranch stages
// whose condition did not match the upstream result.
func (e *Engine) SkipStage(executionID, stageID string) error {
	return e.finishStage(executionID, stageID, StageSkipped, nil, "")
}

func (e *Engine) finishStage(executionID, stageID string, status StageStatus, result interface{}, reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	exec, ok := e.executions[executionID]
	if !ok {
		return meshcore.ErrWorkflowNotFound
	}
	state, ok := exec.Stages[stageID]
	if !ok {
		return meshcore.ErrStageNotFound
	}

	state.Status = status
	state.Result = result
	state.Error = reason

	if status == StageFailed {
		exec.Status = ExecutionFailed
		e.finishLocked(exec)
		return nil
	}

	allTerminal := true
	for _, s := range exec.Stages {
		if s.Status == StagePending || s.Status == StageRunning {
			allTerminal = false
			break
		}
	}
	if allTerminal && exec.Status == ExecutionRunning {
		exec.Status = ExecutionCompleted
		e.finishLocked(exec)
	}
	return nil
}

func (e *Engine) finishLocked(exec *Execution) {
	if e.running > 0 {
		e.running--
	}
}

// RecordStageResult marks a stage Running and records an intermediate
// result without finalizing its status.
func (e *Engine) RecordStageResult(executionID, stageID string, result interface{}) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	exec, ok := e.executions[executionID]
	if !ok {
		return meshcore.ErrWorkflowNotFound
	}
	state, ok := exec.Stages[stageID]
	if !ok {
		return meshcore.ErrStageNotFound
	}
	state.Status = StageRunning
	state.Result = result
	return nil
}

// Get returns a shallow copy of the execution state.
func (e *Engine) Get(executionID string) (*Execution, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	exec, ok := e.executions[executionID]
	if !ok {
		return nil, false
	}
	cp := *exec
	cp.Stages = make(map[string]*StageState, len(exec.Stages))
	for k, v := range exec.Stages {
		s := *v
		cp.Stages[k] = &s
	}
	return &cp, true
}
