package workflow

import (
	"testing"

	"github.com/meshfabric/agentmesh/meshcore"
)

func linearDef() Definition {
	return Definition{
		Name: "fetch-and-summarize",
		Stages: []StageDefinition{
			{StageID: "fetch", Type: StageSequential},
			{StageID: "summarize", Type: StageSequential, Dependencies: []string{"fetch"}},
		},
	}
}

func TestRegisterWorkflowRejectsDuplicateStageID(t *testing.T) {
	e := NewEngine(0)
	def := Definition{Stages: []StageDefinition{{StageID: "a"}, {StageID: "a"}}}
	if err := e.RegisterWorkflow(def); err != meshcore.ErrWorkflowDuplicateStage {
		t.Fatalf("expected ErrWorkflowDuplicateStage, got %v", err)
	}
}

func TestRegisterWorkflowRejectsSelfDependency(t *testing.T) {
	e := NewEngine(0)
	def := Definition{Stages: []StageDefinition{{StageID: "a", Dependencies: []string{"a"}}}}
	if err := e.RegisterWorkflow(def); err != meshcore.ErrWorkflowBadDependency {
		t.Fatalf("expected ErrWorkflowBadDependency for self-dependency, got %v", err)
	}
}

func TestRegisterWorkflowRejectsUnknownDependency(t *testing.T) {
	e := NewEngine(0)
	def := Definition{Stages: []StageDefinition{{StageID: "a", Dependencies: []string{"ghost"}}}}
	if err := e.RegisterWorkflow(def); err != meshcore.ErrWorkflowBadDependency {
		t.Fatalf("expected ErrWorkflowBadDependency for unresolved dependency, got %v", err)
	}
}

func TestRegisterWorkflowRejectsCycle(t *testing.T) {
	e := NewEngine(0)
	def := Definition{Stages: []StageDefinition{
		{StageID: "a", Dependencies: []string{"b"}},
		{StageID: "b", Dependencies: []string{"a"}},
	}}
	if err := e.RegisterWorkflow(def); err != meshcore.ErrWorkflowCyclic {
		t.Fatalf("expected ErrWorkflowCyclic, got %v", err)
	}
}

func TestRegisterWorkflowAcceptsValidDAG(t *testing.T) {
	e := NewEngine(0)
	if err := e.RegisterWorkflow(linearDef()); err != nil {
		t.Fatalf("expected valid DAG to register, got %v", err)
	}
}

func TestStartExecutionCapsConcurrency(t *testing.T) {
	e := NewEngine(1)
	if err := e.RegisterWorkflow(linearDef()); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := e.StartExecution("exec-1", "fetch-and-summarize"); err != nil {
		t.Fatalf("start 1: %v", err)
	}
	if _, err := e.StartExecution("exec-2", "fetch-and-summarize"); err != meshcore.ErrWorkflowTooManyRunning {
		t.Fatalf("expected ErrWorkflowTooManyRunning, got %v", err)
	}
}

func TestStartExecutionWithNoStagesCompletesImmediately(t *testing.T) {
	e := NewEngine(1)
	if err := e.RegisterWorkflow(Definition{Name: "empty"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	exec, err := e.StartExecution("exec-1", "empty")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if exec.Status != ExecutionCompleted {
		t.Fatalf("expected ExecutionCompleted, got %v", exec.Status)
	}

	// a completed no-stage execution must not hold a concurrency slot
	if _, err := e.StartExecution("exec-2", "empty"); err != nil {
		t.Fatalf("expected slot to be freed, got %v", err)
	}
}

func TestReadyStagesRespectsDependencies(t *testing.T) {
	e := NewEngine(0)
	e.RegisterWorkflow(linearDef())
	e.StartExecution("exec-1", "fetch-and-summarize")

	ready, err := e.ReadyStages("exec-1")
	if err != nil {
		t.Fatalf("ready: %v", err)
	}
	if len(ready) != 1 || ready[0] != "fetch" {
		t.Fatalf("expected only fetch ready initially, got %v", ready)
	}

	if err := e.CompleteStage("exec-1", "fetch", "result"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	ready, err = e.ReadyStages("exec-1")
	if err != nil {
		t.Fatalf("ready: %v", err)
	}
	if len(ready) != 1 || ready[0] != "summarize" {
		t.Fatalf("expected summarize ready after fetch completes, got %v", ready)
	}
}

func TestSkippedSatisfiesDependencyByDefault(t *testing.T) {
	e := NewEngine(0)
	def := Definition{Name: "branching", Stages: []StageDefinition{
		{StageID: "branch", Type: StageConditional},
		{StageID: "downstream", Dependencies: []string{"branch"}},
	}}
	e.RegisterWorkflow(def)
	e.StartExecution("exec-1", "branching")
	e.SkipStage("exec-1", "branch")

	ready, err := e.ReadyStages("exec-1")
	if err != nil {
		t.Fatalf("ready: %v", err)
	}
	if len(ready) != 1 || ready[0] != "downstream" {
		t.Fatalf("expected downstream ready after branch skipped (default opt-in), got %v", ready)
	}
}

func TestSkippedDoesNotSatisfyWhenOptedOut(t *testing.T) {
	noSkip := false
	e := NewEngine(0)
	def := Definition{Name: "branching", Stages: []StageDefinition{
		{StageID: "branch", Type: StageConditional, Config: StageConfig{SkipSatisfiesDependency: &noSkip}},
		{StageID: "downstream", Dependencies: []string{"branch"}},
	}}
	e.RegisterWorkflow(def)
	e.StartExecution("exec-1", "branching")
	e.SkipStage("exec-1", "branch")

	ready, err := e.ReadyStages("exec-1")
	if err != nil {
		t.Fatalf("ready: %v", err)
	}
	if len(ready) != 0 {
		t.Fatalf("expected no stage ready when skip does not satisfy dependency, got %v", ready)
	}
}

func TestFailStageFailsExecution(t *testing.T) {
	e := NewEngine(0)
	e.RegisterWorkflow(linearDef())
	e.StartExecution("exec-1", "fetch-and-summarize")
	if err := e.FailStage("exec-1", "fetch", "network error"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	exec, _ := e.Get("exec-1")
	if exec.Status != ExecutionFailed {
		t.Fatalf("expected execution failed, got %v", exec.Status)
	}
}

func TestCompleteAllStagesCompletesExecution(t *testing.T) {
	e := NewEngine(0)
	e.RegisterWorkflow(linearDef())
	e.StartExecution("exec-1", "fetch-and-summarize")
	e.CompleteStage("exec-1", "fetch", "a")
	e.CompleteStage("exec-1", "summarize", "b")

	exec, _ := e.Get("exec-1")
	if exec.Status != ExecutionCompleted {
		t.Fatalf("expected execution completed, got %v", exec.Status)
	}
}

func TestReduceMapResultsMerge(t *testing.T) {
	out, err := ReduceMapResults("merge", []interface{}{
		map[string]interface{}{"a": 1},
		map[string]interface{}{"b": 2},
	})
	if err != nil {
		t.Fatalf("reduce: %v", err)
	}
	merged := out.(map[string]interface{})
	if merged["a"] != 1 || merged["b"] != 2 {
		t.Fatalf("expected merged map, got %v", merged)
	}
}

func TestConsensusOutcomeMeetsAgreement(t *testing.T) {
	agreed, majority, ratio := ConsensusOutcome([]interface{}{"x", "x", "y"}, 0.6)
	if !agreed || majority != "x" || ratio < 0.6 {
		t.Fatalf("expected consensus reached with majority x, got agreed=%v majority=%v ratio=%v", agreed, majority, ratio)
	}
}

func TestConsensusOutcomeFailsBelowAgreement(t *testing.T) {
	agreed, _, _ := ConsensusOutcome([]interface{}{"x", "y", "z"}, 0.6)
	if agreed {
		t.Fatalf("expected consensus not reached with no majority")
	}
}
