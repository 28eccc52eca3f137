package policy

import (
	"context"
	"errors"
	"testing"

	"github.com/meshfabric/agentmesh/meshcore"
	"github.com/meshfabric/agentmesh/store"
)

type echoTool struct{}

func (echoTool) Name() string { return "echo" }
func (echoTool) Execute(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	return args, nil
}

type failingTool struct{}

func (failingTool) Name() string { return "fail" }
func (failingTool) Execute(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	return nil, errors.New("boom")
}

func TestDispatcherExecuteSuccess(t *testing.T) {
	st := store.NewMemStore()
	d := NewDispatcher(st, meshcore.NoOpLogger{})
	d.Register(echoTool{})

	result := d.Execute(context.Background(), "echo", map[string]interface{}{"x": 1})
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.Output["x"] != 1 {
		t.Fatalf("expected echoed output, got %v", result.Output)
	}
}

func TestDispatcherExecuteFailureNeverRetries(t *testing.T) {
	st := store.NewMemStore()
	d := NewDispatcher(st, meshcore.NoOpLogger{})
	d.Register(failingTool{})

	result := d.Execute(context.Background(), "fail", nil)
	if result.Success {
		t.Fatalf("expected failure result")
	}
	if result.Error == "" {
		t.Fatalf("expected error message populated")
	}
}

func TestDispatcherUnknownTool(t *testing.T) {
	st := store.NewMemStore()
	d := NewDispatcher(st, meshcore.NoOpLogger{})
	result := d.Execute(context.Background(), "missing", nil)
	if result.Success {
		t.Fatalf("expected failure for unregistered tool")
	}
}

func TestDispatcherLogsEveryInvocation(t *testing.T) {
	st := store.NewMemStore()
	d := NewDispatcher(st, meshcore.NoOpLogger{})
	d.Register(echoTool{})
	d.Register(failingTool{})

	// Both success and failure paths must complete without panicking,
	// each appending a ToolExecution record regardless of outcome.
	d.Execute(context.Background(), "echo", nil)
	d.Execute(context.Background(), "fail", nil)
}
