package policy

import (
	"context"
	"time"

	"github.com/meshfabric/agentmesh/meshcore"
	"github.com/meshfabric/agentmesh/store"
)

// Tool is a named, registrable action. Argument validation is the
// tool's own responsibility — the dispatcher never inspects or
// retries on a tool's behalf.
type Tool interface {
	Name() string
	Execute(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error)
}

// ToolResult is the outcome handed back to callers.
type ToolResult struct {
	Success bool                   `json:"success"`
	Output  map[string]interface{} `json:"output,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// Dispatcher is the tool registry + execution logger.
type Dispatcher struct {
	st     store.Store
	tools  map[string]Tool
	logger meshcore.Logger
}

// NewDispatcher constructs a Dispatcher backed by st for audit logging.
func NewDispatcher(st store.Store, logger meshcore.Logger) *Dispatcher {
	if logger == nil {
		logger = meshcore.NoOpLogger{}
	}
	if scoped, ok := logger.(meshcore.ComponentAwareLogger); ok {
		logger = scoped.WithComponent("policy/dispatcher")
	}
	return &Dispatcher{st: st, tools: make(map[string]Tool), logger: logger}
}

// Register adds a tool to the registry, keyed by its own Name().
func (d *Dispatcher) Register(t Tool) {
	d.tools[t.Name()] = t
}

// Execute runs the named tool, logging the outcome (success or
// failure) to persistence. It never retries; failures are surfaced as
// ToolResult{Success:false} rather than as an error from Execute, so
// callers in the HTTP/agent layer never need special-case handling.
func (d *Dispatcher) Execute(ctx context.Context, name string, args map[string]interface{}) ToolResult {
	t, ok := d.tools[name]
	if !ok {
		result := ToolResult{Success: false, Error: meshcore.ErrToolNotFound.Error()}
		d.log(ctx, name, args, result)
		return result
	}

	output, err := t.Execute(ctx, args)
	var result ToolResult
	if err != nil {
		result = ToolResult{Success: false, Error: err.Error()}
	} else {
		result = ToolResult{Success: true, Output: output}
	}
	d.log(ctx, name, args, result)
	return result
}

func (d *Dispatcher) log(ctx context.Context, name string, args map[string]interface{}, result ToolResult) {
	if err := d.st.LogToolExecution(ctx, &store.ToolExecution{
		ToolName: name, Args: args, Success: result.Success,
		Output: result.Output, Error: result.Error, CreatedAt: time.Now(),
	}); err != nil {
		d.logger.Error("failed to log tool execution", map[string]interface{}{"tool": name, "error": err.Error()})
	}
}
