// Package policy implements the ordered, first-match-wins rule engine
// and per-agent tool allow/deny overlay, grounded on the teacher's
// rule-scanning style in core/component.go's
// DiscoveryFilter matching.
package policy

// Effect is the outcome of a matched rule.
type Effect string

const (
	Allow Effect = "allow"
	Deny  Effect = "deny"
)

// Rule is one entry in the ordered policy list. Any field may be "*" to
// match any value.
type Rule struct {
	Agent    string `json:"agent"`
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Effect   Effect `json:"effect"`
}

func (r Rule) matches(agent, action, resource string) bool {
	return matchField(r.Agent, agent) && matchField(r.Action, action) && matchField(r.Resource, resource)
}

func matchField(pattern, value string) bool {
	return pattern == "*" || pattern == value
}

// AgentProfile is the per-agent tool allow/deny overlay. A tool call is
// permitted only when both the ordered Rule list AND this profile agree.
type AgentProfile struct {
	AllowedTools map[string]bool
	DeniedTools  map[string]bool
}

func (p *AgentProfile) toolAllowed(tool string) bool {
	if p == nil {
		return true
	}
	if p.DeniedTools[tool] {
		return false
	}
	if len(p.AllowedTools) == 0 {
		return true
	}
	return p.AllowedTools[tool]
}

// Engine evaluates an ordered rule list with default-deny semantics.
type Engine struct {
	rules    []Rule
	profiles map[string]*AgentProfile
}

// NewEngine constructs an Engine from an ordered rule list.
func NewEngine(rules []Rule) *Engine {
	return &Engine{rules: append([]Rule(nil), rules...), profiles: make(map[string]*AgentProfile)}
}

// SetRules replaces the ordered rule list.
func (e *Engine) SetRules(rules []Rule) {
	e.rules = append([]Rule(nil), rules...)
}

// SetAgentProfile installs (or replaces) an agent's tool overlay.
func (e *Engine) SetAgentProfile(agent string, profile *AgentProfile) {
	e.profiles[agent] = profile
}

// Check scans rules in order; the first match's effect wins. No match
// means deny.
func (e *Engine) Check(agent, action, resource string) Effect {
	for _, r := range e.rules {
		if r.matches(agent, action, resource) {
			return r.Effect
		}
	}
	return Deny
}

// CheckTool is the composite check required for a tool
// call: the ordered rule list AND the agent's local tool overlay must
// both allow it.
func (e *Engine) CheckTool(agent, toolName string) bool {
	if e.Check(agent, "tool_call", toolName) != Allow {
		return false
	}
	return e.profiles[agent].toolAllowed(toolName)
}
