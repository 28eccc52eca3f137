package policy

import "testing"

func TestCheckFirstMatchWins(t *testing.T) {
	e := NewEngine([]Rule{
		{Agent: "bot1", Action: "read", Resource: "*", Effect: Deny},
		{Agent: "*", Action: "read", Resource: "*", Effect: Allow},
	})
	if e.Check("bot1", "read", "file.txt") != Deny {
		t.Fatalf("expected first matching rule (deny) to win")
	}
	if e.Check("bot2", "read", "file.txt") != Allow {
		t.Fatalf("expected wildcard rule to allow bot2")
	}
}

func TestCheckDefaultDeny(t *testing.T) {
	e := NewEngine(nil)
	if e.Check("any", "any", "any") != Deny {
		t.Fatalf("expected default deny with no rules")
	}
}

func TestCheckToolRequiresBothLayers(t *testing.T) {
	e := NewEngine([]Rule{{Agent: "*", Action: "tool_call", Resource: "*", Effect: Allow}})
	e.SetAgentProfile("bot1", &AgentProfile{DeniedTools: map[string]bool{"grep": true}})

	if e.CheckTool("bot1", "grep") {
		t.Fatalf("expected tool denied by agent profile overlay even though rule list allows")
	}
	if !e.CheckTool("bot1", "search") {
		t.Fatalf("expected tool allowed when neither layer denies it")
	}
}

func TestCheckToolDeniedByRuleList(t *testing.T) {
	e := NewEngine([]Rule{{Agent: "*", Action: "tool_call", Resource: "*", Effect: Deny}})
	if e.CheckTool("bot1", "grep") {
		t.Fatalf("expected rule-list deny to block regardless of agent profile")
	}
}
