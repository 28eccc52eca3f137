package mesh

import (
	"testing"
	"time"

	"github.com/meshfabric/agentmesh/meshcore"
)

func newTestRouter() (*Registry, *Router) {
	reg := NewRegistry(30*time.Second, time.Minute, meshcore.NoOpLogger{})
	return reg, NewRouter(reg, meshcore.NoOpLogger{})
}

func TestSendDirectedMessage(t *testing.T) {
	reg, router := newTestRouter()
	reg.Register(Instance{InstanceID: "A"})
	reg.Register(Instance{InstanceID: "B"})

	_, delivered, err := router.Send("A", "B", "ping", map[string]interface{}{"x": 1}, "")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(delivered) != 1 || delivered[0] != "B" {
		t.Fatalf("expected delivered to [B], got %v", delivered)
	}

	msgs := router.Get("B")
	if len(msgs) != 1 || msgs[0].Type != "ping" {
		t.Fatalf("expected 1 pending ping message, got %+v", msgs)
	}
}

func TestSendBroadcastExcludesSource(t *testing.T) {
	reg, router := newTestRouter()
	reg.Register(Instance{InstanceID: "A"})
	reg.Register(Instance{InstanceID: "B"})
	reg.Register(Instance{InstanceID: "C"})

	_, delivered, err := router.Send("A", "", "announce", nil, "")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(delivered) != 2 {
		t.Fatalf("expected broadcast to 2 peers, got %d", len(delivered))
	}
	for _, d := range delivered {
		if d == "A" {
			t.Fatalf("broadcast must exclude source")
		}
	}
}

func TestSendToUnregisteredTargetErrors(t *testing.T) {
	reg, router := newTestRouter()
	reg.Register(Instance{InstanceID: "A"})

	_, _, err := router.Send("A", "ghost", "ping", nil, "")
	if err == nil {
		t.Fatalf("expected error sending to unregistered target")
	}
}

func TestAckRemovesMessages(t *testing.T) {
	reg, router := newTestRouter()
	reg.Register(Instance{InstanceID: "A"})
	reg.Register(Instance{InstanceID: "B"})

	id, _, _ := router.Send("A", "B", "ping", nil, "")
	router.Ack("B", []string{id})

	if msgs := router.Get("B"); len(msgs) != 0 {
		t.Fatalf("expected empty queue after ack, got %d", len(msgs))
	}
}

func TestGetMarksInFlightButDoesNotRemove(t *testing.T) {
	reg, router := newTestRouter()
	reg.Register(Instance{InstanceID: "A"})
	reg.Register(Instance{InstanceID: "B"})

	router.Send("A", "B", "ping", nil, "")
	first := router.Get("B")
	second := router.Get("B")
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("expected at-least-once redelivery until ack, got %d then %d", len(first), len(second))
	}
}
