package mesh

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/meshfabric/agentmesh/meshcore"
)

// AgentMessage is one routed message.
type AgentMessage struct {
	MessageID     string                 `json:"message_id"`
	Source        string                 `json:"source"`
	Target        string                 `json:"target,omitempty"`
	Type          string                 `json:"type"`
	Payload       map[string]interface{} `json:"payload"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	inFlight      bool
}

// Router is the in-memory message queue: one ordered list per instance
// id, at-least-once delivery while the recipient remains registered.
type Router struct {
	mu       sync.Mutex
	queues   map[string][]*AgentMessage
	registry *Registry
	logger   meshcore.Logger
}

// NewRouter constructs a Router bound to a Registry, used to resolve
// broadcast fan-out targets and to check a target is still registered.
func NewRouter(registry *Registry, logger meshcore.Logger) *Router {
	if logger == nil {
		logger = meshcore.NoOpLogger{}
	}
	if scoped, ok := logger.(meshcore.ComponentAwareLogger); ok {
		logger = scoped.WithComponent("mesh/router")
	}
	return &Router{queues: make(map[string][]*AgentMessage), registry: registry, logger: logger}
}

// Send enqueues a message. If target is non-empty, one copy is
// delivered to it; otherwise the message fans out to every registered
// peer except source. Returns the generated message id and the list of
// instance ids the message was actually delivered to.
func (rt *Router) Send(source, target, msgType string, payload map[string]interface{}, correlationID string) (string, []string, error) {
	id := uuid.NewString()
	now := time.Now()

	var targets []string
	if target != "" {
		if !rt.isRegistered(target) {
			return id, nil, fmt.Errorf("%w: target %q is not registered", meshcore.ErrRecipientUnknown, target)
		}
		targets = []string{target}
	} else {
		for _, inst := range rt.registry.List() {
			if inst.InstanceID != source {
				targets = append(targets, inst.InstanceID)
			}
		}
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	delivered := make([]string, 0, len(targets))
	for _, t := range targets {
		msg := &AgentMessage{
			MessageID: id, Source: source, Target: t, Type: msgType,
			Payload: payload, CorrelationID: correlationID, CreatedAt: now,
		}
		rt.queues[t] = append(rt.queues[t], msg)
		delivered = append(delivered, t)
	}

	rt.logger.Debug("message enqueued", map[string]interface{}{
		"message_id": id, "source": source, "type": msgType, "delivered_to": len(delivered),
	})
	return id, delivered, nil
}

// Get returns the pending queue for instanceID and marks every returned
// message in-flight (they remain queued until Ack'd).
func (rt *Router) Get(instanceID string) []*AgentMessage {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	q := rt.queues[instanceID]
	out := make([]*AgentMessage, 0, len(q))
	for _, m := range q {
		m.inFlight = true
		cp := *m
		out = append(out, &cp)
	}
	return out
}

// Ack removes acknowledged messages by id from instanceID's queue.
func (rt *Router) Ack(instanceID string, ids []string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	ackSet := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		ackSet[id] = struct{}{}
	}
	q := rt.queues[instanceID]
	kept := q[:0]
	for _, m := range q {
		if _, acked := ackSet[m.MessageID]; !acked {
			kept = append(kept, m)
		}
	}
	rt.queues[instanceID] = kept
}

func (rt *Router) isRegistered(instanceID string) bool {
	for _, inst := range rt.registry.List() {
		if inst.InstanceID == instanceID {
			return true
		}
	}
	return false
}
