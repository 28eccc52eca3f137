package graph

import (
	"fmt"
	"time"

	"github.com/meshfabric/agentmesh/store"
)

// Resolver merges concurrent node/edge versions per a namespace's
// configured ConflictStrategy, grounded on the teacher pack's
// LWWRegister/LWWMap merge logic (SWARM's services/federation/crdt.go)
// generalized to per-node_type merge rules for property graphs.
type Resolver struct{}

// NewResolver constructs a Resolver. It is stateless.
func NewResolver() *Resolver { return &Resolver{} }

// ResolveNodes merges two concurrent Node versions under the given
// strategy, returning the merged node, whether the conflict was
// resolved (false for manual), and a detected semantic disagreement
// message (empty if none).
func (r *Resolver) ResolveNodes(local, incoming *store.Node, strategy store.ConflictStrategy) (merged *store.Node, resolved bool, semanticNote string) {
	semanticNote = detectSemanticConflict(local.Label, incoming.Label, string(local.NodeType), string(incoming.NodeType))

	switch strategy {
	case store.StrategyLastWriteWins:
		winner := local
		if incoming.UpdatedAt.After(local.UpdatedAt) {
			winner = incoming
		}
		out := cloneNodeShallow(winner)
		out.VectorClock = VectorClock(local.VectorClock).mergeWith(incoming.VectorClock)
		return out, true, semanticNote

	case store.StrategyManual:
		return cloneNodeShallow(local), false, semanticNote

	case store.StrategyVectorClock:
		fallthrough
	default:
		out := cloneNodeShallow(local)
		out.Properties = mergeProperties(local.Properties, incoming.Properties, local.NodeType, local.UpdatedAt, incoming.UpdatedAt)
		out.VectorClock = VectorClock(local.VectorClock).mergeWith(incoming.VectorClock)
		if incoming.UpdatedAt.After(local.UpdatedAt) {
			out.UpdatedAt = incoming.UpdatedAt
		}
		out.IsDeleted = local.IsDeleted || incoming.IsDeleted
		return out, true, semanticNote
	}
}

// ResolveEdges applies the same strategy rules to edges. Edges have no
// node_type-keyed merge rules, so the generic path (newer timestamp wins
// on scalar leaves, judged by created_at; arrays are unioned) is used
// uniformly.
func (r *Resolver) ResolveEdges(local, incoming *store.Edge, strategy store.ConflictStrategy) (merged *store.Edge, resolved bool) {
	switch strategy {
	case store.StrategyLastWriteWins:
		winner := local
		if incoming.CreatedAt.After(local.CreatedAt) {
			winner = incoming
		}
		out := cloneEdgeShallow(winner)
		out.VectorClock = VectorClock(local.VectorClock).mergeWith(incoming.VectorClock)
		return out, true

	case store.StrategyManual:
		return cloneEdgeShallow(local), false

	case store.StrategyVectorClock:
		fallthrough
	default:
		out := cloneEdgeShallow(local)
		out.Properties = mergeProperties(local.Properties, incoming.Properties, "", local.CreatedAt, incoming.CreatedAt)
		out.VectorClock = VectorClock(local.VectorClock).mergeWith(incoming.VectorClock)
		out.IsDeleted = local.IsDeleted || incoming.IsDeleted
		return out, true
	}
}

func cloneNodeShallow(n *store.Node) *store.Node {
	cp := *n
	return &cp
}

func cloneEdgeShallow(e *store.Edge) *store.Edge {
	cp := *e
	return &cp
}

func (vc VectorClock) mergeWith(other map[string]uint64) map[string]uint64 {
	return map[string]uint64(vc.Merge(VectorClock(other)))
}

// detectSemanticConflict flags (advisory only) disagreement on label or
// node_type; it never blocks the merge.
func detectSemanticConflict(localLabel, incomingLabel, localType, incomingType string) string {
	switch {
	case localLabel != incomingLabel && localType != incomingType:
		return "label and node_type disagree"
	case localLabel != incomingLabel:
		return "label disagrees"
	case localType != incomingType:
		return "node_type disagrees"
	default:
		return ""
	}
}

// mergeProperties implements the field-wise merge rules: recursive
// merge of JSON objects, newer-timestamp-wins for scalar leaves,
// union-deduplicate for arrays, with node_type-specific overrides.
func mergeProperties(local, incoming map[string]interface{}, nodeType string, localTime, incomingTime time.Time) map[string]interface{} {
	out := make(map[string]interface{}, len(local)+len(incoming))
	for k, v := range local {
		out[k] = v
	}

	switch nodeType {
	case "entity":
		// preserve local {id, created_by}; merge the rest below but restore
		// protected keys afterward.
	case "concept":
		for k, v := range incoming {
			out[k] = v
		}
		return out
	case "fact":
		for _, key := range []string{"evidence", "sources"} {
			out[key] = unionArrays(asSlice(local[key]), asSlice(incoming[key]))
		}
		for k, v := range incoming {
			if k == "evidence" || k == "sources" {
				continue
			}
			localVal, present := local[k]
			out[k] = mergeLeaf(localVal, present, v, localTime, incomingTime)
		}
		return out
	}

	protected := map[string]bool{}
	if nodeType == "entity" {
		protected["id"] = true
		protected["created_by"] = true
	}

	for k, v := range incoming {
		if protected[k] {
			continue
		}
		localVal, present := local[k]
		out[k] = mergeLeaf(localVal, present, v, localTime, incomingTime)
	}
	return out
}

// mergeLeaf merges a single property value. If local has no value for
// this key, incoming wins unconditionally (there is nothing to
// conflict with); otherwise objects recurse, arrays union, and scalars
// fall back to newer-timestamp-wins.
func mergeLeaf(localVal interface{}, localPresent bool, incomingVal interface{}, localTime, incomingTime time.Time) interface{} {
	if !localPresent {
		return incomingVal
	}
	localMap, localIsMap := localVal.(map[string]interface{})
	incomingMap, incomingIsMap := incomingVal.(map[string]interface{})
	if localIsMap && incomingIsMap {
		return mergeProperties(localMap, incomingMap, "", localTime, incomingTime)
	}

	localArr := asSlice(localVal)
	incomingArr := asSlice(incomingVal)
	if localArr != nil || incomingArr != nil {
		return unionArrays(localArr, incomingArr)
	}

	if incomingTime.After(localTime) {
		return incomingVal
	}
	return localVal
}

func asSlice(v interface{}) []interface{} {
	s, ok := v.([]interface{})
	if !ok {
		return nil
	}
	return s
}

func unionArrays(a, b []interface{}) []interface{} {
	seen := make(map[string]struct{}, len(a)+len(b))
	var out []interface{}
	add := func(items []interface{}) {
		for _, item := range items {
			key := valueKey(item)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, item)
		}
	}
	add(a)
	add(b)
	return out
}

func valueKey(v interface{}) string {
	return fmt.Sprintf("%T:%v", v, v)
}
