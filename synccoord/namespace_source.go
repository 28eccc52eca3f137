package synccoord

import (
	"context"
	"time"

	"github.com/meshfabric/agentmesh/store"
)

// StoreNamespaceSource adapts the persistence layer's sync-config table
// into the NamespaceSource the coordinator loop consumes, so enabling
// sync for a (session, graph) pair via /sync/enable is immediately
// picked up on the next cycle without restarting the process.
type StoreNamespaceSource struct {
	st store.Store
}

func NewStoreNamespaceSource(st store.Store) *StoreNamespaceSource {
	return &StoreNamespaceSource{st: st}
}

func (s *StoreNamespaceSource) SyncEnabledNamespaces(ctx context.Context) ([]Namespace, error) {
	configs, err := s.st.ListSyncEnabledNamespaces(ctx)
	if err != nil {
		return nil, err
	}
	namespaces := make([]Namespace, 0, len(configs))
	for _, c := range configs {
		namespaces = append(namespaces, Namespace{Session: c.SessionID, Graph: c.GraphName})
	}
	return namespaces, nil
}

// HasPendingChanges reports whether any changelog entry for the
// namespace's session was recorded since the last cycle. The graph
// dimension of the namespace isn't tracked at the changelog level, so
// this is a conservative over-approximation: a session with several
// graphs may trigger a sync attempt for a graph that didn't actually
// change, which is harmless since ApplySync against an unchanged peer
// state is a no-op.
func (s *StoreNamespaceSource) HasPendingChanges(ctx context.Context, ns Namespace, since time.Time) (bool, error) {
	entries, err := s.st.ChangelogSince(ctx, ns.Session, since)
	if err != nil {
		return false, err
	}
	return len(entries) > 0, nil
}
