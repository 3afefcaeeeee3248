package replication

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riftdb/riftdb/collection"
	"github.com/riftdb/riftdb/document"
	"github.com/riftdb/riftdb/replication/wire"
	"github.com/riftdb/riftdb/storage/memstore"
)

// fakeServer plays the server side of the protocol against a single
// in-process collection, so engine tests exercise push/pull/conflict
// handling without a real network transport.
type fakeServer struct {
	col *collection.Collection
}

func (s *fakeServer) Push(ctx context.Context, req wire.PushRequest) (wire.PushResponse, error) {
	cp := req.FromCheckpoint.Clone()
	var conflicts []wire.Conflict
	for name, evs := range req.CollectionChanges {
		for _, ev := range evs {
			existing, err := s.col.Get(ctx, ev.DocID)
			if err == nil && existing.Rev() != "" && ev.PreviousDocument != nil &&
				existing.Rev() != ev.PreviousDocument.Rev() {
				conflicts = append(conflicts, wire.Conflict{
					Collection:     name,
					DocID:          ev.DocID,
					ClientChange:   ev,
					ServerDocument: existing,
					ServerNodeID:   "server",
				})
				continue
			}
			if err := s.col.ApplyRemoteChange(ctx, document.ChangeEvent{
				Op: ev.Op, DocID: ev.DocID, Document: ev.Document, FromSync: true,
			}); err != nil {
				return wire.PushResponse{}, err
			}
			cp = cp.WithSeq(name, ev.Seq)
		}
	}
	return wire.PushResponse{ID: req.ID, Success: len(conflicts) == 0, Conflicts: conflicts, Checkpoint: cp}, nil
}

func (s *fakeServer) Pull(ctx context.Context, req wire.PullRequest) (wire.PullResponse, error) {
	after := req.Checkpoint.Seq("widgets")
	hist, err := s.col.History(ctx, after)
	if err != nil {
		return wire.PullResponse{}, err
	}
	cp := req.Checkpoint.Clone()
	if len(hist) > 0 {
		cp = cp.WithSeq("widgets", hist[len(hist)-1].Seq)
	}
	changes := map[string][]document.ChangeEvent{}
	if len(hist) > 0 {
		changes["widgets"] = hist
	}
	return wire.PullResponse{ID: req.ID, Changes: changes, Checkpoint: cp}, nil
}

func newBoundCollection(t *testing.T, nodeID int64) *collection.Collection {
	t.Helper()
	adapter := memstore.New(nodeID)
	store, err := adapter.GetStore("widgets")
	require.NoError(t, err)
	c, err := collection.New("widgets", store, collection.Options{NodeID: nodeID})
	require.NoError(t, err)
	return c
}

func TestEngineForceSyncPushesLocalInsertToServer(t *testing.T) {
	ctx := context.Background()

	server := newBoundCollection(t, 1)
	client := newBoundCollection(t, 2)

	_, err := client.Insert(ctx, document.Document{"id": "w1", "name": "sprocket"})
	require.NoError(t, err)

	engine := New(Config{
		NodeID:    "client-node",
		Transport: &fakeServer{col: server},
		Bindings:  []Binding{{Name: "widgets", Collection: client, Strategy: ServerWins}},
	})

	require.NoError(t, engine.ForceSync(ctx))

	got, err := server.Get(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, "sprocket", got["name"])
}

func TestEnginePullAppliesRemoteChangesLocally(t *testing.T) {
	ctx := context.Background()

	server := newBoundCollection(t, 1)
	client := newBoundCollection(t, 2)

	_, err := server.Insert(ctx, document.Document{"id": "w1", "name": "gizmo"})
	require.NoError(t, err)

	engine := New(Config{
		NodeID:    "client-node",
		Transport: &fakeServer{col: server},
		Bindings:  []Binding{{Name: "widgets", Collection: client, Strategy: ServerWins}},
	})

	require.NoError(t, engine.ForceSync(ctx))

	got, err := client.Get(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, "gizmo", got["name"])
}

func TestEngineStartStopLifecycle(t *testing.T) {
	server := newBoundCollection(t, 1)
	client := newBoundCollection(t, 2)

	engine := New(Config{
		NodeID:       "client-node",
		Transport:    &fakeServer{col: server},
		Bindings:     []Binding{{Name: "widgets", Collection: client, Strategy: ServerWins}},
		PullInterval: 10 * time.Millisecond,
	})

	engine.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	engine.Stop()

	status, _ := engine.Status()
	assert.Equal(t, StatusIdle, status)
}

func TestResolveConflictLastWriteWinsPrefersLaterUpdatedAt(t *testing.T) {
	c := wire.Conflict{
		ClientChange:   document.ChangeEvent{Document: document.Document{"updated_at": int64(200)}},
		ServerDocument: document.Document{"updated_at": int64(100)},
		ServerNodeID:   "server",
	}
	res := resolveConflict(LastWriteWins, "client", c)
	assert.False(t, res.adoptServer)
}

func TestMergeDocumentsConcatenatesAndDedupsArrays(t *testing.T) {
	client := document.Document{"updated_at": int64(100), "tags": []any{"a", "b"}}
	server := document.Document{"updated_at": int64(50), "tags": []any{"b", "c"}}
	merged := mergeDocuments(client, server)
	assert.ElementsMatch(t, []any{"a", "b", "c"}, merged["tags"])
}
