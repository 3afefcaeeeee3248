// Package replication implements the multi-device replication engine
// (component J): a single background task per Engine that pushes pending
// local changes, pulls remote ones, detects and resolves conflicts, and
// retries with backoff while offline.
package replication

import (
	"context"

	"github.com/riftdb/riftdb/document"
	"github.com/riftdb/riftdb/replication/wire"
)

// Strategy picks how a push-time conflict (the client's predecessor
// revision no longer matches what the server holds) is resolved.
type Strategy string

const (
	// ServerWins discards the client's change entirely.
	ServerWins Strategy = "server-wins"
	// ClientWins overwrites the server's document with the client's.
	ClientWins Strategy = "client-wins"
	// LastWriteWins keeps whichever side has the later updated_at,
	// breaking a tie with a lexical compare of node ids so the outcome
	// is deterministic even when both sides wrote in the same millisecond.
	LastWriteWins Strategy = "last-write-wins"
	// Merge combines both documents field by field: scalars take the
	// later updated_at, arrays are concatenated and deduplicated, and
	// nested objects are merged recursively.
	Merge Strategy = "merge"
)

// Status is the engine's current synchronization state.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusSyncing  Status = "syncing"
	StatusOffline  Status = "offline"
	StatusError    Status = "error"
)

// ReplicatedCollection is the surface the engine needs from a collection;
// collection.Collection satisfies it directly.
type ReplicatedCollection interface {
	Get(ctx context.Context, id string) (document.Document, error)
	ApplyRemoteChange(ctx context.Context, ev document.ChangeEvent) error
	History(ctx context.Context, afterSeq uint64) ([]document.ChangeEvent, error)

	// Replace is used only to commit a conflict resolution that favors
	// the client (client-wins, or a merge result): it records the
	// resolved document as a new, FromSync=false local write so the next
	// push cycle carries it back to the server and convergence proceeds.
	Replace(ctx context.Context, id string, doc document.Document) (document.Document, error)
}

// Transport abstracts the wire: a push/pull round trip against a remote
// peer (server or another device). wire.Client (WebSocket) and redisbus.Bus
// (under replication/wire and replication/redisbus) provide concrete
// transports.
type Transport interface {
	Push(ctx context.Context, req wire.PushRequest) (wire.PushResponse, error)
	Pull(ctx context.Context, req wire.PullRequest) (wire.PullResponse, error)
}

// Binding attaches one local collection to its replicated name and
// conflict-resolution strategy.
type Binding struct {
	Name       string
	Collection ReplicatedCollection
	Strategy   Strategy
}
