// Package wire defines the replication protocol's JSON message envelopes
// (component J), carried over WebSocket or HTTP long-poll.
package wire

import "github.com/riftdb/riftdb/document"

// PushRequest carries one engine's pending local changes, grouped by
// collection, along with the checkpoint it last synced from.
type PushRequest struct {
	ID                string                           `json:"id"`
	CollectionChanges map[string][]document.ChangeEvent `json:"collection_changes"`
	FromCheckpoint    Checkpoint                        `json:"from_checkpoint"`
}

// Conflict describes one change the server rejected because its
// predecessor revision no longer matches the stored document.
type Conflict struct {
	Collection     string               `json:"collection"`
	DocID          string               `json:"doc_id"`
	ClientChange   document.ChangeEvent `json:"client_change"`
	ServerDocument document.Document    `json:"server_document"`
	ServerNodeID   string               `json:"server_node_id"`
}

// PushResponse answers a PushRequest.
type PushResponse struct {
	ID         string     `json:"id"`
	Success    bool       `json:"success"`
	Conflicts  []Conflict `json:"conflicts,omitempty"`
	Checkpoint Checkpoint `json:"checkpoint"`
}

// PullRequest asks for every change after checkpoint.
type PullRequest struct {
	ID         string     `json:"id"`
	Checkpoint Checkpoint `json:"checkpoint"`
}

// PullResponse answers a PullRequest. If HasMore, the client immediately
// issues another PullRequest using the returned Checkpoint.
type PullResponse struct {
	ID                string                             `json:"id"`
	Changes           map[string][]document.ChangeEvent `json:"changes"`
	Checkpoint        Checkpoint                         `json:"checkpoint"`
	HasMore           bool                               `json:"has_more"`
}

// Checkpoint is one peer's persisted sync cursor: the highest sequence
// pulled per collection, plus the identity and timestamp needed to
// reconstruct it after a restart.
type Checkpoint struct {
	ID        string            `json:"id"`
	NodeID    string            `json:"node_id"`
	Timestamp int64             `json:"ts"`
	Sequences map[string]uint64 `json:"sequences"`
}

// Clone returns a deep copy so a caller mutating its own checkpoint never
// aliases the one stored by the engine.
func (c Checkpoint) Clone() Checkpoint {
	out := c
	out.Sequences = make(map[string]uint64, len(c.Sequences))
	for k, v := range c.Sequences {
		out.Sequences[k] = v
	}
	return out
}

// Seq returns the persisted sequence for collection, or 0 if unknown.
func (c Checkpoint) Seq(collection string) uint64 {
	if c.Sequences == nil {
		return 0
	}
	return c.Sequences[collection]
}

// WithSeq returns a copy of c with collection's sequence set to seq.
func (c Checkpoint) WithSeq(collection string, seq uint64) Checkpoint {
	out := c.Clone()
	out.Sequences[collection] = seq
	return out
}

// Envelope is the outer frame every message is wrapped in on the wire, so
// a transport can dispatch on Type before decoding Payload into the
// concrete request/response type.
type Envelope struct {
	Type    string `json:"type"`
	Payload []byte `json:"payload"`
}

const (
	TypePush         = "push"
	TypePushResponse = "push_response"
	TypePull         = "pull"
	TypePullResponse = "pull_response"
)
