package document

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

// SequenceGenerator hands out the per-store, strictly increasing "seq"
// cursor assigned to every committed change event. It is backed by a
// snowflake node the same way the teacher's monorepo root uses
// bwmarrin/snowflake for clock-ordered distributed ids; on top of that we
// enforce strict monotonicity with a held lock, since snowflake only
// guarantees non-decreasing values across very fast successive calls within
// the same millisecond, and the spec requires strictly increasing.
type SequenceGenerator struct {
	mu   sync.Mutex
	node *snowflake.Node
	last int64
}

// NewSequenceGenerator builds a generator for the given node id (0-1023).
// Each collection's change feed typically owns one generator; replication
// checkpoints reuse the same node id space for the store's node identity.
func NewSequenceGenerator(nodeID int64) (*SequenceGenerator, error) {
	node, err := snowflake.NewNode(nodeID % 1024)
	if err != nil {
		return nil, err
	}
	return &SequenceGenerator{node: node}, nil
}

// Next returns a value strictly greater than every value previously
// returned by this generator.
func (g *SequenceGenerator) Next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	v := int64(g.node.Generate())
	if v <= g.last {
		v = g.last + 1
	}
	g.last = v
	return v
}
