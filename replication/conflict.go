package replication

import (
	"fmt"

	"github.com/riftdb/riftdb/document"
	"github.com/riftdb/riftdb/replication/wire"
)

// resolution describes the outcome of resolving one push conflict.
type resolution struct {
	// adoptServer is true when the server's document should simply be
	// adopted locally (server-wins, or last-write-wins favoring server).
	// When false, resolved is committed as a new local write so the next
	// push carries it back to the server.
	adoptServer bool
	resolved    document.Document
}

// resolveConflict applies strategy to one conflict. localNodeID is this
// engine's own node id, used for the last-write-wins tie-break.
func resolveConflict(strategy Strategy, localNodeID string, c wire.Conflict) resolution {
	client := c.ClientChange.Document
	server := c.ServerDocument

	switch strategy {
	case ServerWins:
		return resolution{adoptServer: true, resolved: server}

	case ClientWins:
		return resolution{resolved: client}

	case LastWriteWins:
		switch {
		case server.UpdatedAt() > client.UpdatedAt():
			return resolution{adoptServer: true, resolved: server}
		case client.UpdatedAt() > server.UpdatedAt():
			return resolution{resolved: client}
		case c.ServerNodeID < localNodeID:
			return resolution{adoptServer: true, resolved: server}
		default:
			return resolution{resolved: client}
		}

	case Merge:
		return resolution{resolved: mergeDocuments(client, server)}

	default:
		return resolution{adoptServer: true, resolved: server}
	}
}

// mergeDocuments combines client and server field by field: scalars take
// the side with the later updated_at, arrays are concatenated and
// deduplicated, and nested objects merge recursively. The merged document
// always carries the later side's id.
func mergeDocuments(client, server document.Document) document.Document {
	clientNewer := client.UpdatedAt() >= server.UpdatedAt()
	return mergeValues(client, server, clientNewer).(document.Document)
}

func mergeValues(a, b any, aNewer bool) any {
	switch av := a.(type) {
	case document.Document:
		bv, ok := b.(document.Document)
		if !ok {
			return pick(a, b, aNewer)
		}
		out := make(document.Document, len(av)+len(bv))
		for k, v := range bv {
			out[k] = v
		}
		for k, v := range av {
			if bvv, ok := bv[k]; ok {
				out[k] = mergeValues(v, bvv, aNewer)
			} else {
				out[k] = v
			}
		}
		return out

	case []any:
		bv, ok := b.([]any)
		if !ok {
			return pick(a, b, aNewer)
		}
		return dedupAppend(bv, av)

	default:
		return pick(a, b, aNewer)
	}
}

func pick(a, b any, aNewer bool) any {
	if aNewer {
		return a
	}
	return b
}

// dedupAppend concatenates base and extra, dropping any element of extra
// that already compares equal (by %v formatting) to one already present.
func dedupAppend(base, extra []any) []any {
	seen := make(map[string]struct{}, len(base))
	out := make([]any, 0, len(base)+len(extra))
	for _, v := range base {
		out = append(out, v)
		seen[fmtKey(v)] = struct{}{}
	}
	for _, v := range extra {
		key := fmtKey(v)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, v)
	}
	return out
}

func fmtKey(v any) string {
	return fmt.Sprintf("%v", v)
}
