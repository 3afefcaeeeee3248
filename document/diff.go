package document

import (
	"encoding/json"

	jsonpatch "github.com/evanphx/json-patch"
)

// Diff represents the difference between two document revisions in two
// shapes, mirroring the teacher's WatchEvent.Diff: a JSONPatch (RFC 6902)
// operation list for human/debug inspection, and a MergePatch (RFC 7396)
// that Patch/Unpatch actually apply, since merge patches round-trip with a
// plain inverse diff while arbitrary JSONPatch op lists do not in general.
type Diff struct {
	JSONPatch  []PatchOp `json:"jsonPatch,omitempty"`
	MergePatch []byte    `json:"mergePatch,omitempty"`
}

// PatchOp is one RFC 6902-flavored operation, included on Diff for
// observability; riftdb does not apply these directly.
type PatchOp struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value,omitempty"`
}

// DiffDocuments computes the Diff turning prev into next.
func DiffDocuments(prev, next Document) (*Diff, error) {
	prevJSON, err := json.Marshal(orEmpty(prev))
	if err != nil {
		return nil, err
	}
	nextJSON, err := json.Marshal(orEmpty(next))
	if err != nil {
		return nil, err
	}
	merge, err := jsonpatch.CreateMergePatch(prevJSON, nextJSON)
	if err != nil {
		return nil, err
	}
	return &Diff{
		JSONPatch:  diffOps(prev, next),
		MergePatch: merge,
	}, nil
}

// Patch applies a Diff's MergePatch to prev, producing next.
func Patch(prev Document, d *Diff) (Document, error) {
	if d == nil {
		return prev.Clone(), nil
	}
	prevJSON, err := json.Marshal(orEmpty(prev))
	if err != nil {
		return nil, err
	}
	patched, err := jsonpatch.MergePatch(prevJSON, d.MergePatch)
	if err != nil {
		return nil, err
	}
	var out Document
	if err := json.Unmarshal(patched, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Unpatch recovers prev from next. It takes prev itself rather than a Diff,
// computes the inverse merge patch with DiffDocuments(next, prev), and
// applies it to next; riftdb always has both sides available (the
// collection's write path keeps previous_document).
func Unpatch(next Document, prev Document) (Document, error) {
	inverse, err := DiffDocuments(next, prev)
	if err != nil {
		return nil, err
	}
	return Patch(next, inverse)
}

func orEmpty(d Document) Document {
	if d == nil {
		return Document{}
	}
	return d
}

// diffOps produces a shallow, top-level add/remove/replace op list for
// observability on Diff.JSONPatch. It does not attempt RFC 6902 array
// diffing; nested object changes are reported as a single "replace" on the
// top-level key, which is all reactive consumers need to know a key moved.
func diffOps(prev, next Document) []PatchOp {
	var ops []PatchOp
	seen := make(map[string]bool, len(next))
	for k, nv := range next {
		seen[k] = true
		pv, existed := prev[k]
		if !existed {
			ops = append(ops, PatchOp{Op: "add", Path: "/" + k, Value: nv})
			continue
		}
		if !deepEqual(pv, nv) {
			ops = append(ops, PatchOp{Op: "replace", Path: "/" + k, Value: nv})
		}
	}
	for k := range prev {
		if !seen[k] {
			ops = append(ops, PatchOp{Op: "remove", Path: "/" + k})
		}
	}
	return ops
}

func deepEqual(a, b any) bool {
	aj, err1 := json.Marshal(a)
	bj, err2 := json.Marshal(b)
	if err1 != nil || err2 != nil {
		return false
	}
	return string(aj) == string(bj)
}
