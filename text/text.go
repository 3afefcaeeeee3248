// Package text implements the collaborative text engine (component L): a
// positional character sequence with per-peer cursors, an operation
// history, remote-operation position transformation, and undo.
package text

import (
	"context"
	"sync"
	"unicode/utf8"

	"github.com/riftdb/riftdb/document"
	"github.com/riftdb/riftdb/errs"
)

// OpKind names the kind of edit an Operation performs.
type OpKind string

const (
	OpInsert  OpKind = "insert"
	OpDelete  OpKind = "delete"
	OpReplace OpKind = "replace"
)

// Operation is one edit, local or remote, recorded in a Document's history.
type Operation struct {
	Kind      OpKind
	Position  int
	Text      string // inserted text (Insert), or replacement text (Replace)
	Removed   string // text removed (Delete), or replaced away (Replace)
	Length    int    // rune count removed
	UserID    string
	Timestamp int64
	Version   int
	FromRemote bool
	Undone    bool
}

// Document is one collaborative text attribute.
type Document struct {
	mu sync.Mutex

	id        string
	ownerUser string
	maxLength int

	runes   []rune
	history []Operation
	version int

	cursors map[string]int // userID -> rune position

	subs    map[int]chan Operation
	nextSub int
}

// Open creates a Document seeded with initialText (may be empty). maxLength
// <= 0 means unbounded.
func Open(documentID, userID string, initialText string, maxLength int) *Document {
	return &Document{
		id:        documentID,
		ownerUser: userID,
		maxLength: maxLength,
		runes:     []rune(initialText),
		cursors:   make(map[string]int),
		subs:      make(map[int]chan Operation),
	}
}

// Text returns the current sequence as a string.
func (d *Document) Text() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return string(d.runes)
}

// Version returns the strictly increasing edit counter.
func (d *Document) Version() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.version
}

// Insert inserts s at position on behalf of userID.
func (d *Document) Insert(userID string, position int, s string) (Operation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if position < 0 || position > len(d.runes) {
		return Operation{}, &errs.OutOfBoundsError{Position: position, Length: len(d.runes)}
	}
	inserted := []rune(s)
	if d.maxLength > 0 && len(d.runes)+len(inserted) > d.maxLength {
		return Operation{}, &errs.TextLengthExceededError{Attempted: len(d.runes) + len(inserted), Max: d.maxLength}
	}

	op := Operation{Kind: OpInsert, Position: position, Text: s, UserID: userID, Timestamp: document.NowMillis()}
	d.applyLocked(&op)
	return op, nil
}

// Delete removes length runes starting at position on behalf of userID.
func (d *Document) Delete(userID string, position, length int) (Operation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if position < 0 || length < 0 || position+length > len(d.runes) {
		return Operation{}, &errs.OutOfBoundsError{Position: position, Length: len(d.runes)}
	}

	op := Operation{
		Kind: OpDelete, Position: position, Length: length,
		Removed: string(d.runes[position : position+length]),
		UserID:  userID, Timestamp: document.NowMillis(),
	}
	d.applyLocked(&op)
	return op, nil
}

// Replace overwrites length runes starting at position with s.
func (d *Document) Replace(userID string, position, length int, s string) (Operation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if position < 0 || length < 0 || position+length > len(d.runes) {
		return Operation{}, &errs.OutOfBoundsError{Position: position, Length: len(d.runes)}
	}
	inserted := []rune(s)
	if d.maxLength > 0 && len(d.runes)-length+len(inserted) > d.maxLength {
		return Operation{}, &errs.TextLengthExceededError{Attempted: len(d.runes) - length + len(inserted), Max: d.maxLength}
	}

	op := Operation{
		Kind: OpReplace, Position: position, Length: length, Text: s,
		Removed: string(d.runes[position : position+length]),
		UserID:  userID, Timestamp: document.NowMillis(),
	}
	d.applyLocked(&op)
	return op, nil
}

// ApplyRemote applies an operation received from another peer, first
// shifting its position by every local operation (from another user)
// whose position lies strictly before it; a local operation at exactly
// the same position shifts it only if it orders first by (timestamp,
// user id).
func (d *Document) ApplyRemote(op Operation) (Operation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	pos := op.Position
	for _, local := range d.history {
		if local.FromRemote || local.UserID == op.UserID {
			continue
		}
		// A local op strictly before the remote op's target position
		// always shifts it, since it is already reflected in our
		// sequence but not in the base state the remote op's position
		// was computed against. A local op landing at exactly the same
		// position is concurrent with the remote op; ties are broken by
		// (timestamp, user id) so both peers order the pair identically.
		before := local.Position < pos ||
			(local.Position == pos && happenedBefore(local, op))
		if !before {
			continue
		}
		pos += shiftDelta(local)
	}

	if pos < 0 {
		pos = 0
	}
	if pos > len(d.runes) {
		pos = len(d.runes)
	}

	transformed := op
	transformed.Position = pos
	transformed.FromRemote = true

	switch transformed.Kind {
	case OpInsert:
		if err := d.boundsCheckInsert(transformed.Position, transformed.Text); err != nil {
			return Operation{}, err
		}
	case OpDelete, OpReplace:
		end := transformed.Position + transformed.Length
		if transformed.Position < 0 || end > len(d.runes) {
			// The local sequence has diverged enough that the transformed
			// range no longer exists (e.g. a concurrent delete already
			// removed it); clamp rather than fail, since a remote op
			// must always be applicable.
			end = min(end, len(d.runes))
			transformed.Length = max(0, end-transformed.Position)
			transformed.Removed = string(d.runes[transformed.Position:end])
		}
	}

	d.applyLocked(&transformed)
	return transformed, nil
}

func (d *Document) boundsCheckInsert(pos int, s string) error {
	if pos < 0 || pos > len(d.runes) {
		return &errs.OutOfBoundsError{Position: pos, Length: len(d.runes)}
	}
	if d.maxLength > 0 && len(d.runes)+utf8.RuneCountInString(s) > d.maxLength {
		return &errs.TextLengthExceededError{Attempted: len(d.runes) + utf8.RuneCountInString(s), Max: d.maxLength}
	}
	return nil
}

// happenedBefore orders two operations for transform purposes: earlier
// timestamp wins, ties broken by lexically smaller user id.
func happenedBefore(a, b Operation) bool {
	if a.Timestamp != b.Timestamp {
		return a.Timestamp < b.Timestamp
	}
	return a.UserID < b.UserID
}

func shiftDelta(op Operation) int {
	switch op.Kind {
	case OpInsert:
		return utf8.RuneCountInString(op.Text)
	case OpDelete:
		return -op.Length
	case OpReplace:
		return utf8.RuneCountInString(op.Text) - op.Length
	default:
		return 0
	}
}

// applyLocked mutates the rune sequence, bumps version, appends to
// history, shifts every tracked cursor, and broadcasts op to subscribers.
// Caller must hold d.mu.
func (d *Document) applyLocked(op *Operation) {
	switch op.Kind {
	case OpInsert:
		d.runes = spliceInsert(d.runes, op.Position, []rune(op.Text))
	case OpDelete:
		d.runes = spliceDelete(d.runes, op.Position, op.Length)
	case OpReplace:
		d.runes = spliceDelete(d.runes, op.Position, op.Length)
		d.runes = spliceInsert(d.runes, op.Position, []rune(op.Text))
	}

	d.version++
	op.Version = d.version
	d.history = append(d.history, *op)

	delta := shiftDelta(*op)
	for user, pos := range d.cursors {
		if pos > op.Position {
			shifted := pos + delta
			if shifted < op.Position {
				shifted = op.Position
			}
			d.cursors[user] = shifted
		}
	}

	d.broadcast(*op)
}

func spliceInsert(runes []rune, pos int, insert []rune) []rune {
	out := make([]rune, 0, len(runes)+len(insert))
	out = append(out, runes[:pos]...)
	out = append(out, insert...)
	out = append(out, runes[pos:]...)
	return out
}

func spliceDelete(runes []rune, pos, length int) []rune {
	out := make([]rune, 0, len(runes)-length)
	out = append(out, runes[:pos]...)
	out = append(out, runes[pos+length:]...)
	return out
}

// SetCursor records userID's local cursor position.
func (d *Document) SetCursor(userID string, position int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if position < 0 {
		position = 0
	}
	if position > len(d.runes) {
		position = len(d.runes)
	}
	d.cursors[userID] = position
}

// SetRemoteCursor records a remote peer's reported cursor position; like
// local cursors, it is shifted by subsequent local edits.
func (d *Document) SetRemoteCursor(userID string, position int) {
	d.SetCursor(userID, position)
}

// Cursor returns userID's last known cursor position.
func (d *Document) Cursor(userID string) (int, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	pos, ok := d.cursors[userID]
	return pos, ok
}

// History returns every operation applied so far, in application order.
func (d *Document) History() []Operation {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Operation, len(d.history))
	copy(out, d.history)
	return out
}

// Undo reverses userID's most recent local operation that has not already
// been undone, position-shifted by every operation applied since. Reports
// ok=false if there is no such operation (a no-op).
func (d *Document) Undo(userID string) (op Operation, ok bool, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	idx := -1
	for i := len(d.history) - 1; i >= 0; i-- {
		h := d.history[i]
		if !h.FromRemote && h.UserID == userID && !h.Undone {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Operation{}, false, nil
	}

	target := d.history[idx]
	pos := target.Position
	for i := idx + 1; i < len(d.history); i++ {
		later := d.history[i]
		if later.Position > pos {
			continue
		}
		pos += shiftDelta(later)
	}
	if pos < 0 {
		pos = 0
	}

	var inverse Operation
	switch target.Kind {
	case OpInsert:
		n := utf8.RuneCountInString(target.Text)
		if pos+n > len(d.runes) {
			n = max(0, len(d.runes)-pos)
		}
		inverse = Operation{Kind: OpDelete, Position: pos, Length: n, UserID: userID, Timestamp: document.NowMillis()}
	case OpDelete:
		inverse = Operation{Kind: OpInsert, Position: pos, Text: target.Removed, UserID: userID, Timestamp: document.NowMillis()}
	case OpReplace:
		n := utf8.RuneCountInString(target.Text)
		if pos+n > len(d.runes) {
			n = max(0, len(d.runes)-pos)
		}
		inverse = Operation{Kind: OpReplace, Position: pos, Length: n, Text: target.Removed, UserID: userID, Timestamp: document.NowMillis()}
	}

	d.history[idx].Undone = true
	d.applyLocked(&inverse)
	return inverse, true, nil
}

// Changes returns a channel of every operation applied from now on. The
// channel is closed when ctx is cancelled.
func (d *Document) Changes(ctx context.Context) <-chan Operation {
	d.mu.Lock()
	id := d.nextSub
	d.nextSub++
	ch := make(chan Operation, 32)
	d.subs[id] = ch
	d.mu.Unlock()

	go func() {
		<-ctx.Done()
		d.mu.Lock()
		delete(d.subs, id)
		close(ch)
		d.mu.Unlock()
	}()
	return ch
}

// broadcast fans op out to every live subscriber without blocking on a
// slow reader. Caller must hold d.mu.
func (d *Document) broadcast(op Operation) {
	for _, ch := range d.subs {
		select {
		case ch <- op:
		default:
		}
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
