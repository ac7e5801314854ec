package mvcc

import "github.com/frankensqlite/frankensqlite/storage"

// RebaseFunc replays one semantic write against the current committed
// state, applying it through t (typically via t.WritePage after reading
// the fresh version). mvcc has no notion of tables, keys, or B-tree cell
// layout, so the deterministic-rebase strategy is pluggable rather than
// built in; the table/index layer (package btree, via fsqlite) wires this
// once it has opened the relevant trees against t.
type RebaseFunc func(t *Transaction, op IntentOp) error

// conflict is one write-set page whose FCW check failed: some other
// transaction committed a newer version after T's snapshot was taken.
type conflict struct {
	page   storage.PageNumber
	theirs []byte
}

// mergeLadder attempts, in spec §4.5.5's strict priority order, to resolve
// every conflicting page without aborting T. On success it has rewritten
// t.writeSet so Commit can proceed as if FCW had passed outright.
func (t *Transaction) mergeLadder(conflicts []conflict) error {
	if t.engine.rebase != nil {
		if ok := t.tryDeterministicRebase(); ok {
			return nil
		}
	}
	if t.tryStructuredPatch(conflicts) {
		return nil
	}
	if t.trySparseXorDelta(conflicts) {
		return nil
	}
	return ErrFirstCommitterWins
}

// tryDeterministicRebase replays the intent log against the rebase hook.
// A scratch copy of the write set is restored if any op fails, so a
// partial rebase never leaks into the transaction's visible state.
func (t *Transaction) tryDeterministicRebase() bool {
	t.mu.Lock()
	saved := make(map[storage.PageNumber][]byte, len(t.writeSet))
	for p, d := range t.writeSet {
		saved[p] = d
	}
	ops := make([]IntentOp, len(t.intentLog))
	copy(ops, t.intentLog)
	t.mu.Unlock()

	for _, op := range ops {
		if err := t.engine.rebase(t, op); err != nil {
			t.mu.Lock()
			t.writeSet = saved
			t.mu.Unlock()
			return false
		}
	}
	return true
}

// tryStructuredPatch merges disjoint contiguous changed regions: if T and
// the conflicting committer touched different byte ranges of the same
// page (relative to the base T last read), the page can carry both
// changes. Requires T to have actually read the page before writing it;
// a blind write has no base to diff against and this strategy declines.
func (t *Transaction) tryStructuredPatch(conflicts []conflict) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	merged := make(map[storage.PageNumber][]byte, len(conflicts))
	for _, c := range conflicts {
		base, ok := t.readBase[c.page]
		if !ok {
			return false
		}
		ours := t.writeSet[c.page]
		if len(ours) != len(base) || len(c.theirs) != len(base) {
			return false
		}
		oursRegions := changedRegions(base, ours)
		theirRegions := changedRegions(base, c.theirs)
		if regionsOverlap(oursRegions, theirRegions) {
			return false
		}
		out := make([]byte, len(base))
		copy(out, base)
		for _, r := range oursRegions {
			copy(out[r.start:r.end], ours[r.start:r.end])
		}
		for _, r := range theirRegions {
			copy(out[r.start:r.end], c.theirs[r.start:r.end])
		}
		merged[c.page] = out
	}
	for page, data := range merged {
		t.writeSet[page] = data
	}
	return true
}

// trySparseXorDelta is the finer-grained fallback: byte-exact XOR of T's
// delta into the committed page, valid wherever the committer's byte
// equals the base (their patch never touched that byte). Because
// changedRegions reports byte-exact runs and regionsOverlap treats ranges
// as half-open, this accepts exactly the conflicts tryStructuredPatch
// accepts; it merges byte by byte instead of region by region.
func (t *Transaction) trySparseXorDelta(conflicts []conflict) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	merged := make(map[storage.PageNumber][]byte, len(conflicts))
	for _, c := range conflicts {
		base, ok := t.readBase[c.page]
		if !ok {
			return false
		}
		ours := t.writeSet[c.page]
		if len(ours) != len(base) || len(c.theirs) != len(base) {
			return false
		}
		out := make([]byte, len(base))
		for i := range base {
			delta := ours[i] ^ base[i]
			if delta != 0 && c.theirs[i] != base[i] {
				return false
			}
			out[i] = c.theirs[i] ^ delta
		}
		merged[c.page] = out
	}
	for page, data := range merged {
		t.writeSet[page] = data
	}
	return true
}

type byteRange struct{ start, end int }

// changedRegions returns the maximal contiguous byte ranges where a and b
// differ.
func changedRegions(a, b []byte) []byteRange {
	var out []byteRange
	i := 0
	for i < len(a) {
		if a[i] == b[i] {
			i++
			continue
		}
		start := i
		for i < len(a) && a[i] != b[i] {
			i++
		}
		out = append(out, byteRange{start, i})
	}
	return out
}

func regionsOverlap(a, b []byteRange) bool {
	for _, ra := range a {
		for _, rb := range b {
			if ra.start < rb.end && rb.start < ra.end {
				return true
			}
		}
	}
	return false
}
