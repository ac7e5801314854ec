package mvcc

import (
	"time"

	"github.com/frankensqlite/frankensqlite/storage"
	"github.com/frankensqlite/frankensqlite/wal"
)

// CheckpointMode selects one of the four checkpoint behaviors spec §4.3
// names: Passive, Full, Restart, Truncate.
type CheckpointMode int

const (
	// CheckpointPassive copies back every WAL page not still needed by an
	// active reader's snapshot, never blocks, and never resets the log.
	CheckpointPassive CheckpointMode = iota
	// CheckpointFull waits for readers pinned behind the newest commit,
	// then copies back every page and resets the WAL (rewinding it to
	// byte 0, not truncating the file).
	CheckpointFull
	// CheckpointRestart is Full plus a guaranteed reset: once it succeeds,
	// the next writer starts appending at the front of the WAL file again.
	CheckpointRestart
	// CheckpointTruncate is Restart, but also truncates the WAL file back
	// to just its header, reclaiming disk space.
	CheckpointTruncate
)

// checkpointWaitTimeout bounds how long Full/Restart/Truncate poll for
// lagging readers to catch up before giving up and reporting an incomplete
// checkpoint, the way SQLite's own checkpointer eventually gives up and
// returns SQLITE_BUSY rather than blocking forever.
const checkpointWaitTimeout = 500 * time.Millisecond
const checkpointPollInterval = 2 * time.Millisecond

// CheckpointResult reports what a Checkpoint call did, mirroring the
// (log, checkpointed) pair sqlite3_wal_checkpoint_v2 returns.
type CheckpointResult struct {
	PagesWritten int  // pages copied from WAL into the main file
	PagesPending int  // pages left behind because a reader still needs them
	WALReset     bool // whether the WAL was rewound (Full/Restart/Truncate success)
}

// Checkpoint copies committed WAL frames back into the main database file
// (spec §4.3, §8 scenario 6). A page is only safe to copy once every active
// reader's snapshot would see the same bytes whether they came from the WAL
// or the main file directly — i.e. no snapshot still pinned behind the
// frame's committing transaction. Passive copies whatever is currently safe
// and returns immediately; Full/Restart/Truncate wait (briefly) for
// lagging readers before copying, and only reset the log once every page
// was copied.
func (e *Engine) Checkpoint(mode CheckpointMode) (CheckpointResult, error) {
	if e.log == nil {
		return CheckpointResult{WALReset: mode != CheckpointPassive}, nil
	}

	if mode != CheckpointPassive {
		e.waitForLaggingReaders()
	}

	frames := e.log.CommittedFrames()
	if len(frames) == 0 {
		return CheckpointResult{WALReset: mode != CheckpointPassive}, nil
	}

	minHWM := e.minActiveHighWaterMark()
	safe := make(map[storage.PageNumber]wal.Frame, len(frames))
	pending := make(map[storage.PageNumber]bool)
	for _, f := range frames {
		pn := storage.PageNumber(f.PageNo)
		if f.TxnID == 0 || f.TxnID <= minHWM {
			safe[pn] = f
		} else {
			pending[pn] = true
		}
	}

	for pn, f := range safe {
		data := make([]byte, len(f.Data))
		copy(data, f.Data)
		if err := e.pager.WriteBaseline(&storage.Page{No: pn, Data: data}); err != nil {
			return CheckpointResult{}, err
		}
	}

	result := CheckpointResult{PagesWritten: len(safe), PagesPending: len(pending)}
	if mode == CheckpointPassive || len(pending) > 0 {
		return result, nil
	}

	if err := e.pager.Sync(); err != nil {
		return result, err
	}
	if err := e.log.Reset(mode == CheckpointTruncate); err != nil {
		return result, err
	}
	result.WALReset = true
	return result, nil
}

// minActiveHighWaterMark returns the oldest snapshot high-water mark among
// currently active transactions, or the engine's newest allocated txn id if
// none are active — the boundary below which every active reader agrees on
// a page's content (spec §4.4 "gc_horizon"-style computation, reused here
// for checkpoint safety instead of GC reclamation).
func (e *Engine) minActiveHighWaterMark() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	min := e.coord.NextTxnID() - 1
	for _, txn := range e.active {
		if hwm := txn.snapshot.HighWaterMark; hwm < min {
			min = hwm
		}
	}
	return min
}

// waitForLaggingReaders polls, for up to checkpointWaitTimeout, until no
// active snapshot is pinned behind the newest committed transaction.
// Mirrors Full's "blocks ... until existing readers are done" without an
// unbounded wait: a reader that never advances (or never closes) causes the
// checkpoint to fall back to a partial, Passive-equivalent result rather
// than hang the caller forever.
func (e *Engine) waitForLaggingReaders() {
	deadline := time.Now().Add(checkpointWaitTimeout)
	for time.Now().Before(deadline) {
		if e.minActiveHighWaterMark() >= e.log.LatestCommittedTxnID() {
			return
		}
		time.Sleep(checkpointPollInterval)
	}
}
